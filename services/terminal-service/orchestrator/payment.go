package orchestrator

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/pos-terminal/services/common/errors"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/clients"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/pricing"
)

// CashReceipt is returned by a settled cash payment.
type CashReceipt struct {
	TransactionID string `json:"transactionId"`
	FinalAmount   int64  `json:"finalAmount"`
	Tendered      int64  `json:"tendered"`
	Change        int64  `json:"change"`
}

// Checkout opens a payment session for the current cart.
func (o *Orchestrator) Checkout(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.checkoutOpen() || o.inFlight {
		return o.snapshotLocked(), apperrors.ErrInvalidState
	}
	if o.cart.IsEmpty() {
		return o.snapshotLocked(), apperrors.ErrEmptyCart
	}
	o.openSessionLocked(o.ids.TransactionID())
	return o.snapshotLocked(), nil
}

// PlaceOrder registers a cafe order with the backend and opens the payment
// session under the same number.
func (o *Orchestrator) PlaceOrder(ctx context.Context, details models.OrderDetails) (Snapshot, error) {
	if err := o.validate.Struct(details); err != nil {
		return o.Snapshot(), apperrors.Wrap(apperrors.ErrInvalidOrder, err)
	}
	if details.Guests.Total() <= 0 {
		return o.Snapshot(), apperrors.Wrap(apperrors.ErrInvalidOrder, errors.New("at least one guest required"))
	}

	o.mu.Lock()
	if !o.checkoutOpen() || o.inFlight {
		defer o.mu.Unlock()
		return o.snapshotLocked(), apperrors.ErrInvalidState
	}
	if o.cart.IsEmpty() {
		defer o.mu.Unlock()
		return o.snapshotLocked(), apperrors.ErrEmptyCart
	}
	txID := o.ids.TransactionID()
	req := clients.OrderRequest{
		PosNo:     txID,
		OrderName: details.OrderName,
		TableCode: details.TableCode,
		Guests:    details.Guests,
		Cart:      o.cart.OrderLines(),
	}
	o.inFlight = true
	o.mu.Unlock()

	posOrderNo, err := o.orders.CreateOrder(ctx, req)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false
	if err != nil {
		o.lastError = err.Error()
		o.logger.Error("Order creation failed", zap.String("transaction_id", txID), zap.Error(err))
		return o.snapshotLocked(), err
	}
	if posOrderNo == "" {
		posOrderNo = txID
	}
	details.PosOrderNo = posOrderNo
	o.order = &details
	o.openSessionLocked(txID)
	return o.snapshotLocked(), nil
}

func (o *Orchestrator) openSessionLocked(txID string) {
	o.timer.Stop()
	o.endGen++
	o.cancelled = nil
	totals := pricing.ComputeTotals(o.cart)
	o.session = &models.PaymentSession{
		TransactionID: txID,
		GrossAmount:   totals.GrandTotal,
		FinalAmount:   pricing.FinalTotal(totals, o.loyalty.Discount()),
		PointsUsed:    o.loyalty.Points(),
		MemberPhone:   o.memberPhoneLocked(),
		Order:         o.order,
	}
	o.lastError = ""
	o.lastRedirect = ""
	o.transitionLocked(models.StateMethodSelection)

	rec := &models.PaymentRecord{
		TransactionID: txID,
		TerminalID:    o.cfg.TerminalID,
		Status:        models.StateMethodSelection,
		GrossAmount:   o.session.GrossAmount,
		PointsUsed:    o.session.PointsUsed,
		FinalAmount:   o.session.FinalAmount,
	}
	o.enqueueLocked(func(ctx context.Context) {
		if err := o.journal.Open(ctx, rec); err != nil {
			o.logger.Warn("Journal open failed", zap.String("transaction_id", txID), zap.Error(err))
		}
	})
}

// SelectMethod routes the open session to cash, card or the digital gateway.
func (o *Orchestrator) SelectMethod(ctx context.Context, method models.PaymentMethod) (Snapshot, error) {
	o.mu.Lock()
	if o.state != models.StateMethodSelection || o.session == nil {
		defer o.mu.Unlock()
		return o.snapshotLocked(), apperrors.ErrInvalidState
	}
	if !method.Valid() {
		defer o.mu.Unlock()
		return o.snapshotLocked(), apperrors.ErrUnknownMethod
	}

	s := o.session
	txID := s.TransactionID
	o.lastError = ""
	s.LastError = ""

	switch method {
	case models.MethodCash:
		defer o.mu.Unlock()
		s.Method = method
		o.transitionLocked(models.StateCashPending)
		o.journalLocked(txID, models.StateCashPending, map[string]interface{}{"method": method})
		return o.snapshotLocked(), nil

	case models.MethodDebit:
		if o.card == nil {
			defer o.mu.Unlock()
			return o.snapshotLocked(), apperrors.ErrMethodUnavailable
		}
		s.Method = method
		amount := s.FinalAmount
		o.transitionLocked(models.StateGatewayPending)
		o.journalLocked(txID, models.StateGatewayPending, map[string]interface{}{"method": method})
		o.mu.Unlock()

		res, err := o.card.CreateCheckout(ctx, txID, amount)
		return o.applyGatewayResult(txID, method, res, err)

	default:
		s.Method = method
		req := clients.PaymentRequest{
			SlipNo:      txID,
			Cart:        o.cart.OrderLines(),
			MemberPhone: s.MemberPhone,
			PointsUsed:  s.PointsUsed,
			FinalTotal:  s.FinalAmount,
			DualDisplay: o.cfg.DualDisplay,
		}
		if o.order != nil {
			g := o.order.Guests
			req.Guests = &g
		}
		o.transitionLocked(models.StateGatewayPending)
		o.journalLocked(txID, models.StateGatewayPending, map[string]interface{}{"method": method})
		o.mu.Unlock()

		res, err := o.payments.ProcessPayment(ctx, req)
		return o.applyGatewayResult(txID, method, res, err)
	}
}

func (o *Orchestrator) applyGatewayResult(txID string, method models.PaymentMethod, res models.GatewayResult, err error) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil || o.session.TransactionID != txID || o.state != models.StateGatewayPending {
		o.logger.Info("Discarding gateway response for closed session",
			zap.String("transaction_id", txID),
			zap.String("state", string(o.state)),
		)
		return o.snapshotLocked(), nil
	}

	if err != nil {
		o.failLocked(method, err)
		return o.snapshotLocked(), err
	}

	switch res.Kind {
	case models.GatewayQR:
		o.showQRLocked(res)

	case models.GatewayRedirect:
		o.redirectLocked(res)

	default:
		if res.TrxNo != "" {
			o.session.TrxNo = res.TrxNo
		}
		o.succeedLocked(models.LocalSuccess)
	}
	return o.snapshotLocked(), nil
}

// failLocked reverts to method selection under the same transaction id.
func (o *Orchestrator) failLocked(method models.PaymentMethod, err error) {
	txID := o.session.TransactionID
	o.lastError = err.Error()
	o.session.LastError = o.lastError
	o.logger.Error("Payment request failed",
		zap.String("transaction_id", txID),
		zap.String("method", string(method)),
		zap.Error(err),
	)
	o.observer.PaymentFailed(method)
	o.transitionLocked(models.StateMethodSelection)
	o.journalLocked(txID, models.StateMethodSelection, nil)
}

func (o *Orchestrator) showQRLocked(res models.GatewayResult) {
	s := o.session
	txID := s.TransactionID
	s.QR = res.QR
	s.TrxNo = res.TrxNo

	deadline := o.timer.Start(func() { o.expire(txID) })
	s.QRExpiryDeadline = &deadline
	o.transitionLocked(models.StateQRDisplayed)

	fields := map[string]interface{}{}
	if res.TrxNo != "" {
		trx := res.TrxNo
		fields["trx_no"] = &trx
	}
	o.journalLocked(txID, models.StateQRDisplayed, fields)
	o.publishLocked(models.DisplayPaymentQR)
}

// redirectLocked hands the cashier to the gateway page. The session is
// abandoned locally; settlement arrives later through the webhook.
func (o *Orchestrator) redirectLocked(res models.GatewayResult) {
	s := o.session
	txID := s.TransactionID
	s.RedirectURL = res.RedirectURL
	s.TrxNo = res.TrxNo
	o.transitionLocked(models.StateRedirected)

	url := res.RedirectURL
	fields := map[string]interface{}{"redirect_url": &url}
	if res.TrxNo != "" {
		trx := res.TrxNo
		fields["trx_no"] = &trx
	}
	o.journalLocked(txID, models.StateRedirected, fields)
	o.enqueueLocked(func(context.Context) { o.navigate(url) })

	o.lastRedirect = url
	o.cart = o.cart.Clear()
	o.loyalty.ClearMember()
	o.order = nil
	o.transitionLocked(models.StateIdle)
	o.session = nil
	o.observer.CartChanged(0)
	o.publishLocked(models.DisplayCartUpdate)
}

// SubmitCash settles the cash session once tendered covers the total.
func (o *Orchestrator) SubmitCash(ctx context.Context, tendered int64) (CashReceipt, error) {
	o.mu.Lock()
	if o.state != models.StateCashPending || o.session == nil || o.inFlight {
		o.mu.Unlock()
		return CashReceipt{}, apperrors.ErrInvalidState
	}
	s := o.session
	if tendered < s.FinalAmount {
		o.mu.Unlock()
		return CashReceipt{}, apperrors.ErrInsufficientTendered
	}

	txID := s.TransactionID
	receipt := CashReceipt{
		TransactionID: txID,
		FinalAmount:   s.FinalAmount,
		Tendered:      tendered,
		Change:        tendered - s.FinalAmount,
	}
	req := clients.CashPaymentRequest{
		SlipNo:        txID,
		Tendered:      tendered,
		TransNoTeller: o.ids.TellerTransNo(o.cfg.TellerCD),
		Cart:          o.cart.OrderLines(),
		MemberPhone:   s.MemberPhone,
		PointsUsed:    s.PointsUsed,
	}
	if o.order != nil {
		g := o.order.Guests
		req.Guests = &g
	}
	o.inFlight = true
	o.mu.Unlock()

	err := o.payments.ProcessCashPayment(ctx, req)

	o.mu.Lock()
	defer o.mu.Unlock()
	o.inFlight = false

	if o.session == nil || o.session.TransactionID != txID || o.state != models.StateCashPending {
		if o.lastSettled == txID {
			return receipt, nil
		}
		return receipt, apperrors.ErrInvalidState
	}
	if err != nil {
		o.failLocked(models.MethodCash, err)
		return CashReceipt{}, err
	}
	o.succeedLocked(models.LocalSuccess)
	return receipt, nil
}

// Reconcile applies a success signal. The first success for the open
// session wins. A QR session the cashier cancelled still settles until a
// new session replaces it, since the customer may already have paid.
// Duplicates, expired sessions and unknown ids return false.
func (o *Orchestrator) Reconcile(outcome models.PaymentOutcome) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.session == nil && o.state == models.StateIdle && o.cancelled != nil && o.cancelled.Matches(outcome.TransactionID) {
		o.logger.Info("Settling cancelled session",
			zap.String("transaction_id", o.cancelled.TransactionID),
			zap.String("source", string(outcome.Source)),
		)
		o.session = o.cancelled
		o.cancelled = nil
		o.succeedLocked(outcome.Source)
		return true
	}

	if o.session == nil || !o.session.Matches(outcome.TransactionID) {
		o.logger.Debug("Discarding payment outcome for unknown session",
			zap.String("transaction_id", outcome.TransactionID),
			zap.String("source", string(outcome.Source)),
		)
		return false
	}

	switch o.state {
	case models.StateCashPending, models.StateGatewayPending, models.StateQRDisplayed, models.StateCancelled:
		o.succeedLocked(outcome.Source)
		return true
	}

	o.logger.Info("Discarding payment outcome for closed session",
		zap.String("transaction_id", outcome.TransactionID),
		zap.String("state", string(o.state)),
	)
	return false
}

func (o *Orchestrator) succeedLocked(source models.OutcomeSource) {
	s := o.session
	txID := s.TransactionID
	now := o.now()

	o.timer.Stop()
	o.transitionLocked(models.StateSucceeded)
	o.lastSettled = txID
	o.lastError = ""

	o.enqueueLocked(func(ctx context.Context) {
		if err := o.journal.MarkSettled(ctx, txID, source, now); err != nil {
			o.logger.Warn("Journal settle failed", zap.String("transaction_id", txID), zap.Error(err))
		}
	})
	o.observer.PaymentSucceeded(s.Method, source, s.GrossAmount)
	o.logger.Info("Payment succeeded",
		zap.String("transaction_id", txID),
		zap.String("method", string(s.Method)),
		zap.String("source", string(source)),
		zap.Int64("final_amount", s.FinalAmount),
	)

	event := models.SettledEvent{
		TerminalID:    o.cfg.TerminalID,
		TransactionID: txID,
		Method:        s.Method,
		Source:        source,
		Amount:        s.FinalAmount,
		PointsUsed:    s.PointsUsed,
		Timestamp:     now.UTC(),
	}

	o.cart = o.cart.Clear()
	o.loyalty.ClearMember()
	o.order = nil
	o.session = nil
	o.cancelled = nil
	o.observer.CartChanged(0)

	o.publishLocked(models.DisplayPaymentSuccess)
	o.dispatchLocked(event)
	o.scheduleEndLocked()
}

func (o *Orchestrator) dispatchLocked(event models.SettledEvent) {
	if o.dispatcher == nil {
		return
	}
	o.enqueueLocked(func(ctx context.Context) {
		err := o.dispatcher.Dispatch(ctx, event)
		if err != nil && !apperrors.IsKind(err, apperrors.KindDuplicate) {
			o.logger.Warn("Settled event dispatch failed", zap.String("transaction_id", event.TransactionID), zap.Error(err))
		}
	})
}

func (o *Orchestrator) scheduleEndLocked() {
	o.afterConfirmationLocked(o.finishSuccess)
}

func (o *Orchestrator) afterConfirmationLocked(fn func(gen uint64)) {
	if o.endTimer != nil {
		o.endTimer.Stop()
	}
	o.endGen++
	gen := o.endGen
	o.endTimer = time.AfterFunc(o.cfg.ConfirmationDelay, func() { fn(gen) })
}

// finishCancel returns a cancelled session to Idle once the cashier has
// seen the confirmation. The cart stays for another attempt.
func (o *Orchestrator) finishCancel(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.endGen || o.state != models.StateCancelled || o.closed {
		return
	}
	o.leaveCancelledLocked()
}

func (o *Orchestrator) leaveCancelledLocked() {
	o.cancelled = o.session
	o.session = nil
	o.lastError = ""
	o.transitionLocked(models.StateIdle)
}

func (o *Orchestrator) finishSuccess(gen uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if gen != o.endGen || o.state != models.StateSucceeded || o.closed {
		return
	}
	o.transitionLocked(models.StateIdle)
	o.publishLocked(models.DisplayPaymentEnd)
	if !o.cart.IsEmpty() {
		o.publishLocked(models.DisplayCartUpdate)
	}
}

// expire is the QR timer callback for txID.
func (o *Orchestrator) expire(txID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.session == nil || o.session.TransactionID != txID || o.state != models.StateQRDisplayed {
		return
	}

	o.lastError = "QR code expired"
	o.session.LastError = o.lastError
	o.transitionLocked(models.StateExpired)
	o.journalLocked(txID, models.StateExpired, nil)
	o.observer.QRExpired()
	o.logger.Warn("QR code expired", zap.String("transaction_id", txID))

	o.publishLocked(models.DisplayPaymentEnd)
	o.publishLocked(models.DisplayCartUpdate)
}

// Cancel backs out of the open session. It is refused while a gateway
// request is outstanding.
func (o *Orchestrator) Cancel(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.inFlight || o.session == nil {
		return o.snapshotLocked(), apperrors.ErrInvalidState
	}
	txID := o.session.TransactionID

	switch o.state {
	case models.StateMethodSelection, models.StateCashPending:
		o.journalLocked(txID, models.StateCancelled, nil)
		o.transitionLocked(models.StateIdle)
		o.session = nil
		o.lastError = ""

	case models.StateQRDisplayed:
		o.timer.Stop()
		o.transitionLocked(models.StateCancelled)
		o.session.QR = nil
		o.session.QRExpiryDeadline = nil
		o.journalLocked(txID, models.StateCancelled, nil)
		o.publishLocked(models.DisplayPaymentEnd)
		o.publishLocked(models.DisplayCartUpdate)
		o.afterConfirmationLocked(o.finishCancel)

	default:
		return o.snapshotLocked(), apperrors.ErrInvalidState
	}
	return o.snapshotLocked(), nil
}

// Acknowledge dismisses an expired or cancelled session.
func (o *Orchestrator) Acknowledge() (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	switch o.state {
	case models.StateExpired:
		o.transitionLocked(models.StateIdle)
		o.session = nil
		o.lastError = ""
		return o.snapshotLocked(), nil
	case models.StateCancelled:
		o.endGen++
		o.leaveCancelledLocked()
		return o.snapshotLocked(), nil
	}
	return o.snapshotLocked(), apperrors.ErrInvalidState
}

// QueryStatus asks the backend whether the displayed QR was paid.
func (o *Orchestrator) QueryStatus(ctx context.Context) (Snapshot, error) {
	o.mu.Lock()
	if o.session == nil || (o.state != models.StateQRDisplayed && o.state != models.StateGatewayPending) {
		defer o.mu.Unlock()
		return o.snapshotLocked(), apperrors.ErrInvalidState
	}
	txID := o.session.TransactionID
	ref := o.session.TrxNo
	if ref == "" {
		ref = txID
	}
	o.mu.Unlock()

	status, err := o.payments.TransactionStatus(ctx, ref)
	if err != nil {
		o.mu.Lock()
		defer o.mu.Unlock()
		o.lastError = err.Error()
		o.logger.Warn("Status query failed", zap.String("transaction_id", txID), zap.Error(err))
		return o.snapshotLocked(), err
	}

	o.logger.Info("Status query answered", zap.String("transaction_id", txID), zap.String("status", status))
	if strings.EqualFold(status, models.PaymentEventStatusSuccess) {
		o.Reconcile(models.NewLocalSuccess(txID))
	}
	return o.Snapshot(), nil
}

// SettleDetached records settlement of a session that was already handed
// off, such as a Stripe checkout. Returns true if an open session closed.
func (o *Orchestrator) SettleDetached(txID string) bool {
	if o.Reconcile(models.NewRelaySuccess(txID)) {
		return true
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	o.enqueueLocked(func(ctx context.Context) {
		if err := o.journal.MarkSettled(ctx, txID, models.RelaySuccess, now); err != nil {
			o.logger.Warn("Journal settle failed", zap.String("transaction_id", txID), zap.Error(err))
			return
		}
		if o.dispatcher == nil {
			return
		}
		event := models.SettledEvent{
			TerminalID:    o.cfg.TerminalID,
			TransactionID: txID,
			Source:        models.RelaySuccess,
			Timestamp:     now.UTC(),
		}
		if rec, err := o.journal.FindByTransactionID(ctx, txID); err == nil {
			event.Method = rec.Method
			event.Amount = rec.FinalAmount
			event.PointsUsed = rec.PointsUsed
		}
		if err := o.dispatcher.Dispatch(ctx, event); err != nil && !apperrors.IsKind(err, apperrors.KindDuplicate) {
			o.logger.Warn("Settled event dispatch failed", zap.String("transaction_id", txID), zap.Error(err))
		}
	})
	return false
}
