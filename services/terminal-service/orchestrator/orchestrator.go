// Package orchestrator owns the terminal's cart and drives a checkout from
// method selection to settlement. It is the single writer of terminal state;
// HTTP handlers, gateway responses, QR expiry and the payment relay all go
// through its mutex.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/cart"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/clients"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/display"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/loyalty"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/pricing"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/qrtimer"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/repository"
)

// DefaultConfirmationDelay is how long the success screen stays up.
const DefaultConfirmationDelay = 3 * time.Second

const (
	effectQueueSize = 256
	effectTimeout   = 10 * time.Second
)

type OrderService interface {
	CreateOrder(ctx context.Context, req clients.OrderRequest) (string, error)
}

type PaymentService interface {
	ProcessPayment(ctx context.Context, req clients.PaymentRequest) (models.GatewayResult, error)
	ProcessCashPayment(ctx context.Context, req clients.CashPaymentRequest) error
	TransactionStatus(ctx context.Context, trxNo string) (string, error)
}

type MemberService interface {
	LookupMember(ctx context.Context, phone string) (*models.MemberAccount, error)
	RegisterMember(ctx context.Context, phone string) (*models.MemberAccount, error)
}

// CardGateway hosts debit/credit card checkout. Its answer is a redirect.
type CardGateway interface {
	CreateCheckout(ctx context.Context, transactionID string, amount int64) (models.GatewayResult, error)
}

// Navigator hands the cashier off to a gateway page.
type Navigator func(url string)

type SettlementDispatcher interface {
	Dispatch(ctx context.Context, event models.SettledEvent) error
}

// Observer is told about payment and cart activity. Implemented by the
// metrics package.
type Observer interface {
	PaymentSucceeded(method models.PaymentMethod, source models.OutcomeSource, gross int64)
	PaymentFailed(method models.PaymentMethod)
	Transition(from, to models.PaymentState)
	QRExpired()
	DisplayPublished(t models.DisplayMessageType)
	CartChanged(lines int)
}

type Config struct {
	TerminalID        string
	TellerCD          string
	QRTTL             time.Duration
	ConfirmationDelay time.Duration
	DualDisplay       bool
}

type Deps struct {
	Orders     OrderService
	Payments   PaymentService
	Members    MemberService
	Card       CardGateway
	Navigator  Navigator
	Journal    repository.PaymentJournal
	Dispatcher SettlementDispatcher
	Bus        display.Bus
	Observer   Observer
	Logger     *zap.Logger
	Clock      func() time.Time
}

type effect func(ctx context.Context)

type Orchestrator struct {
	cfg        Config
	orders     OrderService
	payments   PaymentService
	members    MemberService
	card       CardGateway
	navigate   Navigator
	journal    repository.PaymentJournal
	dispatcher SettlementDispatcher
	bus        display.Bus
	observer   Observer
	logger     *zap.Logger
	validate   *validator.Validate
	now        func() time.Time
	ids        *IDGenerator
	timer      *qrtimer.Timer

	mu           sync.Mutex
	state        models.PaymentState
	cart         cart.Cart
	loyalty      loyalty.Policy
	session      *models.PaymentSession
	cancelled    *models.PaymentSession
	order        *models.OrderDetails
	lastError    string
	lastRedirect string
	lastSettled  string
	inFlight     bool
	endTimer     *time.Timer
	endGen       uint64
	closed       bool

	effects chan effect
	wg      sync.WaitGroup
}

func New(cfg Config, deps Deps) *Orchestrator {
	if cfg.ConfirmationDelay < 0 {
		cfg.ConfirmationDelay = DefaultConfirmationDelay
	}
	if cfg.TellerCD == "" {
		cfg.TellerCD = "T1"
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Journal == nil {
		deps.Journal = repository.NoopJournal{}
	}
	if deps.Bus == nil {
		deps.Bus = display.NewLocalBus()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Navigator == nil {
		deps.Navigator = func(string) {}
	}
	if deps.Clock == nil {
		deps.Clock = time.Now
	}

	o := &Orchestrator{
		cfg:        cfg,
		orders:     deps.Orders,
		payments:   deps.Payments,
		members:    deps.Members,
		card:       deps.Card,
		navigate:   deps.Navigator,
		journal:    deps.Journal,
		dispatcher: deps.Dispatcher,
		bus:        deps.Bus,
		observer:   deps.Observer,
		logger:     deps.Logger,
		validate:   validator.New(),
		now:        deps.Clock,
		ids:        NewIDGenerator(deps.Clock),
		timer:      qrtimer.New(cfg.QRTTL),
		state:      models.StateIdle,
		effects:    make(chan effect, effectQueueSize),
	}

	o.wg.Add(1)
	go o.runEffects()
	return o
}

// Close stops timers and waits for queued side effects to finish.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	o.timer.Stop()
	if o.endTimer != nil {
		o.endTimer.Stop()
	}
	close(o.effects)
	o.mu.Unlock()

	o.wg.Wait()
}

// Flush blocks until every side effect queued so far has run.
func (o *Orchestrator) Flush() {
	done := make(chan struct{})
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.enqueueLocked(func(context.Context) { close(done) })
	o.mu.Unlock()
	<-done
}

func (o *Orchestrator) runEffects() {
	defer o.wg.Done()
	for e := range o.effects {
		ctx, cancel := context.WithTimeout(context.Background(), effectTimeout)
		e(ctx)
		cancel()
	}
}

// enqueueLocked keeps side effects in the order their transitions happened.
func (o *Orchestrator) enqueueLocked(e effect) {
	if o.closed {
		return
	}
	o.effects <- e
}

// Snapshot is a read-only view of the terminal.
type Snapshot struct {
	State              models.PaymentState    `json:"state"`
	Cart               []models.CartLine      `json:"cart"`
	DisplayCart        []models.DisplayLine   `json:"displayCart"`
	Totals             models.CartTotals      `json:"cartTotals"`
	Member             *models.MemberAccount  `json:"member,omitempty"`
	Points             loyalty.Redemption     `json:"points"`
	FinalTotal         int64                  `json:"finalTotal"`
	Session            *models.PaymentSession `json:"session,omitempty"`
	Order              *models.OrderDetails   `json:"order,omitempty"`
	QRRemainingSeconds int                    `json:"qrRemainingSeconds,omitempty"`
	RedirectURL        string                 `json:"redirectUrl,omitempty"`
	LastError          string                 `json:"lastError,omitempty"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

func (o *Orchestrator) snapshotLocked() Snapshot {
	totals := pricing.ComputeTotals(o.cart)
	s := Snapshot{
		State:       o.state,
		Cart:        o.cart.Lines(),
		DisplayCart: o.cart.DisplayLines(),
		Totals:      totals,
		Member:      o.loyalty.Member(),
		Points:      o.loyalty.Redemption(totals.GrandTotal),
		FinalTotal:  pricing.FinalTotal(totals, o.loyalty.Discount()),
		RedirectURL: o.lastRedirect,
		LastError:   o.lastError,
	}
	if o.session != nil {
		cp := *o.session
		s.Session = &cp
	}
	if o.order != nil {
		cp := *o.order
		s.Order = &cp
	}
	if o.state == models.StateQRDisplayed {
		s.QRRemainingSeconds = int(o.timer.Remaining().Round(time.Second) / time.Second)
	}
	return s
}

func (o *Orchestrator) transitionLocked(to models.PaymentState) {
	from := o.state
	if from == to {
		return
	}
	o.state = to
	if o.session != nil {
		o.session.Status = to
	}

	fields := []zap.Field{zap.String("from", string(from)), zap.String("to", string(to))}
	if o.session != nil {
		fields = append(fields, zap.String("transaction_id", o.session.TransactionID))
	}
	o.logger.Info("Payment state changed", fields...)
	o.observer.Transition(from, to)
}

// checkoutOpen reports whether a new session may start.
func (o *Orchestrator) checkoutOpen() bool {
	switch o.state {
	case models.StateIdle, models.StateExpired, models.StateCancelled:
		return true
	}
	return false
}

// cartLocked reports whether cart and member changes are refused.
func (o *Orchestrator) cartLocked() bool {
	if o.inFlight {
		return true
	}
	switch o.state {
	case models.StateCashPending, models.StateGatewayPending, models.StateQRDisplayed:
		return true
	}
	return false
}

func (o *Orchestrator) publishLocked(t models.DisplayMessageType) {
	msg := models.DisplayMessage{Type: t}
	switch t {
	case models.DisplayCartUpdate, models.DisplayPaymentQR:
		totals := pricing.ComputeTotals(o.cart)
		payload := &models.DisplayPayload{
			Cart:        o.cart.DisplayLines(),
			CartTotals:  &totals,
			PointsToUse: o.loyalty.Points(),
		}
		if t == models.DisplayPaymentQR && o.session != nil && o.session.QR != nil {
			payload.QRString = o.session.QR.Raw
		}
		msg.Payload = payload
	}

	o.observer.DisplayPublished(t)
	o.enqueueLocked(func(ctx context.Context) {
		if err := o.bus.Publish(ctx, msg); err != nil {
			o.logger.Warn("Display publish failed", zap.String("type", string(t)), zap.Error(err))
		}
	})
}

func (o *Orchestrator) journalLocked(txID string, status models.PaymentState, fields map[string]interface{}) {
	o.enqueueLocked(func(ctx context.Context) {
		if err := o.journal.UpdateStatus(ctx, txID, status, fields); err != nil {
			o.logger.Warn("Journal update failed",
				zap.String("transaction_id", txID),
				zap.String("status", string(status)),
				zap.Error(err),
			)
		}
	})
}

type nopObserver struct{}

func (nopObserver) PaymentSucceeded(models.PaymentMethod, models.OutcomeSource, int64) {}
func (nopObserver) PaymentFailed(models.PaymentMethod)                                 {}
func (nopObserver) Transition(models.PaymentState, models.PaymentState)                {}
func (nopObserver) QRExpired()                                                         {}
func (nopObserver) DisplayPublished(models.DisplayMessageType)                         {}
func (nopObserver) CartChanged(int)                                                    {}
