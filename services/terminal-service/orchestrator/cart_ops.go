package orchestrator

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/pos-terminal/services/common/errors"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/cart"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/pricing"
)

func (o *Orchestrator) AddUnits(p models.Product, qty int, slots []models.UnitToppings) (Snapshot, error) {
	return o.mutateCart(func(c cart.Cart) (cart.Cart, error) { return c.AddUnits(p, qty, slots) })
}

func (o *Orchestrator) RemoveLine(productID string) (Snapshot, error) {
	return o.mutateCart(func(c cart.Cart) (cart.Cart, error) {
		if next := c.RemoveLine(productID); next.Len() != c.Len() {
			return next, nil
		}
		return c, apperrors.ErrLineNotFound
	})
}

func (o *Orchestrator) ChangeQty(productID string, delta int) (Snapshot, error) {
	return o.mutateCart(func(c cart.Cart) (cart.Cart, error) { return c.ChangeQty(productID, delta) })
}

func (o *Orchestrator) SetToppingsForUnit(lineIndex, unitIndex int, names []string) (Snapshot, error) {
	return o.mutateCart(func(c cart.Cart) (cart.Cart, error) {
		return c.SetToppingsForUnit(lineIndex, unitIndex, names)
	})
}

func (o *Orchestrator) ClearCart() (Snapshot, error) {
	return o.mutateCart(func(c cart.Cart) (cart.Cart, error) { return c.Clear(), nil })
}

func (o *Orchestrator) mutateCart(fn func(cart.Cart) (cart.Cart, error)) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cartLocked() {
		return o.snapshotLocked(), apperrors.ErrCartLocked
	}
	next, err := fn(o.cart)
	if err != nil {
		return o.snapshotLocked(), err
	}
	o.cart = next
	o.cartChangedLocked()
	return o.snapshotLocked(), nil
}

// cartChangedLocked re-clamps points, refreshes an open session's amounts
// and tells the displays.
func (o *Orchestrator) cartChangedLocked() {
	totals := pricing.ComputeTotals(o.cart)
	if o.loyalty.Reconcile(totals.GrandTotal) {
		o.logger.Info("Points lowered to fit cart total", zap.Int("points", o.loyalty.Points()))
	}

	if o.state == models.StateMethodSelection && o.session != nil {
		if o.cart.IsEmpty() {
			txID := o.session.TransactionID
			o.transitionLocked(models.StateIdle)
			o.journalLocked(txID, models.StateCancelled, nil)
			o.session = nil
		} else {
			o.session.GrossAmount = totals.GrandTotal
			o.session.PointsUsed = o.loyalty.Points()
			o.session.FinalAmount = pricing.FinalTotal(totals, o.loyalty.Discount())
			o.session.MemberPhone = o.memberPhoneLocked()
		}
	}

	o.observer.CartChanged(o.cart.Len())
	o.publishLocked(models.DisplayCartUpdate)
}

// LookupMember selects the member registered under a local phone number.
func (o *Orchestrator) LookupMember(ctx context.Context, phone string) (Snapshot, error) {
	return o.withMember(ctx, o.members.LookupMember, phone)
}

// RegisterMember registers a new member and selects them.
func (o *Orchestrator) RegisterMember(ctx context.Context, phone string) (Snapshot, error) {
	return o.withMember(ctx, o.members.RegisterMember, phone)
}

func (o *Orchestrator) withMember(ctx context.Context, call func(context.Context, string) (*models.MemberAccount, error), phone string) (Snapshot, error) {
	o.mu.Lock()
	if o.cartLocked() {
		defer o.mu.Unlock()
		return o.snapshotLocked(), apperrors.ErrCartLocked
	}
	o.mu.Unlock()

	m, err := call(ctx, phone)

	o.mu.Lock()
	defer o.mu.Unlock()
	if err != nil {
		if apperrors.IsKind(err, apperrors.KindNotFound) || apperrors.IsKind(err, apperrors.KindConflict) {
			o.loyalty.ClearMember()
		}
		o.logger.Warn("Member request failed", zap.Error(err))
		return o.snapshotLocked(), err
	}
	if o.cartLocked() {
		return o.snapshotLocked(), apperrors.ErrCartLocked
	}

	o.loyalty.SetMember(m)
	o.cartChangedLocked()
	return o.snapshotLocked(), nil
}

func (o *Orchestrator) ClearMember() (Snapshot, error) {
	return o.withPoints(func(int64) error {
		o.loyalty.ClearMember()
		return nil
	})
}

// SetPoints redeems exactly n points. Zero clears the redemption.
func (o *Orchestrator) SetPoints(n int) (Snapshot, error) {
	return o.withPoints(func(grand int64) error { return o.loyalty.Set(n, grand) })
}

// AddPoints adds one of the quick increments to the redemption.
func (o *Orchestrator) AddPoints(inc int) (Snapshot, error) {
	return o.withPoints(func(grand int64) error { return o.loyalty.Add(inc, grand) })
}

func (o *Orchestrator) ResetPoints() (Snapshot, error) {
	return o.withPoints(func(int64) error {
		o.loyalty.Reset()
		return nil
	})
}

func (o *Orchestrator) withPoints(fn func(grand int64) error) (Snapshot, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.cartLocked() {
		return o.snapshotLocked(), apperrors.ErrCartLocked
	}
	if err := fn(pricing.ComputeTotals(o.cart).GrandTotal); err != nil {
		return o.snapshotLocked(), err
	}
	o.cartChangedLocked()
	return o.snapshotLocked(), nil
}

func (o *Orchestrator) memberPhoneLocked() string {
	if m := o.loyalty.Member(); m != nil {
		return m.PhoneNumber
	}
	return ""
}
