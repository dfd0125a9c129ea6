package loyalty

import (
	"fmt"

	apperrors "github.com/yashrajoria/pos-terminal/services/common/errors"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

const (
	// PointValue is the currency value of one point.
	PointValue = 1000
	// ReservedBalance is never spendable.
	ReservedBalance = 50
)

// QuickIncrements are the point steps offered to the cashier.
var QuickIncrements = []int{50, 100}

// LimitError carries the bound a rejected redemption ran into.
type LimitError struct {
	Max int
}

func (e *LimitError) Error() string { return fmt.Sprintf("max usable points is %d", e.Max) }

// MaxUsable is min(balance-50, floor(grandTotal/1000)), never below zero.
func MaxUsable(balance int, grandTotal int64) int {
	spendable := balance - ReservedBalance
	if spendable < 0 {
		spendable = 0
	}
	byTotal := 0
	if grandTotal > 0 {
		byTotal = int(grandTotal / PointValue)
	}
	if byTotal < spendable {
		return byTotal
	}
	return spendable
}

// Redemption is a snapshot of the current points selection.
type Redemption struct {
	PointsUsed int   `json:"pointsUsed"`
	PointValue int   `json:"pointValue"`
	MaxUsable  int   `json:"maxUsable"`
	Discount   int64 `json:"discountAmount"`
}

// Policy holds the selected member and the points they redeem on the current
// cart. It is not safe for concurrent use.
type Policy struct {
	member *models.MemberAccount
	points int
}

func (p *Policy) Member() *models.MemberAccount {
	if p.member == nil {
		return nil
	}
	m := *p.member
	return &m
}

// SetMember selects a member. Points always reset.
func (p *Policy) SetMember(m *models.MemberAccount) {
	if m == nil {
		p.member = nil
	} else {
		cp := *m
		p.member = &cp
	}
	p.points = 0
}

// ClearMember drops the member and the points with it.
func (p *Policy) ClearMember() { p.SetMember(nil) }

func (p *Policy) Points() int { return p.points }

// Discount is the currency value of the redeemed points.
func (p *Policy) Discount() int64 { return int64(p.points) * PointValue }

// Reset clears the points but keeps the member.
func (p *Policy) Reset() { p.points = 0 }

// Set redeems exactly n points against grandTotal. Zero resets.
func (p *Policy) Set(n int, grandTotal int64) error {
	if n == 0 {
		p.points = 0
		return nil
	}
	if err := p.check(n, grandTotal); err != nil {
		return err
	}
	p.points = n
	return nil
}

// Add increments the redemption by inc points.
func (p *Policy) Add(inc int, grandTotal int64) error {
	next := p.points + inc
	if err := p.check(next, grandTotal); err != nil {
		return err
	}
	p.points = next
	return nil
}

// Reconcile clamps the redemption after the cart total changed. It reports
// whether the points were lowered.
func (p *Policy) Reconcile(grandTotal int64) bool {
	if p.member == nil {
		return false
	}
	max := MaxUsable(p.member.PointBalance, grandTotal)
	if p.points > max {
		p.points = max
		return true
	}
	return false
}

// Redemption reports the current selection against grandTotal.
func (p *Policy) Redemption(grandTotal int64) Redemption {
	r := Redemption{PointsUsed: p.points, PointValue: PointValue, Discount: p.Discount()}
	if p.member != nil {
		r.MaxUsable = MaxUsable(p.member.PointBalance, grandTotal)
	}
	return r
}

func (p *Policy) check(n int, grandTotal int64) error {
	if p.member == nil {
		return apperrors.ErrNoMember
	}
	if p.member.PointBalance <= ReservedBalance {
		return apperrors.ErrBalanceTooLow
	}
	if n <= 0 {
		return apperrors.ErrPointsNonPositive
	}
	if max := MaxUsable(p.member.PointBalance, grandTotal); n > max {
		return apperrors.Wrap(apperrors.ErrPointsExceedMax, &LimitError{Max: max})
	}
	return nil
}
