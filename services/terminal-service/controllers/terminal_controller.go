package controllers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/pos-terminal/services/common/errors"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/display"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/orchestrator"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/relay"
)

// Terminal is the cashier-facing surface of the orchestrator.
type Terminal interface {
	Snapshot() orchestrator.Snapshot

	AddUnits(p models.Product, qty int, slots []models.UnitToppings) (orchestrator.Snapshot, error)
	RemoveLine(productID string) (orchestrator.Snapshot, error)
	ChangeQty(productID string, delta int) (orchestrator.Snapshot, error)
	SetToppingsForUnit(lineIndex, unitIndex int, names []string) (orchestrator.Snapshot, error)
	ClearCart() (orchestrator.Snapshot, error)

	LookupMember(ctx context.Context, phone string) (orchestrator.Snapshot, error)
	RegisterMember(ctx context.Context, phone string) (orchestrator.Snapshot, error)
	ClearMember() (orchestrator.Snapshot, error)
	SetPoints(n int) (orchestrator.Snapshot, error)
	AddPoints(inc int) (orchestrator.Snapshot, error)
	ResetPoints() (orchestrator.Snapshot, error)

	PlaceOrder(ctx context.Context, details models.OrderDetails) (orchestrator.Snapshot, error)
	Checkout(ctx context.Context) (orchestrator.Snapshot, error)
	SelectMethod(ctx context.Context, method models.PaymentMethod) (orchestrator.Snapshot, error)
	SubmitCash(ctx context.Context, tendered int64) (orchestrator.CashReceipt, error)
	Cancel(ctx context.Context) (orchestrator.Snapshot, error)
	Acknowledge() (orchestrator.Snapshot, error)
	QueryStatus(ctx context.Context) (orchestrator.Snapshot, error)
	SettleDetached(txID string) bool
}

// RelayStatus reports the health of the payment confirmation relay.
type RelayStatus interface {
	Status() relay.Status
}

type TerminalController struct {
	Terminal Terminal
	Bus      display.Bus
	Relay    RelayStatus
	Logger   *zap.Logger
}

func NewTerminalController(t Terminal, bus display.Bus, logger *zap.Logger) *TerminalController {
	return &TerminalController{Terminal: t, Bus: bus, Logger: logger}
}

// WithRelay attaches the relay whose status is reported alongside the state.
func (tc *TerminalController) WithRelay(r RelayStatus) *TerminalController {
	tc.Relay = r
	return tc
}

// StateResponse is the terminal snapshot plus relay health. Relay is absent
// when no relay transport is configured.
type StateResponse struct {
	orchestrator.Snapshot
	Relay *relay.Status `json:"relay,omitempty"`
}

type addItemRequest struct {
	Product models.Product        `json:"product"`
	Qty     int                   `json:"qty"`
	Units   []models.UnitToppings `json:"units"`
}

type qtyRequest struct {
	Delta int `json:"delta" binding:"required"`
}

type toppingsRequest struct {
	Toppings []string `json:"toppings"`
}

type memberRequest struct {
	Phone string `json:"phone" binding:"required"`
}

type pointsRequest struct {
	Points int `json:"points" binding:"gte=0"`
}

type addPointsRequest struct {
	Increment int `json:"increment" binding:"required"`
}

// GetState returns the full terminal snapshot.
func (tc *TerminalController) GetState(c *gin.Context) {
	resp := StateResponse{Snapshot: tc.Terminal.Snapshot()}
	if tc.Relay != nil {
		st := tc.Relay.Status()
		resp.Relay = &st
	}
	c.JSON(http.StatusOK, resp)
}

func (tc *TerminalController) AddItem(c *gin.Context) {
	var req addItemRequest
	if !bind(c, &req) {
		return
	}
	snap, err := tc.Terminal.AddUnits(req.Product, req.Qty, req.Units)
	respond(c, snap, err)
}

func (tc *TerminalController) RemoveItem(c *gin.Context) {
	snap, err := tc.Terminal.RemoveLine(c.Param("product_id"))
	respond(c, snap, err)
}

func (tc *TerminalController) ChangeQty(c *gin.Context) {
	var req qtyRequest
	if !bind(c, &req) {
		return
	}
	snap, err := tc.Terminal.ChangeQty(c.Param("product_id"), req.Delta)
	respond(c, snap, err)
}

// SetUnitToppings replaces the toppings of one unit of one line.
func (tc *TerminalController) SetUnitToppings(c *gin.Context) {
	line, err := strconv.Atoi(c.Param("line"))
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.ErrBadRequest, err))
		return
	}
	unit, err := strconv.Atoi(c.Param("unit"))
	if err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.ErrBadRequest, err))
		return
	}
	var req toppingsRequest
	if !bind(c, &req) {
		return
	}
	snap, err := tc.Terminal.SetToppingsForUnit(line, unit, req.Toppings)
	respond(c, snap, err)
}

func (tc *TerminalController) ClearCart(c *gin.Context) {
	snap, err := tc.Terminal.ClearCart()
	respond(c, snap, err)
}

func (tc *TerminalController) LookupMember(c *gin.Context) {
	phone := c.Query("phone")
	if phone == "" {
		_ = c.Error(apperrors.ErrPhoneRequired)
		return
	}
	snap, err := tc.Terminal.LookupMember(c.Request.Context(), phone)
	respond(c, snap, err)
}

func (tc *TerminalController) RegisterMember(c *gin.Context) {
	var req memberRequest
	if !bind(c, &req) {
		return
	}
	snap, err := tc.Terminal.RegisterMember(c.Request.Context(), req.Phone)
	respond(c, snap, err)
}

func (tc *TerminalController) ClearMember(c *gin.Context) {
	snap, err := tc.Terminal.ClearMember()
	respond(c, snap, err)
}

func (tc *TerminalController) SetPoints(c *gin.Context) {
	var req pointsRequest
	if !bind(c, &req) {
		return
	}
	snap, err := tc.Terminal.SetPoints(req.Points)
	respond(c, snap, err)
}

func (tc *TerminalController) AddPoints(c *gin.Context) {
	var req addPointsRequest
	if !bind(c, &req) {
		return
	}
	snap, err := tc.Terminal.AddPoints(req.Increment)
	respond(c, snap, err)
}

func (tc *TerminalController) ResetPoints(c *gin.Context) {
	snap, err := tc.Terminal.ResetPoints()
	respond(c, snap, err)
}

// DisplayState folds the last broadcast into what a display shows right now.
func (tc *TerminalController) DisplayState(c *gin.Context) {
	state := display.InitialState()
	msg, ok, err := tc.Bus.Last(c.Request.Context())
	if err != nil {
		tc.Logger.Warn("Failed to read last display message", zap.Error(err))
		_ = c.Error(apperrors.Wrap(apperrors.ErrServiceUnavailable, err))
		return
	}
	if ok {
		state = display.Reduce(state, msg)
	}
	c.JSON(http.StatusOK, state)
}

func bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		_ = c.Error(apperrors.Wrap(apperrors.ErrBadRequest, err))
		return false
	}
	return true
}

func respond(c *gin.Context, snap orchestrator.Snapshot, err error) {
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, snap)
}
