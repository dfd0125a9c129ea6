package controllers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/pos-terminal/services/common/errors"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/display"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/orchestrator"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/relay"
)

// --- Mock Terminal ---
type MockTerminal struct {
	mock.Mock
}

func (m *MockTerminal) snap(args mock.Arguments) (orchestrator.Snapshot, error) {
	return args.Get(0).(orchestrator.Snapshot), args.Error(1)
}

func (m *MockTerminal) Snapshot() orchestrator.Snapshot {
	return m.Called().Get(0).(orchestrator.Snapshot)
}
func (m *MockTerminal) AddUnits(p models.Product, qty int, slots []models.UnitToppings) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(p, qty, slots))
}
func (m *MockTerminal) RemoveLine(productID string) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(productID))
}
func (m *MockTerminal) ChangeQty(productID string, delta int) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(productID, delta))
}
func (m *MockTerminal) SetToppingsForUnit(line, unit int, names []string) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(line, unit, names))
}
func (m *MockTerminal) ClearCart() (orchestrator.Snapshot, error) { return m.snap(m.Called()) }
func (m *MockTerminal) LookupMember(ctx context.Context, phone string) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(ctx, phone))
}
func (m *MockTerminal) RegisterMember(ctx context.Context, phone string) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(ctx, phone))
}
func (m *MockTerminal) ClearMember() (orchestrator.Snapshot, error)    { return m.snap(m.Called()) }
func (m *MockTerminal) SetPoints(n int) (orchestrator.Snapshot, error) { return m.snap(m.Called(n)) }
func (m *MockTerminal) AddPoints(inc int) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(inc))
}
func (m *MockTerminal) ResetPoints() (orchestrator.Snapshot, error) { return m.snap(m.Called()) }
func (m *MockTerminal) PlaceOrder(ctx context.Context, d models.OrderDetails) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(ctx, d))
}
func (m *MockTerminal) Checkout(ctx context.Context) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(ctx))
}
func (m *MockTerminal) SelectMethod(ctx context.Context, method models.PaymentMethod) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(ctx, method))
}
func (m *MockTerminal) SubmitCash(ctx context.Context, tendered int64) (orchestrator.CashReceipt, error) {
	args := m.Called(ctx, tendered)
	return args.Get(0).(orchestrator.CashReceipt), args.Error(1)
}
func (m *MockTerminal) Cancel(ctx context.Context) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(ctx))
}
func (m *MockTerminal) Acknowledge() (orchestrator.Snapshot, error) { return m.snap(m.Called()) }
func (m *MockTerminal) QueryStatus(ctx context.Context) (orchestrator.Snapshot, error) {
	return m.snap(m.Called(ctx))
}
func (m *MockTerminal) SettleDetached(txID string) bool { return m.Called(txID).Bool(0) }

// --- Helpers ---

func newRouter(tc *TerminalController) *gin.Engine {
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	api := r.Group("/api/v1")
	api.GET("/state", tc.GetState)
	api.POST("/cart/items", tc.AddItem)
	api.DELETE("/cart/items/:product_id", tc.RemoveItem)
	api.PATCH("/cart/items/:product_id/qty", tc.ChangeQty)
	api.PUT("/cart/lines/:line/units/:unit", tc.SetUnitToppings)
	api.GET("/member", tc.LookupMember)
	api.PUT("/points", tc.SetPoints)
	api.POST("/checkout", tc.Checkout)
	api.POST("/payment/method", tc.SelectMethod)
	api.POST("/payment/cash", tc.SubmitCash)
	api.POST("/payment/cancel", tc.Cancel)
	api.GET("/display/state", tc.DisplayState)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req, _ = http.NewRequest(method, path, nil)
	} else {
		req, _ = http.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

// --- Tests ---

func TestGetState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mt := new(MockTerminal)
	mt.On("Snapshot").Return(orchestrator.Snapshot{State: models.StateIdle, FinalTotal: 0}).Once()
	r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

	rec := do(r, http.MethodGet, "/api/v1/state", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"idle"`)
	mt.AssertExpectations(t)
}

type fixedRelay struct {
	status relay.Status
}

func (f fixedRelay) Status() relay.Status { return f.status }

func TestGetStateIncludesRelay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mt := new(MockTerminal)
	mt.On("Snapshot").Return(orchestrator.Snapshot{State: models.StateQRDisplayed, FinalTotal: 47000}).Once()
	tc := NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()).
		WithRelay(fixedRelay{status: relay.Status{Source: "websocket", Attempts: 4, LastError: "connection reset"}})
	r := newRouter(tc)

	rec := do(r, http.MethodGet, "/api/v1/state", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	var body StateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, models.StateQRDisplayed, body.State)
	assert.EqualValues(t, 47000, body.FinalTotal)
	require.NotNil(t, body.Relay)
	assert.Equal(t, "websocket", body.Relay.Source)
	assert.False(t, body.Relay.Connected)
	assert.Equal(t, 4, body.Relay.Attempts)
	assert.Equal(t, "connection reset", body.Relay.LastError)
	mt.AssertExpectations(t)
}

func TestGetStateWithoutRelay(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mt := new(MockTerminal)
	mt.On("Snapshot").Return(orchestrator.Snapshot{State: models.StateIdle}).Once()
	r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

	rec := do(r, http.MethodGet, "/api/v1/state", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotContains(t, rec.Body.String(), `"relay"`)
}

func TestAddItem(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Success - 200 OK", func(t *testing.T) {
		mt := new(MockTerminal)
		mt.On("AddUnits", mock.MatchedBy(func(p models.Product) bool { return p.ID == "P1" && p.UnitPrice == 20000 }), 2, mock.Anything).
			Return(orchestrator.Snapshot{State: models.StateIdle, FinalTotal: 47000}, nil).Once()
		r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

		rec := do(r, http.MethodPost, "/api/v1/cart/items",
			`{"product":{"id":"P1","name":"Latte","price":20000,"tax_rates":{"pb1":1000,"ppn":2000,"service":500}},"qty":2}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"finalTotal":47000`)
		mt.AssertExpectations(t)
	})

	t.Run("Failure - Missing product id - 400 Bad Request", func(t *testing.T) {
		mt := new(MockTerminal)
		r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

		rec := do(r, http.MethodPost, "/api/v1/cart/items", `{"product":{"name":"Latte"},"qty":1}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		mt.AssertNotCalled(t, "AddUnits", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("Failure - Cart locked - 409 Conflict", func(t *testing.T) {
		mt := new(MockTerminal)
		mt.On("AddUnits", mock.Anything, 1, mock.Anything).Return(orchestrator.Snapshot{}, apperrors.ErrCartLocked).Once()
		r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

		rec := do(r, http.MethodPost, "/api/v1/cart/items", `{"product":{"id":"P1","name":"Latte"},"qty":1}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Contains(t, rec.Body.String(), `"kind":"conflict"`)
	})
}

func TestRemoveItemNotFound(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mt := new(MockTerminal)
	mt.On("RemoveLine", "P9").Return(orchestrator.Snapshot{}, apperrors.ErrLineNotFound).Once()
	r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

	rec := do(r, http.MethodDelete, "/api/v1/cart/items/P9", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
	mt.AssertExpectations(t)
}

func TestChangeQty(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mt := new(MockTerminal)
	mt.On("ChangeQty", "P1", -1).Return(orchestrator.Snapshot{}, nil).Once()
	r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

	rec := do(r, http.MethodPatch, "/api/v1/cart/items/P1/qty", `{"delta":-1}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	mt.AssertExpectations(t)
}

func TestSetUnitToppings(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Success - 200 OK", func(t *testing.T) {
		mt := new(MockTerminal)
		mt.On("SetToppingsForUnit", 0, 1, []string{"Boba"}).Return(orchestrator.Snapshot{}, nil).Once()
		r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

		rec := do(r, http.MethodPut, "/api/v1/cart/lines/0/units/1", `{"toppings":["Boba"]}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		mt.AssertExpectations(t)
	})

	t.Run("Failure - Bad index - 400 Bad Request", func(t *testing.T) {
		mt := new(MockTerminal)
		r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

		rec := do(r, http.MethodPut, "/api/v1/cart/lines/first/units/1", `{"toppings":[]}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestLookupMember(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Failure - Missing phone - 422", func(t *testing.T) {
		mt := new(MockTerminal)
		r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

		rec := do(r, http.MethodGet, "/api/v1/member", "")

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("Failure - Not found - 404", func(t *testing.T) {
		mt := new(MockTerminal)
		mt.On("LookupMember", mock.Anything, "0811").Return(orchestrator.Snapshot{}, apperrors.ErrMemberNotFound).Once()
		r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

		rec := do(r, http.MethodGet, "/api/v1/member?phone=0811", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
		mt.AssertExpectations(t)
	})
}

func TestSetPointsExceedsMax(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mt := new(MockTerminal)
	mt.On("SetPoints", 50).Return(orchestrator.Snapshot{}, apperrors.ErrPointsExceedMax).Once()
	r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

	rec := do(r, http.MethodPut, "/api/v1/points", `{"points":50}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cannot use points beyond limit")
}

func TestPaymentFlowHandlers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mt := new(MockTerminal)
	session := &models.PaymentSession{TransactionID: "INV-20260101000000000", FinalAmount: 47000}
	mt.On("Checkout", mock.Anything).Return(orchestrator.Snapshot{State: models.StateMethodSelection, Session: session}, nil).Once()
	mt.On("SelectMethod", mock.Anything, models.MethodCash).Return(orchestrator.Snapshot{State: models.StateCashPending, Session: session}, nil).Once()
	mt.On("SubmitCash", mock.Anything, int64(50000)).
		Return(orchestrator.CashReceipt{TransactionID: session.TransactionID, FinalAmount: 47000, Tendered: 50000, Change: 3000}, nil).Once()
	mt.On("Snapshot").Return(orchestrator.Snapshot{State: models.StateSucceeded}).Once()
	r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

	rec := do(r, http.MethodPost, "/api/v1/checkout", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"state":"method_selection"`)

	rec = do(r, http.MethodPost, "/api/v1/payment/method", `{"method":"cash"}`)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodPost, "/api/v1/payment/cash", `{"tendered":50000}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Receipt  orchestrator.CashReceipt `json:"receipt"`
		Terminal orchestrator.Snapshot    `json:"terminal"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(3000), body.Receipt.Change)
	assert.Equal(t, models.StateSucceeded, body.Terminal.State)
	mt.AssertExpectations(t)
}

func TestSubmitCashInsufficient(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mt := new(MockTerminal)
	mt.On("SubmitCash", mock.Anything, int64(100)).Return(orchestrator.CashReceipt{}, apperrors.ErrInsufficientTendered).Once()
	r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

	rec := do(r, http.MethodPost, "/api/v1/payment/cash", `{"tendered":100}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "Cash received is less than total")
}

func TestCancelInvalidState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	mt := new(MockTerminal)
	mt.On("Cancel", mock.Anything).Return(orchestrator.Snapshot{}, apperrors.ErrInvalidState).Once()
	r := newRouter(NewTerminalController(mt, display.NewLocalBus(), zap.NewNop()))

	rec := do(r, http.MethodPost, "/api/v1/payment/cancel", "")

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDisplayState(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := display.NewLocalBus()
	totals := models.CartTotals{Subtotal: 20000, GrandTotal: 23500}
	require.NoError(t, bus.Publish(context.Background(), models.DisplayMessage{
		Type:    models.DisplayCartUpdate,
		Payload: &models.DisplayPayload{Cart: []models.DisplayLine{{ProductID: "P1", Name: "Latte", Qty: 1}}, CartTotals: &totals},
	}))
	r := newRouter(NewTerminalController(new(MockTerminal), bus, zap.NewNop()))

	rec := do(r, http.MethodGet, "/api/v1/display/state", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"cart"`)
	assert.Contains(t, rec.Body.String(), `"grandTotal":23500`)
}

// --- Webhook ---

type stubParser struct {
	event stripe.Event
	err   error
}

func (s stubParser) ParseWebhook(*http.Request) (stripe.Event, error) { return s.event, s.err }

func TestStripeWebhook(t *testing.T) {
	gin.SetMode(gin.TestMode)

	t.Run("Completed checkout settles transaction", func(t *testing.T) {
		mt := new(MockTerminal)
		mt.On("SettleDetached", "INV-20260101000000001").Return(false).Once()
		event := stripe.Event{
			ID:   "evt_1",
			Type: stripe.EventTypeCheckoutSessionCompleted,
			Data: &stripe.EventData{Raw: json.RawMessage(`{"id":"cs_1","metadata":{"transaction_id":"INV-20260101000000001"}}`)},
		}
		wc := NewWebhookController(stubParser{event: event}, mt, zap.NewNop())
		r := gin.New()
		r.POST("/webhooks/stripe", wc.StripeWebhook)

		rec := do(r, http.MethodPost, "/webhooks/stripe", `{}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "received")
		mt.AssertExpectations(t)
	})

	t.Run("Bad signature - 400", func(t *testing.T) {
		mt := new(MockTerminal)
		wc := NewWebhookController(stubParser{err: errors.New("bad signature")}, mt, zap.NewNop())
		r := gin.New()
		r.POST("/webhooks/stripe", wc.StripeWebhook)

		rec := do(r, http.MethodPost, "/webhooks/stripe", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		mt.AssertNotCalled(t, "SettleDetached", mock.Anything)
	})

	t.Run("Other events are acknowledged", func(t *testing.T) {
		mt := new(MockTerminal)
		event := stripe.Event{ID: "evt_2", Type: "payment_intent.created", Data: &stripe.EventData{Raw: json.RawMessage(`{}`)}}
		wc := NewWebhookController(stubParser{event: event}, mt, zap.NewNop())
		r := gin.New()
		r.POST("/webhooks/stripe", wc.StripeWebhook)

		rec := do(r, http.MethodPost, "/webhooks/stripe", `{}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		mt.AssertNotCalled(t, "SettleDetached", mock.Anything)
	})
}
