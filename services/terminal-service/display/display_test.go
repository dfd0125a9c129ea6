package display_test

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/display"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

func cartUpdate(lines ...models.DisplayLine) models.DisplayMessage {
	var totals models.CartTotals
	for _, l := range lines {
		totals.Subtotal += l.UnitPrice * int64(l.Qty)
	}
	totals.GrandTotal = totals.Subtotal
	return models.DisplayMessage{
		Type:    models.DisplayCartUpdate,
		Payload: &models.DisplayPayload{Cart: lines, CartTotals: &totals, PointsToUse: 5},
	}
}

var latte = models.DisplayLine{ProductID: "P1", Name: "Latte", Qty: 2, UnitPrice: 20000}

func TestReduce(t *testing.T) {
	s := display.Reduce(display.InitialState(), cartUpdate(latte))
	assert.Equal(t, display.ModeCart, s.Mode)
	assert.Equal(t, int64(40000), s.Totals.GrandTotal)
	assert.Equal(t, 5, s.PointsToUse)

	s = display.Reduce(s, models.DisplayMessage{
		Type:    models.DisplayPaymentQR,
		Payload: &models.DisplayPayload{Cart: []models.DisplayLine{latte}, QRString: "https://qr.example/x.png"},
	})
	assert.Equal(t, display.ModeQR, s.Mode)
	assert.Equal(t, models.QRFormImageURL, s.QRForm)

	// An empty cart snapshot racing the QR payload is ignored.
	s = display.Reduce(s, cartUpdate())
	assert.Equal(t, display.ModeQR, s.Mode)
	assert.Len(t, s.Cart, 1)

	s = display.Reduce(s, models.DisplayMessage{Type: models.DisplayPaymentSuccess})
	assert.Equal(t, display.ModeSuccess, s.Mode)
	assert.Empty(t, s.Cart)

	s = display.Reduce(s, models.DisplayMessage{Type: models.DisplayPaymentEnd})
	assert.Equal(t, display.InitialState(), s)
}

func TestReduceEmptyCartIsIdle(t *testing.T) {
	s := display.Reduce(display.InitialState(), cartUpdate(latte))
	s = display.Reduce(s, cartUpdate())
	assert.Equal(t, display.ModeIdle, s.Mode)
}

func TestReduceOpaqueQR(t *testing.T) {
	s := display.Reduce(display.InitialState(), models.DisplayMessage{
		Type:    models.DisplayPaymentQR,
		Payload: &models.DisplayPayload{QRString: "00020101021226610016ID.CO.QRIS.WWW"},
	})
	assert.Equal(t, models.QRFormOpaque, s.QRForm)
}

func TestReduceDoesNotAlias(t *testing.T) {
	msg := cartUpdate(latte)
	s := display.Reduce(display.InitialState(), msg)
	msg.Payload.Cart[0].Qty = 99
	msg.Payload.CartTotals.GrandTotal = 1
	assert.Equal(t, 2, s.Cart[0].Qty)
	assert.Equal(t, int64(40000), s.Totals.GrandTotal)
}

func TestEncodeDecodeThroughReducer(t *testing.T) {
	data, err := display.Encode(cartUpdate(latte))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"type":"CART_UPDATE"`)

	msg, err := display.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, display.Reduce(display.InitialState(), cartUpdate(latte)), display.Reduce(display.InitialState(), msg))

	_, err = display.Decode([]byte(`{"type":"REFUND"}`))
	assert.Error(t, err)
	_, err = display.Decode([]byte(`not json`))
	assert.Error(t, err)
}

func TestLocalBusReplaysLast(t *testing.T) {
	bus := display.NewLocalBus()
	defer bus.Close()
	ctx := context.Background()

	_, ok, err := bus.Last(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, bus.Publish(ctx, cartUpdate(latte)))

	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	select {
	case msg := <-sub.C():
		assert.Equal(t, models.DisplayCartUpdate, msg.Type)
	case <-time.After(time.Second):
		t.Fatal("last message not replayed")
	}
}

func TestLocalBusDropsOldest(t *testing.T) {
	bus := display.NewLocalBus()
	defer bus.Close()
	ctx := context.Background()

	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	defer sub.Close()

	for i := 1; i <= 20; i++ {
		require.NoError(t, bus.Publish(ctx, cartUpdate(models.DisplayLine{ProductID: "P1", Qty: i, UnitPrice: 1})))
	}
	require.NoError(t, bus.Publish(ctx, models.DisplayMessage{Type: models.DisplayPaymentEnd}))

	var got []models.DisplayMessage
	for len(got) < 8 {
		select {
		case msg := <-sub.C():
			got = append(got, msg)
		case <-time.After(time.Second):
			t.Fatalf("received %d messages", len(got))
		}
	}
	assert.Equal(t, 14, got[0].Payload.Cart[0].Qty)
	assert.Equal(t, models.DisplayPaymentEnd, got[7].Type)
}

func TestLocalBusSubscriptionEndsWithContext(t *testing.T) {
	bus := display.NewLocalBus()
	ctx, cancel := context.WithCancel(context.Background())

	sub, err := bus.Subscribe(ctx)
	require.NoError(t, err)
	cancel()

	assert.Eventually(t, func() bool {
		select {
		case _, ok := <-sub.C():
			return !ok
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}

func TestLocalBusClosed(t *testing.T) {
	bus := display.NewLocalBus()
	bus.Close()

	assert.ErrorIs(t, bus.Publish(context.Background(), cartUpdate()), display.ErrBusClosed)
	_, err := bus.Subscribe(context.Background())
	assert.ErrorIs(t, err, display.ErrBusClosed)
}

func TestFollower(t *testing.T) {
	bus := display.NewLocalBus()
	defer bus.Close()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var rendered atomic.Int32
	f := display.NewFollower(bus, func(display.State) { rendered.Add(1) })
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	assert.Eventually(t, func() bool {
		_ = bus.Publish(ctx, cartUpdate(latte))
		return f.State().Mode == display.ModeCart
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.Publish(ctx, models.DisplayMessage{Type: models.DisplayPaymentSuccess}))
	assert.Eventually(t, func() bool { return f.State().Mode == display.ModeSuccess }, time.Second, 5*time.Millisecond)
	assert.Positive(t, rendered.Load())

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("follower did not stop")
	}
}

func TestHubStreamsMessages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	bus := display.NewLocalBus()
	defer bus.Close()
	require.NoError(t, bus.Publish(context.Background(), cartUpdate(latte)))

	r := gin.New()
	r.GET("/display/ws", display.NewHub(bus, zap.NewNop()).Serve)
	srv := httptest.NewServer(r)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/display/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var first models.DisplayMessage
	require.NoError(t, conn.ReadJSON(&first))
	assert.Equal(t, models.DisplayCartUpdate, first.Type)

	require.NoError(t, bus.Publish(context.Background(), models.DisplayMessage{Type: models.DisplayPaymentEnd}))
	var second models.DisplayMessage
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, models.DisplayPaymentEnd, second.Type)
}
