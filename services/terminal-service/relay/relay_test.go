package relay_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	awspkg "github.com/yashrajoria/pos-terminal/pkg/aws"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/relay"
)

type recordingSink struct {
	mu       sync.Mutex
	outcomes []models.PaymentOutcome
}

func (s *recordingSink) Reconcile(o models.PaymentOutcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, o)
	return true
}

func (s *recordingSink) All() []models.PaymentOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentOutcome(nil), s.outcomes...)
}

type countingObserver struct {
	connected, disconnected, events atomic.Int32
}

func (o *countingObserver) RelayConnected(string)    { o.connected.Add(1) }
func (o *countingObserver) RelayDisconnected(string) { o.disconnected.Add(1) }
func (o *countingObserver) RelayEvent(string, bool)  { o.events.Add(1) }

func pushServer(t *testing.T, frames ...relay.Frame) (*httptest.Server, *atomic.Int32, chan string) {
	t.Helper()
	var conns atomic.Int32
	queries := make(chan string, 8)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		conns.Add(1)
		select {
		case queries <- r.URL.Query().Get("userId"):
		default:
		}
		for _, f := range frames {
			if err := ws.WriteJSON(f); err != nil {
				return
			}
		}
		// Drop the connection so the relay has to come back.
	}))
	t.Cleanup(srv.Close)
	return srv, &conns, queries
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/socket"
}

func TestWebSocketRelayDeliversSuccess(t *testing.T) {
	srv, conns, queries := pushServer(t,
		relay.Frame{Event: "payment_pending", Data: models.PaymentEvent{TransactionID: "INV-0", Status: "SUCCESS"}},
		relay.Frame{Event: relay.EventPaymentSuccess, UserID: "other", Data: models.PaymentEvent{TransactionID: "INV-X", Status: "SUCCESS"}},
		relay.Frame{Event: relay.EventPaymentSuccess, UserID: "web1", Data: models.PaymentEvent{TransactionID: "INV-1", Status: "FAILED"}},
		relay.Frame{Event: relay.EventPaymentSuccess, UserID: "web1", Data: models.PaymentEvent{SlipNo: "INV-2", Status: "success"}},
	)

	sink := &recordingSink{}
	obs := &countingObserver{}
	r := relay.New(relay.NewWebSocketSource(wsURL(srv), "web1", zap.NewNop()), sink, zap.NewNop(),
		relay.WithReconnectDelay(10*time.Millisecond), relay.WithObserver(obs))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return conns.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	assert.Equal(t, "web1", <-queries)

	outcomes := sink.All()
	require.NotEmpty(t, outcomes)
	for _, o := range outcomes {
		assert.Equal(t, models.NewRelaySuccess("INV-2"), o)
	}
	assert.GreaterOrEqual(t, obs.connected.Load(), int32(2))
	assert.GreaterOrEqual(t, obs.disconnected.Load(), int32(1))
	assert.Equal(t, int32(len(outcomes)), obs.events.Load())

	st := r.Status()
	assert.Equal(t, "websocket", st.Source)
	assert.False(t, st.Connected)
	assert.GreaterOrEqual(t, st.Attempts, 2)
}

type flakySource struct {
	calls atomic.Int32
}

func (s *flakySource) Name() string { return "flaky" }

func (s *flakySource) Stream(ctx context.Context, onConnected func(), onEvent func(models.PaymentEvent)) error {
	if s.calls.Add(1) < 3 {
		return errors.New("connection refused")
	}
	onConnected()
	onEvent(models.PaymentEvent{TrxNo: "TRX-9", Status: "SUCCESS"})
	<-ctx.Done()
	return ctx.Err()
}

func TestRelayRetriesWithFixedDelay(t *testing.T) {
	src := &flakySource{}
	sink := &recordingSink{}
	r := relay.New(src, sink, zap.NewNop(), relay.WithReconnectDelay(10*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return len(sink.All()) == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, r.Status().Connected)
	assert.Equal(t, []models.PaymentOutcome{models.NewRelaySuccess("TRX-9")}, sink.All())
	assert.Equal(t, 3, r.Status().Attempts)
	assert.Empty(t, r.Status().LastError)
	assert.False(t, r.Status().LastEventAt.IsZero())

	cancel()
	require.NoError(t, <-done)
}

func TestRelayDropsEventsWithoutReference(t *testing.T) {
	src := &scriptedSource{events: []models.PaymentEvent{{Status: "SUCCESS"}}}
	sink := &recordingSink{}
	r := relay.New(src, sink, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = r.Run(ctx) }()

	assert.Eventually(t, func() bool { return r.Status().Connected }, time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.All())
}

type scriptedSource struct {
	events []models.PaymentEvent
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Stream(ctx context.Context, onConnected func(), onEvent func(models.PaymentEvent)) error {
	for _, ev := range s.events {
		onEvent(ev)
	}
	onConnected()
	<-ctx.Done()
	return ctx.Err()
}

type fakePoller struct {
	bodies []string
}

func (p *fakePoller) StartPolling(ctx context.Context, handler awspkg.MessageHandler) error {
	for _, b := range p.bodies {
		if err := handler(ctx, b); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestSQSSourceFiltersFrames(t *testing.T) {
	poller := &fakePoller{bodies: []string{
		`not json`,
		`{"event":"payment_pending","data":{"transactionId":"INV-0","status":"SUCCESS"}}`,
		`{"event":"payment_success","userId":"other","data":{"transactionId":"INV-X","status":"SUCCESS"}}`,
		`{"event":"payment_success","userId":"web1","data":{"trx_no":"TRX-5","status":"SUCCESS"}}`,
		`{"event":"payment_success","userId":"web1","data":{"slipNo":"INV-6","status":"SUCCESS"}}`,
	}}
	src := relay.NewSQSSource(poller, "web1", zap.NewNop())
	assert.Equal(t, "sqs", src.Name())

	var got []models.PaymentEvent
	var connected bool
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := src.Stream(ctx, func() { connected = true }, func(ev models.PaymentEvent) { got = append(got, ev) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, connected)
	require.Len(t, got, 2)
	assert.Equal(t, "TRX-5", got[0].Reference())
	assert.Equal(t, "INV-6", got[1].Reference())
}

func TestWebSocketSourceDialFailure(t *testing.T) {
	src := relay.NewWebSocketSource("ws://127.0.0.1:1/socket", "web1", zap.NewNop())
	err := src.Stream(context.Background(), func() { t.Fatal("should not connect") }, func(models.PaymentEvent) {})
	assert.Error(t, err)

	bad := relay.NewWebSocketSource("://bad", "web1", zap.NewNop())
	assert.Error(t, bad.Stream(context.Background(), func() {}, func(models.PaymentEvent) {}))
}
