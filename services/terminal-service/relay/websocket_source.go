package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// WebSocketSource subscribes to the push server's namespace for one terminal
// user.
type WebSocketSource struct {
	url       string
	namespace string
	dialer    *websocket.Dialer
	header    http.Header
	logger    *zap.Logger
}

func NewWebSocketSource(rawURL, namespace string, logger *zap.Logger) *WebSocketSource {
	return &WebSocketSource{
		url:       rawURL,
		namespace: namespace,
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		header:    http.Header{},
		logger:    logger,
	}
}

func (s *WebSocketSource) Name() string { return "websocket" }

func (s *WebSocketSource) Stream(ctx context.Context, onConnected func(), onEvent func(models.PaymentEvent)) error {
	target, err := s.endpoint()
	if err != nil {
		return err
	}

	conn, resp, err := s.dialer.DialContext(ctx, target, s.header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial relay: %w (status %d)", err, resp.StatusCode)
		}
		return fmt.Errorf("dial relay: %w", err)
	}
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	onConnected()

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("read relay frame: %w", err)
		}
		if frame.Event != EventPaymentSuccess {
			continue
		}
		if frame.UserID != "" && frame.UserID != s.namespace {
			s.logger.Debug("Dropping event for another namespace", zap.String("user_id", frame.UserID))
			continue
		}
		onEvent(frame.Data)
	}
}

func (s *WebSocketSource) endpoint() (string, error) {
	u, err := url.Parse(s.url)
	if err != nil {
		return "", fmt.Errorf("invalid relay url: %w", err)
	}
	q := u.Query()
	q.Set("userId", s.namespace)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
