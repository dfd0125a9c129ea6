package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "github.com/yashrajoria/pos-terminal/services/common/errors"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/repository"
)

type mockSNS struct {
	PublishFunc func(ctx context.Context, topicArn string, message []byte, attrs map[string]string) error
}

func (m *mockSNS) Publish(ctx context.Context, topicArn string, message []byte, attrs map[string]string) error {
	return m.PublishFunc(ctx, topicArn, message, attrs)
}

type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (m *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	m.msgs = append(m.msgs, msgs...)
	return m.err
}

func (m *mockWriter) Close() error { return nil }

type recordingPublisher struct {
	events []models.SettledEvent
}

func (r *recordingPublisher) PublishSettled(_ context.Context, e models.SettledEvent) error {
	r.events = append(r.events, e)
	return nil
}

func (r *recordingPublisher) Close() error { return nil }

type failingStore struct{}

func (failingStore) Claim(context.Context, string) (bool, error) { return false, errors.New("redis down") }

func TestSNSPublisher(t *testing.T) {
	var gotTopic string
	var gotAttrs map[string]string
	var gotBody models.SettledEvent
	sns := &mockSNS{PublishFunc: func(_ context.Context, topicArn string, message []byte, attrs map[string]string) error {
		gotTopic = topicArn
		gotAttrs = attrs
		return json.Unmarshal(message, &gotBody)
	}}

	p := NewSNSPublisher(sns, "arn:topic", zap.NewNop())
	err := p.PublishSettled(context.Background(), models.SettledEvent{
		Type: TypePaymentSettled, TerminalID: "T1", TransactionID: "INV-1", Method: models.MethodDigital, Amount: 7000,
	})
	require.NoError(t, err)
	assert.Equal(t, "arn:topic", gotTopic)
	assert.Equal(t, "digital", gotAttrs["method"])
	assert.Equal(t, "INV-1", gotBody.TransactionID)
}

func TestKafkaPublisher_KeysByTransaction(t *testing.T) {
	w := &mockWriter{}
	p := &KafkaPublisher{writer: w, topic: "t", logger: zap.NewNop()}

	require.NoError(t, p.PublishSettled(context.Background(), models.SettledEvent{TransactionID: "INV-2"}))
	require.Len(t, w.msgs, 1)
	assert.Equal(t, "INV-2", string(w.msgs[0].Key))

	w.err = errors.New("broker gone")
	assert.Error(t, p.PublishSettled(context.Background(), models.SettledEvent{TransactionID: "INV-3"}))
}

func TestDispatcher_OncePerTransaction(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(repository.NewMemorySettlementStore(), pub, zap.NewNop())

	ev := models.SettledEvent{TransactionID: "INV-1", Source: models.LocalSuccess}
	require.NoError(t, d.Dispatch(context.Background(), ev))

	err := d.Dispatch(context.Background(), ev)
	assert.ErrorIs(t, err, apperrors.ErrDuplicateEvent)

	require.Len(t, pub.events, 1)
	assert.Equal(t, TypePaymentSettled, pub.events[0].Type)
}

func TestDispatcher_StoreDownStillPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	d := NewDispatcher(failingStore{}, pub, zap.NewNop())

	require.NoError(t, d.Dispatch(context.Background(), models.SettledEvent{TransactionID: "INV-1"}))
	assert.Len(t, pub.events, 1)
}
