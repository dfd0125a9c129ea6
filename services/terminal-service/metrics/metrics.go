// Package metrics holds the terminal's prometheus collectors.
package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	awspkg "github.com/yashrajoria/pos-terminal/pkg/aws"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

const namespace = "pos_terminal"

type Metrics struct {
	registry *prometheus.Registry

	PaymentsTotal     *prometheus.CounterVec
	PaymentErrors     *prometheus.CounterVec
	Transitions       *prometheus.CounterVec
	QRExpiredTotal    prometheus.Counter
	DisplayMessages   *prometheus.CounterVec
	RelayUp           *prometheus.GaugeVec
	RelayDisconnects  *prometheus.CounterVec
	RelayEvents       *prometheus.CounterVec
	CartLines         prometheus.Gauge
	SessionGrossTotal prometheus.Histogram

	cloud      CloudReporter
	terminalID string
}

// CloudReporter is satisfied by awspkg.MetricsClient.
type CloudReporter interface {
	RecordCount(ctx context.Context, metricName string, dimensions map[string]string) error
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		PaymentsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_succeeded_total",
			Help:      "Settled payments by method and confirming source.",
		}, []string{"method", "source"}),
		PaymentErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_errors_total",
			Help:      "Collaborator failures during payment by method.",
		}, []string{"method"}),
		Transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Payment state machine transitions.",
		}, []string{"from", "to"}),
		QRExpiredTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "qr_expired_total",
			Help:      "QR codes that expired before payment.",
		}),
		DisplayMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "display_messages_total",
			Help:      "Messages broadcast to customer displays.",
		}, []string{"type"}),
		RelayUp: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relay_connected",
			Help:      "1 while the payment relay is connected.",
		}, []string{"source"}),
		RelayDisconnects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_disconnects_total",
			Help:      "Payment relay connection losses.",
		}, []string{"source"}),
		RelayEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_events_total",
			Help:      "Success events received by the relay, by whether they closed a session.",
		}, []string{"source", "applied"}),
		CartLines: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "cart_lines",
			Help:      "Lines currently in the cart.",
		}),
		SessionGrossTotal: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_gross_amount",
			Help:      "Gross amount of settled sessions.",
			Buckets:   []float64{10000, 25000, 50000, 100000, 250000, 500000, 1000000},
		}),
	}
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ForwardTo mirrors payment outcomes to a CloudWatch style reporter, tagged
// with the terminal id.
func (m *Metrics) ForwardTo(r CloudReporter, terminalID string) {
	m.cloud = r
	m.terminalID = terminalID
}

func (m *Metrics) report(name string, dims map[string]string) {
	if m.cloud == nil {
		return
	}
	dims["Terminal"] = m.terminalID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.cloud.RecordCount(ctx, name, dims)
	}()
}

func (m *Metrics) RelayConnected(source string) {
	m.RelayUp.WithLabelValues(source).Set(1)
}

func (m *Metrics) RelayDisconnected(source string) {
	m.RelayUp.WithLabelValues(source).Set(0)
	m.RelayDisconnects.WithLabelValues(source).Inc()
}

func (m *Metrics) RelayEvent(source string, applied bool) {
	m.RelayEvents.WithLabelValues(source, strconv.FormatBool(applied)).Inc()
}

func (m *Metrics) PaymentSucceeded(method models.PaymentMethod, source models.OutcomeSource, gross int64) {
	m.PaymentsTotal.WithLabelValues(string(method), string(source)).Inc()
	m.SessionGrossTotal.Observe(float64(gross))
	m.report(awspkg.MetricPaymentSucceeded, map[string]string{"Method": string(method), "Source": string(source)})
}

func (m *Metrics) PaymentFailed(method models.PaymentMethod) {
	m.PaymentErrors.WithLabelValues(string(method)).Inc()
	m.report(awspkg.MetricPaymentFailed, map[string]string{"Method": string(method)})
}

func (m *Metrics) Transition(from, to models.PaymentState) {
	m.Transitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) QRExpired() {
	m.QRExpiredTotal.Inc()
	m.report(awspkg.MetricQRExpired, map[string]string{})
}

func (m *Metrics) DisplayPublished(t models.DisplayMessageType) {
	m.DisplayMessages.WithLabelValues(string(t)).Inc()
}

func (m *Metrics) CartChanged(lines int) { m.CartLines.Set(float64(lines)) }
