package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Relay transports.
const (
	RelayWebSocket = "websocket"
	RelaySQS       = "sqs"
	RelayNone      = "none"
)

// Event sinks.
const (
	SinkSNS   = "sns"
	SinkKafka = "kafka"
	SinkNone  = "none"
)

// Identity is sent with every backend request.
type Identity struct {
	TerminalID string
	UnitCD     string
	CompanyCD  string
	BranchCD   string
	TellerCD   string
}

type Config struct {
	Port           string
	Env            string
	AllowedOrigins string

	Identity Identity

	POSAPIURL     string
	POSAPITimeout time.Duration

	RelayTransport      string
	RelayURL            string
	RelayReconnectDelay time.Duration
	RelaySQSQueueURL    string

	QRTTL             time.Duration
	ConfirmationDelay time.Duration

	RedisURL       string
	DisplayLastTTL time.Duration

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	EventSink          string
	PaymentSNSTopicARN string
	KafkaBrokers       []string
	KafkaTopic         string

	StripeAPIKey      string
	StripeSecretName  string
	// StripeSecretField selects a key when the named secret is a JSON object.
	StripeSecretField string
	StripeWebhookKey  string
	StripeSuccessURL  string
	StripeCancelURL   string
	StripeCurrency    string
}

// JournalEnabled reports whether a postgres journal is configured.
func (c *Config) JournalEnabled() bool { return c.PostgresHost != "" }

// StripeEnabled reports whether debit can be routed to Stripe Checkout.
func (c *Config) StripeEnabled() bool { return c.StripeAPIKey != "" || c.StripeSecretName != "" }

// DSN is the postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
		c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

// Load reads configuration from the environment, after an optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Port:           getEnv("PORT", "8090"),
		Env:            getEnv("APP_ENV", "development"),
		AllowedOrigins: getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		Identity: Identity{
			TerminalID: getEnv("TERMINAL_ID", "T1"),
			UnitCD:     os.Getenv("UNIT_CD"),
			CompanyCD:  os.Getenv("COMPANY_CD"),
			BranchCD:   os.Getenv("BRANCH_CD"),
			TellerCD:   getEnv("TELLER_CD", "T1"),
		},
		POSAPIURL:        strings.TrimRight(os.Getenv("POS_API_URL"), "/"),
		RelayTransport:   strings.ToLower(getEnv("RELAY_TRANSPORT", RelayWebSocket)),
		RelayURL:         os.Getenv("RELAY_URL"),
		RelaySQSQueueURL: os.Getenv("RELAY_SQS_QUEUE_URL"),
		RedisURL:         os.Getenv("REDIS_URL"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Jakarta"),

		EventSink:          strings.ToLower(getEnv("EVENT_SINK", SinkNone)),
		PaymentSNSTopicARN: os.Getenv("PAYMENT_SNS_TOPIC_ARN"),
		KafkaBrokers:       splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
		KafkaTopic:         getEnv("KAFKA_TOPIC", "pos-payment-events"),

		StripeAPIKey:      os.Getenv("STRIPE_API_KEY"),
		StripeSecretName:  os.Getenv("STRIPE_SECRET_NAME"),
		StripeSecretField: os.Getenv("STRIPE_SECRET_FIELD"),
		StripeWebhookKey:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		StripeSuccessURL:  getEnv("STRIPE_SUCCESS_URL", "http://localhost:3000/payment/success"),
		StripeCancelURL:   getEnv("STRIPE_CANCEL_URL", "http://localhost:3000/payment/cancel"),
		StripeCurrency:    getEnv("STRIPE_CURRENCY", "idr"),
	}

	var err error
	durations := []struct {
		key      string
		fallback time.Duration
		dst      *time.Duration
	}{
		{"POS_API_TIMEOUT", 15 * time.Second, &cfg.POSAPITimeout},
		{"RELAY_RECONNECT_DELAY", 3 * time.Second, &cfg.RelayReconnectDelay},
		{"QR_TTL", 300 * time.Second, &cfg.QRTTL},
		{"CONFIRMATION_DELAY", 3 * time.Second, &cfg.ConfirmationDelay},
		{"DISPLAY_LAST_TTL", 24 * time.Hour, &cfg.DisplayLastTTL},
	}
	for _, d := range durations {
		if *d.dst, err = getDuration(d.key, d.fallback); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent combinations.
func (c *Config) Validate() error {
	if c.POSAPIURL == "" {
		return fmt.Errorf("POS_API_URL not set")
	}

	switch c.RelayTransport {
	case RelayWebSocket:
		if c.RelayURL == "" {
			return fmt.Errorf("RELAY_URL not set for websocket relay")
		}
	case RelaySQS:
		if c.RelaySQSQueueURL == "" {
			return fmt.Errorf("RELAY_SQS_QUEUE_URL not set for sqs relay")
		}
	case RelayNone:
	default:
		return fmt.Errorf("unknown RELAY_TRANSPORT %q", c.RelayTransport)
	}

	switch c.EventSink {
	case SinkSNS:
		if c.PaymentSNSTopicARN == "" {
			return fmt.Errorf("PAYMENT_SNS_TOPIC_ARN not set for sns sink")
		}
	case SinkKafka:
		if len(c.KafkaBrokers) == 0 || c.KafkaTopic == "" {
			return fmt.Errorf("KAFKA_BROKERS and KAFKA_TOPIC required for kafka sink")
		}
	case SinkNone:
	default:
		return fmt.Errorf("unknown EVENT_SINK %q", c.EventSink)
	}

	if c.JournalEnabled() && (c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "") {
		return fmt.Errorf("POSTGRES_USER, POSTGRES_PASSWORD and POSTGRES_DB required when POSTGRES_HOST is set")
	}

	if c.QRTTL <= 0 || c.ConfirmationDelay < 0 || c.RelayReconnectDelay <= 0 {
		return fmt.Errorf("timer durations must be positive")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
