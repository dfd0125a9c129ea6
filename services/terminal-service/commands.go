package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	awspkg "github.com/yashrajoria/pos-terminal/pkg/aws"
	apperrors "github.com/yashrajoria/pos-terminal/services/common/errors"
	"github.com/yashrajoria/pos-terminal/services/common/logger"
	"github.com/yashrajoria/pos-terminal/services/common/middleware"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/clients"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/config"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/controllers"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/database"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/display"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/events"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/gateway"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/metrics"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/orchestrator"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/relay"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/repository"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/routes"
)

const (
	serviceName     = "terminal-service"
	shutdownTimeout = 5 * time.Second
)

var (
	rootCmd = &cobra.Command{
		Use:           "terminal",
		Short:         "Point-of-sale terminal core",
		Long:          `Runs the cashier terminal: cart, loyalty points, checkout and the customer display feed.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the terminal HTTP API, display hub and payment relay",
		RunE:  runServe,
	}
	displayCmd = &cobra.Command{
		Use:   "display",
		Short: "Follow the customer display feed of a terminal and print each frame",
		RunE:  runDisplay,
	}
	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Print the state of a running terminal",
		RunE:  runStatus,
	}

	displayRedisURL   string
	displayTerminalID string
	statusAddr        string
)

func init() {
	rootCmd.AddCommand(serveCmd)

	rootCmd.AddCommand(displayCmd)
	displayCmd.Flags().StringVar(&displayRedisURL, "redis-url", os.Getenv("REDIS_URL"), "Redis URL the terminal publishes display frames to")
	displayCmd.Flags().StringVar(&displayTerminalID, "terminal", envOr("TERMINAL_ID", "T1"), "Terminal id to follow")

	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVar(&statusAddr, "addr", "http://localhost:"+envOr("PORT", "8090"), "Base URL of the terminal API")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awspkg.LoadAWSConfig(ctx)
	if err != nil {
		return fmt.Errorf("load aws config: %w", err)
	}

	// ── Logging ──
	var cwWriter io.Writer
	if cw, err := awspkg.NewCloudWatchLogsClient(ctx, awsCfg, cfg.Identity.TerminalID); err != nil {
		fmt.Fprintf(os.Stderr, "CloudWatch Logs init failed: %v\n", err)
	} else if cw.IsEnabled() {
		cwWriter = cw
	}
	log := logger.InitializeWithWriter(cfg.Env, cwWriter).With(zap.String("terminal_id", cfg.Identity.TerminalID))
	defer func() { _ = log.Sync() }()

	cwMetrics := awspkg.NewMetricsClient(awsCfg)
	m := metrics.New()
	if cwMetrics.IsEnabled() {
		m.ForwardTo(cwMetrics, cfg.Identity.TerminalID)
	}

	// ── Storage ──
	bus := display.Bus(display.NewLocalBus())
	settlements := repository.SettlementStore(repository.NewMemorySettlementStore())
	if cfg.RedisURL != "" {
		client, err := database.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		bus = display.NewRedisBus(client, cfg.Identity.TerminalID, cfg.DisplayLastTTL, log.Named("display"))
		settlements = repository.NewRedisSettlementStore(client, repository.DefaultSettlementTTL)
		log.Info("Connected to Redis")
	}

	journal := repository.PaymentJournal(repository.NoopJournal{})
	if cfg.JournalEnabled() {
		db, err := database.ConnectPostgres(log, cfg.DSN(), &models.PaymentRecord{})
		if err != nil {
			return err
		}
		defer database.Close(db)
		journal = repository.NewGormPaymentJournal(db)
	}

	// ── Settlement events ──
	var publisher events.Publisher = events.NoopPublisher{}
	switch cfg.EventSink {
	case config.SinkSNS:
		publisher = events.NewSNSPublisher(awspkg.NewSNSClient(awsCfg), cfg.PaymentSNSTopicARN, log.Named("events"))
	case config.SinkKafka:
		publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, log.Named("events"))
	}
	defer func() { _ = publisher.Close() }()
	dispatcher := events.NewDispatcher(settlements, publisher, log.Named("events"))

	// ── Collaborators ──
	pos := clients.NewPOSClient(cfg.POSAPIURL, cfg.POSAPITimeout, cfg.Identity)

	var card orchestrator.CardGateway
	var stripeGateway *gateway.StripeGateway
	if cfg.StripeEnabled() {
		key := cfg.StripeAPIKey
		if cfg.StripeSecretName != "" {
			secrets := awspkg.NewSecretsClient(awsCfg)
			if cfg.StripeSecretField != "" {
				key, err = secrets.GetSecretField(ctx, cfg.StripeSecretName, cfg.StripeSecretField)
			} else {
				key, err = secrets.GetSecret(ctx, cfg.StripeSecretName)
			}
			if err != nil {
				return fmt.Errorf("read stripe key: %w", err)
			}
		}
		stripeGateway = gateway.NewStripeGateway(gateway.StripeConfig{
			SecretKey:  key,
			WebhookKey: cfg.StripeWebhookKey,
			SuccessURL: cfg.StripeSuccessURL,
			CancelURL:  cfg.StripeCancelURL,
			Currency:   cfg.StripeCurrency,
			TerminalID: cfg.Identity.TerminalID,
		})
		card = stripeGateway
		log.Info("Card payments routed to Stripe Checkout")
	}

	orc := orchestrator.New(orchestrator.Config{
		TerminalID:        cfg.Identity.TerminalID,
		TellerCD:          cfg.Identity.TellerCD,
		QRTTL:             cfg.QRTTL,
		ConfirmationDelay: cfg.ConfirmationDelay,
		DualDisplay:       true,
	}, orchestrator.Deps{
		Orders:   pos,
		Payments: pos,
		Members:  pos,
		Card:     card,
		Navigator: func(url string) {
			log.Info("Cashier redirected to gateway", zap.String("url", url))
		},
		Journal:    journal,
		Dispatcher: dispatcher,
		Bus:        bus,
		Observer:   m,
		Logger:     log.Named("orchestrator"),
	})
	defer orc.Close()

	// ── Relay ──
	var source relay.Source
	switch cfg.RelayTransport {
	case config.RelayWebSocket:
		source = relay.NewWebSocketSource(cfg.RelayURL, cfg.Identity.TerminalID, log.Named("relay"))
	case config.RelaySQS:
		source = relay.NewSQSSource(awspkg.NewSQSConsumer(awsCfg, cfg.RelaySQSQueueURL, log.Named("relay")), cfg.Identity.TerminalID, log.Named("relay"))
	}
	var rl *relay.Relay
	if source != nil {
		rl = relay.New(source, orc, log.Named("relay"),
			relay.WithReconnectDelay(cfg.RelayReconnectDelay),
			relay.WithObserver(m),
		)
	}

	// ── HTTP ──
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(log.Named("http")))
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))
	r.Use(middleware.RateLimitMiddleware(600, 50))
	r.Use(middleware.MetricsMiddleware(cwMetrics, serviceName))
	r.Use(apperrors.ErrorMiddleware())

	tc := controllers.NewTerminalController(orc, bus, log.Named("http"))
	if rl != nil {
		tc.WithRelay(rl)
	}
	routes.RegisterTerminalRoutes(r, tc, display.NewHub(bus, log.Named("display")))
	if stripeGateway != nil {
		routes.RegisterWebhookRoutes(r, controllers.NewWebhookController(stripeGateway, orc, log.Named("webhook")))
	}
	routes.RegisterOpsRoutes(r, m.Handler())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("Terminal API listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down terminal")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if rl != nil {
		g.Go(func() error { return rl.Run(gctx) })
	}

	return g.Wait()
}

// runDisplay renders the reduced customer display state as JSON lines. It is
// what a second-screen process runs.
func runDisplay(cmd *cobra.Command, _ []string) error {
	if displayRedisURL == "" {
		return errors.New("--redis-url or REDIS_URL required")
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.Initialize(envOr("APP_ENV", "development"))
	client, err := database.NewRedisClient(ctx, displayRedisURL)
	if err != nil {
		return err
	}
	defer client.Close()

	bus := display.NewRedisBus(client, displayTerminalID, 0, log.Named("display"))
	enc := json.NewEncoder(cmd.OutOrStdout())
	follower := display.NewFollower(bus, func(s display.State) {
		if err := enc.Encode(s); err != nil {
			log.Warn("Failed to write display frame", zap.Error(err))
		}
	})

	if err := follower.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, statusAddr+"/api/v1/state", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("terminal unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("terminal answered %s", resp.Status)
	}

	var snap controllers.StateResponse
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "state:       %s\n", snap.State)
	fmt.Fprintf(out, "cart lines:  %d\n", len(snap.Cart))
	fmt.Fprintf(out, "grand total: %d\n", snap.Totals.GrandTotal)
	fmt.Fprintf(out, "final total: %d\n", snap.FinalTotal)
	if snap.Session != nil {
		fmt.Fprintf(out, "transaction: %s (%s)\n", snap.Session.TransactionID, snap.Session.Method)
	}
	if snap.LastError != "" {
		fmt.Fprintf(out, "last error:  %s\n", snap.LastError)
	}
	if rs := snap.Relay; rs != nil {
		conn := "disconnected"
		if rs.Connected {
			conn = "connected"
		}
		fmt.Fprintf(out, "relay:       %s %s (attempts %d)\n", rs.Source, conn, rs.Attempts)
		if !rs.LastEventAt.IsZero() {
			fmt.Fprintf(out, "last event:  %s\n", rs.LastEventAt.Format(time.RFC3339))
		}
		if rs.LastError != "" {
			fmt.Fprintf(out, "relay error: %s\n", rs.LastError)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
