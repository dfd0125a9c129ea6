package controllers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v80"
	"go.uber.org/zap"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/gateway"
)

type WebhookParser interface {
	ParseWebhook(r *http.Request) (stripe.Event, error)
}

type WebhookController struct {
	Parser   WebhookParser
	Terminal Terminal
	Logger   *zap.Logger
}

func NewWebhookController(parser WebhookParser, t Terminal, logger *zap.Logger) *WebhookController {
	return &WebhookController{Parser: parser, Terminal: t, Logger: logger}
}

// StripeWebhook settles card checkouts completed on the hosted page.
func (wc *WebhookController) StripeWebhook(c *gin.Context) {
	event, err := wc.Parser.ParseWebhook(c.Request)
	if err != nil {
		wc.Logger.Warn("Stripe webhook signature verification failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid webhook"})
		return
	}

	wc.Logger.Info("Processing Stripe webhook",
		zap.String("event_type", string(event.Type)),
		zap.String("event_id", event.ID),
	)

	txID, ok, err := gateway.CompletedTransaction(event)
	switch {
	case err != nil:
		wc.Logger.Error("Unreadable checkout session", zap.String("event_id", event.ID), zap.Error(err))
	case !ok:
		wc.Logger.Info("Unhandled webhook event type", zap.String("event_type", string(event.Type)))
	default:
		closed := wc.Terminal.SettleDetached(txID)
		wc.Logger.Info("Card checkout settled",
			zap.String("transaction_id", txID),
			zap.Bool("closed_open_session", closed),
		)
	}

	c.JSON(http.StatusOK, gin.H{"status": "received"})
}
