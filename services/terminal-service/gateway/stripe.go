// Package gateway routes debit payments through Stripe Checkout.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/checkout/session"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// MetadataTransactionKey carries the terminal transaction id on the session.
const MetadataTransactionKey = "transaction_id"

// Currencies Stripe charges without minor units.
var zeroDecimal = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

type StripeConfig struct {
	SecretKey  string
	WebhookKey string
	SuccessURL string
	CancelURL  string
	Currency   string
	TerminalID string
}

type sessionCreator func(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)

type StripeGateway struct {
	cfg      StripeConfig
	sessions sessionCreator
}

func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	stripe.Key = cfg.SecretKey
	if cfg.Currency == "" {
		cfg.Currency = "idr"
	}
	return &StripeGateway{cfg: cfg, sessions: session.New}
}

// CreateCheckout opens a hosted card checkout for one transaction. The
// result is always a redirect.
func (g *StripeGateway) CreateCheckout(ctx context.Context, transactionID string, amount int64) (models.GatewayResult, error) {
	if amount <= 0 {
		return models.GatewayResult{}, fmt.Errorf("checkout amount must be positive, got %d", amount)
	}

	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(g.cfg.SuccessURL),
		CancelURL:          stripe.String(g.cfg.CancelURL),
		ClientReferenceID:  stripe.String(transactionID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(g.cfg.Currency),
				UnitAmount: stripe.Int64(MinorUnits(amount, g.cfg.Currency)),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String("POS " + transactionID),
				},
			},
		}},
		Metadata: map[string]string{
			MetadataTransactionKey: transactionID,
			"terminal_id":          g.cfg.TerminalID,
		},
	}
	params.Context = ctx

	sess, err := g.sessions(params)
	if err != nil {
		return models.GatewayResult{}, fmt.Errorf("create checkout session: %w", err)
	}

	return models.GatewayResult{
		Kind:        models.GatewayRedirect,
		RedirectURL: sess.URL,
		TrxNo:       sess.ID,
		TotalAmount: amount,
	}, nil
}

// MinorUnits converts a whole-currency amount to what Stripe expects.
func MinorUnits(amount int64, currency string) int64 {
	if zeroDecimal[strings.ToLower(currency)] {
		return amount
	}
	return amount * 100
}

// ParseWebhook verifies the signature and leaves the body readable.
func (g *StripeGateway) ParseWebhook(r *http.Request) (stripe.Event, error) {
	var event stripe.Event
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		return event, err
	}
	r.Body = io.NopCloser(bytes.NewBuffer(payload))
	sigHeader := r.Header.Get("Stripe-Signature")
	return webhook.ConstructEvent(payload, sigHeader, g.cfg.WebhookKey)
}

// CompletedTransaction extracts the transaction id from a completed checkout
// session event. ok is false for any other event.
func CompletedTransaction(event stripe.Event) (transactionID string, ok bool, err error) {
	if event.Type != stripe.EventTypeCheckoutSessionCompleted {
		return "", false, nil
	}
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return "", false, fmt.Errorf("unmarshal checkout session: %w", err)
	}
	if id := sess.Metadata[MetadataTransactionKey]; id != "" {
		return id, true, nil
	}
	if sess.ClientReferenceID != "" {
		return sess.ClientReferenceID, true, nil
	}
	return "", false, fmt.Errorf("checkout session %s has no transaction reference", sess.ID)
}
