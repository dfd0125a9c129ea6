package models

import (
	"encoding/json"
	"net/url"
	"time"
)

type PaymentMethod string

const (
	MethodCash    PaymentMethod = "cash"
	MethodDebit   PaymentMethod = "debit"
	MethodDigital PaymentMethod = "digital"
)

// Valid reports whether m is one of the known methods.
func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodDebit, MethodDigital:
		return true
	}
	return false
}

// PaymentState is a node of the checkout state machine.
type PaymentState string

const (
	StateIdle            PaymentState = "idle"
	StateMethodSelection PaymentState = "method_selection"
	StateCashPending     PaymentState = "cash_pending"
	StateGatewayPending  PaymentState = "gateway_pending"
	StateQRDisplayed     PaymentState = "qr_displayed"
	StateSucceeded       PaymentState = "succeeded"
	StateCancelled       PaymentState = "cancelled"
	StateExpired         PaymentState = "expired"
	StateRedirected      PaymentState = "redirected"
)

// Terminal states close the session.
func (s PaymentState) Terminal() bool {
	switch s {
	case StateSucceeded, StateCancelled, StateExpired, StateRedirected:
		return true
	}
	return false
}

// QRForm tells the renderer whether a payload is an image to show or a
// string to encode.
type QRForm string

const (
	QRFormImageURL QRForm = "image_url"
	QRFormOpaque   QRForm = "opaque"
)

type QRPayload struct {
	Raw  string `json:"raw"`
	Form QRForm `json:"form"`
}

// DetectQRForm classifies a gateway QR payload. Only absolute http(s) URLs
// with a host count as image URLs; everything else, including QRIS EMV
// strings, is opaque.
func DetectQRForm(raw string) QRForm {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return QRFormOpaque
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return QRFormOpaque
	}
	return QRFormImageURL
}

// NewQRPayload wraps raw with its detected form.
func NewQRPayload(raw string) *QRPayload {
	return &QRPayload{Raw: raw, Form: DetectQRForm(raw)}
}

// Guests counts a dine-in party.
type Guests struct {
	Men   int `json:"men" binding:"gte=0" validate:"gte=0"`
	Women int `json:"women" binding:"gte=0" validate:"gte=0"`
}

func (g Guests) Total() int { return g.Men + g.Women }

// OrderDetails is the guest input captured before a table order is placed.
type OrderDetails struct {
	OrderName  string `json:"order_name" validate:"required"`
	TableCode  string `json:"table_cd,omitempty"`
	Guests     Guests `json:"guests"`
	PosOrderNo string `json:"pos_order_no,omitempty"`
}

// PaymentSession lives from checkout until a terminal state.
type PaymentSession struct {
	TransactionID    string        `json:"transactionId"`
	Method           PaymentMethod `json:"method,omitempty"`
	Status           PaymentState  `json:"status"`
	GrossAmount      int64         `json:"grossAmount"`
	FinalAmount      int64         `json:"finalAmount"`
	PointsUsed       int           `json:"pointsUsed"`
	MemberPhone      string        `json:"memberPhone,omitempty"`
	TrxNo            string        `json:"trxNo,omitempty"`
	QR               *QRPayload    `json:"qrPayload,omitempty"`
	QRExpiryDeadline *time.Time    `json:"qrExpiryDeadline,omitempty"`
	RedirectURL      string        `json:"redirectUrl,omitempty"`
	Order            *OrderDetails `json:"order,omitempty"`
	LastError        string        `json:"lastError,omitempty"`
}

// Matches reports whether ref names this session by slip or gateway number.
func (s *PaymentSession) Matches(ref string) bool {
	if s == nil || ref == "" {
		return false
	}
	return ref == s.TransactionID || (s.TrxNo != "" && ref == s.TrxNo)
}

// GatewayResultKind is exactly one of the three shapes a gateway answers with.
type GatewayResultKind string

const (
	GatewaySuccess  GatewayResultKind = "success"
	GatewayRedirect GatewayResultKind = "redirect"
	GatewayQR       GatewayResultKind = "qr"
)

type GatewayResult struct {
	Kind        GatewayResultKind
	RedirectURL string
	QR          *QRPayload
	TrxNo       string
	TotalAmount int64
}

// OutcomeSource names the channel a success signal arrived on.
type OutcomeSource string

const (
	LocalSuccess OutcomeSource = "local"
	RelaySuccess OutcomeSource = "relay"
)

// PaymentOutcome is a success signal for one transaction.
type PaymentOutcome struct {
	Source        OutcomeSource
	TransactionID string
}

func NewLocalSuccess(txID string) PaymentOutcome {
	return PaymentOutcome{Source: LocalSuccess, TransactionID: txID}
}

func NewRelaySuccess(txID string) PaymentOutcome {
	return PaymentOutcome{Source: RelaySuccess, TransactionID: txID}
}

// PaymentEventStatusSuccess is the status the push server sends on settlement.
const PaymentEventStatusSuccess = "SUCCESS"

// PaymentEvent is the payload of a pushed payment_success event.
type PaymentEvent struct {
	TransactionID string `json:"transactionId,omitempty"`
	SlipNo        string `json:"slip_no,omitempty"`
	TrxNo         string `json:"trx_no,omitempty"`
	Status        string `json:"status"`
	UserID        string `json:"userId,omitempty"`
}

// UnmarshalJSON accepts the slip number under both slip_no and slipNo.
func (e *PaymentEvent) UnmarshalJSON(data []byte) error {
	type plain PaymentEvent
	var aux struct {
		plain
		SlipNoCamel string `json:"slipNo"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*e = PaymentEvent(aux.plain)
	if e.SlipNo == "" {
		e.SlipNo = aux.SlipNoCamel
	}
	return nil
}

// Reference returns the first non-empty transaction reference.
func (e PaymentEvent) Reference() string {
	switch {
	case e.TransactionID != "":
		return e.TransactionID
	case e.SlipNo != "":
		return e.SlipNo
	default:
		return e.TrxNo
	}
}

// SettledEvent is fanned out to downstream consumers once per transaction.
type SettledEvent struct {
	Type          string        `json:"type"`
	TerminalID    string        `json:"terminal_id"`
	TransactionID string        `json:"transaction_id"`
	Method        PaymentMethod `json:"method"`
	Source        OutcomeSource `json:"source"`
	Amount        int64         `json:"amount"`
	PointsUsed    int           `json:"points_used"`
	Timestamp     time.Time     `json:"timestamp"`
}
