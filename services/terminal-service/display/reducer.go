package display

import (
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

type Mode string

const (
	ModeIdle    Mode = "idle"
	ModeCart    Mode = "cart"
	ModeQR      Mode = "qr"
	ModeSuccess Mode = "success"
)

// State is what a customer display renders.
type State struct {
	Mode        Mode                 `json:"mode"`
	Cart        []models.DisplayLine `json:"cart"`
	Totals      *models.CartTotals   `json:"cartTotals,omitempty"`
	PointsToUse int                  `json:"pointsToUse"`
	QRString    string               `json:"qrString,omitempty"`
	QRForm      models.QRForm        `json:"qrForm,omitempty"`
}

// InitialState is an idle, empty display.
func InitialState() State {
	return State{Mode: ModeIdle, Cart: []models.DisplayLine{}}
}

// Reduce folds one broadcast message into the display state. It never
// mutates s.
//
// While a QR code is up, an empty-cart CART_UPDATE is ignored: it is a stale
// snapshot racing the QR payload. Only PAYMENT_END (or a success) leaves QR
// mode.
func Reduce(s State, msg models.DisplayMessage) State {
	switch msg.Type {
	case models.DisplayCartUpdate:
		p := payloadOf(msg)
		if s.Mode == ModeQR {
			if len(p.Cart) == 0 {
				return s
			}
			next := s
			next.Cart = copyLines(p.Cart)
			next.Totals = copyTotals(p.CartTotals)
			next.PointsToUse = p.PointsToUse
			return next
		}
		next := State{
			Mode:        ModeCart,
			Cart:        copyLines(p.Cart),
			Totals:      copyTotals(p.CartTotals),
			PointsToUse: p.PointsToUse,
		}
		if len(next.Cart) == 0 {
			next.Mode = ModeIdle
		}
		return next

	case models.DisplayPaymentQR:
		p := payloadOf(msg)
		return State{
			Mode:        ModeQR,
			Cart:        copyLines(p.Cart),
			Totals:      copyTotals(p.CartTotals),
			PointsToUse: p.PointsToUse,
			QRString:    p.QRString,
			QRForm:      models.DetectQRForm(p.QRString),
		}

	case models.DisplayPaymentSuccess:
		return State{Mode: ModeSuccess, Cart: []models.DisplayLine{}}

	case models.DisplayPaymentEnd:
		return InitialState()
	}
	return s
}

func payloadOf(msg models.DisplayMessage) models.DisplayPayload {
	if msg.Payload == nil {
		return models.DisplayPayload{}
	}
	return *msg.Payload
}

func copyLines(in []models.DisplayLine) []models.DisplayLine {
	return append([]models.DisplayLine{}, in...)
}

func copyTotals(t *models.CartTotals) *models.CartTotals {
	if t == nil {
		return nil
	}
	cp := *t
	return &cp
}
