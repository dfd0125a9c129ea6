package models

type DisplayMessageType string

const (
	DisplayCartUpdate     DisplayMessageType = "CART_UPDATE"
	DisplayPaymentQR      DisplayMessageType = "PAYMENT_QRIS"
	DisplayPaymentSuccess DisplayMessageType = "PAYMENT_SUCCESS"
	DisplayPaymentEnd     DisplayMessageType = "PAYMENT_END"
)

// DisplayLine is a cart line as the customer sees it.
type DisplayLine struct {
	ProductID      string `json:"id"`
	Name           string `json:"name"`
	Qty            int    `json:"qty"`
	UnitPrice      int64  `json:"price"`
	ToppingSummary string `json:"toppingSummary,omitempty"`
}

// DisplayPayload is the body of CART_UPDATE and PAYMENT_QRIS.
type DisplayPayload struct {
	Cart        []DisplayLine `json:"cart"`
	CartTotals  *CartTotals   `json:"cartTotals"`
	PointsToUse int           `json:"pointsToUse"`
	QRString    string        `json:"qr_string,omitempty"`
}

// DisplayMessage is the envelope broadcast to customer displays.
type DisplayMessage struct {
	Type    DisplayMessageType `json:"type"`
	Payload *DisplayPayload    `json:"payload,omitempty"`
}
