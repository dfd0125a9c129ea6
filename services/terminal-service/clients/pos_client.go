package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/yashrajoria/pos-terminal/services/common/errors"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/config"
	"github.com/yashrajoria/pos-terminal/services/terminal-service/models"
)

// PhonePrefix is prepended to locally entered member numbers.
const PhonePrefix = "62"

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *StatusError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("upstream error: status=%d message=%s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("upstream error: status=%d body=%s", e.StatusCode, e.Body)
}

// POSClient talks to the POS REST backend. Every request carries the
// terminal identity.
type POSClient struct {
	baseURL  string
	client   *http.Client
	identity config.Identity
}

func NewPOSClient(baseURL string, timeout time.Duration, identity config.Identity) *POSClient {
	return &POSClient{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: timeout},
		identity: identity,
	}
}

type identityFields struct {
	UnitCD    string `json:"unit_cd"`
	CompanyCD string `json:"company_cd"`
	BranchCD  string `json:"branch_cd"`
}

type guestFields struct {
	GuestsCnt      int `json:"guests_cnt,omitempty"`
	GuestsMenCnt   int `json:"guests_men_cnt,omitempty"`
	GuestsWomenCnt int `json:"guests_women_cnt,omitempty"`
}

func guestsOf(g *models.Guests) guestFields {
	if g == nil {
		return guestFields{}
	}
	return guestFields{GuestsCnt: g.Total(), GuestsMenCnt: g.Men, GuestsWomenCnt: g.Women}
}

// OrderRequest registers a table or cafe order before payment.
type OrderRequest struct {
	PosNo     string
	OrderName string
	TableCode string
	FloorCode string
	Guests    models.Guests
	Cart      []models.OrderLine
}

type orderPayload struct {
	identityFields
	guestFields
	PosNo     string             `json:"pos_no"`
	TblCD     string             `json:"tbl_cd,omitempty"`
	FloorCD   string             `json:"floor_cd,omitempty"`
	OrderName string             `json:"name_of_order"`
	Cart      []models.OrderLine `json:"cart"`
}

// CreateOrder posts an order and returns its backend order number.
func (c *POSClient) CreateOrder(ctx context.Context, req OrderRequest) (string, error) {
	payload := orderPayload{
		identityFields: c.identityFields(),
		guestFields:    guestsOf(&req.Guests),
		PosNo:          req.PosNo,
		TblCD:          req.TableCode,
		FloorCD:        req.FloorCode,
		OrderName:      req.OrderName,
		Cart:           req.Cart,
	}
	var resp struct {
		PosOrderNo string `json:"pos_order_no"`
	}
	if err := c.do(ctx, http.MethodPost, "/pos/orders", nil, payload, &resp); err != nil {
		return "", apperrors.Collaborator("Failed to create order", err)
	}
	return resp.PosOrderNo, nil
}

// PaymentRequest is a gateway (digital) payment for one slip.
type PaymentRequest struct {
	SlipNo      string
	Cart        []models.OrderLine
	MemberPhone string
	PointsUsed  int
	FinalTotal  int64
	Guests      *models.Guests
	DualDisplay bool
}

type paymentPayload struct {
	identityFields
	guestFields
	SlipNo        string             `json:"slip_no"`
	TellerCD      string             `json:"teller_cd"`
	Cart          []models.OrderLine `json:"cart"`
	MobilePhoneNo string             `json:"mobile_phone_no,omitempty"`
	PointsUsedQty *int               `json:"points_used_qty,omitempty"`
	FinalTotal    int64              `json:"final_total"`
	DualDisplay   bool               `json:"dual_display_enabled"`
}

// PaymentResponse is the raw /pos/pay answer.
type PaymentResponse struct {
	Provider struct {
		Data struct {
			QRContent string `json:"qrContent"`
		} `json:"data"`
	} `json:"provider"`
	QRString    string `json:"qr_string"`
	QRURL       string `json:"qr_url"`
	TrxNo       string `json:"trx_no"`
	TotalAmount int64  `json:"total_amount"`
	Mode        string `json:"mode"`
	RedirectURL string `json:"redirect_url"`
}

// Classify maps a raw answer to exactly one result kind. A QR payload wins
// over a redirect; anything else is an immediate success.
func (r PaymentResponse) Classify() models.GatewayResult {
	res := models.GatewayResult{TrxNo: r.TrxNo, TotalAmount: r.TotalAmount}
	if qr := firstNonEmpty(r.Provider.Data.QRContent, r.QRString, r.QRURL); qr != "" {
		res.Kind = models.GatewayQR
		res.QR = models.NewQRPayload(qr)
		return res
	}
	if r.Mode == "snap" && r.RedirectURL != "" {
		res.Kind = models.GatewayRedirect
		res.RedirectURL = r.RedirectURL
		return res
	}
	res.Kind = models.GatewaySuccess
	return res
}

func (c *POSClient) ProcessPayment(ctx context.Context, req PaymentRequest) (models.GatewayResult, error) {
	payload := paymentPayload{
		identityFields: c.identityFields(),
		guestFields:    guestsOf(req.Guests),
		SlipNo:         req.SlipNo,
		TellerCD:       c.identity.TellerCD,
		Cart:           req.Cart,
		FinalTotal:     req.FinalTotal,
		DualDisplay:    req.DualDisplay,
	}
	if req.MemberPhone != "" {
		payload.MobilePhoneNo = req.MemberPhone
		pts := max(req.PointsUsed, 0)
		payload.PointsUsedQty = &pts
	}

	var resp PaymentResponse
	if err := c.do(ctx, http.MethodPost, "/pos/pay", nil, payload, &resp); err != nil {
		return models.GatewayResult{}, apperrors.Wrap(apperrors.ErrPaymentFailed, err)
	}
	return resp.Classify(), nil
}

// CashPaymentRequest records a cash settlement.
type CashPaymentRequest struct {
	SlipNo        string
	Tendered      int64
	TransNoTeller string
	Cart          []models.OrderLine
	MemberPhone   string
	PointsUsed    int
	Guests        *models.Guests
}

type cashPayload struct {
	identityFields
	SlipNo         string             `json:"slip_no"`
	TellerCD       string             `json:"teller_cd"`
	PayCashAmnt    int64              `json:"pay_cash_amnt"`
	TransNoTeller  string             `json:"trans_no_teller"`
	GuestsCnt      int                `json:"guests_cnt"`
	GuestsMenCnt   int                `json:"guests_men_cnt"`
	GuestsWomenCnt int                `json:"guests_women_cnt"`
	Cart           []models.OrderLine `json:"cart"`
	MobilePhoneNo  string             `json:"mobile_phone_no,omitempty"`
	PointsUsedQty  *int               `json:"points_used_qty,omitempty"`
}

func (c *POSClient) ProcessCashPayment(ctx context.Context, req CashPaymentRequest) error {
	payload := cashPayload{
		identityFields: c.identityFields(),
		SlipNo:         req.SlipNo,
		TellerCD:       c.identity.TellerCD,
		PayCashAmnt:    req.Tendered,
		TransNoTeller:  req.TransNoTeller,
		GuestsCnt:      1,
		Cart:           req.Cart,
	}
	if req.Guests != nil && req.Guests.Total() > 0 {
		payload.GuestsCnt = req.Guests.Total()
		payload.GuestsMenCnt = req.Guests.Men
		payload.GuestsWomenCnt = req.Guests.Women
	}
	if req.MemberPhone != "" {
		payload.MobilePhoneNo = req.MemberPhone
		pts := max(req.PointsUsed, 0)
		payload.PointsUsedQty = &pts
	}

	if err := c.do(ctx, http.MethodPost, "/pos/cash-payment", nil, payload, nil); err != nil {
		return apperrors.Collaborator("Failed to save cash payment", err)
	}
	return nil
}

// TransactionStatus asks the backend for the settlement status of a gateway
// transaction.
func (c *POSClient) TransactionStatus(ctx context.Context, trxNo string) (string, error) {
	var resp struct {
		Status string `json:"status"`
		Data   struct {
			Status string `json:"status"`
		} `json:"data"`
	}
	q := url.Values{"trx_no": {trxNo}}
	if err := c.do(ctx, http.MethodGet, "/pos/notification", q, nil, &resp); err != nil {
		return "", apperrors.Collaborator("Failed to query transaction status", err)
	}
	return firstNonEmpty(resp.Status, resp.Data.Status), nil
}

type memberResponse struct {
	Member models.MemberAccount `json:"member"`
}

// LookupMember finds a member by locally entered phone number.
func (c *POSClient) LookupMember(ctx context.Context, phone string) (*models.MemberAccount, error) {
	normalised, err := NormalisePhone(phone)
	if err != nil {
		return nil, err
	}

	id := c.identityFields()
	q := url.Values{
		"unit_cd":         {id.UnitCD},
		"company_cd":      {id.CompanyCD},
		"branch_cd":       {id.BranchCD},
		"mobile_phone_no": {normalised},
	}
	var resp memberResponse
	if err := c.do(ctx, http.MethodGet, "/pos/member", q, nil, &resp); err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, apperrors.Wrap(apperrors.ErrMemberNotFound, err)
		}
		return nil, apperrors.Wrap(apperrors.ErrMemberLookupFailed, err)
	}
	return &resp.Member, nil
}

type registerPayload struct {
	identityFields
	MobilePhoneNo string `json:"mobile_phone_no"`
}

func (c *POSClient) RegisterMember(ctx context.Context, phone string) (*models.MemberAccount, error) {
	normalised, err := NormalisePhone(phone)
	if err != nil {
		return nil, err
	}

	payload := registerPayload{identityFields: c.identityFields(), MobilePhoneNo: normalised}
	var resp memberResponse
	if err := c.do(ctx, http.MethodPost, "/pos/regist-member", nil, payload, &resp); err != nil {
		if statusOf(err) == http.StatusConflict {
			return nil, apperrors.Wrap(apperrors.ErrMemberAlreadyRegistered, err)
		}
		return nil, apperrors.Collaborator("Member registration failed", err)
	}
	return &resp.Member, nil
}

// NormalisePhone keeps the digits of a local number and adds the country
// prefix.
func NormalisePhone(input string) (string, error) {
	var b strings.Builder
	for _, r := range input {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "", apperrors.ErrPhoneRequired
	}
	return PhonePrefix + b.String(), nil
}

func (c *POSClient) identityFields() identityFields {
	return identityFields{
		UnitCD:    c.identity.UnitCD,
		CompanyCD: c.identity.CompanyCD,
		BranchCD:  c.identity.BranchCD,
	}
}

func (c *POSClient) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

func decodeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		se := &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
		var msg struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body, &msg) == nil {
			se.Message = msg.Message
		}
		return se
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func statusOf(err error) int {
	se, ok := err.(*StatusError)
	if !ok {
		return 0
	}
	return se.StatusCode
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
