package gateway

import (
	"fmt"
	"strconv"
	"time"

	"github.com/vasiliy-maslov/storefront/internal/config"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

// PaymentRequest is the form the storefront posts to the hosted payment page.
type PaymentRequest struct {
	PayURL             string   `json:"payUrl"`
	MerchantAccount    string   `json:"merchantAccount"`
	MerchantDomainName string   `json:"merchantDomainName"`
	MerchantAuthType   string   `json:"merchantAuthType"`
	MerchantSignature  string   `json:"merchantSignature"`
	OrderReference     string   `json:"orderReference"`
	OrderDate          int64    `json:"orderDate"`
	Amount             string   `json:"amount"`
	Currency           string   `json:"currency"`
	ProductName        []string `json:"productName"`
	ProductCount       []string `json:"productCount"`
	ProductPrice       []string `json:"productPrice"`
	ClientFirstName    string   `json:"clientFirstName,omitempty"`
	ClientLastName     string   `json:"clientLastName,omitempty"`
	ClientPhone        string   `json:"clientPhone,omitempty"`
	ClientEmail        string   `json:"clientEmail,omitempty"`
	Language           string   `json:"language,omitempty"`
	ReturnURL          string   `json:"returnUrl,omitempty"`
	ServiceURL         string   `json:"serviceUrl,omitempty"`
}

// SignedFields lists the values covered by MerchantSignature in signing order.
func (r *PaymentRequest) SignedFields() []string {
	fields := []string{
		r.MerchantAccount,
		r.MerchantDomainName,
		r.OrderReference,
		strconv.FormatInt(r.OrderDate, 10),
		r.Amount,
		r.Currency,
	}
	fields = append(fields, r.ProductName...)
	fields = append(fields, r.ProductCount...)
	fields = append(fields, r.ProductPrice...)
	return fields
}

type Client struct {
	cfg config.GatewayConfig
	now func() time.Time
}

type ClientOption func(*Client)

// WithRequestClock injects the clock that stamps orderDate on payment forms.
func WithRequestClock(now func() time.Time) ClientOption {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func NewClient(cfg config.GatewayConfig, opts ...ClientOption) *Client {
	c := &Client{
		cfg: cfg,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BuildPaymentRequest signs the payment form for an order that is waiting for
// an online payment. orderDate is the time the form is built. Option prices
// are folded into the per-unit line price so the product lines add up to the
// subtotal.
func (c *Client) BuildPaymentRequest(o *order.Order) (*PaymentRequest, error) {
	if o.PaymentMethod != order.PaymentOnlineGateway || o.Status != order.StatusAwaitingPayment {
		return nil, fmt.Errorf("gateway: order %s (%s, %s): %w", o.OrderNumber, o.PaymentMethod, o.Status, order.ErrPaymentNotApplicable)
	}
	if len(o.Items) == 0 {
		return nil, fmt.Errorf("gateway: order %s has no line items: %w", o.OrderNumber, order.ErrPaymentNotApplicable)
	}

	req := &PaymentRequest{
		PayURL:             c.cfg.PayURL,
		MerchantAccount:    c.cfg.MerchantAccount,
		MerchantDomainName: c.cfg.MerchantDomain,
		MerchantAuthType:   "SimpleSignature",
		OrderReference:     o.OrderNumber,
		OrderDate:          c.now().Unix(),
		Amount:             o.Total.StringFixed(2),
		Currency:           c.cfg.Currency,
		ClientFirstName:    o.Customer.FirstName,
		ClientLastName:     o.Customer.LastName,
		ClientPhone:        o.Customer.Phone,
		ClientEmail:        o.Customer.Email,
		Language:           c.cfg.Language,
		ReturnURL:          c.cfg.ReturnURL,
		ServiceURL:         c.cfg.ServiceURL,
	}
	for _, item := range o.Items {
		price := item.UnitPrice
		for _, opt := range item.Options {
			price = price.Add(opt.Price)
		}
		req.ProductName = append(req.ProductName, item.ProductName)
		req.ProductCount = append(req.ProductCount, strconv.Itoa(item.Quantity))
		req.ProductPrice = append(req.ProductPrice, price.StringFixed(2))
	}
	req.MerchantSignature = Sign(c.cfg.SecretKey, req.SignedFields()...)

	return req, nil
}
