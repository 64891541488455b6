package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/config"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

var (
	ErrInvalidSignature = errors.New("gateway: callback signature mismatch")
	ErrStaleCallback    = errors.New("gateway: callback outside the accepted time window")
	ErrMalformed        = errors.New("gateway: malformed callback")
)

const (
	TransactionApproved = "Approved"
	TransactionDeclined = "Declined"
	TransactionExpired  = "Expired"

	ackAccept = "accept"
)

// Callback is the service URL notification. Amount and ReasonCode stay as the
// literal JSON numbers the gateway sent since the signature covers their text.
type Callback struct {
	MerchantAccount   string      `json:"merchantAccount"`
	OrderReference    string      `json:"orderReference"`
	MerchantSignature string      `json:"merchantSignature"`
	Amount            json.Number `json:"amount"`
	Currency          string      `json:"currency"`
	AuthCode          string      `json:"authCode"`
	Email             string      `json:"email,omitempty"`
	Phone             string      `json:"phone,omitempty"`
	CreatedDate       int64       `json:"createdDate,omitempty"`
	ProcessingDate    int64       `json:"processingDate,omitempty"`
	CardPan           string      `json:"cardPan"`
	CardType          string      `json:"cardType,omitempty"`
	IssuerBankCountry string      `json:"issuerBankCountry,omitempty"`
	IssuerBankName    string      `json:"issuerBankName,omitempty"`
	TransactionStatus string      `json:"transactionStatus"`
	Reason            string      `json:"reason,omitempty"`
	ReasonCode        json.Number `json:"reasonCode"`
	Fee               json.Number `json:"fee,omitempty"`
	PaymentSystem     string      `json:"paymentSystem,omitempty"`
}

// SignedFields lists the values covered by MerchantSignature. The merchant
// account is always the configured one, never the value from the payload.
func (cb *Callback) SignedFields(merchantAccount string) []string {
	return []string{
		merchantAccount,
		cb.OrderReference,
		cb.Amount.String(),
		cb.Currency,
		cb.AuthCode,
		cb.CardPan,
		cb.TransactionStatus,
		cb.ReasonCode.String(),
	}
}

func (cb *Callback) timestamp() time.Time {
	switch {
	case cb.ProcessingDate > 0:
		return time.Unix(cb.ProcessingDate, 0)
	case cb.CreatedDate > 0:
		return time.Unix(cb.CreatedDate, 0)
	}
	return time.Time{}
}

// Ack is the signed response that stops the gateway from retrying.
type Ack struct {
	OrderReference string `json:"orderReference"`
	Status         string `json:"status"`
	Time           int64  `json:"time"`
	Signature      string `json:"signature"`
}

// TargetStatus maps a gateway transaction status onto an order status. The
// boolean is false for statuses that do not move the order.
func TargetStatus(transactionStatus string) (order.Status, bool) {
	switch transactionStatus {
	case TransactionApproved:
		return order.StatusPaid, true
	case TransactionDeclined, TransactionExpired:
		return order.StatusAwaitingPayment, true
	}
	return "", false
}

// PaymentApplier is the part of the order service the callback needs.
type PaymentApplier interface {
	GetOrderByNumber(ctx context.Context, orderNumber string) (*order.Order, error)
	ApplyPaymentStatus(ctx context.Context, orderNumber string, to order.Status, reason string) (order.StatusChange, error)
}

type Processor struct {
	cfg    config.GatewayConfig
	orders PaymentApplier
	now    func() time.Time
}

type ProcessorOption func(*Processor)

// WithClock injects the clock used for the replay window and ack time.
func WithClock(now func() time.Time) ProcessorOption {
	return func(p *Processor) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProcessor(cfg config.GatewayConfig, orders PaymentApplier, opts ...ProcessorOption) *Processor {
	p := &Processor{
		cfg:    cfg,
		orders: orders,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HandleCallback verifies a callback and applies it to the order. A nil error
// always comes with an ack. Signature and replay failures change nothing.
func (p *Processor) HandleCallback(ctx context.Context, cb *Callback) (*Ack, error) {
	if cb == nil || cb.OrderReference == "" || cb.MerchantSignature == "" {
		return nil, ErrMalformed
	}

	logger := log.With().Str("order_number", cb.OrderReference).Str("transaction_status", cb.TransactionStatus).Logger()

	if !Verify(p.cfg.SecretKey, cb.MerchantSignature, cb.SignedFields(p.cfg.MerchantAccount)...) {
		logger.Warn().
			Bool("security", true).
			Str("merchant_account", cb.MerchantAccount).
			Msg("gateway: rejected callback with invalid signature")
		return nil, ErrInvalidSignature
	}

	if p.cfg.CallbackMaxAge > 0 {
		ts := cb.timestamp()
		skew := p.now().Sub(ts)
		if ts.IsZero() || skew > p.cfg.CallbackMaxAge || -skew > p.cfg.CallbackMaxAge {
			logger.Warn().
				Bool("security", true).
				Time("callback_time", ts).
				Dur("max_age", p.cfg.CallbackMaxAge).
				Msg("gateway: rejected stale callback")
			return nil, ErrStaleCallback
		}
	}

	target, ok := TargetStatus(cb.TransactionStatus)
	if !ok {
		logger.Info().Msg("gateway: transaction status does not change the order")
		return p.ack(cb.OrderReference), nil
	}

	o, err := p.orders.GetOrderByNumber(ctx, cb.OrderReference)
	if err != nil {
		return nil, fmt.Errorf("gateway: failed to load order %s: %w", cb.OrderReference, err)
	}

	if o.PaymentMethod != order.PaymentOnlineGateway {
		logger.Warn().
			Bool("security", true).
			Str("payment_method", string(o.PaymentMethod)).
			Msg("gateway: callback for an order not paid online, ignoring")
		return p.ack(cb.OrderReference), nil
	}

	if target == order.StatusPaid && !p.amountMatches(cb, o) {
		logger.Error().
			Bool("security", true).
			Str("callback_amount", cb.Amount.String()).
			Str("callback_currency", cb.Currency).
			Str("order_total", o.Total.StringFixed(2)).
			Str("currency", p.cfg.Currency).
			Msg("gateway: approved amount does not match the order, not marking paid")
		return p.ack(cb.OrderReference), nil
	}

	reason := cb.TransactionStatus
	if code := cb.ReasonCode.String(); code != "" {
		reason += " (" + code + ")"
	}

	change, err := p.orders.ApplyPaymentStatus(ctx, cb.OrderReference, target, reason)
	if err != nil {
		if errors.Is(err, order.ErrInvalidStatusTransition) {
			logger.Warn().Err(err).Stringer("status", o.Status).Msg("gateway: callback cannot move the order, acknowledging")
			return p.ack(cb.OrderReference), nil
		}
		return nil, fmt.Errorf("gateway: failed to apply callback for order %s: %w", cb.OrderReference, err)
	}

	logger.Info().
		Stringer("old_status", change.From).
		Stringer("new_status", change.To).
		Bool("changed", change.Changed()).
		Msg("gateway: callback applied")

	return p.ack(cb.OrderReference), nil
}

func (p *Processor) amountMatches(cb *Callback, o *order.Order) bool {
	if !strings.EqualFold(strings.TrimSpace(cb.Currency), p.cfg.Currency) {
		return false
	}
	amount, err := decimal.NewFromString(cb.Amount.String())
	if err != nil {
		return false
	}
	return amount.Equal(o.Total)
}

func (p *Processor) ack(orderReference string) *Ack {
	ts := p.now().Unix()
	return &Ack{
		OrderReference: orderReference,
		Status:         ackAccept,
		Time:           ts,
		Signature:      Sign(p.cfg.SecretKey, orderReference, ackAccept, strconv.FormatInt(ts, 10)),
	}
}
