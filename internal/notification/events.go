// Package notification turns committed order events into messages for the
// mail and back-office consumers.
package notification

import (
	"time"

	"github.com/vasiliy-maslov/storefront/internal/order"
)

// Event is one of the order events below. The set is closed.
type Event interface {
	RoutingKey() string
	Order() string
	isEvent()
}

const (
	KeyOrderCreatedAdmin    = "order.created.admin"
	KeyOrderCreatedCustomer = "order.created.customer"
	KeyPaymentConfirmed     = "order.payment.confirmed"
	KeyOrderStatusChanged   = "order.status.changed"
)

type Item struct {
	Name      string   `json:"name"`
	Quantity  int      `json:"quantity"`
	UnitPrice string   `json:"unit_price"`
	Options   []string `json:"options,omitempty"`
}

type OrderCreatedAdmin struct {
	OrderNumber   string           `json:"order_number"`
	TrackingToken string           `json:"tracking_token"`
	Status        order.Status     `json:"status"`
	PaymentMethod string           `json:"payment_method"`
	Subtotal      string           `json:"subtotal"`
	Discount      string           `json:"discount"`
	DeliveryCost  string           `json:"delivery_cost"`
	Total         string           `json:"total"`
	Customer      order.Customer   `json:"customer"`
	Recipient     *order.Recipient `json:"recipient,omitempty"`
	Delivery      order.Delivery   `json:"delivery"`
	PromoCode     string           `json:"promo_code,omitempty"`
	Comment       string           `json:"comment,omitempty"`
	Items         []Item           `json:"items"`
	CreatedAt     time.Time        `json:"created_at"`
}

type OrderCreatedCustomer struct {
	OrderNumber   string    `json:"order_number"`
	TrackingToken string    `json:"tracking_token"`
	Email         string    `json:"email"`
	FirstName     string    `json:"first_name"`
	PaymentMethod string    `json:"payment_method"`
	Total         string    `json:"total"`
	Items         []Item    `json:"items"`
	CreatedAt     time.Time `json:"created_at"`
}

type PaymentConfirmed struct {
	OrderNumber   string    `json:"order_number"`
	TrackingToken string    `json:"tracking_token"`
	Email         string    `json:"email,omitempty"`
	Total         string    `json:"total"`
	PaidAt        time.Time `json:"paid_at"`
}

type OrderStatusChanged struct {
	OrderNumber   string       `json:"order_number"`
	TrackingToken string       `json:"tracking_token"`
	Email         string       `json:"email,omitempty"`
	OldStatus     order.Status `json:"old_status"`
	NewStatus     order.Status `json:"new_status"`
	Actor         string       `json:"actor"`
	Source        order.Source `json:"source"`
	ChangedAt     time.Time    `json:"changed_at"`
}

func (OrderCreatedAdmin) RoutingKey() string    { return KeyOrderCreatedAdmin }
func (OrderCreatedCustomer) RoutingKey() string { return KeyOrderCreatedCustomer }
func (PaymentConfirmed) RoutingKey() string     { return KeyPaymentConfirmed }
func (OrderStatusChanged) RoutingKey() string   { return KeyOrderStatusChanged }

func (e OrderCreatedAdmin) Order() string    { return e.OrderNumber }
func (e OrderCreatedCustomer) Order() string { return e.OrderNumber }
func (e PaymentConfirmed) Order() string     { return e.OrderNumber }
func (e OrderStatusChanged) Order() string   { return e.OrderNumber }

func (OrderCreatedAdmin) isEvent()    {}
func (OrderCreatedCustomer) isEvent() {}
func (PaymentConfirmed) isEvent()     {}
func (OrderStatusChanged) isEvent()   {}

func items(o *order.Order) []Item {
	out := make([]Item, 0, len(o.Items))
	for _, li := range o.Items {
		item := Item{
			Name:      li.ProductName,
			Quantity:  li.Quantity,
			UnitPrice: li.UnitPrice.StringFixed(2),
		}
		for _, opt := range li.Options {
			item.Options = append(item.Options, opt.OptionName)
		}
		out = append(out, item)
	}
	return out
}

func NewOrderCreatedAdmin(o *order.Order) OrderCreatedAdmin {
	return OrderCreatedAdmin{
		OrderNumber:   o.OrderNumber,
		TrackingToken: o.TrackingToken,
		Status:        o.Status,
		PaymentMethod: string(o.PaymentMethod),
		Subtotal:      o.Subtotal.StringFixed(2),
		Discount:      o.Discount.StringFixed(2),
		DeliveryCost:  o.DeliveryCost.StringFixed(2),
		Total:         o.Total.StringFixed(2),
		Customer:      o.Customer,
		Recipient:     o.Recipient,
		Delivery:      o.Delivery,
		PromoCode:     o.PromoCode,
		Comment:       o.Comment,
		Items:         items(o),
		CreatedAt:     o.CreatedAt,
	}
}

func NewOrderCreatedCustomer(o *order.Order) OrderCreatedCustomer {
	return OrderCreatedCustomer{
		OrderNumber:   o.OrderNumber,
		TrackingToken: o.TrackingToken,
		Email:         o.Customer.Email,
		FirstName:     o.Customer.FirstName,
		PaymentMethod: string(o.PaymentMethod),
		Total:         o.Total.StringFixed(2),
		Items:         items(o),
		CreatedAt:     o.CreatedAt,
	}
}

func NewPaymentConfirmed(o *order.Order, change order.StatusChange) PaymentConfirmed {
	return PaymentConfirmed{
		OrderNumber:   o.OrderNumber,
		TrackingToken: o.TrackingToken,
		Email:         o.Customer.Email,
		Total:         o.Total.StringFixed(2),
		PaidAt:        change.At,
	}
}

func NewOrderStatusChanged(o *order.Order, change order.StatusChange) OrderStatusChanged {
	return OrderStatusChanged{
		OrderNumber:   o.OrderNumber,
		TrackingToken: o.TrackingToken,
		Email:         o.Customer.Email,
		OldStatus:     change.From,
		NewStatus:     change.To,
		Actor:         change.Actor,
		Source:        change.Source,
		ChangedAt:     change.At,
	}
}
