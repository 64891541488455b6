package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PaymentOnlineGateway  PaymentMethod = "online-gateway"
	PaymentCashOnDelivery PaymentMethod = "cash-on-delivery"
	PaymentBankTransfer   PaymentMethod = "bank-transfer"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentOnlineGateway, PaymentCashOnDelivery, PaymentBankTransfer:
		return true
	}
	return false
}

// Customer, Recipient and Delivery are snapshots copied into the order at
// checkout. They are never joined back to live customer or delivery records.
type Customer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	Email     string `json:"email,omitempty"`
}

type Recipient struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
}

// Delivery is opaque to the core: the method tag plus whatever references the
// delivery partner lookup produced on the storefront side.
type Delivery struct {
	Method       string `json:"method"`
	City         string `json:"city,omitempty"`
	CityRef      string `json:"city_ref,omitempty"`
	Warehouse    string `json:"warehouse,omitempty"`
	WarehouseRef string `json:"warehouse_ref,omitempty"`
	Address      string `json:"address,omitempty"`
}

type Order struct {
	SequenceID    int64           `json:"-" db:"id"`
	OrderNumber   string          `json:"order_number" db:"order_number"`
	TrackingToken string          `json:"tracking_token" db:"tracking_token"`
	Status        Status          `json:"status" db:"status"`
	PaymentMethod PaymentMethod   `json:"payment_method" db:"payment_method"`
	Subtotal      decimal.Decimal `json:"subtotal" db:"subtotal"`
	Discount      decimal.Decimal `json:"discount" db:"discount"`
	DeliveryCost  decimal.Decimal `json:"delivery_cost" db:"delivery_cost"`
	Total         decimal.Decimal `json:"total" db:"total"`
	Customer      Customer        `json:"customer" db:"-"`
	Recipient     *Recipient      `json:"recipient,omitempty" db:"-"`
	Delivery      Delivery        `json:"delivery" db:"-"`
	PromoCode     string          `json:"promo_code,omitempty" db:"-"`
	Comment       string          `json:"comment,omitempty" db:"-"`
	Items         []LineItem      `json:"items" db:"-"`
	CreatedAt     time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at" db:"updated_at"`
}

// LineItem holds the price snapshot taken at checkout. UnitPrice is never
// recomputed from the catalog afterwards.
type LineItem struct {
	ID          int64            `json:"-" db:"id"`
	OrderID     int64            `json:"-" db:"order_id"`
	ProductID   int64            `json:"product_id" db:"product_id"`
	ProductCode string           `json:"product_code" db:"product_code"`
	ProductName string           `json:"product_name" db:"product_name"`
	Quantity    int              `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal  `json:"unit_price" db:"unit_price"`
	Options     []LineItemOption `json:"options,omitempty" db:"-"`
}

type LineItemOption struct {
	ID         int64           `json:"-" db:"id"`
	LineItemID int64           `json:"-" db:"line_item_id"`
	OptionID   int64           `json:"option_id" db:"option_id"`
	OptionCode string          `json:"option_code" db:"option_code"`
	OptionName string          `json:"option_name" db:"option_name"`
	Price      decimal.Decimal `json:"price" db:"price"`
}

// Draft is a validated checkout payload. Item prices are not part of it: they
// are resolved from the catalog inside the creation transaction.
type Draft struct {
	Customer      Customer
	Recipient     *Recipient
	Delivery      Delivery
	PaymentMethod PaymentMethod
	PromoCode     string
	Comment       string
	Discount      decimal.Decimal
	DeliveryCost  decimal.Decimal
	Items         []DraftItem

	// Figures the storefront displayed to the customer. Only compared with the
	// server-side computation, never stored.
	ClaimedSubtotal *decimal.Decimal
	ClaimedTotal    *decimal.Decimal
}

type DraftItem struct {
	ProductCode string
	Quantity    int
	OptionCodes []string
}

// PublicView is the projection handed to unauthenticated tracking requests.
type PublicView struct {
	OrderNumber   string           `json:"order_number"`
	Status        Status           `json:"status"`
	PaymentMethod PaymentMethod    `json:"payment_method"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
	Discount      decimal.Decimal  `json:"discount"`
	DeliveryCost  decimal.Decimal  `json:"delivery_cost"`
	Total         decimal.Decimal  `json:"total"`
	DeliveryType  string           `json:"delivery_method"`
	Items         []PublicLineItem `json:"items"`
	CreatedAt     time.Time        `json:"created_at"`
	UpdatedAt     time.Time        `json:"updated_at"`
}

type PublicLineItem struct {
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Options   []string        `json:"options,omitempty"`
}

// Public strips internal ids and contact snapshots.
func (o *Order) Public() PublicView {
	items := make([]PublicLineItem, 0, len(o.Items))
	for _, item := range o.Items {
		var options []string
		for _, opt := range item.Options {
			options = append(options, opt.OptionName)
		}
		items = append(items, PublicLineItem{
			Name:      item.ProductName,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
			Options:   options,
		})
	}

	return PublicView{
		OrderNumber:   o.OrderNumber,
		Status:        o.Status,
		PaymentMethod: o.PaymentMethod,
		Subtotal:      o.Subtotal,
		Discount:      o.Discount,
		DeliveryCost:  o.DeliveryCost,
		Total:         o.Total,
		DeliveryType:  o.Delivery.Method,
		Items:         items,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
	}
}
