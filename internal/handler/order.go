package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/storefront/internal/gateway"
	"github.com/vasiliy-maslov/storefront/internal/order"
)

type CustomerRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"required,min=7,max=20"`
	Email     string `json:"email,omitempty" validate:"omitempty,email,max=254"`
}

type RecipientRequest struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"required,max=100"`
	Phone     string `json:"phone" validate:"required,min=7,max=20"`
}

type DeliveryRequest struct {
	Method       string `json:"method" validate:"required,max=64"`
	City         string `json:"city,omitempty" validate:"max=200"`
	CityRef      string `json:"city_ref,omitempty" validate:"max=64"`
	Warehouse    string `json:"warehouse,omitempty" validate:"max=300"`
	WarehouseRef string `json:"warehouse_ref,omitempty" validate:"max=64"`
	Address      string `json:"address,omitempty" validate:"max=300"`
}

type ItemRequest struct {
	ProductCode string   `json:"product_code" validate:"required,max=64"`
	Quantity    int      `json:"quantity" validate:"required,min=1,max=1000"`
	Options     []string `json:"options,omitempty" validate:"omitempty,max=20,dive,required,max=64"`
}

// CheckoutRequest carries no prices for items: they come from the catalog.
// Subtotal and Total are what the storefront displayed and are only compared.
type CheckoutRequest struct {
	Customer      CustomerRequest   `json:"customer" validate:"required"`
	Recipient     *RecipientRequest `json:"recipient,omitempty" validate:"omitempty"`
	Delivery      DeliveryRequest   `json:"delivery" validate:"required"`
	PaymentMethod string            `json:"payment_method" validate:"required,oneof=online-gateway cash-on-delivery bank-transfer"`
	PromoCode     string            `json:"promo_code,omitempty" validate:"max=64"`
	Comment       string            `json:"comment,omitempty" validate:"max=1000"`
	Discount      decimal.Decimal   `json:"discount"`
	DeliveryCost  decimal.Decimal   `json:"delivery_cost"`
	Subtotal      *decimal.Decimal  `json:"subtotal,omitempty"`
	Total         *decimal.Decimal  `json:"total,omitempty"`
	Items         []ItemRequest     `json:"items" validate:"required,min=1,max=100,dive"`
}

func (req *CheckoutRequest) toDraft() *order.Draft {
	draft := &order.Draft{
		Customer: order.Customer{
			FirstName: req.Customer.FirstName,
			LastName:  req.Customer.LastName,
			Phone:     req.Customer.Phone,
			Email:     req.Customer.Email,
		},
		Delivery: order.Delivery{
			Method:       req.Delivery.Method,
			City:         req.Delivery.City,
			CityRef:      req.Delivery.CityRef,
			Warehouse:    req.Delivery.Warehouse,
			WarehouseRef: req.Delivery.WarehouseRef,
			Address:      req.Delivery.Address,
		},
		PaymentMethod:   order.PaymentMethod(req.PaymentMethod),
		PromoCode:       req.PromoCode,
		Comment:         req.Comment,
		Discount:        req.Discount,
		DeliveryCost:    req.DeliveryCost,
		ClaimedSubtotal: req.Subtotal,
		ClaimedTotal:    req.Total,
	}
	if req.Recipient != nil {
		draft.Recipient = &order.Recipient{
			FirstName: req.Recipient.FirstName,
			LastName:  req.Recipient.LastName,
			Phone:     req.Recipient.Phone,
		}
	}
	for _, item := range req.Items {
		draft.Items = append(draft.Items, order.DraftItem{
			ProductCode: item.ProductCode,
			Quantity:    item.Quantity,
			OptionCodes: item.Options,
		})
	}
	return draft
}

type CheckoutResponse struct {
	OrderNumber   string       `json:"order_number"`
	TrackingToken string       `json:"tracking_token"`
	Status        order.Status `json:"status"`
	Total         string       `json:"total"`
}

// PaymentBuilder signs outbound payment forms.
type PaymentBuilder interface {
	BuildPaymentRequest(o *order.Order) (*gateway.PaymentRequest, error)
}

type OrderHandler struct {
	service  order.Service
	payments PaymentBuilder
	validate *validator.Validate
}

func NewOrderHandler(service order.Service, payments PaymentBuilder) *OrderHandler {
	return &OrderHandler{
		service:  service,
		payments: payments,
		validate: newValidator(),
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Post("/checkout", h.handleCheckout)
	router.Get("/track/{token}", h.handleTrack)
	router.Post("/track/{token}/payment", h.handlePaymentRequest)
}

func (h *OrderHandler) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var requestPayload CheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	created, err := h.service.CreateOrder(r.Context(), requestPayload.toDraft())
	if err != nil {
		log.Error().Err(err).Msg("Failed to create order via service")
		respondWithServiceError(w, err, "Failed to create order")
		return
	}

	respondWithJSON(w, http.StatusCreated, CheckoutResponse{
		OrderNumber:   created.OrderNumber,
		TrackingToken: created.TrackingToken,
		Status:        created.Status,
		Total:         created.Total.StringFixed(2),
	})
}

func (h *OrderHandler) handleTrack(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	found, err := h.service.GetOrderByTrackingToken(r.Context(), token)
	if err != nil {
		if !errors.Is(err, order.ErrOrderNotFound) {
			log.Error().Err(err).Msg("Failed to get order by tracking token via service")
		}
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, found.Public())
}

func (h *OrderHandler) handlePaymentRequest(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	found, err := h.service.GetOrderByTrackingToken(r.Context(), token)
	if err != nil {
		if !errors.Is(err, order.ErrOrderNotFound) {
			log.Error().Err(err).Msg("Failed to get order for payment request via service")
		}
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	paymentRequest, err := h.payments.BuildPaymentRequest(found)
	if err != nil {
		log.Warn().Err(err).Str("order_number", found.OrderNumber).Msg("Payment request refused")
		respondWithServiceError(w, err, "Failed to build payment request")
		return
	}

	respondWithJSON(w, http.StatusOK, paymentRequest)
}
