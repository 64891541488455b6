package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/vasiliy-maslov/storefront/internal/gateway"
	"github.com/vasiliy-maslov/storefront/internal/handler"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"golang.org/x/crypto/bcrypt"
)

type MockOrderService struct {
	mock.Mock
}

func (m *MockOrderService) CreateOrder(ctx context.Context, draft *order.Draft) (*order.Order, error) {
	args := m.Called(ctx, draft)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrderByNumber(ctx context.Context, orderNumber string) (*order.Order, error) {
	args := m.Called(ctx, orderNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) GetOrderByTrackingToken(ctx context.Context, token string) (*order.Order, error) {
	args := m.Called(ctx, token)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*order.Order), args.Error(1)
}

func (m *MockOrderService) ChangeStatus(ctx context.Context, orderNumber string, to order.Status, actor order.Actor, reason string) (order.StatusChange, error) {
	args := m.Called(ctx, orderNumber, to, actor, reason)
	return args.Get(0).(order.StatusChange), args.Error(1)
}

func (m *MockOrderService) ApplyPaymentStatus(ctx context.Context, orderNumber string, to order.Status, reason string) (order.StatusChange, error) {
	args := m.Called(ctx, orderNumber, to, reason)
	return args.Get(0).(order.StatusChange), args.Error(1)
}

func (m *MockOrderService) StatusHistory(ctx context.Context, orderNumber string) ([]order.StatusChange, error) {
	args := m.Called(ctx, orderNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]order.StatusChange), args.Error(1)
}

type MockCallbackProcessor struct {
	mock.Mock
}

func (m *MockCallbackProcessor) HandleCallback(ctx context.Context, cb *gateway.Callback) (*gateway.Ack, error) {
	args := m.Called(ctx, cb)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*gateway.Ack), args.Error(1)
}

type stubPayments struct {
	req *gateway.PaymentRequest
	err error
}

func (s stubPayments) BuildPaymentRequest(*order.Order) (*gateway.PaymentRequest, error) {
	return s.req, s.err
}

func sampleOrder() *order.Order {
	return &order.Order{
		SequenceID:    305317,
		OrderNumber:   "305317",
		TrackingToken: "5896137223",
		Status:        order.StatusCreated,
		PaymentMethod: order.PaymentBankTransfer,
		Subtotal:      decimal.RequireFromString("260"),
		Total:         decimal.RequireFromString("260"),
		Customer:      order.Customer{FirstName: "Olena", LastName: "Koval", Phone: "+380501112233", Email: "olena@example.com"},
		Delivery:      order.Delivery{Method: "nova-poshta"},
		Items: []order.LineItem{
			{ID: 1, ProductID: 10, ProductCode: "P1", ProductName: "Widget", Quantity: 2, UnitPrice: decimal.RequireFromString("100")},
		},
		CreatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

const checkoutBody = `{
	"customer": {"first_name": "Olena", "last_name": "Koval", "phone": "+380501112233", "email": "olena@example.com"},
	"delivery": {"method": "nova-poshta", "city": "Kyiv", "warehouse": "Branch 12"},
	"payment_method": "bank-transfer",
	"discount": "0",
	"delivery_cost": 0,
	"total": "260.00",
	"items": [
		{"product_code": "P1", "quantity": 2},
		{"product_code": "P2", "quantity": 1, "options": ["O1"]}
	]
}`

func orderRouter(svc order.Service, payments handler.PaymentBuilder) *chi.Mux {
	router := chi.NewRouter()
	handler.NewOrderHandler(svc, payments).RegisterRoutes(router)
	return router
}

func TestOrderHandler_handleCheckout_Success(t *testing.T) {
	mockService := new(MockOrderService)
	router := orderRouter(mockService, stubPayments{})

	mockService.On("CreateOrder", mock.Anything, mock.MatchedBy(func(d *order.Draft) bool {
		return d.PaymentMethod == order.PaymentBankTransfer &&
			len(d.Items) == 2 &&
			d.Items[1].OptionCodes[0] == "O1" &&
			d.ClaimedTotal != nil && d.ClaimedTotal.Equal(decimal.NewFromInt(260)) &&
			d.ClaimedSubtotal == nil
	})).Return(sampleOrder(), nil).Once()

	req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(checkoutBody))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp handler.CheckoutResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Equal(t, handler.CheckoutResponse{
		OrderNumber:   "305317",
		TrackingToken: "5896137223",
		Status:        order.StatusCreated,
		Total:         "260.00",
	}, resp)
	mockService.AssertExpectations(t)
}

func TestOrderHandler_handleCheckout_Errors(t *testing.T) {
	tests := []struct {
		name        string
		body        string
		serviceErr  error
		wantCode    int
		wantDetails []string
		wantRetry   bool
	}{
		{
			name:     "malformed_json",
			body:     `{"customer":`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:     "unknown_field",
			body:     `{"customer":{"first_name":"a","last_name":"b","phone":"1234567"},"delivery":{"method":"x"},"payment_method":"bank-transfer","items":[{"product_code":"P1","quantity":1,"unit_price":1}]}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:        "validation",
			body:        `{"customer":{"first_name":"","last_name":"b","phone":"1234567"},"delivery":{"method":"x"},"payment_method":"barter","items":[]}`,
			wantCode:    http.StatusBadRequest,
			wantDetails: []string{"customer.first_name", "payment_method", "items"},
		},
		{
			name:        "zero_quantity",
			body:        `{"customer":{"first_name":"a","last_name":"b","phone":"1234567"},"delivery":{"method":"x"},"payment_method":"bank-transfer","items":[{"product_code":"P1","quantity":0}]}`,
			wantCode:    http.StatusBadRequest,
			wantDetails: []string{"items[0].quantity"},
		},
		{
			name:       "unknown_product",
			body:       checkoutBody,
			serviceErr: fmt.Errorf("order: item 1: %w", order.ErrUnresolvedReference),
			wantCode:   http.StatusUnprocessableEntity,
		},
		{
			name:       "discount_over_subtotal",
			body:       checkoutBody,
			serviceErr: order.ErrValidation,
			wantCode:   http.StatusBadRequest,
		},
		{
			name:       "store_unavailable",
			body:       checkoutBody,
			serviceErr: order.ErrPersistence,
			wantCode:   http.StatusServiceUnavailable,
			wantRetry:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			router := orderRouter(mockService, stubPayments{})
			if tt.serviceErr != nil {
				mockService.On("CreateOrder", mock.Anything, mock.Anything).Return(nil, tt.serviceErr).Once()
			}

			req := httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(tt.body))
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			require.Equal(t, tt.wantCode, rr.Code, rr.Body.String())

			if len(tt.wantDetails) > 0 {
				var resp handler.ValidationErrorResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				for _, field := range tt.wantDetails {
					assert.Contains(t, resp.Details, field)
				}
				return
			}

			var resp handler.ErrorResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
			assert.NotEmpty(t, resp.Error)
			assert.Equal(t, tt.wantRetry, resp.Retryable)

			if tt.serviceErr == nil {
				mockService.AssertNotCalled(t, "CreateOrder", mock.Anything, mock.Anything)
			}
		})
	}
}

func TestOrderHandler_handleCheckout_SubCentAmountsAreValidationErrors(t *testing.T) {
	// The repository is never reached: the draft fails validation first.
	router := orderRouter(order.NewService(nil), stubPayments{})

	for _, body := range []string{
		strings.Replace(checkoutBody, `"discount": "0"`, `"discount": "10.005"`, 1),
		strings.Replace(checkoutBody, `"delivery_cost": 0`, `"delivery_cost": 0.004`, 1),
	} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/checkout", bytes.NewBufferString(body)))

		require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
		var resp handler.ErrorResponse
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.False(t, resp.Retryable)
		assert.Contains(t, resp.Error, "fractions of a cent")
	}
}

func TestOrderHandler_handleTrack(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := orderRouter(mockService, stubPayments{})
		mockService.On("GetOrderByTrackingToken", mock.Anything, "5896137223").Return(sampleOrder(), nil).Once()

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/track/5896137223", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var raw map[string]any
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &raw))
		assert.Equal(t, "305317", raw["order_number"])
		assert.NotContains(t, raw, "tracking_token")
		assert.NotContains(t, raw, "customer")
		assert.NotContains(t, rr.Body.String(), "+380501112233")
		assert.NotContains(t, rr.Body.String(), "product_id")
	})

	t.Run("not_found", func(t *testing.T) {
		mockService := new(MockOrderService)
		router := orderRouter(mockService, stubPayments{})
		mockService.On("GetOrderByTrackingToken", mock.Anything, "0000000000").Return(nil, order.ErrOrderNotFound).Once()

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/track/0000000000", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestOrderHandler_handlePaymentRequest(t *testing.T) {
	t.Run("signed_form", func(t *testing.T) {
		mockService := new(MockOrderService)
		payments := stubPayments{req: &gateway.PaymentRequest{OrderReference: "305317", Amount: "260.00", MerchantSignature: "abc"}}
		router := orderRouter(mockService, payments)
		mockService.On("GetOrderByTrackingToken", mock.Anything, "5896137223").Return(sampleOrder(), nil).Once()

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/track/5896137223/payment", nil))

		require.Equal(t, http.StatusOK, rr.Code)
		var resp gateway.PaymentRequest
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
		assert.Equal(t, "abc", resp.MerchantSignature)
	})

	t.Run("not_applicable", func(t *testing.T) {
		mockService := new(MockOrderService)
		payments := stubPayments{err: order.ErrPaymentNotApplicable}
		router := orderRouter(mockService, payments)
		mockService.On("GetOrderByTrackingToken", mock.Anything, "5896137223").Return(sampleOrder(), nil).Once()

		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/track/5896137223/payment", nil))
		assert.Equal(t, http.StatusConflict, rr.Code)
	})
}

const callbackJSON = `{"merchantAccount":"test_merch_n1","orderReference":"305317","amount":100.00,"currency":"UAH",` +
	`"authCode":"541963","cardPan":"41****8217","transactionStatus":"Approved","reasonCode":1100,` +
	`"processingDate":1700000050,"merchantSignature":"d4eeac7e917fbe299c06ceafb6207181"}`

func TestCallbackHandler_handleCallback(t *testing.T) {
	ack := &gateway.Ack{OrderReference: "305317", Status: "accept", Time: 1700000100, Signature: "862070f017290950aa8a8484db2bb7bb"}
	formBody := url.Values{callbackJSON: []string{""}}.Encode()

	tests := []struct {
		name        string
		body        string
		contentType string
		processErr  error
		wantCode    int
		wantAck     bool
	}{
		{name: "json_body", body: callbackJSON, contentType: "application/json", wantCode: http.StatusOK, wantAck: true},
		{name: "form_wrapped_json", body: formBody, contentType: "application/x-www-form-urlencoded", wantCode: http.StatusOK, wantAck: true},
		{name: "garbage", body: "not a callback", contentType: "text/plain", wantCode: http.StatusBadRequest},
		{name: "bad_signature", body: callbackJSON, contentType: "application/json", processErr: gateway.ErrInvalidSignature, wantCode: http.StatusForbidden},
		{name: "stale", body: callbackJSON, contentType: "application/json", processErr: gateway.ErrStaleCallback, wantCode: http.StatusForbidden},
		{name: "store_unavailable", body: callbackJSON, contentType: "application/json", processErr: order.ErrPersistence, wantCode: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			processor := new(MockCallbackProcessor)
			router := chi.NewRouter()
			handler.NewCallbackHandler(processor).RegisterRoutes(router)

			matchCallback := mock.MatchedBy(func(cb *gateway.Callback) bool {
				return cb.OrderReference == "305317" && cb.Amount.String() == "100.00" && cb.ReasonCode.String() == "1100"
			})
			if tt.processErr != nil {
				processor.On("HandleCallback", mock.Anything, matchCallback).Return(nil, tt.processErr).Once()
			} else if tt.wantAck {
				processor.On("HandleCallback", mock.Anything, matchCallback).Return(ack, nil).Once()
			}

			req := httptest.NewRequest(http.MethodPost, "/payments/callback", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", tt.contentType)
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			require.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			if tt.wantAck {
				var got gateway.Ack
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
				assert.Equal(t, *ack, got)
			}
			processor.AssertExpectations(t)
		})
	}
}

func operatorRouter(t *testing.T, svc order.Service) *chi.Mux {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("manager-key"), bcrypt.MinCost)
	require.NoError(t, err)

	router := chi.NewRouter()
	router.Group(func(r chi.Router) {
		r.Use(handler.RequireOperator(map[string]string{"manager": string(hash)}))
		handler.NewAdminHandler(svc).RegisterRoutes(r)
	})
	return router
}

func TestAdminHandler_Auth(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		key      string
		noAuth   bool
		wantCode int
	}{
		{name: "no_credentials", noAuth: true, wantCode: http.StatusUnauthorized},
		{name: "wrong_key", user: "manager", key: "guess", wantCode: http.StatusUnauthorized},
		{name: "unknown_operator", user: "intruder", key: "manager-key", wantCode: http.StatusUnauthorized},
		{name: "valid", user: "manager", key: "manager-key", wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			router := operatorRouter(t, mockService)
			mockService.On("GetOrderByNumber", mock.Anything, "305317").Return(sampleOrder(), nil).Maybe()

			req := httptest.NewRequest(http.MethodGet, "/admin/orders/305317", nil)
			if !tt.noAuth {
				req.SetBasicAuth(tt.user, tt.key)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantCode, rr.Code)
			if tt.wantCode == http.StatusOK {
				var got map[string]any
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
				assert.Equal(t, "5896137223", got["tracking_token"])
				assert.Contains(t, got, "customer")
			}
		})
	}
}

func TestAdminHandler_handleChangeStatus(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		change     order.StatusChange
		serviceErr error
		callSvc    bool
		wantCode   int
	}{
		{
			name:     "changed",
			body:     `{"status":"packed","reason":"picked"}`,
			change:   order.StatusChange{OrderNumber: "305317", From: order.StatusPaid, To: order.StatusPacked},
			callSvc:  true,
			wantCode: http.StatusOK,
		},
		{
			name:     "unknown_status",
			body:     `{"status":"lost"}`,
			wantCode: http.StatusBadRequest,
		},
		{
			name:       "rejected_transition",
			body:       `{"status":"awaiting_payment"}`,
			serviceErr: order.ErrInvalidStatusTransition,
			callSvc:    true,
			wantCode:   http.StatusConflict,
		},
		{
			name:       "not_found",
			body:       `{"status":"packed"}`,
			serviceErr: order.ErrOrderNotFound,
			callSvc:    true,
			wantCode:   http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockOrderService)
			router := operatorRouter(t, mockService)
			if tt.callSvc {
				mockService.On("ChangeStatus", mock.Anything, "305317", mock.AnythingOfType("order.Status"), order.OperatorActor("manager"), mock.Anything).
					Return(tt.change, tt.serviceErr).Once()
			}

			req := httptest.NewRequest(http.MethodPatch, "/admin/orders/305317/status", bytes.NewBufferString(tt.body))
			req.SetBasicAuth("manager", "manager-key")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			require.Equal(t, tt.wantCode, rr.Code, rr.Body.String())
			if tt.wantCode == http.StatusOK {
				var resp handler.ChangeStatusResponse
				require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
				assert.True(t, resp.Changed)
				assert.Equal(t, order.StatusPacked, resp.NewStatus)
			}
			mockService.AssertExpectations(t)
		})
	}
}

func TestAdminHandler_handleHistory(t *testing.T) {
	mockService := new(MockOrderService)
	router := operatorRouter(t, mockService)
	history := []order.StatusChange{
		{OrderNumber: "305317", To: order.StatusCreated, Actor: "system", Source: order.SourceSystem},
		{OrderNumber: "305317", From: order.StatusCreated, To: order.StatusAccepted, Actor: "manager", Source: order.SourceAdmin},
	}
	mockService.On("StatusHistory", mock.Anything, "305317").Return(history, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/admin/orders/305317/history", nil)
	req.SetBasicAuth("manager", "manager-key")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code)
	var got []order.StatusChange
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
	assert.Len(t, got, 2)
	assert.Equal(t, "manager", got[1].Actor)
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealthHandler(t *testing.T) {
	for _, tt := range []struct {
		name     string
		err      error
		wantCode int
	}{
		{name: "ok", wantCode: http.StatusOK},
		{name: "db_down", err: errors.New("connection refused"), wantCode: http.StatusServiceUnavailable},
	} {
		t.Run(tt.name, func(t *testing.T) {
			router := chi.NewRouter()
			handler.NewHealthHandler(stubPinger{err: tt.err}).RegisterRoutes(router)

			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
			assert.Equal(t, tt.wantCode, rr.Code)
		})
	}
}
