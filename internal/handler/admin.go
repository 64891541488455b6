package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/order"
	"golang.org/x/crypto/bcrypt"
)

type operatorContextKey struct{}

// OperatorFromContext returns the authenticated operator name.
func OperatorFromContext(ctx context.Context) (string, bool) {
	name, ok := ctx.Value(operatorContextKey{}).(string)
	return name, ok && name != ""
}

// RequireOperator checks HTTP basic credentials against bcrypt hashes of the
// operators' API keys.
func RequireOperator(operators map[string]string) func(http.Handler) http.Handler {
	// Unknown names are compared against this hash so they cost the same as
	// wrong keys.
	decoy, err := bcrypt.GenerateFromPassword([]byte("decoy-operator-key"), bcrypt.DefaultCost)
	if err != nil {
		log.Error().Err(err).Msg("Failed to generate decoy operator hash")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			name, key, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="admin"`)
				respondWithError(w, http.StatusUnauthorized, "Operator credentials required")
				return
			}

			hash, known := operators[name]
			if !known {
				hash = string(decoy)
			}
			if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil || !known {
				log.Warn().Bool("security", true).Str("operator", name).Msg("Rejected admin request with invalid credentials")
				respondWithError(w, http.StatusUnauthorized, "Invalid operator credentials")
				return
			}

			ctx := context.WithValue(r.Context(), operatorContextKey{}, name)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

type ChangeStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=created accepted awaiting_payment paid packed shipped arrived completed cancelled"`
	Reason string `json:"reason,omitempty" validate:"max=500"`
}

type ChangeStatusResponse struct {
	OrderNumber string       `json:"order_number"`
	OldStatus   order.Status `json:"old_status"`
	NewStatus   order.Status `json:"new_status"`
	Changed     bool         `json:"changed"`
}

type AdminHandler struct {
	service  order.Service
	validate *validator.Validate
}

func NewAdminHandler(service order.Service) *AdminHandler {
	return &AdminHandler{
		service:  service,
		validate: newValidator(),
	}
}

// RegisterRoutes mounts the admin endpoints. The router is expected to carry
// RequireOperator already.
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Get("/admin/orders/{orderNumber}", h.handleGetOrder)
	router.Get("/admin/orders/{orderNumber}/history", h.handleHistory)
	router.Patch("/admin/orders/{orderNumber}/status", h.handleChangeStatus)
}

func (h *AdminHandler) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")

	found, err := h.service.GetOrderByNumber(r.Context(), orderNumber)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("Failed to get order by number via service")
		respondWithServiceError(w, err, "Failed to get order")
		return
	}

	respondWithJSON(w, http.StatusOK, found)
}

func (h *AdminHandler) handleHistory(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")

	changes, err := h.service.StatusHistory(r.Context(), orderNumber)
	if err != nil {
		log.Error().Err(err).Str("order_number", orderNumber).Msg("Failed to get status history via service")
		respondWithServiceError(w, err, "Failed to get status history")
		return
	}

	respondWithJSON(w, http.StatusOK, changes)
}

func (h *AdminHandler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	orderNumber := chi.URLParam(r, "orderNumber")
	operator, ok := OperatorFromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Operator credentials required")
		return
	}

	var requestPayload ChangeStatusRequest
	if !decodeAndValidate(w, r, h.validate, &requestPayload) {
		return
	}

	change, err := h.service.ChangeStatus(r.Context(), orderNumber, order.Status(requestPayload.Status), order.OperatorActor(operator), requestPayload.Reason)
	if err != nil {
		log.Warn().Err(err).Str("order_number", orderNumber).Str("operator", operator).Msg("Failed to change order status via service")
		respondWithServiceError(w, err, "Failed to change order status")
		return
	}

	respondWithJSON(w, http.StatusOK, ChangeStatusResponse{
		OrderNumber: orderNumber,
		OldStatus:   change.From,
		NewStatus:   change.To,
		Changed:     change.Changed(),
	})
}
