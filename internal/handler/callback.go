package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/gateway"
)

// CallbackProcessor verifies and applies gateway callbacks.
type CallbackProcessor interface {
	HandleCallback(ctx context.Context, cb *gateway.Callback) (*gateway.Ack, error)
}

type CallbackHandler struct {
	processor CallbackProcessor
}

func NewCallbackHandler(processor CallbackProcessor) *CallbackHandler {
	return &CallbackHandler{processor: processor}
}

func (h *CallbackHandler) RegisterRoutes(router chi.Router) {
	router.Post("/payments/callback", h.handleCallback)
}

func (h *CallbackHandler) handleCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read callback body")
		respondWithError(w, http.StatusBadRequest, "Invalid callback payload")
		return
	}

	cb, err := decodeCallback(body)
	if err != nil {
		log.Warn().Err(err).Bool("security", true).Msg("Failed to decode callback body")
		respondWithError(w, http.StatusBadRequest, "Invalid callback payload")
		return
	}

	ack, err := h.processor.HandleCallback(r.Context(), cb)
	if err != nil {
		code := mapErrorToStatusCode(err)
		if code >= http.StatusInternalServerError {
			log.Error().Err(err).Str("order_number", cb.OrderReference).Msg("Failed to process payment callback")
		}
		respondWithServiceError(w, err, "Failed to process callback")
		return
	}

	respondWithJSON(w, http.StatusOK, ack)
}

// decodeCallback accepts the JSON body the gateway documents and the variant
// where the same JSON arrives as the single key of a urlencoded form.
func decodeCallback(body []byte) (*gateway.Callback, error) {
	var cb gateway.Callback
	jsonErr := json.Unmarshal(body, &cb)
	if jsonErr == nil {
		return &cb, nil
	}

	form, err := url.ParseQuery(string(body))
	if err != nil || len(form) != 1 {
		return nil, jsonErr
	}
	for key := range form {
		if err := json.Unmarshal([]byte(key), &cb); err != nil {
			return nil, errors.Join(jsonErr, err)
		}
	}
	return &cb, nil
}
