package transport

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/storefront/internal/handler"
)

type Handlers struct {
	Health    *handler.HealthHandler
	Orders    *handler.OrderHandler
	Callbacks *handler.CallbackHandler
	Admin     *handler.AdminHandler
	// Operators maps operator names to bcrypt key hashes. Admin routes are
	// not mounted when it is empty.
	Operators map[string]string
}

func NewRouter(h Handlers) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)

	h.Health.RegisterRoutes(r)
	h.Orders.RegisterRoutes(r)
	h.Callbacks.RegisterRoutes(r)

	if len(h.Operators) == 0 {
		log.Warn().Msg("No admin operators configured, admin routes disabled")
	} else {
		r.Group(func(admin chi.Router) {
			admin.Use(handler.RequireOperator(h.Operators))
			h.Admin.RegisterRoutes(admin)
		})
	}

	return r
}

// RequestLogger writes one zerolog line per request.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			event := log.Info()
			if status >= http.StatusInternalServerError {
				event = log.Error()
			} else if status >= http.StatusBadRequest {
				event = log.Warn()
			}
			event.
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Str("remote_addr", r.RemoteAddr).
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Msg("http request")
		}()

		next.ServeHTTP(ww, r)
	})
}
