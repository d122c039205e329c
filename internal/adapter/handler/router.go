package handler

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// NewRouter registers the REST routes. An empty authToken disables bearer
// authentication (development mode).
func NewRouter(h *RestHandler, authToken string, logger zerolog.Logger) *mux.Router {
	router := mux.NewRouter()

	// Health check
	router.HandleFunc("/api/v1/health", h.Health).Methods("GET")

	// Commands
	router.HandleFunc("/api/v1/test", h.TestModule).Methods("GET")
	router.HandleFunc("/api/v1/alerts", h.GetAlerts).Methods("GET")
	router.HandleFunc("/api/v1/alerts/events", h.GetAlertedEvents).Methods("GET")
	router.HandleFunc("/api/v1/alerts/status", h.UpdateAlertStatus).Methods("POST")
	router.HandleFunc("/api/v1/alerts/close", h.CloseAlert).Methods("POST")

	// Stored incidents
	router.HandleFunc("/api/v1/incidents", h.GetIncidentFeed).Methods("GET")
	router.HandleFunc("/api/v1/incidents/{alert_id}", h.GetIncident).Methods("GET")

	// Metrics endpoint (requires authentication)
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.Use(loggingMiddleware(logger))
	router.Use(authMiddleware(authToken, logger))

	return router
}

func loggingMiddleware(logger zerolog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Dur("duration", time.Since(start)).
				Msg("request handled")
		})
	}
}

func authMiddleware(expectedToken string, logger zerolog.Logger) mux.MiddlewareFunc {
	if expectedToken == "" {
		logger.Warn().Msg("REST API auth token not set - auth disabled")
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Skip auth for health check
			if r.URL.Path == "/api/v1/health" || expectedToken == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := r.Header.Get("Authorization")
			if subtle.ConstantTimeCompare([]byte(token), []byte("Bearer "+expectedToken)) != 1 {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
