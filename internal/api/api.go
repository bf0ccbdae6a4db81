package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"stockagent/pkg/stockagent"
)

// NewRouter builds the HTTP API router.
func NewRouter(core *stockagent.Core, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(recoveryLoggingMiddleware(logger))
	r.Use(requestLoggingMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	h := &handler{core: core, logger: logger}

	r.Get("/api/health", h.health)
	r.Get("/api/tools", h.listTools)

	// Tools
	r.Post("/api/tools/stock_info", h.stockInfo)
	r.Post("/api/tools/daily", h.dailyData)
	r.Post("/api/tools/financial_report", h.financialReport)
	r.Post("/api/tools/indicators", h.indicators)
	r.Post("/api/tools/parse_request", h.parseRequest)
	r.Post("/api/tools/report", h.analyzeRequest)

	// Report archive
	r.Get("/api/reports", h.listReports)

	return r
}

type handler struct {
	core   *stockagent.Core
	logger *slog.Logger
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError emits the tool error shape: a JSON object whose only key is
// "error". Internals stay coded; this boundary is where errors flatten to a
// message. The message is also handed to the request-logging middleware so
// failed tool calls log what went wrong.
func writeError(w http.ResponseWriter, status int, message string) {
	if lw, ok := w.(interface{ SetErrorMessage(string) }); ok {
		lw.SetErrorMessage(message)
	}
	writeJSON(w, status, map[string]string{"error": message})
}
