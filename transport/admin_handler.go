package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"PerpExchange/internal/domain/models/transport"
	"PerpExchange/internal/services/trading"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// AdminHandler tunes the engine's runtime knobs. Guarded by a shared token
// until proper operator auth lands.
type AdminHandler struct {
	log      *slog.Logger
	params   *trading.Params
	validate *validator.Validate
	token    string
}

func NewAdminHandler(log *slog.Logger, params *trading.Params, validate *validator.Validate, token string) *AdminHandler {
	return &AdminHandler{
		log:      log,
		params:   params,
		validate: validate,
		token:    token,
	}
}

func (h *AdminHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)
	router.Use(h.authMiddleware)

	router.Route("/api/admin", func(router chi.Router) {
		router.Post("/max-position-size", h.PostSetMaxPositionSize)
		router.Post("/market-orders-timeout", h.PostSetMarketOrdersTimeout)
		router.Post("/pause", h.PostSetPaused)
		router.Post("/halt", h.PostSetHalted)
	})

	return router
}

func (h *AdminHandler) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.token == "" || r.Header.Get("X-Admin-Token") != h.token {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(transport.ErrorResponse{
				Error: "Unauthorized",
			})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *AdminHandler) PostSetMaxPositionSize(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.SetMaxPositionSizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error("Failed to decode request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Invalid request format",
		})
		return
	}

	if err := h.validate.Struct(req); err != nil || req.Value.IsNegative() {
		h.log.Error("Validation failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Value must be a non-negative number",
		})
		return
	}

	h.params.SetMaxPositionSize(req.Value)
	h.log.Info("max position size updated", "value", req.Value)
	w.WriteHeader(http.StatusOK)
}

func (h *AdminHandler) PostSetMarketOrdersTimeout(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.SetMarketOrdersTimeoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error("Failed to decode request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Invalid request format",
		})
		return
	}

	if err := h.validate.Struct(req); err != nil {
		h.log.Error("Validation failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Blocks must be a positive number",
		})
		return
	}

	h.params.SetMarketOrdersTimeout(req.Blocks)
	h.log.Info("market orders timeout updated", "blocks", req.Blocks)
	w.WriteHeader(http.StatusOK)
}

func (h *AdminHandler) PostSetPaused(w http.ResponseWriter, r *http.Request) {
	h.setSwitch(w, r, h.params.SetPaused, "paused")
}

func (h *AdminHandler) PostSetHalted(w http.ResponseWriter, r *http.Request) {
	h.setSwitch(w, r, h.params.SetHalted, "halted")
}

func (h *AdminHandler) setSwitch(w http.ResponseWriter, r *http.Request, set func(bool), name string) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.SetSwitchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error("Failed to decode request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Invalid request format",
		})
		return
	}

	set(req.On)
	h.log.Info("breaker switched", "breaker", name, "on", req.On)
	w.WriteHeader(http.StatusOK)
}
