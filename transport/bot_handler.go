package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/domain/models/transport"
	"PerpExchange/internal/services/botgate"
	"PerpExchange/internal/storage/postgres"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
)

// BotHandler exposes the bot execution gate over HTTP so external keepers
// can file triggered orders alongside the in-process one.
type BotHandler struct {
	log      *slog.Logger
	gate     botGate
	validate *validator.Validate
}

type botGate interface {
	ExecuteBotOrder(ctx context.Context, orderType models.BotOrderType, trader, pairIndex, index int64) (uint64, error)
}

func NewBotHandler(log *slog.Logger, gate botGate, validate *validator.Validate) *BotHandler {
	return &BotHandler{
		log:      log,
		gate:     gate,
		validate: validate,
	}
}

func (h *BotHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Post("/api/bot/execute", h.PostExecute)

	return router
}

func (h *BotHandler) PostExecute(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.ExecuteBotOrderRequest
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
			Error: "Invalid bot order parameters",
		})
		return
	}

	orderID, err := h.gate.ExecuteBotOrder(r.Context(), req.OrderType, req.Trader, req.PairIndex, req.Index)
	if err != nil {
		h.log.Info("Bot order rejected", "error", err, "trader", req.Trader, "type", req.OrderType)

		switch {
		case errors.Is(err, botgate.ErrHalted):
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Trading is halted"})
		case errors.Is(err, botgate.ErrPendingBotOrder):
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "A bot order is already in flight for this trade"})
		case errors.Is(err, botgate.ErrBeingClosed):
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Trade is being market closed"})
		case errors.Is(err, botgate.ErrCooldownActive):
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Trade was updated too recently"})
		case errors.Is(err, botgate.ErrNoTp):
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Trade has no take profit set"})
		case errors.Is(err, botgate.ErrNoSl):
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Trade has no stop loss set"})
		case errors.Is(err, botgate.ErrAlreadyProtected):
			w.WriteHeader(http.StatusConflict)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Stop loss already covers the liquidation price"})
		case errors.Is(err, botgate.ErrUnknownOrderType):
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Unknown bot order type"})
		case errors.Is(err, postgres.ErrTradeNotExists):
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Trade not found"})
		case errors.Is(err, postgres.ErrLimitOrderNotExists):
			w.WriteHeader(http.StatusNotFound)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Limit order not found"})
		default:
			w.WriteHeader(http.StatusInternalServerError)
			json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Failed to execute bot order"})
		}
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(transport.ExecuteBotOrderResponse{
		OrderID: orderID,
	})
}
