package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/domain/models/transport"
	"PerpExchange/internal/services/risk"
	"PerpExchange/internal/services/trading"
	"PerpExchange/internal/storage/postgres"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

type TradeHandler struct {
	log            *slog.Logger
	tradingService tradingService
	validate       *validator.Validate
}

type tradingService interface {
	OpenTrade(ctx context.Context, trade models.Trade, orderType models.OpenOrderType, slippageP decimal.Decimal) (uint64, bool, error)
	CloseTradeMarket(ctx context.Context, trader, pairIndex, index int64) (uint64, error)
	UpdateOpenLimitOrder(ctx context.Context, trader, pairIndex, index int64, price, tp, sl decimal.Decimal) error
	CancelOpenLimitOrder(ctx context.Context, trader, pairIndex, index int64) error
	UpdateTp(ctx context.Context, trader, pairIndex, index int64, newTp decimal.Decimal) error
	UpdateSl(ctx context.Context, trader, pairIndex, index int64, newSl decimal.Decimal) (uint64, bool, error)
	OpenTradeMarketTimeout(ctx context.Context, trader int64, orderID uint64) error
	CloseTradeMarketTimeout(ctx context.Context, trader int64, orderID uint64) error
	GetUserTrades(ctx context.Context, trader int64) ([]models.Trade, error)
	RequestStatus(ctx context.Context, orderID uint64) (string, error)
}

func NewTradeHandler(log *slog.Logger, tradingService tradingService, validate *validator.Validate) *TradeHandler {
	return &TradeHandler{
		log:            log,
		tradingService: tradingService,
		validate:       validate,
	}
}

func (h *TradeHandler) Routes() chi.Router {
	router := chi.NewRouter()
	router.Use(middleware.Recoverer)

	router.Route("/api/trade", func(router chi.Router) {
		router.Group(func(routerWithAuth chi.Router) {
			// routerWithAuth.Use(h.authMiddleware)

			routerWithAuth.Post("/open", h.PostOpenTrade)
			routerWithAuth.Post("/close", h.PostCloseTrade)
			routerWithAuth.Post("/limit/update", h.PostUpdateLimit)
			routerWithAuth.Post("/limit/cancel", h.PostCancelLimit)
			routerWithAuth.Post("/tp", h.PostUpdateTp)
			routerWithAuth.Post("/sl", h.PostUpdateSl)
			routerWithAuth.Post("/timeout/open", h.PostOpenTimeout)
			routerWithAuth.Post("/timeout/close", h.PostCloseTimeout)
			routerWithAuth.Get("/trades", h.GetUserTrades)
			routerWithAuth.Get("/order/status", h.GetOrderStatus)
		})
	})

	return router
}

// writeIntakeError maps the trading service's sentinel errors onto
// response codes. Anything unmapped is a 500.
func (h *TradeHandler) writeIntakeError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, trading.ErrPaused):
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "New trades are paused"})
	case errors.Is(err, trading.ErrHalted):
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Trading is halted"})
	case errors.Is(err, trading.ErrMaxTradesPerPair):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Max trades per pair reached"})
	case errors.Is(err, trading.ErrMaxPendingOrders):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Max pending market orders reached"})
	case errors.Is(err, trading.ErrAlreadyBeingClosed):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Trade is already being closed"})
	case errors.Is(err, trading.ErrBotOrderInFlight):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "A bot order is in flight for this trade"})
	case errors.Is(err, trading.ErrLimitTimelock):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Order is still timelocked"})
	case errors.Is(err, trading.ErrSlTooBig):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Stop loss too far from open price"})
	case errors.Is(err, risk.ErrAboveMaxPosition):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Position size above maximum"})
	case errors.Is(err, risk.ErrBelowMinLevPos):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Leveraged position below pair minimum"})
	case errors.Is(err, risk.ErrLeverageIncorrect):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Invalid leverage value"})
	case errors.Is(err, risk.ErrWrongTp):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Take profit on the wrong side of price"})
	case errors.Is(err, risk.ErrWrongSl):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Stop loss on the wrong side of price"})
	case errors.Is(err, risk.ErrPriceImpactTooHigh):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Price impact too high"})
	case errors.Is(err, postgres.ErrTradeNotExists):
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Trade not found"})
	case errors.Is(err, postgres.ErrLimitOrderNotExists):
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Limit order not found"})
	case errors.Is(err, postgres.ErrPendingOrderNotExists):
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Pending order not found"})
	case errors.Is(err, postgres.ErrInsufficientFunds):
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Insufficient funds"})
	case errors.Is(err, trading.ErrNotYourOrder):
		w.WriteHeader(http.StatusForbidden)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Order belongs to another trader"})
	case errors.Is(err, trading.ErrTooEarly):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Order has not timed out yet"})
	case errors.Is(err, trading.ErrNotMarketOpen):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Order is not a market open"})
	case errors.Is(err, trading.ErrNotMarketClose):
		w.WriteHeader(http.StatusConflict)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: "Order is not a market close"})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(transport.ErrorResponse{Error: fallback})
	}
}

func (h *TradeHandler) PostOpenTrade(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.OpenTradeRequest
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
			Error: "Invalid trade parameters",
		})
		return
	}

	trade := models.Trade{
		Trader:       req.Trader,
		PairIndex:    req.PairIndex,
		PositionSize: req.PositionSize,
		OpenPrice:    req.OpenPrice,
		Side:         req.Side,
		Leverage:     req.Leverage,
		TakeProfit:   req.TakeProfit,
		StopLoss:     req.StopLoss,
	}

	orderID, resting, err := h.tradingService.OpenTrade(r.Context(), trade, req.OrderType, req.SlippageP)
	if err != nil {
		h.log.Error("Failed to open trade", "error", err, "trader", req.Trader)
		h.writeIntakeError(w, err, "Failed to open trade")
		return
	}

	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(transport.OpenTradeResponse{
		OrderID: orderID,
		Resting: resting,
		Type:    req.OrderType,
	})
}

func (h *TradeHandler) PostCloseTrade(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.CloseTradeRequest
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
			Error: "Trader, pair index and trade index are required",
		})
		return
	}

	orderID, err := h.tradingService.CloseTradeMarket(r.Context(), req.Trader, req.PairIndex, req.Index)
	if err != nil {
		h.log.Error("Failed to close trade", "error", err, "trader", req.Trader)
		h.writeIntakeError(w, err, "Failed to close trade")
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(transport.CloseTradeResponse{
		OrderID: orderID,
	})
}

func (h *TradeHandler) PostUpdateLimit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.UpdateLimitRequest
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
			Error: "Invalid order parameters",
		})
		return
	}

	err := h.tradingService.UpdateOpenLimitOrder(r.Context(), req.Trader, req.PairIndex, req.Index, req.Price, req.Tp, req.Sl)
	if err != nil {
		h.log.Error("Failed to update limit order", "error", err, "trader", req.Trader)
		h.writeIntakeError(w, err, "Failed to update limit order")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *TradeHandler) PostCancelLimit(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.CancelLimitRequest
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
			Error: "Invalid order parameters",
		})
		return
	}

	err := h.tradingService.CancelOpenLimitOrder(r.Context(), req.Trader, req.PairIndex, req.Index)
	if err != nil {
		h.log.Error("Failed to cancel limit order", "error", err, "trader", req.Trader)
		h.writeIntakeError(w, err, "Failed to cancel limit order")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *TradeHandler) PostUpdateTp(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.UpdateTpRequest
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
			Error: "Invalid parameters",
		})
		return
	}

	err := h.tradingService.UpdateTp(r.Context(), req.Trader, req.PairIndex, req.Index, req.NewTp)
	if err != nil {
		h.log.Error("Failed to update tp", "error", err, "trader", req.Trader)
		h.writeIntakeError(w, err, "Failed to update take profit")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *TradeHandler) PostUpdateSl(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.UpdateSlRequest
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
			Error: "Invalid parameters",
		})
		return
	}

	orderID, pending, err := h.tradingService.UpdateSl(r.Context(), req.Trader, req.PairIndex, req.Index, req.NewSl)
	if err != nil {
		h.log.Error("Failed to update sl", "error", err, "trader", req.Trader)
		h.writeIntakeError(w, err, "Failed to update stop loss")
		return
	}

	status := http.StatusOK
	if pending {
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(transport.UpdateSlResponse{
		OrderID: orderID,
		Pending: pending,
	})
}

func (h *TradeHandler) PostOpenTimeout(w http.ResponseWriter, r *http.Request) {
	h.handleTimeout(w, r, h.tradingService.OpenTradeMarketTimeout)
}

func (h *TradeHandler) PostCloseTimeout(w http.ResponseWriter, r *http.Request) {
	h.handleTimeout(w, r, h.tradingService.CloseTradeMarketTimeout)
}

func (h *TradeHandler) handleTimeout(w http.ResponseWriter, r *http.Request,
	timeout func(ctx context.Context, trader int64, orderID uint64) error) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.TimeoutRequest
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
			Error: "Trader and order id are required",
		})
		return
	}

	if err := timeout(r.Context(), req.Trader, req.OrderID); err != nil {
		h.log.Error("Failed to reap timed out order", "error", err, "orderId", req.OrderID)
		h.writeIntakeError(w, err, "Failed to reap timed out order")
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *TradeHandler) GetUserTrades(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.GetTradesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error("Failed to decode trades request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to decode request body",
		})
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.log.Error("Failed to validate trades request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Invalid request format",
		})
		return
	}

	trades, err := h.tradingService.GetUserTrades(r.Context(), req.Trader)
	if err != nil {
		h.log.Error("Failed to get trades", "error", err, "trader", req.Trader)

		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to get trades",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(transport.GetTradesResponse{
		Trades: trades,
	})
}

func (h *TradeHandler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	var req transport.OrderStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.log.Error("Failed to decode status request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to decode request body",
		})
		return
	}

	if err := h.validate.Struct(&req); err != nil {
		h.log.Error("Failed to validate status request", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Invalid request format",
		})
		return
	}

	status, err := h.tradingService.RequestStatus(r.Context(), req.OrderID)
	if err != nil {
		h.log.Error("Failed to get order status", "error", err, "orderId", req.OrderID)

		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(transport.ErrorResponse{
			Error: "Failed to get order status",
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(transport.OrderStatusResponse{
		OrderID: req.OrderID,
		Status:  status,
	})
}
