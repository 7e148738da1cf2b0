package transport

import (
	"PerpExchange/internal/domain/models"

	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type RegisterResponse struct {
	Id int64 `json:"id"`
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type BalanceRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type BalanceResponse struct {
	UserID  int64           `json:"user_id"`
	Balance decimal.Decimal `json:"balance"`
	Escrow  decimal.Decimal `json:"escrow"`
}

type DepositRequest struct {
	UserID int64           `json:"user_id" validate:"required,gt=0"`
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

type WithdrawRequest struct {
	UserID int64           `json:"user_id" validate:"required,gt=0"`
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

type OpenTradeRequest struct {
	Trader       int64                `json:"trader" validate:"required,gt=0"`
	PairIndex    int64                `json:"pair_index" validate:"gte=0"`
	PositionSize decimal.Decimal      `json:"position_size" validate:"required"`
	OpenPrice    decimal.Decimal      `json:"open_price" validate:"required"`
	Side         models.Side          `json:"side" validate:"required,oneof=long short"`
	Leverage     uint8                `json:"leverage" validate:"required"`
	TakeProfit   decimal.Decimal      `json:"take_profit"`
	StopLoss     decimal.Decimal      `json:"stop_loss"`
	OrderType    models.OpenOrderType `json:"order_type" validate:"required,oneof=market limit stop"`
	SlippageP    decimal.Decimal      `json:"slippage_p"`
}

type OpenTradeResponse struct {
	// OrderID is the oracle request id for market orders, the allocated
	// limit slot index for resting orders.
	OrderID uint64               `json:"order_id"`
	Resting bool                 `json:"resting"`
	Type    models.OpenOrderType `json:"type"`
}

type CloseTradeRequest struct {
	Trader    int64 `json:"trader" validate:"required,gt=0"`
	PairIndex int64 `json:"pair_index" validate:"gte=0"`
	Index     int64 `json:"index" validate:"gte=0"`
}

type CloseTradeResponse struct {
	OrderID uint64 `json:"order_id"`
}

type UpdateLimitRequest struct {
	Trader    int64           `json:"trader" validate:"required,gt=0"`
	PairIndex int64           `json:"pair_index" validate:"gte=0"`
	Index     int64           `json:"index" validate:"gte=0"`
	Price     decimal.Decimal `json:"price" validate:"required"`
	Tp        decimal.Decimal `json:"tp"`
	Sl        decimal.Decimal `json:"sl"`
}

type CancelLimitRequest struct {
	Trader    int64 `json:"trader" validate:"required,gt=0"`
	PairIndex int64 `json:"pair_index" validate:"gte=0"`
	Index     int64 `json:"index" validate:"gte=0"`
}

type UpdateTpRequest struct {
	Trader    int64           `json:"trader" validate:"required,gt=0"`
	PairIndex int64           `json:"pair_index" validate:"gte=0"`
	Index     int64           `json:"index" validate:"gte=0"`
	NewTp     decimal.Decimal `json:"new_tp"`
}

type UpdateSlRequest struct {
	Trader    int64           `json:"trader" validate:"required,gt=0"`
	PairIndex int64           `json:"pair_index" validate:"gte=0"`
	Index     int64           `json:"index" validate:"gte=0"`
	NewSl     decimal.Decimal `json:"new_sl"`
}

type UpdateSlResponse struct {
	// OrderID is non-zero when the pair runs guaranteed SL and the update
	// went through the oracle pipeline instead of applying synchronously.
	OrderID uint64 `json:"order_id"`
	Pending bool   `json:"pending"`
}

type TimeoutRequest struct {
	Trader  int64  `json:"trader" validate:"required,gt=0"`
	OrderID uint64 `json:"order_id" validate:"required"`
}

type GetTradesRequest struct {
	Trader int64 `json:"trader" validate:"required,gt=0"`
}

type GetTradesResponse struct {
	Trades []models.Trade `json:"trades"`
}

type ExecuteBotOrderRequest struct {
	OrderType models.BotOrderType `json:"order_type" validate:"required,oneof=tp sl liq open"`
	Trader    int64               `json:"trader" validate:"required,gt=0"`
	PairIndex int64               `json:"pair_index" validate:"gte=0"`
	Index     int64               `json:"index" validate:"gte=0"`
}

type ExecuteBotOrderResponse struct {
	OrderID uint64 `json:"order_id"`
}

type SetMaxPositionSizeRequest struct {
	Value decimal.Decimal `json:"value" validate:"required"`
}

type SetMarketOrdersTimeoutRequest struct {
	Blocks uint64 `json:"blocks" validate:"required,gt=0"`
}

type SetSwitchRequest struct {
	On bool `json:"on"`
}

type OrderStatusRequest struct {
	OrderID uint64 `json:"order_id" validate:"required"`
}

type OrderStatusResponse struct {
	OrderID uint64 `json:"order_id"`
	Status  string `json:"status"`
}
