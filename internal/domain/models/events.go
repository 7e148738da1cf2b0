package models

import "github.com/shopspring/decimal"

// NATS subjects for events produced by the engine.
const (
	SubjectEventsAll = "engine.events.*"

	SubjectLimitPlaced          = "engine.events.limit_placed"
	SubjectLimitUpdated         = "engine.events.limit_updated"
	SubjectLimitCanceled        = "engine.events.limit_canceled"
	SubjectMarketOrderInitiated = "engine.events.market_order_initiated"
	SubjectTpUpdated            = "engine.events.tp_updated"
	SubjectSlUpdated            = "engine.events.sl_updated"
	SubjectSlUpdateInitiated    = "engine.events.sl_update_initiated"
	SubjectMarketTimeout        = "engine.events.market_timeout"
	SubjectBotOrderInitiated    = "engine.events.bot_order_initiated"
	SubjectBotOrderRejected     = "engine.events.bot_order_rejected"
	SubjectCouldNotCloseTrade   = "engine.events.could_not_close_trade"
)

type LimitPlacedEvent struct {
	Trader    int64         `json:"trader"`
	PairIndex int64         `json:"pair_index"`
	Index     int64         `json:"index"`
	OrderType OpenOrderType `json:"order_type"`
}

type LimitUpdatedEvent struct {
	Trader    int64           `json:"trader"`
	PairIndex int64           `json:"pair_index"`
	Index     int64           `json:"index"`
	Price     decimal.Decimal `json:"price"`
	Tp        decimal.Decimal `json:"tp"`
	Sl        decimal.Decimal `json:"sl"`
}

type LimitCanceledEvent struct {
	Trader    int64 `json:"trader"`
	PairIndex int64 `json:"pair_index"`
	Index     int64 `json:"index"`
}

type MarketOrderInitiatedEvent struct {
	OrderID   uint64 `json:"order_id"`
	Trader    int64  `json:"trader"`
	PairIndex int64  `json:"pair_index"`
	Open      bool   `json:"open"`
}

type TpUpdatedEvent struct {
	Trader    int64           `json:"trader"`
	PairIndex int64           `json:"pair_index"`
	Index     int64           `json:"index"`
	NewTp     decimal.Decimal `json:"new_tp"`
}

type SlUpdatedEvent struct {
	Trader    int64           `json:"trader"`
	PairIndex int64           `json:"pair_index"`
	Index     int64           `json:"index"`
	NewSl     decimal.Decimal `json:"new_sl"`
}

type SlUpdateInitiatedEvent struct {
	OrderID   uint64          `json:"order_id"`
	Trader    int64           `json:"trader"`
	PairIndex int64           `json:"pair_index"`
	Index     int64           `json:"index"`
	NewSl     decimal.Decimal `json:"new_sl"`
}

type MarketTimeoutEvent struct {
	OrderID   uint64 `json:"order_id"`
	Trader    int64  `json:"trader"`
	PairIndex int64  `json:"pair_index"`
	Open      bool   `json:"open"`
}

type BotOrderInitiatedEvent struct {
	OrderID   uint64       `json:"order_id"`
	OrderType BotOrderType `json:"order_type"`
	Trader    int64        `json:"trader"`
	PairIndex int64        `json:"pair_index"`
	Index     int64        `json:"index"`
}

type BotOrderRejectedEvent struct {
	OrderType BotOrderType `json:"order_type"`
	Trader    int64        `json:"trader"`
	PairIndex int64        `json:"pair_index"`
	Index     int64        `json:"index"`
	Reason    string       `json:"reason"`
}

type CouldNotCloseTradeEvent struct {
	Trader    int64  `json:"trader"`
	PairIndex int64  `json:"pair_index"`
	Index     int64  `json:"index"`
	Reason    string `json:"reason"`
}
