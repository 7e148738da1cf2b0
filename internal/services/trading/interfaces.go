package trading

import (
	"context"

	"PerpExchange/internal/domain/models"

	"github.com/shopspring/decimal"
)

// Ledger is the persistent position/order store. Methods that move margin
// (PlaceLimitOrder, CancelLimitOrder, RegisterMarketOpen, UnwindMarketOpen)
// do the escrow transfer and the record write in one transaction, so a
// failed call leaves no partial state.
type Ledger interface {
	GetBalance(ctx context.Context, id int64) (decimal.Decimal, error)

	GetTrade(ctx context.Context, trader, pairIndex, index int64) (models.Trade, error)
	TradesCount(ctx context.Context, trader, pairIndex int64) (int64, error)
	UpdateTradeTp(ctx context.Context, trader, pairIndex, index int64, newTp decimal.Decimal) error
	UpdateTradeSl(ctx context.Context, trader, pairIndex, index int64, newSl decimal.Decimal) error

	FirstEmptyLimitIndex(ctx context.Context, trader, pairIndex int64) (int64, error)
	GetOpenLimitOrder(ctx context.Context, trader, pairIndex, index int64) (models.OpenLimitOrder, error)
	OpenLimitOrdersCount(ctx context.Context, trader, pairIndex int64) (int64, error)
	PlaceLimitOrder(ctx context.Context, o models.OpenLimitOrder) error
	UpdateOpenLimitOrder(ctx context.Context, o models.OpenLimitOrder) error
	CancelLimitOrder(ctx context.Context, trader, pairIndex, index int64) error

	RegisterMarketOpen(ctx context.Context, o models.PendingMarketOrder) error
	RegisterMarketClose(ctx context.Context, o models.PendingMarketOrder) error
	GetPendingMarketOrder(ctx context.Context, id uint64) (models.PendingMarketOrder, error)
	UnwindMarketOpen(ctx context.Context, id uint64) (models.PendingMarketOrder, error)
	UnwindMarketClose(ctx context.Context, id uint64) (models.PendingMarketOrder, error)
	PendingMarketOrdersCount(ctx context.Context, trader int64) (int64, error)
	PendingMarketOpenCount(ctx context.Context, trader, pairIndex int64) (int64, error)

	StorePendingSlOrder(ctx context.Context, o models.PendingSlOrder) error
	HasPendingBotOrder(ctx context.Context, trader, pairIndex, index int64) (bool, error)

	GetUserTrades(ctx context.Context, trader int64) ([]models.Trade, error)
}

// PriceGateway obtains a correlation id for every price-dependent action.
// The call either succeeds as a whole or returns an error with nothing
// published, so the caller never persists a record for a request that was
// not issued.
type PriceGateway interface {
	RequestPrice(ctx context.Context, pairIndex int64, kind models.PriceRequestKind, notional decimal.Decimal) (uint64, error)
}

// Cooldowns stores the per-slot last-touched blocks the bot gate reads.
type Cooldowns interface {
	SetTradeLastUpdated(ctx context.Context, trader, pairIndex, index int64, action models.CooldownAction, block uint64) error
	TradeLastUpdated(ctx context.Context, trader, pairIndex, index int64, action models.CooldownAction) (uint64, error)
}

// BlockProvider reports the current block height.
type BlockProvider interface {
	CurrentBlock(ctx context.Context) (uint64, error)
}

// Events publishes the engine's produced events.
type Events interface {
	Publish(ctx context.Context, subject string, msg interface{}) error
}
