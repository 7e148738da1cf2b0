package trading

import (
	"context"
	"fmt"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/storage/postgres"

	"github.com/shopspring/decimal"
)

type fakeLedger struct {
	balance     decimal.Decimal
	botPending  bool
	trades      map[string]models.Trade
	limitOrders map[string]models.OpenLimitOrder
	pending     map[uint64]models.PendingMarketOrder
	pendingSl   map[uint64]models.PendingSlOrder

	placedLimit    []models.OpenLimitOrder
	registeredOpen []models.PendingMarketOrder
	unwoundOpen    []uint64
	unwoundClose   []uint64
	canceled       []string
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		balance:     decimal.NewFromInt(1_000_000),
		trades:      make(map[string]models.Trade),
		limitOrders: make(map[string]models.OpenLimitOrder),
		pending:     make(map[uint64]models.PendingMarketOrder),
		pendingSl:   make(map[uint64]models.PendingSlOrder),
	}
}

func (f *fakeLedger) GetBalance(_ context.Context, _ int64) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeLedger) HasPendingBotOrder(_ context.Context, _, _, _ int64) (bool, error) {
	return f.botPending, nil
}

func slotKey(trader, pairIndex, index int64) string {
	return fmt.Sprintf("%d:%d:%d", trader, pairIndex, index)
}

func (f *fakeLedger) GetTrade(_ context.Context, trader, pairIndex, index int64) (models.Trade, error) {
	t, ok := f.trades[slotKey(trader, pairIndex, index)]
	if !ok {
		return models.Trade{}, postgres.ErrTradeNotExists
	}
	return t, nil
}

func (f *fakeLedger) TradesCount(_ context.Context, trader, pairIndex int64) (int64, error) {
	var n int64
	for _, t := range f.trades {
		if t.Trader == trader && t.PairIndex == pairIndex {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) UpdateTradeTp(_ context.Context, trader, pairIndex, index int64, newTp decimal.Decimal) error {
	key := slotKey(trader, pairIndex, index)
	t, ok := f.trades[key]
	if !ok {
		return postgres.ErrTradeNotExists
	}
	t.TakeProfit = newTp
	f.trades[key] = t
	return nil
}

func (f *fakeLedger) UpdateTradeSl(_ context.Context, trader, pairIndex, index int64, newSl decimal.Decimal) error {
	key := slotKey(trader, pairIndex, index)
	t, ok := f.trades[key]
	if !ok {
		return postgres.ErrTradeNotExists
	}
	t.StopLoss = newSl
	f.trades[key] = t
	return nil
}

func (f *fakeLedger) FirstEmptyLimitIndex(_ context.Context, trader, pairIndex int64) (int64, error) {
	var next int64
	for {
		if _, ok := f.limitOrders[slotKey(trader, pairIndex, next)]; !ok {
			return next, nil
		}
		next++
	}
}

func (f *fakeLedger) GetOpenLimitOrder(_ context.Context, trader, pairIndex, index int64) (models.OpenLimitOrder, error) {
	o, ok := f.limitOrders[slotKey(trader, pairIndex, index)]
	if !ok {
		return models.OpenLimitOrder{}, postgres.ErrLimitOrderNotExists
	}
	return o, nil
}

func (f *fakeLedger) OpenLimitOrdersCount(_ context.Context, trader, pairIndex int64) (int64, error) {
	var n int64
	for _, o := range f.limitOrders {
		if o.Trader == trader && o.PairIndex == pairIndex {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) PlaceLimitOrder(_ context.Context, o models.OpenLimitOrder) error {
	f.limitOrders[slotKey(o.Trader, o.PairIndex, o.Index)] = o
	f.placedLimit = append(f.placedLimit, o)
	return nil
}

func (f *fakeLedger) UpdateOpenLimitOrder(_ context.Context, o models.OpenLimitOrder) error {
	key := slotKey(o.Trader, o.PairIndex, o.Index)
	if _, ok := f.limitOrders[key]; !ok {
		return postgres.ErrLimitOrderNotExists
	}
	f.limitOrders[key] = o
	return nil
}

func (f *fakeLedger) CancelLimitOrder(_ context.Context, trader, pairIndex, index int64) error {
	key := slotKey(trader, pairIndex, index)
	if _, ok := f.limitOrders[key]; !ok {
		return postgres.ErrLimitOrderNotExists
	}
	delete(f.limitOrders, key)
	f.canceled = append(f.canceled, key)
	return nil
}

func (f *fakeLedger) RegisterMarketOpen(_ context.Context, o models.PendingMarketOrder) error {
	f.pending[o.ID] = o
	f.registeredOpen = append(f.registeredOpen, o)
	return nil
}

func (f *fakeLedger) RegisterMarketClose(_ context.Context, o models.PendingMarketOrder) error {
	key := slotKey(o.Trade.Trader, o.Trade.PairIndex, o.Trade.Index)
	t, ok := f.trades[key]
	if !ok || t.BeingClosed {
		return postgres.ErrTradeNotExists
	}
	t.BeingClosed = true
	f.trades[key] = t
	f.pending[o.ID] = o
	return nil
}

func (f *fakeLedger) GetPendingMarketOrder(_ context.Context, id uint64) (models.PendingMarketOrder, error) {
	o, ok := f.pending[id]
	if !ok {
		return models.PendingMarketOrder{}, postgres.ErrPendingOrderNotExists
	}
	return o, nil
}

func (f *fakeLedger) UnwindMarketOpen(_ context.Context, id uint64) (models.PendingMarketOrder, error) {
	o, ok := f.pending[id]
	if !ok || !o.Open {
		return models.PendingMarketOrder{}, postgres.ErrPendingOrderNotExists
	}
	delete(f.pending, id)
	f.unwoundOpen = append(f.unwoundOpen, id)
	return o, nil
}

func (f *fakeLedger) UnwindMarketClose(_ context.Context, id uint64) (models.PendingMarketOrder, error) {
	o, ok := f.pending[id]
	if !ok || o.Open {
		return models.PendingMarketOrder{}, postgres.ErrPendingOrderNotExists
	}
	delete(f.pending, id)
	key := slotKey(o.Trade.Trader, o.Trade.PairIndex, o.Trade.Index)
	if t, ok := f.trades[key]; ok {
		t.BeingClosed = false
		f.trades[key] = t
	}
	f.unwoundClose = append(f.unwoundClose, id)
	return o, nil
}

func (f *fakeLedger) PendingMarketOrdersCount(_ context.Context, trader int64) (int64, error) {
	var n int64
	for _, o := range f.pending {
		if o.Trade.Trader == trader {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) PendingMarketOpenCount(_ context.Context, trader, pairIndex int64) (int64, error) {
	var n int64
	for _, o := range f.pending {
		if o.Open && o.Trade.Trader == trader && o.Trade.PairIndex == pairIndex {
			n++
		}
	}
	return n, nil
}

func (f *fakeLedger) StorePendingSlOrder(_ context.Context, o models.PendingSlOrder) error {
	f.pendingSl[o.ID] = o
	return nil
}

func (f *fakeLedger) GetUserTrades(_ context.Context, trader int64) ([]models.Trade, error) {
	var trades []models.Trade
	for _, t := range f.trades {
		if t.Trader == trader {
			trades = append(trades, t)
		}
	}
	return trades, nil
}

type fakeOracle struct {
	nextID   uint64
	err      error
	requests []models.PriceRequestKind
}

func (f *fakeOracle) RequestPrice(_ context.Context, _ int64, kind models.PriceRequestKind, _ decimal.Decimal) (uint64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.nextID++
	f.requests = append(f.requests, kind)
	return f.nextID, nil
}

type fakeCooldowns struct {
	stamps map[string]uint64
}

func newFakeCooldowns() *fakeCooldowns {
	return &fakeCooldowns{stamps: make(map[string]uint64)}
}

func (f *fakeCooldowns) SetTradeLastUpdated(_ context.Context, trader, pairIndex, index int64, action models.CooldownAction, block uint64) error {
	f.stamps[slotKey(trader, pairIndex, index)+":"+string(action)] = block
	return nil
}

func (f *fakeCooldowns) TradeLastUpdated(_ context.Context, trader, pairIndex, index int64, action models.CooldownAction) (uint64, error) {
	return f.stamps[slotKey(trader, pairIndex, index)+":"+string(action)], nil
}

type fakeBlocks struct {
	block uint64
}

func (f *fakeBlocks) CurrentBlock(_ context.Context) (uint64, error) {
	return f.block, nil
}

type fakeEvents struct {
	published []string
}

func (f *fakeEvents) Publish(_ context.Context, subject string, _ interface{}) error {
	f.published = append(f.published, subject)
	return nil
}

func (f *fakeEvents) has(subject string) bool {
	for _, s := range f.published {
		if s == subject {
			return true
		}
	}
	return false
}

type fakePairs struct {
	pair models.PairConfig
}

func (f *fakePairs) PairConfig(_ context.Context, _ int64) (models.PairConfig, error) {
	return f.pair, nil
}

func (f *fakePairs) MaxLeverageOverride(_ context.Context, _ int64) (uint8, error) {
	return 0, nil
}

type fakeMeter struct{}

func (f *fakeMeter) TradePriceImpact(_ context.Context, _ int64, _ models.Side, _, _ decimal.Decimal) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeMeter) MaxNegativePnlOnOpenP(_ context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(40), nil
}
