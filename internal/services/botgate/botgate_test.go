package botgate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/services/risk"
	"PerpExchange/internal/storage/postgres"

	"github.com/shopspring/decimal"
)

type fakeLedger struct {
	trade      models.Trade
	tradeErr   error
	limitOrder models.OpenLimitOrder
	limitErr   error
	hasPending bool

	stored []models.PendingBotOrder
}

func (f *fakeLedger) GetTrade(_ context.Context, _, _, _ int64) (models.Trade, error) {
	if f.tradeErr != nil {
		return models.Trade{}, f.tradeErr
	}
	return f.trade, nil
}

func (f *fakeLedger) GetOpenLimitOrder(_ context.Context, _, _, _ int64) (models.OpenLimitOrder, error) {
	if f.limitErr != nil {
		return models.OpenLimitOrder{}, f.limitErr
	}
	return f.limitOrder, nil
}

func (f *fakeLedger) HasPendingBotOrder(_ context.Context, _, _, _ int64) (bool, error) {
	return f.hasPending, nil
}

func (f *fakeLedger) StorePendingBotOrder(_ context.Context, o models.PendingBotOrder) error {
	f.stored = append(f.stored, o)
	return nil
}

type fakeOracle struct {
	nextID uint64
	calls  int
}

func (f *fakeOracle) RequestPrice(_ context.Context, _ int64, _ models.PriceRequestKind, _ decimal.Decimal) (uint64, error) {
	f.calls++
	f.nextID++
	return f.nextID, nil
}

type fakeCooldowns struct {
	stamps map[models.CooldownAction]uint64
}

func newFakeCooldowns() *fakeCooldowns {
	return &fakeCooldowns{stamps: make(map[models.CooldownAction]uint64)}
}

func (f *fakeCooldowns) SetTradeLastUpdated(_ context.Context, _, _, _ int64, action models.CooldownAction, block uint64) error {
	f.stamps[action] = block
	return nil
}

func (f *fakeCooldowns) TradeLastUpdated(_ context.Context, _, _, _ int64, action models.CooldownAction) (uint64, error) {
	return f.stamps[action], nil
}

type fakeBlocks struct {
	block uint64
}

func (f *fakeBlocks) CurrentBlock(_ context.Context) (uint64, error) {
	return f.block, nil
}

type fakeFees struct {
	liqPrice decimal.Decimal
}

func (f *fakeFees) TradeLiquidationPrice(_ context.Context, _ models.Trade) (decimal.Decimal, error) {
	return f.liqPrice, nil
}

type fakeEvents struct {
	published []string
}

func (f *fakeEvents) Publish(_ context.Context, subject string, _ interface{}) error {
	f.published = append(f.published, subject)
	return nil
}

type fakeBreakers struct {
	halted bool
}

func (f *fakeBreakers) Halted() bool {
	return f.halted
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

type fakeMeter struct {
	impactP decimal.Decimal
}

func (f *fakeMeter) TradePriceImpact(_ context.Context, _ int64, _ models.Side, _, _ decimal.Decimal) (decimal.Decimal, error) {
	return f.impactP, nil
}

func (f *fakeMeter) MaxNegativePnlOnOpenP(_ context.Context) (decimal.Decimal, error) {
	return decimal.NewFromInt(40), nil
}

type gateEnv struct {
	gate      *Gate
	ledger    *fakeLedger
	oracle    *fakeOracle
	cooldowns *fakeCooldowns
	blocks    *fakeBlocks
	fees      *fakeFees
	events    *fakeEvents
	breakers  *fakeBreakers
	meter     *fakeMeter
}

func newGateEnv() *gateEnv {
	ledger := &fakeLedger{}
	oracle := &fakeOracle{}
	cooldowns := newFakeCooldowns()
	blocks := &fakeBlocks{block: 1000}
	fees := &fakeFees{}
	events := &fakeEvents{}
	breakers := &fakeBreakers{}
	meter := &fakeMeter{}
	validator := risk.NewValidator(&fakePairs{}, meter)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return &gateEnv{
		gate:      New(log, ledger, oracle, cooldowns, blocks, fees, validator, events, breakers, 5),
		ledger:    ledger,
		oracle:    oracle,
		cooldowns: cooldowns,
		blocks:    blocks,
		fees:      fees,
		events:    events,
		breakers:  breakers,
		meter:     meter,
	}
}

func gateTrade() models.Trade {
	return models.Trade{
		Trader:       1,
		PairIndex:    0,
		Index:        0,
		PositionSize: decimal.NewFromInt(1000),
		OpenPrice:    decimal.NewFromInt(100),
		Side:         models.Long,
		Leverage:     10,
	}
}

func TestExecuteBotOrder_TakeProfit(t *testing.T) {
	env := newGateEnv()
	trade := gateTrade()
	trade.TakeProfit = decimal.NewFromInt(110)
	env.ledger.trade = trade

	orderID, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderTakeProfit, 1, 0, 0)
	if err != nil {
		t.Fatalf("ExecuteBotOrder() error: %v", err)
	}
	if orderID == 0 {
		t.Fatal("zero order id")
	}
	if len(env.ledger.stored) != 1 {
		t.Fatalf("stored %d bot orders, want 1", len(env.ledger.stored))
	}
	got := env.ledger.stored[0]
	if got.ID != orderID || got.OrderType != models.BotOrderTakeProfit {
		t.Fatalf("stored order mismatch: %+v", got)
	}
}

func TestExecuteBotOrder_MissingProtections(t *testing.T) {
	tests := []struct {
		name      string
		orderType models.BotOrderType
		wantErr   error
	}{
		{name: "tp without take profit", orderType: models.BotOrderTakeProfit, wantErr: ErrNoTp},
		{name: "sl without stop loss", orderType: models.BotOrderStopLoss, wantErr: ErrNoSl},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newGateEnv()
			env.ledger.trade = gateTrade()

			_, err := env.gate.ExecuteBotOrder(context.Background(), tt.orderType, 1, 0, 0)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("error = %v, want %v", err, tt.wantErr)
			}
			if env.oracle.calls != 0 {
				t.Fatal("rejected order must not spend an oracle request")
			}
		})
	}
}

func TestExecuteBotOrder_Cooldown(t *testing.T) {
	env := newGateEnv()
	trade := gateTrade()
	trade.TakeProfit = decimal.NewFromInt(110)
	trade.StopLoss = decimal.NewFromInt(95)
	env.ledger.trade = trade

	// timeout is 5 blocks: a stamp at 998 blocks until 1002, clears at 1003
	env.cooldowns.stamps[models.CooldownTp] = 998
	env.blocks.block = 1002

	_, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderTakeProfit, 1, 0, 0)
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("error = %v, want %v", err, ErrCooldownActive)
	}

	env.blocks.block = 1003
	if _, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderTakeProfit, 1, 0, 0); err != nil {
		t.Fatalf("ExecuteBotOrder() after cooldown: %v", err)
	}
}

func TestExecuteBotOrder_LiquidationSkipsCooldown(t *testing.T) {
	env := newGateEnv()
	env.ledger.trade = gateTrade()
	env.fees.liqPrice = decimal.NewFromInt(91)

	// every action stamped this very block
	for _, action := range []models.CooldownAction{models.CooldownCreated, models.CooldownLimit, models.CooldownTp, models.CooldownSl} {
		env.cooldowns.stamps[action] = env.blocks.block
	}

	orderID, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderLiquidation, 1, 0, 0)
	if err != nil {
		t.Fatalf("liquidation must ignore cooldowns: %v", err)
	}
	if orderID == 0 {
		t.Fatal("zero order id")
	}
}

func TestExecuteBotOrder_LiquidationProtectedBySl(t *testing.T) {
	env := newGateEnv()

	// long with liq at 91: a stop at 95 triggers first, so no liquidation
	trade := gateTrade()
	trade.StopLoss = decimal.NewFromInt(95)
	env.ledger.trade = trade
	env.fees.liqPrice = decimal.NewFromInt(91)

	_, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderLiquidation, 1, 0, 0)
	if !errors.Is(err, ErrAlreadyProtected) {
		t.Fatalf("error = %v, want %v", err, ErrAlreadyProtected)
	}
	if env.oracle.calls != 0 {
		t.Fatal("protected trade must not spend an oracle request")
	}

	// a stop below the liquidation price does not protect
	trade.StopLoss = decimal.NewFromInt(90)
	env.ledger.trade = trade
	if _, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderLiquidation, 1, 0, 0); err != nil {
		t.Fatalf("ExecuteBotOrder() error: %v", err)
	}
}

func TestExecuteBotOrder_ShortLiquidationProtection(t *testing.T) {
	env := newGateEnv()

	trade := gateTrade()
	trade.Side = models.Short
	trade.StopLoss = decimal.NewFromInt(105)
	env.ledger.trade = trade
	env.fees.liqPrice = decimal.NewFromInt(109)

	_, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderLiquidation, 1, 0, 0)
	if !errors.Is(err, ErrAlreadyProtected) {
		t.Fatalf("error = %v, want %v", err, ErrAlreadyProtected)
	}
}

func TestExecuteBotOrder_PendingSlotBlocks(t *testing.T) {
	env := newGateEnv()
	trade := gateTrade()
	trade.TakeProfit = decimal.NewFromInt(110)
	env.ledger.trade = trade
	env.ledger.hasPending = true

	_, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderTakeProfit, 1, 0, 0)
	if !errors.Is(err, ErrPendingBotOrder) {
		t.Fatalf("error = %v, want %v", err, ErrPendingBotOrder)
	}
	if env.oracle.calls != 0 {
		t.Fatal("blocked slot must not spend an oracle request")
	}
	if len(env.events.published) == 0 || env.events.published[0] != models.SubjectBotOrderRejected {
		t.Fatal("rejection not published")
	}
}

func TestExecuteBotOrder_TradeBeingClosed(t *testing.T) {
	tests := []struct {
		name      string
		orderType models.BotOrderType
	}{
		{name: "take profit", orderType: models.BotOrderTakeProfit},
		{name: "stop loss", orderType: models.BotOrderStopLoss},
		{name: "liquidation", orderType: models.BotOrderLiquidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newGateEnv()
			trade := gateTrade()
			trade.TakeProfit = decimal.NewFromInt(110)
			trade.StopLoss = decimal.NewFromInt(95)
			trade.BeingClosed = true
			env.ledger.trade = trade
			env.fees.liqPrice = decimal.NewFromInt(96)

			_, err := env.gate.ExecuteBotOrder(context.Background(), tt.orderType, 1, 0, 0)
			if !errors.Is(err, ErrBeingClosed) {
				t.Fatalf("error = %v, want %v", err, ErrBeingClosed)
			}
			if env.oracle.calls != 0 {
				t.Fatal("closing trade must not spend an oracle request")
			}
			if len(env.ledger.stored) != 0 {
				t.Fatalf("stored %d bot orders, want 0", len(env.ledger.stored))
			}
			if len(env.events.published) == 0 || env.events.published[0] != models.SubjectBotOrderRejected {
				t.Fatal("rejection not published")
			}
		})
	}
}

func TestExecuteBotOrder_LimitFillRechecksImpact(t *testing.T) {
	env := newGateEnv()
	env.ledger.limitOrder = models.OpenLimitOrder{
		Trader:       1,
		PairIndex:    0,
		Index:        0,
		PositionSize: decimal.NewFromInt(1000),
		Side:         models.Long,
		Leverage:     10,
		MinPrice:     decimal.NewFromInt(100),
		MaxPrice:     decimal.NewFromInt(100),
	}

	env.meter.impactP = decimal.NewFromInt(5) // 5% * 10x is over the 40% ceiling
	_, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderLimitOpen, 1, 0, 0)
	if !errors.Is(err, risk.ErrPriceImpactTooHigh) {
		t.Fatalf("error = %v, want %v", err, risk.ErrPriceImpactTooHigh)
	}

	env.meter.impactP = decimal.Zero
	if _, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderLimitOpen, 1, 0, 0); err != nil {
		t.Fatalf("ExecuteBotOrder() error: %v", err)
	}
}

func TestExecuteBotOrder_LimitFillWaitsOutBandUpdate(t *testing.T) {
	env := newGateEnv()
	env.ledger.limitOrder = models.OpenLimitOrder{
		Trader:       1,
		PairIndex:    0,
		Index:        0,
		PositionSize: decimal.NewFromInt(1000),
		Side:         models.Long,
		Leverage:     10,
		MinPrice:     decimal.NewFromInt(100),
		MaxPrice:     decimal.NewFromInt(100),
	}

	// placement long elapsed, but the band was updated at 998
	env.cooldowns.stamps[models.CooldownCreated] = 900
	env.cooldowns.stamps[models.CooldownLimit] = 998
	env.blocks.block = 1002

	_, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderLimitOpen, 1, 0, 0)
	if !errors.Is(err, ErrCooldownActive) {
		t.Fatalf("error = %v, want %v", err, ErrCooldownActive)
	}

	env.blocks.block = 1003
	if _, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderLimitOpen, 1, 0, 0); err != nil {
		t.Fatalf("ExecuteBotOrder() after cooldown: %v", err)
	}
}

func TestExecuteBotOrder_Halted(t *testing.T) {
	env := newGateEnv()
	env.breakers.halted = true

	_, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderLiquidation, 1, 0, 0)
	if !errors.Is(err, ErrHalted) {
		t.Fatalf("error = %v, want %v", err, ErrHalted)
	}
}

func TestExecuteBotOrder_UnknownTypeAndMissingTrade(t *testing.T) {
	env := newGateEnv()

	_, err := env.gate.ExecuteBotOrder(context.Background(), models.BotOrderType("squeeze"), 1, 0, 0)
	if !errors.Is(err, ErrUnknownOrderType) {
		t.Fatalf("error = %v, want %v", err, ErrUnknownOrderType)
	}

	env.ledger.tradeErr = postgres.ErrTradeNotExists
	_, err = env.gate.ExecuteBotOrder(context.Background(), models.BotOrderLiquidation, 1, 0, 0)
	if !errors.Is(err, postgres.ErrTradeNotExists) {
		t.Fatalf("error = %v, want %v", err, postgres.ErrTradeNotExists)
	}
}
