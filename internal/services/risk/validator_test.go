package risk

import (
	"context"
	"errors"
	"testing"

	"PerpExchange/internal/domain/models"

	"github.com/shopspring/decimal"
)

type fakePairs struct {
	pair     models.PairConfig
	override uint8
	err      error
}

func (f *fakePairs) PairConfig(_ context.Context, _ int64) (models.PairConfig, error) {
	return f.pair, f.err
}

func (f *fakePairs) MaxLeverageOverride(_ context.Context, _ int64) (uint8, error) {
	return f.override, nil
}

type fakeMeter struct {
	impactP decimal.Decimal
	ceiling decimal.Decimal
}

func (f *fakeMeter) TradePriceImpact(_ context.Context, _ int64, _ models.Side, _, _ decimal.Decimal) (decimal.Decimal, error) {
	return f.impactP, nil
}

func (f *fakeMeter) MaxNegativePnlOnOpenP(_ context.Context) (decimal.Decimal, error) {
	return f.ceiling, nil
}

func defaultPair() models.PairConfig {
	return models.PairConfig{
		Index:          0,
		Ticker:         "BTCUSDT",
		MinLeverage:    2,
		MaxLeverage:    150,
		MinLevPosition: decimal.NewFromInt(1500),
	}
}

func validTrade() models.Trade {
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

func TestValidator_ValidateOpen(t *testing.T) {
	maxPosition := decimal.NewFromInt(75000)

	tests := []struct {
		name     string
		mutate   func(tr *models.Trade)
		pair     models.PairConfig
		override uint8
		impactP  decimal.Decimal
		wantErr  error
	}{
		{
			name:   "valid market trade",
			mutate: func(tr *models.Trade) {},
			pair:   defaultPair(),
		},
		{
			name: "position above global maximum",
			mutate: func(tr *models.Trade) {
				tr.PositionSize = decimal.NewFromInt(80000)
			},
			pair:    defaultPair(),
			wantErr: ErrAboveMaxPosition,
		},
		{
			name: "leveraged position below pair minimum",
			mutate: func(tr *models.Trade) {
				tr.PositionSize = decimal.NewFromInt(100)
			},
			pair:    defaultPair(),
			wantErr: ErrBelowMinLevPos,
		},
		{
			name: "leverage below pair minimum",
			mutate: func(tr *models.Trade) {
				tr.Leverage = 1
				tr.PositionSize = decimal.NewFromInt(2000)
			},
			pair:    defaultPair(),
			wantErr: ErrLeverageIncorrect,
		},
		{
			name: "leverage above pair maximum",
			mutate: func(tr *models.Trade) {
				tr.Leverage = 200
			},
			pair:    defaultPair(),
			wantErr: ErrLeverageIncorrect,
		},
		{
			name: "override tightens pair maximum",
			mutate: func(tr *models.Trade) {
				tr.Leverage = 50
			},
			pair:     defaultPair(),
			override: 20,
			wantErr:  ErrLeverageIncorrect,
		},
		{
			name: "override admits what it allows",
			mutate: func(tr *models.Trade) {
				tr.Leverage = 20
			},
			pair:     defaultPair(),
			override: 20,
		},
		{
			name: "long tp above open price is accepted",
			mutate: func(tr *models.Trade) {
				tr.TakeProfit = decimal.NewFromInt(110)
			},
			pair: defaultPair(),
		},
		{
			name: "long tp below open price is rejected",
			mutate: func(tr *models.Trade) {
				tr.TakeProfit = decimal.NewFromInt(90)
			},
			pair:    defaultPair(),
			wantErr: ErrWrongTp,
		},
		{
			name: "long sl above open price is rejected",
			mutate: func(tr *models.Trade) {
				tr.StopLoss = decimal.NewFromInt(105)
			},
			pair:    defaultPair(),
			wantErr: ErrWrongSl,
		},
		{
			name: "long sl below open price is accepted",
			mutate: func(tr *models.Trade) {
				tr.StopLoss = decimal.NewFromInt(95)
			},
			pair: defaultPair(),
		},
		{
			name:    "price impact above ceiling",
			mutate:  func(tr *models.Trade) {},
			pair:    defaultPair(),
			impactP: decimal.NewFromInt(5),
			wantErr: ErrPriceImpactTooHigh,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade := validTrade()
			tt.mutate(&trade)

			meter := &fakeMeter{
				impactP: tt.impactP,
				ceiling: decimal.NewFromInt(40),
			}
			v := NewValidator(&fakePairs{pair: tt.pair, override: tt.override}, meter)

			err := v.ValidateOpen(context.Background(), trade, maxPosition)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateOpen() unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateOpen() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCheckTp_ShortSide(t *testing.T) {
	open := decimal.NewFromInt(100)

	if err := CheckTp(models.Short, open, decimal.NewFromInt(90)); err != nil {
		t.Fatalf("short tp below open should pass, got %v", err)
	}
	if err := CheckTp(models.Short, open, decimal.NewFromInt(110)); !errors.Is(err, ErrWrongTp) {
		t.Fatalf("short tp above open should fail, got %v", err)
	}
	if err := CheckTp(models.Short, open, open); !errors.Is(err, ErrWrongTp) {
		t.Fatalf("tp equal to open should fail, got %v", err)
	}
	if err := CheckTp(models.Short, open, decimal.Zero); err != nil {
		t.Fatalf("zero tp means unset, got %v", err)
	}
}

func TestCheckSl_ShortSide(t *testing.T) {
	open := decimal.NewFromInt(100)

	if err := CheckSl(models.Short, open, decimal.NewFromInt(110)); err != nil {
		t.Fatalf("short sl above open should pass, got %v", err)
	}
	if err := CheckSl(models.Short, open, decimal.NewFromInt(90)); !errors.Is(err, ErrWrongSl) {
		t.Fatalf("short sl below open should fail, got %v", err)
	}
	if err := CheckSl(models.Short, open, open); !errors.Is(err, ErrWrongSl) {
		t.Fatalf("sl equal to open should fail, got %v", err)
	}
	if err := CheckSl(models.Short, open, decimal.Zero); err != nil {
		t.Fatalf("zero sl means unset, got %v", err)
	}
}

func TestDepthImpactMeter(t *testing.T) {
	m := NewDepthImpactMeter(decimal.NewFromInt(10_000_000), decimal.NewFromInt(40))

	impact, err := m.TradePriceImpact(context.Background(), 0, models.Long, decimal.NewFromInt(100), decimal.NewFromInt(1_000_000))
	if err != nil {
		t.Fatalf("TradePriceImpact() error: %v", err)
	}
	want := decimal.NewFromFloat(0.05)
	if !impact.Equal(want) {
		t.Fatalf("TradePriceImpact() = %s, want %s", impact, want)
	}

	m.PairDepths[7] = decimal.NewFromInt(1_000_000)
	impact, err = m.TradePriceImpact(context.Background(), 7, models.Long, decimal.NewFromInt(100), decimal.NewFromInt(1_000_000))
	if err != nil {
		t.Fatalf("TradePriceImpact() error: %v", err)
	}
	want = decimal.NewFromFloat(0.5)
	if !impact.Equal(want) {
		t.Fatalf("per-pair depth impact = %s, want %s", impact, want)
	}
}

type fixedBlocks struct {
	block uint64
}

func (f *fixedBlocks) CurrentBlock(_ context.Context) (uint64, error) {
	return f.block, nil
}

func TestBorrowingFeeMeter_LiquidationPrice(t *testing.T) {
	blocks := &fixedBlocks{block: 100}
	m := NewBorrowingFeeMeter(decimal.Zero, decimal.NewFromInt(90), blocks)

	trade := models.Trade{
		PositionSize: decimal.NewFromInt(1000),
		OpenPrice:    decimal.NewFromInt(100),
		Side:         models.Long,
		Leverage:     10,
		OpenBlock:    100,
	}

	// no fees accrued: distance = 100 * 900 / 1000 / 10 = 9
	liq, err := m.TradeLiquidationPrice(context.Background(), trade)
	if err != nil {
		t.Fatalf("TradeLiquidationPrice() error: %v", err)
	}
	if !liq.Equal(decimal.NewFromInt(91)) {
		t.Fatalf("long liq price = %s, want 91", liq)
	}

	trade.Side = models.Short
	liq, err = m.TradeLiquidationPrice(context.Background(), trade)
	if err != nil {
		t.Fatalf("TradeLiquidationPrice() error: %v", err)
	}
	if !liq.Equal(decimal.NewFromInt(109)) {
		t.Fatalf("short liq price = %s, want 109", liq)
	}

	// fees shrink the buffer over time
	feed := NewBorrowingFeeMeter(decimal.NewFromFloat(0.001), decimal.NewFromInt(90), blocks)
	trade.Side = models.Long
	trade.OpenBlock = 0
	liq, err = feed.TradeLiquidationPrice(context.Background(), trade)
	if err != nil {
		t.Fatalf("TradeLiquidationPrice() error: %v", err)
	}
	// fee = 10000 * 0.001/100 * 100 = 10, buffer = 900 - 10 = 890
	want := decimal.NewFromInt(100).Sub(decimal.NewFromFloat(8.9))
	if !liq.Equal(want) {
		t.Fatalf("liq price with fees = %s, want %s", liq, want)
	}
}
