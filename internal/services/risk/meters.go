package risk

import (
	"context"

	"PerpExchange/internal/domain/models"

	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)
	two     = decimal.NewFromInt(2)
)

// DepthImpactMeter is the default price-impact collaborator: impact percent
// grows linearly with the leveraged notional against a configured one-sided
// book depth. Deliberately simple; the validator only needs the signature.
type DepthImpactMeter struct {
	// Depth is the notional absorbing 1% of movement on one side of the book.
	Depth      decimal.Decimal
	MaxNegPnlP decimal.Decimal
	PairDepths map[int64]decimal.Decimal
}

func NewDepthImpactMeter(depth, maxNegPnlP decimal.Decimal) *DepthImpactMeter {
	return &DepthImpactMeter{
		Depth:      depth,
		MaxNegPnlP: maxNegPnlP,
		PairDepths: make(map[int64]decimal.Decimal),
	}
}

func (m *DepthImpactMeter) TradePriceImpact(_ context.Context, pairIndex int64, _ models.Side, _ decimal.Decimal, leveragedPosition decimal.Decimal) (decimal.Decimal, error) {
	depth := m.Depth
	if d, ok := m.PairDepths[pairIndex]; ok && !d.IsZero() {
		depth = d
	}
	if depth.IsZero() {
		return decimal.Zero, nil
	}
	// Half the size walks the book on average.
	return leveragedPosition.Div(depth.Mul(two)), nil
}

func (m *DepthImpactMeter) MaxNegativePnlOnOpenP(_ context.Context) (decimal.Decimal, error) {
	return m.MaxNegPnlP, nil
}

// BlockProvider reports the current block height.
type BlockProvider interface {
	CurrentBlock(ctx context.Context) (uint64, error)
}

// BorrowingFeeMeter computes liquidation prices with a flat per-block
// borrowing fee accrued on the leveraged notional since open. A position is
// liquidated when it has lost liqThresholdP percent of its margin.
type BorrowingFeeMeter struct {
	FeePerBlockP  decimal.Decimal // percent of leveraged notional, per block
	LiqThresholdP decimal.Decimal // usually 90
	blocks        BlockProvider
}

func NewBorrowingFeeMeter(feePerBlockP, liqThresholdP decimal.Decimal, blocks BlockProvider) *BorrowingFeeMeter {
	return &BorrowingFeeMeter{
		FeePerBlockP:  feePerBlockP,
		LiqThresholdP: liqThresholdP,
		blocks:        blocks,
	}
}

// TradeLiquidationPrice returns the price at which the trade would be
// liquidated right now, with borrowing fees accrued so far eating into the
// margin buffer. The distance shrinks block by block.
func (m *BorrowingFeeMeter) TradeLiquidationPrice(ctx context.Context, t models.Trade) (decimal.Decimal, error) {
	current, err := m.blocks.CurrentBlock(ctx)
	if err != nil {
		return decimal.Zero, err
	}

	elapsed := decimal.Zero
	if current > t.OpenBlock {
		elapsed = decimal.NewFromInt(int64(current - t.OpenBlock))
	}
	fee := t.LeveragedPosition().Mul(m.FeePerBlockP).Div(hundred).Mul(elapsed)

	buffer := t.PositionSize.Mul(m.LiqThresholdP).Div(hundred).Sub(fee)
	if buffer.IsNegative() {
		buffer = decimal.Zero
	}

	// distance = openPrice * buffer / margin / leverage
	dist := t.OpenPrice.Mul(buffer).Div(t.PositionSize).Div(decimal.NewFromInt(int64(t.Leverage)))
	if t.Side.IsLong() {
		return t.OpenPrice.Sub(dist), nil
	}
	return t.OpenPrice.Add(dist), nil
}
