package risk

import (
	"context"
	"errors"
	"fmt"

	"PerpExchange/internal/domain/models"

	"github.com/shopspring/decimal"
)

var (
	ErrAboveMaxPosition   = errors.New("position size above global maximum")
	ErrBelowMinLevPos     = errors.New("leveraged position below pair minimum")
	ErrLeverageIncorrect  = errors.New("leverage outside pair range")
	ErrWrongTp            = errors.New("take profit not beyond open price")
	ErrWrongSl            = errors.New("stop loss not adverse to open price")
	ErrPriceImpactTooHigh = errors.New("price impact above ceiling")
)

// PairsProvider exposes the per-pair risk parameters.
type PairsProvider interface {
	PairConfig(ctx context.Context, pairIndex int64) (models.PairConfig, error)
	// MaxLeverageOverride takes precedence over the pair maximum when non-zero.
	MaxLeverageOverride(ctx context.Context, pairIndex int64) (uint8, error)
}

// Meter estimates price impact and exposes the global impact ceiling.
// Numeric internals are the collaborator's business; the validator only
// compares outputs.
type Meter interface {
	TradePriceImpact(ctx context.Context, pairIndex int64, side models.Side, openPrice, leveragedPosition decimal.Decimal) (decimal.Decimal, error)
	MaxNegativePnlOnOpenP(ctx context.Context) (decimal.Decimal, error)
}

// Validator is the stateless rule set run before any trade or resting order
// is accepted. Every rule fails with its own error so callers can map them
// to distinct responses.
type Validator struct {
	pairs PairsProvider
	meter Meter
}

func NewValidator(pairs PairsProvider, meter Meter) *Validator {
	return &Validator{
		pairs: pairs,
		meter: meter,
	}
}

func (v *Validator) ValidateOpen(ctx context.Context, t models.Trade, maxPositionSize decimal.Decimal) error {
	const op = "risk.ValidateOpen"

	if t.PositionSize.GreaterThan(maxPositionSize) {
		return fmt.Errorf("%s: %w", op, ErrAboveMaxPosition)
	}

	pair, err := v.pairs.PairConfig(ctx, t.PairIndex)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if t.LeveragedPosition().LessThan(pair.MinLevPosition) {
		return fmt.Errorf("%s: %w", op, ErrBelowMinLevPos)
	}

	maxLeverage := pair.MaxLeverage
	override, err := v.pairs.MaxLeverageOverride(ctx, t.PairIndex)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if override != 0 {
		maxLeverage = override
	}
	if t.Leverage < pair.MinLeverage || t.Leverage > maxLeverage {
		return fmt.Errorf("%s: %w", op, ErrLeverageIncorrect)
	}

	if err := CheckTp(t.Side, t.OpenPrice, t.TakeProfit); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := CheckSl(t.Side, t.OpenPrice, t.StopLoss); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := v.CheckPriceImpact(ctx, t.PairIndex, t.Side, t.OpenPrice, t.PositionSize, t.Leverage); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// CheckPriceImpact verifies that impact at the leveraged notional, multiplied
// by leverage, stays under the global ceiling. Also re-run by the bot gate
// before admitting a limit fill.
func (v *Validator) CheckPriceImpact(ctx context.Context, pairIndex int64, side models.Side, openPrice, positionSize decimal.Decimal, leverage uint8) error {
	const op = "risk.CheckPriceImpact"

	lev := decimal.NewFromInt(int64(leverage))
	impactP, err := v.meter.TradePriceImpact(ctx, pairIndex, side, openPrice, positionSize.Mul(lev))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	ceiling, err := v.meter.MaxNegativePnlOnOpenP(ctx)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if impactP.Mul(lev).GreaterThan(ceiling) {
		return fmt.Errorf("%s: %w", op, ErrPriceImpactTooHigh)
	}
	return nil
}

// CheckTp accepts a zero take profit (unset), otherwise it must sit strictly
// beyond the open price in the trade direction.
func CheckTp(side models.Side, openPrice, tp decimal.Decimal) error {
	if tp.IsZero() {
		return nil
	}
	if side.IsLong() {
		if tp.LessThanOrEqual(openPrice) {
			return ErrWrongTp
		}
		return nil
	}
	if tp.GreaterThanOrEqual(openPrice) {
		return ErrWrongTp
	}
	return nil
}

// CheckSl accepts a zero stop loss (unset), otherwise it must sit strictly
// on the adverse side of the open price.
func CheckSl(side models.Side, openPrice, sl decimal.Decimal) error {
	if sl.IsZero() {
		return nil
	}
	if side.IsLong() {
		if sl.GreaterThanOrEqual(openPrice) {
			return ErrWrongSl
		}
		return nil
	}
	if sl.LessThanOrEqual(openPrice) {
		return ErrWrongSl
	}
	return nil
}
