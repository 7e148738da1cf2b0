package botgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/metrics"
	"PerpExchange/internal/services/risk"
	"PerpExchange/internal/services/trading"

	"github.com/shopspring/decimal"
)

var (
	ErrHalted           = errors.New("engine interaction is halted")
	ErrPendingBotOrder  = errors.New("slot already has a pending bot order")
	ErrBeingClosed      = errors.New("trade is being market closed")
	ErrCooldownActive   = errors.New("bot execution cooldown not elapsed")
	ErrNoTp             = errors.New("trade has no take profit set")
	ErrNoSl             = errors.New("trade has no stop loss set")
	ErrAlreadyProtected = errors.New("stop loss already protects against liquidation")
	ErrUnknownOrderType = errors.New("unknown bot order type")
)

// Ledger is the slice of the position store the gate needs.
type Ledger interface {
	GetTrade(ctx context.Context, trader, pairIndex, index int64) (models.Trade, error)
	GetOpenLimitOrder(ctx context.Context, trader, pairIndex, index int64) (models.OpenLimitOrder, error)
	HasPendingBotOrder(ctx context.Context, trader, pairIndex, index int64) (bool, error)
	StorePendingBotOrder(ctx context.Context, o models.PendingBotOrder) error
}

// BorrowingFees computes the current liquidation price, fees included.
type BorrowingFees interface {
	TradeLiquidationPrice(ctx context.Context, t models.Trade) (decimal.Decimal, error)
}

// Breakers exposes the engine's halt switch to the gate.
type Breakers interface {
	Halted() bool
}

// Gate admits automated order types (tp, sl, liquidation, limit fill) into
// the oracle pipeline. It validates eligibility and parks a PendingBotOrder;
// it never applies a price itself.
type Gate struct {
	log       *slog.Logger
	ledger    Ledger
	oracle    trading.PriceGateway
	cooldowns trading.Cooldowns
	blocks    trading.BlockProvider
	fees      BorrowingFees
	validator *risk.Validator
	events    trading.Events
	breakers  Breakers

	// canExecuteTimeout is the cooldown, in blocks, between bot attempts on
	// one slot and action type.
	canExecuteTimeout uint64
}

func New(
	log *slog.Logger,
	ledger Ledger,
	oracle trading.PriceGateway,
	cooldowns trading.Cooldowns,
	blocks trading.BlockProvider,
	fees BorrowingFees,
	validator *risk.Validator,
	events trading.Events,
	breakers Breakers,
	canExecuteTimeout uint64,
) *Gate {
	return &Gate{
		log:               log,
		ledger:            ledger,
		oracle:            oracle,
		cooldowns:         cooldowns,
		blocks:            blocks,
		fees:              fees,
		validator:         validator,
		events:            events,
		breakers:          breakers,
		canExecuteTimeout: canExecuteTimeout,
	}
}

// ExecuteBotOrder validates cooldown-based eligibility and the per-type
// conditions, then requests a price and parks the pending record.
// Liquidation is always cooldown-exempt.
func (g *Gate) ExecuteBotOrder(ctx context.Context, orderType models.BotOrderType, trader, pairIndex, index int64) (uint64, error) {
	const op = "botgate.ExecuteBotOrder"
	log := g.log.With("op", op, "type", orderType, "trader", trader, "pair", pairIndex, "index", index)

	if g.breakers.Halted() {
		return 0, fmt.Errorf("%s: %w", op, ErrHalted)
	}

	pending, err := g.ledger.HasPendingBotOrder(ctx, trader, pairIndex, index)
	if err != nil {
		log.Error("failed to check pending bot order", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if pending {
		return 0, g.reject(ctx, log, orderType, trader, pairIndex, index, ErrPendingBotOrder, op)
	}

	block, err := g.blocks.CurrentBlock(ctx)
	if err != nil {
		log.Error("failed to get current block", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if orderType != models.BotOrderLiquidation {
		if err := g.checkCooldown(ctx, orderType, trader, pairIndex, index, block); err != nil {
			return 0, g.reject(ctx, log, orderType, trader, pairIndex, index, err, op)
		}
	}

	var (
		kind     models.PriceRequestKind
		notional decimal.Decimal
	)
	switch orderType {
	case models.BotOrderLiquidation:
		trade, err := g.ledger.GetTrade(ctx, trader, pairIndex, index)
		if err != nil {
			log.Error("failed to get trade", "err", err)
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		if trade.BeingClosed {
			return 0, g.reject(ctx, log, orderType, trader, pairIndex, index, ErrBeingClosed, op)
		}
		if !trade.StopLoss.IsZero() {
			// Compared against the liquidation price as of now, fees
			// included: a stop that was safe at open can drift inside the
			// band as borrowing fees accrue.
			liqPrice, err := g.fees.TradeLiquidationPrice(ctx, trade)
			if err != nil {
				log.Error("failed to compute liquidation price", "err", err)
				return 0, fmt.Errorf("%s: %w", op, err)
			}
			protected := trade.StopLoss.GreaterThanOrEqual(liqPrice)
			if !trade.Side.IsLong() {
				protected = trade.StopLoss.LessThanOrEqual(liqPrice)
			}
			if protected {
				return 0, g.reject(ctx, log, orderType, trader, pairIndex, index, ErrAlreadyProtected, op)
			}
		}
		kind = models.KindLiqClose
		notional = trade.LeveragedPosition()

	case models.BotOrderTakeProfit:
		trade, err := g.ledger.GetTrade(ctx, trader, pairIndex, index)
		if err != nil {
			log.Error("failed to get trade", "err", err)
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		if trade.BeingClosed {
			return 0, g.reject(ctx, log, orderType, trader, pairIndex, index, ErrBeingClosed, op)
		}
		if trade.TakeProfit.IsZero() {
			return 0, g.reject(ctx, log, orderType, trader, pairIndex, index, ErrNoTp, op)
		}
		kind = models.KindTpClose
		notional = trade.LeveragedPosition()

	case models.BotOrderStopLoss:
		trade, err := g.ledger.GetTrade(ctx, trader, pairIndex, index)
		if err != nil {
			log.Error("failed to get trade", "err", err)
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		if trade.BeingClosed {
			return 0, g.reject(ctx, log, orderType, trader, pairIndex, index, ErrBeingClosed, op)
		}
		if trade.StopLoss.IsZero() {
			return 0, g.reject(ctx, log, orderType, trader, pairIndex, index, ErrNoSl, op)
		}
		kind = models.KindSlClose
		notional = trade.LeveragedPosition()

	case models.BotOrderLimitOpen:
		order, err := g.ledger.GetOpenLimitOrder(ctx, trader, pairIndex, index)
		if err != nil {
			log.Error("failed to get limit order", "err", err)
			return 0, fmt.Errorf("%s: %w", op, err)
		}
		// The book has moved since placement; re-check the impact ceiling
		// against current state before spending an oracle request.
		if err := g.validator.CheckPriceImpact(ctx, pairIndex, order.Side, order.MinPrice, order.PositionSize, order.Leverage); err != nil {
			return 0, g.reject(ctx, log, orderType, trader, pairIndex, index, err, op)
		}
		kind = models.KindLimitOpen
		notional = order.LeveragedPosition()

	default:
		return 0, fmt.Errorf("%s: %w", op, ErrUnknownOrderType)
	}

	orderID, err := g.oracle.RequestPrice(ctx, pairIndex, kind, notional)
	if err != nil {
		log.Error("failed to request price", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	botOrder := models.PendingBotOrder{
		ID:        orderID,
		Trader:    trader,
		PairIndex: pairIndex,
		Index:     index,
		OrderType: orderType,
		Block:     block,
	}
	if err := g.ledger.StorePendingBotOrder(ctx, botOrder); err != nil {
		log.Error("failed to store pending bot order", "order_id", orderID, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := g.events.Publish(ctx, models.SubjectBotOrderInitiated, models.BotOrderInitiatedEvent{
		OrderID:   orderID,
		OrderType: orderType,
		Trader:    trader,
		PairIndex: pairIndex,
		Index:     index,
	}); err != nil {
		log.Error("failed to publish event", "err", err)
	}
	metrics.BotOrdersAdmitted.WithLabelValues(string(orderType)).Inc()

	log.Info("bot order initiated", "order_id", orderID)
	return orderID, nil
}

func (g *Gate) checkCooldown(ctx context.Context, orderType models.BotOrderType, trader, pairIndex, index int64, block uint64) error {
	var actions []models.CooldownAction
	switch orderType {
	case models.BotOrderTakeProfit:
		actions = []models.CooldownAction{models.CooldownTp}
	case models.BotOrderStopLoss:
		actions = []models.CooldownAction{models.CooldownSl}
	case models.BotOrderLimitOpen:
		// a fill waits out both the placement and the latest band update
		actions = []models.CooldownAction{models.CooldownCreated, models.CooldownLimit}
	default:
		actions = []models.CooldownAction{models.CooldownCreated}
	}

	var last uint64
	for _, action := range actions {
		stamp, err := g.cooldowns.TradeLastUpdated(ctx, trader, pairIndex, index, action)
		if err != nil {
			return err
		}
		if stamp > last {
			last = stamp
		}
	}
	if block < last+g.canExecuteTimeout {
		return ErrCooldownActive
	}
	return nil
}

// reject publishes the could-not-execute event and returns the wrapped cause.
func (g *Gate) reject(ctx context.Context, log *slog.Logger, orderType models.BotOrderType, trader, pairIndex, index int64, cause error, op string) error {
	log.Info("bot order rejected", "reason", cause)
	if err := g.events.Publish(ctx, models.SubjectBotOrderRejected, models.BotOrderRejectedEvent{
		OrderType: orderType,
		Trader:    trader,
		PairIndex: pairIndex,
		Index:     index,
		Reason:    cause.Error(),
	}); err != nil {
		log.Error("failed to publish event", "err", err)
	}
	metrics.BotOrdersRejected.WithLabelValues(string(orderType)).Inc()
	return fmt.Errorf("%s: %w", op, cause)
}
