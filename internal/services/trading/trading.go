package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/metrics"
	"PerpExchange/internal/services/risk"
	"PerpExchange/internal/storage/postgres"

	"github.com/shopspring/decimal"
)

var (
	ErrPaused             = errors.New("new trades are paused")
	ErrHalted             = errors.New("engine interaction is halted")
	ErrMaxTradesPerPair   = errors.New("max trades per pair reached")
	ErrMaxPendingOrders   = errors.New("max pending market orders reached")
	ErrAlreadyBeingClosed = errors.New("trade is already being closed")
	ErrBotOrderInFlight   = errors.New("a bot order is in flight for the trade")
	ErrLimitTimelock      = errors.New("limit order still timelocked")
	ErrSlTooBig           = errors.New("stop loss too far from open price")
)

// MaxSlP caps how far a stop loss may sit from the open price, as a percent
// of the open price scaled down by leverage.
var MaxSlP = decimal.NewFromInt(75)

var hundred = decimal.NewFromInt(100)

// StaticLimits are intake caps fixed at construction.
type StaticLimits struct {
	MaxTradesPerPair       int64
	MaxPendingMarketOrders int64
	// LimitOrderTimelock is how many blocks a resting order must age before
	// it can be updated or canceled.
	LimitOrderTimelock uint64
}

// Trading is the order intake and timeout reaper. Every public method either
// completes synchronously or leaves exactly one pending record for a later
// transaction to consume.
type Trading struct {
	log       *slog.Logger
	ledger    Ledger
	oracle    PriceGateway
	pairs     risk.PairsProvider
	validator *risk.Validator
	cooldowns Cooldowns
	blocks    BlockProvider
	events    Events

	limits StaticLimits
	params *Params
}

func New(
	log *slog.Logger,
	ledger Ledger,
	oracle PriceGateway,
	pairs risk.PairsProvider,
	validator *risk.Validator,
	cooldowns Cooldowns,
	blocks BlockProvider,
	events Events,
	limits StaticLimits,
	params *Params,
) *Trading {
	return &Trading{
		log:       log,
		ledger:    ledger,
		oracle:    oracle,
		pairs:     pairs,
		validator: validator,
		cooldowns: cooldowns,
		blocks:    blocks,
		events:    events,
		limits:    limits,
		params:    params,
	}
}

// OpenTrade accepts a new trade instruction. A market order escrows margin
// and parks a pending record behind an oracle request id; a limit or stop
// order rests in the book at the lowest free slot. It never creates a live
// trade directly.
func (t *Trading) OpenTrade(ctx context.Context, trade models.Trade, orderType models.OpenOrderType, slippageP decimal.Decimal) (uint64, bool, error) {
	const op = "trading.OpenTrade"
	log := t.log.With("op", op, "trader", trade.Trader, "pair", trade.PairIndex)

	if err := t.params.AllowNewTrade(); err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	block, err := t.blocks.CurrentBlock(ctx)
	if err != nil {
		log.Error("failed to get current block", "err", err)
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	if err := t.checkPairCapacity(ctx, trade.Trader, trade.PairIndex); err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	if err := t.validator.ValidateOpen(ctx, trade, t.params.MaxPositionSize()); err != nil {
		log.Info("trade rejected by validator", "err", err)
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	if orderType != models.OrderTypeMarket {
		index, err := t.ledger.FirstEmptyLimitIndex(ctx, trade.Trader, trade.PairIndex)
		if err != nil {
			log.Error("failed to allocate limit slot", "err", err)
			return 0, false, fmt.Errorf("%s: %w", op, err)
		}

		limitOrder := models.OpenLimitOrder{
			Trader:       trade.Trader,
			PairIndex:    trade.PairIndex,
			Index:        index,
			PositionSize: trade.PositionSize,
			Side:         trade.Side,
			Leverage:     trade.Leverage,
			TakeProfit:   trade.TakeProfit,
			StopLoss:     trade.StopLoss,
			MinPrice:     trade.OpenPrice,
			MaxPrice:     trade.OpenPrice,
			OrderType:    orderType,
			Block:        block,
			CreatedAt:    time.Now(),
		}
		if err := t.ledger.PlaceLimitOrder(ctx, limitOrder); err != nil {
			log.Error("failed to place limit order", "err", err)
			return 0, false, fmt.Errorf("%s: %w", op, err)
		}

		if err := t.cooldowns.SetTradeLastUpdated(ctx, trade.Trader, trade.PairIndex, index, models.CooldownCreated, block); err != nil {
			log.Error("failed to stamp creation cooldown", "err", err)
		}

		t.publish(ctx, models.SubjectLimitPlaced, models.LimitPlacedEvent{
			Trader:    trade.Trader,
			PairIndex: trade.PairIndex,
			Index:     index,
			OrderType: orderType,
		})
		metrics.LimitOrdersPlaced.Inc()

		log.Info("limit order placed", "index", index)
		return uint64(index), true, nil
	}

	if err := t.checkPendingCapacity(ctx, trade.Trader); err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	// the escrow move happens at registration; a balance too small to cover
	// it must not leave an orphaned price request behind
	balance, err := t.ledger.GetBalance(ctx, trade.Trader)
	if err != nil {
		log.Error("failed to get balance", "err", err)
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}
	if balance.LessThan(trade.PositionSize) {
		log.Info("insufficient funds for market open", "balance", balance)
		return 0, false, fmt.Errorf("%s: %w", op, postgres.ErrInsufficientFunds)
	}

	orderID, err := t.oracle.RequestPrice(ctx, trade.PairIndex, models.KindMarketOpen, trade.LeveragedPosition())
	if err != nil {
		log.Error("failed to request price", "err", err)
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	pending := models.PendingMarketOrder{
		ID:          orderID,
		Trade:       trade,
		Open:        true,
		Block:       block,
		WantedPrice: trade.OpenPrice,
		SlippageP:   slippageP,
	}
	if err := t.ledger.RegisterMarketOpen(ctx, pending); err != nil {
		log.Error("failed to register pending market open", "order_id", orderID, "err", err)
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	t.publish(ctx, models.SubjectMarketOrderInitiated, models.MarketOrderInitiatedEvent{
		OrderID:   orderID,
		Trader:    trade.Trader,
		PairIndex: trade.PairIndex,
		Open:      true,
	})
	metrics.MarketOrdersInitiated.WithLabelValues("open").Inc()

	log.Info("market open initiated", "order_id", orderID)
	return orderID, false, nil
}

// CloseTradeMarket initiates a market close for a live trade. The margin
// stays escrowed in the trade; no new funds move until settlement.
func (t *Trading) CloseTradeMarket(ctx context.Context, trader, pairIndex, index int64) (uint64, error) {
	const op = "trading.CloseTradeMarket"
	log := t.log.With("op", op, "trader", trader, "pair", pairIndex, "index", index)

	if err := t.params.AllowInteraction(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	trade, err := t.ledger.GetTrade(ctx, trader, pairIndex, index)
	if err != nil {
		log.Error("failed to get trade", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if trade.BeingClosed {
		log.Info("trade already being closed")
		return 0, fmt.Errorf("%s: %w", op, ErrAlreadyBeingClosed)
	}

	// a tp/sl/liquidation already in the oracle pipeline claims the trade
	botPending, err := t.ledger.HasPendingBotOrder(ctx, trader, pairIndex, index)
	if err != nil {
		log.Error("failed to check pending bot order", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if botPending {
		log.Info("bot order in flight for trade")
		return 0, fmt.Errorf("%s: %w", op, ErrBotOrderInFlight)
	}

	if err := t.checkPendingCapacity(ctx, trader); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	block, err := t.blocks.CurrentBlock(ctx)
	if err != nil {
		log.Error("failed to get current block", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	orderID, err := t.oracle.RequestPrice(ctx, pairIndex, models.KindMarketClose, trade.LeveragedPosition())
	if err != nil {
		log.Error("failed to request price", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	pending := models.PendingMarketOrder{
		ID:    orderID,
		Trade: trade,
		Open:  false,
		Block: block,
	}
	if err := t.ledger.RegisterMarketClose(ctx, pending); err != nil {
		log.Error("failed to register pending market close", "order_id", orderID, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	t.publish(ctx, models.SubjectMarketOrderInitiated, models.MarketOrderInitiatedEvent{
		OrderID:   orderID,
		Trader:    trader,
		PairIndex: pairIndex,
		Open:      false,
	})
	metrics.MarketOrdersInitiated.WithLabelValues("close").Inc()

	log.Info("market close initiated", "order_id", orderID)
	return orderID, nil
}

// UpdateOpenLimitOrder moves a resting order's price band and TP/SL.
// Synchronous; rejected while the order is still timelocked.
func (t *Trading) UpdateOpenLimitOrder(ctx context.Context, trader, pairIndex, index int64, price, tp, sl decimal.Decimal) error {
	const op = "trading.UpdateOpenLimitOrder"
	log := t.log.With("op", op, "trader", trader, "pair", pairIndex, "index", index)

	if err := t.params.AllowInteraction(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	order, err := t.ledger.GetOpenLimitOrder(ctx, trader, pairIndex, index)
	if err != nil {
		log.Error("failed to get limit order", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := t.checkLimitTimelock(ctx, order); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := risk.CheckTp(order.Side, price, tp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := risk.CheckSl(order.Side, price, sl); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	order.MinPrice = price
	order.MaxPrice = price
	order.TakeProfit = tp
	order.StopLoss = sl
	if err := t.ledger.UpdateOpenLimitOrder(ctx, order); err != nil {
		log.Error("failed to update limit order", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	block, err := t.blocks.CurrentBlock(ctx)
	if err == nil {
		if err := t.cooldowns.SetTradeLastUpdated(ctx, trader, pairIndex, index, models.CooldownLimit, block); err != nil {
			log.Error("failed to stamp limit cooldown", "err", err)
		}
	}

	t.publish(ctx, models.SubjectLimitUpdated, models.LimitUpdatedEvent{
		Trader:    trader,
		PairIndex: pairIndex,
		Index:     index,
		Price:     price,
		Tp:        tp,
		Sl:        sl,
	})

	log.Info("limit order updated")
	return nil
}

// CancelOpenLimitOrder removes a resting order and refunds its escrow.
func (t *Trading) CancelOpenLimitOrder(ctx context.Context, trader, pairIndex, index int64) error {
	const op = "trading.CancelOpenLimitOrder"
	log := t.log.With("op", op, "trader", trader, "pair", pairIndex, "index", index)

	if err := t.params.AllowInteraction(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	order, err := t.ledger.GetOpenLimitOrder(ctx, trader, pairIndex, index)
	if err != nil {
		log.Error("failed to get limit order", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := t.checkLimitTimelock(ctx, order); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := t.ledger.CancelLimitOrder(ctx, trader, pairIndex, index); err != nil {
		log.Error("failed to cancel limit order", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	t.publish(ctx, models.SubjectLimitCanceled, models.LimitCanceledEvent{
		Trader:    trader,
		PairIndex: pairIndex,
		Index:     index,
	})

	log.Info("limit order canceled")
	return nil
}

// UpdateTp sets a trade's take profit. Synchronous.
func (t *Trading) UpdateTp(ctx context.Context, trader, pairIndex, index int64, newTp decimal.Decimal) error {
	const op = "trading.UpdateTp"
	log := t.log.With("op", op, "trader", trader, "pair", pairIndex, "index", index)

	if err := t.params.AllowInteraction(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	trade, err := t.ledger.GetTrade(ctx, trader, pairIndex, index)
	if err != nil {
		log.Error("failed to get trade", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := risk.CheckTp(trade.Side, trade.OpenPrice, newTp); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := t.ledger.UpdateTradeTp(ctx, trader, pairIndex, index, newTp); err != nil {
		log.Error("failed to update tp", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	block, err := t.blocks.CurrentBlock(ctx)
	if err == nil {
		if err := t.cooldowns.SetTradeLastUpdated(ctx, trader, pairIndex, index, models.CooldownTp, block); err != nil {
			log.Error("failed to stamp tp cooldown", "err", err)
		}
	}

	t.publish(ctx, models.SubjectTpUpdated, models.TpUpdatedEvent{
		Trader:    trader,
		PairIndex: pairIndex,
		Index:     index,
		NewTp:     newTp,
	})

	log.Info("tp updated", "new_tp", newTp)
	return nil
}

// UpdateSl sets a trade's stop loss. Synchronous unless the pair runs
// guaranteed SL, in which case the update is escalated through the oracle
// pipeline and confirmed against a delivered price.
func (t *Trading) UpdateSl(ctx context.Context, trader, pairIndex, index int64, newSl decimal.Decimal) (uint64, bool, error) {
	const op = "trading.UpdateSl"
	log := t.log.With("op", op, "trader", trader, "pair", pairIndex, "index", index)

	if err := t.params.AllowInteraction(); err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	trade, err := t.ledger.GetTrade(ctx, trader, pairIndex, index)
	if err != nil {
		log.Error("failed to get trade", "err", err)
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	if err := risk.CheckSl(trade.Side, trade.OpenPrice, newSl); err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	if !newSl.IsZero() {
		maxDist := trade.OpenPrice.Mul(MaxSlP).Div(hundred).Div(decimal.NewFromInt(int64(trade.Leverage)))
		var dist decimal.Decimal
		if trade.Side.IsLong() {
			dist = trade.OpenPrice.Sub(newSl)
		} else {
			dist = newSl.Sub(trade.OpenPrice)
		}
		if dist.GreaterThan(maxDist) {
			log.Info("sl too far from open price", "new_sl", newSl, "max_dist", maxDist)
			return 0, false, fmt.Errorf("%s: %w", op, ErrSlTooBig)
		}
	}

	pair, err := t.pairs.PairConfig(ctx, pairIndex)
	if err != nil {
		log.Error("failed to get pair config", "err", err)
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	block, err := t.blocks.CurrentBlock(ctx)
	if err != nil {
		log.Error("failed to get current block", "err", err)
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	if pair.GuaranteedSl && !newSl.IsZero() {
		orderID, err := t.oracle.RequestPrice(ctx, pairIndex, models.KindSlUpdate, trade.LeveragedPosition())
		if err != nil {
			log.Error("failed to request price", "err", err)
			return 0, false, fmt.Errorf("%s: %w", op, err)
		}

		pending := models.PendingSlOrder{
			ID:        orderID,
			Trader:    trader,
			PairIndex: pairIndex,
			Index:     index,
			NewSl:     newSl,
			Block:     block,
		}
		if err := t.ledger.StorePendingSlOrder(ctx, pending); err != nil {
			log.Error("failed to store pending sl order", "order_id", orderID, "err", err)
			return 0, false, fmt.Errorf("%s: %w", op, err)
		}

		t.publish(ctx, models.SubjectSlUpdateInitiated, models.SlUpdateInitiatedEvent{
			OrderID:   orderID,
			Trader:    trader,
			PairIndex: pairIndex,
			Index:     index,
			NewSl:     newSl,
		})

		log.Info("guaranteed sl update initiated", "order_id", orderID)
		return orderID, true, nil
	}

	if err := t.ledger.UpdateTradeSl(ctx, trader, pairIndex, index, newSl); err != nil {
		log.Error("failed to update sl", "err", err)
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	if err := t.cooldowns.SetTradeLastUpdated(ctx, trader, pairIndex, index, models.CooldownSl, block); err != nil {
		log.Error("failed to stamp sl cooldown", "err", err)
	}

	t.publish(ctx, models.SubjectSlUpdated, models.SlUpdatedEvent{
		Trader:    trader,
		PairIndex: pairIndex,
		Index:     index,
		NewSl:     newSl,
	})

	log.Info("sl updated", "new_sl", newSl)
	return 0, false, nil
}

func (t *Trading) GetUserTrades(ctx context.Context, trader int64) ([]models.Trade, error) {
	const op = "trading.GetUserTrades"

	trades, err := t.ledger.GetUserTrades(ctx, trader)
	if err != nil {
		t.log.Error("failed to get user trades", "op", op, "trader", trader, "err", err)
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return trades, nil
}

// checkPairCapacity enforces the per-pair slot budget: live trades, pending
// market opens and resting orders all count against it.
func (t *Trading) checkPairCapacity(ctx context.Context, trader, pairIndex int64) error {
	trades, err := t.ledger.TradesCount(ctx, trader, pairIndex)
	if err != nil {
		return err
	}
	pendingOpens, err := t.ledger.PendingMarketOpenCount(ctx, trader, pairIndex)
	if err != nil {
		return err
	}
	limits, err := t.ledger.OpenLimitOrdersCount(ctx, trader, pairIndex)
	if err != nil {
		return err
	}
	if trades+pendingOpens+limits >= t.limits.MaxTradesPerPair {
		return ErrMaxTradesPerPair
	}
	return nil
}

func (t *Trading) checkPendingCapacity(ctx context.Context, trader int64) error {
	pending, err := t.ledger.PendingMarketOrdersCount(ctx, trader)
	if err != nil {
		return err
	}
	if pending >= t.limits.MaxPendingMarketOrders {
		return ErrMaxPendingOrders
	}
	return nil
}

func (t *Trading) checkLimitTimelock(ctx context.Context, order models.OpenLimitOrder) error {
	block, err := t.blocks.CurrentBlock(ctx)
	if err != nil {
		return err
	}
	if block < order.Block+t.limits.LimitOrderTimelock {
		return ErrLimitTimelock
	}
	return nil
}

func (t *Trading) publish(ctx context.Context, subject string, msg interface{}) {
	if err := t.events.Publish(ctx, subject, msg); err != nil {
		t.log.Error("failed to publish event", "subject", subject, "err", err)
	}
}
