package trading

import (
	"context"
	"errors"
	"fmt"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/metrics"
)

var (
	ErrNotYourOrder   = errors.New("order belongs to another trader")
	ErrTooEarly       = errors.New("market order timeout not reached")
	ErrNotMarketOpen  = errors.New("pending order is not a market open")
	ErrNotMarketClose = errors.New("pending order is not a market close")
)

// OpenTradeMarketTimeout unwinds a market open whose oracle answer never
// arrived: the pending record is deleted (the id's single consumption) and
// the escrowed margin refunded. Only the original requester may call it, and
// only once the configured block count has passed.
func (t *Trading) OpenTradeMarketTimeout(ctx context.Context, trader int64, orderID uint64) error {
	const op = "trading.OpenTradeMarketTimeout"
	log := t.log.With("op", op, "trader", trader, "order_id", orderID)

	order, err := t.checkTimeout(ctx, trader, orderID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !order.Open {
		return fmt.Errorf("%s: %w", op, ErrNotMarketOpen)
	}

	if _, err := t.ledger.UnwindMarketOpen(ctx, orderID); err != nil {
		log.Error("failed to unwind market open", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	t.publish(ctx, models.SubjectMarketTimeout, models.MarketTimeoutEvent{
		OrderID:   orderID,
		Trader:    trader,
		PairIndex: order.Trade.PairIndex,
		Open:      true,
	})
	metrics.MarketTimeoutsFired.WithLabelValues("open").Inc()

	log.Info("market open unwound", "pair", order.Trade.PairIndex)
	return nil
}

// CloseTradeMarketTimeout unwinds a market close that never settled, then
// immediately re-attempts the close. The retry is best effort: its failure is
// reported as a CouldNotCloseTrade event, never as an error, so the unwind
// itself cannot be trapped by a failing re-entry.
func (t *Trading) CloseTradeMarketTimeout(ctx context.Context, trader int64, orderID uint64) error {
	const op = "trading.CloseTradeMarketTimeout"
	log := t.log.With("op", op, "trader", trader, "order_id", orderID)

	order, err := t.checkTimeout(ctx, trader, orderID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if order.Open {
		return fmt.Errorf("%s: %w", op, ErrNotMarketClose)
	}

	if _, err := t.ledger.UnwindMarketClose(ctx, orderID); err != nil {
		log.Error("failed to unwind market close", "err", err)
		return fmt.Errorf("%s: %w", op, err)
	}

	t.publish(ctx, models.SubjectMarketTimeout, models.MarketTimeoutEvent{
		OrderID:   orderID,
		Trader:    trader,
		PairIndex: order.Trade.PairIndex,
		Open:      false,
	})
	metrics.MarketTimeoutsFired.WithLabelValues("close").Inc()

	if _, err := t.CloseTradeMarket(ctx, trader, order.Trade.PairIndex, order.Trade.Index); err != nil {
		log.Info("close retry failed after timeout", "err", err)
		t.publish(ctx, models.SubjectCouldNotCloseTrade, models.CouldNotCloseTradeEvent{
			Trader:    trader,
			PairIndex: order.Trade.PairIndex,
			Index:     order.Trade.Index,
			Reason:    err.Error(),
		})
	}

	log.Info("market close unwound", "pair", order.Trade.PairIndex)
	return nil
}

// checkTimeout loads the pending order and verifies ownership and timing.
func (t *Trading) checkTimeout(ctx context.Context, trader int64, orderID uint64) (models.PendingMarketOrder, error) {
	order, err := t.ledger.GetPendingMarketOrder(ctx, orderID)
	if err != nil {
		return models.PendingMarketOrder{}, err
	}
	if order.Trade.Trader != trader {
		return models.PendingMarketOrder{}, ErrNotYourOrder
	}

	block, err := t.blocks.CurrentBlock(ctx)
	if err != nil {
		return models.PendingMarketOrder{}, err
	}
	if block < order.Block+t.params.MarketOrdersTimeout() {
		return models.PendingMarketOrder{}, ErrTooEarly
	}
	return order, nil
}
