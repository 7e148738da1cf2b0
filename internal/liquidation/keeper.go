package liquidation

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"log/slog"
	"runtime"
	"sync"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/services/botgate"

	"github.com/nats-io/nats.go"
	"github.com/shopspring/decimal"
)

type scanner interface {
	PairByTicker(ctx context.Context, ticker string) (models.PairConfig, error)
	TradesByPair(ctx context.Context, pairIndex int64) ([]models.Trade, error)
	OpenLimitOrdersByPair(ctx context.Context, pairIndex int64) ([]models.OpenLimitOrder, error)
}

type executor interface {
	ExecuteBotOrder(ctx context.Context, orderType models.BotOrderType, trader, pairIndex, index int64) (uint64, error)
}

type liqPricer interface {
	TradeLiquidationPrice(ctx context.Context, t models.Trade) (decimal.Decimal, error)
}

// Keeper watches the price stream and files bot orders for every trade or
// resting order a fresh mark price has triggered. Actual settlement still
// goes through the oracle round trip.
type Keeper struct {
	nc      *nats.Conn
	scanner scanner
	exec    executor
	liq     liqPricer
}

func NewKeeper(nc *nats.Conn, scanner scanner, exec executor, liq liqPricer) *Keeper {
	return &Keeper{
		nc:      nc,
		scanner: scanner,
		exec:    exec,
		liq:     liq,
	}
}

func (k *Keeper) Process() {
	ctx := context.Background()
	updates := make(chan models.PriceResponse, 1024)
	var wg sync.WaitGroup
	workerCount := runtime.NumCPU()
	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for pu := range updates {
				k.handlePriceUpdate(ctx, pu)
			}
		}(i)
	}

	_, _ = k.nc.Subscribe("prices.*", func(msg *nats.Msg) {
		var pu models.PriceResponse
		if err := json.Unmarshal(msg.Data, &pu); err != nil {
			log.Printf("invalid msg: %v", err)
			return
		}

		updates <- pu
	})
}

func (k *Keeper) handlePriceUpdate(ctx context.Context, pu models.PriceResponse) {
	const op = "liquidation.handlePriceUpdate"

	price, err := decimal.NewFromString(pu.Price)
	if err != nil {
		slog.Error("invalid price update", "op", op, "symbol", pu.Symbol, "err", err)
		return
	}

	pair, err := k.scanner.PairByTicker(ctx, pu.Symbol)
	if err != nil {
		// unknown tickers on the feed are not markets here
		return
	}

	k.checkTrades(ctx, pair.Index, price)
	k.checkLimitOrders(ctx, pair.Index, price)
}

func (k *Keeper) checkTrades(ctx context.Context, pairIndex int64, price decimal.Decimal) {
	const op = "liquidation.checkTrades"

	trades, err := k.scanner.TradesByPair(ctx, pairIndex)
	if err != nil {
		slog.Error("scan trades error", "op", op, "pair", pairIndex, "err", err)
		return
	}

	for _, t := range trades {
		if t.BeingClosed {
			continue
		}
		orderType, triggered := k.triggeredType(ctx, t, price)
		if !triggered {
			continue
		}
		k.execute(ctx, orderType, t.Trader, t.PairIndex, t.Index)
	}
}

// triggeredType picks the most urgent trigger for a trade at the given mark
// price. Liquidation wins over sl, sl over tp.
func (k *Keeper) triggeredType(ctx context.Context, t models.Trade, price decimal.Decimal) (models.BotOrderType, bool) {
	const op = "liquidation.triggeredType"

	liqPrice, err := k.liq.TradeLiquidationPrice(ctx, t)
	if err != nil {
		slog.Error("liq price error", "op", op, "trader", t.Trader, "err", err)
	} else if crossed(t.Side, price, liqPrice) {
		return models.BotOrderLiquidation, true
	}

	if !t.StopLoss.IsZero() && crossed(t.Side, price, t.StopLoss) {
		return models.BotOrderStopLoss, true
	}

	if !t.TakeProfit.IsZero() && crossed(t.Side.Opposite(), price, t.TakeProfit) {
		return models.BotOrderTakeProfit, true
	}

	return "", false
}

// crossed reports whether price has moved through level in the losing
// direction for the side: at or below for longs, at or above for shorts.
func crossed(side models.Side, price, level decimal.Decimal) bool {
	if side.IsLong() {
		return price.LessThanOrEqual(level)
	}
	return price.GreaterThanOrEqual(level)
}

func (k *Keeper) checkLimitOrders(ctx context.Context, pairIndex int64, price decimal.Decimal) {
	const op = "liquidation.checkLimitOrders"

	orders, err := k.scanner.OpenLimitOrdersByPair(ctx, pairIndex)
	if err != nil {
		slog.Error("scan limit orders error", "op", op, "pair", pairIndex, "err", err)
		return
	}

	for _, o := range orders {
		if price.LessThan(o.MinPrice) || price.GreaterThan(o.MaxPrice) {
			continue
		}
		k.execute(ctx, models.BotOrderLimitOpen, o.Trader, o.PairIndex, o.Index)
	}
}

func (k *Keeper) execute(ctx context.Context, orderType models.BotOrderType, trader, pairIndex, index int64) {
	const op = "liquidation.execute"

	orderID, err := k.exec.ExecuteBotOrder(ctx, orderType, trader, pairIndex, index)
	if err != nil {
		// rejections are routine: cooldowns, in-flight orders, halted engine
		if errors.Is(err, botgate.ErrPendingBotOrder) || errors.Is(err, botgate.ErrCooldownActive) {
			return
		}
		slog.Debug("bot order rejected", "op", op, "type", orderType, "trader", trader, "err", err)
		return
	}

	slog.Info("bot order filed", "op", op, "type", orderType, "trader", trader, "order_id", orderID)
}
