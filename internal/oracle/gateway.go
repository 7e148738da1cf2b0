package oracle

import (
	"context"
	"fmt"
	"log/slog"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SubjectPrefix is where price fulfillment workers listen; the pair index
// is appended so workers can subscribe per market.
const SubjectPrefix = "oracle.requests"

type IDSource interface {
	NextRequestID(ctx context.Context) (uint64, error)
}

type Broker interface {
	Publish(ctx context.Context, subject string, msg interface{}) error
}

// Gateway hands out price request ids and dispatches the matching request
// messages to the oracle stream.
type Gateway struct {
	log    *slog.Logger
	ids    IDSource
	broker Broker
}

func New(log *slog.Logger, ids IDSource, broker Broker) *Gateway {
	return &Gateway{log: log, ids: ids, broker: broker}
}

// RequestPrice draws a fresh request id and publishes a price request for
// the pair. The returned id keys the caller's pending record; a request
// whose publish fails never hands out a usable id.
func (g *Gateway) RequestPrice(ctx context.Context,
	pairIndex int64,
	kind models.PriceRequestKind,
	notional decimal.Decimal) (uint64, error) {
	const op = "oracle.RequestPrice"
	log := g.log.With("op", op, "pair", pairIndex, "kind", kind)

	id, err := g.ids.NextRequestID(ctx)
	if err != nil {
		metrics.OracleRequestFailures.Inc()
		log.Error("failed to draw request id", "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	req := models.PriceRequest{
		ID:        id,
		PairIndex: pairIndex,
		Kind:      kind,
		Notional:  notional,
		TraceID:   uuid.NewString(),
	}
	subject := fmt.Sprintf("%s.%d", SubjectPrefix, pairIndex)
	if err := g.broker.Publish(ctx, subject, req); err != nil {
		metrics.OracleRequestFailures.Inc()
		log.Error("failed to publish price request", "order_id", id, "err", err)
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("price requested", "order_id", id, "trace_id", req.TraceID)
	return id, nil
}
