package trading

import (
	"context"
	"errors"
	"testing"

	"PerpExchange/internal/domain/models"
	"PerpExchange/internal/storage/postgres"
)

func TestOpenTradeMarketTimeout(t *testing.T) {
	env := newTestEnv(testPair())
	env.ledger.pending[42] = models.PendingMarketOrder{
		ID:    42,
		Trade: testTrade(),
		Open:  true,
		Block: 1000,
	}

	// timeout is 30 blocks: one block short must be rejected
	env.blocks.block = 1029
	err := env.trading.OpenTradeMarketTimeout(context.Background(), 1, 42)
	if !errors.Is(err, ErrTooEarly) {
		t.Fatalf("error = %v, want %v", err, ErrTooEarly)
	}

	env.blocks.block = 1030
	if err := env.trading.OpenTradeMarketTimeout(context.Background(), 1, 42); err != nil {
		t.Fatalf("OpenTradeMarketTimeout() at release block: %v", err)
	}
	if len(env.ledger.unwoundOpen) != 1 || env.ledger.unwoundOpen[0] != 42 {
		t.Fatalf("pending open not unwound: %v", env.ledger.unwoundOpen)
	}
	if !env.events.has(models.SubjectMarketTimeout) {
		t.Fatal("market timeout event not published")
	}

	// the id was consumed by the unwind, a second call finds nothing
	err = env.trading.OpenTradeMarketTimeout(context.Background(), 1, 42)
	if !errors.Is(err, postgres.ErrPendingOrderNotExists) {
		t.Fatalf("second unwind: error = %v, want %v", err, postgres.ErrPendingOrderNotExists)
	}
}

func TestOpenTradeMarketTimeout_Ownership(t *testing.T) {
	env := newTestEnv(testPair())
	env.blocks.block = 2000
	env.ledger.pending[42] = models.PendingMarketOrder{
		ID:    42,
		Trade: testTrade(),
		Open:  true,
		Block: 1000,
	}

	err := env.trading.OpenTradeMarketTimeout(context.Background(), 2, 42)
	if !errors.Is(err, ErrNotYourOrder) {
		t.Fatalf("error = %v, want %v", err, ErrNotYourOrder)
	}
	if len(env.ledger.unwoundOpen) != 0 {
		t.Fatal("foreign caller must not consume the order")
	}
}

func TestOpenTradeMarketTimeout_WrongDirection(t *testing.T) {
	env := newTestEnv(testPair())
	env.blocks.block = 2000
	env.ledger.trades[slotKey(1, 0, 0)] = testTrade()
	env.ledger.pending[42] = models.PendingMarketOrder{
		ID:    42,
		Trade: testTrade(),
		Open:  false,
		Block: 1000,
	}

	err := env.trading.OpenTradeMarketTimeout(context.Background(), 1, 42)
	if !errors.Is(err, ErrNotMarketOpen) {
		t.Fatalf("error = %v, want %v", err, ErrNotMarketOpen)
	}

	err = env.trading.CloseTradeMarketTimeout(context.Background(), 1, 42)
	if err != nil {
		t.Fatalf("CloseTradeMarketTimeout() error: %v", err)
	}

	env.ledger.pending[43] = models.PendingMarketOrder{
		ID:    43,
		Trade: testTrade(),
		Open:  true,
		Block: 1000,
	}
	err = env.trading.CloseTradeMarketTimeout(context.Background(), 1, 43)
	if !errors.Is(err, ErrNotMarketClose) {
		t.Fatalf("error = %v, want %v", err, ErrNotMarketClose)
	}
}

func TestCloseTradeMarketTimeout_RetriesClose(t *testing.T) {
	env := newTestEnv(testPair())
	env.blocks.block = 2000

	trade := testTrade()
	trade.BeingClosed = true
	env.ledger.trades[slotKey(1, 0, 0)] = trade
	env.ledger.pending[42] = models.PendingMarketOrder{
		ID:    42,
		Trade: trade,
		Open:  false,
		Block: 1000,
	}

	if err := env.trading.CloseTradeMarketTimeout(context.Background(), 1, 42); err != nil {
		t.Fatalf("CloseTradeMarketTimeout() error: %v", err)
	}
	if len(env.ledger.unwoundClose) != 1 {
		t.Fatal("pending close not unwound")
	}

	// the unwind cleared being_closed, so the retry parked a fresh close
	got := env.ledger.trades[slotKey(1, 0, 0)]
	if !got.BeingClosed {
		t.Fatal("retry did not re-flag the trade")
	}
	if len(env.ledger.pending) != 1 {
		t.Fatalf("retry left %d pending records, want 1", len(env.ledger.pending))
	}
}

func TestCloseTradeMarketTimeout_RetryFailureIsReported(t *testing.T) {
	env := newTestEnv(testPair())
	env.blocks.block = 2000

	// no live trade behind the pending close: the retry cannot succeed
	env.ledger.pending[42] = models.PendingMarketOrder{
		ID:    42,
		Trade: testTrade(),
		Open:  false,
		Block: 1000,
	}

	if err := env.trading.CloseTradeMarketTimeout(context.Background(), 1, 42); err != nil {
		t.Fatalf("unwind must not fail with the retry: %v", err)
	}
	if !env.events.has(models.SubjectCouldNotCloseTrade) {
		t.Fatal("failed retry not reported")
	}
}
