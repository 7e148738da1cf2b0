package trading

import (
	"sync"

	"github.com/shopspring/decimal"
)

// Params is the engine's owned mutable configuration: two numeric knobs and
// two circuit breakers. Mutated only through the administrative entry points
// and read at the start of every other call.
type Params struct {
	mu sync.RWMutex

	maxPositionSize     decimal.Decimal
	marketOrdersTimeout uint64 // blocks
	paused              bool   // rejects new trades
	halted              bool   // rejects everything
}

func NewParams(maxPositionSize decimal.Decimal, marketOrdersTimeout uint64) *Params {
	return &Params{
		maxPositionSize:     maxPositionSize,
		marketOrdersTimeout: marketOrdersTimeout,
	}
}

func (p *Params) MaxPositionSize() decimal.Decimal {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxPositionSize
}

func (p *Params) SetMaxPositionSize(v decimal.Decimal) {
	p.mu.Lock()
	p.maxPositionSize = v
	p.mu.Unlock()
}

func (p *Params) MarketOrdersTimeout() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.marketOrdersTimeout
}

func (p *Params) SetMarketOrdersTimeout(blocks uint64) {
	p.mu.Lock()
	p.marketOrdersTimeout = blocks
	p.mu.Unlock()
}

func (p *Params) SetPaused(on bool) {
	p.mu.Lock()
	p.paused = on
	p.mu.Unlock()
}

func (p *Params) SetHalted(on bool) {
	p.mu.Lock()
	p.halted = on
	p.mu.Unlock()
}

func (p *Params) Halted() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.halted
}

// AllowNewTrade gates trade-opening entry points: both breakers apply.
func (p *Params) AllowNewTrade() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.halted {
		return ErrHalted
	}
	if p.paused {
		return ErrPaused
	}
	return nil
}

// AllowInteraction gates everything else: only the full halt applies, so
// traders can still manage and close positions while new trades are paused.
func (p *Params) AllowInteraction() error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.halted {
		return ErrHalted
	}
	return nil
}
