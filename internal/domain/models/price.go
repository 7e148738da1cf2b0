package models

import "github.com/shopspring/decimal"

// PriceRequestKind tells the oracle network why a price is needed, so the
// settlement executor knows which pending record the answer belongs to.
type PriceRequestKind string

const (
	KindMarketOpen  PriceRequestKind = "market_open"
	KindMarketClose PriceRequestKind = "market_close"
	KindLimitOpen   PriceRequestKind = "limit_open"
	KindLimitClose  PriceRequestKind = "limit_close"
	KindTpClose     PriceRequestKind = "tp_close"
	KindSlClose     PriceRequestKind = "sl_close"
	KindLiqClose    PriceRequestKind = "liq_close"
	KindSlUpdate    PriceRequestKind = "sl_update"
)

// PriceRequest is the payload published to the oracle network. ID is unique
// and monotonically assigned; the fulfillment callback echoes it back.
type PriceRequest struct {
	ID        uint64           `json:"id"`
	PairIndex int64            `json:"pair_index"`
	Kind      PriceRequestKind `json:"kind"`
	Notional  decimal.Decimal  `json:"notional"`
	// TraceID correlates the request across the oracle round trip in logs.
	TraceID string `json:"trace_id"`
}

// PriceResponse is one ticker price as delivered by the upstream feed.
type PriceResponse struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}
