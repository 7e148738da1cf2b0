package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Side string

const (
	Long  Side = "long"
	Short Side = "short"
)

func (s Side) IsLong() bool {
	return s == Long
}

func (s Side) Opposite() Side {
	if s == Long {
		return Short
	}
	return Long
}

// OpenOrderType is how a new trade instruction should be executed.
// Market goes straight to the oracle pipeline, Limit and Stop rest
// in the book until a keeper fills them.
type OpenOrderType string

const (
	OrderTypeMarket OpenOrderType = "market"
	OrderTypeLimit  OpenOrderType = "limit"
	OrderTypeStop   OpenOrderType = "stop"
)

type BotOrderType string

const (
	BotOrderTakeProfit  BotOrderType = "tp"
	BotOrderStopLoss    BotOrderType = "sl"
	BotOrderLiquidation BotOrderType = "liq"
	BotOrderLimitOpen   BotOrderType = "open"
)

// CooldownAction names the per-slot timestamps the bot gate checks
// before re-triggering an automated order.
type CooldownAction string

const (
	CooldownTp      CooldownAction = "tp"
	CooldownSl      CooldownAction = "sl"
	CooldownLimit   CooldownAction = "limit"
	CooldownCreated CooldownAction = "created"
)

// Trade is a live leveraged position, keyed by (Trader, PairIndex, Index).
// PositionSize is the escrowed margin; notional exposure is
// PositionSize * Leverage.
type Trade struct {
	Trader       int64
	PairIndex    int64
	Index        int64
	PositionSize decimal.Decimal
	OpenPrice    decimal.Decimal
	Side         Side
	Leverage     uint8
	TakeProfit   decimal.Decimal
	StopLoss     decimal.Decimal
	BeingClosed  bool
	OpenBlock    uint64
	CreatedAt    time.Time
}

func (t Trade) LeveragedPosition() decimal.Decimal {
	return t.PositionSize.Mul(decimal.NewFromInt(int64(t.Leverage)))
}

// OpenLimitOrder is a resting order waiting for the market to enter
// its price band.
type OpenLimitOrder struct {
	Trader       int64
	PairIndex    int64
	Index        int64
	PositionSize decimal.Decimal
	Side         Side
	Leverage     uint8
	TakeProfit   decimal.Decimal
	StopLoss     decimal.Decimal
	MinPrice     decimal.Decimal
	MaxPrice     decimal.Decimal
	OrderType    OpenOrderType
	Block        uint64
	CreatedAt    time.Time
}

func (o OpenLimitOrder) LeveragedPosition() decimal.Decimal {
	return o.PositionSize.Mul(decimal.NewFromInt(int64(o.Leverage)))
}

// PendingMarketOrder is an in-flight market open or close, keyed by the
// oracle request id. Exactly one of callback settlement or timeout unwind
// may ever consume a given id.
type PendingMarketOrder struct {
	ID          uint64
	Trade       Trade
	Open        bool
	Block       uint64
	WantedPrice decimal.Decimal
	SlippageP   decimal.Decimal
}

// PendingBotOrder is an in-flight automated execution (tp/sl/liq/limit-fill),
// keyed by the oracle request id. Same single-consumption rule as
// PendingMarketOrder.
type PendingBotOrder struct {
	ID        uint64
	Trader    int64
	PairIndex int64
	Index     int64
	OrderType BotOrderType
	Block     uint64
}

// PendingSlOrder is a guaranteed-SL update awaiting oracle confirmation.
type PendingSlOrder struct {
	ID        uint64
	Trader    int64
	PairIndex int64
	Index     int64
	NewSl     decimal.Decimal
	Block     uint64
}

// PairConfig holds the per-market risk parameters the validator reads.
type PairConfig struct {
	Index          int64
	Ticker         string
	MinLeverage    uint8
	MaxLeverage    uint8
	MinLevPosition decimal.Decimal
	GuaranteedSl   bool
}
