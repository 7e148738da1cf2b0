package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// User is a trader account. Balance is free collateral; Escrow is margin
// locked behind resting orders, pending market opens and live trades.
type User struct {
	Id       int64
	Email    string
	PassHash []byte
	Balance  decimal.Decimal
	Escrow   decimal.Decimal
	Created  time.Time
}
