package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type User struct {
	ID           int32
	Username     string
	PasswordHash string
	Balance      decimal.Decimal
	SpotBalance  decimal.Decimal
	CreatedAt    time.Time
}

// BalanceField names a balance column that may be changed with an atomic increment.
// Deposits credit BalanceUSDT; BalanceSpot is maintained by the trading side
// through UserRepository.IncrementBalance.
type BalanceField string

const (
	BalanceUSDT BalanceField = "balance"
	BalanceSpot BalanceField = "spot_balance"
)

func (f BalanceField) Valid() bool {
	return f == BalanceUSDT || f == BalanceSpot
}
