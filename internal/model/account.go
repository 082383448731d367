package model

import "github.com/shopspring/decimal"

// Account is a broker account view. Equity is derived at read time:
// cash plus the mark-to-market value of open positions.
type Account struct {
	AccountID string          `json:"account_id"`
	Equity    decimal.Decimal `json:"equity"`
	Cash      decimal.Decimal `json:"cash"`
}
