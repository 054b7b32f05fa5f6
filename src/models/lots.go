package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// LotStatus is the lifecycle state of a stock lot.
type LotStatus string

const (
	StatusOpen   LotStatus = "Open"
	StatusClosed LotStatus = "Closed"
)

// LotOperation is the lifecycle state of an option lot.
type LotOperation string

const (
	OperationOpen     LotOperation = "Open"
	OperationClosed   LotOperation = "Closed"
	OperationAssigned LotOperation = "Assigned"
	OperationExpired  LotOperation = "Expired"
)

// Account is one (alias, year) entry in the account directory, carrying the
// year-opening balances that year-start statements update.
type Account struct {
	ID                int64           `json:"id"`
	Alias             string          `json:"alias"`
	Year              int             `json:"year"`
	OpeningCash       decimal.Decimal `json:"opening_cash"`
	OpeningInterest   decimal.Decimal `json:"opening_interest"`
	OpeningEquity     decimal.Decimal `json:"opening_equity"`
	OpeningNetDeposit decimal.Decimal `json:"opening_net_deposit"`
	CreatedAt         time.Time       `json:"created_at"`
}

// StockLot is one persisted stock lot. Code is unique across both the stock
// and option lot tables.
type StockLot struct {
	ID        int64     `json:"id"`
	AccountID int64     `json:"account_id"`
	Symbol    string    `json:"symbol"`
	Status    LotStatus `json:"status"`
	OpenDate  time.Time `json:"open_date"`
	OpenPrice float64   `json:"open_price"`
	Quantity  int       `json:"quantity"`
	Code      string    `json:"code"`
	Note      string    `json:"note,omitempty"` // provenance tag, e.g. the import run that created the lot
}

// OptionLot is one persisted option lot. A partial close shrinks the open
// lot in place and records the closed portion as a new lot; the open lot is
// never deleted or replaced.
type OptionLot struct {
	ID             int64        `json:"id"`
	AccountID      int64        `json:"account_id"`
	Operation      LotOperation `json:"operation"`
	OpenDate       time.Time    `json:"open_date"`
	ExpiryDate     time.Time    `json:"expiry_date"`
	SettlementDate time.Time    `json:"settlement_date,omitempty"`
	DaysHeld       int          `json:"days_held"`
	Quantity       int          `json:"quantity"`
	Underlying     string       `json:"underlying"`
	Kind           OptionKind   `json:"kind"`
	Strike         float64      `json:"strike"`
	Premium        float64      `json:"premium"`
	FinalProfit    float64      `json:"final_profit"`
	ProfitPct      float64      `json:"profit_pct"`
	Code           string       `json:"code"`
}

// Key returns the lot's contract key.
func (l OptionLot) Key() ContractKey {
	return ContractKey{Underlying: l.Underlying, Expiry: l.ExpiryDate, Strike: l.Strike, Kind: l.Kind}
}

// NAVSnapshot is the dated NAV row written for non-year-start statements.
type NAVSnapshot struct {
	ID              int64           `json:"id"`
	AccountID       int64           `json:"account_id"`
	Date            time.Time       `json:"date"`
	Cash            decimal.Decimal `json:"cash"`
	AccruedInterest decimal.Decimal `json:"accrued_interest"`
	NetEquity       decimal.Decimal `json:"net_equity"`
	ManagementFee   decimal.Decimal `json:"management_fee"`
	NetDeposit      decimal.Decimal `json:"net_deposit"`
}
