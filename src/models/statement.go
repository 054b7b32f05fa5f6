package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// OptionKind distinguishes calls from puts.
type OptionKind string

const (
	KindCall OptionKind = "CALL"
	KindPut  OptionKind = "PUT"
)

// TradeAction classifies what an option trade event did to the contract.
type TradeAction string

const (
	ActionOpen   TradeAction = "OPEN"
	ActionClose  TradeAction = "CLOSE"
	ActionAssign TradeAction = "ASSIGN"
	ActionExpire TradeAction = "EXPIRE"
)

// ParsedStatement is the typed result of parsing one activity statement.
// Each parser run is responsible for populating every field it can recover;
// only missing structure (date, account alias, NAV block) aborts parsing.
type ParsedStatement struct {
	ReportDate   time.Time `json:"report_date"`
	Year         int       `json:"year"`
	AccountAlias string    `json:"account_alias"`

	// NAV fields. Money amounts carry exact decimals; later rows in the NAV
	// region with the same label override earlier ones.
	Cash            decimal.Decimal `json:"cash"`
	AccruedInterest decimal.Decimal `json:"accrued_interest"`
	NetEquity       decimal.Decimal `json:"net_equity"`
	ManagementFee   decimal.Decimal `json:"management_fee"`
	NetDeposit      decimal.Decimal `json:"net_deposit"`

	// YearOpening marks the statement as a year-opening snapshot: its NAV
	// updates the account's opening balances instead of a dated NAV row.
	YearOpening bool `json:"year_opening"`

	StockPositions  []OpenPosition       `json:"stock_positions"`
	OptionPositions []OpenOptionPosition `json:"option_positions"`
	TradeEvents     []OptionTradeEvent   `json:"trade_events"`
}

// OpenPosition is one open stock position row from the statement snapshot.
type OpenPosition struct {
	Symbol    string  `json:"symbol"`
	Quantity  int     `json:"quantity"`
	CostPrice float64 `json:"cost_price"`
}

// OpenOptionPosition is one open option position row from the snapshot.
type OpenOptionPosition struct {
	Underlying string     `json:"underlying"`
	Expiry     time.Time  `json:"expiry"`
	Strike     float64    `json:"strike"`
	Kind       OptionKind `json:"kind"`
	Quantity   int        `json:"quantity"`
	CostPrice  float64    `json:"cost_price"`
	Premium    float64    `json:"premium"`
}

// OptionTradeEvent is one option trade row from the transactions section.
// TradedAt is the trade timestamp: the open timestamp for OPEN events and
// the settlement date for CLOSE/ASSIGN/EXPIRE events.
type OptionTradeEvent struct {
	Underlying string      `json:"underlying"`
	Expiry     time.Time   `json:"expiry"`
	Strike     float64     `json:"strike"`
	Kind       OptionKind  `json:"kind"`
	TradedAt   time.Time   `json:"traded_at"`
	Quantity   int         `json:"quantity"`
	Premium    float64     `json:"premium"`
	RealizedPL float64     `json:"realized_pl"`
	Action     TradeAction `json:"action"`
}

// ContractKey identifies an option contract within one account. Open lots
// for the same key are consumed oldest-open-date-first when closing.
type ContractKey struct {
	Underlying string
	Expiry     time.Time
	Strike     float64
	Kind       OptionKind
}

// Key returns the event's contract key.
func (e OptionTradeEvent) Key() ContractKey {
	return ContractKey{Underlying: e.Underlying, Expiry: e.Expiry, Strike: e.Strike, Kind: e.Kind}
}

// Key returns the position's contract key.
func (p OpenOptionPosition) Key() ContractKey {
	return ContractKey{Underlying: p.Underlying, Expiry: p.Expiry, Strike: p.Strike, Kind: p.Kind}
}
