package services

import (
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/lotfolio/src/models"
	"github.com/username/lotfolio/src/processors"
)

// ErrParsingFailed wraps statement decode failures that are not structural
// (a structural failure surfaces as *parsers.StructuralError directly).
var ErrParsingFailed = errors.New("statement parsing failed")

// Outcome classification of a Confirm run. Year-start statements update the
// account's opening balances; all others write (or rewrite) a dated NAV row.
const (
	OutcomeYearStart = "year_start"
	OutcomeCreated   = "created"
	OutcomeUpdated   = "updated"
)

// SyncCounts reports what Confirm did with one snapshot category.
type SyncCounts struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// TradeCounts reports what Confirm did with the trade events.
// ClosedSkipped counts close-type events that applied nothing new: orphans
// and settlements the ledger already carried.
type TradeCounts struct {
	Added         int `json:"added"`
	Skipped       int `json:"skipped"`
	Closed        int `json:"closed"`
	ClosedSkipped int `json:"closedSkipped"`
}

// PreviewResult is the read-only import plan: parsed header fields plus one
// action per parsed record, in statement order, each with its verdict.
type PreviewResult struct {
	ReportDate      time.Time       `json:"report_date"`
	Year            int             `json:"year"`
	AccountAlias    string          `json:"account_alias"`
	YearOpening     bool            `json:"year_opening"`
	Cash            decimal.Decimal `json:"cash"`
	AccruedInterest decimal.Decimal `json:"accrued_interest"`
	NetEquity       decimal.Decimal `json:"net_equity"`
	ManagementFee   decimal.Decimal `json:"management_fee"`
	NetDeposit      decimal.Decimal `json:"net_deposit"`

	Stocks          []processors.StockAction          `json:"stock_positions"`
	OptionPositions []processors.OptionPositionAction `json:"option_positions"`
	Trades          []processors.TradeAction          `json:"trade_events"`
}

// ConfirmResult reports an applied import.
type ConfirmResult struct {
	ImportID            string      `json:"import_id"`
	Outcome             string      `json:"outcome"`
	PositionsSync       SyncCounts  `json:"positionsSync"`
	OptionPositionsSync SyncCounts  `json:"optionPositionsSync"`
	Trades              TradeCounts `json:"trades"`
}

// ImportService is the two-phase statement import: Preview is a side-effect
// free dry run, Confirm applies the identical plan against live storage.
type ImportService interface {
	Preview(fileReader io.Reader) (*PreviewResult, error)
	Confirm(fileReader io.Reader) (*ConfirmResult, error)

	StockLots(alias string, year int) ([]models.StockLot, error)
	OptionLots(alias string, year int) ([]models.OptionLot, error)
	InvalidateAccountCache(accountID int64)
}
