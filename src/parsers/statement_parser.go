package parsers

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/username/lotfolio/src/logger"
	"github.com/username/lotfolio/src/models"
	"github.com/username/lotfolio/src/utils"
)

// Section and label names of the statement grammar.
const (
	sectionStatement     = "Statement"
	sectionAccount       = "Account Information"
	sectionNAV           = "Net Asset Value"
	sectionOpenPositions = "Open Positions"
	sectionTrades        = "Trades"
	assetStocks          = "Stocks"
	assetOptions         = "Equity and Index Options"
	labelManagementFee   = "Management Fee"
	labelNetDeposit      = "Net Deposit"
)

// StructuralError reports a required statement section that is absent or
// undecodable. It aborts the whole import before any mutation.
type StructuralError struct {
	Section string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("statement is missing required section: %s", e.Section)
}

// StatementParser turns a raw statement document into a ParsedStatement.
type StatementParser interface {
	Parse(r io.Reader) (*models.ParsedStatement, error)
}

type statementParserImpl struct{}

// NewStatementParser creates the activity statement parser.
func NewStatementParser() StatementParser {
	return &statementParserImpl{}
}

// monthNames maps the statement's localized month names (and their 3-letter
// abbreviations) to calendar months.
var monthNames = map[string]time.Month{
	"january": time.January, "february": time.February, "march": time.March,
	"april": time.April, "may": time.May, "june": time.June,
	"july": time.July, "august": time.August, "september": time.September,
	"october": time.October, "november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "mar": time.March,
	"apr": time.April, "jun": time.June, "jul": time.July,
	"aug": time.August, "sep": time.September, "oct": time.October,
	"nov": time.November, "dec": time.December,
}

// actionCodes is the fixed code-to-action table for trade rows. Unrecognized
// codes containing a close marker default to CLOSE, all others to OPEN.
var actionCodes = map[string]models.TradeAction{
	"O":  models.ActionOpen,
	"C":  models.ActionClose,
	"A":  models.ActionAssign,
	"Ep": models.ActionExpire,
}

func classifyAction(code string) models.TradeAction {
	if action, ok := actionCodes[code]; ok {
		return action
	}
	if strings.Contains(code, "C") {
		return models.ActionClose
	}
	return models.ActionOpen
}

func (p *statementParserImpl) Parse(r io.Reader) (*models.ParsedStatement, error) {
	doc, err := ReadDocument(r)
	if err != nil {
		return nil, err
	}

	stmt := &models.ParsedStatement{}

	reportDate, err := parseReportDate(doc)
	if err != nil {
		return nil, err
	}
	stmt.ReportDate = reportDate
	stmt.Year = reportDate.Year()
	// A statement dated the first day of the year is the year-opening snapshot.
	stmt.YearOpening = reportDate.Month() == time.January && reportDate.Day() == 1

	alias, err := parseAccountAlias(doc)
	if err != nil {
		return nil, err
	}
	stmt.AccountAlias = alias

	if err := parseNAV(doc, stmt); err != nil {
		return nil, err
	}

	// Fee and net deposit may fall outside the NAV region; absent means 0.
	if v, ok := doc.AdjacentValue(labelManagementFee); ok {
		stmt.ManagementFee = utils.ParseLooseDecimal(v)
	}
	if v, ok := doc.AdjacentValue(labelNetDeposit); ok {
		stmt.NetDeposit = utils.ParseLooseDecimal(v)
	}

	parseOpenPositions(doc, stmt)
	parseTradeEvents(doc, stmt)

	return stmt, nil
}

// parseReportDate locates the report date in the Statement header section.
// Absence of the section or an undecodable date is fatal.
func parseReportDate(doc *Document) (time.Time, error) {
	rows, ok := doc.Section(sectionStatement)
	if !ok {
		return time.Time{}, &StructuralError{Section: sectionStatement}
	}
	for _, row := range rows {
		if len(row) >= 2 && row[0] == "Period" {
			if t, ok := parseLongDate(row[1]); ok {
				return t, nil
			}
		}
	}
	return time.Time{}, &StructuralError{Section: sectionStatement}
}

// parseLongDate decodes dates like "February 2, 2026" via the month table.
func parseLongDate(s string) (time.Time, bool) {
	fields := strings.Fields(strings.ReplaceAll(s, ",", " "))
	if len(fields) != 3 {
		return time.Time{}, false
	}
	month, ok := monthNames[strings.ToLower(fields[0])]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(fields[1])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(fields[2])
	if err != nil || year < 1900 {
		return time.Time{}, false
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
}

func parseAccountAlias(doc *Document) (string, error) {
	rows, ok := doc.Section(sectionAccount)
	if !ok {
		return "", &StructuralError{Section: sectionAccount}
	}
	for _, row := range rows {
		if len(row) >= 2 && row[0] == "Account" && strings.TrimSpace(row[1]) != "" {
			return strings.TrimSpace(row[1]), nil
		}
	}
	return "", &StructuralError{Section: sectionAccount}
}

// parseNAV scans the bounded NAV region. Row labels are matched against a
// small known set; later rows with the same label override earlier ones.
func parseNAV(doc *Document, stmt *models.ParsedStatement) error {
	rows, ok := doc.Section(sectionNAV)
	if !ok {
		return &StructuralError{Section: sectionNAV}
	}
	for _, row := range rows {
		if len(row) < 2 {
			continue
		}
		amount := utils.ParseLooseDecimal(row[len(row)-1])
		switch row[0] {
		case "Cash":
			stmt.Cash = amount
		case "Interest Accruals":
			stmt.AccruedInterest = amount
		case "Total":
			stmt.NetEquity = amount
		}
	}
	return nil
}

// parseOpenPositions decodes the stock and option position snapshots.
// Bad rows are dropped, never fatal.
func parseOpenPositions(doc *Document, stmt *models.ParsedStatement) {
	rows, ok := doc.Section(sectionOpenPositions)
	if !ok {
		return
	}
	for _, row := range rows {
		if len(row) < 2 || row[0] != "Summary" {
			continue
		}
		switch row[1] {
		case assetStocks:
			if len(row) < 6 {
				continue
			}
			pos := models.OpenPosition{
				Symbol:    strings.TrimSpace(row[3]),
				Quantity:  utils.ParseLooseInt(row[4]),
				CostPrice: utils.ParseLooseFloat(row[5]),
			}
			// Snapshot rows with non-positive quantity or cost are noise.
			if pos.Symbol == "" || pos.Quantity <= 0 || pos.CostPrice <= 0 {
				continue
			}
			stmt.StockPositions = append(stmt.StockPositions, pos)
		case assetOptions:
			if len(row) < 7 {
				continue
			}
			underlying, expiry, strike, kind, err := parseOptionToken(row[3])
			if err != nil {
				logger.L.Warn("Dropping option position row with bad contract token",
					"token", row[3], "error", err)
				continue
			}
			stmt.OptionPositions = append(stmt.OptionPositions, models.OpenOptionPosition{
				Underlying: underlying,
				Expiry:     expiry,
				Strike:     strike,
				Kind:       kind,
				Quantity:   utils.ParseLooseInt(row[4]),
				CostPrice:  utils.ParseLooseFloat(row[5]),
				Premium:    utils.ParseLooseFloat(row[6]),
			})
		}
	}
}

// parseTradeEvents decodes option trade rows from the transactions section.
func parseTradeEvents(doc *Document, stmt *models.ParsedStatement) {
	rows, ok := doc.Section(sectionTrades)
	if !ok {
		return
	}
	for _, row := range rows {
		if len(row) < 9 || row[0] != "Order" || row[1] != assetOptions {
			continue
		}
		underlying, expiry, strike, kind, err := parseOptionToken(row[3])
		if err != nil {
			logger.L.Warn("Dropping trade row with bad contract token",
				"token", row[3], "error", err)
			continue
		}
		tradedAt, err := parseTradeTime(row[4])
		if err != nil {
			logger.L.Warn("Dropping trade row with bad timestamp",
				"timestamp", row[4], "error", err)
			continue
		}
		stmt.TradeEvents = append(stmt.TradeEvents, models.OptionTradeEvent{
			Underlying: underlying,
			Expiry:     expiry,
			Strike:     strike,
			Kind:       kind,
			TradedAt:   tradedAt,
			Quantity:   utils.ParseLooseInt(row[5]),
			Premium:    utils.ParseLooseFloat(row[6]),
			RealizedPL: utils.ParseLooseFloat(row[7]),
			Action:     classifyAction(row[len(row)-1]),
		})
	}
}

// parseOptionToken splits a contract token like "AAPL 20JUN25 150 C" into
// its parts. Any grammar failure drops the row.
func parseOptionToken(token string) (string, time.Time, float64, models.OptionKind, error) {
	fields := strings.Fields(token)
	if len(fields) != 4 {
		return "", time.Time{}, 0, "", fmt.Errorf("contract token %q: want 4 fields, got %d", token, len(fields))
	}
	expiry, err := parseOptionExpiry(fields[1])
	if err != nil {
		return "", time.Time{}, 0, "", err
	}
	strike, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		return "", time.Time{}, 0, "", fmt.Errorf("contract strike %q: %w", fields[2], err)
	}
	var kind models.OptionKind
	switch strings.ToUpper(fields[3]) {
	case "C", "CALL":
		kind = models.KindCall
	case "P", "PUT":
		kind = models.KindPut
	default:
		return "", time.Time{}, 0, "", fmt.Errorf("contract kind %q: want C or P", fields[3])
	}
	return fields[0], expiry, strike, kind, nil
}

// parseOptionExpiry decodes the DDMonYY expiry form, e.g. "20JUN25".
func parseOptionExpiry(s string) (time.Time, error) {
	if len(s) != 7 {
		return time.Time{}, fmt.Errorf("expiry %q: want DDMonYY", s)
	}
	day, err := strconv.Atoi(s[0:2])
	if err != nil || day < 1 || day > 31 {
		return time.Time{}, fmt.Errorf("expiry %q: bad day", s)
	}
	month, ok := monthNames[strings.ToLower(s[2:5])]
	if !ok {
		return time.Time{}, fmt.Errorf("expiry %q: bad month", s)
	}
	year, err := strconv.Atoi(s[5:7])
	if err != nil {
		return time.Time{}, fmt.Errorf("expiry %q: bad year", s)
	}
	return time.Date(2000+year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// parseTradeTime parses the trade timestamp with an optional time-of-day
// component.
func parseTradeTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse("2006-01-02, 15:04:05", s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("trade timestamp %q: unrecognized format", s)
}
