package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/username/lotfolio/src/models"
	"github.com/username/lotfolio/src/utils"
)

// ErrAccountNotFound is returned when no account matches (alias, year).
// It is fatal for an import: without an account identity nothing can be
// planned or applied.
var ErrAccountNotFound = errors.New("account not found")

// View is the read access the reconciliation planner needs. Preview uses it
// exclusively; Confirm combines it with the write methods of Store.
type View interface {
	HasOpenStockLot(accountID int64, symbol string, year int) (bool, error)
	HasOpenOptionLot(accountID int64, key models.ContractKey) (bool, error)
	HasOptionLotOpenedAt(accountID int64, key models.ContractKey, openedAt time.Time, year int) (bool, error)
	// SettledOptionQuantity sums the quantity already settled for a
	// contract key with the given terminal operation on the given date.
	// Close-type events use it to detect re-imports of a statement whose
	// settlements the ledger already carries.
	SettledOptionQuantity(accountID int64, key models.ContractKey, op models.LotOperation, settledAt time.Time) (int, error)
	// OpenOptionLots returns the open lots for a contract key ordered by
	// open date ascending — the FIFO consumption order.
	OpenOptionLots(accountID int64, key models.ContractKey) ([]models.OptionLot, error)
}

type queryer interface {
	Exec(query string, args ...any) (sql.Result, error)
	Query(query string, args ...any) (*sql.Rows, error)
	QueryRow(query string, args ...any) *sql.Row
}

// Store is the sqlite-backed ledger store for accounts, stock lots, option
// lots and NAV snapshots.
type Store struct {
	q  queryer
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{q: db, db: db}
}

// Begin opens the single transaction a Confirm run executes in.
func (s *Store) Begin() (*sql.Tx, error) {
	return s.db.Begin()
}

// WithTx returns a store view bound to the given transaction.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{q: tx, db: s.db}
}

// --- Account directory ---

// AccountByAlias resolves (alias, year) to the internal account identity.
func (s *Store) AccountByAlias(alias string, year int) (*models.Account, error) {
	var acc models.Account
	var cash, interest, equity, deposit, createdAt string
	err := s.q.QueryRow(`SELECT id, alias, year, opening_cash, opening_interest, opening_equity, opening_net_deposit, created_at
		FROM accounts WHERE alias = ? AND year = ?`, alias, year).
		Scan(&acc.ID, &acc.Alias, &acc.Year, &cash, &interest, &equity, &deposit, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resolving account %q year %d: %w", alias, year, ErrAccountNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying account %q year %d: %w", alias, year, err)
	}
	acc.OpeningCash = parseStoredDecimal(cash)
	acc.OpeningInterest = parseStoredDecimal(interest)
	acc.OpeningEquity = parseStoredDecimal(equity)
	acc.OpeningNetDeposit = parseStoredDecimal(deposit)
	acc.CreatedAt = utils.ParseStoredTime(createdAt)
	return &acc, nil
}

// CreateAccount registers an (alias, year) entry in the directory.
func (s *Store) CreateAccount(alias string, year int) (*models.Account, error) {
	res, err := s.q.Exec(`INSERT INTO accounts (alias, year) VALUES (?, ?)`, alias, year)
	if err != nil {
		return nil, fmt.Errorf("creating account %q year %d: %w", alias, year, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return &models.Account{
		ID: id, Alias: alias, Year: year,
		OpeningCash: decimal.Zero, OpeningInterest: decimal.Zero,
		OpeningEquity: decimal.Zero, OpeningNetDeposit: decimal.Zero,
	}, nil
}

// UpdateOpeningBalances writes the year-opening NAV onto the account row.
func (s *Store) UpdateOpeningBalances(accountID int64, cash, interest, equity, netDeposit decimal.Decimal) error {
	_, err := s.q.Exec(`UPDATE accounts SET opening_cash = ?, opening_interest = ?, opening_equity = ?, opening_net_deposit = ? WHERE id = ?`,
		cash.String(), interest.String(), equity.String(), netDeposit.String(), accountID)
	if err != nil {
		return fmt.Errorf("updating opening balances for account %d: %w", accountID, err)
	}
	return nil
}

// --- Stock lots ---

func (s *Store) HasOpenStockLot(accountID int64, symbol string, year int) (bool, error) {
	var n int
	err := s.q.QueryRow(`SELECT COUNT(1) FROM stock_lots
		WHERE account_id = ? AND symbol = ? AND status = ? AND substr(open_date, 1, 4) = ?`,
		accountID, symbol, models.StatusOpen, strconv.Itoa(year)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking open stock lot %s for account %d: %w", symbol, accountID, err)
	}
	return n > 0, nil
}

func (s *Store) InsertStockLot(lot *models.StockLot) error {
	res, err := s.q.Exec(`INSERT INTO stock_lots (account_id, symbol, status, open_date, open_price, quantity, code, note)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.AccountID, lot.Symbol, lot.Status, utils.FormatDate(lot.OpenDate),
		lot.OpenPrice, lot.Quantity, lot.Code, lot.Note)
	if err != nil {
		return fmt.Errorf("inserting stock lot %s (code %s): %w", lot.Symbol, lot.Code, err)
	}
	lot.ID, err = res.LastInsertId()
	return err
}

// StockLots lists an account's stock lots, open lots first, oldest first.
func (s *Store) StockLots(accountID int64) ([]models.StockLot, error) {
	rows, err := s.q.Query(`SELECT id, account_id, symbol, status, open_date, open_price, quantity, code, note
		FROM stock_lots WHERE account_id = ? ORDER BY status DESC, open_date ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying stock lots for account %d: %w", accountID, err)
	}
	defer rows.Close()
	var lots []models.StockLot
	for rows.Next() {
		var lot models.StockLot
		var openDate string
		if err := rows.Scan(&lot.ID, &lot.AccountID, &lot.Symbol, &lot.Status, &openDate,
			&lot.OpenPrice, &lot.Quantity, &lot.Code, &lot.Note); err != nil {
			return nil, fmt.Errorf("scanning stock lot row: %w", err)
		}
		lot.OpenDate = utils.ParseStoredTime(openDate)
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// --- Option lots ---

const optionLotColumns = `id, account_id, operation, open_date, expiry_date, settlement_date, days_held,
	quantity, underlying, kind, strike, premium, final_profit, profit_pct, code`

func scanOptionLot(rows *sql.Rows) (models.OptionLot, error) {
	var lot models.OptionLot
	var openDate, expiryDate, settlementDate string
	err := rows.Scan(&lot.ID, &lot.AccountID, &lot.Operation, &openDate, &expiryDate, &settlementDate,
		&lot.DaysHeld, &lot.Quantity, &lot.Underlying, &lot.Kind, &lot.Strike,
		&lot.Premium, &lot.FinalProfit, &lot.ProfitPct, &lot.Code)
	if err != nil {
		return lot, fmt.Errorf("scanning option lot row: %w", err)
	}
	lot.OpenDate = utils.ParseStoredTime(openDate)
	lot.ExpiryDate = utils.ParseStoredTime(expiryDate)
	lot.SettlementDate = utils.ParseStoredTime(settlementDate)
	return lot, nil
}

func (s *Store) HasOpenOptionLot(accountID int64, key models.ContractKey) (bool, error) {
	var n int
	err := s.q.QueryRow(`SELECT COUNT(1) FROM option_lots
		WHERE account_id = ? AND underlying = ? AND strike = ? AND expiry_date = ? AND kind = ? AND operation = ?`,
		accountID, key.Underlying, key.Strike, utils.FormatDate(key.Expiry), key.Kind, models.OperationOpen).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking open option lot for account %d: %w", accountID, err)
	}
	return n > 0, nil
}

func (s *Store) HasOptionLotOpenedAt(accountID int64, key models.ContractKey, openedAt time.Time, year int) (bool, error) {
	var n int
	err := s.q.QueryRow(`SELECT COUNT(1) FROM option_lots
		WHERE account_id = ? AND underlying = ? AND strike = ? AND expiry_date = ? AND kind = ?
		AND open_date = ? AND substr(open_date, 1, 4) = ?`,
		accountID, key.Underlying, key.Strike, utils.FormatDate(key.Expiry), key.Kind,
		utils.FormatDateTime(openedAt), strconv.Itoa(year)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking option lot opened at %s for account %d: %w", openedAt, accountID, err)
	}
	return n > 0, nil
}

func (s *Store) SettledOptionQuantity(accountID int64, key models.ContractKey, op models.LotOperation, settledAt time.Time) (int, error) {
	var n int
	err := s.q.QueryRow(`SELECT COALESCE(SUM(quantity), 0) FROM option_lots
		WHERE account_id = ? AND underlying = ? AND strike = ? AND expiry_date = ? AND kind = ?
		AND operation = ? AND settlement_date = ?`,
		accountID, key.Underlying, key.Strike, utils.FormatDate(key.Expiry), key.Kind,
		op, utils.FormatDate(settledAt)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("summing settled option quantity for account %d: %w", accountID, err)
	}
	return n, nil
}

func (s *Store) OpenOptionLots(accountID int64, key models.ContractKey) ([]models.OptionLot, error) {
	rows, err := s.q.Query(`SELECT `+optionLotColumns+` FROM option_lots
		WHERE account_id = ? AND underlying = ? AND strike = ? AND expiry_date = ? AND kind = ? AND operation = ?
		ORDER BY open_date ASC, id ASC`,
		accountID, key.Underlying, key.Strike, utils.FormatDate(key.Expiry), key.Kind, models.OperationOpen)
	if err != nil {
		return nil, fmt.Errorf("querying open option lots for account %d: %w", accountID, err)
	}
	defer rows.Close()
	var lots []models.OptionLot
	for rows.Next() {
		lot, err := scanOptionLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

// OptionLots lists an account's option lots, open lots first, oldest first.
func (s *Store) OptionLots(accountID int64) ([]models.OptionLot, error) {
	rows, err := s.q.Query(`SELECT `+optionLotColumns+` FROM option_lots
		WHERE account_id = ? ORDER BY CASE operation WHEN 'Open' THEN 0 ELSE 1 END, open_date ASC, id ASC`, accountID)
	if err != nil {
		return nil, fmt.Errorf("querying option lots for account %d: %w", accountID, err)
	}
	defer rows.Close()
	var lots []models.OptionLot
	for rows.Next() {
		lot, err := scanOptionLot(rows)
		if err != nil {
			return nil, err
		}
		lots = append(lots, lot)
	}
	return lots, rows.Err()
}

func (s *Store) InsertOptionLot(lot *models.OptionLot) error {
	res, err := s.q.Exec(`INSERT INTO option_lots (account_id, operation, open_date, expiry_date, settlement_date, days_held,
		quantity, underlying, kind, strike, premium, final_profit, profit_pct, code)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		lot.AccountID, lot.Operation, utils.FormatDateTime(lot.OpenDate), utils.FormatDate(lot.ExpiryDate),
		utils.FormatDate(lot.SettlementDate), lot.DaysHeld, lot.Quantity, lot.Underlying, lot.Kind,
		lot.Strike, lot.Premium, lot.FinalProfit, lot.ProfitPct, lot.Code)
	if err != nil {
		return fmt.Errorf("inserting option lot %s (code %s): %w", lot.Underlying, lot.Code, err)
	}
	lot.ID, err = res.LastInsertId()
	return err
}

// ReduceOptionLot shrinks an open lot in place after a partial close. The
// original lot row survives with the remaining quantity and premium.
func (s *Store) ReduceOptionLot(id int64, remainingQuantity int, remainingPremium float64) error {
	_, err := s.q.Exec(`UPDATE option_lots SET quantity = ?, premium = ? WHERE id = ?`,
		remainingQuantity, remainingPremium, id)
	if err != nil {
		return fmt.Errorf("reducing option lot %d: %w", id, err)
	}
	return nil
}

// CloseOptionLot mutates a fully consumed lot into its terminal state.
func (s *Store) CloseOptionLot(id int64, op models.LotOperation, settlement time.Time, daysHeld int, profit, profitPct float64) error {
	_, err := s.q.Exec(`UPDATE option_lots SET operation = ?, settlement_date = ?, days_held = ?, final_profit = ?, profit_pct = ? WHERE id = ?`,
		op, utils.FormatDate(settlement), daysHeld, profit, profitPct, id)
	if err != nil {
		return fmt.Errorf("closing option lot %d: %w", id, err)
	}
	return nil
}

// --- Shared code namespace ---

// CodeExists checks the candidate against both lot tables; lot codes share
// one namespace.
func (s *Store) CodeExists(code string) (bool, error) {
	var n int
	err := s.q.QueryRow(`SELECT (SELECT COUNT(1) FROM stock_lots WHERE code = ?) + (SELECT COUNT(1) FROM option_lots WHERE code = ?)`,
		code, code).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("checking lot code %q: %w", code, err)
	}
	return n > 0, nil
}

// --- NAV snapshots ---

// UpsertNAVSnapshot writes the dated NAV row for a non-year-start statement.
// Reports whether a new row was created (vs. an existing one updated).
func (s *Store) UpsertNAVSnapshot(snap *models.NAVSnapshot) (bool, error) {
	date := utils.FormatDate(snap.Date)
	var existingID int64
	err := s.q.QueryRow(`SELECT id FROM nav_snapshots WHERE account_id = ? AND date = ?`,
		snap.AccountID, date).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		res, err := s.q.Exec(`INSERT INTO nav_snapshots (account_id, date, cash, accrued_interest, net_equity, management_fee, net_deposit)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			snap.AccountID, date, snap.Cash.String(), snap.AccruedInterest.String(),
			snap.NetEquity.String(), snap.ManagementFee.String(), snap.NetDeposit.String())
		if err != nil {
			return false, fmt.Errorf("inserting NAV snapshot for account %d: %w", snap.AccountID, err)
		}
		snap.ID, _ = res.LastInsertId()
		return true, nil
	case err != nil:
		return false, fmt.Errorf("checking NAV snapshot for account %d: %w", snap.AccountID, err)
	default:
		_, err := s.q.Exec(`UPDATE nav_snapshots SET cash = ?, accrued_interest = ?, net_equity = ?, management_fee = ?, net_deposit = ? WHERE id = ?`,
			snap.Cash.String(), snap.AccruedInterest.String(), snap.NetEquity.String(),
			snap.ManagementFee.String(), snap.NetDeposit.String(), existingID)
		if err != nil {
			return false, fmt.Errorf("updating NAV snapshot for account %d: %w", snap.AccountID, err)
		}
		snap.ID = existingID
		return false, nil
	}
}

func parseStoredDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
