package services

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/username/lotfolio/src/codes"
	"github.com/username/lotfolio/src/ledger"
	"github.com/username/lotfolio/src/logger"
	"github.com/username/lotfolio/src/models"
	"github.com/username/lotfolio/src/parsers"
	"github.com/username/lotfolio/src/processors"
)

const (
	// Per-account lot listing caches, invalidated after every Confirm.
	ckStockLots  = "res_stock_lots_account_%d"
	ckOptionLots = "res_option_lots_account_%d"
)

type importServiceImpl struct {
	parser      parsers.StatementParser
	store       *ledger.Store
	reportCache *cache.Cache
	codeLength  int
	codeRetries int
}

func NewImportService(parser parsers.StatementParser, store *ledger.Store, reportCache *cache.Cache, codeLength, codeRetries int) ImportService {
	return &importServiceImpl{
		parser:      parser,
		store:       store,
		reportCache: reportCache,
		codeLength:  codeLength,
		codeRetries: codeRetries,
	}
}

// plan parses the statement, resolves the account and runs the planner
// against the given store view. Shared verbatim by Preview and Confirm so
// the two phases can never disagree on semantics.
func (s *importServiceImpl) plan(fileReader io.Reader, store *ledger.Store) (*processors.Plan, error) {
	stmt, err := s.parser.Parse(fileReader)
	if err != nil {
		var structural *parsers.StructuralError
		if errors.As(err, &structural) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrParsingFailed, err)
	}

	account, err := store.AccountByAlias(stmt.AccountAlias, stmt.Year)
	if err != nil {
		return nil, err
	}

	return processors.NewPlanner(store).Plan(stmt, account)
}

func (s *importServiceImpl) Preview(fileReader io.Reader) (*PreviewResult, error) {
	plan, err := s.plan(fileReader, s.store)
	if err != nil {
		return nil, err
	}
	stmt := plan.Statement
	return &PreviewResult{
		ReportDate:      stmt.ReportDate,
		Year:            stmt.Year,
		AccountAlias:    stmt.AccountAlias,
		YearOpening:     stmt.YearOpening,
		Cash:            stmt.Cash,
		AccruedInterest: stmt.AccruedInterest,
		NetEquity:       stmt.NetEquity,
		ManagementFee:   stmt.ManagementFee,
		NetDeposit:      stmt.NetDeposit,
		Stocks:          plan.Stocks,
		OptionPositions: plan.OptionPositions,
		Trades:          plan.Trades,
	}, nil
}

func (s *importServiceImpl) Confirm(fileReader io.Reader) (*ConfirmResult, error) {
	importID := uuid.NewString()
	overallStartTime := time.Now()
	logger.L.Info("Confirm import START", "importID", importID)

	dbTx, err := s.store.Begin()
	if err != nil {
		return nil, fmt.Errorf("error beginning ledger transaction: %w", err)
	}
	defer dbTx.Rollback()

	txStore := s.store.WithTx(dbTx)
	plan, err := s.plan(fileReader, txStore)
	if err != nil {
		return nil, err
	}

	gen := codes.NewGenerator(s.codeLength, s.codeRetries, txStore.CodeExists)

	result := &ConfirmResult{ImportID: importID}
	stmt := plan.Statement
	accountID := plan.Account.ID

	// pending-seq → inserted row id, so close matches can find lots this
	// same statement added.
	inserted := make(map[int]int64)

	for _, action := range plan.Stocks {
		if action.Verdict != processors.VerdictSyncAdd {
			result.PositionsSync.Skipped++
			continue
		}
		code, err := gen.Next()
		if err != nil {
			return nil, err
		}
		lot := &models.StockLot{
			AccountID: accountID,
			Symbol:    action.Position.Symbol,
			Status:    models.StatusOpen,
			OpenDate:  stmt.ReportDate,
			OpenPrice: action.Position.CostPrice,
			Quantity:  action.Position.Quantity,
			Code:      code,
			Note:      fmt.Sprintf("created via import %s", importID),
		}
		if err := txStore.InsertStockLot(lot); err != nil {
			return nil, err
		}
		result.PositionsSync.Added++
	}

	for _, action := range plan.OptionPositions {
		if action.Verdict != processors.VerdictSyncAdd {
			result.OptionPositionsSync.Skipped++
			continue
		}
		code, err := gen.Next()
		if err != nil {
			return nil, err
		}
		lot := &models.OptionLot{
			AccountID:  accountID,
			Operation:  models.OperationOpen,
			OpenDate:   stmt.ReportDate,
			ExpiryDate: action.Position.Expiry,
			Quantity:   action.Position.Quantity,
			Underlying: action.Position.Underlying,
			Kind:       action.Position.Kind,
			Strike:     action.Position.Strike,
			Premium:    action.Position.Premium,
			Code:       code,
		}
		if err := txStore.InsertOptionLot(lot); err != nil {
			return nil, err
		}
		inserted[action.PendingSeq] = lot.ID
		result.OptionPositionsSync.Added++
	}

	for _, action := range plan.Trades {
		switch action.Verdict {
		case processors.VerdictAdd:
			code, err := gen.Next()
			if err != nil {
				return nil, err
			}
			event := action.Event
			lot := &models.OptionLot{
				AccountID:  accountID,
				Operation:  models.OperationOpen,
				OpenDate:   event.TradedAt,
				ExpiryDate: event.Expiry,
				Quantity:   event.Quantity,
				Underlying: event.Underlying,
				Kind:       event.Kind,
				Strike:     event.Strike,
				Premium:    event.Premium,
				Code:       code,
			}
			if err := txStore.InsertOptionLot(lot); err != nil {
				return nil, err
			}
			inserted[action.PendingSeq] = lot.ID
			result.Trades.Added++
		case processors.VerdictSkipExists:
			result.Trades.Skipped++
		case processors.VerdictSkipApplied:
			result.Trades.ClosedSkipped++
		default:
			if err := applyMatches(txStore, gen, accountID, action, inserted); err != nil {
				return nil, err
			}
			if action.Verdict.Orphan() {
				logger.L.Warn("Close event left unmatched quantity",
					"importID", importID, "underlying", action.Event.Underlying,
					"verdict", action.Verdict, "unmatched", action.UnmatchedQuantity)
				result.Trades.ClosedSkipped++
			} else {
				result.Trades.Closed++
			}
		}
	}

	if stmt.YearOpening {
		if err := txStore.UpdateOpeningBalances(accountID, stmt.Cash, stmt.AccruedInterest, stmt.NetEquity, stmt.NetDeposit); err != nil {
			return nil, err
		}
		result.Outcome = OutcomeYearStart
	} else {
		created, err := txStore.UpsertNAVSnapshot(&models.NAVSnapshot{
			AccountID:       accountID,
			Date:            stmt.ReportDate,
			Cash:            stmt.Cash,
			AccruedInterest: stmt.AccruedInterest,
			NetEquity:       stmt.NetEquity,
			ManagementFee:   stmt.ManagementFee,
			NetDeposit:      stmt.NetDeposit,
		})
		if err != nil {
			return nil, err
		}
		if created {
			result.Outcome = OutcomeCreated
		} else {
			result.Outcome = OutcomeUpdated
		}
	}

	if err := dbTx.Commit(); err != nil {
		return nil, fmt.Errorf("error committing import: %w", err)
	}

	// The next lot listing must see the new ledger state.
	s.InvalidateAccountCache(accountID)

	logger.L.Info("Confirm import END",
		"importID", importID, "outcome", result.Outcome,
		"stocksAdded", result.PositionsSync.Added,
		"optionsAdded", result.OptionPositionsSync.Added,
		"tradesAdded", result.Trades.Added, "tradesClosed", result.Trades.Closed,
		"duration", time.Since(overallStartTime))
	return result, nil
}

// applyMatches executes the FIFO mutations of one close-type action: full
// matches flip the lot to its terminal state in place, partial matches
// shrink the open lot and insert a new lot for the consumed portion.
func applyMatches(store *ledger.Store, gen *codes.Generator, accountID int64, action processors.TradeAction, inserted map[int]int64) error {
	event := action.Event
	op := processors.TerminalOperation(event.Action)
	for _, match := range action.Matches {
		lotID := match.Ref.LotID
		if lotID == 0 {
			id, ok := inserted[match.Ref.PendingSeq]
			if !ok {
				return fmt.Errorf("internal: pending lot %d consumed before insertion", match.Ref.PendingSeq)
			}
			lotID = id
		}
		if match.Full {
			if err := store.CloseOptionLot(lotID, op, event.TradedAt, match.DaysHeld, match.Profit, match.ProfitPct); err != nil {
				return err
			}
			continue
		}
		code, err := gen.Next()
		if err != nil {
			return err
		}
		closedLot := &models.OptionLot{
			AccountID:      accountID,
			Operation:      op,
			OpenDate:       match.OpenDate,
			ExpiryDate:     event.Expiry,
			SettlementDate: event.TradedAt,
			DaysHeld:       match.DaysHeld,
			Quantity:       match.Consumed,
			Underlying:     event.Underlying,
			Kind:           event.Kind,
			Strike:         event.Strike,
			Premium:        match.SplitPremium,
			FinalProfit:    match.Profit,
			ProfitPct:      match.ProfitPct,
			Code:           code,
		}
		if err := store.InsertOptionLot(closedLot); err != nil {
			return err
		}
		if err := store.ReduceOptionLot(lotID, match.RemainingQuantity, match.RemainingPremium); err != nil {
			return err
		}
	}
	return nil
}

func (s *importServiceImpl) StockLots(alias string, year int) ([]models.StockLot, error) {
	account, err := s.store.AccountByAlias(alias, year)
	if err != nil {
		return nil, err
	}
	cacheKey := fmt.Sprintf(ckStockLots, account.ID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		logger.L.Debug("Cache hit for stock lots", "accountID", account.ID)
		return cached.([]models.StockLot), nil
	}
	lots, err := s.store.StockLots(account.ID)
	if err != nil {
		return nil, err
	}
	s.reportCache.Set(cacheKey, lots, cache.DefaultExpiration)
	return lots, nil
}

func (s *importServiceImpl) OptionLots(alias string, year int) ([]models.OptionLot, error) {
	account, err := s.store.AccountByAlias(alias, year)
	if err != nil {
		return nil, err
	}
	cacheKey := fmt.Sprintf(ckOptionLots, account.ID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		logger.L.Debug("Cache hit for option lots", "accountID", account.ID)
		return cached.([]models.OptionLot), nil
	}
	lots, err := s.store.OptionLots(account.ID)
	if err != nil {
		return nil, err
	}
	s.reportCache.Set(cacheKey, lots, cache.DefaultExpiration)
	return lots, nil
}

// InvalidateAccountCache clears the account's cached lot listings, forcing
// a rebuild from the ledger on the next request.
func (s *importServiceImpl) InvalidateAccountCache(accountID int64) {
	s.reportCache.Delete(fmt.Sprintf(ckStockLots, accountID))
	s.reportCache.Delete(fmt.Sprintf(ckOptionLots, accountID))
	logger.L.Info("Invalidated lot caches for account", "accountID", accountID)
}
