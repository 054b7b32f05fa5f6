package processors

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/username/lotfolio/src/logger"
	"github.com/username/lotfolio/src/models"
)

func TestMain(m *testing.M) {
	logger.InitLogger("error")
	os.Exit(m.Run())
}

// fakeView is an in-memory ledger.View for planner tests.
type fakeView struct {
	stockSymbols map[string]bool
	openKeys     map[models.ContractKey]bool
	openedAt     map[string]bool
	settled      map[string]int
	lots         map[models.ContractKey][]models.OptionLot
}

func newFakeView() *fakeView {
	return &fakeView{
		stockSymbols: make(map[string]bool),
		openKeys:     make(map[models.ContractKey]bool),
		openedAt:     make(map[string]bool),
		settled:      make(map[string]int),
		lots:         make(map[models.ContractKey][]models.OptionLot),
	}
}

func settledKey(key models.ContractKey, op models.LotOperation, settledAt time.Time) string {
	return key.Underlying + string(op) + settledAt.Format("2006-01-02")
}

func (f *fakeView) HasOpenStockLot(accountID int64, symbol string, year int) (bool, error) {
	return f.stockSymbols[symbol], nil
}

func (f *fakeView) HasOpenOptionLot(accountID int64, key models.ContractKey) (bool, error) {
	return f.openKeys[key] || len(f.lots[key]) > 0, nil
}

func (f *fakeView) HasOptionLotOpenedAt(accountID int64, key models.ContractKey, openedAt time.Time, year int) (bool, error) {
	return f.openedAt[key.Underlying+openedAt.Format(time.RFC3339)], nil
}

func (f *fakeView) SettledOptionQuantity(accountID int64, key models.ContractKey, op models.LotOperation, settledAt time.Time) (int, error) {
	return f.settled[settledKey(key, op, settledAt)], nil
}

func (f *fakeView) OpenOptionLots(accountID int64, key models.ContractKey) ([]models.OptionLot, error) {
	return f.lots[key], nil
}

func (f *fakeView) addLot(lot models.OptionLot) {
	f.lots[lot.Key()] = append(f.lots[lot.Key()], lot)
}

var (
	testExpiry = time.Date(2026, time.June, 20, 0, 0, 0, 0, time.UTC)
	testKey    = models.ContractKey{Underlying: "AAPL", Expiry: testExpiry, Strike: 150, Kind: models.KindCall}
)

func testAccount() *models.Account {
	return &models.Account{ID: 1, Alias: "U123", Year: 2026}
}

func closeEvent(action models.TradeAction, quantity int, realizedPL float64) models.OptionTradeEvent {
	return models.OptionTradeEvent{
		Underlying: testKey.Underlying,
		Expiry:     testKey.Expiry,
		Strike:     testKey.Strike,
		Kind:       testKey.Kind,
		TradedAt:   time.Date(2026, time.February, 2, 0, 0, 0, 0, time.UTC),
		Quantity:   quantity,
		RealizedPL: realizedPL,
		Action:     action,
	}
}

func TestPlanStockPositions(t *testing.T) {
	view := newFakeView()
	view.stockSymbols["MSFT"] = true

	stmt := &models.ParsedStatement{
		ReportDate: time.Date(2026, time.February, 2, 0, 0, 0, 0, time.UTC),
		Year:       2026,
		StockPositions: []models.OpenPosition{
			{Symbol: "AAPL", Quantity: 100, CostPrice: 150.00},
			{Symbol: "MSFT", Quantity: 50, CostPrice: 310.40},
		},
	}

	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)
	require.Len(t, plan.Stocks, 2)
	assert.Equal(t, VerdictSyncAdd, plan.Stocks[0].Verdict)
	assert.Equal(t, VerdictSkipExists, plan.Stocks[1].Verdict)
}

func TestPlanOptionPositionSuppressedBySameStatementOpen(t *testing.T) {
	view := newFakeView()
	stmt := &models.ParsedStatement{
		ReportDate: time.Date(2026, time.February, 2, 0, 0, 0, 0, time.UTC),
		Year:       2026,
		OptionPositions: []models.OpenOptionPosition{
			{Underlying: "AAPL", Expiry: testExpiry, Strike: 150, Kind: models.KindCall, Quantity: 2, Premium: 620},
		},
		TradeEvents: []models.OptionTradeEvent{
			{
				Underlying: "AAPL", Expiry: testExpiry, Strike: 150, Kind: models.KindCall,
				TradedAt: time.Date(2026, time.January, 15, 10, 30, 0, 0, time.UTC),
				Quantity: 2, Premium: 620, Action: models.ActionOpen,
			},
		},
	}

	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)
	// The OPEN trade event is the authoritative record; the snapshot row for
	// the same contract key is trusted silently and skipped.
	require.Len(t, plan.OptionPositions, 1)
	assert.Equal(t, VerdictSkipExists, plan.OptionPositions[0].Verdict)
	require.Len(t, plan.Trades, 1)
	assert.Equal(t, VerdictAdd, plan.Trades[0].Verdict)
}

func TestPlanOpenEventIdempotence(t *testing.T) {
	view := newFakeView()
	openedAt := time.Date(2026, time.January, 15, 10, 30, 0, 0, time.UTC)
	view.openedAt["AAPL"+openedAt.Format(time.RFC3339)] = true

	stmt := &models.ParsedStatement{
		Year: 2026,
		TradeEvents: []models.OptionTradeEvent{
			{
				Underlying: "AAPL", Expiry: testExpiry, Strike: 150, Kind: models.KindCall,
				TradedAt: openedAt, Quantity: 2, Premium: 620, Action: models.ActionOpen,
			},
		},
	}
	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)
	require.Len(t, plan.Trades, 1)
	assert.Equal(t, VerdictSkipExists, plan.Trades[0].Verdict)
}

func TestPlanCloseFIFOAcrossLots(t *testing.T) {
	view := newFakeView()
	view.addLot(models.OptionLot{
		ID: 10, Operation: models.OperationOpen, Underlying: "AAPL", ExpiryDate: testExpiry,
		Strike: 150, Kind: models.KindCall, Quantity: 3, Premium: 300,
		OpenDate: time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC),
	})
	view.addLot(models.OptionLot{
		ID: 11, Operation: models.OperationOpen, Underlying: "AAPL", ExpiryDate: testExpiry,
		Strike: 150, Kind: models.KindCall, Quantity: 5, Premium: 1000,
		OpenDate: time.Date(2026, time.January, 20, 0, 0, 0, 0, time.UTC),
	})

	stmt := &models.ParsedStatement{
		Year:        2026,
		TradeEvents: []models.OptionTradeEvent{closeEvent(models.ActionClose, 4, 400)},
	}
	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)
	require.Len(t, plan.Trades, 1)

	action := plan.Trades[0]
	assert.Equal(t, VerdictClose, action.Verdict)
	assert.Zero(t, action.UnmatchedQuantity)
	require.Len(t, action.Matches, 2)

	// Oldest lot is drained first and fully.
	first := action.Matches[0]
	assert.Equal(t, int64(10), first.Ref.LotID)
	assert.Equal(t, 3, first.Consumed)
	assert.True(t, first.Full)
	assert.InDelta(t, 300.0, first.SplitPremium, 1e-9)
	assert.InDelta(t, 300.0, first.Profit, 1e-9) // 3/4 of 400

	// The newer lot gives up one contract and survives with four.
	second := action.Matches[1]
	assert.Equal(t, int64(11), second.Ref.LotID)
	assert.Equal(t, 1, second.Consumed)
	assert.False(t, second.Full)
	assert.Equal(t, 4, second.RemainingQuantity)
	assert.InDelta(t, 200.0, second.SplitPremium, 1e-9)
	assert.InDelta(t, 800.0, second.RemainingPremium, 1e-9)
	assert.InDelta(t, 100.0, second.Profit, 1e-9) // residual of 400-300

	// Quantity is conserved: consumed totals equal the event quantity.
	total := 0
	for _, m := range action.Matches {
		total += m.Consumed
	}
	assert.Equal(t, action.Event.Quantity, total)
}

func TestPlanCloseProportionalProfit(t *testing.T) {
	view := newFakeView()
	view.addLot(models.OptionLot{
		ID: 20, Operation: models.OperationOpen, Underlying: "AAPL", ExpiryDate: testExpiry,
		Strike: 150, Kind: models.KindCall, Quantity: 2, Premium: 200,
		OpenDate: time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC),
	})
	view.addLot(models.OptionLot{
		ID: 21, Operation: models.OperationOpen, Underlying: "AAPL", ExpiryDate: testExpiry,
		Strike: 150, Kind: models.KindCall, Quantity: 3, Premium: 300,
		OpenDate: time.Date(2026, time.January, 6, 0, 0, 0, 0, time.UTC),
	})

	stmt := &models.ParsedStatement{
		Year:        2026,
		TradeEvents: []models.OptionTradeEvent{closeEvent(models.ActionClose, 5, 500)},
	}
	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)

	matches := plan.Trades[0].Matches
	require.Len(t, matches, 2)
	assert.InDelta(t, 200.0, matches[0].Profit, 1e-9)
	assert.InDelta(t, 300.0, matches[1].Profit, 1e-9)
	assert.InDelta(t, 500.0, matches[0].Profit+matches[1].Profit, 1e-9)
}

func TestPlanAssignmentPremiumOverride(t *testing.T) {
	view := newFakeView()
	view.addLot(models.OptionLot{
		ID: 30, Operation: models.OperationOpen, Underlying: "AAPL", ExpiryDate: testExpiry,
		Strike: 150, Kind: models.KindCall, Quantity: 1, Premium: 150,
		OpenDate: time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC),
	})

	// Assignment reports zero P&L on the option leg; the lot realizes its
	// own premium instead.
	stmt := &models.ParsedStatement{
		Year:        2026,
		TradeEvents: []models.OptionTradeEvent{closeEvent(models.ActionAssign, 1, 0)},
	}
	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)

	action := plan.Trades[0]
	assert.Equal(t, VerdictAssign, action.Verdict)
	require.Len(t, action.Matches, 1)
	assert.InDelta(t, 150.0, action.Matches[0].Profit, 1e-9)
	assert.InDelta(t, 100.0, action.Matches[0].ProfitPct, 1e-9)
}

func TestPlanAssignmentWithReportedPLKeepsProportionalSplit(t *testing.T) {
	view := newFakeView()
	view.addLot(models.OptionLot{
		ID: 31, Operation: models.OperationOpen, Underlying: "AAPL", ExpiryDate: testExpiry,
		Strike: 150, Kind: models.KindCall, Quantity: 2, Premium: 100,
		OpenDate: time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC),
	})

	stmt := &models.ParsedStatement{
		Year:        2026,
		TradeEvents: []models.OptionTradeEvent{closeEvent(models.ActionAssign, 2, -80)},
	}
	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)
	require.Len(t, plan.Trades[0].Matches, 1)
	assert.InDelta(t, -80.0, plan.Trades[0].Matches[0].Profit, 1e-9)
}

func TestPlanCloseOrphan(t *testing.T) {
	view := newFakeView()

	stmt := &models.ParsedStatement{
		Year:        2026,
		TradeEvents: []models.OptionTradeEvent{closeEvent(models.ActionClose, 2, 100)},
	}
	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)

	action := plan.Trades[0]
	assert.Equal(t, VerdictCloseOrphan, action.Verdict)
	assert.True(t, action.Verdict.Orphan())
	assert.Equal(t, 2, action.UnmatchedQuantity)
	assert.Empty(t, action.Matches)
}

func TestPlanCloseAlreadySettledIsSkipped(t *testing.T) {
	view := newFakeView()
	// The remainder an earlier import left behind after a partial close.
	view.addLot(models.OptionLot{
		ID: 60, Operation: models.OperationOpen, Underlying: "AAPL", ExpiryDate: testExpiry,
		Strike: 150, Kind: models.KindCall, Quantity: 1, Premium: 150,
		OpenDate: time.Date(2026, time.January, 15, 0, 0, 0, 0, time.UTC),
	})

	event := closeEvent(models.ActionClose, 2, 120)
	view.settled[settledKey(testKey, models.OperationClosed, event.TradedAt)] = 2

	stmt := &models.ParsedStatement{
		Year:        2026,
		TradeEvents: []models.OptionTradeEvent{event},
	}
	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)

	// The settlement is already on the ledger: the event must not consume
	// the surviving open lot a second time.
	action := plan.Trades[0]
	assert.Equal(t, VerdictSkipApplied, action.Verdict)
	assert.Empty(t, action.Matches)
	assert.Zero(t, action.UnmatchedQuantity)

	// A settled total below the event quantity does not trip the skip; the
	// event still matches whatever is open.
	view.settled[settledKey(testKey, models.OperationClosed, event.TradedAt)] = 1
	plan, err = NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)
	require.Len(t, plan.Trades[0].Matches, 1)
	assert.Equal(t, 1, plan.Trades[0].Matches[0].Consumed)
}

func TestPlanClosePartialOrphanAppliesMatchedPortion(t *testing.T) {
	view := newFakeView()
	view.addLot(models.OptionLot{
		ID: 40, Operation: models.OperationOpen, Underlying: "AAPL", ExpiryDate: testExpiry,
		Strike: 150, Kind: models.KindCall, Quantity: 2, Premium: 200,
		OpenDate: time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC),
	})

	stmt := &models.ParsedStatement{
		Year:        2026,
		TradeEvents: []models.OptionTradeEvent{closeEvent(models.ActionExpire, 5, 0)},
	}
	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)

	action := plan.Trades[0]
	assert.Equal(t, VerdictExpireOrphan, action.Verdict)
	assert.Equal(t, 3, action.UnmatchedQuantity)
	require.Len(t, action.Matches, 1)
	assert.Equal(t, 2, action.Matches[0].Consumed)
	assert.True(t, action.Matches[0].Full)
}

func TestPlanSameStatementOpenThenClose(t *testing.T) {
	view := newFakeView()
	openedAt := time.Date(2026, time.January, 15, 10, 30, 0, 0, time.UTC)

	openEv := models.OptionTradeEvent{
		Underlying: "AAPL", Expiry: testExpiry, Strike: 150, Kind: models.KindCall,
		TradedAt: openedAt, Quantity: 3, Premium: 450, Action: models.ActionOpen,
	}
	closeEv := closeEvent(models.ActionClose, 2, 120)

	stmt := &models.ParsedStatement{
		Year:        2026,
		TradeEvents: []models.OptionTradeEvent{openEv, closeEv},
	}
	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)
	require.Len(t, plan.Trades, 2)

	openAction := plan.Trades[0]
	assert.Equal(t, VerdictAdd, openAction.Verdict)

	closeAction := plan.Trades[1]
	assert.Equal(t, VerdictClose, closeAction.Verdict)
	require.Len(t, closeAction.Matches, 1)
	match := closeAction.Matches[0]
	// The close consumes the lot the same plan decided to add: a pending
	// reference, not a row id.
	assert.Zero(t, match.Ref.LotID)
	assert.Equal(t, openAction.PendingSeq, match.Ref.PendingSeq)
	assert.Equal(t, 2, match.Consumed)
	assert.False(t, match.Full)
	assert.Equal(t, 1, match.RemainingQuantity)
	assert.InDelta(t, 300.0, match.SplitPremium, 1e-9)
}

func TestPlanSequentialClosesSeeEarlierConsumption(t *testing.T) {
	view := newFakeView()
	view.addLot(models.OptionLot{
		ID: 50, Operation: models.OperationOpen, Underlying: "AAPL", ExpiryDate: testExpiry,
		Strike: 150, Kind: models.KindCall, Quantity: 4, Premium: 400,
		OpenDate: time.Date(2026, time.January, 5, 0, 0, 0, 0, time.UTC),
	})

	stmt := &models.ParsedStatement{
		Year: 2026,
		TradeEvents: []models.OptionTradeEvent{
			closeEvent(models.ActionClose, 3, 90),
			closeEvent(models.ActionClose, 3, 90),
		},
	}
	plan, err := NewPlanner(view).Plan(stmt, testAccount())
	require.NoError(t, err)
	require.Len(t, plan.Trades, 2)

	// First close takes 3 of 4.
	first := plan.Trades[0]
	assert.Equal(t, VerdictClose, first.Verdict)
	require.Len(t, first.Matches, 1)
	assert.Equal(t, 3, first.Matches[0].Consumed)
	assert.Equal(t, 1, first.Matches[0].RemainingQuantity)

	// Second close sees only the one remaining contract and orphans the rest.
	second := plan.Trades[1]
	assert.Equal(t, VerdictCloseOrphan, second.Verdict)
	require.Len(t, second.Matches, 1)
	assert.Equal(t, 1, second.Matches[0].Consumed)
	assert.Equal(t, 2, second.UnmatchedQuantity)
}

func TestTerminalOperation(t *testing.T) {
	assert.Equal(t, models.OperationAssigned, TerminalOperation(models.ActionAssign))
	assert.Equal(t, models.OperationExpired, TerminalOperation(models.ActionExpire))
	assert.Equal(t, models.OperationClosed, TerminalOperation(models.ActionClose))
}
