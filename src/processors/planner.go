package processors

import (
	"fmt"
	"time"

	"github.com/username/lotfolio/src/ledger"
	"github.com/username/lotfolio/src/models"
)

// Verdict tags how a parsed record should affect the ledger.
type Verdict string

const (
	// VerdictSyncAdd adds a lot from a snapshot position row.
	VerdictSyncAdd Verdict = "sync_add"
	// VerdictSkipExists leaves an already-present lot untouched.
	VerdictSkipExists Verdict = "skip_exists"
	// VerdictSkipApplied marks a close-type event whose settlement the
	// ledger already carries. Re-importing a statement must not close the
	// same contracts twice.
	VerdictSkipApplied Verdict = "skip_applied"
	// VerdictAdd adds a lot from an OPEN trade event.
	VerdictAdd Verdict = "add"

	VerdictClose  Verdict = "close"
	VerdictAssign Verdict = "assign"
	VerdictExpire Verdict = "expire"

	// Orphan verdicts mark close-type events with no (or insufficient)
	// matching open lots. The matched portion, if any, is still applied.
	VerdictCloseOrphan  Verdict = "close_orphan"
	VerdictAssignOrphan Verdict = "assign_orphan"
	VerdictExpireOrphan Verdict = "expire_orphan"
)

// Orphan reports whether the verdict marks an unmatched close-type event.
func (v Verdict) Orphan() bool {
	switch v {
	case VerdictCloseOrphan, VerdictAssignOrphan, VerdictExpireOrphan:
		return true
	}
	return false
}

// StockAction is the planned outcome for one stock position row.
type StockAction struct {
	Position models.OpenPosition `json:"position"`
	Verdict  Verdict             `json:"verdict"`
}

// OptionPositionAction is the planned outcome for one open option position
// row. PendingSeq identifies the lot this action will create, so later
// trade events in the same statement can consume it before it is persisted.
type OptionPositionAction struct {
	Position   models.OpenOptionPosition `json:"position"`
	Verdict    Verdict                   `json:"verdict"`
	PendingSeq int                       `json:"-"`
}

// LotRef points a match at either a persisted lot (LotID > 0) or a lot this
// same plan will create (PendingSeq of the originating add action).
type LotRef struct {
	LotID      int64 `json:"lot_id,omitempty"`
	PendingSeq int   `json:"-"`
}

// LotMatch records the consumption of one open lot by a close-type event.
// Full means the lot was consumed exactly and mutates in place; otherwise
// the lot shrinks to RemainingQuantity/RemainingPremium and the consumed
// portion becomes a new lot of Consumed/SplitPremium.
type LotMatch struct {
	Ref               LotRef    `json:"ref"`
	OpenDate          time.Time `json:"open_date"`
	Consumed          int       `json:"consumed"`
	Full              bool      `json:"full"`
	Profit            float64   `json:"profit"`
	ProfitPct         float64   `json:"profit_pct"`
	DaysHeld          int       `json:"days_held"`
	SplitPremium      float64   `json:"split_premium"`
	RemainingQuantity int       `json:"remaining_quantity"`
	RemainingPremium  float64   `json:"remaining_premium"`
}

// TradeAction is the planned outcome for one option trade event.
type TradeAction struct {
	Event             models.OptionTradeEvent `json:"event"`
	Verdict           Verdict                 `json:"verdict"`
	PendingSeq        int                     `json:"-"`
	Matches           []LotMatch              `json:"matches,omitempty"`
	UnmatchedQuantity int                     `json:"unmatched_quantity,omitempty"`
}

// Plan is the ordered list of actions one statement produces. Preview
// surfaces it as-is; Confirm applies it in order.
type Plan struct {
	Statement       *models.ParsedStatement
	Account         *models.Account
	Stocks          []StockAction
	OptionPositions []OptionPositionAction
	Trades          []TradeAction
}

// Planner decides how each parsed record should affect the ledger. It only
// reads; all mutation is the executor's job.
type Planner struct {
	view ledger.View
}

func NewPlanner(view ledger.View) *Planner {
	return &Planner{view: view}
}

// Plan walks the statement's records in their fixed order: stock positions,
// open option positions, then trade events. Ordering is load-bearing —
// later trade events may consume lots earlier actions decided to add.
func (p *Planner) Plan(stmt *models.ParsedStatement, account *models.Account) (*Plan, error) {
	plan := &Plan{Statement: stmt, Account: account}
	ctx := newSimContext(p.view, account.ID)

	// Stock snapshot rows are add-only: an existing open lot for the
	// (account, symbol, year) is never mutated from a snapshot.
	for _, pos := range stmt.StockPositions {
		exists, err := p.view.HasOpenStockLot(account.ID, pos.Symbol, stmt.Year)
		if err != nil {
			return nil, fmt.Errorf("planning stock position %s: %w", pos.Symbol, err)
		}
		verdict := VerdictSyncAdd
		if exists {
			verdict = VerdictSkipExists
		}
		plan.Stocks = append(plan.Stocks, StockAction{Position: pos, Verdict: verdict})
	}

	// An OPEN trade event in this same statement takes precedence over the
	// snapshot row for the identical contract key; the snapshot row is
	// suppressed without cross-checking quantity or date.
	openedKeys := make(map[models.ContractKey]bool)
	for _, event := range stmt.TradeEvents {
		if event.Action == models.ActionOpen {
			openedKeys[event.Key()] = true
		}
	}

	for _, pos := range stmt.OptionPositions {
		action := OptionPositionAction{Position: pos, Verdict: VerdictSyncAdd, PendingSeq: -1}
		if openedKeys[pos.Key()] {
			action.Verdict = VerdictSkipExists
		} else {
			exists, err := p.view.HasOpenOptionLot(account.ID, pos.Key())
			if err != nil {
				return nil, fmt.Errorf("planning option position %s: %w", pos.Underlying, err)
			}
			if exists {
				action.Verdict = VerdictSkipExists
			}
		}
		if action.Verdict == VerdictSyncAdd {
			// Snapshot lots open as of the report date.
			action.PendingSeq = ctx.addPending(pos.Key(), stmt.ReportDate, pos.Quantity, pos.Premium)
		}
		plan.OptionPositions = append(plan.OptionPositions, action)
	}

	for _, event := range stmt.TradeEvents {
		var action TradeAction
		var err error
		switch event.Action {
		case models.ActionOpen:
			action, err = p.planOpen(ctx, stmt, event)
		default:
			action, err = p.planClose(ctx, event)
		}
		if err != nil {
			return nil, fmt.Errorf("planning trade event %s: %w", event.Underlying, err)
		}
		plan.Trades = append(plan.Trades, action)
	}

	return plan, nil
}

func (p *Planner) planOpen(ctx *simContext, stmt *models.ParsedStatement, event models.OptionTradeEvent) (TradeAction, error) {
	exists, err := p.view.HasOptionLotOpenedAt(ctx.accountID, event.Key(), event.TradedAt, stmt.Year)
	if err != nil {
		return TradeAction{}, err
	}
	if exists {
		return TradeAction{Event: event, Verdict: VerdictSkipExists, PendingSeq: -1}, nil
	}
	seq := ctx.addPending(event.Key(), event.TradedAt, event.Quantity, event.Premium)
	return TradeAction{Event: event, Verdict: VerdictAdd, PendingSeq: seq}, nil
}

// TerminalOperation maps a close-type trade action onto the option lot
// lifecycle state it produces.
func TerminalOperation(action models.TradeAction) models.LotOperation {
	switch action {
	case models.ActionAssign:
		return models.OperationAssigned
	case models.ActionExpire:
		return models.OperationExpired
	default:
		return models.OperationClosed
	}
}

func closeVerdicts(action models.TradeAction) (applied, orphan Verdict) {
	switch action {
	case models.ActionAssign:
		return VerdictAssign, VerdictAssignOrphan
	case models.ActionExpire:
		return VerdictExpire, VerdictExpireOrphan
	default:
		return VerdictClose, VerdictCloseOrphan
	}
}
