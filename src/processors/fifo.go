package processors

import (
	"time"

	"github.com/username/lotfolio/src/ledger"
	"github.com/username/lotfolio/src/models"
	"github.com/username/lotfolio/src/utils"
)

// simContext combines the persisted-lot view with the in-memory deltas of
// the current planning pass: lots this pass has decided to add but not yet
// persisted, and consumption overlays on persisted lots matched by earlier
// events of the same statement. Preview and Confirm share it, which is what
// makes Preview's dry run of same-statement open-then-close sequences exact.
type simContext struct {
	view      ledger.View
	accountID int64
	pending   map[models.ContractKey][]*pendingLot
	nextSeq   int
	overlay   map[int64]*lotState
}

type pendingLot struct {
	seq      int
	openDate time.Time
	quantity int
	premium  float64
}

// lotState tracks what remains of a persisted lot after earlier events in
// this plan consumed part of it.
type lotState struct {
	quantity int
	premium  float64
}

func newSimContext(view ledger.View, accountID int64) *simContext {
	return &simContext{
		view:      view,
		accountID: accountID,
		pending:   make(map[models.ContractKey][]*pendingLot),
		overlay:   make(map[int64]*lotState),
	}
}

// addPending records a lot this plan will create and returns its sequence
// number, which later matches reference in place of a row id.
func (c *simContext) addPending(key models.ContractKey, openDate time.Time, quantity int, premium float64) int {
	seq := c.nextSeq
	c.nextSeq++
	c.pending[key] = append(c.pending[key], &pendingLot{
		seq: seq, openDate: openDate, quantity: quantity, premium: premium,
	})
	return seq
}

// candidate is one open lot available for FIFO consumption, with any
// same-plan consumption already subtracted.
type candidate struct {
	ref      LotRef
	openDate time.Time
	quantity int
	premium  float64
}

// candidates gathers the open lots for a contract key in consumption order:
// persisted lots oldest-open-date-first, then this plan's pending additions
// in the order they were decided.
func (c *simContext) candidates(key models.ContractKey) ([]candidate, error) {
	lots, err := c.view.OpenOptionLots(c.accountID, key)
	if err != nil {
		return nil, err
	}
	var out []candidate
	for _, lot := range lots {
		quantity, premium := lot.Quantity, lot.Premium
		if state, ok := c.overlay[lot.ID]; ok {
			quantity, premium = state.quantity, state.premium
		}
		if quantity <= 0 {
			continue
		}
		out = append(out, candidate{
			ref:      LotRef{LotID: lot.ID},
			openDate: lot.OpenDate,
			quantity: quantity,
			premium:  premium,
		})
	}
	for _, pend := range c.pending[key] {
		if pend.quantity <= 0 {
			continue
		}
		out = append(out, candidate{
			ref:      LotRef{PendingSeq: pend.seq},
			openDate: pend.openDate,
			quantity: pend.quantity,
			premium:  pend.premium,
		})
	}
	return out, nil
}

// consume subtracts a match from the context so later events of the same
// statement see the reduced lot.
func (c *simContext) consume(key models.ContractKey, ref LotRef, quantity int, premium float64) {
	if ref.LotID > 0 {
		state, ok := c.overlay[ref.LotID]
		if !ok {
			// First touch: seed the overlay from the candidate's remaining
			// values, which consume's caller just computed.
			c.overlay[ref.LotID] = &lotState{quantity: quantity, premium: premium}
			return
		}
		state.quantity = quantity
		state.premium = premium
		return
	}
	for _, pend := range c.pending[key] {
		if pend.seq == ref.PendingSeq {
			pend.quantity = quantity
			pend.premium = premium
			return
		}
	}
}

// planClose runs the FIFO matching algorithm for a CLOSE/ASSIGN/EXPIRE
// event: walk the candidate lots in order, consuming from each until the
// event's quantity is exhausted or the candidates are.
func (p *Planner) planClose(ctx *simContext, event models.OptionTradeEvent) (TradeAction, error) {
	appliedVerdict, orphanVerdict := closeVerdicts(event.Action)
	action := TradeAction{Event: event, Verdict: appliedVerdict, PendingSeq: -1}

	if event.Quantity <= 0 {
		action.Verdict = orphanVerdict
		action.UnmatchedQuantity = event.Quantity
		return action, nil
	}

	// Re-import detection: if lots settled on the event's date with the
	// event's terminal operation already cover its quantity, this close was
	// applied by an earlier import and must not consume anything again.
	settled, err := ctx.view.SettledOptionQuantity(ctx.accountID, event.Key(), TerminalOperation(event.Action), event.TradedAt)
	if err != nil {
		return TradeAction{}, err
	}
	if settled >= event.Quantity {
		action.Verdict = VerdictSkipApplied
		return action, nil
	}

	cands, err := ctx.candidates(event.Key())
	if err != nil {
		return TradeAction{}, err
	}

	// Assignment reports the option leg's P&L as zero: the premium itself
	// transfers into the stock cost basis, so each matched lot realizes its
	// own pro-rated premium instead of a share of zero.
	premiumOverride := event.Action == models.ActionAssign && event.RealizedPL == 0

	remaining := event.Quantity
	for _, cand := range cands {
		if remaining == 0 {
			break
		}
		consumed := utils.MinInt(remaining, cand.quantity)
		splitPremium := float64(consumed) / float64(cand.quantity) * cand.premium
		var profit float64
		if premiumOverride {
			profit = splitPremium
		} else {
			profit = float64(consumed) / float64(event.Quantity) * event.RealizedPL
		}
		match := LotMatch{
			Ref:               cand.ref,
			OpenDate:          cand.openDate,
			Consumed:          consumed,
			Full:              consumed == cand.quantity,
			Profit:            profit,
			DaysHeld:          utils.DaysBetween(cand.openDate, event.TradedAt),
			SplitPremium:      splitPremium,
			RemainingQuantity: cand.quantity - consumed,
			RemainingPremium:  cand.premium - splitPremium,
		}
		action.Matches = append(action.Matches, match)
		ctx.consume(event.Key(), cand.ref, match.RemainingQuantity, match.RemainingPremium)
		remaining -= consumed
	}

	// When the event is fully matched, the last lot absorbs the rounding
	// residual so the per-lot allocations sum exactly to the reported P&L.
	if remaining == 0 && !premiumOverride && len(action.Matches) > 1 {
		var allocated float64
		last := len(action.Matches) - 1
		for _, match := range action.Matches[:last] {
			allocated += match.Profit
		}
		action.Matches[last].Profit = event.RealizedPL - allocated
	}

	for i := range action.Matches {
		action.Matches[i].ProfitPct = profitPercent(action.Matches[i].Profit, action.Matches[i].SplitPremium)
	}

	if remaining > 0 {
		action.Verdict = orphanVerdict
		action.UnmatchedQuantity = remaining
	}
	return action, nil
}

func profitPercent(profit, premium float64) float64 {
	if premium == 0 {
		return 0
	}
	return utils.RoundFloat(profit/premium*100, 2)
}
