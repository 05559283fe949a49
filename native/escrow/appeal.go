package escrow

import (
	"fmt"
	"math/big"

	"arbitrable/native/appeal"
	"arbitrable/native/arbitration"
)

// FundAppeal crowdfunds one side's appeal fee for the current round. The
// contribution is clamped to what the side still needs; the excess never
// leaves the funder's account. When both sides complete their goals the
// appeal fires at the arbitrator and a fresh round opens.
func (e *Engine) FundAppeal(id uint64, tx *Transaction, side Party, funder [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.verify(id, tx); err != nil {
		return err
	}
	if side != PartySender && side != PartyReceiver {
		return fmt.Errorf("escrow: wrong party to fund")
	}
	if tx.Status != StatusOngoing {
		return errDisputeNotOngoing
	}
	ledger, ok := e.state.EscrowRoundsGet(id)
	if !ok {
		return errDisputeNotOngoing
	}
	start, end, err := e.arb.AppealPeriod(tx.DisputeID)
	if err != nil {
		return err
	}
	leader, err := e.arb.CurrentRuling(tx.DisputeID)
	if err != nil {
		return err
	}
	outcome := side.Outcome()
	if err := e.policy.CheckWindow(e.now(), start, end, outcome, leader); err != nil {
		return err
	}
	round := ledger.Current()
	if round.IsFunded(outcome) {
		return appeal.ErrAlreadyFunded
	}
	cost := e.arb.AppealCost(tx.DisputeID, e.extraData)
	goal := e.policy.RequiredFee(cost, outcome, leader)
	accepted, _, completed := round.Fund(funder, outcome, cloneBigInt(amount), goal)
	if err := e.ensureBalance(funder, accepted); err != nil {
		return err
	}
	appealing := completed && len(round.FundedOutcomes) > 1
	if appealing {
		// The arbitrator accepts the appeal before any funds move, so a
		// rejected appeal leaves accounts and the persisted ledger untouched.
		if err := e.arb.Appeal(tx.DisputeID, e.extraData, cost); err != nil {
			return err
		}
	}
	if err := e.transfer(funder, e.vault, accepted); err != nil {
		return err
	}
	roundIdx := ledger.Len() - 1
	e.emit(NewAppealContributionEvent(id, side, funder, roundIdx, accepted))
	if completed {
		e.emit(NewAppealFeePaidEvent(id, side, roundIdx))
	}
	if appealing {
		if err := e.transfer(e.vault, e.arbAccount, cost); err != nil {
			return err
		}
		round.FinalizeAppeal(cost)
		ledger.Append()
	}
	return e.state.EscrowRoundsPut(id, ledger)
}

// AppealStatus reports the funding state of the current round for one side:
// how much has been paid toward it, the funding goal, and whether it is
// complete.
func (e *Engine) AppealStatus(id uint64, tx *Transaction, side Party) (paid, goal *big.Int, funded bool, err error) {
	if err := e.ready(); err != nil {
		return nil, nil, false, err
	}
	if err := e.verify(id, tx); err != nil {
		return nil, nil, false, err
	}
	ledger, ok := e.state.EscrowRoundsGet(id)
	if !ok {
		return nil, nil, false, errDisputeNotOngoing
	}
	leader, err := e.arb.CurrentRuling(tx.DisputeID)
	if err != nil {
		return nil, nil, false, err
	}
	outcome := side.Outcome()
	cost := e.arb.AppealCost(tx.DisputeID, e.extraData)
	round := ledger.Current()
	return round.PaidFee(outcome), e.policy.RequiredFee(cost, outcome, leader), round.IsFunded(outcome), nil
}

// RoundInfo returns the funding ledger of one appeal round.
func (e *Engine) RoundInfo(id uint64, round int) (*appeal.Round, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, ok := e.state.EscrowRoundsGet(id)
	if !ok {
		return nil, errUnknownCase
	}
	r, ok := ledger.Round(round)
	if !ok {
		return nil, fmt.Errorf("escrow: round %d out of range", round)
	}
	return r, nil
}

// NumberOfRounds returns how many appeal rounds the case has, zero when no
// dispute was ever created.
func (e *Engine) NumberOfRounds(id uint64) int {
	if e == nil || e.state == nil {
		return 0
	}
	ledger, ok := e.state.EscrowRoundsGet(id)
	if !ok {
		return 0
	}
	return ledger.Len()
}

// Contributions returns a funder's per-side stakes in one round.
func (e *Engine) Contributions(id uint64, round int, funder [20]byte) (map[Party]*big.Int, error) {
	r, err := e.RoundInfo(id, round)
	if err != nil {
		return nil, err
	}
	return map[Party]*big.Int{
		PartySender:   r.Contribution(funder, PartySender.Outcome()),
		PartyReceiver: r.Contribution(funder, PartyReceiver.Outcome()),
	}, nil
}

func (e *Engine) finalRuling(id uint64, tx *Transaction) (arbitration.Outcome, error) {
	if tx.Status != StatusResolved || !tx.HasDispute {
		return arbitration.OutcomeNone, errNotResolved
	}
	ruling, ok := e.state.EscrowRulingGet(id)
	if !ok {
		return arbitration.OutcomeNone, errNotRuled
	}
	return ruling, nil
}

// AmountWithdrawable totals the fee rewards a beneficiary can still collect
// across every round. It returns zero while the dispute is unresolved.
func (e *Engine) AmountWithdrawable(id uint64, tx *Transaction, beneficiary [20]byte) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.verify(id, tx); err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	ruling, err := e.finalRuling(id, tx)
	if err != nil {
		return total, nil
	}
	ledger, ok := e.state.EscrowRoundsGet(id)
	if !ok {
		return total, nil
	}
	for _, round := range ledger.Rounds {
		total.Add(total, roundWithdrawable(round, ruling, beneficiary))
	}
	return total, nil
}

// roundWithdrawable mirrors withdrawRound without mutating the ledger. Under
// an abstain ruling one withdrawal covers every cell the beneficiary holds,
// so the round's share is counted once, not once per side.
func roundWithdrawable(r *appeal.Round, ruling arbitration.Outcome, beneficiary [20]byte) *big.Int {
	if ruling == arbitration.OutcomeNone {
		for _, side := range []Party{PartySender, PartyReceiver} {
			if reward := r.Reward(ruling, beneficiary, side.Outcome()); reward.Sign() > 0 {
				return reward
			}
		}
		return big.NewInt(0)
	}
	total := big.NewInt(0)
	for _, side := range []Party{PartySender, PartyReceiver} {
		total.Add(total, r.Reward(ruling, beneficiary, side.Outcome()))
	}
	return total
}

// WithdrawFeesAndRewards pays a beneficiary its fee rewards for a single
// round. The covered ledger cells are zeroed, so repeated calls pay nothing.
func (e *Engine) WithdrawFeesAndRewards(id uint64, tx *Transaction, beneficiary [20]byte, round int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.verify(id, tx); err != nil {
		return nil, err
	}
	ruling, err := e.finalRuling(id, tx)
	if err != nil {
		return nil, err
	}
	ledger, ok := e.state.EscrowRoundsGet(id)
	if !ok {
		return nil, errUnknownCase
	}
	r, ok := ledger.Round(round)
	if !ok {
		return nil, fmt.Errorf("escrow: round %d out of range", round)
	}
	reward := e.withdrawRound(r, ruling, beneficiary)
	// Pay before persisting the drained ledger: a failed payout must leave
	// the stored cells intact.
	if err := e.transfer(e.vault, beneficiary, reward); err != nil {
		return nil, err
	}
	if err := e.state.EscrowRoundsPut(id, ledger); err != nil {
		return nil, err
	}
	return reward, nil
}

// BatchRoundWithdraw withdraws fee rewards over a half-open round range
// [cursor, cursor+count) in one call; a zero count extends the range to the
// last round. Out-of-range indexes are skipped.
func (e *Engine) BatchRoundWithdraw(id uint64, tx *Transaction, beneficiary [20]byte, cursor, count int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.verify(id, tx); err != nil {
		return nil, err
	}
	ruling, err := e.finalRuling(id, tx)
	if err != nil {
		return nil, err
	}
	ledger, ok := e.state.EscrowRoundsGet(id)
	if !ok {
		return nil, errUnknownCase
	}
	if cursor < 0 {
		cursor = 0
	}
	limit := ledger.Len()
	if count > 0 && cursor+count < limit {
		limit = cursor + count
	}
	total := big.NewInt(0)
	for i := cursor; i < limit; i++ {
		r, ok := ledger.Round(i)
		if !ok {
			break
		}
		total.Add(total, e.withdrawRound(r, ruling, beneficiary))
	}
	if err := e.transfer(e.vault, beneficiary, total); err != nil {
		return nil, err
	}
	if err := e.state.EscrowRoundsPut(id, ledger); err != nil {
		return nil, err
	}
	return total, nil
}

// withdrawRound drains every side's reward for one beneficiary in one round.
// Under an abstain ruling the first side's withdrawal already covers and
// clears all cells, so the second query yields zero.
func (e *Engine) withdrawRound(r *appeal.Round, ruling arbitration.Outcome, beneficiary [20]byte) *big.Int {
	total := big.NewInt(0)
	for _, side := range []Party{PartySender, PartyReceiver} {
		total.Add(total, r.Withdraw(ruling, beneficiary, side.Outcome()))
	}
	return total
}

// TransactionHash returns the stored commitment of a case record.
func (e *Engine) TransactionHash(id uint64) ([32]byte, bool) {
	if e == nil || e.state == nil {
		return [32]byte{}, false
	}
	return e.state.EscrowCommitmentGet(id)
}

// TransactionCount returns how many escrows have been created.
func (e *Engine) TransactionCount() uint64 {
	if e == nil || e.state == nil {
		return 0
	}
	return e.state.EscrowCount()
}
