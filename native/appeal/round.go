package appeal

import (
	"math/big"

	"arbitrable/native/arbitration"
)

// Round is one appeal cycle's funding ledger for a single case. Fees paid
// toward each outcome accumulate until the outcome reaches its funding goal;
// once two distinct outcomes are fully funded the round is appealed and a
// fresh round is opened by the owning ledger.
type Round struct {
	PaidFees       map[arbitration.Outcome]*big.Int
	FundedOutcomes []arbitration.Outcome
	FeeRewards     *big.Int
	Appealed       bool
	Contributions  map[[20]byte]map[arbitration.Outcome]*big.Int
}

// NewRound returns an empty round.
func NewRound() *Round {
	return &Round{
		PaidFees:      make(map[arbitration.Outcome]*big.Int),
		FeeRewards:    big.NewInt(0),
		Contributions: make(map[[20]byte]map[arbitration.Outcome]*big.Int),
	}
}

// PaidFee returns the cumulative amount paid toward an outcome this round.
func (r *Round) PaidFee(outcome arbitration.Outcome) *big.Int {
	if v, ok := r.PaidFees[outcome]; ok {
		return new(big.Int).Set(v)
	}
	return big.NewInt(0)
}

// Contribution returns a funder's stake on an outcome this round.
func (r *Round) Contribution(funder [20]byte, outcome arbitration.Outcome) *big.Int {
	if cells, ok := r.Contributions[funder]; ok {
		if v, ok := cells[outcome]; ok {
			return new(big.Int).Set(v)
		}
	}
	return big.NewInt(0)
}

// IsFunded reports whether an outcome has reached its goal this round.
func (r *Round) IsFunded(outcome arbitration.Outcome) bool {
	for _, o := range r.FundedOutcomes {
		if o == outcome {
			return true
		}
	}
	return false
}

// FundedOutcome returns the single outcome that reached its goal first, or
// OutcomeNone when no outcome (or more than one, i.e. an appealed round) is
// in that position.
func (r *Round) FundedOutcome() arbitration.Outcome {
	if len(r.FundedOutcomes) == 1 {
		return r.FundedOutcomes[0]
	}
	return arbitration.OutcomeNone
}

// Fund credits amount toward outcome on behalf of funder, clamped so the
// outcome's total never exceeds goal. It returns the accepted amount, the
// excess that must go back to the funder, and whether this payment completed
// the goal.
func (r *Round) Fund(funder [20]byte, outcome arbitration.Outcome, amount, goal *big.Int) (accepted, refund *big.Int, completed bool) {
	paid := r.PaidFee(outcome)
	remaining := new(big.Int).Sub(goal, paid)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	accepted = new(big.Int).Set(amount)
	if accepted.Cmp(remaining) > 0 {
		accepted = remaining
	}
	refund = new(big.Int).Sub(amount, accepted)
	if accepted.Sign() == 0 {
		return accepted, refund, false
	}
	r.PaidFees[outcome] = paid.Add(paid, accepted)
	cells, ok := r.Contributions[funder]
	if !ok {
		cells = make(map[arbitration.Outcome]*big.Int)
		r.Contributions[funder] = cells
	}
	cell, ok := cells[outcome]
	if !ok {
		cell = big.NewInt(0)
	}
	cells[outcome] = cell.Add(cell, accepted)
	if r.PaidFees[outcome].Cmp(goal) >= 0 {
		r.FundedOutcomes = append(r.FundedOutcomes, outcome)
		completed = true
	}
	return accepted, refund, completed
}

// FinalizeAppeal marks the round appealed and locks in its reward pool: the
// two completed totals minus the fee the appeal consumed. The funded markers
// reset, so an appealed round reports no funded side.
func (r *Round) FinalizeAppeal(appealCost *big.Int) {
	rewards := big.NewInt(0)
	for _, o := range r.FundedOutcomes {
		rewards.Add(rewards, r.PaidFee(o))
	}
	rewards.Sub(rewards, appealCost)
	if rewards.Sign() < 0 {
		rewards = big.NewInt(0)
	}
	r.FeeRewards = rewards
	r.Appealed = true
	r.FundedOutcomes = nil
}

// Clone returns a deep copy of the round.
func (r *Round) Clone() *Round {
	clone := NewRound()
	clone.Appealed = r.Appealed
	clone.FeeRewards = new(big.Int).Set(r.FeeRewards)
	clone.FundedOutcomes = append([]arbitration.Outcome(nil), r.FundedOutcomes...)
	for outcome, paid := range r.PaidFees {
		clone.PaidFees[outcome] = new(big.Int).Set(paid)
	}
	for funder, cells := range r.Contributions {
		copied := make(map[arbitration.Outcome]*big.Int, len(cells))
		for outcome, amount := range cells {
			copied[outcome] = new(big.Int).Set(amount)
		}
		clone.Contributions[funder] = copied
	}
	return clone
}

// totalPaid sums the fees paid toward every outcome this round, including
// partially funded ones.
func (r *Round) totalPaid() *big.Int {
	total := big.NewInt(0)
	for _, v := range r.PaidFees {
		total.Add(total, v)
	}
	return total
}

// totalContributed sums every cell a beneficiary holds this round.
func (r *Round) totalContributed(beneficiary [20]byte) *big.Int {
	total := big.NewInt(0)
	for _, v := range r.Contributions[beneficiary] {
		total.Add(total, v)
	}
	return total
}

// Reward computes, without mutating the round, the amount withdrawable by a
// beneficiary through the given outcome once the case's final ruling is
// known. Rounds that never went to appeal accrue nothing. Decisive rulings
// reward only backers of the ruled outcome, queried through that outcome.
// An abstain ruling reimburses every contributor pro-rata to the round's
// total paid fees, through any queried outcome the beneficiary backed.
func (r *Round) Reward(finalRuling arbitration.Outcome, beneficiary [20]byte, outcome arbitration.Outcome) *big.Int {
	if !r.Appealed {
		return big.NewInt(0)
	}
	if finalRuling == arbitration.OutcomeNone {
		if r.Contribution(beneficiary, outcome).Sign() == 0 {
			return big.NewInt(0)
		}
		total := r.totalPaid()
		if total.Sign() == 0 {
			return big.NewInt(0)
		}
		reward := r.totalContributed(beneficiary)
		reward.Mul(reward, r.FeeRewards)
		return reward.Div(reward, total)
	}
	if outcome != finalRuling {
		return big.NewInt(0)
	}
	paid := r.PaidFee(finalRuling)
	if paid.Sign() == 0 {
		return big.NewInt(0)
	}
	reward := r.Contribution(beneficiary, finalRuling)
	reward.Mul(reward, r.FeeRewards)
	return reward.Div(reward, paid)
}

// Withdraw computes the beneficiary's reward as Reward does, then zeroes the
// ledger cells the payout covers so a second call yields zero. For abstain
// rulings a single withdrawal covers, and therefore clears, every cell the
// beneficiary holds in the round.
func (r *Round) Withdraw(finalRuling arbitration.Outcome, beneficiary [20]byte, outcome arbitration.Outcome) *big.Int {
	reward := r.Reward(finalRuling, beneficiary, outcome)
	cells := r.Contributions[beneficiary]
	if cells == nil {
		return reward
	}
	if finalRuling == arbitration.OutcomeNone {
		if reward.Sign() > 0 {
			for o := range cells {
				cells[o] = big.NewInt(0)
			}
		}
		return reward
	}
	if outcome == finalRuling {
		cells[finalRuling] = big.NewInt(0)
	}
	return reward
}

// Ledger is the append-only sequence of appeal rounds for one case.
type Ledger struct {
	Rounds []*Round
}

// NewLedger returns a ledger holding the initial (index zero) round.
func NewLedger() *Ledger {
	return &Ledger{Rounds: []*Round{NewRound()}}
}

// Current returns the newest round.
func (l *Ledger) Current() *Round {
	return l.Rounds[len(l.Rounds)-1]
}

// Append opens a new round with zeroed totals and returns it.
func (l *Ledger) Append() *Round {
	r := NewRound()
	l.Rounds = append(l.Rounds, r)
	return r
}

// Round returns the round at the given index.
func (l *Ledger) Round(i int) (*Round, bool) {
	if i < 0 || i >= len(l.Rounds) {
		return nil, false
	}
	return l.Rounds[i], true
}

// Len returns the number of rounds.
func (l *Ledger) Len() int { return len(l.Rounds) }

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	clone := &Ledger{Rounds: make([]*Round, 0, len(l.Rounds))}
	for _, r := range l.Rounds {
		clone.Rounds = append(clone.Rounds, r.Clone())
	}
	return clone
}
