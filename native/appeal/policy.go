package appeal

import (
	"errors"
	"fmt"
	"math/big"

	"arbitrable/native/arbitration"
)

// MultiplierDivisor is the basis of the stake multipliers: multipliers are
// expressed in parts per ten thousand of the base appeal fee.
const MultiplierDivisor = 10000

var (
	// ErrNotInAppealPeriod rejects contributions outside the appeal window.
	ErrNotInAppealPeriod = errors.New("appeal: not in appeal period")
	// ErrNotInLoserPeriod rejects contributions toward a losing outcome
	// after the loser's exclusive first half of the window has elapsed.
	ErrNotInLoserPeriod = errors.New("appeal: not in loser's appeal period")
	// ErrAlreadyFunded rejects contributions toward an outcome whose appeal
	// fee has already been fully paid this round.
	ErrAlreadyFunded = errors.New("appeal: fee for this outcome has already been paid")
)

// Policy holds the stake multipliers applied on top of the base appeal fee.
// The presumed winner pays the smallest surcharge, everyone else the
// largest; when the current ruling names no leader both sides share one
// multiplier and the full window.
type Policy struct {
	SharedBps uint64
	WinnerBps uint64
	LoserBps  uint64
}

// Validate checks the multipliers for plausibility.
func (p Policy) Validate() error {
	if p.SharedBps == 0 && p.WinnerBps == 0 && p.LoserBps == 0 {
		return fmt.Errorf("appeal: policy multipliers not configured")
	}
	return nil
}

func (p Policy) multiplier(outcome, leader arbitration.Outcome) uint64 {
	switch {
	case leader == arbitration.OutcomeNone:
		return p.SharedBps
	case outcome == leader:
		return p.WinnerBps
	default:
		return p.LoserBps
	}
}

// RequiredFee returns the total an outcome must collect this round: the base
// appeal fee plus the multiplier-adjusted surcharge.
func (p Policy) RequiredFee(base *big.Int, outcome, leader arbitration.Outcome) *big.Int {
	stake := new(big.Int).Mul(base, new(big.Int).SetUint64(p.multiplier(outcome, leader)))
	stake.Div(stake, big.NewInt(MultiplierDivisor))
	return stake.Add(stake, base)
}

// CheckWindow enforces the sub-period rules of the appeal window [start, end):
// outcomes other than the leader only during the first half, the leader (or
// anyone, when there is no leader) until the window closes.
func (p Policy) CheckWindow(now, start, end int64, outcome, leader arbitration.Outcome) error {
	if now < start || now >= end {
		return ErrNotInAppealPeriod
	}
	if leader != arbitration.OutcomeNone && outcome != leader {
		if now >= start+(end-start)/2 {
			return ErrNotInLoserPeriod
		}
	}
	return nil
}
