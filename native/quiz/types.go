package quiz

import (
	"fmt"
	"math/big"

	"arbitrable/native/arbitration"
)

// Status represents the lifecycle states of a question.
type Status uint8

const (
	StatusCreated Status = iota
	StatusAnswered
	StatusDisputed
	StatusResolved
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool { return s <= StatusResolved }

// Question is the case record of the open-answer escrow. The host stakes a
// reward on a question; a guest submits an answer backed by a deposit; the
// host can challenge the answer with its own candidate, summoning the
// arbitrator to pick between the open answer space. Records are stored
// whole, keyed by id.
type Question struct {
	ID          uint64
	Host        [20]byte
	Guest       [20]byte
	Amount      *big.Int
	HostFee     *big.Int
	GuestFee    *big.Int
	Deadline    int64
	HostAnswer  arbitration.Outcome
	GuestAnswer arbitration.Outcome
	DisputeID   uint64
	Ruling      arbitration.Outcome
	Status      Status
}

// Clone returns a deep copy of the question.
func (q *Question) Clone() *Question {
	if q == nil {
		return nil
	}
	clone := *q
	clone.Amount = cloneBigInt(q.Amount)
	clone.HostFee = cloneBigInt(q.HostFee)
	clone.GuestFee = cloneBigInt(q.GuestFee)
	return &clone
}

func sanitizeQuestion(q *Question) (*Question, error) {
	if q == nil {
		return nil, fmt.Errorf("quiz: nil question")
	}
	clone := q.Clone()
	if clone.Amount.Sign() < 0 || clone.HostFee.Sign() < 0 || clone.GuestFee.Sign() < 0 {
		return nil, fmt.Errorf("quiz: negative amount")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("quiz: invalid status: %d", clone.Status)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
