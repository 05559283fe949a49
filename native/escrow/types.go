package escrow

import (
	"fmt"
	"math/big"

	"arbitrable/native/arbitration"
)

// Party identifies one side of the escrow. PartyNone doubles as the
// "abstain/no-winner" ruling.
type Party uint8

const (
	PartyNone Party = iota
	PartySender
	PartyReceiver
)

// Outcome maps the party onto the arbitration outcome space.
func (p Party) Outcome() arbitration.Outcome { return arbitration.Outcome(p) }

// PartyFromOutcome maps a ruling back onto a party. Rulings outside the
// party space collapse to PartyNone.
func PartyFromOutcome(o arbitration.Outcome) Party {
	switch o {
	case arbitration.Outcome(PartySender):
		return PartySender
	case arbitration.Outcome(PartyReceiver):
		return PartyReceiver
	default:
		return PartyNone
	}
}

// String implements fmt.Stringer.
func (p Party) String() string {
	switch p {
	case PartySender:
		return "sender"
	case PartyReceiver:
		return "receiver"
	default:
		return "none"
	}
}

// Status represents the lifecycle states of an escrow transaction. The
// status only ever advances.
type Status uint8

const (
	StatusNoDispute Status = iota
	StatusWaitingSender
	StatusWaitingReceiver
	StatusOngoing
	StatusResolved
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusNoDispute, StatusWaitingSender, StatusWaitingReceiver, StatusOngoing, StatusResolved:
		return true
	default:
		return false
	}
}

// Transaction is the full case record of one escrow. Durable storage keeps
// only its commitment hash; callers present their copy of the record on
// every mutating call and receive the updated record back through the
// state-updated event.
type Transaction struct {
	ID              uint64
	Sender          [20]byte
	Receiver        [20]byte
	Amount          *big.Int
	Deadline        int64
	SenderFee       *big.Int
	ReceiverFee     *big.Int
	DisputeID       uint64
	HasDispute      bool
	LastInteraction int64
	Status          Status
}

// Clone returns a deep copy of the transaction so callers can safely mutate
// the copy without affecting other holders.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Amount = cloneBigInt(t.Amount)
	clone.SenderFee = cloneBigInt(t.SenderFee)
	clone.ReceiverFee = cloneBigInt(t.ReceiverFee)
	return &clone
}

// SanitizeTransaction validates the supplied record and returns a cloned
// instance with non-nil money fields. The original value is not mutated.
func SanitizeTransaction(t *Transaction) (*Transaction, error) {
	if t == nil {
		return nil, fmt.Errorf("escrow: nil transaction")
	}
	clone := t.Clone()
	if clone.Amount.Sign() < 0 || clone.SenderFee.Sign() < 0 || clone.ReceiverFee.Sign() < 0 {
		return nil, fmt.Errorf("escrow: negative amount")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status: %d", clone.Status)
	}
	return clone, nil
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
