package arbitration

import "math/big"

// Outcome identifies one possible ruling of a dispute. The zero value is
// reserved: it means "no decisive winner" (the adjudicator abstained or has
// not ruled yet). Engines map their own party or answer spaces onto outcomes.
type Outcome uint64

// OutcomeNone is the reserved abstain/no-winner sentinel.
const OutcomeNone Outcome = 0

// DisputeStatus reports where a dispute stands from the arbitrator's point
// of view.
type DisputeStatus uint8

const (
	// DisputeWaiting means the dispute has been created and awaits a ruling.
	DisputeWaiting DisputeStatus = iota
	// DisputeAppealable means a tentative ruling exists and the appeal
	// window is open.
	DisputeAppealable
	// DisputeSolved means the ruling is final.
	DisputeSolved
)

// Arbitrable is implemented by engines that can receive rulings. The
// arbitrator invokes Rule exactly once per dispute, when the ruling becomes
// final.
type Arbitrable interface {
	Rule(disputeID uint64, ruling Outcome) error
}

// Arbitrator is the adjudication collaborator. Dispute identifiers are
// allocated by the arbitrator and remain stable across appeal rounds: query
// and appeal operations against the original identifier address the latest
// round of that dispute.
type Arbitrator interface {
	// CreateDispute opens a dispute on behalf of the given arbitrable with
	// the requested number of ruling choices. The payment must cover
	// ArbitrationCost.
	CreateDispute(arbitrated Arbitrable, choices uint64, extraData []byte, payment *big.Int) (uint64, error)
	// Appeal funds an appeal of the current round. The payment must cover
	// AppealCost and the dispute must be inside its appeal window.
	Appeal(disputeID uint64, extraData []byte, payment *big.Int) error
	// ArbitrationCost returns the fee required to create a dispute.
	ArbitrationCost(extraData []byte) *big.Int
	// AppealCost returns the fee required to appeal the current round.
	AppealCost(disputeID uint64, extraData []byte) *big.Int
	// CurrentRuling returns the tentative ruling of the current round.
	CurrentRuling(disputeID uint64) (Outcome, error)
	// Status reports the dispute status of the current round.
	Status(disputeID uint64) (DisputeStatus, error)
	// AppealPeriod returns the [start, end) window during which the current
	// round may be appealed. It fails when the dispute is not appealable.
	AppealPeriod(disputeID uint64) (start, end int64, err error)
}
