package arbitration

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

var (
	ErrUnknownDispute = errors.New("arbitration: unknown dispute")
	// ErrNotAppealable is surfaced verbatim to engine callers when they try
	// to fund an appeal while no appeal window is open.
	ErrNotAppealable        = errors.New("arbitration: the specified dispute is not appealable")
	ErrInsufficientPayment  = errors.New("arbitration: payment does not cover the required fee")
	ErrDisputeAlreadySolved = errors.New("arbitration: dispute already solved")
	ErrAppealPeriodOver     = errors.New("arbitration: appeal period is over")
	ErrRulingOutOfBounds    = errors.New("arbitration: ruling out of bounds")
	errNilArbitrated        = errors.New("arbitration: arbitrated caller required")
)

type appealableDispute struct {
	arbitrated  Arbitrable
	choices     uint64
	ruling      Outcome
	status      DisputeStatus
	periodStart int64
	periodEnd   int64
	root        uint64
	child       uint64
	appealed    bool
}

// Appealable is an in-process arbitrator with a fixed fee and a fixed appeal
// window. A first GiveRuling opens the appeal window for a dispute; a second
// GiveRuling after the window has elapsed finalizes the ruling and invokes
// the arbitrated engine's Rule callback with the original dispute id.
// Appeals reopen the dispute as a fresh internal round; queries against the
// original id always address the latest round. It mirrors the behaviour the
// engines expect from a production adjudicator and backs the dev daemon and
// the test suites.
type Appealable struct {
	fee      *big.Int
	timeout  int64
	disputes []*appealableDispute
	nowFn    func() int64
}

// NewAppealable creates an arbitrator charging the given fee per dispute and
// per appeal, with the given appeal window length in seconds.
func NewAppealable(fee *big.Int, appealTimeout int64) *Appealable {
	if fee == nil {
		fee = big.NewInt(0)
	}
	return &Appealable{
		fee:     new(big.Int).Set(fee),
		timeout: appealTimeout,
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetNowFunc overrides the time source. Primarily intended for tests.
func (a *Appealable) SetNowFunc(now func() int64) {
	if now == nil {
		a.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	a.nowFn = now
}

func (a *Appealable) now() int64 { return a.nowFn() }

// latest follows the appeal chain to the dispute currently being arbitrated.
func (a *Appealable) latest(disputeID uint64) (*appealableDispute, uint64, error) {
	if disputeID >= uint64(len(a.disputes)) {
		return nil, 0, ErrUnknownDispute
	}
	id := disputeID
	for a.disputes[id].appealed {
		id = a.disputes[id].child
	}
	return a.disputes[id], id, nil
}

// CreateDispute implements the Arbitrator interface.
func (a *Appealable) CreateDispute(arbitrated Arbitrable, choices uint64, _ []byte, payment *big.Int) (uint64, error) {
	if arbitrated == nil {
		return 0, errNilArbitrated
	}
	if payment == nil || payment.Cmp(a.fee) < 0 {
		return 0, ErrInsufficientPayment
	}
	id := uint64(len(a.disputes))
	a.disputes = append(a.disputes, &appealableDispute{
		arbitrated: arbitrated,
		choices:    choices,
		status:     DisputeWaiting,
		root:       id,
	})
	return id, nil
}

// Appeal implements the Arbitrator interface. The appeal opens a fresh
// internal round; subsequent rulings are given against the new round while
// external callers keep using the original dispute id.
func (a *Appealable) Appeal(disputeID uint64, _ []byte, payment *big.Int) error {
	d, _, err := a.latest(disputeID)
	if err != nil {
		return err
	}
	if d.status != DisputeAppealable {
		return ErrNotAppealable
	}
	if a.now() >= d.periodEnd {
		return ErrAppealPeriodOver
	}
	if payment == nil || payment.Cmp(a.fee) < 0 {
		return ErrInsufficientPayment
	}
	child := uint64(len(a.disputes))
	a.disputes = append(a.disputes, &appealableDispute{
		arbitrated: d.arbitrated,
		choices:    d.choices,
		status:     DisputeWaiting,
		root:       d.root,
	})
	d.appealed = true
	d.child = child
	d.status = DisputeSolved
	return nil
}

// ArbitrationCost implements the Arbitrator interface.
func (a *Appealable) ArbitrationCost(_ []byte) *big.Int {
	return new(big.Int).Set(a.fee)
}

// AppealCost implements the Arbitrator interface.
func (a *Appealable) AppealCost(_ uint64, _ []byte) *big.Int {
	return new(big.Int).Set(a.fee)
}

// CurrentRuling implements the Arbitrator interface.
func (a *Appealable) CurrentRuling(disputeID uint64) (Outcome, error) {
	d, _, err := a.latest(disputeID)
	if err != nil {
		return OutcomeNone, err
	}
	return d.ruling, nil
}

// Status implements the Arbitrator interface.
func (a *Appealable) Status(disputeID uint64) (DisputeStatus, error) {
	d, _, err := a.latest(disputeID)
	if err != nil {
		return DisputeWaiting, err
	}
	return d.status, nil
}

// AppealPeriod implements the Arbitrator interface.
func (a *Appealable) AppealPeriod(disputeID uint64) (int64, int64, error) {
	d, _, err := a.latest(disputeID)
	if err != nil {
		return 0, 0, err
	}
	if d.status != DisputeAppealable {
		return 0, 0, ErrNotAppealable
	}
	return d.periodStart, d.periodEnd, nil
}

// AppealDisputeID returns the internal id of the latest round of a dispute.
// Useful for drivers that rule specific rounds directly.
func (a *Appealable) AppealDisputeID(disputeID uint64) (uint64, error) {
	_, id, err := a.latest(disputeID)
	return id, err
}

// GiveRuling records a tentative ruling on the given internal round and
// opens its appeal window. Called again on the same round after the window
// has elapsed, it finalizes the ruling and notifies the arbitrated engine.
func (a *Appealable) GiveRuling(disputeID uint64, ruling Outcome) error {
	if disputeID >= uint64(len(a.disputes)) {
		return ErrUnknownDispute
	}
	d := a.disputes[disputeID]
	if d.status == DisputeSolved {
		return ErrDisputeAlreadySolved
	}
	if uint64(ruling) > d.choices {
		return fmt.Errorf("%w: %d > %d", ErrRulingOutOfBounds, ruling, d.choices)
	}
	now := a.now()
	if d.status == DisputeAppealable && now > d.periodEnd {
		d.ruling = ruling
		d.status = DisputeSolved
		return d.arbitrated.Rule(d.root, ruling)
	}
	d.ruling = ruling
	d.status = DisputeAppealable
	d.periodStart = now
	d.periodEnd = now + a.timeout
	return nil
}
