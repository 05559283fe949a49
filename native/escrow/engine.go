package escrow

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"arbitrable/core/events"
	"arbitrable/core/types"
	"arbitrable/native/appeal"
	"arbitrable/native/arbitration"
)

var (
	errNilState          = errors.New("escrow engine: state not configured")
	errNilArbitrator     = errors.New("escrow engine: arbitrator not configured")
	errUnknownCase       = errors.New("escrow engine: unknown transaction")
	errHashMismatch      = errors.New("escrow: transaction does not match stored state")
	errDisputeNotOngoing = errors.New("escrow: no ongoing dispute")
	errNotResolved       = errors.New("escrow: dispute not resolved")
	errNotRuled          = errors.New("escrow: arbitrator has not ruled yet")
)

// engineState is the durable backend of the escrow engine. Only the record
// commitments, the round ledgers and the dispute bookkeeping are persisted;
// full case records live with the callers.
type engineState interface {
	EscrowNextID() (uint64, error)
	EscrowCount() uint64
	EscrowCommitmentPut(id uint64, hash [32]byte) error
	EscrowCommitmentGet(id uint64) ([32]byte, bool)
	EscrowRoundsPut(id uint64, ledger *appeal.Ledger) error
	EscrowRoundsGet(id uint64) (*appeal.Ledger, bool)
	EscrowDisputePut(disputeID, id uint64) error
	EscrowDisputeGet(disputeID uint64) (uint64, bool)
	EscrowRulingPut(id uint64, ruling arbitration.Outcome) error
	EscrowRulingGet(id uint64) (arbitration.Outcome, bool)
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

type escrowEvent struct {
	evt *types.Event
}

func (e escrowEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e escrowEvent) Event() *types.Event { return e.evt }

// Engine runs the binary sender/receiver escrow with appealable arbitration.
// Case records are verified against their stored commitment on every
// mutating call; the updated record travels back to the caller through the
// state-updated event.
type Engine struct {
	state      engineState
	arb        arbitration.Arbitrator
	arbAccount [20]byte
	vault      [20]byte
	extraData  []byte
	policy     appeal.Policy
	feeTimeout int64
	emitter    events.Emitter
	nowFn      func() int64
}

// NewEngine creates an escrow engine with a no-op emitter. Callers wire the
// state backend, the arbitrator and the accounts via the Set* methods.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetArbitrator configures the adjudication collaborator.
func (e *Engine) SetArbitrator(arb arbitration.Arbitrator) { e.arb = arb }

// SetArbitratorAccount configures the address credited with dispute and
// appeal fees.
func (e *Engine) SetArbitratorAccount(addr [20]byte) { e.arbAccount = addr }

// SetVault configures the address holding staked and pooled funds.
func (e *Engine) SetVault(addr [20]byte) { e.vault = addr }

// SetExtraData configures the opaque payload forwarded to the arbitrator.
func (e *Engine) SetExtraData(data []byte) { e.extraData = append([]byte(nil), data...) }

// SetPolicy configures the appeal stake multipliers.
func (e *Engine) SetPolicy(p appeal.Policy) { e.policy = p }

// SetFeeTimeout configures how long a paying side waits for the counterparty
// fee before it may time the case out, in seconds.
func (e *Engine) SetFeeTimeout(timeout int64) { e.feeTimeout = timeout }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(escrowEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) ready() error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if e.arb == nil {
		return errNilArbitrator
	}
	return nil
}

func ensureAccount(acc *types.Account) *types.Account {
	if acc == nil {
		return types.NewAccount()
	}
	if acc.Balance == nil {
		acc.Balance = big.NewInt(0)
	}
	return acc
}

// ensureBalance verifies an account can cover amount without moving funds.
func (e *Engine) ensureBalance(addr [20]byte, amount *big.Int) error {
	acc, err := e.state.GetAccount(addr)
	if err != nil {
		return err
	}
	if ensureAccount(acc).Balance.Cmp(amount) < 0 {
		return fmt.Errorf("escrow: insufficient balance")
	}
	return nil
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("escrow: negative transfer amount")
	}
	fromAcc, err := e.state.GetAccount(from)
	if err != nil {
		return err
	}
	toAcc, err := e.state.GetAccount(to)
	if err != nil {
		return err
	}
	fromAcc = ensureAccount(fromAcc)
	toAcc = ensureAccount(toAcc)
	if fromAcc.Balance.Cmp(amt) < 0 {
		return fmt.Errorf("escrow: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

// verify checks the caller-supplied record against the stored commitment.
func (e *Engine) verify(id uint64, tx *Transaction) error {
	stored, ok := e.state.EscrowCommitmentGet(id)
	if !ok {
		return errUnknownCase
	}
	if tx == nil || tx.ID != id {
		return errHashMismatch
	}
	hash, err := HashTransaction(tx)
	if err != nil {
		return err
	}
	if hash != stored {
		return errHashMismatch
	}
	return nil
}

// commit stores the commitment of the updated record and hands the record
// back to callers through the state-updated event.
func (e *Engine) commit(tx *Transaction) error {
	hash, err := HashTransaction(tx)
	if err != nil {
		return err
	}
	if err := e.state.EscrowCommitmentPut(tx.ID, hash); err != nil {
		return err
	}
	e.emit(NewStateUpdatedEvent(tx))
	return nil
}

// CreateTransaction opens a new escrow: the sender stakes amount in favour
// of the receiver, reclaimable through the dispute path until the deadline
// elapses. Returns the record whose commitment is now stored.
func (e *Engine) CreateTransaction(sender, receiver [20]byte, amount *big.Int, timeout int64, metaURI string) (*Transaction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("escrow: payment timeout must be positive")
	}
	if err := e.transfer(sender, e.vault, amt); err != nil {
		return nil, err
	}
	id, err := e.state.EscrowNextID()
	if err != nil {
		return nil, err
	}
	now := e.now()
	tx := &Transaction{
		ID:              id,
		Sender:          sender,
		Receiver:        receiver,
		Amount:          amt,
		Deadline:        now + timeout,
		SenderFee:       big.NewInt(0),
		ReceiverFee:     big.NewInt(0),
		LastInteraction: now,
		Status:          StatusNoDispute,
	}
	e.emit(NewMetaEvidenceEvent(id, metaURI))
	if err := e.commit(tx); err != nil {
		return nil, err
	}
	return tx, nil
}

// Pay releases part of the stake to the receiver. Only the sender may call
// it and only while no dispute is underway.
func (e *Engine) Pay(id uint64, tx *Transaction, caller [20]byte, amount *big.Int) (*Transaction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.verify(id, tx); err != nil {
		return nil, err
	}
	updated := tx.Clone()
	if caller != updated.Sender {
		return nil, fmt.Errorf("escrow: only the sender may pay")
	}
	if updated.Status != StatusNoDispute {
		return nil, fmt.Errorf("escrow: cannot pay in status %d", updated.Status)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 || amt.Cmp(updated.Amount) > 0 {
		return nil, fmt.Errorf("escrow: payment exceeds the staked amount")
	}
	updated.Amount = new(big.Int).Sub(updated.Amount, amt)
	if err := e.transfer(e.vault, updated.Receiver, amt); err != nil {
		return nil, err
	}
	e.emit(NewPaymentEvent(id, PartySender, amt))
	if err := e.commit(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// Reimburse returns part of the stake to the sender. Only the receiver may
// call it and only while no dispute is underway.
func (e *Engine) Reimburse(id uint64, tx *Transaction, caller [20]byte, amount *big.Int) (*Transaction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.verify(id, tx); err != nil {
		return nil, err
	}
	updated := tx.Clone()
	if caller != updated.Receiver {
		return nil, fmt.Errorf("escrow: only the receiver may reimburse")
	}
	if updated.Status != StatusNoDispute {
		return nil, fmt.Errorf("escrow: cannot reimburse in status %d", updated.Status)
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 || amt.Cmp(updated.Amount) > 0 {
		return nil, fmt.Errorf("escrow: reimbursement exceeds the staked amount")
	}
	updated.Amount = new(big.Int).Sub(updated.Amount, amt)
	if err := e.transfer(e.vault, updated.Sender, amt); err != nil {
		return nil, err
	}
	e.emit(NewPaymentEvent(id, PartyReceiver, amt))
	if err := e.commit(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// ExecuteTransaction pays the remaining stake to the receiver once the
// deadline has elapsed without a dispute. Anyone may invoke it.
func (e *Engine) ExecuteTransaction(id uint64, tx *Transaction) (*Transaction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.verify(id, tx); err != nil {
		return nil, err
	}
	updated := tx.Clone()
	if updated.Status != StatusNoDispute {
		return nil, fmt.Errorf("escrow: cannot execute in status %d", updated.Status)
	}
	if e.now() < updated.Deadline {
		return nil, fmt.Errorf("escrow: deadline has not passed")
	}
	amt := updated.Amount
	updated.Amount = big.NewInt(0)
	updated.Status = StatusResolved
	if err := e.transfer(e.vault, updated.Receiver, amt); err != nil {
		return nil, err
	}
	if err := e.commit(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// PayArbitrationFeeBySender accepts the sender's arbitration fee. Excess
// over the arbitration cost never leaves the sender's account; when the
// receiver has already paid, the dispute is created in the same call.
func (e *Engine) PayArbitrationFeeBySender(id uint64, tx *Transaction, payment *big.Int) (*Transaction, error) {
	return e.payArbitrationFee(id, tx, PartySender, payment)
}

// PayArbitrationFeeByReceiver accepts the receiver's arbitration fee.
func (e *Engine) PayArbitrationFeeByReceiver(id uint64, tx *Transaction, payment *big.Int) (*Transaction, error) {
	return e.payArbitrationFee(id, tx, PartyReceiver, payment)
}

func (e *Engine) payArbitrationFee(id uint64, tx *Transaction, side Party, payment *big.Int) (*Transaction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.verify(id, tx); err != nil {
		return nil, err
	}
	updated := tx.Clone()
	if updated.Status >= StatusOngoing {
		return nil, fmt.Errorf("escrow: dispute has already been created")
	}
	cost := e.arb.ArbitrationCost(e.extraData)
	paid, other := updated.SenderFee, updated.ReceiverFee
	payer, counterparty := updated.Sender, PartyReceiver
	if side == PartyReceiver {
		paid, other = updated.ReceiverFee, updated.SenderFee
		payer, counterparty = updated.Receiver, PartySender
	}
	if paid.Cmp(cost) >= 0 {
		return nil, fmt.Errorf("escrow: %s fee has already been paid", side)
	}
	due := new(big.Int).Sub(cost, paid)
	pay := cloneBigInt(payment)
	if pay.Cmp(due) < 0 {
		return nil, fmt.Errorf("escrow: the %s fee must cover arbitration costs", side)
	}
	// The excess over the outstanding fee stays with the payer; only the
	// required amount is drawn from the account.
	if err := e.ensureBalance(payer, due); err != nil {
		return nil, err
	}
	updated.LastInteraction = e.now()
	if other.Cmp(cost) < 0 {
		if err := e.transfer(payer, e.vault, due); err != nil {
			return nil, err
		}
		paid.Add(paid, due)
		if side == PartySender {
			updated.Status = StatusWaitingReceiver
		} else {
			updated.Status = StatusWaitingSender
		}
		e.emit(NewFeeRequiredEvent(id, counterparty))
	} else {
		// The arbitrator accepts the dispute before any funds move, so a
		// rejected dispute leaves the payer's account untouched.
		disputeID, err := e.arb.CreateDispute(e, uint64(PartyReceiver), e.extraData, cost)
		if err != nil {
			return nil, err
		}
		if err := e.transfer(payer, e.vault, due); err != nil {
			return nil, err
		}
		paid.Add(paid, due)
		if err := e.openDispute(updated, disputeID, cost); err != nil {
			return nil, err
		}
	}
	if err := e.commit(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func (e *Engine) openDispute(tx *Transaction, disputeID uint64, cost *big.Int) error {
	if err := e.transfer(e.vault, e.arbAccount, cost); err != nil {
		return err
	}
	if err := e.state.EscrowDisputePut(disputeID, tx.ID); err != nil {
		return err
	}
	if err := e.state.EscrowRoundsPut(tx.ID, appeal.NewLedger()); err != nil {
		return err
	}
	tx.DisputeID = disputeID
	tx.HasDispute = true
	tx.Status = StatusOngoing
	e.emit(NewDisputeCreatedEvent(tx.ID, disputeID))
	return nil
}

// TimeOutBySender resolves the case in the sender's favour when the
// receiver failed to match the sender's arbitration fee in time.
func (e *Engine) TimeOutBySender(id uint64, tx *Transaction) (*Transaction, error) {
	return e.timeOut(id, tx, PartySender)
}

// TimeOutByReceiver resolves the case in the receiver's favour when the
// sender failed to match the receiver's arbitration fee in time.
func (e *Engine) TimeOutByReceiver(id uint64, tx *Transaction) (*Transaction, error) {
	return e.timeOut(id, tx, PartyReceiver)
}

func (e *Engine) timeOut(id uint64, tx *Transaction, side Party) (*Transaction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.verify(id, tx); err != nil {
		return nil, err
	}
	updated := tx.Clone()
	waiting := StatusWaitingReceiver
	if side == PartyReceiver {
		waiting = StatusWaitingSender
	}
	if updated.Status != waiting {
		return nil, fmt.Errorf("escrow: transaction is not waiting on the %s", counterpartyOf(side))
	}
	if e.now()-updated.LastInteraction < e.feeTimeout {
		return nil, fmt.Errorf("escrow: timeout has not passed yet")
	}
	if err := e.settle(updated, side.Outcome(), nil); err != nil {
		return nil, err
	}
	if err := e.commit(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

func counterpartyOf(p Party) Party {
	if p == PartySender {
		return PartyReceiver
	}
	return PartySender
}

// SubmitEvidence publishes a link to evidence for the adjudicator. Only the
// parties may submit and only until the case is resolved.
func (e *Engine) SubmitEvidence(id uint64, tx *Transaction, caller [20]byte, uri string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if err := e.verify(id, tx); err != nil {
		return err
	}
	if caller != tx.Sender && caller != tx.Receiver {
		return fmt.Errorf("escrow: the caller must be the sender or the receiver")
	}
	if tx.Status == StatusResolved {
		return fmt.Errorf("escrow: must not send evidence if the dispute is resolved")
	}
	e.emit(NewEvidenceEvent(id, caller, uuid.NewString(), uri))
	return nil
}

// Rule records the adjudicator's final ruling for a dispute. If exactly one
// side fully crowdfunded the last round while the other never completed,
// the ruling flips to the funded side. Funds only move on ExecuteRuling.
func (e *Engine) Rule(disputeID uint64, ruling arbitration.Outcome) error {
	if err := e.ready(); err != nil {
		return err
	}
	id, ok := e.state.EscrowDisputeGet(disputeID)
	if !ok {
		return fmt.Errorf("escrow: unknown dispute %d", disputeID)
	}
	final := PartyFromOutcome(ruling)
	if ledger, ok := e.state.EscrowRoundsGet(id); ok {
		if funded := ledger.Current().FundedOutcome(); funded != arbitration.OutcomeNone {
			final = PartyFromOutcome(funded)
		}
	}
	if err := e.state.EscrowRulingPut(id, final.Outcome()); err != nil {
		return err
	}
	e.emit(NewRulingEvent(disputeID, final))
	return nil
}

// ExecuteRuling settles a ruled case: the winner receives the stake plus its
// arbitration fee, or both parties split the pool when there is no winner.
// Anyone may invoke it.
func (e *Engine) ExecuteRuling(id uint64, tx *Transaction) (*Transaction, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	if err := e.verify(id, tx); err != nil {
		return nil, err
	}
	updated := tx.Clone()
	if updated.Status != StatusOngoing {
		return nil, errDisputeNotOngoing
	}
	ruling, ok := e.state.EscrowRulingGet(id)
	if !ok {
		return nil, errNotRuled
	}
	cost := e.arb.ArbitrationCost(e.extraData)
	if err := e.settle(updated, ruling, cost); err != nil {
		return nil, err
	}
	if err := e.commit(updated); err != nil {
		return nil, err
	}
	return updated, nil
}

// settle drains the case: winner takes stake plus own fee; with no winner
// the pool net of the consumed arbitration cost is split evenly. A nil cost
// means no dispute was ever created (timeout path).
func (e *Engine) settle(tx *Transaction, ruling arbitration.Outcome, cost *big.Int) error {
	amount := tx.Amount
	senderFee, receiverFee := tx.SenderFee, tx.ReceiverFee
	tx.Amount = big.NewInt(0)
	tx.SenderFee = big.NewInt(0)
	tx.ReceiverFee = big.NewInt(0)
	tx.Status = StatusResolved
	switch PartyFromOutcome(ruling) {
	case PartySender:
		return e.transfer(e.vault, tx.Sender, new(big.Int).Add(amount, senderFee))
	case PartyReceiver:
		return e.transfer(e.vault, tx.Receiver, new(big.Int).Add(amount, receiverFee))
	default:
		pool := new(big.Int).Add(amount, senderFee)
		pool.Add(pool, receiverFee)
		if cost != nil {
			pool.Sub(pool, cost)
		}
		half := new(big.Int).Div(pool, big.NewInt(2))
		if err := e.transfer(e.vault, tx.Sender, half); err != nil {
			return err
		}
		return e.transfer(e.vault, tx.Receiver, half)
	}
}
