package quiz

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
	errNilState        = errors.New("quiz engine: state not configured")
	errNilArbitrator   = errors.New("quiz engine: arbitrator not configured")
	ErrUnknownQuestion = errors.New("quiz: unknown question")
	// ErrAlreadyDisputed rejects a second challenge against the same answer.
	ErrAlreadyDisputed = errors.New("quiz: item already disputed")
	errNotDisputed     = errors.New("quiz: question is not disputed")
	errNotResolved     = errors.New("quiz: dispute not resolved")
)

// engineState is the durable backend of the quiz engine. Unlike the escrow
// engine, question records are stored whole.
type engineState interface {
	QuizNextID() (uint64, error)
	QuizCount() uint64
	QuizPut(q *Question) error
	QuizGet(id uint64) (*Question, bool)
	QuizRoundsPut(id uint64, ledger *appeal.Ledger) error
	QuizRoundsGet(id uint64) (*appeal.Ledger, bool)
	QuizDisputePut(disputeID, id uint64) error
	QuizDisputeGet(disputeID uint64) (uint64, bool)
	GetAccount(addr [20]byte) (*types.Account, error)
	PutAccount(addr [20]byte, account *types.Account) error
}

type quizEvent struct {
	evt *types.Event
}

func (e quizEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e quizEvent) Event() *types.Event { return e.evt }

// Engine runs the open-answer escrow. A host stakes a reward behind a
// question; a guest answers with a deposit; the host may challenge the
// answer with its own candidate, after which the arbitrator picks among the
// answer space and the crowdfunded appeal machinery applies unchanged.
type Engine struct {
	state      engineState
	arb        arbitration.Arbitrator
	arbAccount [20]byte
	vault      [20]byte
	extraData  []byte
	policy     appeal.Policy
	emitter    events.Emitter
	nowFn      func() int64
}

// NewEngine creates a quiz engine with a no-op emitter.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

func (e *Engine) SetState(state engineState)               { e.state = state }
func (e *Engine) SetArbitrator(arb arbitration.Arbitrator) { e.arb = arb }
func (e *Engine) SetArbitratorAccount(addr [20]byte)       { e.arbAccount = addr }
func (e *Engine) SetVault(addr [20]byte)                   { e.vault = addr }
func (e *Engine) SetExtraData(data []byte)                 { e.extraData = append([]byte(nil), data...) }
func (e *Engine) SetPolicy(p appeal.Policy)                { e.policy = p }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op
// implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source, primarily for tests.
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
	e.emitter.Emit(quizEvent{evt: event})
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
		return fmt.Errorf("quiz: insufficient balance")
	}
	return nil
}

func (e *Engine) transfer(from, to [20]byte, amount *big.Int) error {
	amt := cloneBigInt(amount)
	if amt.Sign() == 0 {
		return nil
	}
	if amt.Sign() < 0 {
		return fmt.Errorf("quiz: negative transfer amount")
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
		return fmt.Errorf("quiz: insufficient balance")
	}
	fromAcc.Balance = new(big.Int).Sub(fromAcc.Balance, amt)
	toAcc.Balance = new(big.Int).Add(toAcc.Balance, amt)
	if err := e.state.PutAccount(from, fromAcc); err != nil {
		return err
	}
	return e.state.PutAccount(to, toAcc)
}

func (e *Engine) load(id uint64) (*Question, error) {
	q, ok := e.state.QuizGet(id)
	if !ok {
		return nil, ErrUnknownQuestion
	}
	return q, nil
}

func (e *Engine) store(q *Question) error {
	sanitized, err := sanitizeQuestion(q)
	if err != nil {
		return err
	}
	return e.state.QuizPut(sanitized)
}

// CreateQuestion opens a question: the host stakes amount, claimable by
// whoever answers unchallenged (or wins the challenge) before the deadline.
func (e *Engine) CreateQuestion(host [20]byte, amount *big.Int, timeout int64, metaURI string) (*Question, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	amt := cloneBigInt(amount)
	if amt.Sign() <= 0 {
		return nil, fmt.Errorf("quiz: amount must be positive")
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("quiz: answer timeout must be positive")
	}
	if err := e.transfer(host, e.vault, amt); err != nil {
		return nil, err
	}
	id, err := e.state.QuizNextID()
	if err != nil {
		return nil, err
	}
	q := &Question{
		ID:       id,
		Host:     host,
		Amount:   amt,
		HostFee:  big.NewInt(0),
		GuestFee: big.NewInt(0),
		Deadline: e.now() + timeout,
		Status:   StatusCreated,
	}
	if err := e.store(q); err != nil {
		return nil, err
	}
	e.emit(NewQuestionCreatedEvent(q, metaURI))
	return q, nil
}

// SubmitAnswer records the guest's candidate answer, backed by a deposit
// covering the arbitration fee. Only the fee amount is drawn; the excess
// never leaves the guest's account. One answer per question.
func (e *Engine) SubmitAnswer(id uint64, guest [20]byte, answer arbitration.Outcome, deposit *big.Int) (*Question, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	q, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if q.Status != StatusCreated {
		return nil, fmt.Errorf("quiz: question has already been answered")
	}
	if e.now() >= q.Deadline {
		return nil, fmt.Errorf("quiz: answer deadline has passed")
	}
	if answer == arbitration.OutcomeNone {
		return nil, fmt.Errorf("quiz: answer must not be the reserved zero value")
	}
	cost := e.arb.ArbitrationCost(e.extraData)
	if cloneBigInt(deposit).Cmp(cost) < 0 {
		return nil, fmt.Errorf("quiz: the deposit must cover arbitration costs")
	}
	if err := e.transfer(guest, e.vault, cost); err != nil {
		return nil, err
	}
	q.Guest = guest
	q.GuestAnswer = answer
	q.GuestFee = cloneBigInt(cost)
	q.Status = StatusAnswered
	if err := e.store(q); err != nil {
		return nil, err
	}
	e.emit(NewAnswerSubmittedEvent(id, guest, answer))
	return q, nil
}

// ChallengeAnswer disputes the guest's answer: the host names its own
// candidate, pays the arbitration fee, and a dispute over the answer space
// is created immediately.
func (e *Engine) ChallengeAnswer(id uint64, answer arbitration.Outcome, evidenceURI string, deposit *big.Int) (*Question, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	q, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if q.Status >= StatusDisputed {
		return nil, ErrAlreadyDisputed
	}
	if q.Status != StatusAnswered {
		return nil, fmt.Errorf("quiz: no answer to challenge")
	}
	if answer == arbitration.OutcomeNone {
		return nil, fmt.Errorf("quiz: answer must not be the reserved zero value")
	}
	if answer == q.GuestAnswer {
		return nil, fmt.Errorf("quiz: cannot challenge with the same answer")
	}
	cost := e.arb.ArbitrationCost(e.extraData)
	if cloneBigInt(deposit).Cmp(cost) < 0 {
		return nil, fmt.Errorf("quiz: the deposit must cover arbitration costs")
	}
	if err := e.ensureBalance(q.Host, cost); err != nil {
		return nil, err
	}
	// The arbitrator accepts the dispute before any funds move, so a
	// rejected dispute leaves the host's account untouched.
	disputeID, err := e.arb.CreateDispute(e, uint64(max(answer, q.GuestAnswer)), e.extraData, cost)
	if err != nil {
		return nil, err
	}
	if err := e.transfer(q.Host, e.vault, cost); err != nil {
		return nil, err
	}
	if err := e.transfer(e.vault, e.arbAccount, cost); err != nil {
		return nil, err
	}
	if err := e.state.QuizDisputePut(disputeID, id); err != nil {
		return nil, err
	}
	if err := e.state.QuizRoundsPut(id, appeal.NewLedger()); err != nil {
		return nil, err
	}
	q.HostAnswer = answer
	q.HostFee = cloneBigInt(cost)
	q.DisputeID = disputeID
	q.Status = StatusDisputed
	if err := e.store(q); err != nil {
		return nil, err
	}
	e.emit(NewAnswerChallengedEvent(id, answer))
	e.emit(NewDisputeCreatedEvent(id, disputeID))
	if evidenceURI != "" {
		e.emit(NewEvidenceEvent(id, q.Host, uuid.NewString(), evidenceURI))
	}
	return q, nil
}

// SubmitEvidence publishes evidence for the adjudicator. Anyone may submit
// until the question is resolved.
func (e *Engine) SubmitEvidence(id uint64, submitter [20]byte, uri string) error {
	if err := e.ready(); err != nil {
		return err
	}
	q, err := e.load(id)
	if err != nil {
		return err
	}
	if q.Status == StatusResolved {
		return fmt.Errorf("quiz: must not send evidence if the dispute is resolved")
	}
	e.emit(NewEvidenceEvent(id, submitter, uuid.NewString(), uri))
	return nil
}

// Execute closes a question that never reached arbitration once the
// deadline has elapsed: an unchallenged answer claims the stake for the
// guest, an unanswered question returns it to the host.
func (e *Engine) Execute(id uint64) (*Question, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	q, err := e.load(id)
	if err != nil {
		return nil, err
	}
	if q.Status >= StatusDisputed {
		return nil, fmt.Errorf("quiz: cannot execute in status %d", q.Status)
	}
	if e.now() < q.Deadline {
		return nil, fmt.Errorf("quiz: deadline has not passed")
	}
	amount, guestFee := q.Amount, q.GuestFee
	answered := q.Status == StatusAnswered
	q.Amount = big.NewInt(0)
	q.GuestFee = big.NewInt(0)
	q.Status = StatusResolved
	if answered {
		q.Ruling = q.GuestAnswer
		if err := e.transfer(e.vault, q.Guest, new(big.Int).Add(amount, guestFee)); err != nil {
			return nil, err
		}
	} else if err := e.transfer(e.vault, q.Host, amount); err != nil {
		return nil, err
	}
	if err := e.store(q); err != nil {
		return nil, err
	}
	return q, nil
}

// FundAppeal crowdfunds one answer's appeal fee for the current round, under
// the same window and multiplier rules as the binary escrow. Any nonzero
// answer may be backed, not just the two the parties named.
func (e *Engine) FundAppeal(id uint64, answer arbitration.Outcome, funder [20]byte, amount *big.Int) error {
	if err := e.ready(); err != nil {
		return err
	}
	q, err := e.load(id)
	if err != nil {
		return err
	}
	if q.Status != StatusDisputed {
		return errNotDisputed
	}
	if answer == arbitration.OutcomeNone {
		return fmt.Errorf("quiz: answer must not be the reserved zero value")
	}
	ledger, ok := e.state.QuizRoundsGet(id)
	if !ok {
		return errNotDisputed
	}
	start, end, err := e.arb.AppealPeriod(q.DisputeID)
	if err != nil {
		return err
	}
	leader, err := e.arb.CurrentRuling(q.DisputeID)
	if err != nil {
		return err
	}
	if err := e.policy.CheckWindow(e.now(), start, end, answer, leader); err != nil {
		return err
	}
	round := ledger.Current()
	if round.IsFunded(answer) {
		return appeal.ErrAlreadyFunded
	}
	cost := e.arb.AppealCost(q.DisputeID, e.extraData)
	goal := e.policy.RequiredFee(cost, answer, leader)
	accepted, _, completed := round.Fund(funder, answer, cloneBigInt(amount), goal)
	if err := e.ensureBalance(funder, accepted); err != nil {
		return err
	}
	appealing := completed && len(round.FundedOutcomes) > 1
	if appealing {
		// The arbitrator accepts the appeal before any funds move, so a
		// rejected appeal leaves accounts and the persisted ledger untouched.
		if err := e.arb.Appeal(q.DisputeID, e.extraData, cost); err != nil {
			return err
		}
	}
	if err := e.transfer(funder, e.vault, accepted); err != nil {
		return err
	}
	roundIdx := ledger.Len() - 1
	e.emit(NewAppealContributionEvent(id, answer, funder, roundIdx, accepted))
	if completed {
		e.emit(NewAppealFeePaidEvent(id, answer, roundIdx))
	}
	if appealing {
		if err := e.transfer(e.vault, e.arbAccount, cost); err != nil {
			return err
		}
		round.FinalizeAppeal(cost)
		ledger.Append()
	}
	return e.state.QuizRoundsPut(id, ledger)
}

// Rule records the final ruling and settles the question in the same call:
// the host's answer pays the host, the guest's pays the guest, anything else
// splits the pool. A single fully crowdfunded answer in the last round
// overrides the adjudicator.
func (e *Engine) Rule(disputeID uint64, ruling arbitration.Outcome) error {
	if err := e.ready(); err != nil {
		return err
	}
	id, ok := e.state.QuizDisputeGet(disputeID)
	if !ok {
		return fmt.Errorf("quiz: unknown dispute %d", disputeID)
	}
	q, err := e.load(id)
	if err != nil {
		return err
	}
	if q.Status != StatusDisputed {
		return errNotDisputed
	}
	final := ruling
	if ledger, ok := e.state.QuizRoundsGet(id); ok {
		if funded := ledger.Current().FundedOutcome(); funded != arbitration.OutcomeNone {
			final = funded
		}
	}
	cost := e.arb.ArbitrationCost(e.extraData)
	amount, hostFee, guestFee := q.Amount, q.HostFee, q.GuestFee
	q.Amount = big.NewInt(0)
	q.HostFee = big.NewInt(0)
	q.GuestFee = big.NewInt(0)
	q.Ruling = final
	q.Status = StatusResolved
	// The losing deposit was consumed by the arbitration cost, so the winner
	// collects the stake plus its own deposit only.
	switch final {
	case q.HostAnswer:
		if err := e.transfer(e.vault, q.Host, new(big.Int).Add(amount, hostFee)); err != nil {
			return err
		}
	case q.GuestAnswer:
		if err := e.transfer(e.vault, q.Guest, new(big.Int).Add(amount, guestFee)); err != nil {
			return err
		}
	default:
		pool := new(big.Int).Add(amount, hostFee)
		pool.Add(pool, guestFee)
		pool.Sub(pool, cost)
		half := new(big.Int).Div(pool, big.NewInt(2))
		if err := e.transfer(e.vault, q.Host, half); err != nil {
			return err
		}
		if err := e.transfer(e.vault, q.Guest, half); err != nil {
			return err
		}
	}
	if err := e.store(q); err != nil {
		return err
	}
	e.emit(NewRulingEvent(disputeID, final))
	return nil
}

func (e *Engine) finalRuling(q *Question) (arbitration.Outcome, error) {
	if q.Status != StatusResolved {
		return arbitration.OutcomeNone, errNotResolved
	}
	return q.Ruling, nil
}

// WithdrawFeesAndRewards pays a beneficiary its fee rewards for one answer
// in one round. The covered ledger cell is zeroed.
func (e *Engine) WithdrawFeesAndRewards(id uint64, beneficiary [20]byte, answer arbitration.Outcome, round int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	q, err := e.load(id)
	if err != nil {
		return nil, err
	}
	ruling, err := e.finalRuling(q)
	if err != nil {
		return nil, err
	}
	ledger, ok := e.state.QuizRoundsGet(id)
	if !ok {
		return nil, ErrUnknownQuestion
	}
	r, ok := ledger.Round(round)
	if !ok {
		return nil, fmt.Errorf("quiz: round %d out of range", round)
	}
	reward := r.Withdraw(ruling, beneficiary, answer)
	// Pay before persisting the drained ledger: a failed payout must leave
	// the stored cells intact.
	if err := e.transfer(e.vault, beneficiary, reward); err != nil {
		return nil, err
	}
	if err := e.state.QuizRoundsPut(id, ledger); err != nil {
		return nil, err
	}
	return reward, nil
}

// WithdrawMultipleRulings withdraws the rewards of several candidate
// answers in one round with a single call.
func (e *Engine) WithdrawMultipleRulings(id uint64, beneficiary [20]byte, answers []arbitration.Outcome, round int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	q, err := e.load(id)
	if err != nil {
		return nil, err
	}
	ruling, err := e.finalRuling(q)
	if err != nil {
		return nil, err
	}
	ledger, ok := e.state.QuizRoundsGet(id)
	if !ok {
		return nil, ErrUnknownQuestion
	}
	r, ok := ledger.Round(round)
	if !ok {
		return nil, fmt.Errorf("quiz: round %d out of range", round)
	}
	total := big.NewInt(0)
	for _, answer := range answers {
		total.Add(total, r.Withdraw(ruling, beneficiary, answer))
	}
	if err := e.transfer(e.vault, beneficiary, total); err != nil {
		return nil, err
	}
	if err := e.state.QuizRoundsPut(id, ledger); err != nil {
		return nil, err
	}
	return total, nil
}

// BatchRoundWithdraw withdraws one answer's rewards over the half-open
// round range [cursor, cursor+count); a zero count extends the range to the
// last round.
func (e *Engine) BatchRoundWithdraw(id uint64, beneficiary [20]byte, answer arbitration.Outcome, cursor, count int) (*big.Int, error) {
	if err := e.ready(); err != nil {
		return nil, err
	}
	q, err := e.load(id)
	if err != nil {
		return nil, err
	}
	ruling, err := e.finalRuling(q)
	if err != nil {
		return nil, err
	}
	ledger, ok := e.state.QuizRoundsGet(id)
	if !ok {
		return nil, ErrUnknownQuestion
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
		total.Add(total, r.Withdraw(ruling, beneficiary, answer))
	}
	if err := e.transfer(e.vault, beneficiary, total); err != nil {
		return nil, err
	}
	if err := e.state.QuizRoundsPut(id, ledger); err != nil {
		return nil, err
	}
	return total, nil
}

// TotalWithdrawableAmount totals what a beneficiary can still collect for
// one answer across every round. Zero while the dispute is unresolved.
func (e *Engine) TotalWithdrawableAmount(id uint64, beneficiary [20]byte, answer arbitration.Outcome) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	q, err := e.load(id)
	if err != nil {
		return nil, err
	}
	total := big.NewInt(0)
	ruling, err := e.finalRuling(q)
	if err != nil {
		return total, nil
	}
	ledger, ok := e.state.QuizRoundsGet(id)
	if !ok {
		return total, nil
	}
	for _, round := range ledger.Rounds {
		total.Add(total, round.Reward(ruling, beneficiary, answer))
	}
	return total, nil
}

// GetQuestion returns the stored record of a question.
func (e *Engine) GetQuestion(id uint64) (*Question, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	return e.load(id)
}

// GetRoundInfo returns the funding ledger of one appeal round.
func (e *Engine) GetRoundInfo(id uint64, round int) (*appeal.Round, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	ledger, ok := e.state.QuizRoundsGet(id)
	if !ok {
		return nil, ErrUnknownQuestion
	}
	r, ok := ledger.Round(round)
	if !ok {
		return nil, fmt.Errorf("quiz: round %d out of range", round)
	}
	return r, nil
}

// GetContributions returns a contributor's stake on every answer that
// received funding in one round.
func (e *Engine) GetContributions(id uint64, round int, contributor [20]byte) (map[arbitration.Outcome]*big.Int, error) {
	r, err := e.GetRoundInfo(id, round)
	if err != nil {
		return nil, err
	}
	cells := make(map[arbitration.Outcome]*big.Int)
	for answer := range r.PaidFees {
		cells[answer] = r.Contribution(contributor, answer)
	}
	return cells, nil
}

// GetNumberOfRounds returns how many appeal rounds a question has, zero
// before any challenge.
func (e *Engine) GetNumberOfRounds(id uint64) int {
	if e == nil || e.state == nil {
		return 0
	}
	ledger, ok := e.state.QuizRoundsGet(id)
	if !ok {
		return 0
	}
	return ledger.Len()
}

// QuestionCount returns how many questions have been created.
func (e *Engine) QuestionCount() uint64 {
	if e == nil || e.state == nil {
		return 0
	}
	return e.state.QuizCount()
}
