package state

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"arbitrable/core/types"
	"arbitrable/native/appeal"
	"arbitrable/native/arbitration"
	"arbitrable/native/quiz"
	"arbitrable/storage"
)

const (
	keyEscrowSeq     = "escrow:seq"
	keyEscrowHash    = "escrow:hash:"
	keyEscrowRounds  = "escrow:rounds:"
	keyEscrowDispute = "escrow:dispute:"
	keyEscrowRuling  = "escrow:ruling:"
	keyQuizSeq       = "quiz:seq"
	keyQuizQuestion  = "quiz:q:"
	keyQuizRounds    = "quiz:rounds:"
	keyQuizDispute   = "quiz:dispute:"
	keyAccount       = "acct:"
)

// KV backs both engines with a single key-value database. All values are
// JSON documents except counters and raw hashes; big integers travel as
// decimal strings so precision survives the round trip.
type KV struct {
	mu sync.Mutex
	db storage.Database
}

// NewKV wraps a database in the engine-facing state API.
func NewKV(db storage.Database) *KV {
	return &KV{db: db}
}

func idKey(prefix string, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%d", prefix, id))
}

func (kv *KV) nextID(key string) (uint64, error) {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	var next uint64 = 1
	if raw, err := kv.db.Get([]byte(key)); err == nil && len(raw) == 8 {
		next = binary.BigEndian.Uint64(raw) + 1
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, next)
	if err := kv.db.Put([]byte(key), buf); err != nil {
		return 0, err
	}
	return next, nil
}

func (kv *KV) count(key string) uint64 {
	raw, err := kv.db.Get([]byte(key))
	if err != nil || len(raw) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(raw)
}

func (kv *KV) putJSON(key []byte, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return kv.db.Put(key, raw)
}

func (kv *KV) getJSON(key []byte, v any) bool {
	raw, err := kv.db.Get(key)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, v) == nil
}

// EscrowNextID allocates the next 1-based escrow transaction id.
func (kv *KV) EscrowNextID() (uint64, error) { return kv.nextID(keyEscrowSeq) }

// EscrowCount returns how many escrow transactions have been created.
func (kv *KV) EscrowCount() uint64 { return kv.count(keyEscrowSeq) }

// EscrowCommitmentPut stores the commitment hash of a case record.
func (kv *KV) EscrowCommitmentPut(id uint64, hash [32]byte) error {
	return kv.db.Put(idKey(keyEscrowHash, id), hash[:])
}

// EscrowCommitmentGet loads the commitment hash of a case record.
func (kv *KV) EscrowCommitmentGet(id uint64) ([32]byte, bool) {
	var hash [32]byte
	raw, err := kv.db.Get(idKey(keyEscrowHash, id))
	if err != nil || len(raw) != len(hash) {
		return hash, false
	}
	copy(hash[:], raw)
	return hash, true
}

func (kv *KV) EscrowRoundsPut(id uint64, ledger *appeal.Ledger) error {
	return kv.putJSON(idKey(keyEscrowRounds, id), encodeLedger(ledger))
}

func (kv *KV) EscrowRoundsGet(id uint64) (*appeal.Ledger, bool) {
	var stored storedLedger
	if !kv.getJSON(idKey(keyEscrowRounds, id), &stored) {
		return nil, false
	}
	ledger, err := stored.decode()
	if err != nil {
		return nil, false
	}
	return ledger, true
}

func (kv *KV) EscrowDisputePut(disputeID, id uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return kv.db.Put(idKey(keyEscrowDispute, disputeID), buf)
}

func (kv *KV) EscrowDisputeGet(disputeID uint64) (uint64, bool) {
	raw, err := kv.db.Get(idKey(keyEscrowDispute, disputeID))
	if err != nil || len(raw) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(raw), true
}

func (kv *KV) EscrowRulingPut(id uint64, ruling arbitration.Outcome) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(ruling))
	return kv.db.Put(idKey(keyEscrowRuling, id), buf)
}

func (kv *KV) EscrowRulingGet(id uint64) (arbitration.Outcome, bool) {
	raw, err := kv.db.Get(idKey(keyEscrowRuling, id))
	if err != nil || len(raw) != 8 {
		return arbitration.OutcomeNone, false
	}
	return arbitration.Outcome(binary.BigEndian.Uint64(raw)), true
}

// QuizNextID allocates the next 1-based question id.
func (kv *KV) QuizNextID() (uint64, error) { return kv.nextID(keyQuizSeq) }

// QuizCount returns how many questions have been created.
func (kv *KV) QuizCount() uint64 { return kv.count(keyQuizSeq) }

func (kv *KV) QuizPut(q *quiz.Question) error {
	return kv.putJSON(idKey(keyQuizQuestion, q.ID), encodeQuestion(q))
}

func (kv *KV) QuizGet(id uint64) (*quiz.Question, bool) {
	var stored storedQuestion
	if !kv.getJSON(idKey(keyQuizQuestion, id), &stored) {
		return nil, false
	}
	q, err := stored.decode()
	if err != nil {
		return nil, false
	}
	return q, true
}

func (kv *KV) QuizRoundsPut(id uint64, ledger *appeal.Ledger) error {
	return kv.putJSON(idKey(keyQuizRounds, id), encodeLedger(ledger))
}

func (kv *KV) QuizRoundsGet(id uint64) (*appeal.Ledger, bool) {
	var stored storedLedger
	if !kv.getJSON(idKey(keyQuizRounds, id), &stored) {
		return nil, false
	}
	ledger, err := stored.decode()
	if err != nil {
		return nil, false
	}
	return ledger, true
}

func (kv *KV) QuizDisputePut(disputeID, id uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, id)
	return kv.db.Put(idKey(keyQuizDispute, disputeID), buf)
}

func (kv *KV) QuizDisputeGet(disputeID uint64) (uint64, bool) {
	raw, err := kv.db.Get(idKey(keyQuizDispute, disputeID))
	if err != nil || len(raw) != 8 {
		return 0, false
	}
	return binary.BigEndian.Uint64(raw), true
}

// GetAccount loads an account, returning a fresh zero-balance account for
// unknown addresses.
func (kv *KV) GetAccount(addr [20]byte) (*types.Account, error) {
	key := []byte(keyAccount + hex.EncodeToString(addr[:]))
	raw, err := kv.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	var stored storedAccount
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, err
	}
	balance, err := parseBig(stored.Balance)
	if err != nil {
		return nil, err
	}
	return &types.Account{Balance: balance}, nil
}

// PutAccount stores an account.
func (kv *KV) PutAccount(addr [20]byte, account *types.Account) error {
	if account == nil {
		account = types.NewAccount()
	}
	balance := account.Balance
	if balance == nil {
		balance = big.NewInt(0)
	}
	key := []byte(keyAccount + hex.EncodeToString(addr[:]))
	return kv.putJSON(key, storedAccount{Balance: balance.String()})
}

type storedAccount struct {
	Balance string `json:"balance"`
}

type storedRound struct {
	PaidFees       map[uint64]string            `json:"paidFees"`
	FundedOutcomes []uint64                     `json:"fundedOutcomes"`
	FeeRewards     string                       `json:"feeRewards"`
	Appealed       bool                         `json:"appealed"`
	Contributions  map[string]map[uint64]string `json:"contributions"`
}

type storedLedger struct {
	Rounds []storedRound `json:"rounds"`
}

type storedQuestion struct {
	ID          uint64 `json:"id"`
	Host        string `json:"host"`
	Guest       string `json:"guest"`
	Amount      string `json:"amount"`
	HostFee     string `json:"hostFee"`
	GuestFee    string `json:"guestFee"`
	Deadline    int64  `json:"deadline"`
	HostAnswer  uint64 `json:"hostAnswer"`
	GuestAnswer uint64 `json:"guestAnswer"`
	DisputeID   uint64 `json:"disputeId"`
	Ruling      uint64 `json:"ruling"`
	Status      uint8  `json:"status"`
}

func parseBig(s string) (*big.Int, error) {
	if s == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("state: invalid big integer %q", s)
	}
	return v, nil
}

func parseAddr(s string) ([20]byte, error) {
	var addr [20]byte
	raw, err := hex.DecodeString(s)
	if err != nil {
		return addr, err
	}
	if len(raw) != len(addr) {
		return addr, fmt.Errorf("state: invalid address length %d", len(raw))
	}
	copy(addr[:], raw)
	return addr, nil
}

func encodeLedger(ledger *appeal.Ledger) storedLedger {
	out := storedLedger{Rounds: make([]storedRound, 0, ledger.Len())}
	for _, round := range ledger.Rounds {
		stored := storedRound{
			PaidFees:      make(map[uint64]string, len(round.PaidFees)),
			FeeRewards:    round.FeeRewards.String(),
			Appealed:      round.Appealed,
			Contributions: make(map[string]map[uint64]string, len(round.Contributions)),
		}
		for outcome, paid := range round.PaidFees {
			stored.PaidFees[uint64(outcome)] = paid.String()
		}
		for _, outcome := range round.FundedOutcomes {
			stored.FundedOutcomes = append(stored.FundedOutcomes, uint64(outcome))
		}
		for funder, cells := range round.Contributions {
			encoded := make(map[uint64]string, len(cells))
			for outcome, amount := range cells {
				encoded[uint64(outcome)] = amount.String()
			}
			stored.Contributions[hex.EncodeToString(funder[:])] = encoded
		}
		out.Rounds = append(out.Rounds, stored)
	}
	return out
}

func (s storedLedger) decode() (*appeal.Ledger, error) {
	ledger := &appeal.Ledger{Rounds: make([]*appeal.Round, 0, len(s.Rounds))}
	for _, stored := range s.Rounds {
		round := appeal.NewRound()
		round.Appealed = stored.Appealed
		rewards, err := parseBig(stored.FeeRewards)
		if err != nil {
			return nil, err
		}
		round.FeeRewards = rewards
		for outcome, paid := range stored.PaidFees {
			v, err := parseBig(paid)
			if err != nil {
				return nil, err
			}
			round.PaidFees[arbitration.Outcome(outcome)] = v
		}
		for _, outcome := range stored.FundedOutcomes {
			round.FundedOutcomes = append(round.FundedOutcomes, arbitration.Outcome(outcome))
		}
		for funder, cells := range stored.Contributions {
			addr, err := parseAddr(funder)
			if err != nil {
				return nil, err
			}
			decoded := make(map[arbitration.Outcome]*big.Int, len(cells))
			for outcome, amount := range cells {
				v, err := parseBig(amount)
				if err != nil {
					return nil, err
				}
				decoded[arbitration.Outcome(outcome)] = v
			}
			round.Contributions[addr] = decoded
		}
		ledger.Rounds = append(ledger.Rounds, round)
	}
	if len(ledger.Rounds) == 0 {
		ledger.Rounds = append(ledger.Rounds, appeal.NewRound())
	}
	return ledger, nil
}

func encodeQuestion(q *quiz.Question) storedQuestion {
	return storedQuestion{
		ID:          q.ID,
		Host:        hex.EncodeToString(q.Host[:]),
		Guest:       hex.EncodeToString(q.Guest[:]),
		Amount:      q.Amount.String(),
		HostFee:     q.HostFee.String(),
		GuestFee:    q.GuestFee.String(),
		Deadline:    q.Deadline,
		HostAnswer:  uint64(q.HostAnswer),
		GuestAnswer: uint64(q.GuestAnswer),
		DisputeID:   q.DisputeID,
		Ruling:      uint64(q.Ruling),
		Status:      uint8(q.Status),
	}
}

func (s storedQuestion) decode() (*quiz.Question, error) {
	host, err := parseAddr(s.Host)
	if err != nil {
		return nil, err
	}
	guest, err := parseAddr(s.Guest)
	if err != nil {
		return nil, err
	}
	amount, err := parseBig(s.Amount)
	if err != nil {
		return nil, err
	}
	hostFee, err := parseBig(s.HostFee)
	if err != nil {
		return nil, err
	}
	guestFee, err := parseBig(s.GuestFee)
	if err != nil {
		return nil, err
	}
	return &quiz.Question{
		ID:          s.ID,
		Host:        host,
		Guest:       guest,
		Amount:      amount,
		HostFee:     hostFee,
		GuestFee:    guestFee,
		Deadline:    s.Deadline,
		HostAnswer:  arbitration.Outcome(s.HostAnswer),
		GuestAnswer: arbitration.Outcome(s.GuestAnswer),
		DisputeID:   s.DisputeID,
		Ruling:      arbitration.Outcome(s.Ruling),
		Status:      quiz.Status(s.Status),
	}, nil
}
