package state

import (
	"bytes"
	"math/big"
	"testing"

	"arbitrable/core/types"
	"arbitrable/native/appeal"
	"arbitrable/native/arbitration"
	"arbitrable/native/quiz"
	"arbitrable/storage"
)

func testAddr(fill byte) [20]byte {
	var addr [20]byte
	copy(addr[:], bytes.Repeat([]byte{fill}, 20))
	return addr
}

func newTestKV() *KV {
	return NewKV(storage.NewMemDB())
}

func TestSequences(t *testing.T) {
	kv := newTestKV()

	if kv.EscrowCount() != 0 {
		t.Fatalf("fresh store must count zero")
	}
	for want := uint64(1); want <= 3; want++ {
		id, err := kv.EscrowNextID()
		if err != nil {
			t.Fatalf("next id: %v", err)
		}
		if id != want {
			t.Fatalf("expected id %d, got %d", want, id)
		}
	}
	if kv.EscrowCount() != 3 {
		t.Fatalf("count %d", kv.EscrowCount())
	}

	// The quiz sequence is independent.
	id, err := kv.QuizNextID()
	if err != nil {
		t.Fatalf("quiz next id: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected quiz id 1, got %d", id)
	}
}

func TestCommitmentRoundTrip(t *testing.T) {
	kv := newTestKV()
	var hash [32]byte
	copy(hash[:], bytes.Repeat([]byte{0x42}, 32))

	if _, ok := kv.EscrowCommitmentGet(1); ok {
		t.Fatal("missing commitments must report absent")
	}
	if err := kv.EscrowCommitmentPut(1, hash); err != nil {
		t.Fatalf("put: %v", err)
	}
	got, ok := kv.EscrowCommitmentGet(1)
	if !ok || got != hash {
		t.Fatalf("round trip mismatch: %x", got)
	}
}

func TestLedgerRoundTrip(t *testing.T) {
	kv := newTestKV()
	alice := testAddr(0x01)

	ledger := appeal.NewLedger()
	round := ledger.Current()
	round.Fund(alice, 1, big.NewInt(36), big.NewInt(36))
	round.Fund(testAddr(0x02), 2, big.NewInt(24), big.NewInt(24))
	round.FinalizeAppeal(big.NewInt(20))
	fresh := ledger.Append()
	fresh.Fund(alice, 1, big.NewInt(36), big.NewInt(36))

	if err := kv.EscrowRoundsPut(7, ledger); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := kv.EscrowRoundsGet(7)
	if !ok {
		t.Fatal("ledger missing")
	}
	if loaded.Len() != 2 {
		t.Fatalf("expected 2 rounds, got %d", loaded.Len())
	}
	first, _ := loaded.Round(0)
	if !first.Appealed || first.FeeRewards.Int64() != 40 {
		t.Fatalf("round 0 mismatch: appealed=%v rewards=%s", first.Appealed, first.FeeRewards)
	}
	if first.PaidFee(1).Int64() != 36 || first.PaidFee(2).Int64() != 24 {
		t.Fatal("paid fees mismatch")
	}
	if first.Contribution(alice, 1).Int64() != 36 {
		t.Fatal("contribution mismatch")
	}
	if first.IsFunded(1) || first.IsFunded(2) {
		t.Fatal("appealed rounds carry no funded markers")
	}
	second, _ := loaded.Round(1)
	if !second.IsFunded(1) {
		t.Fatal("funded outcome lost in the round trip")
	}
}

func TestQuestionRoundTrip(t *testing.T) {
	kv := newTestKV()
	q := &quiz.Question{
		ID:          3,
		Host:        testAddr(0x01),
		Guest:       testAddr(0x02),
		Amount:      big.NewInt(1000),
		HostFee:     big.NewInt(20),
		GuestFee:    big.NewInt(20),
		Deadline:    4600,
		HostAnswer:  1,
		GuestAnswer: 2,
		DisputeID:   5,
		Ruling:      arbitration.OutcomeNone,
		Status:      quiz.StatusDisputed,
	}
	if err := kv.QuizPut(q); err != nil {
		t.Fatalf("put: %v", err)
	}
	loaded, ok := kv.QuizGet(3)
	if !ok {
		t.Fatal("question missing")
	}
	if loaded.Host != q.Host || loaded.Guest != q.Guest {
		t.Fatal("party mismatch")
	}
	if loaded.Amount.Cmp(q.Amount) != 0 || loaded.HostFee.Cmp(q.HostFee) != 0 {
		t.Fatal("money mismatch")
	}
	if loaded.HostAnswer != 1 || loaded.GuestAnswer != 2 || loaded.Status != quiz.StatusDisputed {
		t.Fatalf("field mismatch: %+v", loaded)
	}
}

func TestDisputeIndex(t *testing.T) {
	kv := newTestKV()
	if err := kv.EscrowDisputePut(9, 4); err != nil {
		t.Fatalf("put: %v", err)
	}
	id, ok := kv.EscrowDisputeGet(9)
	if !ok || id != 4 {
		t.Fatalf("dispute index mismatch: %d %v", id, ok)
	}
	if _, ok := kv.EscrowDisputeGet(10); ok {
		t.Fatal("missing disputes must report absent")
	}
}

func TestRulingRoundTrip(t *testing.T) {
	kv := newTestKV()
	if _, ok := kv.EscrowRulingGet(1); ok {
		t.Fatal("unruled cases must report absent")
	}
	if err := kv.EscrowRulingPut(1, 2); err != nil {
		t.Fatalf("put: %v", err)
	}
	ruling, ok := kv.EscrowRulingGet(1)
	if !ok || ruling != 2 {
		t.Fatalf("ruling mismatch: %d %v", ruling, ok)
	}
}

func TestAccounts(t *testing.T) {
	kv := newTestKV()
	addr := testAddr(0x05)

	acc, err := kv.GetAccount(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Balance.Sign() != 0 {
		t.Fatal("unknown accounts start at zero")
	}

	if err := kv.PutAccount(addr, &types.Account{Balance: big.NewInt(12345)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	acc, err = kv.GetAccount(addr)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if acc.Balance.Int64() != 12345 {
		t.Fatalf("balance %s", acc.Balance)
	}
}
