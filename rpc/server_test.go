package rpc

import (
	"encoding/hex"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"arbitrable/core/state"
	"arbitrable/core/types"
	"arbitrable/native/appeal"
	"arbitrable/native/arbitration"
	"arbitrable/native/escrow"
	"arbitrable/native/quiz"
	"arbitrable/storage"
)

type testFixture struct {
	server *httptest.Server
	escrow *escrow.Engine
	quiz   *quiz.Engine
	arb    *arbitration.Appealable
	kv     *state.KV
	clock  int64

	sender   [20]byte
	receiver [20]byte
}

func addr(fill byte) [20]byte {
	var a [20]byte
	for i := range a {
		a[i] = fill
	}
	return a
}

func newFixture(t *testing.T) *testFixture {
	t.Helper()
	f := &testFixture{
		kv:       state.NewKV(storage.NewMemDB()),
		clock:    1000,
		sender:   addr(0x01),
		receiver: addr(0x02),
	}
	now := func() int64 { return f.clock }

	f.arb = arbitration.NewAppealable(big.NewInt(20), 600)
	f.arb.SetNowFunc(now)
	policy := appeal.Policy{SharedBps: 5000, WinnerBps: 2000, LoserBps: 8000}

	f.escrow = escrow.NewEngine()
	f.escrow.SetState(f.kv)
	f.escrow.SetArbitrator(f.arb)
	f.escrow.SetArbitratorAccount(addr(0xBB))
	f.escrow.SetVault(addr(0xAA))
	f.escrow.SetPolicy(policy)
	f.escrow.SetFeeTimeout(600)
	f.escrow.SetNowFunc(now)

	f.quiz = quiz.NewEngine()
	f.quiz.SetState(f.kv)
	f.quiz.SetArbitrator(f.arb)
	f.quiz.SetArbitratorAccount(addr(0xBB))
	f.quiz.SetVault(addr(0xAA))
	f.quiz.SetPolicy(policy)
	f.quiz.SetNowFunc(now)

	for _, a := range [][20]byte{f.sender, f.receiver} {
		if err := f.kv.PutAccount(a, &types.Account{Balance: big.NewInt(10000)}); err != nil {
			t.Fatalf("fund account: %v", err)
		}
	}

	f.server = httptest.NewServer(NewServer(f.escrow, f.quiz, nil).Handler())
	t.Cleanup(f.server.Close)
	return f
}

// openDisputedTransaction walks a transaction into an ongoing dispute with a
// partially funded appeal round.
func (f *testFixture) openDisputedTransaction(t *testing.T) *escrow.Transaction {
	t.Helper()
	tx, err := f.escrow.CreateTransaction(f.sender, f.receiver, big.NewInt(1000), 3600, "ipfs://meta")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tx, err = f.escrow.PayArbitrationFeeByReceiver(tx.ID, tx, big.NewInt(20))
	if err != nil {
		t.Fatalf("receiver fee: %v", err)
	}
	tx, err = f.escrow.PayArbitrationFeeBySender(tx.ID, tx, big.NewInt(20))
	if err != nil {
		t.Fatalf("sender fee: %v", err)
	}
	if err := f.arb.GiveRuling(tx.DisputeID, escrow.PartyReceiver.Outcome()); err != nil {
		t.Fatalf("ruling: %v", err)
	}
	if err := f.escrow.FundAppeal(tx.ID, tx, escrow.PartySender, f.sender, big.NewInt(10)); err != nil {
		t.Fatalf("fund appeal: %v", err)
	}
	return tx
}

func (f *testFixture) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(f.server.URL + path)
	if err != nil {
		t.Fatalf("get %s: %v", path, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return resp, body
}

func TestHealthz(t *testing.T) {
	f := newFixture(t)
	resp, body := f.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("unexpected response %d %q", resp.StatusCode, body)
	}
}

func TestEscrowRoutes(t *testing.T) {
	f := newFixture(t)
	tx := f.openDisputedTransaction(t)

	resp, _ := f.get(t, "/escrow/transactions/99/rounds")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown case must 404, got %d", resp.StatusCode)
	}

	resp, body := f.get(t, "/escrow/transactions/1/rounds")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rounds: %d %s", resp.StatusCode, body)
	}
	var rounds []struct {
		PaidFees map[string]string `json:"paidFees"`
		Appealed bool              `json:"appealed"`
	}
	if err := json.Unmarshal(body, &rounds); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rounds) != 1 || rounds[0].Appealed {
		t.Fatalf("unexpected rounds %+v", rounds)
	}
	if rounds[0].PaidFees["1"] != "10" {
		t.Fatalf("paid fees %+v", rounds[0].PaidFees)
	}

	resp, body = f.get(t, "/escrow/transactions/1/rounds/0/contributions/"+hex.EncodeToString(f.sender[:]))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("contributions: %d %s", resp.StatusCode, body)
	}
	var cells map[string]string
	if err := json.Unmarshal(body, &cells); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if cells["sender"] != "10" || cells["receiver"] != "0" {
		t.Fatalf("unexpected cells %+v", cells)
	}

	resp, body = f.get(t, "/escrow/transactions/1/hash")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("hash: %d %s", resp.StatusCode, body)
	}
	var hashed map[string]string
	if err := json.Unmarshal(body, &hashed); err != nil {
		t.Fatalf("decode: %v", err)
	}
	want, err := escrow.HashTransaction(tx)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if hashed["hash"] != hex.EncodeToString(want[:]) {
		t.Fatalf("hash mismatch: %s", hashed["hash"])
	}

	resp, _ = f.get(t, "/escrow/transactions/not-a-number/rounds")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad id must 400, got %d", resp.StatusCode)
	}
}

func TestQuizRoutes(t *testing.T) {
	f := newFixture(t)
	q, err := f.quiz.CreateQuestion(f.sender, big.NewInt(1000), 3600, "ipfs://question")
	if err != nil {
		t.Fatalf("create question: %v", err)
	}
	if _, err := f.quiz.SubmitAnswer(q.ID, f.receiver, 2, big.NewInt(20)); err != nil {
		t.Fatalf("submit answer: %v", err)
	}
	if _, err := f.quiz.ChallengeAnswer(q.ID, 1, "", big.NewInt(20)); err != nil {
		t.Fatalf("challenge: %v", err)
	}

	resp, body := f.get(t, "/quiz/questions/1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("question: %d %s", resp.StatusCode, body)
	}
	var question map[string]any
	if err := json.Unmarshal(body, &question); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if question["amount"] != "1000" {
		t.Fatalf("unexpected question %+v", question)
	}

	resp, _ = f.get(t, "/quiz/questions/1/rounds")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rounds: %d", resp.StatusCode)
	}
	resp, _ = f.get(t, "/quiz/questions/2/rounds")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown question must 404, got %d", resp.StatusCode)
	}
}
