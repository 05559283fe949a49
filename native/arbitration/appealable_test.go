package arbitration

import (
	"math/big"
	"testing"
)

type ruledCall struct {
	disputeID uint64
	ruling    Outcome
}

type fakeArbitrable struct {
	calls []ruledCall
}

func (f *fakeArbitrable) Rule(disputeID uint64, ruling Outcome) error {
	f.calls = append(f.calls, ruledCall{disputeID: disputeID, ruling: ruling})
	return nil
}

func newTestArbitrator(t *testing.T) (*Appealable, *fakeArbitrable, *int64) {
	t.Helper()
	clock := int64(1000)
	arb := NewAppealable(big.NewInt(20), 600)
	arb.SetNowFunc(func() int64 { return clock })
	return arb, &fakeArbitrable{}, &clock
}

func TestCreateDispute(t *testing.T) {
	arb, engine, _ := newTestArbitrator(t)

	if _, err := arb.CreateDispute(engine, 2, nil, big.NewInt(19)); err != ErrInsufficientPayment {
		t.Fatalf("expected ErrInsufficientPayment, got %v", err)
	}
	id, err := arb.CreateDispute(engine, 2, nil, big.NewInt(20))
	if err != nil {
		t.Fatalf("create dispute: %v", err)
	}
	if id != 0 {
		t.Fatalf("expected first dispute id 0, got %d", id)
	}
	status, err := arb.Status(id)
	if err != nil || status != DisputeWaiting {
		t.Fatalf("expected waiting status, got %v (%v)", status, err)
	}
	if _, _, err := arb.AppealPeriod(id); err != ErrNotAppealable {
		t.Fatalf("expected ErrNotAppealable before a ruling, got %v", err)
	}
}

func TestGiveRulingOpensAppealWindow(t *testing.T) {
	arb, engine, clock := newTestArbitrator(t)
	id, _ := arb.CreateDispute(engine, 2, nil, big.NewInt(20))

	if err := arb.GiveRuling(id, 1); err != nil {
		t.Fatalf("give ruling: %v", err)
	}
	status, _ := arb.Status(id)
	if status != DisputeAppealable {
		t.Fatalf("expected appealable, got %v", status)
	}
	start, end, err := arb.AppealPeriod(id)
	if err != nil {
		t.Fatalf("appeal period: %v", err)
	}
	if start != 1000 || end != 1600 {
		t.Fatalf("unexpected window [%d, %d)", start, end)
	}
	ruling, _ := arb.CurrentRuling(id)
	if ruling != 1 {
		t.Fatalf("expected tentative ruling 1, got %d", ruling)
	}
	if len(engine.calls) != 0 {
		t.Fatalf("tentative ruling must not invoke Rule")
	}

	// A second ruling after the window finalizes and calls back.
	*clock = 1601
	if err := arb.GiveRuling(id, 2); err != nil {
		t.Fatalf("final ruling: %v", err)
	}
	if len(engine.calls) != 1 || engine.calls[0].disputeID != id || engine.calls[0].ruling != 2 {
		t.Fatalf("unexpected rule callback %+v", engine.calls)
	}
	if err := arb.GiveRuling(id, 1); err != ErrDisputeAlreadySolved {
		t.Fatalf("expected ErrDisputeAlreadySolved, got %v", err)
	}
}

func TestRulingOutOfBounds(t *testing.T) {
	arb, engine, _ := newTestArbitrator(t)
	id, _ := arb.CreateDispute(engine, 2, nil, big.NewInt(20))

	if err := arb.GiveRuling(id, 3); err == nil {
		t.Fatal("expected out-of-bounds ruling to fail")
	}
}

func TestAppealOpensFreshRound(t *testing.T) {
	arb, engine, clock := newTestArbitrator(t)
	id, _ := arb.CreateDispute(engine, 2, nil, big.NewInt(20))

	if err := arb.Appeal(id, nil, big.NewInt(20)); err != ErrNotAppealable {
		t.Fatalf("expected ErrNotAppealable before a ruling, got %v", err)
	}
	if err := arb.GiveRuling(id, 1); err != nil {
		t.Fatalf("give ruling: %v", err)
	}
	*clock = 1100
	if err := arb.Appeal(id, nil, big.NewInt(20)); err != nil {
		t.Fatalf("appeal: %v", err)
	}

	// Queries against the original id now address the fresh round.
	status, _ := arb.Status(id)
	if status != DisputeWaiting {
		t.Fatalf("expected fresh round waiting, got %v", status)
	}
	internal, err := arb.AppealDisputeID(id)
	if err != nil || internal != 1 {
		t.Fatalf("expected internal round 1, got %d (%v)", internal, err)
	}

	// Ruling the fresh round to finality reports the root id to the engine.
	if err := arb.GiveRuling(internal, 2); err != nil {
		t.Fatalf("give ruling on round: %v", err)
	}
	*clock = 2000
	if err := arb.GiveRuling(internal, 2); err != nil {
		t.Fatalf("final ruling: %v", err)
	}
	if len(engine.calls) != 1 || engine.calls[0].disputeID != id {
		t.Fatalf("rule callback must use the root dispute id, got %+v", engine.calls)
	}
}

func TestAppealAfterWindowRejected(t *testing.T) {
	arb, engine, clock := newTestArbitrator(t)
	id, _ := arb.CreateDispute(engine, 2, nil, big.NewInt(20))
	if err := arb.GiveRuling(id, 1); err != nil {
		t.Fatalf("give ruling: %v", err)
	}
	*clock = 1700
	if err := arb.Appeal(id, nil, big.NewInt(20)); err != ErrAppealPeriodOver {
		t.Fatalf("expected ErrAppealPeriodOver, got %v", err)
	}
}
