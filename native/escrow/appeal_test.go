package escrow

import (
	"errors"
	"math/big"
	"testing"

	"arbitrable/native/appeal"
	"arbitrable/native/arbitration"
)

// openAppealableDispute opens a dispute and announces a tentative ruling for
// the receiver, opening the appeal window at the current clock.
func (env *testEnv) openAppealableDispute(t *testing.T) *Transaction {
	t.Helper()
	tx := env.openDispute(t)
	if err := env.arb.GiveRuling(tx.DisputeID, PartyReceiver.Outcome()); err != nil {
		t.Fatalf("tentative ruling: %v", err)
	}
	return tx
}

func TestFundAppealBeforeRulingRejected(t *testing.T) {
	env := newTestEnv(t)
	tx := env.openDispute(t)

	err := env.engine.FundAppeal(tx.ID, tx, PartySender, env.alice, big.NewInt(36))
	if !errors.Is(err, arbitration.ErrNotAppealable) {
		t.Fatalf("expected the arbitrator rejection to propagate, got %v", err)
	}
}

func TestFundAppealClampsContribution(t *testing.T) {
	env := newTestEnv(t)
	tx := env.openAppealableDispute(t)

	// Loser goal: 20 + 20*8000/10000 = 36. Only that much is drawn.
	if err := env.engine.FundAppeal(tx.ID, tx, PartySender, env.alice, big.NewInt(50)); err != nil {
		t.Fatalf("fund appeal: %v", err)
	}
	if env.balance(t, env.alice) != 10000-36 {
		t.Fatalf("alice balance %d", env.balance(t, env.alice))
	}
	round, err := env.engine.RoundInfo(tx.ID, 0)
	if err != nil {
		t.Fatalf("round info: %v", err)
	}
	if round.PaidFee(PartySender.Outcome()).Int64() != 36 {
		t.Fatalf("paid fee %s", round.PaidFee(PartySender.Outcome()))
	}
	if !round.IsFunded(PartySender.Outcome()) {
		t.Fatal("sender side should be fully funded")
	}
	types := env.eventTypes()
	if !hasEvent(types, EventTypeAppealContribution) || !hasEvent(types, EventTypeAppealFeePaid) {
		t.Fatal("expected contribution and fee-paid events")
	}

	if err := env.engine.FundAppeal(tx.ID, tx, PartySender, env.bob, big.NewInt(10)); err != appeal.ErrAlreadyFunded {
		t.Fatalf("expected ErrAlreadyFunded, got %v", err)
	}
}

func TestFundAppealWindowRules(t *testing.T) {
	env := newTestEnv(t)
	tx := env.openAppealableDispute(t)

	// Past the midpoint only the leader may still fund.
	env.clock += 300
	err := env.engine.FundAppeal(tx.ID, tx, PartySender, env.alice, big.NewInt(36))
	if !errors.Is(err, appeal.ErrNotInLoserPeriod) {
		t.Fatalf("expected ErrNotInLoserPeriod, got %v", err)
	}
	if err := env.engine.FundAppeal(tx.ID, tx, PartyReceiver, env.bob, big.NewInt(10)); err != nil {
		t.Fatalf("leader funding in the second half: %v", err)
	}

	env.clock += 300
	err = env.engine.FundAppeal(tx.ID, tx, PartyReceiver, env.bob, big.NewInt(10))
	if !errors.Is(err, appeal.ErrNotInAppealPeriod) {
		t.Fatalf("expected ErrNotInAppealPeriod, got %v", err)
	}
}

func TestDoubleFundingTriggersAppeal(t *testing.T) {
	env := newTestEnv(t)
	tx := env.openAppealableDispute(t)

	if err := env.engine.FundAppeal(tx.ID, tx, PartySender, env.alice, big.NewInt(36)); err != nil {
		t.Fatalf("fund loser: %v", err)
	}
	if err := env.engine.FundAppeal(tx.ID, tx, PartyReceiver, env.bob, big.NewInt(24)); err != nil {
		t.Fatalf("fund winner: %v", err)
	}

	if n := env.engine.NumberOfRounds(tx.ID); n != 2 {
		t.Fatalf("expected a fresh round after the appeal, got %d", n)
	}
	round, err := env.engine.RoundInfo(tx.ID, 0)
	if err != nil {
		t.Fatalf("round info: %v", err)
	}
	if !round.Appealed {
		t.Fatal("round 0 should be marked appealed")
	}
	if round.FeeRewards.Int64() != 40 {
		t.Fatalf("reward pool %s, want 36 + 24 - 20", round.FeeRewards)
	}
	// Dispute fee and appeal fee both reached the arbitrator.
	if env.balance(t, env.arbAcct) != 40 {
		t.Fatalf("arbitrator balance %d", env.balance(t, env.arbAcct))
	}

	paid, goal, funded, err := env.engine.AppealStatus(tx.ID, tx, PartySender)
	if err != nil {
		t.Fatalf("appeal status: %v", err)
	}
	if paid.Sign() != 0 || funded {
		t.Fatalf("fresh round must start empty, paid %s funded %v", paid, funded)
	}
	if goal.Sign() <= 0 {
		t.Fatalf("goal %s", goal)
	}
}

// rejectingArbitrator refuses every appeal and delegates everything else.
type rejectingArbitrator struct {
	*arbitration.Appealable
}

var errAppealRefused = errors.New("arbitrator refused the appeal")

func (r *rejectingArbitrator) Appeal(disputeID uint64, extraData []byte, payment *big.Int) error {
	return errAppealRefused
}

func TestRefusedAppealLeavesFundsUntouched(t *testing.T) {
	env := newTestEnv(t)
	tx := env.openAppealableDispute(t)

	if err := env.engine.FundAppeal(tx.ID, tx, PartySender, env.alice, big.NewInt(36)); err != nil {
		t.Fatalf("fund loser: %v", err)
	}
	env.engine.SetArbitrator(&rejectingArbitrator{Appealable: env.arb})

	// bob's contribution would complete the second side and fire the appeal,
	// which the arbitrator refuses.
	err := env.engine.FundAppeal(tx.ID, tx, PartyReceiver, env.bob, big.NewInt(24))
	if !errors.Is(err, errAppealRefused) {
		t.Fatalf("expected the refusal to propagate, got %v", err)
	}
	if env.balance(t, env.bob) != 10000 {
		t.Fatalf("bob must keep his funds, balance %d", env.balance(t, env.bob))
	}
	if env.balance(t, env.arbAcct) != 20 {
		t.Fatalf("only the dispute fee may reach the arbitrator, balance %d", env.balance(t, env.arbAcct))
	}
	round, err := env.engine.RoundInfo(tx.ID, 0)
	if err != nil {
		t.Fatalf("round info: %v", err)
	}
	if round.Contribution(env.bob, PartyReceiver.Outcome()).Sign() != 0 {
		t.Fatalf("no contribution may persist, got %s", round.Contribution(env.bob, PartyReceiver.Outcome()))
	}
	if round.Appealed || env.engine.NumberOfRounds(tx.ID) != 1 {
		t.Fatal("the round must stay open after the refusal")
	}
}

func TestSingleFundedSideFlipsRuling(t *testing.T) {
	env := newTestEnv(t)
	tx := env.openAppealableDispute(t)

	// The losing sender fully funds; the winning receiver never does.
	if err := env.engine.FundAppeal(tx.ID, tx, PartySender, env.alice, big.NewInt(36)); err != nil {
		t.Fatalf("fund appeal: %v", err)
	}
	env.clock += 601
	if err := env.arb.GiveRuling(tx.DisputeID, PartyReceiver.Outcome()); err != nil {
		t.Fatalf("final ruling: %v", err)
	}

	tx, err := env.engine.ExecuteRuling(tx.ID, tx)
	if err != nil {
		t.Fatalf("execute ruling: %v", err)
	}
	// The crowdfunded side wins despite the adjudicator's ruling.
	if env.balance(t, env.sender) != 8980+1020 {
		t.Fatalf("sender balance %d", env.balance(t, env.sender))
	}
	if env.balance(t, env.receiver) != 9980 {
		t.Fatalf("receiver balance %d", env.balance(t, env.receiver))
	}
	types := env.eventTypes()
	if !hasEvent(types, EventTypeRuling) {
		t.Fatal("expected ruling event")
	}
}
