package escrow

import (
	"math/big"
	"testing"
)

func testTransaction() *Transaction {
	return &Transaction{
		ID:              1,
		Sender:          newTestAddress(0x01),
		Receiver:        newTestAddress(0x02),
		Amount:          big.NewInt(1000),
		Deadline:        4600,
		SenderFee:       big.NewInt(0),
		ReceiverFee:     big.NewInt(0),
		LastInteraction: 1000,
		Status:          StatusNoDispute,
	}
}

func TestHashTransactionDeterministic(t *testing.T) {
	a, err := HashTransaction(testTransaction())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	b, err := HashTransaction(testTransaction())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if a != b {
		t.Fatal("equal records must commit to the same hash")
	}
}

func TestHashTransactionSensitivity(t *testing.T) {
	base, err := HashTransaction(testTransaction())
	if err != nil {
		t.Fatalf("hash: %v", err)
	}

	mutated := testTransaction()
	mutated.Amount = big.NewInt(999)
	changed, err := HashTransaction(mutated)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if base == changed {
		t.Fatal("changing the amount must change the commitment")
	}

	mutated = testTransaction()
	mutated.Status = StatusWaitingSender
	changed, err = HashTransaction(mutated)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	if base == changed {
		t.Fatal("changing the status must change the commitment")
	}
}

func TestSanitizeTransaction(t *testing.T) {
	if _, err := SanitizeTransaction(nil); err == nil {
		t.Fatal("nil records must be rejected")
	}
	bad := testTransaction()
	bad.Amount = big.NewInt(-1)
	if _, err := SanitizeTransaction(bad); err == nil {
		t.Fatal("negative amounts must be rejected")
	}
	bad = testTransaction()
	bad.Status = Status(99)
	if _, err := SanitizeTransaction(bad); err == nil {
		t.Fatal("invalid statuses must be rejected")
	}

	withNil := testTransaction()
	withNil.SenderFee = nil
	sanitized, err := SanitizeTransaction(withNil)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if sanitized.SenderFee == nil || sanitized.SenderFee.Sign() != 0 {
		t.Fatal("nil money fields must normalize to zero")
	}
	if withNil.SenderFee != nil {
		t.Fatal("the input record must not be mutated")
	}
}

func TestCloneIsDeep(t *testing.T) {
	tx := testTransaction()
	clone := tx.Clone()
	clone.Amount.SetInt64(5)
	if tx.Amount.Int64() != 1000 {
		t.Fatal("clone must not share big.Int instances")
	}
}
