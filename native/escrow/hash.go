package escrow

import (
	"math/big"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
)

// hashableTransaction is the canonical wire form fed to the commitment hash.
// RLP only encodes unsigned integers, so the timestamps are widened here.
type hashableTransaction struct {
	ID              uint64
	Sender          [20]byte
	Receiver        [20]byte
	Amount          *big.Int
	Deadline        uint64
	SenderFee       *big.Int
	ReceiverFee     *big.Int
	DisputeID       uint64
	HasDispute      bool
	LastInteraction uint64
	Status          uint8
}

// HashTransaction computes the commitment of a case record: the keccak256
// digest of its canonical RLP encoding. Two records commit to the same hash
// iff every field matches.
func HashTransaction(t *Transaction) ([32]byte, error) {
	var hash [32]byte
	sanitized, err := SanitizeTransaction(t)
	if err != nil {
		return hash, err
	}
	encoded, err := rlp.EncodeToBytes(&hashableTransaction{
		ID:              sanitized.ID,
		Sender:          sanitized.Sender,
		Receiver:        sanitized.Receiver,
		Amount:          sanitized.Amount,
		Deadline:        uint64(sanitized.Deadline),
		SenderFee:       sanitized.SenderFee,
		ReceiverFee:     sanitized.ReceiverFee,
		DisputeID:       sanitized.DisputeID,
		HasDispute:      sanitized.HasDispute,
		LastInteraction: uint64(sanitized.LastInteraction),
		Status:          uint8(sanitized.Status),
	})
	if err != nil {
		return hash, err
	}
	copy(hash[:], crypto.Keccak256(encoded))
	return hash, nil
}
