package escrow

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"arbitrable/core/types"
)

const (
	EventTypeStateUpdated       = "escrow.transaction.state_updated"
	EventTypeMetaEvidence       = "escrow.transaction.meta_evidence"
	EventTypePayment            = "escrow.transaction.payment"
	EventTypeFeeRequired        = "escrow.fee.required"
	EventTypeDisputeCreated     = "escrow.dispute.created"
	EventTypeRuling             = "escrow.dispute.ruling"
	EventTypeAppealContribution = "escrow.appeal.contribution"
	EventTypeAppealFeePaid      = "escrow.appeal.fee_paid"
	EventTypeEvidence           = "escrow.evidence.submitted"
)

// NewStateUpdatedEvent carries the full updated record so callers can reuse
// it on their next call without a storage read.
func NewStateUpdatedEvent(t *Transaction) *types.Event {
	attrs := make(map[string]string)
	if t != nil {
		attrs["id"] = strconv.FormatUint(t.ID, 10)
		attrs["sender"] = hex.EncodeToString(t.Sender[:])
		attrs["receiver"] = hex.EncodeToString(t.Receiver[:])
		attrs["amount"] = t.Amount.String()
		attrs["deadline"] = strconv.FormatInt(t.Deadline, 10)
		attrs["senderFee"] = t.SenderFee.String()
		attrs["receiverFee"] = t.ReceiverFee.String()
		if t.HasDispute {
			attrs["disputeId"] = strconv.FormatUint(t.DisputeID, 10)
		}
		attrs["lastInteraction"] = strconv.FormatInt(t.LastInteraction, 10)
		attrs["status"] = strconv.FormatUint(uint64(t.Status), 10)
	}
	return &types.Event{Type: EventTypeStateUpdated, Attributes: attrs}
}

// NewMetaEvidenceEvent links the case to its free-form description.
func NewMetaEvidenceEvent(id uint64, uri string) *types.Event {
	return &types.Event{Type: EventTypeMetaEvidence, Attributes: map[string]string{
		"id":  strconv.FormatUint(id, 10),
		"uri": uri,
	}}
}

// NewPaymentEvent is emitted when value moves between the parties outside a
// dispute.
func NewPaymentEvent(id uint64, party Party, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypePayment, Attributes: map[string]string{
		"id":     strconv.FormatUint(id, 10),
		"party":  party.String(),
		"amount": amount.String(),
	}}
}

// NewFeeRequiredEvent signals which side must still pay its arbitration fee.
func NewFeeRequiredEvent(id uint64, party Party) *types.Event {
	return &types.Event{Type: EventTypeFeeRequired, Attributes: map[string]string{
		"id":    strconv.FormatUint(id, 10),
		"party": party.String(),
	}}
}

// NewDisputeCreatedEvent is emitted once both sides have paid and the
// adjudicator opened a dispute.
func NewDisputeCreatedEvent(id, disputeID uint64) *types.Event {
	return &types.Event{Type: EventTypeDisputeCreated, Attributes: map[string]string{
		"id":        strconv.FormatUint(id, 10),
		"disputeId": strconv.FormatUint(disputeID, 10),
	}}
}

// NewRulingEvent announces the final ruling for a dispute.
func NewRulingEvent(disputeID uint64, ruling Party) *types.Event {
	return &types.Event{Type: EventTypeRuling, Attributes: map[string]string{
		"disputeId": strconv.FormatUint(disputeID, 10),
		"ruling":    strconv.FormatUint(uint64(ruling), 10),
	}}
}

// NewAppealContributionEvent records an accepted crowdfunding contribution.
func NewAppealContributionEvent(id uint64, party Party, contributor [20]byte, round int, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeAppealContribution, Attributes: map[string]string{
		"id":          strconv.FormatUint(id, 10),
		"party":       party.String(),
		"contributor": hex.EncodeToString(contributor[:]),
		"round":       strconv.Itoa(round),
		"amount":      amount.String(),
	}}
}

// NewAppealFeePaidEvent signals that one side's appeal requirement is fully
// funded.
func NewAppealFeePaidEvent(id uint64, party Party, round int) *types.Event {
	return &types.Event{Type: EventTypeAppealFeePaid, Attributes: map[string]string{
		"id":    strconv.FormatUint(id, 10),
		"party": party.String(),
		"round": strconv.Itoa(round),
	}}
}

// NewEvidenceEvent links an evidence submission to the case.
func NewEvidenceEvent(id uint64, submitter [20]byte, submissionID, uri string) *types.Event {
	return &types.Event{Type: EventTypeEvidence, Attributes: map[string]string{
		"id":         strconv.FormatUint(id, 10),
		"submitter":  hex.EncodeToString(submitter[:]),
		"submission": submissionID,
		"uri":        uri,
	}}
}
