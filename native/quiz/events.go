package quiz

import (
	"encoding/hex"
	"math/big"
	"strconv"

	"arbitrable/core/types"
	"arbitrable/native/arbitration"
)

const (
	EventTypeQuestionCreated    = "quiz.question.created"
	EventTypeAnswerSubmitted    = "quiz.answer.submitted"
	EventTypeAnswerChallenged   = "quiz.answer.challenged"
	EventTypeDisputeCreated     = "quiz.dispute.created"
	EventTypeRuling             = "quiz.dispute.ruling"
	EventTypeAppealContribution = "quiz.appeal.contribution"
	EventTypeAppealFeePaid      = "quiz.appeal.fee_paid"
	EventTypeEvidence           = "quiz.evidence.submitted"
)

func NewQuestionCreatedEvent(q *Question, uri string) *types.Event {
	return &types.Event{Type: EventTypeQuestionCreated, Attributes: map[string]string{
		"id":       strconv.FormatUint(q.ID, 10),
		"host":     hex.EncodeToString(q.Host[:]),
		"amount":   q.Amount.String(),
		"deadline": strconv.FormatInt(q.Deadline, 10),
		"uri":      uri,
	}}
}

func NewAnswerSubmittedEvent(id uint64, guest [20]byte, answer arbitration.Outcome) *types.Event {
	return &types.Event{Type: EventTypeAnswerSubmitted, Attributes: map[string]string{
		"id":     strconv.FormatUint(id, 10),
		"guest":  hex.EncodeToString(guest[:]),
		"answer": strconv.FormatUint(uint64(answer), 10),
	}}
}

func NewAnswerChallengedEvent(id uint64, answer arbitration.Outcome) *types.Event {
	return &types.Event{Type: EventTypeAnswerChallenged, Attributes: map[string]string{
		"id":     strconv.FormatUint(id, 10),
		"answer": strconv.FormatUint(uint64(answer), 10),
	}}
}

func NewDisputeCreatedEvent(id, disputeID uint64) *types.Event {
	return &types.Event{Type: EventTypeDisputeCreated, Attributes: map[string]string{
		"id":        strconv.FormatUint(id, 10),
		"disputeId": strconv.FormatUint(disputeID, 10),
	}}
}

func NewRulingEvent(disputeID uint64, ruling arbitration.Outcome) *types.Event {
	return &types.Event{Type: EventTypeRuling, Attributes: map[string]string{
		"disputeId": strconv.FormatUint(disputeID, 10),
		"ruling":    strconv.FormatUint(uint64(ruling), 10),
	}}
}

func NewAppealContributionEvent(id uint64, answer arbitration.Outcome, contributor [20]byte, round int, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeAppealContribution, Attributes: map[string]string{
		"id":          strconv.FormatUint(id, 10),
		"answer":      strconv.FormatUint(uint64(answer), 10),
		"contributor": hex.EncodeToString(contributor[:]),
		"round":       strconv.Itoa(round),
		"amount":      amount.String(),
	}}
}

func NewAppealFeePaidEvent(id uint64, answer arbitration.Outcome, round int) *types.Event {
	return &types.Event{Type: EventTypeAppealFeePaid, Attributes: map[string]string{
		"id":     strconv.FormatUint(id, 10),
		"answer": strconv.FormatUint(uint64(answer), 10),
		"round":  strconv.Itoa(round),
	}}
}

func NewEvidenceEvent(id uint64, submitter [20]byte, submissionID, uri string) *types.Event {
	return &types.Event{Type: EventTypeEvidence, Attributes: map[string]string{
		"id":         strconv.FormatUint(id, 10),
		"submitter":  hex.EncodeToString(submitter[:]),
		"submission": submissionID,
		"uri":        uri,
	}}
}
