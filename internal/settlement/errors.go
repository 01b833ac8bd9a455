package settlement

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange indicates an empty or reversed netting period.
	ErrInvalidRange = errors.New("settlement: period start must not be after period end")
	// ErrInvalidParties indicates the two parties are not distinct.
	ErrInvalidParties = errors.New("settlement: parties must be distinct")
	// ErrNothingOwed indicates a payment against a net-zero settlement.
	ErrNothingOwed = errors.New("settlement: nothing is owed on this settlement")
	// ErrWrongParties indicates paid_by/paid_to do not match the debtor pair.
	ErrWrongParties = errors.New("settlement: payment parties do not match the settlement debtor and creditor")
	// ErrInvalidAmount indicates a non-positive payment amount.
	ErrInvalidAmount = errors.New("settlement: payment amount must be positive")
	// ErrInvalidMethod indicates an unknown payment method.
	ErrInvalidMethod = errors.New("settlement: unknown payment method")
	// ErrNotPending indicates a transition out of a terminal payment state.
	ErrNotPending = errors.New("settlement: payment is not pending")
	// ErrWouldExceedNetAmount indicates an approval that would push the
	// approved total past the net amount.
	ErrWouldExceedNetAmount = errors.New("settlement: approval would exceed the net amount")
	// ErrNotAuthorized indicates the acting party is not entitled to the
	// operation, e.g. approving its own payment claim.
	ErrNotAuthorized = errors.New("settlement: party not authorized for this operation")
	// ErrHasApprovedPayments refuses deletion of settlements with approved
	// payments to protect historical accounting.
	ErrHasApprovedPayments = errors.New("settlement: cannot delete a settlement with approved payments")
	// ErrRejectionReasonRequired indicates a rejection without a reason.
	ErrRejectionReasonRequired = errors.New("settlement: rejection requires a reason")
	// ErrCancelled indicates the payment ledger is frozen by an
	// administrative cancellation.
	ErrCancelled = errors.New("settlement: settlement is cancelled")
	// ErrAlreadyCancelled indicates a repeated cancellation.
	ErrAlreadyCancelled = errors.New("settlement: settlement is already cancelled")
	// ErrSettlementNotFound indicates a settlement lookup miss.
	ErrSettlementNotFound = errors.New("settlement: settlement not found")
	// ErrPaymentNotFound indicates a payment lookup miss.
	ErrPaymentNotFound = errors.New("settlement: payment not found")
)

// TripsAlreadySettledError reports trips claimed by another settlement,
// detected either during preview re-validation or by the unique claim
// constraint at commit time.
type TripsAlreadySettledError struct {
	TripIDs []int64
}

func (e *TripsAlreadySettledError) Error() string {
	return fmt.Sprintf("settlement: trips already settled: %v", e.TripIDs)
}

// ExceedsRemainingDueError reports the actual remaining due so the caller can
// retry with a corrected amount.
type ExceedsRemainingDueError struct {
	RemainingDue float64
}

func (e *ExceedsRemainingDueError) Error() string {
	return fmt.Sprintf("settlement: amount exceeds remaining due of %.2f", e.RemainingDue)
}
