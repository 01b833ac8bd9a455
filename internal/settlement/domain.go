package settlement

import (
	"time"
)

// Status is the derived overall state of a settlement. It is never stored;
// DeriveStatus recomputes it from the payment ledger on every read.
type Status string

const (
	StatusPending       Status = "PENDING"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusCompleted     Status = "COMPLETED"
	StatusCancelled     Status = "CANCELLED"
)

// PaymentStatus enumerates payment claim states.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentApproved  PaymentStatus = "APPROVED"
	PaymentRejected  PaymentStatus = "REJECTED"
	PaymentCancelled PaymentStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed out of the state.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentApproved || s == PaymentRejected || s == PaymentCancelled
}

// PaymentMethod enumerates how a payment claim says money changed hands.
type PaymentMethod string

const (
	MethodCash           PaymentMethod = "CASH"
	MethodBankTransfer   PaymentMethod = "BANK_TRANSFER"
	MethodCheque         PaymentMethod = "CHEQUE"
	MethodMobileTransfer PaymentMethod = "MOBILE_TRANSFER"
	MethodOther          PaymentMethod = "OTHER"
)

// ValidMethod reports whether m is one of the enumerated methods.
func ValidMethod(m PaymentMethod) bool {
	switch m {
	case MethodCash, MethodBankTransfer, MethodCheque, MethodMobileTransfer, MethodOther:
		return true
	}
	return false
}

// RefDirection labels a trip snapshot relative to the settlement's party A.
type RefDirection string

const (
	DirectionAToB RefDirection = "A_TO_B"
	DirectionBToA RefDirection = "B_TO_A"
)

// TripRef is a frozen snapshot of one trip taken at materialization time.
// Never recomputed from live trip data afterwards.
type TripRef struct {
	TripID      int64        `json:"trip_id"`
	Direction   RefDirection `json:"direction"`
	Amount      float64      `json:"amount"`
	OccurredOn  time.Time    `json:"occurred_on"`
	Material    string       `json:"material,omitempty"`
	Origin      string       `json:"origin,omitempty"`
	Destination string       `json:"destination,omitempty"`
}

// NettingResult carries the outcome of one netting run. PayableBy is zero when
// the two sides cancel out exactly.
type NettingResult struct {
	PartyA      int64     `json:"party_a"`
	PartyB      int64     `json:"party_b"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	AToBTotal   float64   `json:"a_to_b_total"`
	BToATotal   float64   `json:"b_to_a_total"`
	NetAmount   float64   `json:"net_amount"`
	PayableBy   int64     `json:"payable_by"`
	Trips       []TripRef `json:"trips"`
}

// Payment is a claim that money changed hands against a settlement.
type Payment struct {
	ID              int64         `json:"id"`
	SettlementID    int64         `json:"settlement_id"`
	Reference       string        `json:"reference,omitempty"`
	Amount          float64       `json:"amount"`
	PaidBy          int64         `json:"paid_by"`
	PaidTo          int64         `json:"paid_to"`
	Method          PaymentMethod `json:"method"`
	SubmittedOn     time.Time     `json:"submitted_on"`
	Notes           string        `json:"notes,omitempty"`
	Status          PaymentStatus `json:"status"`
	RejectionReason string        `json:"rejection_reason,omitempty"`
	DecidedAt       *time.Time    `json:"decided_at,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Settlement is the frozen result of one netting run plus its payment ledger.
// Trip refs, totals, net amount and payable party are immutable after
// creation; only the payments list and the cancellation flag change.
type Settlement struct {
	ID          int64      `json:"id"`
	PartyA      int64      `json:"party_a"`
	PartyB      int64      `json:"party_b"`
	PeriodStart time.Time  `json:"period_start"`
	PeriodEnd   time.Time  `json:"period_end"`
	AToBTotal   float64    `json:"a_to_b_total"`
	BToATotal   float64    `json:"b_to_a_total"`
	NetAmount   float64    `json:"net_amount"`
	PayableBy   int64      `json:"payable_by"`
	Notes       string     `json:"notes,omitempty"`
	Cancelled   bool       `json:"cancelled"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy *int64     `json:"cancelled_by,omitempty"`
	TripRefs    []TripRef  `json:"trip_refs,omitempty"`
	Payments    []Payment  `json:"payments,omitempty"`
	CreatedBy   int64      `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// TotalsByDirection returns the frozen per-direction sums.
func (s *Settlement) TotalsByDirection() (aToB, bToA float64) {
	return s.AToBTotal, s.BToATotal
}

// TripBreakdown returns the frozen trip snapshots.
func (s *Settlement) TripBreakdown() []TripRef {
	return s.TripRefs
}

// HasParty reports whether the given party participates in the settlement.
func (s *Settlement) HasParty(partyID int64) bool {
	return partyID != 0 && (partyID == s.PartyA || partyID == s.PartyB)
}

// CounterpartyOf returns the other party, or zero when partyID is neither.
func (s *Settlement) CounterpartyOf(partyID int64) int64 {
	switch partyID {
	case s.PartyA:
		return s.PartyB
	case s.PartyB:
		return s.PartyA
	}
	return 0
}

// --- Input DTOs ---

// MaterializeInput freezes a previously computed netting result.
type MaterializeInput struct {
	Result    NettingResult
	Notes     string
	CreatedBy int64
}

// SubmitPaymentInput records a new payment claim. Actor must match PaidBy.
type SubmitPaymentInput struct {
	SettlementID int64
	Amount       float64
	PaidBy       int64
	PaidTo       int64
	Method       PaymentMethod
	SubmittedOn  time.Time
	Notes        string
	Reference    string
	Actor        int64
}

// ListRequest filters settlement listings.
type ListRequest struct {
	Party  int64
	Limit  int
	Offset int
}

// Summary aggregates a party's settlements by derived status.
type Summary struct {
	Party          int64          `json:"party"`
	Counts         map[Status]int `json:"counts"`
	TotalNetAmount float64        `json:"total_net_amount"`
	TotalApproved  float64        `json:"total_approved"`
	GeneratedAt    time.Time      `json:"generated_at"`
}
