package settlement

import (
	"context"
	"strconv"
	"time"

	"github.com/fleetpact/fleetpact/internal/shared"
	"github.com/fleetpact/fleetpact/internal/trips"
	"github.com/google/uuid"
)

// Audit action names recorded against settlements and payments.
const (
	auditActionMaterialize      = "settlement.materialize"
	auditActionCancelSettlement = "settlement.cancel"
	auditActionDeleteSettlement = "settlement.delete"
	auditActionSubmitPayment    = "payment.submit"
	auditActionApprovePayment   = "payment.approve"
	auditActionRejectPayment    = "payment.reject"
	auditActionCancelPayment    = "payment.cancel"
)

// Service implements the settlement reconciliation engine: netting previews,
// materialization, the payment approval workflow and derived reads.
type Service struct {
	repo  Repository
	trips trips.Ledger
	audit *shared.AuditLogger
	cache *Cache
	now   func() time.Time
}

// NewService builds the settlement service. Audit logger and cache may be nil.
func NewService(repo Repository, ledger trips.Ledger, audit *shared.AuditLogger, cache *Cache) *Service {
	return &Service{
		repo:  repo,
		trips: ledger,
		audit: audit,
		cache: cache,
		now:   time.Now,
	}
}

// Preview runs the netting calculator without persisting anything. Calling it
// repeatedly with the same inputs yields the same result as long as no
// settlement consumes any of the same trips in between.
func (s *Service) Preview(ctx context.Context, partyA, partyB int64, periodStart, periodEnd time.Time) (NettingResult, error) {
	if partyA == 0 || partyB == 0 || partyA == partyB {
		return NettingResult{}, ErrInvalidParties
	}
	if periodStart.IsZero() || periodEnd.IsZero() || periodStart.After(periodEnd) {
		return NettingResult{}, ErrInvalidRange
	}
	qualifying, err := s.trips.ListCompletedBetween(ctx, partyA, partyB, periodStart, periodEnd)
	if err != nil {
		return NettingResult{}, err
	}
	return ComputeNetting(partyA, partyB, periodStart, periodEnd, qualifying), nil
}

// Materialize freezes a previously computed netting result into a persisted
// settlement, claiming every referenced trip. The claim check re-runs inside
// the creating transaction, so a concurrent settlement over overlapping trips
// fails with TripsAlreadySettledError instead of double-counting.
func (s *Service) Materialize(ctx context.Context, input MaterializeInput) (*Settlement, error) {
	result := input.Result
	if result.PartyA == 0 || result.PartyB == 0 || result.PartyA == result.PartyB {
		return nil, ErrInvalidParties
	}
	if result.PeriodStart.IsZero() || result.PeriodEnd.IsZero() || result.PeriodStart.After(result.PeriodEnd) {
		return nil, ErrInvalidRange
	}

	// Caller-supplied totals are never trusted; the frozen refs are reduced
	// again before anything persists.
	reduceTotals(&result)

	// A preview silently drops trips another settlement already claimed, so
	// an empty or partial result over a settled window must not freeze a
	// duplicate. Surface those trips as the conflict instead.
	claimed, err := s.trips.ClaimedCompletedBetween(ctx, result.PartyA, result.PartyB, result.PeriodStart, result.PeriodEnd)
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		return nil, &TripsAlreadySettledError{TripIDs: claimed}
	}

	var settlementID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		ids := make([]int64, 0, len(result.Trips))
		for _, ref := range result.Trips {
			ids = append(ids, ref.TripID)
		}
		claimed, err := tx.ClaimedTripIDs(ctx, ids)
		if err != nil {
			return err
		}
		if len(claimed) > 0 {
			return &TripsAlreadySettledError{TripIDs: claimed}
		}

		settlementID, err = tx.CreateSettlement(ctx, CreateSettlementRecord{
			PartyA:      result.PartyA,
			PartyB:      result.PartyB,
			PeriodStart: result.PeriodStart,
			PeriodEnd:   result.PeriodEnd,
			AToBTotal:   result.AToBTotal,
			BToATotal:   result.BToATotal,
			NetAmount:   result.NetAmount,
			PayableBy:   result.PayableBy,
			Notes:       input.Notes,
			CreatedBy:   input.CreatedBy,
		})
		if err != nil {
			return err
		}
		return tx.InsertTripRefs(ctx, settlementID, result.Trips)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.CreatedBy, auditActionMaterialize, "settlement", settlementID, map[string]any{
		"party_a":    result.PartyA,
		"party_b":    result.PartyB,
		"net_amount": result.NetAmount,
		"trips":      len(result.Trips),
	})
	s.bumpCache(ctx)
	return s.repo.GetSettlement(ctx, settlementID)
}

// Get loads a settlement with its frozen trip breakdown and payment ledger.
func (s *Service) Get(ctx context.Context, id int64) (*Settlement, error) {
	return s.repo.GetSettlement(ctx, id)
}

// List returns settlement headers, optionally filtered by participant.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Settlement, error) {
	return s.repo.ListSettlements(ctx, req)
}

// Cancel administratively cancels a settlement, freezing its payment ledger.
// Derived status short-circuits to Cancelled from then on.
func (s *Service) Cancel(ctx context.Context, id, actor int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		settlement, err := tx.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !settlement.HasParty(actor) {
			return ErrNotAuthorized
		}
		if settlement.Cancelled {
			return ErrAlreadyCancelled
		}
		return tx.CancelSettlement(ctx, id, actor, s.now())
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, auditActionCancelSettlement, "settlement", id, nil)
	s.bumpCache(ctx)
	return nil
}

// Delete removes a settlement and releases its trip claims so the trips become
// eligible for a future netting run. Refused once any payment is approved,
// protecting the historical accounting.
func (s *Service) Delete(ctx context.Context, id, actor int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		settlement, err := tx.GetSettlementForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !settlement.HasParty(actor) {
			return ErrNotAuthorized
		}
		for _, p := range settlement.Payments {
			if p.Status == PaymentApproved {
				return ErrHasApprovedPayments
			}
		}
		return tx.DeleteSettlement(ctx, id)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, auditActionDeleteSettlement, "settlement", id, nil)
	s.bumpCache(ctx)
	return nil
}

// SubmitPayment appends a pending payment claim. Only the debtor party may
// submit, the parties must match the settlement's debtor/creditor pair, and
// the amount is checked against the remaining due at submission time.
func (s *Service) SubmitPayment(ctx context.Context, input SubmitPaymentInput) (*Payment, error) {
	if input.Actor == 0 || input.Actor != input.PaidBy {
		return nil, ErrNotAuthorized
	}
	if !ValidMethod(input.Method) {
		return nil, ErrInvalidMethod
	}

	var paymentID int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		settlement, err := tx.GetSettlementForUpdate(ctx, input.SettlementID)
		if err != nil {
			return err
		}
		if settlement.Cancelled {
			return ErrCancelled
		}
		if settlement.PayableBy == 0 {
			return ErrNothingOwed
		}
		if input.PaidBy != settlement.PayableBy || input.PaidTo != settlement.CounterpartyOf(settlement.PayableBy) {
			return ErrWrongParties
		}
		if input.Amount <= 0 {
			return ErrInvalidAmount
		}
		if due := settlement.RemainingDue(); input.Amount > due+amountEpsilon {
			return &ExceedsRemainingDueError{RemainingDue: due}
		}

		submittedOn := input.SubmittedOn
		if submittedOn.IsZero() {
			submittedOn = s.now()
		}
		reference := input.Reference
		if reference == "" {
			reference = uuid.NewString()
		}
		paymentID, err = tx.CreatePayment(ctx, CreatePaymentRecord{
			SettlementID: input.SettlementID,
			Reference:    reference,
			Amount:       input.Amount,
			PaidBy:       input.PaidBy,
			PaidTo:       input.PaidTo,
			Method:       input.Method,
			SubmittedOn:  submittedOn,
			Notes:        input.Notes,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, input.Actor, auditActionSubmitPayment, "payment", paymentID, map[string]any{
		"settlement_id": input.SettlementID,
		"amount":        input.Amount,
	})
	s.bumpCache(ctx)
	return s.repo.GetPayment(ctx, paymentID)
}

// ApprovePayment transitions a pending payment to Approved. Only the creditor
// may approve. The approved total is re-validated against the net amount under
// the settlement lock, so two racing approvals cannot overshoot together: the
// second one fails with ErrWouldExceedNetAmount.
func (s *Service) ApprovePayment(ctx context.Context, paymentID, actor int64) error {
	err := s.withPaymentTx(ctx, paymentID, func(ctx context.Context, tx TxRepository, settlement *Settlement, payment *Payment) error {
		if settlement.Cancelled {
			return ErrCancelled
		}
		if actor != payment.PaidTo {
			return ErrNotAuthorized
		}
		if payment.Status != PaymentPending {
			return ErrNotPending
		}
		if settlement.ApprovedTotal()+payment.Amount > settlement.NetAmount+amountEpsilon {
			return ErrWouldExceedNetAmount
		}
		return tx.UpdatePaymentStatus(ctx, paymentID, PaymentApproved, "", s.now())
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, auditActionApprovePayment, "payment", paymentID, nil)
	s.bumpCache(ctx)
	return nil
}

// RejectPayment transitions a pending payment to Rejected with a mandatory
// reason. Only the creditor may reject. No ledger effect.
func (s *Service) RejectPayment(ctx context.Context, paymentID int64, reason string, actor int64) error {
	if reason == "" {
		return ErrRejectionReasonRequired
	}
	err := s.withPaymentTx(ctx, paymentID, func(ctx context.Context, tx TxRepository, settlement *Settlement, payment *Payment) error {
		if settlement.Cancelled {
			return ErrCancelled
		}
		if actor != payment.PaidTo {
			return ErrNotAuthorized
		}
		if payment.Status != PaymentPending {
			return ErrNotPending
		}
		return tx.UpdatePaymentStatus(ctx, paymentID, PaymentRejected, reason, s.now())
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, auditActionRejectPayment, "payment", paymentID, map[string]any{"reason": reason})
	s.bumpCache(ctx)
	return nil
}

// CancelPayment lets the submitter withdraw a claim before it is decided.
func (s *Service) CancelPayment(ctx context.Context, paymentID, actor int64) error {
	err := s.withPaymentTx(ctx, paymentID, func(ctx context.Context, tx TxRepository, settlement *Settlement, payment *Payment) error {
		if actor != payment.PaidBy {
			return ErrNotAuthorized
		}
		if payment.Status != PaymentPending {
			return ErrNotPending
		}
		return tx.UpdatePaymentStatus(ctx, paymentID, PaymentCancelled, "", s.now())
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, auditActionCancelPayment, "payment", paymentID, nil)
	s.bumpCache(ctx)
	return nil
}

// withPaymentTx locks the payment's settlement, re-reads the payment under
// that lock and runs fn. Every payment transition serializes here, which is
// what makes the approval-time overpayment re-check race free.
func (s *Service) withPaymentTx(ctx context.Context, paymentID int64, fn func(context.Context, TxRepository, *Settlement, *Payment) error) error {
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		payment, err := tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		settlement, err := tx.GetSettlementForUpdate(ctx, payment.SettlementID)
		if err != nil {
			return err
		}
		// Re-read after the lock: the first read raced any in-flight
		// transition on the same settlement.
		payment, err = tx.GetPayment(ctx, paymentID)
		if err != nil {
			return err
		}
		return fn(ctx, tx, settlement, payment)
	})
}

func (s *Service) recordAudit(ctx context.Context, actor int64, action, entity string, entityID int64, meta map[string]any) {
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
		At:       s.now(),
	})
}

func (s *Service) bumpCache(ctx context.Context) {
	if s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
}
