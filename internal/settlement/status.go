package settlement

// amountEpsilon absorbs float accumulation noise in money comparisons.
const amountEpsilon = 1e-9

// ApprovedTotal sums the amounts of approved payments.
func (s *Settlement) ApprovedTotal() float64 {
	var total float64
	for _, p := range s.Payments {
		if p.Status == PaymentApproved {
			total += p.Amount
		}
	}
	return total
}

// RemainingDue is the net amount minus the approved total, floored at zero.
func (s *Settlement) RemainingDue() float64 {
	due := s.NetAmount - s.ApprovedTotal()
	if due < 0 {
		return 0
	}
	return due
}

// DeriveStatus computes the settlement's overall status from the payment
// ledger and the net obligation. The result is never persisted, so stale
// snapshots cannot disagree with the ledger.
func (s *Settlement) DeriveStatus() Status {
	if s.Cancelled {
		return StatusCancelled
	}
	if s.NetAmount <= amountEpsilon {
		return StatusCompleted
	}
	approved := s.ApprovedTotal()
	switch {
	case approved <= amountEpsilon:
		return StatusPending
	case approved < s.NetAmount-amountEpsilon:
		return StatusPartiallyPaid
	default:
		return StatusCompleted
	}
}
