package settlement

import (
	"math"
	"time"

	"github.com/fleetpact/fleetpact/internal/trips"
)

// ComputeNetting partitions the given trips by direction relative to partyA,
// sums each side and derives the net obligation. Pure function: callers fetch
// qualifying trips first, so repeated runs over the same inputs yield the same
// result.
func ComputeNetting(partyA, partyB int64, periodStart, periodEnd time.Time, qualifying []trips.Trip) NettingResult {
	result := NettingResult{
		PartyA:      partyA,
		PartyB:      partyB,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
	}

	for _, t := range qualifying {
		ref := TripRef{
			TripID:      t.ID,
			Amount:      t.Amount,
			OccurredOn:  t.OccurredOn,
			Material:    t.Material,
			Origin:      t.Origin,
			Destination: t.Destination,
			Direction:   directionRelativeTo(partyA, t),
		}
		result.Trips = append(result.Trips, ref)
	}

	reduceTotals(&result)
	return result
}

// reduceTotals derives the per-direction sums, net amount and payable side
// from the trip refs. The refs are the single source of truth for the frozen
// numbers; Materialize re-runs this so a tampered NettingResult cannot
// persist totals its own trips do not add up to.
func reduceTotals(result *NettingResult) {
	result.AToBTotal, result.BToATotal = 0, 0
	for _, ref := range result.Trips {
		switch ref.Direction {
		case DirectionAToB:
			result.AToBTotal += ref.Amount
		case DirectionBToA:
			result.BToATotal += ref.Amount
		}
	}
	result.NetAmount = math.Abs(result.AToBTotal - result.BToATotal)
	switch {
	case result.AToBTotal < result.BToATotal:
		result.PayableBy = result.PartyA
	case result.BToATotal < result.AToBTotal:
		result.PayableBy = result.PartyB
	default:
		// Exact tie nets to zero and names no debtor.
		result.PayableBy = 0
	}
}

// directionRelativeTo maps a trip's owner-relative direction onto the
// settlement's A/B labeling. A trip performed by partyA for partyB is A_TO_B
// regardless of which side owns the trip record.
func directionRelativeTo(partyA int64, t trips.Trip) RefDirection {
	performedByOwner := t.Direction == trips.DirectionOwnerToCounterparty
	ownerIsA := t.OwnerID == partyA
	if performedByOwner == ownerIsA {
		return DirectionAToB
	}
	return DirectionBToA
}
