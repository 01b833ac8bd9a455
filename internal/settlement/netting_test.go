package settlement

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/fleetpact/fleetpact/internal/trips"
)

func tripFixture(id, owner, counterparty int64, dir trips.Direction, amount float64, day int) trips.Trip {
	return trips.Trip{
		ID:             id,
		OwnerID:        owner,
		CounterpartyID: counterparty,
		Direction:      dir,
		Amount:         amount,
		OccurredOn:     time.Date(2026, 1, day, 0, 0, 0, 0, time.UTC),
		Material:       "gravel",
		Origin:         "north quarry",
		Destination:    "site 7",
		Status:         trips.StatusCompleted,
	}
}

func TestComputeNettingBasic(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	qualifying := []trips.Trip{
		tripFixture(1, 1, 2, trips.DirectionOwnerToCounterparty, 1000, 10),
		tripFixture(2, 1, 2, trips.DirectionOwnerToCounterparty, 500, 15),
		tripFixture(3, 2, 1, trips.DirectionOwnerToCounterparty, 400, 20),
	}

	result := ComputeNetting(1, 2, start, end, qualifying)
	require.InDelta(t, 1500, result.AToBTotal, 0.001)
	require.InDelta(t, 400, result.BToATotal, 0.001)
	require.InDelta(t, 1100, result.NetAmount, 0.001)
	require.Equal(t, int64(2), result.PayableBy)
	require.Len(t, result.Trips, 3)
	require.Equal(t, DirectionAToB, result.Trips[0].Direction)
	require.Equal(t, DirectionAToB, result.Trips[1].Direction)
	require.Equal(t, DirectionBToA, result.Trips[2].Direction)
}

func TestComputeNettingSymmetry(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	qualifying := []trips.Trip{
		tripFixture(1, 1, 2, trips.DirectionOwnerToCounterparty, 1000, 10),
		tripFixture(2, 1, 2, trips.DirectionOwnerToCounterparty, 500, 15),
		tripFixture(3, 2, 1, trips.DirectionOwnerToCounterparty, 400, 20),
	}

	forward := ComputeNetting(1, 2, start, end, qualifying)
	reverse := ComputeNetting(2, 1, start, end, qualifying)

	require.InDelta(t, forward.NetAmount, reverse.NetAmount, 0.001)
	require.Equal(t, forward.PayableBy, reverse.PayableBy)
	require.InDelta(t, forward.AToBTotal, reverse.BToATotal, 0.001)
	require.InDelta(t, forward.BToATotal, reverse.AToBTotal, 0.001)
}

func TestComputeNettingDirectionLabeling(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	// Trip owned by party 2 but performed by party 1 still counts toward A
	// when party 1 is labeled A.
	qualifying := []trips.Trip{
		tripFixture(9, 2, 1, trips.DirectionCounterpartyToOwner, 250, 12),
	}

	result := ComputeNetting(1, 2, start, end, qualifying)
	require.Equal(t, DirectionAToB, result.Trips[0].Direction)
	require.InDelta(t, 250, result.AToBTotal, 0.001)
	require.InDelta(t, 0, result.BToATotal, 0.001)
	require.Equal(t, int64(2), result.PayableBy)
}

func TestComputeNettingTie(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)
	qualifying := []trips.Trip{
		tripFixture(1, 1, 2, trips.DirectionOwnerToCounterparty, 700, 5),
		tripFixture(2, 2, 1, trips.DirectionOwnerToCounterparty, 700, 6),
	}

	result := ComputeNetting(1, 2, start, end, qualifying)
	require.InDelta(t, 0, result.NetAmount, 0.001)
	require.Equal(t, int64(0), result.PayableBy)
}

func TestComputeNettingEmpty(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2026, 1, 31, 0, 0, 0, 0, time.UTC)

	result := ComputeNetting(1, 2, start, end, nil)
	require.InDelta(t, 0, result.NetAmount, 0.001)
	require.Equal(t, int64(0), result.PayableBy)
	require.Empty(t, result.Trips)
}
