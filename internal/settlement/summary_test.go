package settlement

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/fleetpact/fleetpact/internal/trips"
)

func newCachedTestService(t *testing.T, fixtures ...trips.Trip) (*Service, *memoryRepo) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	repo := newMemoryRepo()
	ledger := &stubLedger{repo: repo, trips: fixtures}
	return NewService(repo, ledger, nil, NewCache(client, time.Minute)), repo
}

func TestSummaryFold(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCachedTestService(t,
		tripFixture(1, 1, 2, trips.DirectionOwnerToCounterparty, 1000, 10),
		tripFixture(2, 1, 3, trips.DirectionOwnerToCounterparty, 200, 11),
	)

	first, err := svc.Preview(ctx, 1, 2, periodStart, periodEnd)
	require.NoError(t, err)
	_, err = svc.Materialize(ctx, MaterializeInput{Result: first, CreatedBy: 1})
	require.NoError(t, err)

	second, err := svc.Preview(ctx, 1, 3, periodStart, periodEnd)
	require.NoError(t, err)
	_, err = svc.Materialize(ctx, MaterializeInput{Result: second, CreatedBy: 1})
	require.NoError(t, err)

	summary, err := svc.Summary(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), summary.Party)
	require.Equal(t, 2, summary.Counts[StatusPending])
	require.InDelta(t, 1200, summary.TotalNetAmount, 0.001)
	require.InDelta(t, 0, summary.TotalApproved, 0.001)

	// Party 3 only participates in the second settlement.
	other, err := svc.Summary(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, 1, other.Counts[StatusPending])
	require.InDelta(t, 200, other.TotalNetAmount, 0.001)

	_, err = svc.Summary(ctx, 0)
	require.ErrorIs(t, err, ErrInvalidParties)
}

func TestSummaryCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newCachedTestService(t,
		tripFixture(1, 1, 2, trips.DirectionOwnerToCounterparty, 1000, 10),
	)

	result, err := svc.Preview(ctx, 1, 2, periodStart, periodEnd)
	require.NoError(t, err)
	created, err := svc.Materialize(ctx, MaterializeInput{Result: result, CreatedBy: 1})
	require.NoError(t, err)

	before, err := svc.Summary(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 1, before.Counts[StatusPending])

	// Served from cache: identical generated-at timestamp.
	cached, err := svc.Summary(ctx, 1)
	require.NoError(t, err)
	require.True(t, cached.GeneratedAt.Equal(before.GeneratedAt))

	payment, err := svc.SubmitPayment(ctx, SubmitPaymentInput{
		SettlementID: created.ID, Amount: 1000, PaidBy: 2, PaidTo: 1, Method: MethodBankTransfer, Actor: 2,
	})
	require.NoError(t, err)
	require.NoError(t, svc.ApprovePayment(ctx, payment.ID, 1))

	// The approval bumped the cache version; the next read refolds.
	after, err := svc.Summary(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, 0, after.Counts[StatusPending])
	require.Equal(t, 1, after.Counts[StatusCompleted])
	require.InDelta(t, 1000, after.TotalApproved, 0.001)
}
