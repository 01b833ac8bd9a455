package settlement

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		name       string
		settlement Settlement
		want       Status
	}{
		{
			name:       "zero net is completed without payments",
			settlement: Settlement{NetAmount: 0},
			want:       StatusCompleted,
		},
		{
			name:       "no approved payments is pending",
			settlement: Settlement{NetAmount: 1100, Payments: []Payment{{Amount: 600, Status: PaymentPending}}},
			want:       StatusPending,
		},
		{
			name:       "partial approval",
			settlement: Settlement{NetAmount: 1100, Payments: []Payment{{Amount: 600, Status: PaymentApproved}}},
			want:       StatusPartiallyPaid,
		},
		{
			name: "fully approved",
			settlement: Settlement{NetAmount: 1100, Payments: []Payment{
				{Amount: 600, Status: PaymentApproved},
				{Amount: 500, Status: PaymentApproved},
			}},
			want: StatusCompleted,
		},
		{
			name: "rejected and cancelled claims do not count",
			settlement: Settlement{NetAmount: 1100, Payments: []Payment{
				{Amount: 1100, Status: PaymentRejected},
				{Amount: 1100, Status: PaymentCancelled},
			}},
			want: StatusPending,
		},
		{
			name: "cancellation wins over everything",
			settlement: Settlement{NetAmount: 1100, Cancelled: true, Payments: []Payment{
				{Amount: 1100, Status: PaymentApproved},
			}},
			want: StatusCancelled,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.settlement.DeriveStatus())
		})
	}
}

func TestRemainingDue(t *testing.T) {
	s := Settlement{NetAmount: 1100, Payments: []Payment{
		{Amount: 600, Status: PaymentApproved},
		{Amount: 300, Status: PaymentPending},
	}}
	require.InDelta(t, 500, s.RemainingDue(), 0.001)
	require.InDelta(t, 600, s.ApprovedTotal(), 0.001)

	// Over-approval is floored rather than going negative.
	s.Payments = append(s.Payments, Payment{Amount: 700, Status: PaymentApproved})
	require.InDelta(t, 0, s.RemainingDue(), 0.001)
}

func TestPaymentStatusTerminal(t *testing.T) {
	require.False(t, PaymentPending.Terminal())
	require.True(t, PaymentApproved.Terminal())
	require.True(t, PaymentRejected.Terminal())
	require.True(t, PaymentCancelled.Terminal())
}
