package shared

import "context"

type partyContextKey struct{}

// ContextWithParty stores the acting party identifier in context.
func ContextWithParty(ctx context.Context, partyID int64) context.Context {
	return context.WithValue(ctx, partyContextKey{}, partyID)
}

// PartyFromContext extracts the acting party identifier from context.
// Zero means no party was attached.
func PartyFromContext(ctx context.Context) int64 {
	id, _ := ctx.Value(partyContextKey{}).(int64)
	return id
}
