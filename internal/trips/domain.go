package trips

import "time"

// Direction describes who performed a trip relative to its owner record.
type Direction string

const (
	// DirectionOwnerToCounterparty means the owning operator ran the trip for
	// the counterparty, so the counterparty owes the owner.
	DirectionOwnerToCounterparty Direction = "OWNER_TO_COUNTERPARTY"
	// DirectionCounterpartyToOwner means the counterparty ran the trip for the
	// owner, so the owner owes the counterparty.
	DirectionCounterpartyToOwner Direction = "COUNTERPARTY_TO_OWNER"
)

// Status enumerates trip lifecycle states. Only completed trips qualify for
// netting; every other state is excluded at read time.
type Status string

const (
	StatusScheduled Status = "SCHEDULED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
)

// Trip is the read-only view of an exchanged trip as consumed by the
// settlement engine. Material, origin and destination are display metadata
// passed through untouched.
type Trip struct {
	ID             int64
	OwnerID        int64
	CounterpartyID int64
	Direction      Direction
	Amount         float64
	OccurredOn     time.Time
	Material       string
	Origin         string
	Destination    string
	Status         Status
}
