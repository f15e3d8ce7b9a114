package arbitrator

import "time"

// Status is the lifecycle of a dispute row on the arbitration side.
type Status string

const (
	StatusOpen  Status = "open"
	StatusRuled Status = "ruled"
)

// Record mirrors the disputes table.
type Record struct {
	ID        uint64
	EscrowID  string
	Choices   int
	Status    Status
	Ruling    *int16
	CreatedAt time.Time
	RuledAt   *time.Time
}
