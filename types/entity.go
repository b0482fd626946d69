package types

import "time"

// Entity carries the creation and last-update times of a stored record.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntityAt creates an Entity stamped with the given time.
func NewEntityAt(at time.Time) Entity {
	at = at.UTC()
	return Entity{CreatedAt: at, UpdatedAt: at}
}

// TouchAt sets UpdatedAt to the given time.
func (e *Entity) TouchAt(at time.Time) {
	e.UpdatedAt = at.UTC()
}
