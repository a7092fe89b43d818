// Package seatboard keeps a read view of the seats left on every open ride,
// fed by lifecycle events.
package seatboard

import (
	"context"
	"time"

	"github.com/example/carpool/internal/models"
)

type Entry struct {
	RideID    int64             `json:"ride_id"`
	Seq       int64             `json:"seq"`
	Status    models.RideStatus `json:"status"`
	Allowed   int               `json:"allowed_spaces"`
	Committed int               `json:"committed_spaces"`
	Left      int               `json:"seats_left"`
	Updated   time.Time         `json:"updated"`
}

// Board is the minimal interface required by the consumer and handlers.
// Apply ignores events older than the last one applied for the same ride.
type Board interface {
	Apply(ctx context.Context, ev models.Event) error
	// MostSeats lists open rides with the most seats left first.
	MostSeats(ctx context.Context, limit int) ([]Entry, error)
}

func entryFor(ev models.Event) Entry {
	return Entry{
		RideID:    ev.RideID,
		Seq:       ev.Seq,
		Status:    ev.RideStatus,
		Allowed:   ev.AllowedSpaces,
		Committed: ev.CommittedSpaces,
		Left:      ev.SeatsLeft(),
		Updated:   ev.At,
	}
}
