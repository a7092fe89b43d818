package storage

import (
	"context"
	"errors"

	"github.com/example/carpool/internal/models"
)

var (
	ErrNotFound  = errors.New("storage: record not found")
	ErrDuplicate = errors.New("storage: duplicate record")

	errReadOnly = errors.New("storage: write in read-only unit of work")
)

// Store runs units of work against users, rides and participations. Every
// change made through the Tx passed to WithinTx commits together or not at
// all.
type Store interface {
	WithinTx(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
	Close() error
}

// RideFilter narrows ListRides. A zero Limit means no limit.
type RideFilter struct {
	Status   models.RideStatus
	DriverID int64
	Offset   int
	Limit    int
}

type Tx interface {
	InsertUser(ctx context.Context, u *models.User) error
	UserByID(ctx context.Context, id int64) (models.User, error)
	UserByAlias(ctx context.Context, alias string) (models.User, error)
	ListUsers(ctx context.Context, offset, limit int) ([]models.User, error)

	InsertRide(ctx context.Context, r *models.Ride) error
	RideByID(ctx context.Context, id int64) (models.Ride, error)
	// LockRide reads the ride and holds it until the unit of work ends, so
	// decisions about one ride are taken one at a time.
	LockRide(ctx context.Context, id int64) (models.Ride, error)
	UpdateRideStatus(ctx context.Context, id int64, status models.RideStatus) error
	// BumpRideVersion increments the ride's version and returns the new
	// value. Callers hold the ride lock.
	BumpRideVersion(ctx context.Context, id int64) (int64, error)
	ListRides(ctx context.Context, f RideFilter) ([]models.Ride, error)

	InsertParticipation(ctx context.Context, p *models.Participation) error
	ParticipationsByRide(ctx context.Context, rideID int64) ([]models.Participation, error)
	ParticipationFor(ctx context.Context, rideID, participantID int64) (models.Participation, error)
	UpdateParticipation(ctx context.Context, p models.Participation) error
}
