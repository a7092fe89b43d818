// Package lifecycle owns rides and participations: who may move them, which
// moves are legal and how seats are accounted for.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/registry"
	"github.com/example/carpool/internal/storage"
)

// EventSink receives lifecycle events after their unit of work committed.
type EventSink interface {
	Publish(ctx context.Context, ev models.Event)
}

type nopSink struct{}

func (nopSink) Publish(context.Context, models.Event) {}

type Engine struct {
	store storage.Store
	users *registry.Registry
	sink  EventSink
	now   func() time.Time
}

type Option func(*Engine)

func WithEventSink(s EventSink) Option {
	return func(e *Engine) {
		if s != nil {
			e.sink = s
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store storage.Store, users *registry.Registry, opts ...Option) *Engine {
	e := &Engine{store: store, users: users, sink: nopSink{}, now: time.Now}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) CreateRide(ctx context.Context, driverAlias string, scheduledAt time.Time, finalAddress string, allowedSpaces int) (models.Ride, error) {
	var ride models.Ride
	err := e.store.WithinTx(ctx, func(tx storage.Tx) error {
		driver, err := e.users.Resolve(ctx, tx, driverAlias, "User not found")
		if err != nil {
			return err
		}
		if !driver.IsDriver() {
			return models.Fail(models.ErrNotDriver, "User is not a driver")
		}
		ride = models.Ride{
			ScheduledAt:   scheduledAt,
			FinalAddress:  finalAddress,
			AllowedSpaces: allowedSpaces,
			DriverID:      driver.ID,
			Status:        models.RideReady,
		}
		return tx.InsertRide(ctx, &ride)
	})
	if err != nil {
		return models.Ride{}, err
	}
	observability.RidesCreated.Inc()
	e.emit(ctx, models.EventRideCreated, ride, 0, nil)
	return ride, nil
}

// ListOpenRides pages through rides still accepting requests.
func (e *Engine) ListOpenRides(ctx context.Context, offset, count int) ([]models.RideDetail, error) {
	if count <= 0 {
		return []models.RideDetail{}, nil
	}
	var out []models.RideDetail
	err := e.store.View(ctx, func(tx storage.Tx) error {
		rides, err := tx.ListRides(ctx, storage.RideFilter{Status: models.RideReady, Offset: offset, Limit: count})
		if err != nil {
			return err
		}
		out, err = e.details(ctx, tx, rides)
		return err
	})
	return out, err
}

func (e *Engine) ListRidesForDriver(ctx context.Context, driverAlias string) ([]models.RideDetail, error) {
	var out []models.RideDetail
	err := e.store.View(ctx, func(tx storage.Tx) error {
		driver, err := e.users.Resolve(ctx, tx, driverAlias, "User not found")
		if err != nil {
			return err
		}
		rides, err := tx.ListRides(ctx, storage.RideFilter{DriverID: driver.ID})
		if err != nil {
			return err
		}
		out, err = e.details(ctx, tx, rides)
		return err
	})
	return out, err
}

// GetRide returns a ride only to the driver who owns it.
func (e *Engine) GetRide(ctx context.Context, driverAlias string, rideID int64) (models.RideDetail, error) {
	var out models.RideDetail
	err := e.store.View(ctx, func(tx storage.Tx) error {
		_, ride, err := e.resolveOwnedRide(ctx, tx, driverAlias, rideID, false)
		if err != nil {
			return err
		}
		details, err := e.details(ctx, tx, []models.Ride{ride})
		if err != nil {
			return err
		}
		out = details[0]
		return nil
	})
	return out, err
}

// resolveOwnedRide finds the driver by alias and the ride by id. A ride
// owned by someone else is reported exactly like a missing one. With lock
// set the ride stays locked until the unit of work ends.
func (e *Engine) resolveOwnedRide(ctx context.Context, tx storage.Tx, driverAlias string, rideID int64, lock bool) (models.User, models.Ride, error) {
	driver, err := e.users.Resolve(ctx, tx, driverAlias, "Driver not found")
	if err != nil {
		return models.User{}, models.Ride{}, err
	}
	var ride models.Ride
	if lock {
		ride, err = tx.LockRide(ctx, rideID)
	} else {
		ride, err = tx.RideByID(ctx, rideID)
	}
	if errors.Is(err, storage.ErrNotFound) || (err == nil && ride.DriverID != driver.ID) {
		return models.User{}, models.Ride{}, models.Fail(models.ErrNotFound, "Ride not found")
	}
	if err != nil {
		return models.User{}, models.Ride{}, err
	}
	return driver, ride, nil
}

func (e *Engine) details(ctx context.Context, tx storage.Tx, rides []models.Ride) ([]models.RideDetail, error) {
	users := make(map[int64]models.User)
	user := func(id int64) (models.User, error) {
		if u, ok := users[id]; ok {
			return u, nil
		}
		u, err := tx.UserByID(ctx, id)
		if err != nil {
			return models.User{}, err
		}
		users[id] = u
		return u, nil
	}

	out := make([]models.RideDetail, 0, len(rides))
	for _, r := range rides {
		driver, err := user(r.DriverID)
		if err != nil {
			return nil, err
		}
		parts, err := tx.ParticipationsByRide(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		d := models.RideDetail{Ride: r, Driver: driver, Participants: make([]models.ParticipationView, 0, len(parts))}
		for _, p := range parts {
			rider, err := user(p.ParticipantID)
			if err != nil {
				return nil, err
			}
			d.Participants = append(d.Participants, models.ParticipationView{Participation: p, Participant: rider})
		}
		out = append(out, d)
	}
	return out, nil
}

func (e *Engine) emit(ctx context.Context, typ models.EventType, ride models.Ride, committed int, moves []models.ParticipationMove) {
	e.sink.Publish(ctx, models.Event{
		ID:              uuid.NewString(),
		Type:            typ,
		RideID:          ride.ID,
		Seq:             ride.Version,
		DriverID:        ride.DriverID,
		RideStatus:      ride.Status,
		AllowedSpaces:   ride.AllowedSpaces,
		CommittedSpaces: committed,
		Changes:         moves,
		At:              e.now().UTC(),
	})
}
