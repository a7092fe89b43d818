package lifecycle

import (
	"context"
	"errors"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/observability"
	"github.com/example/carpool/internal/storage"
)

// outcome collects what a committed transition changed, for events and
// metrics.
type outcome struct {
	ride      models.Ride
	committed int
	moves     []models.ParticipationMove
}

func (o *outcome) move(p *models.Participation, to models.ParticipationStatus) error {
	from := p.Status
	if err := p.Advance(to); err != nil {
		return err
	}
	o.moves = append(o.moves, models.ParticipationMove{
		ParticipationID: p.ID,
		ParticipantID:   p.ParticipantID,
		OccupiedSpaces:  p.OccupiedSpaces,
		From:            from,
		To:              to,
	})
	return nil
}

// stamp bumps the ride version inside the unit of work, giving the event
// its place in the ride's history even if sinks see it late.
func (o *outcome) stamp(ctx context.Context, tx storage.Tx) error {
	v, err := tx.BumpRideVersion(ctx, o.ride.ID)
	if err != nil {
		return err
	}
	o.ride.Version = v
	return nil
}

func (e *Engine) commit(ctx context.Context, typ models.EventType, o outcome, rideMoved bool) {
	if rideMoved {
		observability.RideTransitions.WithLabelValues(string(o.ride.Status)).Inc()
	}
	for _, m := range o.moves {
		observability.ParticipationTransitions.WithLabelValues(string(m.To)).Inc()
	}
	e.emit(ctx, typ, o.ride, o.committed, o.moves)
}

// RequestToJoin records a rider's request for seats on a driver's ride.
func (e *Engine) RequestToJoin(ctx context.Context, driverAlias string, rideID int64, participantAlias, destination string, occupiedSpaces int) (models.Participation, error) {
	var (
		p models.Participation
		o outcome
	)
	err := e.store.WithinTx(ctx, func(tx storage.Tx) error {
		driver, ride, err := e.resolveOwnedRide(ctx, tx, driverAlias, rideID, true)
		if err != nil {
			return err
		}
		if ride.Status != models.RideReady {
			return models.Fail(models.ErrNotReady, "Ride is not ready to accept requests")
		}
		rider, err := e.users.Resolve(ctx, tx, participantAlias, "Participant not found")
		if err != nil {
			return err
		}
		if rider.ID == driver.ID {
			return models.Fail(models.ErrSelfJoin, "Driver cannot join their own ride")
		}
		if _, err := tx.ParticipationFor(ctx, ride.ID, rider.ID); err == nil {
			return errDuplicate
		} else if !errors.Is(err, storage.ErrNotFound) {
			return err
		}

		p = models.Participation{
			RideID:         ride.ID,
			ParticipantID:  rider.ID,
			Destination:    destination,
			OccupiedSpaces: occupiedSpaces,
			Status:         models.ParticipationWaiting,
		}
		if err := tx.InsertParticipation(ctx, &p); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return errDuplicate
			}
			return err
		}
		parts, err := tx.ParticipationsByRide(ctx, ride.ID)
		if err != nil {
			return err
		}
		o = outcome{ride: ride, committed: models.CommittedSpaces(parts)}
		o.moves = append(o.moves, models.ParticipationMove{
			ParticipationID: p.ID,
			ParticipantID:   p.ParticipantID,
			OccupiedSpaces:  p.OccupiedSpaces,
			To:              models.ParticipationWaiting,
		})
		return o.stamp(ctx, tx)
	})
	if err != nil {
		return models.Participation{}, err
	}
	e.commit(ctx, models.EventJoinRequested, o, false)
	return p, nil
}

var errDuplicate = models.Fail(models.ErrDuplicateRequest, "Participant has already requested to join this ride")

// AcceptRequest confirms a waiting request if the seats it asks for still
// fit next to the requests already confirmed.
func (e *Engine) AcceptRequest(ctx context.Context, driverAlias string, rideID int64, participantAlias string) (models.Participation, error) {
	var (
		p models.Participation
		o outcome
	)
	err := e.store.WithinTx(ctx, func(tx storage.Tx) error {
		_, ride, err := e.resolveOwnedRide(ctx, tx, driverAlias, rideID, true)
		if err != nil {
			return err
		}
		p, err = e.waitingRequest(ctx, tx, ride, participantAlias)
		if err != nil {
			return err
		}
		parts, err := tx.ParticipationsByRide(ctx, ride.ID)
		if err != nil {
			return err
		}
		confirmed := 0
		for _, other := range parts {
			if other.ID != p.ID && other.Status == models.ParticipationConfirmed {
				confirmed += other.OccupiedSpaces
			}
		}
		if confirmed+p.OccupiedSpaces > ride.AllowedSpaces {
			return models.Fail(models.ErrNoCapacity, "Not enough spaces available")
		}

		o = outcome{ride: ride}
		if err := o.move(&p, models.ParticipationConfirmed); err != nil {
			return err
		}
		at := e.now().UTC()
		p.ConfirmedAt = &at
		if err := tx.UpdateParticipation(ctx, p); err != nil {
			return err
		}
		o.committed = confirmed + p.OccupiedSpaces
		return o.stamp(ctx, tx)
	})
	if err != nil {
		return models.Participation{}, err
	}
	e.commit(ctx, models.EventRequestAccepted, o, false)
	return p, nil
}

func (e *Engine) RejectRequest(ctx context.Context, driverAlias string, rideID int64, participantAlias string) (models.Participation, error) {
	var (
		p models.Participation
		o outcome
	)
	err := e.store.WithinTx(ctx, func(tx storage.Tx) error {
		_, ride, err := e.resolveOwnedRide(ctx, tx, driverAlias, rideID, true)
		if err != nil {
			return err
		}
		p, err = e.waitingRequest(ctx, tx, ride, participantAlias)
		if err != nil {
			return err
		}
		o = outcome{ride: ride}
		if err := o.move(&p, models.ParticipationRejected); err != nil {
			return err
		}
		if err := tx.UpdateParticipation(ctx, p); err != nil {
			return err
		}
		parts, err := tx.ParticipationsByRide(ctx, ride.ID)
		if err != nil {
			return err
		}
		o.committed = models.CommittedSpaces(parts)
		return o.stamp(ctx, tx)
	})
	if err != nil {
		return models.Participation{}, err
	}
	e.commit(ctx, models.EventRequestRejected, o, false)
	return p, nil
}

func (e *Engine) waitingRequest(ctx context.Context, tx storage.Tx, ride models.Ride, participantAlias string) (models.Participation, error) {
	rider, err := e.users.Resolve(ctx, tx, participantAlias, "Participant not found")
	if err != nil {
		return models.Participation{}, err
	}
	p, err := tx.ParticipationFor(ctx, ride.ID, rider.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return models.Participation{}, models.Fail(models.ErrNotFound, "Participation request not found")
	}
	if err != nil {
		return models.Participation{}, err
	}
	if p.Status != models.ParticipationWaiting {
		return models.Participation{}, models.Fail(models.ErrInvalidState, "Participation request is not waiting for confirmation")
	}
	return p, nil
}

// StartRide puts the ride on the road. Confirmed riders board; everyone
// else on the ride is marked missing.
func (e *Engine) StartRide(ctx context.Context, driverAlias string, rideID int64) (models.Ride, error) {
	var o outcome
	err := e.store.WithinTx(ctx, func(tx storage.Tx) error {
		_, ride, err := e.resolveOwnedRide(ctx, tx, driverAlias, rideID, true)
		if err != nil {
			return err
		}
		parts, err := tx.ParticipationsByRide(ctx, ride.ID)
		if err != nil {
			return err
		}
		for _, p := range parts {
			if p.Status == models.ParticipationWaiting {
				return models.Fail(models.ErrPendingRequests, "There are pending participation requests")
			}
		}
		if err := ride.Advance(models.RideInProgress); err != nil {
			return models.Fail(models.ErrInvalidState, "Ride is not ready to start")
		}
		if err := tx.UpdateRideStatus(ctx, ride.ID, ride.Status); err != nil {
			return err
		}

		o = outcome{ride: ride}
		for i := range parts {
			to := models.ParticipationMissing
			if parts[i].Status == models.ParticipationConfirmed {
				to = models.ParticipationInProgress
			}
			if err := o.move(&parts[i], to); err != nil {
				return err
			}
			if err := tx.UpdateParticipation(ctx, parts[i]); err != nil {
				return err
			}
		}
		o.committed = models.CommittedSpaces(parts)
		return o.stamp(ctx, tx)
	})
	if err != nil {
		return models.Ride{}, err
	}
	e.commit(ctx, models.EventRideStarted, o, true)
	return o.ride, nil
}

// EndRide closes the ride. Riders still aboard were never unloaded and end
// up notmarked.
func (e *Engine) EndRide(ctx context.Context, driverAlias string, rideID int64) (models.Ride, error) {
	var o outcome
	err := e.store.WithinTx(ctx, func(tx storage.Tx) error {
		_, ride, err := e.resolveOwnedRide(ctx, tx, driverAlias, rideID, true)
		if err != nil {
			return err
		}
		if err := ride.Advance(models.RideDone); err != nil {
			return models.Fail(models.ErrInvalidState, "Ride is not in progress")
		}
		if err := tx.UpdateRideStatus(ctx, ride.ID, ride.Status); err != nil {
			return err
		}
		parts, err := tx.ParticipationsByRide(ctx, ride.ID)
		if err != nil {
			return err
		}
		o = outcome{ride: ride}
		for i := range parts {
			if parts[i].Status != models.ParticipationInProgress {
				continue
			}
			if err := o.move(&parts[i], models.ParticipationNotMarked); err != nil {
				return err
			}
			if err := tx.UpdateParticipation(ctx, parts[i]); err != nil {
				return err
			}
		}
		o.committed = models.CommittedSpaces(parts)
		return o.stamp(ctx, tx)
	})
	if err != nil {
		return models.Ride{}, err
	}
	e.commit(ctx, models.EventRideEnded, o, true)
	return o.ride, nil
}

// UnloadParticipant marks a rider as dropped off. The ride is looked up by
// id alone: riders unload themselves without naming the driver.
func (e *Engine) UnloadParticipant(ctx context.Context, participantAlias string, rideID int64) (models.Participation, error) {
	var (
		p models.Participation
		o outcome
	)
	err := e.store.WithinTx(ctx, func(tx storage.Tx) error {
		rider, err := e.users.Resolve(ctx, tx, participantAlias, "Participant not found")
		if err != nil {
			return err
		}
		ride, err := tx.LockRide(ctx, rideID)
		if errors.Is(err, storage.ErrNotFound) {
			return models.Fail(models.ErrNotFound, "Ride not found")
		}
		if err != nil {
			return err
		}
		p, err = tx.ParticipationFor(ctx, ride.ID, rider.ID)
		if errors.Is(err, storage.ErrNotFound) {
			return models.Fail(models.ErrNotFound, "Participant not in this ride")
		}
		if err != nil {
			return err
		}
		if p.Status != models.ParticipationInProgress {
			return models.Fail(models.ErrInvalidState, "Participant is not in an in-progress ride")
		}
		o = outcome{ride: ride}
		if err := o.move(&p, models.ParticipationDone); err != nil {
			return err
		}
		if err := tx.UpdateParticipation(ctx, p); err != nil {
			return err
		}
		parts, err := tx.ParticipationsByRide(ctx, ride.ID)
		if err != nil {
			return err
		}
		o.committed = models.CommittedSpaces(parts)
		return o.stamp(ctx, tx)
	})
	if err != nil {
		return models.Participation{}, err
	}
	e.commit(ctx, models.EventParticipantUnloaded, o, false)
	return p, nil
}
