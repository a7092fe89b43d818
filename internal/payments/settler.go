package payments

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool/internal/models"
)

type Gateway interface {
	Hold(ctx context.Context, amount int64, currency, idempotencyKey string) (string, error)
	Capture(ctx context.Context, paymentIntentID string) error
	Cancel(ctx context.Context, paymentIntentID string) error
}

// HoldStore remembers which payment intent backs each participation.
type HoldStore interface {
	Save(ctx context.Context, rideID, participationID int64, intentID string) error
	// Take returns and forgets the intent; ok is false when none was held.
	Take(ctx context.Context, rideID, participationID int64) (intentID string, ok bool, err error)
}

// Settler charges riders per seat: a hold when the driver confirms them,
// capture once they rode, release when they never boarded.
type Settler struct {
	gw       Gateway
	holds    HoldStore
	perSeat  int64
	currency string
	logger   *slog.Logger
}

func NewSettler(gw Gateway, holds HoldStore, perSeatCents int64, currency string, logger *slog.Logger) *Settler {
	return &Settler{gw: gw, holds: holds, perSeat: perSeatCents, currency: currency, logger: logger}
}

func (s *Settler) Apply(ctx context.Context, ev models.Event) error {
	for _, c := range ev.Changes {
		var err error
		switch c.To {
		case models.ParticipationConfirmed:
			err = s.hold(ctx, ev.RideID, c)
		case models.ParticipationDone, models.ParticipationNotMarked:
			err = s.settle(ctx, ev.RideID, c, s.gw.Capture, "captured")
		case models.ParticipationMissing:
			err = s.settle(ctx, ev.RideID, c, s.gw.Cancel, "released")
		}
		if err != nil {
			return fmt.Errorf("settle participation=%d: %w", c.ParticipationID, err)
		}
	}
	return nil
}

func (s *Settler) hold(ctx context.Context, rideID int64, c models.ParticipationMove) error {
	amount := s.perSeat * int64(c.OccupiedSpaces)
	if amount <= 0 {
		return nil
	}
	id, err := s.gw.Hold(ctx, amount, s.currency, "carpool-hold-"+strconv.FormatInt(c.ParticipationID, 10))
	if err != nil {
		return err
	}
	s.logger.Info("fare held", "ride_id", rideID, "participation_id", c.ParticipationID, "amount", amount, "intent", id)
	return s.holds.Save(ctx, rideID, c.ParticipationID, id)
}

func (s *Settler) settle(ctx context.Context, rideID int64, c models.ParticipationMove, op func(context.Context, string) error, verb string) error {
	id, ok, err := s.holds.Take(ctx, rideID, c.ParticipationID)
	if err != nil || !ok {
		return err
	}
	if err := op(ctx, id); err != nil {
		// put it back so a redelivery can retry
		if serr := s.holds.Save(ctx, rideID, c.ParticipationID, id); serr != nil {
			s.logger.Error("restoring fare hold failed", "intent", id, "error", serr)
		}
		return err
	}
	s.logger.Info("fare "+verb, "ride_id", rideID, "participation_id", c.ParticipationID, "intent", id)
	return nil
}

// RedisHolds keeps intents in a hash per ride.
type RedisHolds struct {
	client *redis.Client
}

func NewRedisHolds(c *redis.Client) *RedisHolds { return &RedisHolds{client: c} }

func holdsKey(rideID int64) string { return "ride:fares:" + strconv.FormatInt(rideID, 10) }

func (r *RedisHolds) Save(ctx context.Context, rideID, participationID int64, intentID string) error {
	return r.client.HSet(ctx, holdsKey(rideID), strconv.FormatInt(participationID, 10), intentID).Err()
}

func (r *RedisHolds) Take(ctx context.Context, rideID, participationID int64) (string, bool, error) {
	field := strconv.FormatInt(participationID, 10)
	id, err := r.client.HGet(ctx, holdsKey(rideID), field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	if err := r.client.HDel(ctx, holdsKey(rideID), field).Err(); err != nil {
		return "", false, err
	}
	return id, true, nil
}
