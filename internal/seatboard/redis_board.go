package seatboard

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/carpool/internal/models"
)

// RedisBoard implements Board with one hash per ride and a sorted set of
// open rides scored by seats left.
type RedisBoard struct {
	client *redis.Client
	key    string
}

func NewRedisBoard(addr, password, key string) *RedisBoard {
	c := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	return &RedisBoard{client: c, key: key}
}

func (r *RedisBoard) Client() *redis.Client { return r.client }

// applyScript writes the ride hash and its open-set membership only when
// the event is newer than the seq already stored.
// KEYS: ride hash, open set. ARGV: seq, status, allowed, committed, left,
// updated, member, open flag.
var applyScript = redis.NewScript(`
local cur = tonumber(redis.call('HGET', KEYS[1], 'seq') or '0')
if cur >= tonumber(ARGV[1]) then
  return 0
end
redis.call('HSET', KEYS[1], 'seq', ARGV[1], 'status', ARGV[2], 'allowed', ARGV[3],
  'committed', ARGV[4], 'left', ARGV[5], 'updated', ARGV[6])
if ARGV[8] == '1' then
  redis.call('ZADD', KEYS[2], ARGV[5], ARGV[7])
else
  redis.call('ZREM', KEYS[2], ARGV[7])
end
return 1
`)

func (r *RedisBoard) Apply(ctx context.Context, ev models.Event) error {
	e := entryFor(ev)
	open := "0"
	if e.Status == models.RideReady {
		open = "1"
	}
	err := applyScript.Run(ctx, r.client, []string{RideKey(ev.RideID), r.key},
		e.Seq, string(e.Status), e.Allowed, e.Committed, e.Left,
		e.Updated.Format(time.RFC3339), strconv.FormatInt(ev.RideID, 10), open).Err()
	if err != nil {
		return fmt.Errorf("seat board apply ride=%d: %w", ev.RideID, err)
	}
	return nil
}

func (r *RedisBoard) MostSeats(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	res, err := r.client.ZRevRangeWithScores(ctx, r.key, 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(res))
	for _, z := range res {
		name, _ := z.Member.(string)
		id, err := strconv.ParseInt(name, 10, 64)
		if err != nil {
			continue
		}
		e := Entry{RideID: id, Status: models.RideReady, Left: int(z.Score)}
		// try to fetch the rest from the ride hash
		if m, err := r.client.HGetAll(ctx, RideKey(id)).Result(); err == nil {
			e.Allowed, _ = strconv.Atoi(m["allowed"])
			e.Committed, _ = strconv.Atoi(m["committed"])
			e.Seq, _ = strconv.ParseInt(m["seq"], 10, 64)
			if ts, err := time.Parse(time.RFC3339, m["updated"]); err == nil {
				e.Updated = ts
			}
		}
		out = append(out, e)
	}
	return out, nil
}

func (r *RedisBoard) Ping(ctx context.Context) error { return r.client.Ping(ctx).Err() }

func (r *RedisBoard) Close() error { return r.client.Close() }

func RideKey(rideID int64) string { return "ride:seats:" + strconv.FormatInt(rideID, 10) }
