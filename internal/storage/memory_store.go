package storage

import (
	"context"
	"sync"

	"github.com/example/carpool/internal/models"
)

// MemoryStore keeps everything in process. Units of work are serialised by a
// single mutex and rolled back through an undo log when they fail.
type MemoryStore struct {
	mu sync.RWMutex

	users   []models.User
	byAlias map[string]int64

	rides []models.Ride

	parts  []models.Participation
	byRide map[int64][]int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		byAlias: make(map[string]int64),
		byRide:  make(map[int64][]int64),
	}
}

func (m *MemoryStore) WithinTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx := &memTx{m: m}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

func (m *MemoryStore) View(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memTx{m: m, readOnly: true})
}

func (m *MemoryStore) Ping(ctx context.Context) error { return ctx.Err() }

func (m *MemoryStore) Close() error { return nil }

type memTx struct {
	m        *MemoryStore
	readOnly bool
	undo     []func()
}

func (t *memTx) rollback() {
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}

func (t *memTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *memTx) InsertUser(_ context.Context, u *models.User) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.m.byAlias[u.Alias]; ok {
		return ErrDuplicate
	}
	u.ID = int64(len(t.m.users) + 1)
	t.m.users = append(t.m.users, *u)
	t.m.byAlias[u.Alias] = u.ID
	alias := u.Alias
	t.undo = append(t.undo, func() {
		t.m.users = t.m.users[:len(t.m.users)-1]
		delete(t.m.byAlias, alias)
	})
	return nil
}

func (t *memTx) UserByID(_ context.Context, id int64) (models.User, error) {
	if id < 1 || id > int64(len(t.m.users)) {
		return models.User{}, ErrNotFound
	}
	return t.m.users[id-1], nil
}

func (t *memTx) UserByAlias(ctx context.Context, alias string) (models.User, error) {
	id, ok := t.m.byAlias[alias]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return t.UserByID(ctx, id)
}

func (t *memTx) ListUsers(_ context.Context, offset, limit int) ([]models.User, error) {
	lo, hi := window(len(t.m.users), offset, limit)
	out := make([]models.User, hi-lo)
	copy(out, t.m.users[lo:hi])
	return out, nil
}

func (t *memTx) InsertRide(_ context.Context, r *models.Ride) error {
	if err := t.writable(); err != nil {
		return err
	}
	r.ID = int64(len(t.m.rides) + 1)
	r.Version = 1
	t.m.rides = append(t.m.rides, *r)
	t.undo = append(t.undo, func() { t.m.rides = t.m.rides[:len(t.m.rides)-1] })
	return nil
}

func (t *memTx) RideByID(_ context.Context, id int64) (models.Ride, error) {
	if id < 1 || id > int64(len(t.m.rides)) {
		return models.Ride{}, ErrNotFound
	}
	return t.m.rides[id-1], nil
}

// LockRide is a plain read: the store mutex already serialises units of work.
func (t *memTx) LockRide(ctx context.Context, id int64) (models.Ride, error) {
	return t.RideByID(ctx, id)
}

func (t *memTx) UpdateRideStatus(_ context.Context, id int64, status models.RideStatus) error {
	if err := t.writable(); err != nil {
		return err
	}
	if id < 1 || id > int64(len(t.m.rides)) {
		return ErrNotFound
	}
	prev := t.m.rides[id-1].Status
	t.m.rides[id-1].Status = status
	t.undo = append(t.undo, func() { t.m.rides[id-1].Status = prev })
	return nil
}

func (t *memTx) BumpRideVersion(_ context.Context, id int64) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	if id < 1 || id > int64(len(t.m.rides)) {
		return 0, ErrNotFound
	}
	t.m.rides[id-1].Version++
	t.undo = append(t.undo, func() { t.m.rides[id-1].Version-- })
	return t.m.rides[id-1].Version, nil
}

func (t *memTx) ListRides(_ context.Context, f RideFilter) ([]models.Ride, error) {
	matched := make([]models.Ride, 0)
	for _, r := range t.m.rides {
		if f.Status != "" && r.Status != f.Status {
			continue
		}
		if f.DriverID != 0 && r.DriverID != f.DriverID {
			continue
		}
		matched = append(matched, r)
	}
	lo, hi := window(len(matched), f.Offset, f.Limit)
	return matched[lo:hi], nil
}

func (t *memTx) InsertParticipation(_ context.Context, p *models.Participation) error {
	if err := t.writable(); err != nil {
		return err
	}
	for _, id := range t.m.byRide[p.RideID] {
		if t.m.parts[id-1].ParticipantID == p.ParticipantID {
			return ErrDuplicate
		}
	}
	p.ID = int64(len(t.m.parts) + 1)
	t.m.parts = append(t.m.parts, *p)
	rideID := p.RideID
	t.m.byRide[rideID] = append(t.m.byRide[rideID], p.ID)
	t.undo = append(t.undo, func() {
		t.m.parts = t.m.parts[:len(t.m.parts)-1]
		ids := t.m.byRide[rideID]
		t.m.byRide[rideID] = ids[:len(ids)-1]
	})
	return nil
}

func (t *memTx) ParticipationsByRide(_ context.Context, rideID int64) ([]models.Participation, error) {
	ids := t.m.byRide[rideID]
	out := make([]models.Participation, 0, len(ids))
	for _, id := range ids {
		out = append(out, t.m.parts[id-1])
	}
	return out, nil
}

func (t *memTx) ParticipationFor(_ context.Context, rideID, participantID int64) (models.Participation, error) {
	for _, id := range t.m.byRide[rideID] {
		if p := t.m.parts[id-1]; p.ParticipantID == participantID {
			return p, nil
		}
	}
	return models.Participation{}, ErrNotFound
}

func (t *memTx) UpdateParticipation(_ context.Context, p models.Participation) error {
	if err := t.writable(); err != nil {
		return err
	}
	if p.ID < 1 || p.ID > int64(len(t.m.parts)) {
		return ErrNotFound
	}
	prev := t.m.parts[p.ID-1]
	t.m.parts[p.ID-1].Status = p.Status
	t.m.parts[p.ID-1].ConfirmedAt = p.ConfirmedAt
	t.undo = append(t.undo, func() { t.m.parts[prev.ID-1] = prev })
	return nil
}

// window clamps offset/limit to [0, n). A limit <= 0 means everything
// after offset.
func window(n, offset, limit int) (int, int) {
	if offset < 0 {
		offset = 0
	}
	if offset > n {
		offset = n
	}
	hi := n
	if limit > 0 && limit < n-offset {
		hi = offset + limit
	}
	return offset, hi
}
