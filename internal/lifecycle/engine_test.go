package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/registry"
	"github.com/example/carpool/internal/seatboard"
	"github.com/example/carpool/internal/storage"
)

type recordingSink struct {
	mu     sync.Mutex
	events []models.Event
}

func (r *recordingSink) Publish(_ context.Context, ev models.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) last() models.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[len(r.events)-1]
}

type fixture struct {
	t      *testing.T
	ctx    context.Context
	users  *registry.Registry
	engine *Engine
	sink   *recordingSink
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := storage.NewMemoryStore()
	users := registry.New(store)
	f := &fixture{t: t, ctx: context.Background(), users: users, sink: &recordingSink{}, now: time.Date(2025, 7, 15, 22, 0, 0, 0, time.UTC)}
	f.engine = New(store, users, WithEventSink(f.sink), WithClock(func() time.Time { return f.now }))
	return f
}

func (f *fixture) register(alias, plate string) models.User {
	f.t.Helper()
	u, err := f.users.Register(f.ctx, alias, alias+" name", plate)
	if err != nil {
		f.t.Fatalf("register %s: %v", alias, err)
	}
	return u
}

func (f *fixture) ride(driver string, seats int) models.Ride {
	f.t.Helper()
	r, err := f.engine.CreateRide(f.ctx, driver, f.now.Add(time.Hour), "Final Address", seats)
	if err != nil {
		f.t.Fatalf("create ride: %v", err)
	}
	return r
}

func (f *fixture) join(driver string, rideID int64, rider string, seats int) models.Participation {
	f.t.Helper()
	p, err := f.engine.RequestToJoin(f.ctx, driver, rideID, rider, "Somewhere", seats)
	if err != nil {
		f.t.Fatalf("request to join: %v", err)
	}
	return p
}

func (f *fixture) statusOf(driver string, rideID int64, rider string) models.ParticipationStatus {
	f.t.Helper()
	d, err := f.engine.GetRide(f.ctx, driver, rideID)
	if err != nil {
		f.t.Fatalf("get ride: %v", err)
	}
	for _, p := range d.Participants {
		if p.Participant.Alias == rider {
			return p.Status
		}
	}
	f.t.Fatalf("no participation for %s", rider)
	return ""
}

func expectKind(t *testing.T, err error, kind error) {
	t.Helper()
	if !errors.Is(err, kind) {
		t.Fatalf("expected %v, got %v", kind, err)
	}
}

func TestScenarioA_CreateRide(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	r := f.ride("d", 3)
	if r.Status != models.RideReady || r.AllowedSpaces != 3 {
		t.Fatalf("unexpected ride %+v", r)
	}
	d, err := f.engine.GetRide(f.ctx, "d", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.Participants) != 0 || d.Driver.Alias != "d" {
		t.Fatalf("unexpected detail %+v", d)
	}
	if ev := f.sink.last(); ev.Type != models.EventRideCreated || ev.SeatsLeft() != 3 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestCreateRideFailures(t *testing.T) {
	f := newFixture(t)
	f.register("nondriver", "")
	_, err := f.engine.CreateRide(f.ctx, "nondriver", f.now, "Test Address", 3)
	expectKind(t, err, models.ErrNotDriver)
	if err.Error() != "User is not a driver" {
		t.Fatalf("unexpected detail %q", err.Error())
	}
	_, err = f.engine.CreateRide(f.ctx, "ghost", f.now, "Test Address", 3)
	expectKind(t, err, models.ErrNotFound)
}

func TestScenarioB_AcceptUsesCapacity(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("p", "")
	r := f.ride("d", 3)

	p := f.join("d", r.ID, "p", 1)
	if p.Status != models.ParticipationWaiting || p.ConfirmedAt != nil {
		t.Fatalf("unexpected participation %+v", p)
	}
	acc, err := f.engine.AcceptRequest(f.ctx, "d", r.ID, "p")
	if err != nil {
		t.Fatal(err)
	}
	if acc.Status != models.ParticipationConfirmed || acc.ConfirmedAt == nil || !acc.ConfirmedAt.Equal(f.now) {
		t.Fatalf("unexpected accepted participation %+v", acc)
	}
	ev := f.sink.last()
	if ev.Type != models.EventRequestAccepted || ev.CommittedSpaces != 1 || ev.SeatsLeft() != 2 {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestScenarioC_NoCapacity(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("p1", "")
	f.register("p2", "")
	r := f.ride("d", 1)
	f.join("d", r.ID, "p1", 1)
	f.join("d", r.ID, "p2", 1)

	if _, err := f.engine.AcceptRequest(f.ctx, "d", r.ID, "p1"); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.AcceptRequest(f.ctx, "d", r.ID, "p2")
	expectKind(t, err, models.ErrNoCapacity)
	if got := f.statusOf("d", r.ID, "p2"); got != models.ParticipationWaiting {
		t.Fatalf("failed accept must not change status, got %s", got)
	}
}

func TestScenarioD_RejectedBecomesMissing(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("p", "")
	r := f.ride("d", 3)
	f.join("d", r.ID, "p", 1)
	if _, err := f.engine.RejectRequest(f.ctx, "d", r.ID, "p"); err != nil {
		t.Fatal(err)
	}
	started, err := f.engine.StartRide(f.ctx, "d", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if started.Status != models.RideInProgress {
		t.Fatalf("ride not started: %s", started.Status)
	}
	if got := f.statusOf("d", r.ID, "p"); got != models.ParticipationMissing {
		t.Fatalf("expected missing, got %s", got)
	}
}

func TestScenarioE_Unload(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("p", "")
	r := f.ride("d", 3)
	f.join("d", r.ID, "p", 2)
	if _, err := f.engine.AcceptRequest(f.ctx, "d", r.ID, "p"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.engine.StartRide(f.ctx, "d", r.ID); err != nil {
		t.Fatal(err)
	}
	if got := f.statusOf("d", r.ID, "p"); got != models.ParticipationInProgress {
		t.Fatalf("expected inprogress, got %s", got)
	}
	p, err := f.engine.UnloadParticipant(f.ctx, "p", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if p.Status != models.ParticipationDone {
		t.Fatalf("expected done, got %s", p.Status)
	}
	_, err = f.engine.UnloadParticipant(f.ctx, "p", r.ID)
	expectKind(t, err, models.ErrInvalidState)
}

func TestRequestToJoinPreconditions(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("other", "Y")
	f.register("p", "")
	r := f.ride("d", 3)
	foreign := f.ride("other", 2)

	cases := []struct {
		name   string
		driver string
		ride   int64
		rider  string
		kind   error
		detail string
	}{
		{"unknown driver", "ghost", r.ID, "p", models.ErrNotFound, "Driver not found"},
		{"unknown ride", "d", 999, "p", models.ErrNotFound, "Ride not found"},
		{"foreign ride", "d", foreign.ID, "p", models.ErrNotFound, "Ride not found"},
		{"unknown rider", "d", r.ID, "ghost", models.ErrNotFound, "Participant not found"},
		{"self join", "d", r.ID, "d", models.ErrSelfJoin, "Driver cannot join their own ride"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := f.engine.RequestToJoin(f.ctx, c.driver, c.ride, c.rider, "X", 1)
			expectKind(t, err, c.kind)
			if err.Error() != c.detail {
				t.Fatalf("detail %q, want %q", err.Error(), c.detail)
			}
		})
	}

	f.join("d", r.ID, "p", 1)
	_, err := f.engine.RequestToJoin(f.ctx, "d", r.ID, "p", "X", 1)
	expectKind(t, err, models.ErrDuplicateRequest)

	d, _ := f.engine.GetRide(f.ctx, "d", r.ID)
	if len(d.Participants) != 1 {
		t.Fatalf("expected exactly one participation, got %d", len(d.Participants))
	}
}

func TestRequestToJoinNotReady(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("p", "")
	r := f.ride("d", 3)
	if _, err := f.engine.StartRide(f.ctx, "d", r.ID); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.RequestToJoin(f.ctx, "d", r.ID, "p", "X", 1)
	expectKind(t, err, models.ErrNotReady)
}

func TestRejectTwice(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("p", "")
	r := f.ride("d", 3)
	f.join("d", r.ID, "p", 1)
	p, err := f.engine.RejectRequest(f.ctx, "d", r.ID, "p")
	if err != nil || p.Status != models.ParticipationRejected {
		t.Fatalf("first reject: %+v %v", p, err)
	}
	_, err = f.engine.RejectRequest(f.ctx, "d", r.ID, "p")
	expectKind(t, err, models.ErrInvalidState)
	_, err = f.engine.AcceptRequest(f.ctx, "d", r.ID, "p")
	expectKind(t, err, models.ErrInvalidState)
}

func TestAcceptUnknownParticipation(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("p", "")
	r := f.ride("d", 3)
	_, err := f.engine.AcceptRequest(f.ctx, "d", r.ID, "p")
	expectKind(t, err, models.ErrNotFound)
	if err.Error() != "Participation request not found" {
		t.Fatalf("unexpected detail %q", err.Error())
	}
}

func TestStartRideWithPendingRequests(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("p1", "")
	f.register("p2", "")
	r := f.ride("d", 3)
	f.join("d", r.ID, "p1", 1)
	f.join("d", r.ID, "p2", 1)
	if _, err := f.engine.AcceptRequest(f.ctx, "d", r.ID, "p1"); err != nil {
		t.Fatal(err)
	}
	_, err := f.engine.StartRide(f.ctx, "d", r.ID)
	expectKind(t, err, models.ErrPendingRequests)

	d, _ := f.engine.GetRide(f.ctx, "d", r.ID)
	if d.Status != models.RideReady {
		t.Fatalf("failed start must leave ride ready, got %s", d.Status)
	}
	if got := f.statusOf("d", r.ID, "p1"); got != models.ParticipationConfirmed {
		t.Fatalf("failed start must not touch participations, got %s", got)
	}
}

func TestStartAndEndRide(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	for _, a := range []string{"p1", "p2", "p3"} {
		f.register(a, "")
	}
	r := f.ride("d", 3)
	f.join("d", r.ID, "p1", 1)
	f.join("d", r.ID, "p2", 1)
	f.join("d", r.ID, "p3", 1)
	for _, a := range []string{"p1", "p2"} {
		if _, err := f.engine.AcceptRequest(f.ctx, "d", r.ID, a); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := f.engine.RejectRequest(f.ctx, "d", r.ID, "p3"); err != nil {
		t.Fatal(err)
	}

	_, err := f.engine.EndRide(f.ctx, "d", r.ID)
	expectKind(t, err, models.ErrInvalidState)

	if _, err := f.engine.StartRide(f.ctx, "d", r.ID); err != nil {
		t.Fatal(err)
	}
	ev := f.sink.last()
	if ev.Type != models.EventRideStarted || len(ev.Changes) != 3 || ev.CommittedSpaces != 2 {
		t.Fatalf("unexpected start event %+v", ev)
	}
	_, err = f.engine.StartRide(f.ctx, "d", r.ID)
	expectKind(t, err, models.ErrInvalidState)

	if _, err := f.engine.UnloadParticipant(f.ctx, "p1", r.ID); err != nil {
		t.Fatal(err)
	}
	ended, err := f.engine.EndRide(f.ctx, "d", r.ID)
	if err != nil {
		t.Fatal(err)
	}
	if ended.Status != models.RideDone {
		t.Fatalf("expected done, got %s", ended.Status)
	}
	want := map[string]models.ParticipationStatus{
		"p1": models.ParticipationDone,
		"p2": models.ParticipationNotMarked,
		"p3": models.ParticipationMissing,
	}
	for alias, st := range want {
		if got := f.statusOf("d", r.ID, alias); got != st {
			t.Fatalf("%s: expected %s, got %s", alias, st, got)
		}
	}
	_, err = f.engine.EndRide(f.ctx, "d", r.ID)
	expectKind(t, err, models.ErrInvalidState)
}

func TestUnloadIsNotOwnerScoped(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("p", "")
	f.register("q", "")
	r := f.ride("d", 3)

	_, err := f.engine.UnloadParticipant(f.ctx, "ghost", r.ID)
	expectKind(t, err, models.ErrNotFound)
	_, err = f.engine.UnloadParticipant(f.ctx, "p", 999)
	expectKind(t, err, models.ErrNotFound)
	_, err = f.engine.UnloadParticipant(f.ctx, "q", r.ID)
	expectKind(t, err, models.ErrNotFound)
	if err.Error() != "Participant not in this ride" {
		t.Fatalf("unexpected detail %q", err.Error())
	}

	f.join("d", r.ID, "p", 1)
	_, err = f.engine.UnloadParticipant(f.ctx, "p", r.ID)
	expectKind(t, err, models.ErrInvalidState)
}

func TestGetRideScopedToOwner(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("e", "Y")
	r := f.ride("d", 2)
	_, err := f.engine.GetRide(f.ctx, "e", r.ID)
	expectKind(t, err, models.ErrNotFound)
	_, err = f.engine.GetRide(f.ctx, "ghost", r.ID)
	expectKind(t, err, models.ErrNotFound)
}

func TestListings(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	f.register("e", "Y")
	r1 := f.ride("d", 2)
	f.ride("d", 2)
	f.ride("e", 4)
	if _, err := f.engine.StartRide(f.ctx, "d", r1.ID); err != nil {
		t.Fatal(err)
	}

	open, err := f.engine.ListOpenRides(f.ctx, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open rides, got %d", len(open))
	}
	page, _ := f.engine.ListOpenRides(f.ctx, 1, 1)
	if len(page) != 1 || page[0].Driver.Alias != "e" {
		t.Fatalf("unexpected page %+v", page)
	}

	mine, err := f.engine.ListRidesForDriver(f.ctx, "d")
	if err != nil {
		t.Fatal(err)
	}
	if len(mine) != 2 {
		t.Fatalf("expected 2 rides for d, got %d", len(mine))
	}
	_, err = f.engine.ListRidesForDriver(f.ctx, "ghost")
	expectKind(t, err, models.ErrNotFound)
}

func TestConcurrentAcceptsNeverOvercommit(t *testing.T) {
	f := newFixture(t)
	f.register("d", "X")
	r := f.ride("d", 3)
	const riders = 12
	for i := 0; i < riders; i++ {
		alias := fmt.Sprintf("p%d", i)
		f.register(alias, "")
		f.join("d", r.ID, alias, 1)
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		accepted   int
		noCapacity int
	)
	for i := 0; i < riders; i++ {
		wg.Add(1)
		go func(alias string) {
			defer wg.Done()
			_, err := f.engine.AcceptRequest(f.ctx, "d", r.ID, alias)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				accepted++
			case errors.Is(err, models.ErrNoCapacity):
				noCapacity++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(fmt.Sprintf("p%d", i))
	}
	wg.Wait()

	if accepted != 3 || noCapacity != riders-3 {
		t.Fatalf("accepted=%d noCapacity=%d", accepted, noCapacity)
	}
	d, _ := f.engine.GetRide(f.ctx, "d", r.ID)
	parts := make([]models.Participation, 0, len(d.Participants))
	for _, p := range d.Participants {
		parts = append(parts, p.Participation)
	}
	if got := models.CommittedSpaces(parts); got > d.AllowedSpaces {
		t.Fatalf("overcommitted: %d > %d", got, d.AllowedSpaces)
	}
}

func TestEventsCarryRideSequence(t *testing.T) {
	f := newFixture(t)
	f.register("driver", "ABC-123")
	f.register("ana", "")
	f.register("bob", "")
	r := f.ride("driver", 3)
	f.join("driver", r.ID, "ana", 1)
	f.join("driver", r.ID, "bob", 1)
	if _, err := f.engine.AcceptRequest(f.ctx, "driver", r.ID, "ana"); err != nil {
		t.Fatal(err)
	}
	acceptA := f.sink.last()
	if _, err := f.engine.AcceptRequest(f.ctx, "driver", r.ID, "bob"); err != nil {
		t.Fatal(err)
	}
	acceptB := f.sink.last()

	f.sink.mu.Lock()
	var prev int64
	for _, ev := range f.sink.events {
		if ev.Seq <= prev {
			t.Fatalf("seq not increasing: %d after %d (%s)", ev.Seq, prev, ev.Type)
		}
		prev = ev.Seq
	}
	created := f.sink.events[0]
	f.sink.mu.Unlock()

	// deliver the two accepts in the opposite order
	idx := seatboard.NewIndex(slog.New(slog.NewTextHandler(io.Discard, nil)))
	for _, ev := range []models.Event{created, acceptB, acceptA} {
		idx.Publish(f.ctx, ev)
	}
	got, _ := idx.MostSeats(f.ctx, 0)
	if len(got) != 1 || got[0].Committed != 2 || got[0].Left != 1 {
		t.Fatalf("board out of date: %+v", got)
	}
}
