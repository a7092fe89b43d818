package payments

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/example/carpool/internal/models"
)

type fakeGateway struct {
	held      map[string]int64
	captured  []string
	cancelled []string
	failCap   bool
}

func (f *fakeGateway) Hold(_ context.Context, amount int64, _ string, key string) (string, error) {
	if f.held == nil {
		f.held = map[string]int64{}
	}
	id := "pi_" + key
	f.held[id] = amount
	return id, nil
}

func (f *fakeGateway) Capture(_ context.Context, id string) error {
	if f.failCap {
		return errors.New("card declined")
	}
	f.captured = append(f.captured, id)
	return nil
}

func (f *fakeGateway) Cancel(_ context.Context, id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

type memHolds map[int64]string

func (m memHolds) Save(_ context.Context, _, pid int64, id string) error {
	m[pid] = id
	return nil
}

func (m memHolds) Take(_ context.Context, _, pid int64) (string, bool, error) {
	id, ok := m[pid]
	delete(m, pid)
	return id, ok, nil
}

func newSettler(gw *fakeGateway, holds memHolds) *Settler {
	return NewSettler(gw, holds, 250, "eur", slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestSettlerHoldThenCapture(t *testing.T) {
	gw, holds := &fakeGateway{}, memHolds{}
	s := newSettler(gw, holds)
	ctx := context.Background()

	accept := models.Event{RideID: 1, Changes: []models.ParticipationMove{{ParticipationID: 9, OccupiedSpaces: 2, To: models.ParticipationConfirmed}}}
	if err := s.Apply(ctx, accept); err != nil {
		t.Fatal(err)
	}
	if gw.held["pi_carpool-hold-9"] != 500 {
		t.Fatalf("unexpected holds %+v", gw.held)
	}

	unload := models.Event{RideID: 1, Changes: []models.ParticipationMove{{ParticipationID: 9, To: models.ParticipationDone}}}
	if err := s.Apply(ctx, unload); err != nil {
		t.Fatal(err)
	}
	if len(gw.captured) != 1 || len(holds) != 0 {
		t.Fatalf("captured=%v holds=%v", gw.captured, holds)
	}
}

func TestSettlerSkipsUnheldAndReleasesMissing(t *testing.T) {
	gw, holds := &fakeGateway{}, memHolds{7: "pi_x"}
	s := newSettler(gw, holds)
	start := models.Event{RideID: 1, Changes: []models.ParticipationMove{
		{ParticipationID: 7, To: models.ParticipationMissing},
		{ParticipationID: 8, To: models.ParticipationMissing},
	}}
	if err := s.Apply(context.Background(), start); err != nil {
		t.Fatal(err)
	}
	if len(gw.cancelled) != 1 || gw.cancelled[0] != "pi_x" {
		t.Fatalf("unexpected cancels %v", gw.cancelled)
	}
}

func TestSettlerKeepsHoldWhenCaptureFails(t *testing.T) {
	gw, holds := &fakeGateway{failCap: true}, memHolds{3: "pi_y"}
	s := newSettler(gw, holds)
	end := models.Event{RideID: 1, Changes: []models.ParticipationMove{{ParticipationID: 3, To: models.ParticipationNotMarked}}}
	if err := s.Apply(context.Background(), end); err == nil {
		t.Fatal("expected capture error")
	}
	if holds[3] != "pi_y" {
		t.Fatal("hold must be restored for retry")
	}
}
