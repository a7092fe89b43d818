package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/example/carpool/internal/models"
)

// fakeApplier fails the first failN calls.
type fakeApplier struct {
	failN int
	calls int
}

func (f *fakeApplier) Apply(context.Context, models.Event) error {
	f.calls++
	if f.calls <= f.failN {
		return errors.New("apply fail")
	}
	return nil
}

func TestApplyWithRetry_SucceedsAfterRetries(t *testing.T) {
	f := &fakeApplier{failN: 2}
	start := time.Now()
	if err := applyWithRetry(context.Background(), f, models.Event{RideID: 1}, 3, 5*time.Millisecond); err != nil {
		t.Fatalf("expected success, got err=%v", err)
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Fatalf("expected doubling backoff")
	}
}

func TestApplyWithRetry_FailsWhenExhausted(t *testing.T) {
	f := &fakeApplier{failN: 5}
	if err := applyWithRetry(context.Background(), f, models.Event{RideID: 1}, 3, time.Millisecond); err == nil {
		t.Fatalf("expected error after retries")
	}
	if f.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", f.calls)
	}
}

func TestApplyWithRetry_StopsOnCancel(t *testing.T) {
	f := &fakeApplier{failN: 5}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := applyWithRetry(ctx, f, models.Event{}, 3, time.Second); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestHandleKeepsGoingPastFailingTarget(t *testing.T) {
	bad, good := &fakeApplier{failN: 10}, &fakeApplier{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	handle(context.Background(), logger, []target{{"bad", bad}, {"good", good}}, models.Event{RideID: 2})
	if good.calls != 1 {
		t.Fatalf("good target not applied: %d", good.calls)
	}
}
