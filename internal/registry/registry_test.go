package registry

import (
	"context"
	"errors"
	"testing"

	"github.com/example/carpool/internal/models"
	"github.com/example/carpool/internal/storage"
)

func TestRegisterAndLookup(t *testing.T) {
	r := New(storage.NewMemoryStore())
	ctx := context.Background()

	u, err := r.Register(ctx, "testuser", "Test User", "TEST-123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if u.ID == 0 || !u.IsDriver() {
		t.Fatalf("unexpected user %+v", u)
	}

	got, err := r.LookupByAlias(ctx, "testuser")
	if err != nil || got != u {
		t.Fatalf("lookup by alias: %+v %v", got, err)
	}
	got, err = r.LookupByID(ctx, u.ID)
	if err != nil || got != u {
		t.Fatalf("lookup by id: %+v %v", got, err)
	}
}

func TestRegisterDuplicateAlias(t *testing.T) {
	r := New(storage.NewMemoryStore())
	ctx := context.Background()
	if _, err := r.Register(ctx, "testuser", "Test User", "TEST-123"); err != nil {
		t.Fatal(err)
	}
	_, err := r.Register(ctx, "testuser", "Another User", "ANO-456")
	if !errors.Is(err, models.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err.Error() != "Alias already registered" {
		t.Fatalf("unexpected detail %q", err.Error())
	}
	// case-sensitive
	if _, err := r.Register(ctx, "TestUser", "Third", ""); err != nil {
		t.Fatalf("different case must be accepted: %v", err)
	}
}

func TestLookupMissing(t *testing.T) {
	r := New(storage.NewMemoryStore())
	ctx := context.Background()
	if _, err := r.LookupByAlias(ctx, "ghost"); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := r.LookupByID(ctx, 42); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListInsertionOrder(t *testing.T) {
	r := New(storage.NewMemoryStore())
	ctx := context.Background()
	for _, a := range []string{"c", "a", "b"} {
		if _, err := r.Register(ctx, a, a, ""); err != nil {
			t.Fatal(err)
		}
	}
	users, err := r.List(ctx, 1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(users) != 2 || users[0].Alias != "a" || users[1].Alias != "b" {
		t.Fatalf("unexpected page %+v", users)
	}
	empty, _ := r.List(ctx, 0, 0)
	if len(empty) != 0 {
		t.Fatalf("zero count must return nothing")
	}
}

func TestRegisterKeepsPlateAsGiven(t *testing.T) {
	r := New(storage.NewMemoryStore())
	ctx := context.Background()

	u, err := r.Register(ctx, "spaced", "Spaced Plate", " AB 12 ")
	if err != nil {
		t.Fatal(err)
	}
	if u.CarPlate != " AB 12 " {
		t.Fatalf("plate rewritten: %q", u.CarPlate)
	}
	blank, err := r.Register(ctx, "blank", "Blank Plate", "  ")
	if err != nil {
		t.Fatal(err)
	}
	if !blank.IsDriver() {
		t.Fatal("any non-empty plate makes a driver")
	}
	none, err := r.Register(ctx, "walker", "No Plate", "")
	if err != nil {
		t.Fatal(err)
	}
	if none.IsDriver() {
		t.Fatal("empty plate is not a driver")
	}
}
