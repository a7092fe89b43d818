package seatboard

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/example/carpool/internal/models"
)

// Index is the in-process board used when no Redis is configured. It is
// fed directly by the engine.
type Index struct {
	mu     sync.RWMutex
	rides  map[int64]Entry
	seq    map[int64]int64 // survives removal from rides
	logger *slog.Logger
}

func NewIndex(logger *slog.Logger) *Index {
	return &Index{rides: make(map[int64]Entry), seq: make(map[int64]int64), logger: logger}
}

func (g *Index) Apply(_ context.Context, ev models.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if last, ok := g.seq[ev.RideID]; ok && ev.Seq <= last {
		return nil
	}
	g.seq[ev.RideID] = ev.Seq
	if ev.RideStatus != models.RideReady {
		delete(g.rides, ev.RideID)
		return nil
	}
	g.rides[ev.RideID] = entryFor(ev)
	return nil
}

// Publish lets the index sit directly behind the engine.
func (g *Index) Publish(ctx context.Context, ev models.Event) {
	if err := g.Apply(ctx, ev); err != nil {
		g.logger.Warn("seat board update failed", "ride_id", ev.RideID, "error", err)
	}
}

func (g *Index) MostSeats(_ context.Context, limit int) ([]Entry, error) {
	g.mu.RLock()
	out := make([]Entry, 0, len(g.rides))
	for _, e := range g.rides {
		out = append(out, e)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].Left != out[j].Left {
			return out[i].Left > out[j].Left
		}
		return out[i].RideID < out[j].RideID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
