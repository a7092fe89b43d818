package dispatch

import (
	"context"

	"github.com/example/carpool/internal/models"
)

// Sink consumes committed lifecycle events.
type Sink interface {
	Publish(ctx context.Context, ev models.Event)
}

// Fanout hands every event to each sink in order. Nil sinks are skipped.
type Fanout []Sink

func (f Fanout) Publish(ctx context.Context, ev models.Event) {
	for _, s := range f {
		if s != nil {
			s.Publish(ctx, ev)
		}
	}
}
