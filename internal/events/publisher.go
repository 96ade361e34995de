package events

import (
	"context"
	"errors"
	"log"
	"time"

	"identity-service/backend/internal/db"
)

// publishTimeout bounds a single async publish. ShutdownDrainDuration must cover it.
const publishTimeout = 5 * time.Second

// ShutdownDrainDuration is how long main waits before closing publishers so in-flight async
// publishes can finish.
const ShutdownDrainDuration = publishTimeout

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Noop discards events.
type Noop struct{}

func (Noop) Publish(context.Context, Event) error { return nil }

// Fanout publishes to every publisher and joins their errors.
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// PublishAsync runs Publish in a goroutine with a short timeout so the caller is not blocked.
// Errors are logged. The goroutine uses context.Background() so request cancellation does not
// abort an in-flight publish.
func PublishAsync(p Publisher, ev Event) {
	if p == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := p.Publish(ctx, ev); err != nil {
			log.Printf("events: publish %s (%s) failed: %v", ev.Subject, ev.ID, err)
		}
	}()
}

// PublishAfterCommit schedules ev for async publication once the unit of work in ctx commits.
// Rolled-back work publishes nothing.
func PublishAfterCommit(ctx context.Context, p Publisher, ev Event) {
	if p == nil {
		return
	}
	db.AfterCommit(ctx, func() { PublishAsync(p, ev) })
}

// Observed wraps p so every publish outcome is reported to observe (e.g. a metrics counter).
func Observed(p Publisher, observe func(subject string, err error)) Publisher {
	if observe == nil {
		return p
	}
	return observed{next: p, observe: observe}
}

type observed struct {
	next    Publisher
	observe func(subject string, err error)
}

func (o observed) Publish(ctx context.Context, ev Event) error {
	err := o.next.Publish(ctx, ev)
	o.observe(ev.Subject, err)
	return err
}
