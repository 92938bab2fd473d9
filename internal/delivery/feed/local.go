package feed

import (
	"context"
	"errors"
	"sync"
)

var ErrNoSubscriber = errors.New("feed: delivery is not followed")

// Local is an in-process feed: events published for a delivery reach the
// Run call following it.
type Local struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

// NewLocal returns an empty in-process feed.
func NewLocal() *Local {
	return &Local{subs: make(map[string]chan Event)}
}

// Run follows the delivery until ctx is done.
func (l *Local) Run(ctx context.Context, sub Subscription, handle func(Event)) error {
	ch := make(chan Event, 16)
	l.mu.Lock()
	l.subs[sub.DeliveryID] = ch
	l.mu.Unlock()
	sub.ready()
	defer func() {
		l.mu.Lock()
		if l.subs[sub.DeliveryID] == ch {
			delete(l.subs, sub.DeliveryID)
		}
		l.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			handle(ev)
		}
	}
}

// Following reports whether a Run call currently follows the delivery.
func (l *Local) Following(deliveryID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.subs[deliveryID]
	return ok
}

// Publish hands ev to the delivery's subscriber.
func (l *Local) Publish(ctx context.Context, deliveryID string, ev Event) error {
	l.mu.Lock()
	ch, ok := l.subs[deliveryID]
	l.mu.Unlock()
	if !ok {
		return ErrNoSubscriber
	}
	select {
	case ch <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
