package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	"therapy-chat-sync/internal/docstore"
)

// Subscribe re-runs q whenever the notifier signals a change on collection
// and on every resync tick. The subscription ends with ErrUnavailable when
// the change feed breaks or a re-query fails.
func (s *Store) Subscribe(ctx context.Context, collection string, q docstore.Query, fn docstore.SnapshotFunc) (docstore.Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("subscribe %s: nil snapshot func", collection)
	}

	var changes <-chan struct{}
	release := func() {}
	if s.notifier != nil {
		ch, stop, err := s.notifier.Watch(ctx, collection)
		if err != nil {
			return nil, fmt.Errorf("%w: watch %s: %w", docstore.ErrUnavailable, collection, err)
		}
		changes, release = ch, stop
	}

	sub := &subscription{
		halt: make(chan struct{}),
		done: make(chan struct{}),
	}
	go sub.run(ctx, s, collection, q, fn, changes, release)
	return sub, nil
}

type subscription struct {
	halt chan struct{}
	done chan struct{}

	mu      sync.Mutex
	err     error
	stopped bool
}

func (sub *subscription) run(
	ctx context.Context,
	s *Store,
	collection string,
	q docstore.Query,
	fn docstore.SnapshotFunc,
	changes <-chan struct{},
	release func(),
) {
	defer close(sub.done)
	defer release()

	ticker := time.NewTicker(s.resync)
	defer ticker.Stop()

	deliver := func() bool {
		snaps, err := s.Query(ctx, collection, q)
		if err != nil {
			sub.stop(err)
			return false
		}
		select {
		case <-sub.halt:
			return false
		default:
		}
		fn(snaps)
		return true
	}

	if !deliver() {
		return
	}
	for {
		select {
		case <-sub.halt:
			return
		case <-ctx.Done():
			sub.stop(ctx.Err())
			return
		case _, ok := <-changes:
			if !ok {
				sub.stop(fmt.Errorf("%w: change feed for %s closed", docstore.ErrUnavailable, collection))
				return
			}
			if !deliver() {
				return
			}
		case <-ticker.C:
			if !deliver() {
				return
			}
		}
	}
}

func (sub *subscription) stop(err error) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.stopped {
		return
	}
	sub.stopped = true
	sub.err = err
	close(sub.halt)
}

func (sub *subscription) Done() <-chan struct{} {
	return sub.done
}

func (sub *subscription) Err() error {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	return sub.err
}

func (sub *subscription) Close() {
	sub.stop(nil)
}
