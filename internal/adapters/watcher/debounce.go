package watcher

import (
	"context"
	"time"

	"go.trai.ch/kiln/internal/core/ports"
)

// DefaultDebounce is the quiet period after the last event before a batch
// is emitted. Editors and build tools produce bursts of writes; reacting
// to each one would rerun tasks mid-save.
const DefaultDebounce = 250 * time.Millisecond

// Debounce reads events from the watcher and delivers them in batches:
// a batch is emitted once no further event has arrived for the given
// quiet period. The returned channel closes when ctx is cancelled or the
// watcher stops.
func Debounce(ctx context.Context, w ports.Watcher, quiet time.Duration) <-chan []ports.WatchEvent {
	if quiet <= 0 {
		quiet = DefaultDebounce
	}

	raw := make(chan ports.WatchEvent)
	go func() {
		defer close(raw)
		for event := range w.Events() {
			select {
			case raw <- event:
			case <-ctx.Done():
				return
			}
		}
	}()

	batches := make(chan []ports.WatchEvent)
	go func() {
		defer close(batches)

		var pending []ports.WatchEvent
		timer := time.NewTimer(quiet)
		if !timer.Stop() {
			<-timer.C
		}
		defer timer.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-raw:
				if !ok {
					return
				}
				pending = append(pending, event)
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(quiet)
			case <-timer.C:
				if len(pending) == 0 {
					continue
				}
				batch := pending
				pending = nil
				select {
				case batches <- batch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return batches
}
