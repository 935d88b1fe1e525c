package memstore

import (
	"sync"

	"github.com/c0deZ3R0/firesync/docstore"
)

type event struct {
	snap *docstore.Snapshot
	err  error
}

// subscriber delivers queued events on its own goroutine so that Append never
// waits on a handler, and handlers may call back into the store.
type subscriber struct {
	client     int
	query      docstore.Query
	onSnapshot docstore.SnapshotHandler
	onError    docstore.ErrorHandler

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []event
	stopped bool
	done    chan struct{}
}

func newSubscriber(client int, q docstore.Query, onSnapshot docstore.SnapshotHandler, onError docstore.ErrorHandler) *subscriber {
	sub := &subscriber{
		client:     client,
		query:      q,
		onSnapshot: onSnapshot,
		onError:    onError,
		done:       make(chan struct{}),
	}
	sub.cond = sync.NewCond(&sub.mu)
	return sub
}

func (sub *subscriber) push(ev event) {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.stopped {
		return
	}
	sub.queue = append(sub.queue, ev)
	sub.cond.Signal()
}

func (sub *subscriber) stop() {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	if sub.stopped {
		return
	}
	sub.stopped = true
	sub.queue = nil
	close(sub.done)
	sub.cond.Broadcast()
}

func (sub *subscriber) run() {
	for {
		sub.mu.Lock()
		for len(sub.queue) == 0 && !sub.stopped {
			sub.cond.Wait()
		}
		if sub.stopped {
			sub.mu.Unlock()
			return
		}
		ev := sub.queue[0]
		sub.queue[0] = event{}
		sub.queue = sub.queue[1:]
		sub.mu.Unlock()

		if ev.err != nil {
			sub.stop()
			if sub.onError != nil {
				sub.onError(ev.err)
			}
			return
		}
		if sub.onSnapshot != nil {
			sub.onSnapshot(*ev.snap)
		}
	}
}
