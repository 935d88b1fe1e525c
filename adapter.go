// Package firesync keeps a Redux-style local store in step with a remote
// document collection.
//
// Dispatch appends local actions to the collection, stamped with the writer's
// creator id and a server timestamp. Listen replays every document added to
// the collection, by this or any other client, into the local store in server
// timestamp order. Watch is the lower level subscription Listen is built on.
//
//	store := memstore.New()
//	adapter, err := firesync.New("device-A", store, "rooms/r1/actions", local)
//	if err != nil { /* handle */ }
//
//	unsubscribe := adapter.Listen(ctx, "")
//	defer unsubscribe()
//
//	_, err = adapter.Dispatch(ctx, firesync.Action{"type": "INCREMENT", "by": 1})
package firesync

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c0deZ3R0/firesync/docstore"
	"github.com/c0deZ3R0/firesync/errors"
	"github.com/c0deZ3R0/firesync/logging"
)

// ChangesHandler receives the ordered changes of one snapshot.
type ChangesHandler func(changes []docstore.Change)

// ErrorHandler receives the error that ended a subscription.
type ErrorHandler func(err error)

// UnsubscribeFunc ends a subscription. Once it returns no further callback
// runs, and one already running on another goroutine has returned, so it must
// not be called while holding a lock that callback needs. Calling it from
// within a callback, or again, does not block.
type UnsubscribeFunc func()

// Option configures an Adapter.
type Option func(*Adapter)

// WithLogger sets the logger diagnostics are written to.
func WithLogger(l *logging.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m MetricsCollector) Option {
	return func(a *Adapter) { a.metrics = m }
}

// Adapter bridges a local Dispatcher and a remote docstore.Store collection.
type Adapter struct {
	creator string
	path    string
	store   docstore.Store
	local   Dispatcher
	logger  *logging.Logger
	metrics MetricsCollector
}

// New returns an adapter that writes to and listens on the collection at path.
// creator is stored on every document the adapter appends.
func New(creator string, store docstore.Store, path string, local Dispatcher, opts ...Option) (*Adapter, error) {
	switch {
	case store == nil:
		return nil, errors.NewValidationError(errors.OpConfig, fmt.Errorf("document store is required"))
	case local == nil:
		return nil, errors.NewValidationError(errors.OpConfig, fmt.Errorf("local dispatcher is required"))
	}
	if err := docstore.ValidateCollection(path); err != nil {
		return nil, errors.NewValidationError(errors.OpConfig, err)
	}

	a := &Adapter{
		creator: creator,
		path:    path,
		store:   store,
		local:   local,
		metrics: &NoOpMetricsCollector{},
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = logging.Default()
	}
	a.logger = a.logger.WithComponent(logging.Component("adapter"))
	return a, nil
}

// Creator returns the id stamped on appended documents.
func (a *Adapter) Creator() string { return a.creator }

// Path returns the adapter's collection.
func (a *Adapter) Path() string { return a.path }

// Dispatch appends action to the collection with the adapter's creator and a
// server timestamp, which replace any fields of the same names. It returns
// the new document's reference, or a remote write error.
func (a *Adapter) Dispatch(ctx context.Context, action Action) (docstore.DocumentRef, error) {
	a.logger.InfoContext(ctx, "dispatch",
		slog.String("path", a.path),
		actionAttr(action),
	)

	doc := make(map[string]any, len(action)+2)
	for k, v := range action {
		doc[k] = v
	}
	doc[FieldTimestamp] = docstore.ServerTimestamp
	doc[FieldCreator] = a.creator

	start := time.Now()
	ref, err := a.store.Append(ctx, a.path, doc)
	a.metrics.RecordDispatchDuration(time.Since(start))
	if err != nil {
		werr := errors.NewRemoteWriteError(errors.OpDispatch, err)
		werr.Metadata = map[string]interface{}{"path": a.path}
		a.logger.LogError(ctx, werr, "dispatch failed")
		a.metrics.RecordErrors(string(errors.OpDispatch), reason(werr))
		return docstore.DocumentRef{}, werr
	}
	return ref, nil
}

// Watch subscribes to the collection at path, ordered by ascending timestamp
// and including pending writes. onChanges receives each snapshot's changes.
// If the subscription cannot start or later fails, onError receives a remote
// subscription error and the subscription is over; nothing resubscribes.
func (a *Adapter) Watch(ctx context.Context, path string, onChanges ChangesHandler, onError ErrorHandler) UnsubscribeFunc {
	sub := a.subscribe(ctx, errors.OpWatch, path,
		func(_ *subscription, changes []docstore.Change) {
			if onChanges != nil {
				onChanges(changes)
			}
		},
		func(err error) {
			if onError != nil {
				onError(err)
			}
		},
	)
	return sub.unsubscribe
}

// Listen replays documents added to the collection at path into the local
// dispatcher as rehydrated actions. An empty path means the adapter's own
// collection. Modified and removed documents are ignored. Subscription errors
// are logged and otherwise dropped; the caller only sees dispatches stop.
func (a *Adapter) Listen(ctx context.Context, path string) UnsubscribeFunc {
	if path == "" {
		path = a.path
	}
	sub := a.subscribe(ctx, errors.OpListen, path,
		func(sub *subscription, changes []docstore.Change) {
			dispatched := 0
			for _, change := range changes {
				if change.Kind != docstore.Added {
					continue
				}
				if !sub.active() {
					break
				}
				a.local.Dispatch(Rehydrate(change.Doc))
				dispatched++
			}
			if dispatched > 0 {
				a.metrics.RecordLocalDispatches(dispatched)
			}
		},
		func(err error) {
			a.logger.LogError(ctx, err, "actions query failing", slog.String("path", path))
		},
	)
	return sub.unsubscribe
}

func (a *Adapter) subscribe(ctx context.Context, op errors.Operation, path string, handle func(*subscription, []docstore.Change), onError func(error)) *subscription {
	sub := &subscription{metrics: a.metrics}

	fail := func(err error) {
		serr := errors.NewRemoteSubscriptionError(op, err)
		serr.Metadata = map[string]interface{}{"path": path}
		a.metrics.RecordErrors(string(op), reason(serr))
		onError(serr)
	}

	backend, err := a.store.Subscribe(ctx, docstore.Query{
		Collection:             path,
		OrderBy:                FieldTimestamp,
		IncludeMetadataChanges: true,
	}, func(snap docstore.Snapshot) {
		sub.deliver(func() {
			a.recordChanges(snap.Changes)
			handle(sub, snap.Changes)
		})
	}, func(err error) {
		sub.deliver(func() {
			sub.unsubscribe()
			fail(err)
		})
	})
	if err != nil {
		sub.stopped.Store(true)
		fail(err)
		return sub
	}

	a.metrics.RecordActiveSubscriptions(1)
	sub.attach(backend, context.AfterFunc(ctx, sub.unsubscribe))
	a.logger.DebugContext(ctx, "subscribed", slog.String("path", path), slog.String("operation", string(op)))
	return sub
}

func (a *Adapter) recordChanges(changes []docstore.Change) {
	var counts [3]int
	for _, c := range changes {
		if c.Kind >= docstore.Added && c.Kind <= docstore.Removed {
			counts[c.Kind]++
		}
	}
	for kind, n := range counts {
		if n > 0 {
			a.metrics.RecordChanges(docstore.ChangeKind(kind).String(), n)
		}
	}
}

// subscription guards callbacks so none run once unsubscribe has been called,
// whatever the backend still has in flight.
type subscription struct {
	stopped atomic.Bool
	once    sync.Once
	metrics MetricsCollector

	// deliverMu is held while a callback runs; deliverer is the goroutine
	// running it, or 0.
	deliverMu sync.Mutex
	deliverer atomic.Uint64

	mu        sync.Mutex
	backend   docstore.Subscription
	stopWatch func() bool
	attached  bool
}

func (s *subscription) active() bool { return !s.stopped.Load() }

func (s *subscription) attach(backend docstore.Subscription, stopWatch func() bool) {
	s.mu.Lock()
	s.backend = backend
	s.stopWatch = stopWatch
	s.attached = true
	s.mu.Unlock()

	// unsubscribe may have run before the backend was known
	if s.stopped.Load() {
		s.release()
	}
}

// deliver runs fn unless the subscription has ended. Deliveries are
// serialised with each other and with unsubscribe.
func (s *subscription) deliver(fn func()) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
	if s.stopped.Load() {
		return
	}
	s.deliverer.Store(goroutineID())
	defer s.deliverer.Store(0)
	fn()
}

// unsubscribe ends the subscription and waits for a callback running on
// another goroutine to return. Called from within a callback it does not wait.
func (s *subscription) unsubscribe() {
	s.stopped.Store(true)
	s.release()
	if s.deliverer.Load() == goroutineID() {
		return
	}
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()
}

func (s *subscription) release() {
	s.mu.Lock()
	backend, stopWatch, attached := s.backend, s.stopWatch, s.attached
	s.mu.Unlock()
	if !attached {
		return
	}
	s.once.Do(func() {
		stopWatch()
		backend.Unsubscribe()
		s.metrics.RecordActiveSubscriptions(-1)
	})
}

func actionAttr(action Action) slog.Attr {
	b, err := json.Marshal(action)
	if err != nil {
		return slog.String("action", fmt.Sprintf("%v", map[string]any(action)))
	}
	return slog.String("action", string(b))
}

func reason(err *errors.SyncError) string {
	if err.Kind == errors.KindUnknown {
		return "unknown"
	}
	return string(err.Kind)
}
