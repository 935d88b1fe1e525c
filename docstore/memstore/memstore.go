// Package memstore provides an in-process docstore.Store.
//
// A Store is one client connection to an in-memory server. Connect opens
// further connections to the same server, so several adapters can play the
// part of separate devices. As with Firestore, a client that subscribes with
// metadata changes sees its own writes first as pending documents whose server
// timestamps are still null, then as committed modifications. Every other
// subscription only sees committed documents. Nothing is persisted.
package memstore

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/c0deZ3R0/firesync/docstore"
	"github.com/c0deZ3R0/firesync/errors"
	"github.com/c0deZ3R0/firesync/logging"
)

const component = "memstore"

// Option configures a Store.
type Option func(*server)

// WithClock sets the clock server timestamps are taken from.
func WithClock(c clock.Clock) Option {
	return func(s *server) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *server) { s.logger = l.WithComponent(logging.Component(component)) }
}

// WithIDGenerator replaces the random document id generator.
func WithIDGenerator(next func() string) Option {
	return func(s *server) { s.newID = next }
}

type document struct {
	id   string
	data map[string]any
}

// server holds the shared documents and every client's subscriptions.
type server struct {
	mu         sync.Mutex
	clock      clock.Clock
	newID      func() string
	logger     *logging.Logger
	docs       map[string][]document
	subs       map[string]map[*subscriber]struct{}
	lastCommit time.Time
	appendErr  error
	clients    int
}

// Store is a client connection to an in-memory document server.
type Store struct {
	srv    *server
	client int

	mu     sync.Mutex
	closed bool
}

var _ docstore.Store = (*Store)(nil)

// New starts an empty server and returns a first connection to it.
func New(opts ...Option) *Store {
	srv := &server{
		clock:  clock.WallClock,
		newID:  uuid.NewString,
		logger: logging.WithComponent(logging.Component(component)),
		docs:   make(map[string][]document),
		subs:   make(map[string]map[*subscriber]struct{}),
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv.connect()
}

func (srv *server) connect() *Store {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	srv.clients++
	return &Store{srv: srv, client: srv.clients}
}

// Connect opens another client connection to the same server.
func (s *Store) Connect() *Store {
	return s.srv.connect()
}

// FailAppends makes every following Append, from any client, fail with err.
// A nil err restores normal behaviour.
func (s *Store) FailAppends(err error) {
	s.srv.mu.Lock()
	defer s.srv.mu.Unlock()
	s.srv.appendErr = err
}

// BreakSubscriptions ends every active subscription on collection, from any
// client, with err, as a lost connection or revoked permission would.
func (s *Store) BreakSubscriptions(collection string, err error) {
	srv := s.srv
	srv.mu.Lock()
	defer srv.mu.Unlock()

	for sub := range srv.subs[collection] {
		sub.push(event{err: errors.WrapOpComponent(err, errors.OpSubscribe, component)})
	}
	delete(srv.subs, collection)
}

// Documents returns the committed documents of collection in commit order.
func (s *Store) Documents(collection string) []docstore.Document {
	srv := s.srv
	srv.mu.Lock()
	defer srv.mu.Unlock()

	docs := srv.docs[collection]
	out := make([]docstore.Document, len(docs))
	for i, d := range docs {
		out[i] = docstore.Document{ID: d.id, Data: docstore.CloneData(d.data)}
	}
	return out
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Append implements docstore.Store.
func (s *Store) Append(ctx context.Context, collection string, data map[string]any) (docstore.DocumentRef, error) {
	if err := ctx.Err(); err != nil {
		return docstore.DocumentRef{}, err
	}
	if err := docstore.ValidateCollection(collection); err != nil {
		return docstore.DocumentRef{}, errors.E(errors.OpAppend, errors.Component(component), errors.KindInvalid, err)
	}
	if s.isClosed() {
		return docstore.DocumentRef{}, errors.E(errors.OpAppend, errors.Component(component), errors.KindUnavailable, docstore.ErrClosed)
	}

	clean, fields := docstore.ServerFields(data)
	clean = docstore.CloneData(clean)

	srv := s.srv
	srv.mu.Lock()
	defer srv.mu.Unlock()

	if srv.appendErr != nil {
		return docstore.DocumentRef{}, errors.E(errors.OpAppend, errors.Component(component), srv.appendErr)
	}

	id := srv.newID()
	index := len(srv.docs[collection])
	subs := srv.subs[collection]

	// latency compensation: the writer's own metadata subscriptions see the
	// document before its server fields are known
	for sub := range subs {
		if sub.client != s.client || !sub.query.IncludeMetadataChanges {
			continue
		}
		pending := docstore.CloneData(clean)
		for _, f := range fields {
			pending[f] = nil
		}
		sub.push(event{snap: &docstore.Snapshot{
			Collection:       collection,
			HasPendingWrites: true,
			ReadTime:         srv.clock.Now(),
			Changes: []docstore.Change{{
				Kind:     docstore.Added,
				Doc:      docstore.Document{ID: id, Data: pending, HasPendingWrites: true},
				OldIndex: -1,
				NewIndex: index,
			}},
		}})
	}

	now := srv.clock.Now().Truncate(time.Microsecond)
	if !now.After(srv.lastCommit) {
		now = srv.lastCommit.Add(time.Microsecond)
	}
	srv.lastCommit = now
	docstore.ApplyServerTime(clean, fields, docstore.TimestampFromTime(now))
	srv.docs[collection] = append(srv.docs[collection], document{id: id, data: clean})

	for sub := range subs {
		change := docstore.Change{
			Kind:     docstore.Added,
			Doc:      docstore.Document{ID: id, Data: docstore.CloneData(clean)},
			OldIndex: -1,
			NewIndex: index,
		}
		if sub.client == s.client && sub.query.IncludeMetadataChanges {
			change.Kind = docstore.Modified
			change.OldIndex = index
		}
		sub.push(event{snap: &docstore.Snapshot{
			Collection: collection,
			ReadTime:   now,
			Changes:    []docstore.Change{change},
		}})
	}

	srv.logger.Debug("document appended",
		slog.String("collection", collection),
		slog.String("id", id),
		slog.Int("client", s.client),
		slog.Int("subscribers", len(subs)),
	)
	return docstore.DocumentRef{Collection: collection, ID: id}, nil
}

// Subscribe implements docstore.Store.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotHandler, onError docstore.ErrorHandler) (docstore.Subscription, error) {
	if err := docstore.ValidateCollection(q.Collection); err != nil {
		return nil, errors.E(errors.OpSubscribe, errors.Component(component), errors.KindInvalid, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	sub := newSubscriber(s.client, q, onSnapshot, onError)

	// registering under s.mu keeps Close from missing a new subscription
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errors.E(errors.OpSubscribe, errors.Component(component), errors.KindUnavailable, docstore.ErrClosed)
	}
	srv := s.srv
	srv.mu.Lock()
	if srv.subs[q.Collection] == nil {
		srv.subs[q.Collection] = make(map[*subscriber]struct{})
	}
	srv.subs[q.Collection][sub] = struct{}{}

	existing := srv.docs[q.Collection]
	docs := make([]docstore.Document, len(existing))
	for i, d := range existing {
		docs[i] = docstore.Document{ID: d.id, Data: docstore.CloneData(d.data)}
	}
	docstore.SortDocuments(docs, q.OrderBy)
	changes := make([]docstore.Change, len(docs))
	for i, d := range docs {
		changes[i] = docstore.Change{Kind: docstore.Added, Doc: d, OldIndex: -1, NewIndex: i}
	}
	sub.push(event{snap: &docstore.Snapshot{
		Collection: q.Collection,
		Changes:    changes,
		ReadTime:   srv.clock.Now(),
	}})
	srv.mu.Unlock()
	s.mu.Unlock()

	go sub.run()

	unsubscribe := func() {
		srv.remove(sub)
		sub.stop()
	}
	go func() {
		select {
		case <-ctx.Done():
			unsubscribe()
		case <-sub.done:
		}
	}()

	srv.logger.Debug("subscription started",
		slog.String("collection", q.Collection),
		slog.Int("client", s.client),
		slog.Int("existing", len(changes)),
	)
	return docstore.SubscriptionFunc(unsubscribe), nil
}

func (srv *server) remove(sub *subscriber) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if set, ok := srv.subs[sub.query.Collection]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(srv.subs, sub.query.Collection)
		}
	}
}

// Close stops this client's subscriptions and rejects its further use. The
// server and other clients are unaffected.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	srv := s.srv
	srv.mu.Lock()
	defer srv.mu.Unlock()
	for collection, set := range srv.subs {
		for sub := range set {
			if sub.client == s.client {
				sub.stop()
				delete(set, sub)
			}
		}
		if len(set) == 0 {
			delete(srv.subs, collection)
		}
	}
	return nil
}
