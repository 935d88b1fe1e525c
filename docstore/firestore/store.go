// Package firestore provides a docstore.Store backed by Cloud Firestore.
//
// Documents are added with Collection.Add and server timestamps become
// firestore.ServerTimestamp. Subscriptions are query snapshot listeners.
// The server SDK does not compensate for latency, so a writer's own documents
// arrive once, already committed, and IncludeMetadataChanges has no effect.
package firestore

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/c0deZ3R0/firesync/docstore"
	"github.com/c0deZ3R0/firesync/errors"
	"github.com/c0deZ3R0/firesync/logging"
)

const component = "firestore"

// Config selects the Firestore database to connect to. Credentials default to
// Application Default Credentials; the SDK connects to an emulator when
// FIRESTORE_EMULATOR_HOST is set.
type Config struct {
	ProjectID string

	// DatabaseID defaults to the "(default)" database.
	DatabaseID string

	// CredentialsFile is a service account key file.
	CredentialsFile string

	// Options are passed to the client after those derived from the fields above.
	Options []option.ClientOption

	Logger *logging.Logger
}

// Store implements docstore.Store on a Firestore client.
type Store struct {
	client *firestore.Client
	owned  bool
	logger *logging.Logger

	mu     sync.Mutex
	closed bool
	subs   map[*subscription]struct{}
	wg     sync.WaitGroup
}

var _ docstore.Store = (*Store)(nil)

// New creates a Firestore client from config. Close closes it.
func New(ctx context.Context, config Config) (*Store, error) {
	if config.ProjectID == "" {
		return nil, errors.NewValidationError(errors.OpConfig, fmt.Errorf("ProjectID is required"))
	}

	var opts []option.ClientOption
	if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	opts = append(opts, config.Options...)

	databaseID := config.DatabaseID
	if databaseID == "" {
		databaseID = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, config.ProjectID, databaseID, opts...)
	if err != nil {
		return nil, wrap(errors.OpConfig, fmt.Errorf("failed to create firestore client: %w", err))
	}

	s := newStore(client, config.Logger)
	s.owned = true
	s.logger.Info("Firestore client created",
		slog.String("project_id", config.ProjectID),
		slog.String("database_id", databaseID),
	)
	return s, nil
}

// NewFromClient wraps an existing client. Close leaves it open.
func NewFromClient(client *firestore.Client, logger *logging.Logger) *Store {
	return newStore(client, logger)
}

func newStore(client *firestore.Client, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		client: client,
		logger: logger.WithComponent(logging.Component(component)),
		subs:   make(map[*subscription]struct{}),
	}
}

func (s *Store) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Append implements docstore.Store.
func (s *Store) Append(ctx context.Context, collection string, data map[string]any) (docstore.DocumentRef, error) {
	if err := docstore.ValidateCollection(collection); err != nil {
		return docstore.DocumentRef{}, errors.E(errors.OpAppend, errors.Component(component), errors.KindInvalid, err)
	}
	if s.isClosed() {
		return docstore.DocumentRef{}, errors.E(errors.OpAppend, errors.Component(component), errors.KindUnavailable, docstore.ErrClosed)
	}

	ref, _, err := s.client.Collection(collection).Add(ctx, toFirestore(data))
	if err != nil {
		return docstore.DocumentRef{}, wrap(errors.OpAppend, err)
	}

	s.logger.Debug("document added",
		slog.String("collection", collection),
		slog.String("id", ref.ID),
	)
	return docstore.DocumentRef{Collection: collection, ID: ref.ID}, nil
}

// Subscribe implements docstore.Store with a snapshot listener on the query.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotHandler, onError docstore.ErrorHandler) (docstore.Subscription, error) {
	if err := docstore.ValidateCollection(q.Collection); err != nil {
		return nil, errors.E(errors.OpSubscribe, errors.Component(component), errors.KindInvalid, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query := s.client.Collection(q.Collection).Query
	if q.OrderBy != "" {
		query = query.OrderBy(q.OrderBy, firestore.Asc)
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &subscription{
		store:      s,
		query:      q,
		onSnapshot: onSnapshot,
		onError:    onError,
		cancel:     cancel,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return nil, errors.E(errors.OpSubscribe, errors.Component(component), errors.KindUnavailable, docstore.ErrClosed)
	}
	s.subs[sub] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	it := query.Snapshots(subCtx)
	go func() {
		defer s.wg.Done()
		defer s.remove(sub)
		defer it.Stop()
		sub.run(subCtx, it)
	}()

	s.logger.Debug("snapshot listener started", slog.String("collection", q.Collection))
	return docstore.SubscriptionFunc(cancel), nil
}

func (s *Store) remove(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Close stops every listener and, if the Store created the client, closes it.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for sub := range s.subs {
		sub.cancel()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if !s.owned {
		return nil
	}
	if err := s.client.Close(); err != nil {
		return errors.NewStorageError(errors.OpClose, component, err)
	}
	return nil
}

type snapshotIterator interface {
	Next() (*firestore.QuerySnapshot, error)
}

type subscription struct {
	store      *Store
	query      docstore.Query
	onSnapshot docstore.SnapshotHandler
	onError    docstore.ErrorHandler
	cancel     context.CancelFunc
}

func (sub *subscription) run(ctx context.Context, it snapshotIterator) {
	for {
		snap, err := it.Next()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, iterator.Done) || status.Code(err) == codes.Canceled {
				return
			}
			err = wrap(errors.OpSubscribe, err)
			sub.store.logger.Warn("snapshot listener failed",
				slog.String("collection", sub.query.Collection),
				slog.String("error", err.Error()),
			)
			sub.cancel()
			if sub.onError != nil {
				sub.onError(err)
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if sub.onSnapshot != nil {
			sub.onSnapshot(convertSnapshot(sub.query.Collection, snap))
		}
	}
}

func convertSnapshot(collection string, snap *firestore.QuerySnapshot) docstore.Snapshot {
	changes := make([]docstore.Change, 0, len(snap.Changes))
	for _, c := range snap.Changes {
		changes = append(changes, docstore.Change{
			Kind:     changeKind(c.Kind),
			Doc:      docstore.Document{ID: c.Doc.Ref.ID, Data: fromFirestore(c.Doc.Data())},
			OldIndex: c.OldIndex,
			NewIndex: c.NewIndex,
		})
	}
	return docstore.Snapshot{
		Collection: collection,
		Changes:    changes,
		ReadTime:   snap.ReadTime,
	}
}

func changeKind(k firestore.DocumentChangeKind) docstore.ChangeKind {
	switch k {
	case firestore.DocumentModified:
		return docstore.Modified
	case firestore.DocumentRemoved:
		return docstore.Removed
	}
	return docstore.Added
}

// toFirestore maps docstore values to the SDK's representation.
func toFirestore(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = toFirestoreValue(v)
	}
	return out
}

func toFirestoreValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return toFirestore(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = toFirestoreValue(e)
		}
		return out
	case docstore.Timestamp:
		return val.Time()
	case *docstore.Timestamp:
		if val == nil {
			return nil
		}
		return val.Time()
	}
	if docstore.IsServerTimestamp(v) {
		return firestore.ServerTimestamp
	}
	return v
}

// fromFirestore maps SDK values back, turning times into docstore.Timestamp.
func fromFirestore(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = fromFirestoreValue(v)
	}
	return out
}

func fromFirestoreValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return fromFirestore(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = fromFirestoreValue(e)
		}
		return out
	case time.Time:
		return docstore.TimestampFromTime(val)
	case *firestore.DocumentRef:
		if val == nil {
			return nil
		}
		return val.Path
	}
	return v
}

func wrap(op errors.Operation, err error) error {
	return errors.WrapOpComponentKind(err, op, component, kindOf(err))
}

func kindOf(err error) errors.Kind {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.KindCanceled
	}
	switch status.Code(err) {
	case codes.PermissionDenied, codes.Unauthenticated:
		return errors.KindPermission
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return errors.KindUnavailable
	case codes.InvalidArgument, codes.FailedPrecondition, codes.OutOfRange, codes.AlreadyExists:
		return errors.KindInvalid
	case codes.NotFound:
		return errors.KindNotFound
	case codes.Canceled:
		return errors.KindCanceled
	}
	return errors.KindInternal
}
