// Package docstore defines the remote document store that firesync persists
// actions to and subscribes to, along with helpers shared by its backends.
//
// A backend appends documents to collections, assigns server timestamps to
// fields holding the ServerTimestamp sentinel, and delivers ordered change
// notifications to subscribers:
//
//	ref, err := store.Append(ctx, "rooms/r1/actions", map[string]any{
//		"type":      "INCREMENT",
//		"timestamp": docstore.ServerTimestamp,
//	})
//
//	sub, err := store.Subscribe(ctx, docstore.Query{
//		Collection: "rooms/r1/actions",
//		OrderBy:    "timestamp",
//	}, onSnapshot, onError)
//	defer sub.Unsubscribe()
//
// Backends live in the memstore, sqlite, postgres and firestore subpackages.
package docstore

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrClosed is returned when a closed store is used.
var ErrClosed = errors.New("docstore: store is closed")

// ChangeKind is the transition a document went through.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Document is the state of one stored document as seen by a snapshot.
type Document struct {
	ID   string
	Data map[string]any

	// HasPendingWrites is true while the document reflects a write the
	// backend has not yet committed (latency compensation).
	HasPendingWrites bool
}

// Change describes one document transition within a snapshot. OldIndex is -1
// for added documents and NewIndex is -1 for removed ones.
type Change struct {
	Kind     ChangeKind
	Doc      Document
	OldIndex int
	NewIndex int
}

// Snapshot is one delivery of changes for a subscribed collection. Changes
// are ordered by the query's order field.
type Snapshot struct {
	Collection       string
	Changes          []Change
	HasPendingWrites bool
	ReadTime         time.Time
}

// DocumentRef identifies a stored document.
type DocumentRef struct {
	Collection string
	ID         string
}

// Path returns the slash separated document path.
func (r DocumentRef) Path() string {
	return r.Collection + "/" + r.ID
}

func (r DocumentRef) String() string { return r.Path() }

// Query selects the collection a subscription watches.
type Query struct {
	Collection string

	// OrderBy is the field changes are ordered by, ascending. Documents
	// without the field, or with a null value, sort first.
	OrderBy string

	// IncludeMetadataChanges asks for pending (not yet committed) states in
	// addition to committed ones. Backends without latency compensation
	// ignore it.
	IncludeMetadataChanges bool
}

// SnapshotHandler receives snapshots. Calls for one subscription never overlap.
type SnapshotHandler func(Snapshot)

// ErrorHandler receives the error that ended a subscription. It is called at
// most once and no snapshot follows it.
type ErrorHandler func(error)

// Subscription is a live subscription.
type Subscription interface {
	// Unsubscribe stops delivery. It is safe to call more than once and from
	// within a handler.
	Unsubscribe()
}

// SubscriptionFunc adapts a function to the Subscription interface.
type SubscriptionFunc func()

func (f SubscriptionFunc) Unsubscribe() { f() }

// Store is a remote document store.
type Store interface {
	// Append writes a new document with a store-assigned id to collection.
	// Fields holding ServerTimestamp are set to the commit time.
	Append(ctx context.Context, collection string, data map[string]any) (DocumentRef, error)

	// Subscribe starts delivering snapshots for q. The first snapshot carries
	// every existing document as Added. Cancelling ctx ends the subscription
	// without calling onError.
	Subscribe(ctx context.Context, q Query, onSnapshot SnapshotHandler, onError ErrorHandler) (Subscription, error)

	// Close releases the store's resources.
	Close() error
}

// ValidateCollection checks that path names a collection: non-empty, without
// leading, trailing or doubled slashes, with an odd number of segments.
func ValidateCollection(path string) error {
	if path == "" {
		return errors.New("collection path is empty")
	}
	segments := strings.Split(path, "/")
	for _, s := range segments {
		if s == "" {
			return errors.New("collection path " + path + " has an empty segment")
		}
	}
	if len(segments)%2 == 0 {
		return errors.New("collection path " + path + " names a document, not a collection")
	}
	return nil
}
