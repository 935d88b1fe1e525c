package firesync

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c0deZ3R0/firesync/docstore"
	"github.com/c0deZ3R0/firesync/logging"
)

// captureHandler records every log record it is given.
type captureHandler struct {
	mu      *sync.Mutex
	records *[]slog.Record
	attrs   []slog.Attr
}

func newCapture() (*logging.Logger, *captureHandler) {
	h := &captureHandler{mu: &sync.Mutex{}, records: &[]slog.Record{}}
	return logging.New(h), h
}

func (h *captureHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *captureHandler) Handle(_ context.Context, r slog.Record) error {
	r = r.Clone()
	r.AddAttrs(h.attrs...)
	h.mu.Lock()
	defer h.mu.Unlock()
	*h.records = append(*h.records, r)
	return nil
}

func (h *captureHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &captureHandler{mu: h.mu, records: h.records, attrs: append(append([]slog.Attr{}, h.attrs...), attrs...)}
}

func (h *captureHandler) WithGroup(string) slog.Handler { return h }

func (h *captureHandler) at(level slog.Level) []slog.Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []slog.Record
	for _, r := range *h.records {
		if r.Level == level {
			out = append(out, r)
		}
	}
	return out
}

func attrValue(r slog.Record, key string) (slog.Value, bool) {
	var found slog.Value
	ok := false
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			found, ok = a.Value, true
			return false
		}
		return true
	})
	return found, ok
}

// recordingDispatcher is a local store that remembers what it was given.
type recordingDispatcher struct {
	mu      sync.Mutex
	actions []Action
	hook    func(Action)
}

func (d *recordingDispatcher) Dispatch(action Action) {
	d.mu.Lock()
	d.actions = append(d.actions, action)
	hook := d.hook
	d.mu.Unlock()
	if hook != nil {
		hook(action)
	}
}

func (d *recordingDispatcher) received() []Action {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Action(nil), d.actions...)
}

// fakeStore hands snapshots to subscribers only when a test emits them, so
// delivery order and timing are fully controlled.
type fakeStore struct {
	mu           sync.Mutex
	appended     []map[string]any
	appendErr    error
	subscribeErr error
	queries      []docstore.Query
	subs         []*fakeSub
}

type fakeSub struct {
	onSnapshot   docstore.SnapshotHandler
	onError      docstore.ErrorHandler
	unsubscribed atomic.Int32
}

func (f *fakeStore) Append(_ context.Context, collection string, data map[string]any) (docstore.DocumentRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return docstore.DocumentRef{}, f.appendErr
	}
	f.appended = append(f.appended, data)
	return docstore.DocumentRef{Collection: collection, ID: "fake"}, nil
}

func (f *fakeStore) Subscribe(_ context.Context, q docstore.Query, onSnapshot docstore.SnapshotHandler, onError docstore.ErrorHandler) (docstore.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subscribeErr != nil {
		return nil, f.subscribeErr
	}
	sub := &fakeSub{onSnapshot: onSnapshot, onError: onError}
	f.queries = append(f.queries, q)
	f.subs = append(f.subs, sub)
	return docstore.SubscriptionFunc(func() { sub.unsubscribed.Add(1) }), nil
}

func (f *fakeStore) Close() error { return nil }

func (f *fakeStore) sub(i int) *fakeSub {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.subs[i]
}

func (f *fakeStore) emit(i int, changes ...docstore.Change) {
	f.sub(i).onSnapshot(docstore.Snapshot{Changes: changes, ReadTime: time.Now()})
}

func (f *fakeStore) fail(i int, err error) {
	f.sub(i).onError(err)
}

func added(id string, data map[string]any) docstore.Change {
	return docstore.Change{Kind: docstore.Added, Doc: docstore.Document{ID: id, Data: data}, OldIndex: -1}
}

func changeOf(kind docstore.ChangeKind, id string, data map[string]any) docstore.Change {
	return docstore.Change{Kind: kind, Doc: docstore.Document{ID: id, Data: data}}
}

// recordingMetrics counts what the adapter reports.
type recordingMetrics struct {
	mu            sync.Mutex
	dispatches    int
	changes       map[string]int
	local         int
	errors        map[string]int
	subscriptions int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{changes: map[string]int{}, errors: map[string]int{}}
}

func (m *recordingMetrics) RecordDispatchDuration(time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dispatches++
}

func (m *recordingMetrics) RecordChanges(kind string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes[kind] += n
}

func (m *recordingMetrics) RecordLocalDispatches(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.local += n
}

func (m *recordingMetrics) RecordErrors(op, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[op+"/"+reason]++
}

func (m *recordingMetrics) RecordActiveSubscriptions(delta int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions += delta
}

func (m *recordingMetrics) activeSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.subscriptions
}
