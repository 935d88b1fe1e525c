package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/c0deZ3R0/firesync/docstore"
	"github.com/c0deZ3R0/firesync/errors"
)

// pingInterval keeps idle listener connections from being dropped silently.
const pingInterval = 90 * time.Second

type subscription struct {
	store      *Store
	query      docstore.Query
	onSnapshot docstore.SnapshotHandler
	onError    docstore.ErrorHandler
	cancel     context.CancelFunc

	// lost receives the first listener connection failure
	lost chan error
}

// eventCallback handles pq.Listener events. Any disconnect ends the
// subscription, since notifications sent while disconnected are gone.
func (sub *subscription) eventCallback(event pq.ListenerEventType, err error) {
	logger := sub.store.logger
	switch event {
	case pq.ListenerEventConnected:
		logger.Debug("listener connected", slog.String("collection", sub.query.Collection))
	case pq.ListenerEventDisconnected:
		sub.signalLost(fmt.Errorf("listener disconnected: %w", err))
	case pq.ListenerEventConnectionAttemptFailed:
		sub.signalLost(fmt.Errorf("listener connection attempt failed: %w", err))
	}
}

func (sub *subscription) signalLost(err error) {
	select {
	case sub.lost <- err:
	default:
	}
}

func (sub *subscription) run(ctx context.Context) {
	s := sub.store
	listener := pq.NewListener(
		s.config.ConnectionString,
		s.config.MinReconnectInterval,
		s.config.MaxReconnectInterval,
		sub.eventCallback,
	)
	defer func() {
		if err := listener.Close(); err != nil {
			s.logger.Debug("error closing listener", slog.String("error", err.Error()))
		}
	}()

	// Listen blocks until connected; failures arrive on lost meanwhile
	listening := make(chan error, 1)
	go func() { listening <- listener.Listen(s.config.Channel) }()
	select {
	case <-ctx.Done():
		return
	case err := <-sub.lost:
		sub.fail(ctx, wrap(errors.OpSubscribe, err))
		return
	case err := <-listening:
		if err != nil {
			sub.fail(ctx, wrap(errors.OpSubscribe, fmt.Errorf("failed to listen to channel %s: %w", s.config.Channel, err)))
			return
		}
	}

	// rows committed between LISTEN and this load are also announced
	docs, seqs, err := s.query(ctx, s.q.all, sub.query.Collection)
	if err != nil {
		sub.fail(ctx, err)
		return
	}
	seen := make(map[int64]struct{}, len(seqs))
	for _, seq := range seqs {
		seen[seq] = struct{}{}
	}
	docstore.SortDocuments(docs, sub.query.OrderBy)
	changes := make([]docstore.Change, len(docs))
	for i, d := range docs {
		changes[i] = docstore.Change{Kind: docstore.Added, Doc: d, OldIndex: -1, NewIndex: i}
	}
	sub.deliver(ctx, changes)
	size := len(docs)

	s.logger.Debug("subscription started",
		slog.String("collection", sub.query.Collection),
		slog.Int("existing", size),
	)

	for {
		var pending []int64
		select {
		case <-ctx.Done():
			return
		case err := <-sub.lost:
			sub.fail(ctx, wrap(errors.OpSubscribe, err))
			return
		case n := <-listener.Notify:
			pending = sub.collect(n, seen, pending)
			// coalesce whatever else has already arrived
			for drained := false; !drained; {
				select {
				case n := <-listener.Notify:
					pending = sub.collect(n, seen, pending)
				default:
					drained = true
				}
			}
		case <-time.After(pingInterval):
			go func() {
				if err := listener.Ping(); err != nil {
					s.logger.Warn("listener ping failed", slog.String("error", err.Error()))
				}
			}()
		}
		if len(pending) == 0 {
			continue
		}

		docs, seqs, err := s.query(ctx, s.q.bySeq, sub.query.Collection, pq.Array(pending))
		if err != nil {
			sub.fail(ctx, err)
			return
		}
		for _, seq := range seqs {
			seen[seq] = struct{}{}
		}
		changes := make([]docstore.Change, len(docs))
		for i, d := range docs {
			changes[i] = docstore.Change{Kind: docstore.Added, Doc: d, OldIndex: -1}
		}
		docstore.SortChanges(changes, sub.query.OrderBy)
		for i := range changes {
			changes[i].NewIndex = size + i
		}
		size += len(changes)
		if len(changes) > 0 {
			sub.deliver(ctx, changes)
		}
	}
}

// collect adds the sequence number announced by n when it belongs to this
// subscription's collection and has not been delivered.
func (sub *subscription) collect(n *pq.Notification, seen map[int64]struct{}, pending []int64) []int64 {
	// a nil notification follows a reconnect, which lost already reports
	if n == nil {
		return pending
	}
	payload, err := parseNotification(n.Extra)
	if err != nil {
		sub.store.logger.Warn("ignoring notification",
			slog.String("channel", n.Channel),
			slog.String("error", err.Error()),
		)
		return pending
	}
	if payload.Collection != sub.query.Collection {
		return pending
	}
	if _, ok := seen[payload.Seq]; ok {
		return pending
	}
	return append(pending, payload.Seq)
}

func (sub *subscription) deliver(ctx context.Context, changes []docstore.Change) {
	if ctx.Err() != nil || sub.onSnapshot == nil {
		return
	}
	sub.onSnapshot(docstore.Snapshot{
		Collection: sub.query.Collection,
		Changes:    changes,
		ReadTime:   time.Now(),
	})
}

func (sub *subscription) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	sub.store.logger.Warn("subscription failed",
		slog.String("collection", sub.query.Collection),
		slog.String("error", err.Error()),
	)
	sub.cancel()
	if sub.onError != nil {
		sub.onError(err)
	}
}
