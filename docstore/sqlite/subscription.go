package sqlite

import (
	"context"
	"log/slog"

	"github.com/c0deZ3R0/firesync/docstore"
	"github.com/c0deZ3R0/firesync/errors"
)

type subscription struct {
	store      *Store
	query      docstore.Query
	onSnapshot docstore.SnapshotHandler
	onError    docstore.ErrorHandler
	cancel     context.CancelFunc
}

// run delivers the existing documents, then polls until ctx is done or a
// query fails.
func (sub *subscription) run(ctx context.Context) {
	s := sub.store
	collection := sub.query.Collection

	docs, lastSeq, err := sub.fetch(ctx, s.q.ordered, collection)
	if err != nil {
		sub.fail(ctx, err)
		return
	}
	docstore.SortDocuments(docs, sub.query.OrderBy)
	changes := make([]docstore.Change, len(docs))
	for i, d := range docs {
		changes[i] = docstore.Change{Kind: docstore.Added, Doc: d, OldIndex: -1, NewIndex: i}
	}
	sub.deliver(ctx, changes)
	size := len(docs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.clock.After(s.pollInterval):
		}

		docs, seq, err := sub.fetch(ctx, s.q.since, collection, lastSeq)
		if err != nil {
			sub.fail(ctx, err)
			return
		}
		if len(docs) == 0 {
			continue
		}
		lastSeq = seq

		changes := make([]docstore.Change, len(docs))
		for i, d := range docs {
			changes[i] = docstore.Change{Kind: docstore.Added, Doc: d, OldIndex: -1}
		}
		docstore.SortChanges(changes, sub.query.OrderBy)
		for i := range changes {
			changes[i].NewIndex = size + i
		}
		size += len(changes)
		sub.deliver(ctx, changes)
	}
}

func (sub *subscription) fetch(ctx context.Context, query string, args ...any) ([]docstore.Document, int64, error) {
	rows, err := sub.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, wrap(errors.OpSubscribe, err)
	}
	defer rows.Close()
	return scanDocuments(rows)
}

func (sub *subscription) deliver(ctx context.Context, changes []docstore.Change) {
	if ctx.Err() != nil || sub.onSnapshot == nil {
		return
	}
	sub.onSnapshot(docstore.Snapshot{
		Collection: sub.query.Collection,
		Changes:    changes,
		ReadTime:   sub.store.clock.Now(),
	})
}

func (sub *subscription) fail(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	sub.store.logger.Warn("subscription query failed",
		slog.String("collection", sub.query.Collection),
		slog.String("error", err.Error()),
	)
	sub.cancel()
	if sub.onError != nil {
		sub.onError(err)
	}
}
