// Package sqlite provides a SQLite implementation of docstore.Store.
//
// Documents of every collection live in one table. Server timestamps are
// assigned from the store clock when a row is inserted and are kept strictly
// increasing across the whole table. Subscriptions poll for rows newer than
// the last one they delivered, so several processes sharing a database file
// see each other's writes within one poll interval.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock"
	sqlite3 "github.com/mattn/go-sqlite3"

	"github.com/c0deZ3R0/firesync/docstore"
	"github.com/c0deZ3R0/firesync/errors"
	"github.com/c0deZ3R0/firesync/logging"
)

const component = "sqlite"

var tableNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Config holds configuration options for the Store.
//
// DefaultConfig applies production defaults:
//   - WAL mode enabled for better concurrency
//   - Connection pool with 25 max open, 5 max idle connections
//   - Connection lifetimes of 1 hour max, 5 minutes max idle
//   - Polling every 250ms
type Config struct {
	// DataSourceName is the connection string for the SQLite database.
	// Example: "file:actions.db"
	DataSourceName string

	// EnableWAL appends "_journal_mode=WAL" to DataSourceName.
	EnableWAL bool

	// TableName is the table documents are stored in. Defaults to "documents".
	TableName string

	// PollInterval is how often subscriptions look for new rows.
	PollInterval time.Duration

	// Clock supplies server timestamps and drives polling. Defaults to the
	// wall clock.
	Clock clock.Clock

	// NewID generates document ids. Defaults to random UUIDs.
	NewID func() string

	// Logger defaults to the process-wide logger.
	Logger *logging.Logger

	MaxOpenConns    int           // Default: 25
	MaxIdleConns    int           // Default: 5
	ConnMaxLifetime time.Duration // Default: 1h
	ConnMaxIdleTime time.Duration // Default: 5m
}

// setDefaults applies default values to the config
func (c *Config) setDefaults() {
	if c.TableName == "" {
		c.TableName = "documents"
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 250 * time.Millisecond
	}
	if c.Clock == nil {
		c.Clock = clock.WallClock
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	if c.Logger == nil {
		c.Logger = logging.Default()
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = time.Hour
	}
	if c.ConnMaxIdleTime == 0 {
		c.ConnMaxIdleTime = 5 * time.Minute
	}
	if c.EnableWAL && !strings.Contains(c.DataSourceName, "_journal_mode=") {
		c.DataSourceName = withParam(c.DataSourceName, "_journal_mode=WAL")
	}
	if !strings.Contains(c.DataSourceName, "_busy_timeout=") {
		c.DataSourceName = withParam(c.DataSourceName, "_busy_timeout=5000")
	}
}

func withParam(dsn, param string) string {
	if strings.Contains(dsn, "?") {
		return dsn + "&" + param
	}
	return dsn + "?" + param
}

// isMemory reports whether dsn names a private in-memory database, which only
// exists for as long as its single connection.
func isMemory(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

// DefaultConfig returns a Config with production defaults for dataSourceName.
func DefaultConfig(dataSourceName string) *Config {
	config := &Config{
		DataSourceName: dataSourceName,
		EnableWAL:      true,
	}
	config.setDefaults()
	return config
}

// NewWithDataSource is a convenience constructor
func NewWithDataSource(dataSourceName string) (*Store, error) {
	return New(DefaultConfig(dataSourceName))
}

// Store implements docstore.Store on SQLite.
type Store struct {
	db           *sql.DB
	clock        clock.Clock
	newID        func() string
	logger       *logging.Logger
	pollInterval time.Duration
	q            queries

	// appends are serialised so that timestamps stay ordered with seq
	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
	subs   map[*subscription]struct{}
	wg     sync.WaitGroup
}

var _ docstore.Store = (*Store)(nil)

// New opens the database described by config and creates the documents table
// if it does not exist.
func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.NewValidationError(errors.OpConfig, fmt.Errorf("config cannot be nil"))
	}
	if config.DataSourceName == "" {
		return nil, errors.NewValidationError(errors.OpConfig, fmt.Errorf("DataSourceName is required"))
	}
	config.setDefaults()
	if !tableNamePattern.MatchString(config.TableName) {
		return nil, errors.NewValidationError(errors.OpConfig, fmt.Errorf("invalid table name %q", config.TableName))
	}

	logger := config.Logger.WithComponent(logging.Component(component))
	logger.Info("opening SQLite database",
		slog.String("data_source", config.DataSourceName),
		slog.Bool("wal_enabled", config.EnableWAL),
	)

	db, err := sql.Open("sqlite3", config.DataSourceName)
	if err != nil {
		return nil, errors.NewStorageError(errors.OpConfig, component, fmt.Errorf("failed to open sqlite database: %w", err))
	}

	if isMemory(config.DataSourceName) {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		db.SetConnMaxIdleTime(0)
	} else {
		db.SetMaxOpenConns(config.MaxOpenConns)
		db.SetMaxIdleConns(config.MaxIdleConns)
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
		db.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.NewStorageError(errors.OpConfig, component, fmt.Errorf("failed to connect to sqlite database: %w", err))
	}

	s := &Store{
		db:           db,
		clock:        config.Clock,
		newID:        config.NewID,
		logger:       logger,
		pollInterval: config.PollInterval,
		q:            newQueries(config.TableName),
		subs:         make(map[*subscription]struct{}),
	}
	if err := logger.LogOperation(context.Background(), logging.Operation("setup_schema"), logging.Component(component), s.setupSchema); err != nil {
		db.Close()
		return nil, errors.NewStorageError(errors.OpConfig, component, fmt.Errorf("failed to setup database schema: %w", err))
	}

	logger.Info("SQLite document store initialized",
		slog.String("table_name", config.TableName),
		slog.Duration("poll_interval", config.PollInterval),
	)
	return s, nil
}

type queries struct {
	schema  string
	last    string
	insert  string
	since   string
	ordered string
}

func newQueries(table string) queries {
	return queries{
		schema: fmt.Sprintf(`
    CREATE TABLE IF NOT EXISTS %[1]s (
        seq             INTEGER PRIMARY KEY AUTOINCREMENT,
        collection      TEXT NOT NULL,
        id              TEXT NOT NULL,
        data            TEXT NOT NULL,
        server_fields   TEXT NOT NULL DEFAULT '[]',
        created_at      INTEGER NOT NULL,
        UNIQUE (collection, id)
    );
    CREATE INDEX IF NOT EXISTS idx_%[1]s_collection_seq ON %[1]s (collection, seq);
    `, table),
		last:    fmt.Sprintf(`SELECT COALESCE(MAX(created_at), 0) FROM %s`, table),
		insert:  fmt.Sprintf(`INSERT INTO %s (collection, id, data, server_fields, created_at) VALUES (?, ?, ?, ?, ?)`, table),
		since:   fmt.Sprintf(`SELECT seq, id, data, server_fields, created_at FROM %s WHERE collection = ? AND seq > ? ORDER BY created_at ASC, seq ASC`, table),
		ordered: fmt.Sprintf(`SELECT seq, id, data, server_fields, created_at FROM %s WHERE collection = ? ORDER BY seq ASC`, table),
	}
}

func (s *Store) setupSchema() error {
	_, err := s.db.Exec(s.q.schema)
	return err
}

func (s *Store) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// Append implements docstore.Store. Fields holding docstore.ServerTimestamp
// are stored as the row's creation time.
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
	if fields == nil {
		fields = []string{}
	}
	body, err := docstore.EncodeData(clean)
	if err != nil {
		return docstore.DocumentRef{}, errors.E(errors.OpAppend, errors.Component(component), errors.KindInvalid, err)
	}
	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return docstore.DocumentRef{}, errors.E(errors.OpAppend, errors.Component(component), errors.KindInvalid, err)
	}

	id := s.newID()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return docstore.DocumentRef{}, wrap(errors.OpAppend, err)
	}
	defer tx.Rollback()

	var last int64
	if err := tx.QueryRowContext(ctx, s.q.last).Scan(&last); err != nil {
		return docstore.DocumentRef{}, wrap(errors.OpAppend, err)
	}
	createdAt := s.clock.Now().UnixMicro()
	if createdAt <= last {
		createdAt = last + 1
	}

	if _, err := tx.ExecContext(ctx, s.q.insert, collection, id, string(body), string(fieldsJSON), createdAt); err != nil {
		return docstore.DocumentRef{}, wrap(errors.OpAppend, err)
	}
	if err := tx.Commit(); err != nil {
		return docstore.DocumentRef{}, wrap(errors.OpAppend, err)
	}

	s.logger.Debug("document appended",
		slog.String("collection", collection),
		slog.String("id", id),
	)
	return docstore.DocumentRef{Collection: collection, ID: id}, nil
}

// Documents returns every document of collection in insertion order.
func (s *Store) Documents(ctx context.Context, collection string) ([]docstore.Document, error) {
	if s.isClosed() {
		return nil, errors.E(errors.OpDecode, errors.Component(component), errors.KindUnavailable, docstore.ErrClosed)
	}
	rows, err := s.db.QueryContext(ctx, s.q.ordered, collection)
	if err != nil {
		return nil, wrap(errors.OpDecode, err)
	}
	defer rows.Close()

	docs, _, err := scanDocuments(rows)
	return docs, err
}

// Subscribe implements docstore.Store. The first snapshot holds the existing
// documents; later snapshots hold rows found by each poll. Writes are
// confirmed when Append returns, so IncludeMetadataChanges has no effect.
func (s *Store) Subscribe(ctx context.Context, q docstore.Query, onSnapshot docstore.SnapshotHandler, onError docstore.ErrorHandler) (docstore.Subscription, error) {
	if err := docstore.ValidateCollection(q.Collection); err != nil {
		return nil, errors.E(errors.OpSubscribe, errors.Component(component), errors.KindInvalid, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
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

	go func() {
		defer s.wg.Done()
		defer s.remove(sub)
		sub.run(subCtx)
	}()

	s.logger.Debug("subscription started",
		slog.String("collection", q.Collection),
		slog.Duration("poll_interval", s.pollInterval),
	)
	return docstore.SubscriptionFunc(cancel), nil
}

func (s *Store) remove(sub *subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Close stops every subscription, waits for their polls to finish and closes
// the database.
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
	if err := s.db.Close(); err != nil {
		return errors.NewStorageError(errors.OpClose, component, err)
	}
	return nil
}

// Stats returns database statistics for monitoring
func (s *Store) Stats() sql.DBStats {
	if s.isClosed() {
		return sql.DBStats{}
	}
	return s.db.Stats()
}

type row struct {
	seq       int64
	id        string
	data      string
	fields    string
	createdAt int64
}

func scanDocuments(rows *sql.Rows) ([]docstore.Document, int64, error) {
	var (
		docs    []docstore.Document
		lastSeq int64
	)
	for rows.Next() {
		var r row
		if err := rows.Scan(&r.seq, &r.id, &r.data, &r.fields, &r.createdAt); err != nil {
			return nil, 0, wrap(errors.OpDecode, fmt.Errorf("failed to scan document row: %w", err))
		}
		doc, err := r.document()
		if err != nil {
			return nil, 0, err
		}
		docs = append(docs, doc)
		if r.seq > lastSeq {
			lastSeq = r.seq
		}
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrap(errors.OpDecode, fmt.Errorf("error during row iteration: %w", err))
	}
	return docs, lastSeq, nil
}

func (r row) document() (docstore.Document, error) {
	data, err := docstore.DecodeData([]byte(r.data))
	if err != nil {
		return docstore.Document{}, errors.E(errors.OpDecode, errors.Component(component), errors.KindInternal, fmt.Errorf("document %s: %w", r.id, err))
	}
	var fields []string
	if err := json.Unmarshal([]byte(r.fields), &fields); err != nil {
		return docstore.Document{}, errors.E(errors.OpDecode, errors.Component(component), errors.KindInternal, fmt.Errorf("document %s server fields: %w", r.id, err))
	}
	docstore.ApplyServerTime(data, fields, docstore.TimestampFromTime(time.UnixMicro(r.createdAt)))
	return docstore.Document{ID: r.id, Data: data}, nil
}

func wrap(op errors.Operation, err error) error {
	return errors.WrapOpComponentKind(err, op, component, kindOf(err))
}

func kindOf(err error) errors.Kind {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return errors.KindCanceled
	}
	if stderrors.Is(err, sql.ErrConnDone) {
		return errors.KindUnavailable
	}
	var sqliteErr sqlite3.Error
	if stderrors.As(err, &sqliteErr) {
		switch sqliteErr.Code {
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrCantOpen, sqlite3.ErrIoErr:
			return errors.KindUnavailable
		case sqlite3.ErrPerm, sqlite3.ErrAuth, sqlite3.ErrReadonly:
			return errors.KindPermission
		case sqlite3.ErrConstraint, sqlite3.ErrTooBig, sqlite3.ErrMismatch:
			return errors.KindInvalid
		}
	}
	return errors.KindInternal
}
