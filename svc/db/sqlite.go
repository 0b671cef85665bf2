package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"sync/atomic"
	"time"

	"pobbin/pkg/digest"
	"pobbin/pkg/domain"
	"pobbin/svc/store"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

var ErrCircuitOpen = errors.New("database circuit breaker open")

const (
	circuitClosed   = 0
	circuitOpen     = 1
	circuitHalfOpen = 2
	maxFailures     = 5
	cooldownSeconds = 30
)

const (
	defaultMaxOpenConns = 100
	defaultMaxIdleConns = 10
	defaultQueryTimeout = 5 * time.Second
)

// SQLite is an object store keyed by the same paths the S3 store uses.
type SQLite struct {
	db            *sql.DB
	failures      int32
	circuitState  int32
	circuitOpened int64
	queryTimeout  time.Duration
}

var _ store.ObjectStore = (*SQLite)(nil)

func (s *SQLite) DB() *sql.DB {
	return s.db
}
func NewSQLite(path string) (*SQLite, error) {
	return NewSQLiteWithConfig(path, defaultMaxOpenConns, defaultMaxIdleConns, defaultQueryTimeout)
}

func NewSQLiteWithConfig(path string, maxOpenConns, maxIdleConns int, queryTimeout time.Duration) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open db")
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping db")
	}
	s := &SQLite{
		db:           db,
		queryTimeout: queryTimeout,
	}
	if err := s.migrate(); err != nil {
		return nil, errors.Wrap(err, "migration failed")
	}
	return s, nil
}
func (s *SQLite) checkCircuit() error {
	state := atomic.LoadInt32(&s.circuitState)
	switch state {
	case circuitClosed:
		return nil
	case circuitOpen:
		opened := atomic.LoadInt64(&s.circuitOpened)
		if time.Now().Unix()-opened >= cooldownSeconds {
			if atomic.CompareAndSwapInt32(&s.circuitState, circuitOpen, circuitHalfOpen) {
				return nil
			}
		}
		return ErrCircuitOpen
	default:
		return nil
	}
}
func (s *SQLite) recordError(err error) {
	if err == nil {
		atomic.StoreInt32(&s.failures, 0)
		atomic.StoreInt32(&s.circuitState, circuitClosed)
		return
	}
	if errors.Is(err, sql.ErrNoRows) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) {
		return
	}
	failures := atomic.AddInt32(&s.failures, 1)
	if atomic.LoadInt32(&s.circuitState) == circuitHalfOpen {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
		atomic.StoreInt32(&s.failures, 0)
		return
	}
	if failures >= maxFailures && atomic.LoadInt32(&s.circuitState) == circuitClosed {
		atomic.StoreInt32(&s.circuitState, circuitOpen)
		atomic.StoreInt64(&s.circuitOpened, time.Now().Unix())
	}
}
func (s *SQLite) migrate() error {
	_, err := s.db.Exec("PRAGMA journal_mode=WAL")
	if err != nil {
		return errors.Wrap(err, "enable WAL mode")
	}
	_, err = s.db.Exec("PRAGMA busy_timeout = 5000")
	if err != nil {
		return errors.Wrap(err, "set busy timeout")
	}
	_, err = s.db.Exec("PRAGMA synchronous=FULL")
	if err != nil {
		return errors.Wrap(err, "set synchronous mode")
	}
	query := `
	CREATE TABLE IF NOT EXISTS objects (
		path TEXT PRIMARY KEY,
		owner TEXT,
		entity_id TEXT NOT NULL,
		last_modified INTEGER NOT NULL,
		metadata TEXT,
		content BLOB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_objects_owner ON objects(owner);
	`
	_, err = s.db.Exec(query)
	return err
}

// begin guards every query with the circuit breaker and the query timeout.
func (s *SQLite) begin(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if err := s.checkCircuit(); err != nil {
		return nil, nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	return ctx, cancel, nil
}

func owner(id domain.PasteID) sql.NullString {
	if u, ok := domain.Owner(id); ok {
		return sql.NullString{String: string(u.Normalized()), Valid: true}
	}
	return sql.NullString{}
}

func encodeMeta(m *domain.PasteMetadata) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, errors.Wrap(err, "encode metadata")
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMeta(ns sql.NullString) (*domain.PasteMetadata, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m domain.PasteMetadata
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, errors.Wrap(err, "decode metadata")
	}
	return &m, nil
}

func (s *SQLite) Put(ctx context.Context, id domain.PasteID, d digest.Digest, content []byte, meta *domain.PasteMetadata) error {
	queryCtx, cancel, err := s.begin(ctx)
	if err != nil {
		return domain.NewStorageError("put", err)
	}
	defer cancel()
	m, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	rec := store.NewRecord(d, content, meta, time.Now().UnixMilli())
	q := `
	INSERT INTO objects (path, owner, entity_id, last_modified, metadata, content)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(path) DO UPDATE SET
		entity_id = excluded.entity_id,
		last_modified = excluded.last_modified,
		metadata = excluded.metadata,
		content = excluded.content
	`
	_, err = s.db.ExecContext(queryCtx, q,
		store.ObjectPath(id), owner(id), rec.EntityID, rec.LastModified, m, content,
	)
	s.recordError(err)
	return domain.NewStorageError("put", errors.Wrap(err, "db put"))
}

func (s *SQLite) Get(ctx context.Context, id domain.PasteID) (*domain.StoredPaste, error) {
	queryCtx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, domain.NewStorageError("get", err)
	}
	defer cancel()
	q := `SELECT entity_id, last_modified, metadata, content FROM objects WHERE path = ?`
	var (
		p       domain.StoredPaste
		meta    sql.NullString
		content []byte
	)
	err = s.db.QueryRowContext(queryCtx, q, store.ObjectPath(id)).Scan(&p.EntityID, &p.LastModified, &meta, &content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	s.recordError(err)
	if err != nil {
		return nil, domain.NewStorageError("get", errors.Wrap(err, "db get"))
	}
	if p.Metadata, err = decodeMeta(meta); err != nil {
		return nil, domain.NewStorageError("get", err)
	}
	p.Content = string(content)
	return &p, nil
}

func (s *SQLite) Delete(ctx context.Context, id domain.PasteID) error {
	queryCtx, cancel, err := s.begin(ctx)
	if err != nil {
		return domain.NewStorageError("delete", err)
	}
	defer cancel()
	_, err = s.db.ExecContext(queryCtx, `DELETE FROM objects WHERE path = ?`, store.ObjectPath(id))
	s.recordError(err)
	return domain.NewStorageError("delete", errors.Wrap(err, "delete paste"))
}

// List returns every paste of user, newest first.
func (s *SQLite) List(ctx context.Context, user domain.User) ([]domain.ListPaste, error) {
	queryCtx, cancel, err := s.begin(ctx)
	if err != nil {
		return nil, domain.NewStorageError("list", err)
	}
	defer cancel()
	q := `SELECT path, last_modified, metadata FROM objects WHERE owner = ? ORDER BY last_modified DESC, path`
	rows, err := s.db.QueryContext(queryCtx, q, string(user.Normalized()))
	s.recordError(err)
	if err != nil {
		return nil, domain.NewStorageError("list", errors.Wrap(err, "db list"))
	}
	defer rows.Close()
	out := []domain.ListPaste{}
	for rows.Next() {
		var (
			path string
			lp   domain.ListPaste
			meta sql.NullString
		)
		if err := rows.Scan(&path, &lp.LastModified, &meta); err != nil {
			return nil, domain.NewStorageError("list", errors.Wrap(err, "scan row"))
		}
		if lp.ID, err = store.IDFromPath(user, path); err != nil {
			return nil, domain.NewStorageError("list", err)
		}
		if lp.Metadata, err = decodeMeta(meta); err != nil {
			return nil, domain.NewStorageError("list", err)
		}
		out = append(out, lp)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewStorageError("list", errors.Wrap(err, "iterate rows"))
	}
	return out, nil
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
