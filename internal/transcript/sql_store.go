package transcript

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const createTranscriptsTable = `
CREATE TABLE IF NOT EXISTS transcripts (
    call_id TEXT PRIMARY KEY,
    text TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
)`

// sqlStore is the shared implementation behind SQLiteStore and PostgresStore;
// only the placeholder syntax differs.
type sqlStore struct {
	db     *sql.DB
	upsert string
	get    string
	clock  func() time.Time
}

func newSQLStore(ctx context.Context, db *sql.DB, upsert, get string) (*sqlStore, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping transcript db: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTranscriptsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("init transcript schema: %w", err)
	}
	return &sqlStore{db: db, upsert: upsert, get: get, clock: time.Now}, nil
}

// Put inserts or replaces the call's transcript
func (s *sqlStore) Put(ctx context.Context, rec Record) error {
	if rec.CallID == "" {
		return fmt.Errorf("call id is required")
	}
	created := rec.CreatedAt
	if created.IsZero() {
		created = s.clock()
	}
	if _, err := s.db.ExecContext(ctx, s.upsert, rec.CallID, rec.Text, string(rec.Source), created.UTC()); err != nil {
		return fmt.Errorf("upsert transcript %s: %w", rec.CallID, err)
	}
	return nil
}

// Get loads the call's transcript
func (s *sqlStore) Get(ctx context.Context, callID string) (Record, error) {
	var (
		rec    Record
		source string
	)
	err := s.db.QueryRowContext(ctx, s.get, callID).Scan(&rec.CallID, &rec.Text, &source, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("get transcript %s: %w", callID, err)
	}
	rec.Source = Source(source)
	return rec, nil
}

// Ping checks the database connection
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the connection pool
func (s *sqlStore) Close() error {
	return s.db.Close()
}

// SQLiteStore keeps transcripts in a local SQLite database
type SQLiteStore struct {
	*sqlStore
}

// OpenSQLite opens (creating if needed) the database at path
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer
	db.SetMaxOpenConns(1)

	s, err := newSQLStore(ctx, db,
		`INSERT INTO transcripts(call_id, text, source, created_at)
		 VALUES(?, ?, ?, ?)
		 ON CONFLICT(call_id) DO UPDATE SET text=excluded.text, source=excluded.source, created_at=excluded.created_at`,
		`SELECT call_id, text, source, created_at FROM transcripts WHERE call_id = ?`,
	)
	if err != nil {
		return nil, err
	}
	return &SQLiteStore{s}, nil
}

// PostgresStore keeps transcripts in PostgreSQL
type PostgresStore struct {
	*sqlStore
}

// OpenPostgres connects to dsn and ensures the schema exists
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	s, err := newSQLStore(ctx, db,
		`INSERT INTO transcripts (call_id, text, source, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (call_id) DO UPDATE SET text = EXCLUDED.text, source = EXCLUDED.source, created_at = EXCLUDED.created_at`,
		`SELECT call_id, text, source, created_at FROM transcripts WHERE call_id = $1`,
	)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{s}, nil
}
