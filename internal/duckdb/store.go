package duckdb

import (
	"context"
	"database/sql"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"
	"github.com/sirupsen/logrus"
	"github.com/tinytelemetry/hpcjob/internal/duckdb/migrate"
)

// Store manages the DuckDB database holding assembled job results.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	readSem      chan struct{}
	QueryTimeout time.Duration
	Logger       logrus.FieldLogger
}

// NewStore opens or creates a DuckDB database.
// If dbPath is empty, an in-memory database is used.
// An optional queryTimeout can be passed; it defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	discard := logrus.New()
	discard.SetOutput(io.Discard)

	if err := migrate.NewRunner(db, discard).Run(); err != nil {
		db.Close()
		return nil, err
	}

	qt := 30 * time.Second
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		QueryTimeout: qt,
		Logger:       discard,
	}, nil
}

// SetMaxConcurrentQueries bounds the number of read queries running at once.
// Zero or a negative value removes the bound.
func (s *Store) SetMaxConcurrentQueries(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n <= 0 {
		s.readSem = nil
		return
	}
	s.readSem = make(chan struct{}, n)
}

// readLock takes the shared store lock and a read slot. The returned
// function releases both.
func (s *Store) readLock(ctx context.Context) (func(), error) {
	s.mu.RLock()
	sem := s.readSem
	if sem == nil {
		return s.mu.RUnlock, nil
	}
	select {
	case sem <- struct{}{}:
		return func() {
			<-sem
			s.mu.RUnlock()
		}, nil
	case <-ctx.Done():
		s.mu.RUnlock()
		return nil, ctx.Err()
	}
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct query access.
func (s *Store) DB() *sql.DB {
	return s.db
}
