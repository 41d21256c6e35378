// Package dbkit is the thin, mutex-guarded wrapper over SQLite shared by
// every card that stores state. One Handle owns one connection; every public
// entry point serializes on the handle mutex and retries transient
// BUSY/LOCKED failures with capped exponential backoff. Multi-statement
// batches go through WithTx, which holds the mutex from BEGIN to
// COMMIT so no other statement can interleave with the transaction.
package dbkit

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"
)

const (
	retryAttempts  = 5
	retryBaseDelay = 50 * time.Millisecond
)

// ErrBusyExhausted reports a write that stayed BUSY/LOCKED through every
// retry attempt. Callers should use errors.Is(err, ErrBusyExhausted) and
// treat it as recoverable at the card level, never fatal to the process.
var ErrBusyExhausted = errors.New("database busy after retries")

// Table pairs a table name with its column spec. The same value feeds
// EnsureTable and Repair so the authoritative schema lives in one place.
type Table struct {
	Name    string
	Columns string
}

// Handle owns one SQLite connection and one mutex.
//
// The row callback passed to Query runs while the mutex is held and must
// not re-enter the same Handle.
type Handle struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	lastID int64
}

// Open opens (creating if absent) the SQLite database at path and applies
// the kernel pragmas: WAL journaling, NORMAL sync, 10000-page cache,
// in-memory temp store, ~30 MB mmap.
func Open(path string) (*Handle, error) {
	if path == "" {
		return nil, errors.New("open db: path is empty")
	}

	dir := filepath.Dir(path)

	err := os.MkdirAll(dir, 0o750)
	if err != nil {
		return nil, fmt.Errorf("open db: create directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// Transaction statements must land on the same connection as their
	// BEGIN.
	db.SetMaxOpenConns(1)

	err = db.Ping()
	if err != nil {
		_ = db.Close()

		return nil, fmt.Errorf("ping db: %w", err)
	}

	err = applyPragmas(db)
	if err != nil {
		_ = db.Close()

		return nil, err
	}

	return &Handle{db: db, path: path}, nil
}

func applyPragmas(db *sql.DB) error {
	statements := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = 10000",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA mmap_size = 31457280",
	}

	for _, stmt := range statements {
		_, err := db.Exec(stmt)
		if err != nil {
			return fmt.Errorf("apply pragma %q: %w", stmt, err)
		}
	}

	return nil
}

// Close releases the connection.
func (h *Handle) Close() error {
	if h == nil || h.db == nil {
		return nil
	}

	err := h.db.Close()
	if err != nil {
		return fmt.Errorf("close db: %w", err)
	}

	return nil
}

// Path returns the file path the handle was opened with.
func (h *Handle) Path() string {
	return h.path
}

// EnsureTable creates the table if it does not exist yet. Idempotent.
func (h *Handle) EnsureTable(table Table) error {
	if table.Name == "" {
		return errors.New("ensure table: name is empty")
	}

	return h.Exec(fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table.Name, table.Columns))
}

// Exec runs a statement with positional parameters, retrying BUSY/LOCKED.
// The last insert rowid is captured for LastInsertID.
func (h *Handle) Exec(query string, args ...any) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	return retry(func() error {
		result, err := h.db.Exec(query, args...)
		if err != nil {
			return err
		}

		id, idErr := result.LastInsertId()
		if idErr == nil {
			h.lastID = id
		}

		return nil
	}, time.Sleep)
}

// Query runs a parameterized query and invokes rowFn for each row. The rows
// handle is closed on every path, including an error from rowFn.
//
// rowFn runs under the handle mutex and must not call back into the Handle.
func (h *Handle) Query(query string, rowFn func(rows *sql.Rows) error, args ...any) error {
	if rowFn == nil {
		return errors.New("query: row callback is nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	return retry(func() error {
		rows, err := h.db.Query(query, args...)
		if err != nil {
			return err
		}

		defer func() { _ = rows.Close() }()

		for rows.Next() {
			err = rowFn(rows)
			if err != nil {
				return fmt.Errorf("row callback: %w", err)
			}
		}

		err = rows.Err()
		if err != nil {
			return fmt.Errorf("scan rows: %w", err)
		}

		return nil
	}, time.Sleep)
}

// Tx runs statements inside one WithTx batch. It is only valid for the
// duration of the callback that received it.
type Tx struct {
	h *Handle
}

// Exec runs one statement inside the transaction, retrying BUSY/LOCKED.
func (t *Tx) Exec(query string, args ...any) error {
	return retry(func() error {
		result, err := t.h.db.Exec(query, args...)
		if err != nil {
			return err
		}

		id, idErr := result.LastInsertId()
		if idErr == nil {
			t.h.lastID = id
		}

		return nil
	}, time.Sleep)
}

// WithTx runs fn between BEGIN IMMEDIATE and COMMIT while holding the
// handle mutex for the whole batch, so no statement from another goroutine
// can interleave with the transaction. An error from fn (or from COMMIT)
// rolls the batch back; none of it lands.
func (h *Handle) WithTx(fn func(tx *Tx) error) error {
	if fn == nil {
		return errors.New("tx: callback is nil")
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	err := retry(func() error {
		_, execErr := h.db.Exec("BEGIN IMMEDIATE")

		return execErr
	}, time.Sleep)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	err = fn(&Tx{h: h})
	if err == nil {
		_, commitErr := h.db.Exec("COMMIT")
		if commitErr == nil {
			return nil
		}

		err = fmt.Errorf("commit transaction: %w", commitErr)
	}

	_, rollbackErr := h.db.Exec("ROLLBACK")
	if rollbackErr != nil {
		logrus.WithError(rollbackErr).Error("transaction rollback failed")
	}

	return err
}

// LastInsertID returns the rowid produced by the most recent Exec.
func (h *Handle) LastInsertID() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.lastID
}

// retry runs op, retrying transient BUSY/LOCKED errors with capped
// exponential backoff (50·2^n ms, 5 attempts). Non-transient errors
// propagate immediately.
func retry(op func() error, sleep func(time.Duration)) error {
	var err error

	for attempt := 0; attempt < retryAttempts; attempt++ {
		err = op()
		if err == nil {
			return nil
		}

		if !isBusy(err) {
			return err
		}

		if attempt < retryAttempts-1 {
			sleep(retryBaseDelay << attempt)
		}
	}

	logrus.WithError(err).Error("database busy through all retries")

	return fmt.Errorf("%w: %w", ErrBusyExhausted, err)
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}

	return false
}
