package dbkit_test

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"rouen/internal/dbkit"
)

var notesTable = dbkit.Table{
	Name:    "notes",
	Columns: "id INTEGER PRIMARY KEY AUTOINCREMENT, body TEXT NOT NULL",
}

func openTestHandle(t *testing.T) *dbkit.Handle {
	t.Helper()

	h, err := dbkit.Open(filepath.Join(t.TempDir(), "test.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t.Cleanup(func() { _ = h.Close() })

	return h
}

func Test_Open_Creates_Database_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sub", "fresh.sqlite")

	h, err := dbkit.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	defer func() { _ = h.Close() }()

	_, err = os.Stat(path)
	if err != nil {
		t.Fatalf("stat database file: %v", err)
	}

	var mode string

	err = h.Query("PRAGMA journal_mode", func(rows *sql.Rows) error {
		return rows.Scan(&mode)
	})
	if err != nil {
		t.Fatalf("journal_mode: %v", err)
	}

	if mode != "wal" {
		t.Fatalf("journal_mode = %q, want wal", mode)
	}
}

func Test_EnsureTable_Is_Idempotent(t *testing.T) {
	t.Parallel()

	h := openTestHandle(t)

	for i := 0; i < 3; i++ {
		err := h.EnsureTable(notesTable)
		if err != nil {
			t.Fatalf("ensure table: %v", err)
		}
	}
}

func Test_Exec_Binds_Parameters_And_Tracks_LastInsertID(t *testing.T) {
	t.Parallel()

	h := openTestHandle(t)

	err := h.EnsureTable(notesTable)
	if err != nil {
		t.Fatalf("ensure table: %v", err)
	}

	err = h.Exec("INSERT INTO notes (body) VALUES (?)", "first")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if id := h.LastInsertID(); id != 1 {
		t.Fatalf("last insert id = %d, want 1", id)
	}

	err = h.Exec("INSERT INTO notes (body) VALUES (?)", "second")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if id := h.LastInsertID(); id != 2 {
		t.Fatalf("last insert id = %d, want 2", id)
	}

	var bodies []string

	err = h.Query("SELECT body FROM notes ORDER BY id", func(rows *sql.Rows) error {
		var body string

		scanErr := rows.Scan(&body)
		if scanErr != nil {
			return scanErr
		}

		bodies = append(bodies, body)

		return nil
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}

	if len(bodies) != 2 || bodies[0] != "first" || bodies[1] != "second" {
		t.Fatalf("bodies = %v", bodies)
	}
}

func Test_Handle_Stays_Usable_After_Statement_Error(t *testing.T) {
	t.Parallel()

	h := openTestHandle(t)

	err := h.Exec("INSERT INTO missing_table (x) VALUES (1)")
	if err == nil {
		t.Fatal("expected error for missing table")
	}

	err = h.EnsureTable(notesTable)
	if err != nil {
		t.Fatalf("handle unusable after error: %v", err)
	}

	err = h.Exec("INSERT INTO notes (body) VALUES (?)", "still works")
	if err != nil {
		t.Fatalf("insert after error: %v", err)
	}
}

func Test_Query_Stops_When_Row_Callback_Fails(t *testing.T) {
	t.Parallel()

	h := openTestHandle(t)

	err := h.EnsureTable(notesTable)
	if err != nil {
		t.Fatalf("ensure table: %v", err)
	}

	for _, body := range []string{"a", "b", "c"} {
		insertErr := h.Exec("INSERT INTO notes (body) VALUES (?)", body)
		if insertErr != nil {
			t.Fatalf("insert: %v", insertErr)
		}
	}

	boom := errors.New("stop here")
	seen := 0

	err = h.Query("SELECT body FROM notes", func(*sql.Rows) error {
		seen++

		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want callback error", err)
	}

	if seen != 1 {
		t.Fatalf("callback ran %d times, want 1", seen)
	}
}

func countNotes(t *testing.T, h *dbkit.Handle) int {
	t.Helper()

	count := -1

	err := h.Query("SELECT COUNT(*) FROM notes", func(rows *sql.Rows) error {
		return rows.Scan(&count)
	})
	if err != nil {
		t.Fatalf("count: %v", err)
	}

	return count
}

func Test_WithTx_Commits_The_Whole_Batch(t *testing.T) {
	t.Parallel()

	h := openTestHandle(t)

	err := h.EnsureTable(notesTable)
	if err != nil {
		t.Fatalf("ensure table: %v", err)
	}

	err = h.WithTx(func(tx *dbkit.Tx) error {
		for _, body := range []string{"a", "b", "c"} {
			execErr := tx.Exec("INSERT INTO notes (body) VALUES (?)", body)
			if execErr != nil {
				return execErr
			}
		}

		return nil
	})
	if err != nil {
		t.Fatalf("transaction: %v", err)
	}

	if count := countNotes(t, h); count != 3 {
		t.Fatalf("count = %d after commit, want 3", count)
	}

	if id := h.LastInsertID(); id != 3 {
		t.Fatalf("last insert id = %d, want 3", id)
	}
}

func Test_WithTx_Rolls_Back_When_The_Callback_Fails(t *testing.T) {
	t.Parallel()

	h := openTestHandle(t)

	err := h.EnsureTable(notesTable)
	if err != nil {
		t.Fatalf("ensure table: %v", err)
	}

	boom := errors.New("abort the batch")

	err = h.WithTx(func(tx *dbkit.Tx) error {
		execErr := tx.Exec("INSERT INTO notes (body) VALUES (?)", "doomed")
		if execErr != nil {
			return execErr
		}

		return boom
	})

	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want callback error", err)
	}

	if count := countNotes(t, h); count != 0 {
		t.Fatalf("count = %d after rollback, want 0", count)
	}

	err = h.Exec("INSERT INTO notes (body) VALUES (?)", "still works")
	if err != nil {
		t.Fatalf("handle unusable after rollback: %v", err)
	}
}

func Test_Concurrent_Transaction_Batches_Never_Interleave(t *testing.T) {
	t.Parallel()

	h := openTestHandle(t)

	err := h.EnsureTable(notesTable)
	if err != nil {
		t.Fatalf("ensure table: %v", err)
	}

	const (
		goroutines   = 4
		batches      = 25
		rowsPerBatch = 5
	)

	errCh := make(chan error, goroutines)

	var wg sync.WaitGroup

	for g := 0; g < goroutines; g++ {
		g := g

		wg.Add(1)

		go func() {
			defer wg.Done()

			for b := 0; b < batches; b++ {
				txErr := h.WithTx(func(tx *dbkit.Tx) error {
					for r := 0; r < rowsPerBatch; r++ {
						execErr := tx.Exec("INSERT INTO notes (body) VALUES (?)",
							fmt.Sprintf("writer %d batch %d row %d", g, b, r))
						if execErr != nil {
							return execErr
						}
					}

					return nil
				})
				if txErr != nil {
					errCh <- txErr

					return
				}
			}
		}()
	}

	wg.Wait()
	close(errCh)

	for txErr := range errCh {
		t.Fatalf("transaction failed under concurrency: %v", txErr)
	}

	if count := countNotes(t, h); count != goroutines*batches*rowsPerBatch {
		t.Fatalf("count = %d, want %d", count, goroutines*batches*rowsPerBatch)
	}
}
