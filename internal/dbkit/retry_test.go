package dbkit

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/mattn/go-sqlite3"
)

func busyErr() error {
	return sqlite3.Error{Code: sqlite3.ErrBusy}
}

func Test_Retry_Succeeds_After_Transient_Busy(t *testing.T) {
	t.Parallel()

	calls := 0

	var slept []time.Duration

	err := retry(func() error {
		calls++
		if calls <= 2 {
			return busyErr()
		}

		return nil
	}, func(d time.Duration) { slept = append(slept, d) })
	if err != nil {
		t.Fatalf("retry: %v", err)
	}

	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}

	want := []time.Duration{50 * time.Millisecond, 100 * time.Millisecond}
	if diff := cmp.Diff(want, slept); diff != "" {
		t.Fatalf("backoff mismatch (-want +got):\n%s", diff)
	}
}

func Test_Retry_Fails_When_Busy_Persists(t *testing.T) {
	t.Parallel()

	calls := 0

	err := retry(func() error {
		calls++

		return busyErr()
	}, func(time.Duration) {})

	if !errors.Is(err, ErrBusyExhausted) {
		t.Fatalf("got %v, want ErrBusyExhausted", err)
	}

	if calls != retryAttempts {
		t.Fatalf("calls = %d, want %d", calls, retryAttempts)
	}
}

func Test_Retry_Propagates_NonBusy_Error_Immediately(t *testing.T) {
	t.Parallel()

	calls := 0
	boom := errors.New("syntax error")

	err := retry(func() error {
		calls++

		return boom
	}, func(time.Duration) { t.Fatal("should not sleep") })

	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want original error", err)
	}

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func Test_ColumnNames_Skips_Table_Constraints(t *testing.T) {
	t.Parallel()

	got := columnNames(`id INTEGER PRIMARY KEY AUTOINCREMENT,
		feed_id INTEGER NOT NULL,
		guid TEXT NOT NULL,
		UNIQUE(feed_id, guid)`)

	want := []string{"id", "feed_id", "guid"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("column names mismatch (-want +got):\n%s", diff)
	}
}
