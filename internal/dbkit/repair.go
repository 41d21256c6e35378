package dbkit

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// IntegrityCheck runs PRAGMA integrity_check and returns whether the
// database reports "ok", along with the first diagnostic line when it
// does not.
func (h *Handle) IntegrityCheck() (bool, string, error) {
	var first string

	err := h.Query("PRAGMA integrity_check", func(rows *sql.Rows) error {
		var line string

		scanErr := rows.Scan(&line)
		if scanErr != nil {
			return scanErr
		}

		if first == "" {
			first = line
		}

		return nil
	})
	if err != nil {
		return false, "", fmt.Errorf("integrity check: %w", err)
	}

	return first == "ok", first, nil
}

// RepairReport describes what a Repair run did.
type RepairReport struct {
	BackupPath string
	Copied     map[string]int64 // rows copied per table
	Skipped    []string         // tables whose data could not be recovered
}

// Repair rebuilds the database at path from the authoritative schema.
//
// The corrupt file is moved aside to a timestamped backup, a fresh database
// is created in its place, and rows are copied back table by table on a
// best-effort basis (INSERT OR IGNORE through ATTACH). Tables whose data
// cannot be read are skipped and reported; the backup is always kept.
func Repair(path string, tables []Table) (*RepairReport, error) {
	if path == "" {
		return nil, errors.New("repair: path is empty")
	}

	if len(tables) == 0 {
		return nil, errors.New("repair: no schema tables given")
	}

	_, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("repair: stat %q: %w", path, err)
	}

	backupPath := fmt.Sprintf("%s.bak-%s", path, time.Now().UTC().Format("20060102T150405"))

	err = os.Rename(path, backupPath)
	if err != nil {
		return nil, fmt.Errorf("repair: move corrupt file aside: %w", err)
	}

	// SQLite leaves -wal/-shm companions behind; they belong to the old
	// file and would be replayed into the fresh one.
	_ = os.Remove(path + "-wal")
	_ = os.Remove(path + "-shm")

	fresh, err := Open(path)
	if err != nil {
		return nil, fmt.Errorf("repair: create fresh database: %w", err)
	}

	defer func() { _ = fresh.Close() }()

	for _, table := range tables {
		ensureErr := fresh.EnsureTable(table)
		if ensureErr != nil {
			return nil, fmt.Errorf("repair: %w", ensureErr)
		}
	}

	report := &RepairReport{
		BackupPath: backupPath,
		Copied:     make(map[string]int64, len(tables)),
	}

	attachErr := fresh.Exec("ATTACH DATABASE ? AS corrupt", backupPath)
	if attachErr != nil {
		// The backup may be unreadable as a database at all. The fresh
		// empty schema is still the right outcome.
		logrus.WithError(attachErr).WithField("db", path).Warn("repair: backup not attachable, no rows recovered")

		for _, table := range tables {
			report.Skipped = append(report.Skipped, table.Name)
		}

		return report, nil
	}

	for _, table := range tables {
		copied, copyErr := copyTable(fresh, table)
		if copyErr != nil {
			logrus.WithError(copyErr).WithFields(logrus.Fields{
				"db":    path,
				"table": table.Name,
			}).Warn("repair: table not recoverable")

			report.Skipped = append(report.Skipped, table.Name)

			continue
		}

		report.Copied[table.Name] = copied
	}

	detachErr := fresh.Exec("DETACH DATABASE corrupt")
	if detachErr != nil {
		return nil, fmt.Errorf("repair: detach backup: %w", detachErr)
	}

	return report, nil
}

func copyTable(fresh *Handle, table Table) (int64, error) {
	cols := columnNames(table.Columns)
	if len(cols) == 0 {
		return 0, fmt.Errorf("table %s: cannot derive column list", table.Name)
	}

	colList := strings.Join(cols, ", ")

	err := fresh.Exec(fmt.Sprintf(
		"INSERT OR IGNORE INTO main.%s (%s) SELECT %s FROM corrupt.%s",
		table.Name, colList, colList, table.Name,
	))
	if err != nil {
		return 0, err
	}

	var count int64

	err = fresh.Query(fmt.Sprintf("SELECT COUNT(*) FROM main.%s", table.Name), func(rows *sql.Rows) error {
		return rows.Scan(&count)
	})
	if err != nil {
		return 0, err
	}

	return count, nil
}

// columnNames extracts bare column names from a CREATE TABLE column spec.
// Table-level constraints (UNIQUE(...), PRIMARY KEY(...), FOREIGN KEY...)
// are skipped.
func columnNames(columns string) []string {
	var names []string

	depth := 0
	start := 0

	defs := make([]string, 0, 8)

	for i, r := range columns {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				defs = append(defs, columns[start:i])
				start = i + 1
			}
		}
	}

	defs = append(defs, columns[start:])

	for _, def := range defs {
		fields := strings.Fields(def)
		if len(fields) == 0 {
			continue
		}

		head := strings.ToUpper(fields[0])
		if hasAnyPrefix(head, "UNIQUE", "PRIMARY", "FOREIGN", "CHECK", "CONSTRAINT") {
			continue
		}

		names = append(names, strings.TrimSpace(fields[0]))
	}

	return names
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, prefix := range prefixes {
		if strings.HasPrefix(s, prefix) {
			return true
		}
	}

	return false
}
