package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AppendRun adds a run to the log. The run is visible to ListRuns as soon as
// AppendRun returns.
func (s *Store) AppendRun(r Run) error {
	if r.ID == "" {
		return errors.New("run has no id")
	}
	results, err := json.Marshal(r.Results)
	if err != nil {
		return fmt.Errorf("encoding results: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO runs (id, created_at, file_name, username, row_count, results_json)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Key(), r.FileName, r.Username, len(r.Results), string(results),
	)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", r.ID, err)
	}
	return nil
}

// ListRuns returns every run in the order it was appended.
func (s *Store) ListRuns() ([]Run, error) {
	rows, err := s.db.Query(`
		SELECT id, created_at, file_name, username, results_json
		FROM runs ORDER BY rowid ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// GetRunByTimestamp returns the run stored under the given timestamp key.
// Any RFC 3339 form of the same instant matches.
func (s *Store) GetRunByTimestamp(ts string) (Run, error) {
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return Run{}, fmt.Errorf("parsing timestamp %q: %w", ts, err)
	}
	row := s.db.QueryRow(`
		SELECT id, created_at, file_name, username, results_json
		FROM runs WHERE created_at = ? ORDER BY rowid ASC LIMIT 1`,
		t.UTC().Format(TimestampLayout),
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return Run{}, ErrNotFound
	}
	return r, err
}

// CountRuns returns the number of stored runs.
func (s *Store) CountRuns() (int, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM runs").Scan(&n)
	return n, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var r Run
	var createdAt, results string
	if err := sc.Scan(&r.ID, &createdAt, &r.FileName, &r.Username, &results); err != nil {
		return Run{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Run{}, fmt.Errorf("parsing created_at: %w", err)
	}
	r.Timestamp = t
	if err := json.Unmarshal([]byte(results), &r.Results); err != nil {
		return Run{}, fmt.Errorf("decoding results of run %s: %w", r.ID, err)
	}
	return r, nil
}
