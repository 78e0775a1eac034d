// Package sqlstore is a concrete Backing over a SQLite database, one row
// per (queue, id), keyed for point updates so a "read committed" isolation
// level is sufficient.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ChuLiYu/relay/internal/backing"
	"github.com/ChuLiYu/relay/pkg/types"
)

// Store implements backing.Backing against a SQLite database.
type Store struct {
	db *sql.DB
}

// Open connects to the database at dsn (":memory:" or a file path) and
// ensures the schema exists.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	if dsn != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS jobs (
		queue        TEXT NOT NULL,
		id           TEXT NOT NULL,
		timeout_ns   INTEGER NOT NULL,
		max_retries  INTEGER NOT NULL,
		persist_data INTEGER NOT NULL,
		payload      BLOB,
		retries      INTEGER NOT NULL DEFAULT 0,
		in_flight    INTEGER NOT NULL DEFAULT 0,
		state        BLOB,
		seq          INTEGER PRIMARY KEY AUTOINCREMENT,
		UNIQUE(queue, id)
	)`)
	return err
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Recover(ctx context.Context) ([]types.StoredJob, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT queue, id, timeout_ns, max_retries, persist_data, payload, retries, in_flight, state
		 FROM jobs ORDER BY seq ASC`)
	if err != nil {
		return nil, backing.Wrap("", "recover", err)
	}
	defer rows.Close()

	var out []types.StoredJob
	for rows.Next() {
		var (
			queue, id          string
			timeoutNS          int64
			maxRetries         int
			persistData        int
			payload, state     []byte
			retries, inFlight  int
		)
		if err := rows.Scan(&queue, &id, &timeoutNS, &maxRetries, &persistData, &payload, &retries, &inFlight, &state); err != nil {
			return nil, backing.Wrap(types.QueueName(queue), "recover", err)
		}
		out = append(out, types.StoredJob{
			Job: types.Job{
				ID:          types.JobID(id),
				Queue:       types.QueueName(queue),
				Timeout:     time.Duration(timeoutNS),
				MaxRetries:  uint8(maxRetries),
				PersistData: persistData != 0,
				Payload:     payload,
			},
			Retries:  uint8(retries),
			InFlight: inFlight != 0,
			State:    state,
		})
	}
	return out, rows.Err()
}

func (s *Store) Push(ctx context.Context, stored types.StoredJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (queue, id, timeout_ns, max_retries, persist_data, payload, retries, in_flight, state)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.Job.Queue, stored.Job.ID, int64(stored.Job.Timeout), stored.Job.MaxRetries, stored.Job.PersistData,
		stored.Job.Payload, stored.Retries, stored.InFlight, stored.State)
	if err != nil {
		return backing.Wrap(stored.Job.Queue, "push", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, queue types.QueueName, id types.JobID, u backing.Update) error {
	if u.State == nil && u.Retries == nil && u.InFlight == nil {
		return nil
	}

	query := "UPDATE jobs SET "
	args := make([]any, 0, 4)
	sep := ""
	if u.State != nil {
		query += sep + "state = ?"
		args = append(args, *u.State)
		sep = ", "
	}
	if u.Retries != nil {
		query += sep + "retries = ?"
		args = append(args, *u.Retries)
		sep = ", "
	}
	if u.InFlight != nil {
		query += sep + "in_flight = ?"
		args = append(args, *u.InFlight)
		sep = ", "
	}
	query += " WHERE queue = ? AND id = ?"
	args = append(args, queue, id)

	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return backing.Wrap(queue, "update", err)
	}
	return nil
}

func (s *Store) Remove(ctx context.Context, stored types.StoredJob) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE queue = ? AND id = ?`, stored.Job.Queue, stored.Job.ID)
	if err != nil {
		return backing.Wrap(stored.Job.Queue, "remove", err)
	}
	return nil
}
