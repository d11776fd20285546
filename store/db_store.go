package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/forkops/forkd"
)

// DatabaseStore is a Store backed by a sql.DB.
type DatabaseStore struct {
	conn dbProxy
	now  func() time.Time
}

type dbProxy interface {
	Exec(query string, args ...interface{}) (sql.Result, error)
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

// NewDatabaseStore opens (and if necessary initialises) a database
// store at the given data source.
func NewDatabaseStore(driver, datasource string) (*DatabaseStore, error) {
	conn, err := sql.Open(driver, datasource)
	if err != nil {
		return nil, err
	}
	s := &DatabaseStore{
		conn: conn,
		now:  time.Now,
	}
	if err := s.ensureTables(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *DatabaseStore) ensureTables() error {
	_, err := s.conn.Exec(`
		CREATE TABLE IF NOT EXISTS baseline (
			id           integer PRIMARY KEY CHECK (id = 1),
			release      text NOT NULL,
			artifact_ref text NOT NULL,
			updated_at   timestamptz NOT NULL
		);
		CREATE TABLE IF NOT EXISTS execution_lock (
			id          integer PRIMARY KEY CHECK (id = 1),
			holder      text NOT NULL,
			acquired_at timestamptz NOT NULL
		);
		CREATE TABLE IF NOT EXISTS executions (
			id         text PRIMARY KEY,
			status     text NOT NULL,
			state      text NOT NULL,
			started_at timestamptz NOT NULL,
			updated_at timestamptz NOT NULL
		);
	`)
	return errors.Wrap(err, "creating tables")
}

func (s *DatabaseStore) Baseline() (Baseline, bool, error) {
	var (
		releaseBytes []byte
		b            Baseline
	)
	err := s.conn.QueryRow(`
		SELECT release, artifact_ref, updated_at FROM baseline WHERE id = 1
	`).Scan(&releaseBytes, &b.ArtifactRef, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return Baseline{}, false, nil
	} else if err != nil {
		return Baseline{}, false, errors.Wrap(err, "getting baseline")
	}
	if err := json.Unmarshal(releaseBytes, &b.Release); err != nil {
		return Baseline{}, false, errors.Wrap(err, "unmarshaling baseline release")
	}
	return b, true, nil
}

func (s *DatabaseStore) CommitBaseline(b Baseline) error {
	releaseBytes, err := json.Marshal(b.Release)
	if err != nil {
		return errors.Wrap(err, "marshaling baseline release")
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = s.now()
	}
	// Single statement, so the version/artifact pair changes together
	// or not at all.
	_, err = s.conn.Exec(`
		INSERT INTO baseline (id, release, artifact_ref, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE
		   SET release = $1, artifact_ref = $2, updated_at = $3
	`, string(releaseBytes), b.ArtifactRef, b.UpdatedAt)
	return errors.Wrap(err, "committing baseline")
}

func (s *DatabaseStore) AcquireLock(holder string, staleAfter time.Duration) error {
	return s.Transaction(func(tx *DatabaseStore) error {
		var (
			heldBy     string
			acquiredAt time.Time
		)
		now := s.now()
		err := tx.conn.QueryRow(`
			SELECT holder, acquired_at FROM execution_lock WHERE id = 1
		`).Scan(&heldBy, &acquiredAt)
		switch {
		case err == sql.ErrNoRows:
			// free to take
		case err != nil:
			return errors.Wrap(err, "inspecting execution lock")
		case staleAfter <= 0 || now.Sub(acquiredAt) < staleAfter:
			// staleAfter <= 0 means locks never go stale.
			return ErrLockHeld
		}
		_, err = tx.conn.Exec(`
			INSERT INTO execution_lock (id, holder, acquired_at)
			VALUES (1, $1, $2)
			ON CONFLICT (id) DO UPDATE SET holder = $1, acquired_at = $2
		`, holder, now)
		return errors.Wrap(err, "acquiring execution lock")
	})
}

func (s *DatabaseStore) ReleaseLock(holder string) error {
	_, err := s.conn.Exec(`
		DELETE FROM execution_lock WHERE id = 1 AND holder = $1
	`, holder)
	return errors.Wrap(err, "releasing execution lock")
}

func (s *DatabaseStore) PutExecution(e forkd.ExecutionState) error {
	stateBytes, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshaling execution")
	}
	_, err = s.conn.Exec(`
		INSERT INTO executions (id, status, state, started_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, e.ID, string(e.Status), string(stateBytes), e.StartedAt, e.UpdatedAt)
	return errors.Wrap(err, "inserting execution")
}

func (s *DatabaseStore) UpdateExecution(e forkd.ExecutionState) error {
	stateBytes, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshaling execution")
	}
	res, err := s.conn.Exec(`
		UPDATE executions
		   SET status = $1, state = $2, updated_at = $3
		 WHERE id = $4
	`, string(e.Status), string(stateBytes), e.UpdatedAt, e.ID)
	if err != nil {
		return errors.Wrap(err, "updating execution")
	}
	if n, err := res.RowsAffected(); err != nil {
		return errors.Wrap(err, "after update, checking affected rows")
	} else if n == 0 {
		return ErrNoSuchExecution
	}
	return nil
}

func (s *DatabaseStore) GetExecution(id string) (forkd.ExecutionState, error) {
	var stateBytes []byte
	err := s.conn.QueryRow(`
		SELECT state FROM executions WHERE id = $1
	`, id).Scan(&stateBytes)
	if err == sql.ErrNoRows {
		return forkd.ExecutionState{}, ErrNoSuchExecution
	} else if err != nil {
		return forkd.ExecutionState{}, errors.Wrap(err, "getting execution")
	}
	var e forkd.ExecutionState
	if err := json.Unmarshal(stateBytes, &e); err != nil {
		return forkd.ExecutionState{}, errors.Wrap(err, "unmarshaling execution")
	}
	return e, nil
}

func (s *DatabaseStore) Executions(limit int, statuses ...forkd.ExecutionStatus) ([]forkd.ExecutionState, error) {
	query := `SELECT state FROM executions ORDER BY started_at DESC`
	var args []interface{}
	if len(statuses) > 0 {
		strs := make([]string, len(statuses))
		for i := range statuses {
			strs[i] = string(statuses[i])
		}
		var err error
		query, args, err = sqlx.In(`
			SELECT state FROM executions WHERE status IN (?) ORDER BY started_at DESC
		`, strs)
		if err != nil {
			return nil, errors.Wrap(err, "listing executions")
		}
		query = sqlx.Rebind(sqlx.DOLLAR, query)
	}
	rows, err := s.conn.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "listing executions")
	}
	defer rows.Close()

	var out []forkd.ExecutionState
	for rows.Next() {
		var stateBytes []byte
		if err := rows.Scan(&stateBytes); err != nil {
			return nil, errors.Wrap(err, "scanning execution")
		}
		var e forkd.ExecutionState
		if err := json.Unmarshal(stateBytes, &e); err != nil {
			return nil, errors.Wrap(err, "unmarshaling execution")
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, rows.Err()
}

func (s *DatabaseStore) Close() error {
	if db, ok := s.conn.(*sql.DB); ok {
		return db.Close()
	}
	return nil
}

func (s *DatabaseStore) Transaction(f func(*DatabaseStore) error) error {
	if _, ok := s.conn.(*sql.Tx); ok {
		// Already in a nested transaction
		return f(s)
	}
	tx, err := s.conn.(*sql.DB).Begin()
	if err != nil {
		return err
	}
	err = f(&DatabaseStore{conn: tx, now: s.now})
	if err != nil {
		// Rollback error is ignored as we already have an error in progress
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
