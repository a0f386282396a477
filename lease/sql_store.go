package lease

import (
	"context"
	"database/sql"
	"time"

	"github.com/AlessioChianetta/Coachale-sub034/errors"
)

// SQLStore keeps leases in the job_locks table. Times are stored as unix milliseconds.
type SQLStore struct {
	db *sql.DB
}

// NewSQLStore returns a store over a migrated database.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// The DO UPDATE only fires for an expired row, so a live lease leaves the
// statement with zero affected rows.
const acquireSQL = `
INSERT INTO job_locks (job_name, holder_id, acquired_at, expires_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(job_name) DO UPDATE SET
    holder_id   = excluded.holder_id,
    acquired_at = excluded.acquired_at,
    expires_at  = excluded.expires_at
WHERE job_locks.expires_at < excluded.acquired_at`

func (s *SQLStore) Acquire(ctx context.Context, jobName, holderID string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, acquireSQL,
		jobName, holderID, now.UnixMilli(), now.Add(ttl).UnixMilli())
	if err != nil {
		return false, errors.Wrapf(err, "acquire lease %s", jobName)
	}
	return affectedOne(res, "acquire lease", jobName)
}

func (s *SQLStore) Extend(ctx context.Context, jobName, holderID string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE job_locks SET expires_at = ?
		 WHERE job_name = ? AND holder_id = ? AND expires_at >= ?`,
		now.Add(ttl).UnixMilli(), jobName, holderID, now.UnixMilli())
	if err != nil {
		return false, errors.Wrapf(err, "extend lease %s", jobName)
	}
	return affectedOne(res, "extend lease", jobName)
}

func (s *SQLStore) Release(ctx context.Context, jobName, holderID string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM job_locks WHERE job_name = ? AND holder_id = ?`, jobName, holderID)
	if err != nil {
		return false, errors.Wrapf(err, "release lease %s", jobName)
	}
	return affectedOne(res, "release lease", jobName)
}

func (s *SQLStore) ForceRelease(ctx context.Context, jobName string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_locks WHERE job_name = ?`, jobName)
	if err != nil {
		return false, errors.Wrapf(err, "force release lease %s", jobName)
	}
	return affectedOne(res, "force release lease", jobName)
}

func (s *SQLStore) List(ctx context.Context) ([]Lock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT job_name, holder_id, acquired_at, expires_at FROM job_locks ORDER BY job_name`)
	if err != nil {
		return nil, errors.Wrap(err, "list leases")
	}
	defer rows.Close()

	var locks []Lock
	for rows.Next() {
		var (
			l                   Lock
			acquiredMS, expires int64
		)
		if err := rows.Scan(&l.JobName, &l.HolderID, &acquiredMS, &expires); err != nil {
			return nil, errors.Wrap(err, "scan lease")
		}
		l.AcquiredAt = time.UnixMilli(acquiredMS).UTC()
		l.ExpiresAt = time.UnixMilli(expires).UTC()
		locks = append(locks, l)
	}
	return locks, errors.Wrap(rows.Err(), "iterate leases")
}

func (s *SQLStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM job_locks WHERE expires_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, errors.Wrap(err, "delete expired leases")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "rows affected")
	}
	return n, nil
}

func affectedOne(res sql.Result, op, jobName string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrapf(err, "%s %s: rows affected", op, jobName)
	}
	return n == 1, nil
}
