package store

import (
	"fmt"
	"strings"
)

// dialect isolates the SQL-phrasing differences spec.md §6 calls out:
// SQLite's INSERT OR IGNORE vs Postgres/MySQL's ON CONFLICT DO NOTHING,
// and the UPDATE...LIMIT rewrite needed on stores that don't support it.
type dialect interface {
	name() string

	// insertIgnoreJob returns the parameterized INSERT for a new job
	// that silently discards on a (input_id, analysis_id) collision.
	insertIgnoreJob() string

	// claimBatch returns the UPDATE that atomically claims up to limit
	// READY, unsemaphored jobs for analysisID, restricted to virgin
	// jobs (retry_count=0) when virginOnly is true.
	claimBatch(virginOnly bool) string

	placeholder(n int) string
}

type sqliteDialect struct{}

func (sqliteDialect) name() string { return "sqlite" }

func (sqliteDialect) insertIgnoreJob() string {
	return `INSERT OR IGNORE INTO job (
		analysis_id, input_id, prev_job_id, status, semaphore_count, semaphored_job_id
	) VALUES (?, ?, ?, ?, ?, ?)`
}

// claimBatch rewrites UPDATE...LIMIT as the SQLite-compatible
// "UPDATE ... WHERE job_id IN (SELECT ... LIMIT N) AND status='READY'"
// form spec.md §4.1 prescribes. The trailing status guard is load
// bearing: it stops this worker claiming a row another worker
// reclassified between the subquery and the update.
func (sqliteDialect) claimBatch(virginOnly bool) string {
	retryFilter := ""
	if virginOnly {
		retryFilter = "AND retry_count = 0"
	}
	return fmt.Sprintf(`UPDATE job SET worker_id = ?, status = 'CLAIMED'
		WHERE job_id IN (
			SELECT job_id FROM job
			WHERE analysis_id = ? AND status = 'READY' AND semaphore_count <= 0 %s
			ORDER BY job_id
			LIMIT ?
		) AND status = 'READY'`, retryFilter)
}

func (sqliteDialect) placeholder(int) string { return "?" }

type postgresDialect struct{}

func (postgresDialect) name() string { return "postgres" }

func (postgresDialect) insertIgnoreJob() string {
	return `INSERT INTO job (
		analysis_id, input_id, prev_job_id, status, semaphore_count, semaphored_job_id
	) VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (analysis_id, input_id) DO NOTHING`
}

// claimBatch on Postgres uses the same subquery rewrite as SQLite,
// since Postgres has no UPDATE...LIMIT; this keeps exactly one claim
// strategy instead of a third dialect-specific path.
func (postgresDialect) claimBatch(virginOnly bool) string {
	retryFilter := ""
	if virginOnly {
		retryFilter = "AND retry_count = 0"
	}
	return fmt.Sprintf(`UPDATE job SET worker_id = $1, status = 'CLAIMED'
		WHERE job_id IN (
			SELECT job_id FROM job
			WHERE analysis_id = $2 AND status = 'READY' AND semaphore_count <= 0 %s
			ORDER BY job_id
			LIMIT $3
		) AND status = 'READY'`, retryFilter)
}

func (postgresDialect) placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func dialectFor(driverName string) (dialect, error) {
	switch driverName {
	case "sqlite":
		return sqliteDialect{}, nil
	case "postgres":
		return postgresDialect{}, nil
	default:
		return nil, fmt.Errorf("store: unsupported driver %q", driverName)
	}
}

// isDeadlockErr reports whether err is the driver's "deadlock; restart
// transaction" sentinel. UpdateStatus retries only this class of error
// (spec.md §4.1/§7); all other errors propagate immediately.
func isDeadlockErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return containsAny(msg, []string{
		"deadlock",
		"restart transaction",
		"database is locked",
		"SQLITE_BUSY",
	})
}

func containsAny(s string, subs []string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}
