package duckdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/tinytelemetry/hpcjob/internal/model"
)

// dangerousKeywordPattern matches dangerous SQL keywords at word boundaries.
// This avoids false positives like "RESET" matching "SET".
var dangerousKeywordPattern = regexp.MustCompile(
	`(?i)\b(INSERT|UPDATE|DELETE|DROP|CREATE|ALTER|TRUNCATE|COPY|ATTACH|LOAD|EXPORT|IMPORT|INSTALL|CALL|EXECUTE|PRAGMA|SET)\b`,
)

// blockCommentPattern matches C-style block comments (/* ... */).
var blockCommentPattern = regexp.MustCompile(`/\*[\s\S]*?\*/`)

// maxQueryRows caps the rows returned by ExecuteQuery.
const maxQueryRows = 1000

// stripSQLComments removes -- line comments and /* */ block comments from a query.
func stripSQLComments(query string) string {
	cleaned := blockCommentPattern.ReplaceAllString(query, " ")
	var result strings.Builder
	for _, line := range strings.Split(cleaned, "\n") {
		if idx := strings.Index(line, "--"); idx >= 0 {
			line = line[:idx]
		}
		result.WriteString(line)
		result.WriteByte('\n')
	}
	return result.String()
}

// queryCtx returns a context with the store's configured query timeout.
func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.QueryTimeout)
}

// jobFilter returns a WHERE clause and args for the listing filters.
func jobFilter(opts QueryOpts) (clause string, args []any) {
	var conds []string
	switch opts.Status {
	case model.StatusComplete:
		conds = append(conds, "NOT failed AND complete")
	case model.StatusIncomplete:
		conds = append(conds, "NOT failed AND NOT complete")
	case model.StatusFailed:
		conds = append(conds, "failed")
	}
	if opts.User != "" {
		conds = append(conds, "user_name = ?")
		args = append(args, opts.User)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}

const summaryColumns = `id, COALESCE(user_name, ''), COALESCE(name, ''), start_time, end_time,
	host_count, sample_count, failed, complete, error_count, overflow_count, processed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSummary(row rowScanner, js *model.JobSummary) error {
	return row.Scan(&js.ID, &js.User, &js.Name, &js.StartTime, &js.EndTime,
		&js.Hosts, &js.Samples, &js.Failed, &js.Complete, &js.ErrorCount, &js.OverflowCount, &js.ProcessedAt)
}

// TotalJobCount returns the number of stored jobs matching opts.
func (s *Store) TotalJobCount(opts QueryOpts) (int64, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()
	unlock, err := s.readLock(ctx)
	if err != nil {
		return 0, err
	}
	defer unlock()

	where, args := jobFilter(opts)
	var count int64
	err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs "+where, args...).Scan(&count)
	return count, err
}

// ListJobs returns job summaries, latest start first.
func (s *Store) ListJobs(opts QueryOpts) ([]JobSummary, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()
	unlock, err := s.readLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	where, args := jobFilter(opts)
	query := fmt.Sprintf(`SELECT %s FROM jobs %s ORDER BY start_time DESC, id LIMIT ?`, summaryColumns, where)
	args = append(args, opts.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []JobSummary
	for rows.Next() {
		var js JobSummary
		if err := scanSummary(rows, &js); err != nil {
			s.Logger.Warnf("duckdb: scan error (ListJobs): %v", err)
			continue
		}
		results = append(results, js)
	}
	return results, rows.Err()
}

// JobExists reports whether a job result is stored under id.
func (s *Store) JobExists(id string) (bool, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()
	unlock, err := s.readLock(ctx)
	if err != nil {
		return false, err
	}
	defer unlock()

	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM jobs WHERE id = ?", id).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// JobDetail returns the stored metadata of one job, or nil when the job is
// not stored.
func (s *Store) JobDetail(id string) (*JobDetail, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()
	unlock, err := s.readLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	d := &JobDetail{}
	row := s.db.QueryRowContext(ctx, "SELECT "+summaryColumns+" FROM jobs WHERE id = ?", id)
	if err := scanSummary(row, &d.JobSummary); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	err = s.each(ctx, "SELECT ts FROM job_times WHERE job_id = ? ORDER BY idx", id, func(r *sql.Rows) error {
		var t float64
		if err := r.Scan(&t); err != nil {
			return err
		}
		d.Times = append(d.Times, t)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("duckdb: job times: %w", err)
	}

	err = s.each(ctx, `SELECT type_name, type_desc, field_key, is_event, is_control, width, mult, COALESCE(unit, '')
		FROM job_schemas WHERE job_id = ? ORDER BY type_name, idx`, id, func(r *sql.Rows) error {
		var typeName, desc string
		var f model.SchemaField
		if err := r.Scan(&typeName, &desc, &f.Key, &f.Event, &f.Control, &f.Width, &f.Mult, &f.Unit); err != nil {
			return err
		}
		if n := len(d.Schemas); n == 0 || d.Schemas[n-1].Type != typeName {
			d.Schemas = append(d.Schemas, model.SchemaInfo{Type: typeName, Desc: desc})
		}
		last := &d.Schemas[len(d.Schemas)-1]
		last.Fields = append(last.Fields, f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("duckdb: job schemas: %w", err)
	}

	if d.HostNames, err = s.stringColumn(ctx, "SELECT host FROM job_hosts WHERE job_id = ? ORDER BY host", id); err != nil {
		return nil, fmt.Errorf("duckdb: job hosts: %w", err)
	}
	if d.Errors, err = s.stringColumn(ctx, "SELECT message FROM job_errors WHERE job_id = ? ORDER BY idx", id); err != nil {
		return nil, fmt.Errorf("duckdb: job errors: %w", err)
	}
	if d.Processes, err = s.stringColumn(ctx, "SELECT command FROM job_processes WHERE job_id = ? ORDER BY idx", id); err != nil {
		return nil, fmt.Errorf("duckdb: job processes: %w", err)
	}

	err = s.each(ctx, `SELECT type_name, device, field_key, host FROM job_overflows
		WHERE job_id = ? ORDER BY type_name, device, field_key, host`, id, func(r *sql.Rows) error {
		var o model.Overflow
		var host string
		if err := r.Scan(&o.Type, &o.Device, &o.Key, &host); err != nil {
			return err
		}
		if n := len(d.Overflows); n > 0 {
			last := &d.Overflows[n-1]
			if last.Type == o.Type && last.Device == o.Device && last.Key == o.Key {
				last.Hosts = append(last.Hosts, host)
				return nil
			}
		}
		o.Hosts = []string{host}
		d.Overflows = append(d.Overflows, o)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("duckdb: job overflows: %w", err)
	}

	err = s.each(ctx, `SELECT host, type_name, device, rms FROM job_jitter
		WHERE job_id = ? ORDER BY host, type_name, device`, id, func(r *sql.Rows) error {
		var j model.JitterStat
		if err := r.Scan(&j.Host, &j.Type, &j.Device, &j.RMS); err != nil {
			return err
		}
		d.Jitter = append(d.Jitter, j)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("duckdb: job jitter: %w", err)
	}
	return d, nil
}

// SeriesKeys lists the metric columns stored for a job, in schema order.
func (s *Store) SeriesKeys(id string) ([]SeriesKey, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()
	unlock, err := s.readLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var keys []SeriesKey
	err = s.each(ctx, `SELECT s.type_name, s.field_key, COUNT(DISTINCT s.host || '/' || s.device)
		FROM job_series s
		LEFT JOIN job_schemas c
			ON c.job_id = s.job_id AND c.type_name = s.type_name AND c.field_key = s.field_key
		WHERE s.job_id = ?
		GROUP BY s.type_name, s.field_key
		ORDER BY s.type_name, MIN(c.idx), s.field_key`, id, func(r *sql.Rows) error {
		var k SeriesKey
		if err := r.Scan(&k.Type, &k.Key, &k.Devices); err != nil {
			return err
		}
		keys = append(keys, k)
		return nil
	})
	return keys, err
}

// AggregateSeries sums one field over every host and device of a job, per
// job time point.
func (s *Store) AggregateSeries(id, typeName, key string) ([]SeriesPoint, error) {
	return s.series(id, "", typeName, key)
}

// HostSeries sums one field over the devices of a single host.
func (s *Store) HostSeries(id, host, typeName, key string) ([]SeriesPoint, error) {
	if host == "" {
		return nil, fmt.Errorf("duckdb: host is required")
	}
	return s.series(id, host, typeName, key)
}

func (s *Store) series(id, host, typeName, key string) ([]SeriesPoint, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()
	unlock, err := s.readLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	args := []any{id, typeName, key}
	hostCond := ""
	if host != "" {
		hostCond = " AND s.host = ?"
		args = append(args, host)
	}
	query := fmt.Sprintf(`SELECT t.idx, t.ts, CAST(SUM(s.value) AS DOUBLE)
		FROM job_series s
		JOIN job_times t ON t.job_id = s.job_id AND t.idx = s.idx
		WHERE s.job_id = ? AND s.type_name = ? AND s.field_key = ?%s
		GROUP BY t.idx, t.ts
		ORDER BY t.idx`, hostCond)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []SeriesPoint
	for rows.Next() {
		var p SeriesPoint
		if err := rows.Scan(&p.Index, &p.Time, &p.Value); err != nil {
			s.Logger.Warnf("duckdb: scan error (series): %v", err)
			continue
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

// DeleteJobsEndedBefore removes every job whose end time is before cutoff
// (epoch seconds) and returns the number of jobs removed.
func (s *Store) DeleteJobsEndedBefore(cutoff int64) (int64, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	committed := false
	defer func() {
		if !committed {
			tx.Rollback()
		}
	}()

	for _, table := range jobTables[:len(jobTables)-1] {
		q := fmt.Sprintf("DELETE FROM %s WHERE job_id IN (SELECT id FROM jobs WHERE end_time < ?)", table)
		if _, err := tx.ExecContext(ctx, q, cutoff); err != nil {
			return 0, fmt.Errorf("duckdb: prune %s: %w", table, err)
		}
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM jobs WHERE end_time < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("duckdb: prune jobs: %w", err)
	}
	n, _ := res.RowsAffected()
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	committed = true
	return n, nil
}

// each runs a single-argument query and calls fn for every row.
func (s *Store) each(ctx context.Context, query, arg string, fn func(*sql.Rows) error) error {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		if err := fn(rows); err != nil {
			return err
		}
	}
	return rows.Err()
}

func (s *Store) stringColumn(ctx context.Context, query, arg string) ([]string, error) {
	var out []string
	err := s.each(ctx, query, arg, func(r *sql.Rows) error {
		var v string
		if err := r.Scan(&v); err != nil {
			return err
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// ExecuteQuery runs a read-only SQL query and returns up to 1000 rows.
func (s *Store) ExecuteQuery(query string) ([]map[string]interface{}, error) {
	trimmed := strings.TrimSpace(query)

	// Reject semicolons to prevent statement chaining.
	if strings.Contains(trimmed, ";") {
		return nil, fmt.Errorf("query must not contain semicolons")
	}

	// Strip SQL comments so keywords hidden in comments are still caught.
	stripped := strings.TrimSpace(stripSQLComments(trimmed))
	upper := strings.ToUpper(stripped)

	if !strings.HasPrefix(upper, "SELECT") && !strings.HasPrefix(upper, "WITH") {
		return nil, fmt.Errorf("only SELECT/WITH queries are allowed")
	}
	if match := dangerousKeywordPattern.FindString(stripped); match != "" {
		return nil, fmt.Errorf("query contains disallowed keyword: %s", strings.ToUpper(match))
	}

	ctx, cancel := s.queryCtx()
	defer cancel()
	unlock, err := s.readLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	rows, err := s.db.QueryContext(ctx, trimmed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var results []map[string]interface{}
	for rows.Next() && len(results) < maxQueryRows {
		values := make([]interface{}, len(columns))
		valuePtrs := make([]interface{}, len(columns))
		for i := range values {
			valuePtrs[i] = &values[i]
		}

		if err := rows.Scan(valuePtrs...); err != nil {
			s.Logger.Warnf("duckdb: scan error (ExecuteQuery): %v", err)
			continue
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		results = append(results, row)
	}

	return results, rows.Err()
}

// GetSchemaDescription returns a human-readable description of the result tables.
func (s *Store) GetSchemaDescription() string {
	return `Table 'jobs': id (VARCHAR), user_name, account, queue, name, status (VARCHAR), ` +
		`start_time, end_time (BIGINT epoch seconds), nodes, cores (INTEGER), failed, complete (BOOLEAN), ` +
		`host_count, sample_count (INTEGER), error_count, overflow_count (BIGINT), processed_at (TIMESTAMP). ` +
		`Table 'job_times': job_id, idx (INTEGER), ts (DOUBLE epoch seconds). ` +
		`Table 'job_schemas': job_id, type_name, type_desc, idx, field_key, is_event, is_control, width, mult, unit. ` +
		`Table 'job_hosts': job_id, host, version, marks, complete. ` +
		`Table 'job_series': job_id, host, type_name, device, field_key, idx (joins job_times.idx), value (UBIGINT). ` +
		`Table 'job_overflows': job_id, type_name, device, field_key, host. ` +
		`Table 'job_errors': job_id, idx, message. ` +
		`Table 'job_jitter': job_id, host, type_name, device, rms (DOUBLE seconds). ` +
		`Table 'job_processes': job_id, idx, command.`
}

// TableRowCounts returns the row count for each result table.
func (s *Store) TableRowCounts() (map[string]int64, error) {
	ctx, cancel := s.queryCtx()
	defer cancel()
	unlock, err := s.readLock(ctx)
	if err != nil {
		return nil, err
	}
	defer unlock()

	counts := make(map[string]int64, len(jobTables))
	for _, table := range jobTables {
		var count int64
		// Table names come from jobTables, not user input.
		err := s.db.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
		if err != nil {
			continue
		}
		counts[table] = count
	}
	return counts, nil
}
