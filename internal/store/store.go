package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/atlasmeta/reindexer/internal/db"
)

// Store is the sqlite-backed DAO for jobs and partitions.
type Store struct {
	db *sql.DB
}

// New wraps an open database handle and ensures the schema exists.
func New(conn *sql.DB) (*Store, error) {
	s := &Store{db: conn}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS search_index_job (
			id TEXT PRIMARY KEY,
			status TEXT NOT NULL,
			config TEXT NOT NULL,
			stats TEXT NOT NULL,
			errors TEXT NOT NULL DEFAULT '[]',
			started_at INTEGER NOT NULL,
			ended_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL
		);
		CREATE TABLE IF NOT EXISTS search_index_partition (
			job_id TEXT NOT NULL,
			partition_id INTEGER NOT NULL,
			entity_type TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			page_size INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'PENDING',
			success_count INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			claimed_by TEXT NOT NULL DEFAULT '',
			claimed_at INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (job_id, partition_id)
		);
		CREATE INDEX IF NOT EXISTS idx_partition_job_status
			ON search_index_partition (job_id, status);
	`)
	if err != nil {
		return fmt.Errorf("migrate job schema: %w", err)
	}
	return nil
}

// CreateJob persists a new job record.
func (s *Store) CreateJob(ctx context.Context, job *Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = JobStatusNotStarted
	}
	now := time.Now()
	if job.StartedAt.IsZero() {
		job.StartedAt = now
	}
	job.UpdatedAt = now

	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}
	stats, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("marshal job stats: %w", err)
	}
	errs, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("marshal job errors: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_index_job (id, status, config, stats, errors, started_at, ended_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, job.ID.String(), string(job.Status), string(cfg), string(stats), string(errs),
		job.StartedAt.UnixMilli(), unixMilliOrZero(job.EndedAt), job.UpdatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return nil
}

// FindJob loads one job by ID. Returns db.ErrNotFound if it does not exist.
func (s *Store) FindJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, status, config, stats, errors, started_at, ended_at, updated_at
		FROM search_index_job WHERE id = ?
	`, id.String())
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("job %s: %w", id, db.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find job %s: %w", id, err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, status, config, stats, errors, started_at, ended_at, updated_at
		FROM search_index_job ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		out = append(out, *job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job rows: %w", err)
	}
	return out, nil
}

// UpdateJob rewrites a job's mutable fields.
func (s *Store) UpdateJob(ctx context.Context, job *Job) error {
	job.UpdatedAt = time.Now()

	stats, err := json.Marshal(job.Stats)
	if err != nil {
		return fmt.Errorf("marshal job stats: %w", err)
	}
	errs, err := json.Marshal(job.Errors)
	if err != nil {
		return fmt.Errorf("marshal job errors: %w", err)
	}
	cfg, err := json.Marshal(job.Config)
	if err != nil {
		return fmt.Errorf("marshal job config: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE search_index_job
		SET status = ?, config = ?, stats = ?, errors = ?, ended_at = ?, updated_at = ?
		WHERE id = ?
	`, string(job.Status), string(cfg), string(stats), string(errs),
		unixMilliOrZero(job.EndedAt), job.UpdatedAt.UnixMilli(), job.ID.String())
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %s: %w", job.ID, db.ErrNotFound)
	}
	return nil
}

// CreatePartitions inserts all partitions of a job in one transaction.
func (s *Store) CreatePartitions(ctx context.Context, partitions []Partition) error {
	if len(partitions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO search_index_partition
			(job_id, partition_id, entity_type, start_offset, page_size, status, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare partition insert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for i := range partitions {
		p := &partitions[i]
		if p.Status == "" {
			p.Status = PartitionPending
		}
		if _, err := stmt.ExecContext(ctx, p.JobID.String(), p.PartitionID, p.EntityType,
			p.Offset, p.Limit, string(p.Status), now); err != nil {
			return fmt.Errorf("insert partition %d: %w", p.PartitionID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit partitions: %w", err)
	}
	return nil
}

// ClaimPartition atomically moves the lowest-numbered pending partition of
// the job to PROCESSING and stamps it with the worker ID. Returns
// db.ErrNotFound when no pending partition remains.
func (s *Store) ClaimPartition(ctx context.Context, jobID uuid.UUID, workerID string) (*Partition, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var partitionID int
	err = tx.QueryRowContext(ctx, `
		SELECT partition_id FROM search_index_partition
		WHERE job_id = ? AND status = ?
		ORDER BY partition_id LIMIT 1
	`, jobID.String(), string(PartitionPending)).Scan(&partitionID)
	if err == sql.ErrNoRows {
		return nil, db.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select pending partition: %w", err)
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx, `
		UPDATE search_index_partition
		SET status = ?, claimed_by = ?, claimed_at = ?, updated_at = ?
		WHERE job_id = ? AND partition_id = ? AND status = ?
	`, string(PartitionProcessing), workerID, now.UnixMilli(), now.UnixMilli(),
		jobID.String(), partitionID, string(PartitionPending))
	if err != nil {
		return nil, fmt.Errorf("claim partition %d: %w", partitionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, db.ErrNotFound
	}

	p, err := findPartitionTx(ctx, tx, jobID, partitionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return p, nil
}

// UpdatePartition records the outcome of processing one partition.
func (s *Store) UpdatePartition(ctx context.Context, p *Partition) error {
	p.UpdatedAt = time.Now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_index_partition
		SET status = ?, success_count = ?, failed_count = ?, error = ?, updated_at = ?
		WHERE job_id = ? AND partition_id = ?
	`, string(p.Status), p.SuccessCount, p.FailedCount, p.Error, p.UpdatedAt.UnixMilli(),
		p.JobID.String(), p.PartitionID)
	if err != nil {
		return fmt.Errorf("update partition %d: %w", p.PartitionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("partition %d of job %s: %w", p.PartitionID, p.JobID, db.ErrNotFound)
	}
	return nil
}

// FindByJobIDAndStatus returns the job's partitions in the given status,
// ordered by partition ID.
func (s *Store) FindByJobIDAndStatus(ctx context.Context, jobID uuid.UUID, status PartitionStatus) ([]Partition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, partition_id, entity_type, start_offset, page_size, status,
			success_count, failed_count, claimed_by, claimed_at, updated_at, error
		FROM search_index_partition
		WHERE job_id = ? AND status = ?
		ORDER BY partition_id
	`, jobID.String(), string(status))
	if err != nil {
		return nil, fmt.Errorf("find partitions by status: %w", err)
	}
	defer rows.Close()
	return collectPartitions(rows)
}

// PartitionsForJob returns every partition of the job.
func (s *Store) PartitionsForJob(ctx context.Context, jobID uuid.UUID) ([]Partition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, partition_id, entity_type, start_offset, page_size, status,
			success_count, failed_count, claimed_by, claimed_at, updated_at, error
		FROM search_index_partition
		WHERE job_id = ?
		ORDER BY partition_id
	`, jobID.String())
	if err != nil {
		return nil, fmt.Errorf("list partitions: %w", err)
	}
	defer rows.Close()
	return collectPartitions(rows)
}

// CountByStatus returns the number of partitions in each status for the job.
func (s *Store) CountByStatus(ctx context.Context, jobID uuid.UUID) (map[PartitionStatus]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM search_index_partition
		WHERE job_id = ? GROUP BY status
	`, jobID.String())
	if err != nil {
		return nil, fmt.Errorf("count partitions: %w", err)
	}
	defer rows.Close()

	counts := make(map[PartitionStatus]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan partition count: %w", err)
		}
		counts[PartitionStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partition counts: %w", err)
	}
	return counts, nil
}

// AggregatedStats sums partition counters per entity type and overall.
// Partitions that never ran contribute only to the totals.
func (s *Store) AggregatedStats(ctx context.Context, jobID uuid.UUID) (*Stats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_type,
			COALESCE(SUM(page_size), 0),
			COALESCE(SUM(success_count), 0),
			COALESCE(SUM(failed_count), 0)
		FROM search_index_partition
		WHERE job_id = ?
		GROUP BY entity_type
	`, jobID.String())
	if err != nil {
		return nil, fmt.Errorf("aggregate partition stats: %w", err)
	}
	defer rows.Close()

	stats := &Stats{EntityStats: make(map[string]StepStats)}
	for rows.Next() {
		var entityType string
		var es StepStats
		if err := rows.Scan(&entityType, &es.TotalRecords, &es.SuccessRecords, &es.FailedRecords); err != nil {
			return nil, fmt.Errorf("scan aggregated stats: %w", err)
		}
		stats.EntityStats[entityType] = es
		stats.JobStats.Add(es)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate aggregated stats: %w", err)
	}
	return stats, nil
}

// ResetStalePartitions requeues PROCESSING partitions whose claim is older
// than the cutoff, recovering work lost to a dead worker. Returns the
// number of partitions requeued.
func (s *Store) ResetStalePartitions(ctx context.Context, jobID uuid.UUID, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE search_index_partition
		SET status = ?, claimed_by = '', claimed_at = 0, updated_at = ?
		WHERE job_id = ? AND status = ? AND claimed_at < ?
	`, string(PartitionPending), time.Now().UnixMilli(),
		jobID.String(), string(PartitionProcessing), olderThan.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("reset stale partitions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		id, status, cfg, stats, errs  string
		startedAt, endedAt, updatedAt int64
	)
	if err := row.Scan(&id, &status, &cfg, &stats, &errs, &startedAt, &endedAt, &updatedAt); err != nil {
		return nil, err
	}
	jobID, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parse job id %q: %w", id, err)
	}
	job := &Job{
		ID:        jobID,
		Status:    JobStatus(status),
		StartedAt: time.UnixMilli(startedAt),
		UpdatedAt: time.UnixMilli(updatedAt),
	}
	if endedAt > 0 {
		job.EndedAt = time.UnixMilli(endedAt)
	}
	if err := json.Unmarshal([]byte(cfg), &job.Config); err != nil {
		return nil, fmt.Errorf("decode job config: %w", err)
	}
	if err := json.Unmarshal([]byte(stats), &job.Stats); err != nil {
		return nil, fmt.Errorf("decode job stats: %w", err)
	}
	if err := json.Unmarshal([]byte(errs), &job.Errors); err != nil {
		return nil, fmt.Errorf("decode job errors: %w", err)
	}
	return job, nil
}

func collectPartitions(rows *sql.Rows) ([]Partition, error) {
	var out []Partition
	for rows.Next() {
		var (
			p                    Partition
			jobID                string
			claimedAt, updatedAt int64
		)
		if err := rows.Scan(&jobID, &p.PartitionID, &p.EntityType, &p.Offset, &p.Limit,
			&p.Status, &p.SuccessCount, &p.FailedCount, &p.ClaimedBy,
			&claimedAt, &updatedAt, &p.Error); err != nil {
			return nil, fmt.Errorf("scan partition row: %w", err)
		}
		id, err := uuid.Parse(jobID)
		if err != nil {
			return nil, fmt.Errorf("parse partition job id %q: %w", jobID, err)
		}
		p.JobID = id
		if claimedAt > 0 {
			p.ClaimedAt = time.UnixMilli(claimedAt)
		}
		p.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate partition rows: %w", err)
	}
	return out, nil
}

func findPartitionTx(ctx context.Context, tx *sql.Tx, jobID uuid.UUID, partitionID int) (*Partition, error) {
	var (
		p                    Partition
		rawJobID             string
		claimedAt, updatedAt int64
	)
	err := tx.QueryRowContext(ctx, `
		SELECT job_id, partition_id, entity_type, start_offset, page_size, status,
			success_count, failed_count, claimed_by, claimed_at, updated_at, error
		FROM search_index_partition
		WHERE job_id = ? AND partition_id = ?
	`, jobID.String(), partitionID).Scan(&rawJobID, &p.PartitionID, &p.EntityType,
		&p.Offset, &p.Limit, &p.Status, &p.SuccessCount, &p.FailedCount,
		&p.ClaimedBy, &claimedAt, &updatedAt, &p.Error)
	if err != nil {
		return nil, fmt.Errorf("reload partition %d: %w", partitionID, err)
	}
	p.JobID = jobID
	if claimedAt > 0 {
		p.ClaimedAt = time.UnixMilli(claimedAt)
	}
	p.UpdatedAt = time.UnixMilli(updatedAt)
	return &p, nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}
