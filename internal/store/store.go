package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"celluloid/internal/config"
)

// timeLayout is a fixed-width RFC3339 form. Timestamps are compared as text
// in SQL, so the fractional seconds must be zero-padded to sort
// chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store manages job persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
	ttl  time.Duration
	now  func() time.Time
}

// Open initializes or connects to the job database and applies the schema.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath, ttl: cfg.ResultTTL(), now: time.Now}
	if err := store.applySchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Create inserts a new job record. Timestamps and the expiry are filled in.
func (s *Store) Create(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := s.now().UTC()
	job.CreatedAt = now
	job.UpdatedAt = now
	job.ExpiresAt = now.Add(s.ttl)
	if job.StartTime.IsZero() {
		job.StartTime = now
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO jobs (
            id, external_id, video_url, webhook_url, similarity_threshold,
            status, progress, error_message, result_path, metadata_json,
            start_time, end_time, created_at, updated_at, expires_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID,
		job.ExternalID,
		job.VideoURL,
		nullableString(job.WebhookURL),
		job.SimilarityThreshold,
		job.Status,
		job.Progress,
		nullableString(job.ErrorMessage),
		nullableString(job.ResultPath),
		nullableString(job.MetadataJSON),
		job.StartTime.UTC().Format(timeLayout),
		nullableTime(job.EndTime),
		job.CreatedAt.Format(timeLayout),
		job.UpdatedAt.Format(timeLayout),
		job.ExpiresAt.Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// GetByID fetches a job by identifier. Expired records are reported as absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND expires_at > ?`,
		id,
		s.now().UTC().Format(timeLayout),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// Update persists changes to an existing job and refreshes its expiry, so
// active jobs never age out mid-flight.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	now := s.now().UTC()
	job.UpdatedAt = now
	job.ExpiresAt = now.Add(s.ttl)

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE jobs
         SET external_id = ?, video_url = ?, webhook_url = ?, similarity_threshold = ?,
             status = ?, progress = ?, error_message = ?, result_path = ?, metadata_json = ?,
             start_time = ?, end_time = ?, updated_at = ?, expires_at = ?
         WHERE id = ?`,
		job.ExternalID,
		job.VideoURL,
		nullableString(job.WebhookURL),
		job.SimilarityThreshold,
		job.Status,
		job.Progress,
		nullableString(job.ErrorMessage),
		nullableString(job.ResultPath),
		nullableString(job.MetadataJSON),
		job.StartTime.UTC().Format(timeLayout),
		nullableTime(job.EndTime),
		job.UpdatedAt.Format(timeLayout),
		job.ExpiresAt.Format(timeLayout),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// FindActiveByExternalID returns the oldest queued or processing job for an
// external identifier, or ErrNotFound.
func (s *Store) FindActiveByExternalID(ctx context.Context, externalID string) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE external_id = ? AND status IN (?, ?) AND expires_at > ?
         ORDER BY created_at, id LIMIT 1`,
		externalID,
		StatusQueued,
		StatusProcessing,
		s.now().UTC().Format(timeLayout),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find active job: %w", err)
	}
	return job, nil
}

// FindRecentCompleted returns the most recently finished completed job for an
// external identifier whose end time is at or after the cutoff, or ErrNotFound.
func (s *Store) FindRecentCompleted(ctx context.Context, externalID string, cutoff time.Time) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs
         WHERE external_id = ? AND status = ? AND end_time IS NOT NULL
           AND end_time >= ? AND expires_at > ?
         ORDER BY end_time DESC LIMIT 1`,
		externalID,
		StatusCompleted,
		cutoff.UTC().Format(timeLayout),
		s.now().UTC().Format(timeLayout),
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find recent completed job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status set (or all jobs when no status is
// provided), oldest first. Expired records are omitted.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs WHERE expires_at > ?`
	orderClause := ` ORDER BY created_at, id`
	args := []any{s.now().UTC().Format(timeLayout)}

	query := baseQuery + orderClause
	if len(statuses) > 0 {
		placeholders := makePlaceholders(len(statuses))
		for _, status := range statuses {
			args = append(args, status)
		}
		query = baseQuery + ` AND status IN (` + placeholders + `)` + orderClause
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// ListByExternalID returns live jobs for an external identifier, optionally
// narrowed by status set, oldest first.
func (s *Store) ListByExternalID(ctx context.Context, externalID string, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs WHERE external_id = ? AND expires_at > ?`
	orderClause := ` ORDER BY created_at, id`
	args := []any{externalID, s.now().UTC().Format(timeLayout)}

	query := baseQuery + orderClause
	if len(statuses) > 0 {
		placeholders := makePlaceholders(len(statuses))
		for _, status := range statuses {
			args = append(args, status)
		}
		query = baseQuery + ` AND status IN (` + placeholders + `)` + orderClause
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs by external id: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// QueuePosition returns the 1-based position of a queued job among all queued
// jobs ordered by creation time. Returns 0 when the job is not queued.
func (s *Store) QueuePosition(ctx context.Context, id string) (int, error) {
	nowStr := s.now().UTC().Format(timeLayout)
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(1) FROM jobs a, jobs b
         WHERE b.id = ? AND b.status = ? AND b.expires_at > ?
           AND a.status = ? AND a.expires_at > ?
           AND (a.created_at < b.created_at OR (a.created_at = b.created_at AND a.id <= b.id))`,
		id,
		StatusQueued,
		nowStr,
		StatusQueued,
		nowStr,
	)
	var position int
	if err := row.Scan(&position); err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	return position, nil
}

// Stats returns a count of live jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT status, COUNT(1) FROM jobs WHERE expires_at > ? GROUP BY status`,
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}
	return health, nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping job database: %w", err)
	}
	return nil
}

// PurgeExpired deletes records whose expiry has passed.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM jobs WHERE expires_at <= ?`,
		s.now().UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("purge expired jobs: %w", err)
	}
	return res.RowsAffected()
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

const jobColumns = "id, external_id, video_url, webhook_url, similarity_threshold, status, progress, error_message, result_path, metadata_json, start_time, end_time, created_at, updated_at, expires_at"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           string
		externalID   string
		videoURL     string
		webhookURL   sql.NullString
		similarity   float64
		statusStr    string
		progress     float64
		errorMessage sql.NullString
		resultPath   sql.NullString
		metadata     sql.NullString
		startRaw     sql.NullString
		endRaw       sql.NullString
		createdRaw   sql.NullString
		updatedRaw   sql.NullString
		expiresRaw   sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&externalID,
		&videoURL,
		&webhookURL,
		&similarity,
		&statusStr,
		&progress,
		&errorMessage,
		&resultPath,
		&metadata,
		&startRaw,
		&endRaw,
		&createdRaw,
		&updatedRaw,
		&expiresRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:                  id,
		ExternalID:          externalID,
		VideoURL:            videoURL,
		WebhookURL:          webhookURL.String,
		SimilarityThreshold: similarity,
		Status:              Status(statusStr),
		Progress:            progress,
		ErrorMessage:        errorMessage.String,
		ResultPath:          resultPath.String,
		MetadataJSON:        metadata.String,
	}

	if start, err := parseTimeString(startRaw.String); err == nil {
		job.StartTime = start
	}
	if endRaw.Valid {
		if end, err := parseTimeString(endRaw.String); err == nil {
			job.EndTime = &end
		}
	}
	if created, err := parseTimeString(createdRaw.String); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw.String); err == nil {
		job.UpdatedAt = updated
	}
	if expires, err := parseTimeString(expiresRaw.String); err == nil {
		job.ExpiresAt = expires
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(timeLayout)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
