package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/xvanov/clipforge-sub000/internal/export"
)

type Repository interface {
	CreateJob(ctx context.Context, j *Job) error
	UpdateJob(ctx context.Context, j *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	ListJobs(ctx context.Context, limit int) ([]*Job, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const jobColumns = `id, status, output_path, settings, progress, current_frame, total_frames, error, created_at, updated_at, finished_at`

func (r *SQLiteRepository) CreateJob(ctx context.Context, j *Job) error {
	settings, err := json.Marshal(j.Settings)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO export_jobs (`+jobColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, j.ID, string(j.Status), j.OutputPath, string(settings), j.Progress, j.CurrentFrame, j.TotalFrames,
		nullString(j.Error), formatTime(j.CreatedAt), formatTime(j.UpdatedAt), nullTime(j.FinishedAt))
	return err
}

func (r *SQLiteRepository) UpdateJob(ctx context.Context, j *Job) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE export_jobs
		SET status = ?, progress = ?, current_frame = ?, total_frames = ?, error = ?, updated_at = ?, finished_at = ?
		WHERE id = ?
	`, string(j.Status), j.Progress, j.CurrentFrame, j.TotalFrames, nullString(j.Error),
		formatTime(j.UpdatedAt), nullTime(j.FinishedAt), j.ID)
	return err
}

func (r *SQLiteRepository) GetJob(ctx context.Context, id string) (*Job, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM export_jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return j, err
}

func (r *SQLiteRepository) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM export_jobs ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*Job, error) {
	var j Job
	var status, settings, createdAt, updatedAt string
	var errMsg, finishedAt sql.NullString

	err := row.Scan(&j.ID, &status, &j.OutputPath, &settings, &j.Progress, &j.CurrentFrame, &j.TotalFrames,
		&errMsg, &createdAt, &updatedAt, &finishedAt)
	if err != nil {
		return nil, err
	}

	j.Status = Status(status)
	j.Error = errMsg.String
	if err := json.Unmarshal([]byte(settings), &j.Settings); err != nil {
		// rows written before settings were recorded
		j.Settings = export.Settings{}
	}
	j.CreatedAt = parseTime(createdAt)
	j.UpdatedAt = parseTime(updatedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		j.FinishedAt = &t
	}
	return &j, nil
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime accepts RFC 3339 and sqlite's datetime('now') format, which the
// startup recovery writes.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t
	}
	t, _ := time.Parse(time.DateTime, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
