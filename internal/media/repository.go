package media

import (
	"context"
	"database/sql"
	"time"
)

type Repository interface {
	CreateClip(ctx context.Context, clip *Clip) error
	GetClip(ctx context.Context, id string) (*Clip, error)
	ListClips(ctx context.Context) ([]*Clip, error)
	CountClips(ctx context.Context) (int, error)
}

type SQLiteRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

const clipColumns = `id, name, source_path, proxy_path, duration_us, width, height, fps, codec, audio_codec, has_audio, imported_at`

func (r *SQLiteRepository) CreateClip(ctx context.Context, c *Clip) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO media_clips (`+clipColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Name, c.SourcePath, nullString(c.ProxyPath), c.Duration.Microseconds(),
		c.Width, c.Height, c.FPS, c.Codec, nullString(c.AudioCodec), boolToInt(c.HasAudio),
		c.ImportedAt.UTC().Format(time.RFC3339))
	return err
}

func (r *SQLiteRepository) GetClip(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+clipColumns+` FROM media_clips WHERE id = ?`, id)
	c, err := scanClip(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

func (r *SQLiteRepository) ListClips(ctx context.Context) ([]*Clip, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+clipColumns+` FROM media_clips ORDER BY imported_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var clips []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, err
		}
		clips = append(clips, c)
	}
	return clips, rows.Err()
}

func (r *SQLiteRepository) CountClips(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM media_clips").Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanClip(row scanner) (*Clip, error) {
	var c Clip
	var proxyPath, audioCodec sql.NullString
	var durationUs int64
	var hasAudio int
	var importedAt string

	err := row.Scan(&c.ID, &c.Name, &c.SourcePath, &proxyPath, &durationUs, &c.Width, &c.Height,
		&c.FPS, &c.Codec, &audioCodec, &hasAudio, &importedAt)
	if err != nil {
		return nil, err
	}

	c.ProxyPath = proxyPath.String
	c.AudioCodec = audioCodec.String
	c.Duration = time.Duration(durationUs) * time.Microsecond
	c.HasAudio = hasAudio == 1
	c.ImportedAt, _ = time.Parse(time.RFC3339, importedAt)
	return &c, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
