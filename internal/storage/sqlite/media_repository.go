package sqlite

import (
	"context"
	"database/sql"

	"github.com/fielddb/fieldsync/internal/storage"
)

type MediaRepository struct {
	db *sql.DB
}

func NewMediaRepository(dbConn *sql.DB) *MediaRepository {
	return &MediaRepository{db: dbConn}
}

func (r *MediaRepository) ExistsByFilename(ctx context.Context, filename string) (bool, error) {
	var one int

	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM media WHERE filename = ?`, filename).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// Register records a downloaded media artifact keyed by filename. A filename
// conflict no-ops and returns false.
func (r *MediaRepository) Register(ctx context.Context, media *storage.MediaRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO media (filename, id, url) VALUES (?, ?, ?)
		ON CONFLICT(filename) DO NOTHING
	`, media.Filename, media.ID, media.URL)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *MediaRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM media`).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}
