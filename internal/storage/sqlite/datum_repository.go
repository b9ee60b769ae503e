package sqlite

import (
	"context"
	"database/sql"

	"github.com/fielddb/fieldsync/internal/storage"
)

type DatumRepository struct {
	db *sql.DB
}

func NewDatumRepository(dbConn *sql.DB) *DatumRepository {
	return &DatumRepository{db: dbConn}
}

func (r *DatumRepository) Exists(ctx context.Context, id string) (bool, error) {
	var one int

	err := r.db.QueryRowContext(ctx, `SELECT 1 FROM datums WHERE id = ?`, id).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}

	if err != nil {
		return false, err
	}

	return true, nil
}

// Insert stores the datum if its id is absent. A conflicting id is not an
// error: the insert no-ops and Insert returns false, which keeps the download
// pipeline idempotent under retry and concurrent runs.
func (r *DatumRepository) Insert(ctx context.Context, datum *storage.DatumRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO datums (
			id, rev, created_at, updated_at, app_versions_when_modified, related,
			utterance, morphemes, gloss, translation, orthography, context, tags,
			validation_status, entered_by_user, modified_by_user, comments,
			image_files, audio_video_files
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		datum.ID, datum.Rev, datum.CreatedAt, datum.UpdatedAt, datum.AppVersionsWhenModified,
		datum.Related, datum.Utterance, datum.Morphemes, datum.Gloss, datum.Translation,
		datum.Orthography, datum.Context, datum.Tags, datum.ValidationStatus,
		datum.EnteredByUser, datum.ModifiedByUser, datum.Comments,
		datum.ImageFiles, datum.AudioVideoFiles,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

func (r *DatumRepository) Count(ctx context.Context) (int, error) {
	var count int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM datums`).Scan(&count); err != nil {
		return 0, err
	}

	return count, nil
}

// Get reads one datum back. Used by the ops surface and tests; the sync
// pipeline itself never reads full records.
func (r *DatumRepository) Get(ctx context.Context, id string) (*storage.DatumRecord, error) {
	var datum storage.DatumRecord

	err := r.db.QueryRowContext(ctx, `
		SELECT id, rev, created_at, updated_at, app_versions_when_modified, related,
			utterance, morphemes, gloss, translation, orthography, context, tags,
			validation_status, entered_by_user, modified_by_user, comments,
			image_files, audio_video_files
		FROM datums WHERE id = ?
	`, id).Scan(
		&datum.ID, &datum.Rev, &datum.CreatedAt, &datum.UpdatedAt, &datum.AppVersionsWhenModified,
		&datum.Related, &datum.Utterance, &datum.Morphemes, &datum.Gloss, &datum.Translation,
		&datum.Orthography, &datum.Context, &datum.Tags, &datum.ValidationStatus,
		&datum.EnteredByUser, &datum.ModifiedByUser, &datum.Comments,
		&datum.ImageFiles, &datum.AudioVideoFiles,
	)
	if err != nil {
		return nil, err
	}

	return &datum, nil
}
