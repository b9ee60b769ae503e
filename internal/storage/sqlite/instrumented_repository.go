package sqlite

import (
	"context"
	"database/sql"

	"github.com/fielddb/fieldsync/internal/storage"
	"github.com/fielddb/fieldsync/internal/telemetry"
)

// InstrumentedDatumRepository wraps DatumRepository with telemetry.
type InstrumentedDatumRepository struct {
	repo      *DatumRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedDatumRepository creates a new instrumented datum repository.
func NewInstrumentedDatumRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDatumRepository {
	return &InstrumentedDatumRepository{
		repo:      NewDatumRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDatumRepository) Exists(ctx context.Context, id string) (bool, error) {
	var result bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "datum_exists", func(ctx context.Context) error {
		result, err = r.repo.Exists(ctx, id)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDatumRepository) Insert(ctx context.Context, datum *storage.DatumRecord) (bool, error) {
	var result bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "datum_insert", func(ctx context.Context) error {
		result, err = r.repo.Insert(ctx, datum)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedDatumRepository) Count(ctx context.Context) (int, error) {
	var result int

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "datum_count", func(ctx context.Context) error {
		result, err = r.repo.Count(ctx)

		return err
	})

	if instrumentedErr != nil {
		return 0, instrumentedErr
	}

	return result, nil
}

// InstrumentedMediaRepository wraps MediaRepository with telemetry.
type InstrumentedMediaRepository struct {
	repo      *MediaRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedMediaRepository creates a new instrumented media repository.
func NewInstrumentedMediaRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedMediaRepository {
	return &InstrumentedMediaRepository{
		repo:      NewMediaRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedMediaRepository) ExistsByFilename(ctx context.Context, filename string) (bool, error) {
	var result bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "media_exists", func(ctx context.Context) error {
		result, err = r.repo.ExistsByFilename(ctx, filename)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

func (r *InstrumentedMediaRepository) Register(ctx context.Context, media *storage.MediaRecord) (bool, error) {
	var result bool

	var err error

	instrumentedErr := r.telemetry.InstrumentDBOperation(ctx, "media_register", func(ctx context.Context) error {
		result, err = r.repo.Register(ctx, media)

		return err
	})

	if instrumentedErr != nil {
		return false, instrumentedErr
	}

	return result, nil
}

// InstrumentedActivityRepository wraps ActivityRepository with telemetry.
type InstrumentedActivityRepository struct {
	repo      *ActivityRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedActivityRepository creates a new instrumented activity repository.
func NewInstrumentedActivityRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedActivityRepository {
	return &InstrumentedActivityRepository{
		repo:      NewActivityRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedActivityRepository) Append(ctx context.Context, activity *storage.ActivityRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "activity_append", func(ctx context.Context) error {
		return r.repo.Append(ctx, activity)
	})
}

func (r *InstrumentedActivityRepository) Recent(ctx context.Context, limit int) ([]storage.ActivityRecord, error) {
	var result []storage.ActivityRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "activity_recent", func(ctx context.Context) error {
		var err error
		result, err = r.repo.Recent(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
