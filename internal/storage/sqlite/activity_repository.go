package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/fielddb/fieldsync/internal/storage"
	"github.com/google/uuid"
)

type ActivityRepository struct {
	db *sql.DB
}

func NewActivityRepository(dbConn *sql.DB) *ActivityRepository {
	return &ActivityRepository{db: dbConn}
}

func (r *ActivityRepository) Append(ctx context.Context, activity *storage.ActivityRecord) error {
	if activity.ID == "" {
		activity.ID = uuid.New().String()
	}

	if activity.CreatedAt == "" {
		activity.CreatedAt = time.Now().Format(time.RFC3339)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO activities (id, action, payload, summary, created_at) VALUES (?, ?, ?, ?, ?)`,
		activity.ID, activity.Action, activity.Payload, activity.Summary, activity.CreatedAt,
	)

	return err
}

// Recent returns the latest activity entries, newest first.
func (r *ActivityRepository) Recent(ctx context.Context, limit int) ([]storage.ActivityRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, action, payload, summary, created_at FROM activities ORDER BY created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var activities []storage.ActivityRecord

	for rows.Next() {
		var record storage.ActivityRecord
		if err := rows.Scan(&record.ID, &record.Action, &record.Payload, &record.Summary, &record.CreatedAt); err != nil {
			return nil, err
		}

		activities = append(activities, record)
	}

	return activities, rows.Err()
}
