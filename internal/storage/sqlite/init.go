package sqlite

import (
	"database/sql"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"
)

// InitDB opens the SQLite database and creates the tables if they don't exist.
func InitDB(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS datums (
		id TEXT PRIMARY KEY,
		rev TEXT,
		created_at TEXT,
		updated_at TEXT,
		app_versions_when_modified TEXT,
		related TEXT,
		utterance TEXT,
		morphemes TEXT,
		gloss TEXT,
		translation TEXT,
		orthography TEXT,
		context TEXT,
		tags TEXT,
		validation_status TEXT,
		entered_by_user TEXT,
		modified_by_user TEXT,
		comments TEXT,
		image_files TEXT,
		audio_video_files TEXT
	)`)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS media (
		filename TEXT PRIMARY KEY,
		id TEXT,
		url TEXT
	)`)
	if err != nil {
		return nil, err
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		action TEXT,
		payload TEXT,
		summary TEXT,
		created_at DATETIME
	)`)
	if err != nil {
		return nil, err
	}

	return db, nil
}
