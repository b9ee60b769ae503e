package storage

import "context"

// DatumRecord is the local representation of one sample datum pulled from the
// remote document server. Identity is ID; a record is inserted at most once
// and never updated by the sync subsystem.
type DatumRecord struct {
	ID                      string
	Rev                     string
	CreatedAt               string
	UpdatedAt               string
	AppVersionsWhenModified string
	Related                 string
	Utterance               string
	Morphemes               string
	Gloss                   string
	Translation             string
	Orthography             string
	Context                 string
	Tags                    string
	ValidationStatus        string
	EnteredByUser           string
	ModifiedByUser          string
	Comments                string
	ImageFiles              string // comma-joined filenames after reconciliation
	AudioVideoFiles         string // comma-joined filenames after reconciliation
}

// MediaRecord registers one downloaded media artifact. Identity is Filename,
// independent of which datum referenced it.
type MediaRecord struct {
	ID       string
	Filename string
	URL      string
}

// ActivityRecord is one append-only entry in the activity log, written on
// definitive success of a sync or transfer action.
type ActivityRecord struct {
	ID        string
	Action    string
	Payload   string // JSON
	Summary   string
	CreatedAt string
}

// DatumRepository is the gateway to the local datum store. Insert must be
// atomic exists-or-insert on ID: it returns false, not an error, when the ID
// is already present.
type DatumRepository interface {
	Exists(ctx context.Context, id string) (bool, error)
	Insert(ctx context.Context, datum *DatumRecord) (bool, error)
	Count(ctx context.Context) (int, error)
}

// MediaRepository is the gateway to the media table. Register mirrors
// DatumRepository.Insert: conflict on filename is a benign false.
type MediaRepository interface {
	ExistsByFilename(ctx context.Context, filename string) (bool, error)
	Register(ctx context.Context, media *MediaRecord) (bool, error)
}

// ActivityRepository appends to the activity log. Purely additive.
type ActivityRepository interface {
	Append(ctx context.Context, activity *ActivityRecord) error
}
