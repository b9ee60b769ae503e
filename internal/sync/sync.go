// Package sync implements the sample data download pipeline: gate on
// connectivity, fetch the map/reduce result, reconcile rows into the local
// store, fan out to media downloads and record the outcome in the activity
// log. A run never loops on itself; re-delivery after failure belongs to the
// host, and the insert-if-absent store keys make re-runs safe.
package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/fielddb/fieldsync/internal/bugsink"
	"github.com/fielddb/fieldsync/internal/connectivity"
	"github.com/fielddb/fieldsync/internal/logctx"
	"github.com/fielddb/fieldsync/internal/storage"
	"github.com/fielddb/fieldsync/internal/telemetry"
	"github.com/fielddb/fieldsync/internal/transfer"
)

const (
	// datumTag selects which view rows the remote returns; only the sample
	// set is pulled today.
	datumTag = "SampleData"

	// serverURLPlaceholder is substituted with the configured data server in
	// media URLs coming off the wire.
	serverURLPlaceholder = "SERVER_URL"

	downloadDataSummary  = "*** Downloaded data successfully ***"
	downloadMediaSummary = "*** Downloaded media file successfully ***"

	emptyDataMessage = "The sample data was empty, please report this."
)

// Offline seed, inserted when the store is empty and no network is available
// so the rest of the application has at least one record to render.
const (
	sampleDatumID   = "sample12345"
	sampleImageName = "gamardZoba.jpg"
	sampleImageURL  = "https://speech.lingsync.org/community-georgian/gamardZoba.jpg"
)

// Request is one download trigger. Zero values mean "use the configured
// defaults".
type Request struct {
	// URL overrides the default sample data endpoint.
	URL string
	// Connectivity overrides the wifi-only policy ("any" accepts whatever
	// link is up).
	Connectivity string
}

// DataClient is the part of the transfer client the syncer needs.
type DataClient interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// MediaFetcher downloads one media artifact and registers it, returning the
// resolved filename.
type MediaFetcher interface {
	FetchIfAbsent(ctx context.Context, rawURL string) (string, error)
}

// Syncer orchestrates one download run end to end.
type Syncer struct {
	client     DataClient
	fetcher    MediaFetcher
	datums     storage.DatumRepository
	media      storage.MediaRepository
	activities storage.ActivityRepository
	checker    connectivity.Checker
	bugs       bugsink.Reporter
	telemetry  *telemetry.Telemetry

	defaultURL    string
	dataServerURL string
	defaultPolicy connectivity.Policy
}

func NewSyncer(
	client DataClient,
	fetcher MediaFetcher,
	datums storage.DatumRepository,
	mediaRepo storage.MediaRepository,
	activities storage.ActivityRepository,
	checker connectivity.Checker,
	bugs bugsink.Reporter,
	tel *telemetry.Telemetry,
	defaultURL string,
	dataServerURL string,
	defaultPolicy connectivity.Policy,
) *Syncer {
	return &Syncer{
		client:        client,
		fetcher:       fetcher,
		datums:        datums,
		media:         mediaRepo,
		activities:    activities,
		checker:       checker,
		bugs:          bugs,
		telemetry:     tel,
		defaultURL:    defaultURL,
		dataServerURL: dataServerURL,
		defaultPolicy: defaultPolicy,
	}
}

// Run executes one download cycle. A nil return means either a completed
// download or a deliberate skip (no acceptable network); any error is
// terminal for this invocation and safe to re-deliver.
func (s *Syncer) Run(ctx context.Context, req Request) error {
	return s.telemetry.InstrumentSyncRun(ctx, func(ctx context.Context) error {
		return s.run(ctx, req)
	})
}

func (s *Syncer) run(ctx context.Context, req Request) error {
	logger := logctx.LoggerFromContext(ctx)

	policy := s.defaultPolicy
	if req.Connectivity != "" {
		policy = connectivity.ParsePolicy(req.Connectivity)
	}

	if policy == connectivity.PolicyWifi && !s.checker.PreferredNetworkUp(ctx) {
		logger.Info("skipping sample data download, preferred network is not up and the request does not override it")

		return s.ensureOfflineSampleData(ctx)
	}

	rawURL := req.URL
	if rawURL == "" {
		rawURL = s.defaultURL
	}

	s.bugs.PutContext("action", "downloadDatums:::"+datumTag)
	s.bugs.PutContext("urlString", rawURL)

	logger.Info("downloading sample data", "url", rawURL)

	if err := s.download(ctx, rawURL); err != nil {
		s.bugs.Report(ctx, transfer.UserMessage(err))

		return err
	}

	return nil
}

func (s *Syncer) download(ctx context.Context, rawURL string) error {
	logger := logctx.LoggerFromContext(ctx)

	body, err := s.client.Fetch(ctx, rawURL)
	if err != nil {
		return err
	}

	var envelope struct {
		Rows []struct {
			Value json.RawMessage `json:"value"`
		} `json:"rows"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return &transfer.ReadError{URL: rawURL, Err: err}
	}

	if len(envelope.Rows) == 0 {
		return &transfer.ServerMessageError{Message: emptyDataMessage}
	}

	var inserted, existing, skipped int64

	// Filenames fetched earlier in this run, keyed by resolved URL, so a URL
	// referenced by several rows is downloaded once.
	seen := make(map[string]string)

	for i, row := range envelope.Rows {
		outcome, err := s.processRow(ctx, row.Value, seen)
		if err != nil {
			return err
		}

		switch outcome {
		case rowInserted:
			inserted++
		case rowExisting:
			existing++
		case rowSkipped:
			logger.Warn("skipped sample row", "row", i)
			skipped++
		}
	}

	if s.telemetry != nil {
		s.telemetry.RecordRows("inserted", inserted)
		s.telemetry.RecordRows("existing", existing)
		s.telemetry.RecordRows("skipped", skipped)
	}

	logger.Info("processed sample data response",
		"rows", len(envelope.Rows),
		"rows_inserted", inserted,
		"rows_existing", existing,
		"rows_skipped", skipped)

	payload, err := json.Marshal(map[string]int64{
		"rows_inserted": inserted,
		"rows_existing": existing,
		"rows_skipped":  skipped,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal run summary: %w", err)
	}

	if err := s.activities.Append(ctx, &storage.ActivityRecord{
		Action:  "downloadDatums:::" + datumTag,
		Payload: string(payload),
		Summary: downloadDataSummary,
	}); err != nil {
		return fmt.Errorf("failed to record download activity: %w", err)
	}

	return nil
}

type rowOutcome int

const (
	rowInserted rowOutcome = iota
	rowExisting
	rowSkipped
)

// datumRow is the defensive decode target for one view row value. Every field
// is a pointer so an absent key is distinguishable from an empty string.
type datumRow struct {
	ID                      *string `json:"_id"`
	Rev                     *string `json:"_rev"`
	CreatedAt               *string `json:"created_at"`
	UpdatedAt               *string `json:"updated_at"`
	AppVersionsWhenModified *string `json:"appVersionsWhenModified"`
	Related                 *string `json:"related"`
	Utterance               *string `json:"utterance"`
	Morphemes               *string `json:"morphemes"`
	Gloss                   *string `json:"gloss"`
	Translation             *string `json:"translation"`
	Orthography             *string `json:"orthography"`
	Context                 *string `json:"context"`
	Tags                    *string `json:"tags"`
	ValidationStatus        *string `json:"validationStatus"`
	EnteredByUser           *string `json:"enteredByUser"`
	ModifiedByUser          *string `json:"modifiedByUser"`
	Comments                *string `json:"comments"`
	Images                  *string `json:"images"`
	AudioVideo              *string `json:"audioVideo"`
}

func (r *datumRow) missingFields() []string {
	fields := []struct {
		name  string
		value *string
	}{
		{"_id", r.ID},
		{"_rev", r.Rev},
		{"created_at", r.CreatedAt},
		{"updated_at", r.UpdatedAt},
		{"appVersionsWhenModified", r.AppVersionsWhenModified},
		{"related", r.Related},
		{"utterance", r.Utterance},
		{"morphemes", r.Morphemes},
		{"gloss", r.Gloss},
		{"translation", r.Translation},
		{"orthography", r.Orthography},
		{"context", r.Context},
		{"tags", r.Tags},
		{"validationStatus", r.ValidationStatus},
		{"enteredByUser", r.EnteredByUser},
		{"modifiedByUser", r.ModifiedByUser},
		{"comments", r.Comments},
		{"images", r.Images},
		{"audioVideo", r.AudioVideo},
	}

	var missing []string
	for _, f := range fields {
		if f.value == nil {
			missing = append(missing, f.name)
		}
	}

	return missing
}

// processRow reconciles one view row. Malformed rows are skipped, never
// fatal: a bad row from the server must not block the rest of the sample
// set. Media download failures are fatal for the run so the host retries.
func (s *Syncer) processRow(ctx context.Context, raw json.RawMessage, seen map[string]string) (rowOutcome, error) {
	logger := logctx.LoggerFromContext(ctx)

	var row datumRow
	if err := json.Unmarshal(raw, &row); err != nil {
		logger.Warn("failed to decode sample row, most likely something was missing from the server", "err", err)

		return rowSkipped, nil
	}

	if missing := row.missingFields(); len(missing) > 0 {
		logger.Warn("sample row is missing required fields", "fields", strings.Join(missing, ","))

		return rowSkipped, nil
	}

	exists, err := s.datums.Exists(ctx, *row.ID)
	if err != nil {
		logger.Warn("failed to check datum store", "id", *row.ID, "err", err)

		return rowSkipped, nil
	}

	if exists {
		return rowExisting, nil
	}

	imageFiles, err := s.fetchMediaList(ctx, *row.Images, seen)
	if err != nil {
		return rowSkipped, err
	}

	audioVideoFiles, err := s.fetchMediaList(ctx, *row.AudioVideo, seen)
	if err != nil {
		return rowSkipped, err
	}

	inserted, err := s.datums.Insert(ctx, &storage.DatumRecord{
		ID:                      *row.ID,
		Rev:                     *row.Rev,
		CreatedAt:               *row.CreatedAt,
		UpdatedAt:               *row.UpdatedAt,
		AppVersionsWhenModified: *row.AppVersionsWhenModified,
		Related:                 *row.Related,
		Utterance:               *row.Utterance,
		Morphemes:               *row.Morphemes,
		Gloss:                   *row.Gloss,
		Translation:             *row.Translation,
		Orthography:             *row.Orthography,
		Context:                 *row.Context,
		Tags:                    *row.Tags,
		ValidationStatus:        *row.ValidationStatus,
		EnteredByUser:           *row.EnteredByUser,
		ModifiedByUser:          *row.ModifiedByUser,
		Comments:                *row.Comments,
		ImageFiles:              imageFiles,
		AudioVideoFiles:         audioVideoFiles,
	})
	if err != nil {
		logger.Warn("failed to insert sample row", "id", *row.ID, "err", err)

		return rowSkipped, nil
	}

	if !inserted {
		return rowExisting, nil
	}

	return rowInserted, nil
}

// fetchMediaList downloads every URL in a comma-delimited list and returns
// the corresponding comma-delimited filenames in input order. Blank entries
// are dropped; URLs already fetched this run reuse their filename.
func (s *Syncer) fetchMediaList(ctx context.Context, commaDelimited string, seen map[string]string) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	if strings.TrimSpace(commaDelimited) == "" {
		return "", nil
	}

	var filenames []string

	for _, rawURL := range strings.Split(commaDelimited, ",") {
		rawURL = strings.TrimSpace(rawURL)
		if rawURL == "" {
			logger.Debug("not requesting download of media file, it is a blank string")

			continue
		}

		rawURL = strings.ReplaceAll(rawURL, serverURLPlaceholder, s.dataServerURL)

		if filename, ok := seen[rawURL]; ok {
			filenames = append(filenames, filename)

			continue
		}

		s.bugs.PutContext("urlString", rawURL)

		var filename string

		err := s.telemetry.InstrumentMediaFetch(ctx, func(ctx context.Context) error {
			var fetchErr error
			filename, fetchErr = s.fetcher.FetchIfAbsent(ctx, rawURL)

			return fetchErr
		})
		if err != nil {
			return "", err
		}

		seen[rawURL] = filename
		filenames = append(filenames, filename)

		if err := s.activities.Append(ctx, &storage.ActivityRecord{
			Action:  "downloadMedia:::" + filename,
			Payload: "{}",
			Summary: downloadMediaSummary,
		}); err != nil {
			logger.Warn("failed to record media activity", "filename", filename, "err", err)
		}
	}

	return strings.Join(filenames, ","), nil
}

// ensureOfflineSampleData seeds one datum and one media record into an empty
// store so the application has something to show without a network. It makes
// no network calls.
func (s *Syncer) ensureOfflineSampleData(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)

	count, err := s.datums.Count(ctx)
	if err != nil {
		s.bugs.Report(ctx, "*** datum count failed ***")

		return fmt.Errorf("failed to count datums: %w", err)
	}

	if count > 0 {
		return nil
	}

	if _, err := s.datums.Insert(ctx, &storage.DatumRecord{
		ID:          sampleDatumID,
		Morphemes:   "e'sig",
		Gloss:       "clam",
		Translation: "Clam",
		Orthography: "e'sig",
		Context:     " ",
	}); err != nil {
		return fmt.Errorf("failed to seed offline sample datum: %w", err)
	}

	if _, err := s.media.Register(ctx, &storage.MediaRecord{
		ID:       sampleImageName,
		Filename: sampleImageName,
		URL:      sampleImageURL,
	}); err != nil {
		return fmt.Errorf("failed to seed offline sample media: %w", err)
	}

	logger.Info("seeded offline sample data", "id", sampleDatumID)

	return nil
}
