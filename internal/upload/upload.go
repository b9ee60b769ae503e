// Package upload implements the audio/video push pipeline: a policy gate
// deciding whether a file should leave the device at all, a multipart POST
// to the speech server, and reconciliation of the server's verdict into the
// activity log.
package upload

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"

	"github.com/fielddb/fieldsync/internal/bugsink"
	"github.com/fielddb/fieldsync/internal/connectivity"
	"github.com/fielddb/fieldsync/internal/logctx"
	"github.com/fielddb/fieldsync/internal/storage"
	"github.com/fielddb/fieldsync/internal/telemetry"
	"github.com/fielddb/fieldsync/internal/transfer"
)

const (
	uploadSummary   = "*** Uploaded audio successfully ***"
	strangeResponse = "The server response is very strange, please report this."
)

// Request is one upload trigger.
type Request struct {
	// FilePath is the local recording to push.
	FilePath string
	// Username attributes the recording; empty falls back to the configured
	// default participant.
	Username string
	// DeviceDetails is opaque JSON describing the recording device, carried
	// into bug-report context only. It never goes on the wire.
	DeviceDetails string
}

// MultipartClient is the part of the transfer client the uploader needs.
type MultipartClient interface {
	PostMultipart(ctx context.Context, rawURL string, parts []transfer.Part) ([]byte, error)
}

// Uploader orchestrates one upload run end to end.
type Uploader struct {
	client     MultipartClient
	activities storage.ActivityRepository
	checker    connectivity.Checker
	bugs       bugsink.Reporter
	telemetry  *telemetry.Telemetry

	uploadURL       string
	token           string
	corpus          string
	defaultUsername string
	minSize         int64
	offline         bool
}

func NewUploader(
	client MultipartClient,
	activities storage.ActivityRepository,
	checker connectivity.Checker,
	bugs bugsink.Reporter,
	tel *telemetry.Telemetry,
	uploadURL string,
	token string,
	corpus string,
	defaultUsername string,
	minSize int64,
	offline bool,
) *Uploader {
	return &Uploader{
		client:          client,
		activities:      activities,
		checker:         checker,
		bugs:            bugs,
		telemetry:       tel,
		uploadURL:       uploadURL,
		token:           token,
		corpus:          corpus,
		defaultUsername: defaultUsername,
		minSize:         minSize,
		offline:         offline,
	}
}

// Run executes one upload cycle. The boolean reports whether an upload was
// attempted: a false/nil return means the policy gate declined the file,
// which is a silent no-op, not a failure. Any error is terminal for this
// invocation and safe to re-deliver.
func (u *Uploader) Run(ctx context.Context, req Request) (bool, error) {
	logger := logctx.LoggerFromContext(ctx)

	size, ok := u.shouldUpload(ctx, req)
	if !ok {
		return false, nil
	}

	username := req.Username
	if username == "" {
		username = u.defaultUsername
	}

	filename := filepath.Base(req.FilePath)

	u.bugs.PutContext("action", "uploadAudio")
	u.bugs.PutContext("urlString", u.uploadURL)
	u.bugs.PutContext("uploadAudio", filename)
	u.bugs.PutContext("username", username)
	if req.DeviceDetails != "" {
		u.bugs.PutContext("deviceDetails", req.DeviceDetails)
	}

	logger.Info("uploading audio", "filename", filename, "size", size, "username", username)

	err := u.telemetry.InstrumentOperation(ctx, "upload_run", "upload", func(ctx context.Context) error {
		return u.upload(ctx, req.FilePath, username)
	})

	status := "success"
	if err != nil {
		status = "error"

		u.bugs.Report(ctx, transfer.UserMessage(err))
	}

	if u.telemetry != nil {
		u.telemetry.RecordUpload(status, size)
	}

	return err == nil, err
}

// shouldUpload is the policy gate: debug/offline mode, a concrete path, an
// existing file of at least the minimum size, and the preferred network.
// Declines are expected and only logged.
func (u *Uploader) shouldUpload(ctx context.Context, req Request) (int64, bool) {
	logger := logctx.LoggerFromContext(ctx)

	if u.offline {
		logger.Debug("offline mode, not uploading audio/video file")

		return 0, false
	}

	if !u.checker.PreferredNetworkUp(ctx) {
		logger.Debug("not on the preferred network, not uploading audio/video file")

		return 0, false
	}

	if req.FilePath == "" {
		return 0, false
	}

	info, err := os.Stat(req.FilePath)
	if err != nil {
		logger.Debug("not uploading, file does not exist", "path", req.FilePath)

		return 0, false
	}

	if info.Size() < u.minSize {
		logger.Debug("not uploading, file was too small",
			"filename", filepath.Base(req.FilePath), "size", info.Size())

		return 0, false
	}

	return info.Size(), true
}

func (u *Uploader) upload(ctx context.Context, filePath, username string) error {
	parts := []transfer.Part{
		{Name: "videoFile", FilePath: filePath},
		{Name: "token", Value: u.token},
		{Name: "username", Value: username},
		{Name: "dbname", Value: u.corpus},
		{Name: "returnTextGrid", Value: "true"},
	}

	body, err := u.client.PostMultipart(ctx, u.uploadURL, parts)
	if err != nil {
		return err
	}

	return u.reconcile(ctx, body)
}

// reconcile interprets the server's verdict. userFriendlyErrors is
// authoritative even on a 200; a response without a files list is treated as
// corrupt. Only a clean verdict is recorded in the activity log.
func (u *Uploader) reconcile(ctx context.Context, body []byte) error {
	var verdict struct {
		UserFriendlyErrors *json.RawMessage `json:"userFriendlyErrors"`
		Files              *json.RawMessage `json:"files"`
	}
	if err := json.Unmarshal(body, &verdict); err != nil {
		return &transfer.ServerMessageError{Message: strangeResponse}
	}

	if verdict.UserFriendlyErrors != nil {
		return &transfer.ServerMessageError{Message: decodeServerMessage(*verdict.UserFriendlyErrors)}
	}

	if verdict.Files == nil {
		return &transfer.ServerMessageError{Message: strangeResponse}
	}

	return u.activities.Append(ctx, &storage.ActivityRecord{
		Action:  "uploadAudio",
		Payload: string(body),
		Summary: uploadSummary,
	})
}

// decodeServerMessage accepts the two shapes the server sends for
// userFriendlyErrors: a plain string or a list of strings.
func decodeServerMessage(raw json.RawMessage) string {
	var message string
	if err := json.Unmarshal(raw, &message); err == nil {
		return message
	}

	var messages []string
	if err := json.Unmarshal(raw, &messages); err == nil {
		return strings.Join(messages, " ")
	}

	return string(raw)
}
