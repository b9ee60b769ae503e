package media

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/fielddb/fieldsync/internal/logctx"
	"github.com/fielddb/fieldsync/internal/media/progress"
	"github.com/fielddb/fieldsync/internal/storage"
	"github.com/fielddb/fieldsync/internal/transfer"
)

const dirPerm = 0755

// progressInterval is how many bytes go by between progress log lines.
const progressInterval = int64(5 * 1024 * 1024)

// StreamClient is the part of the transfer client the fetcher needs.
type StreamClient interface {
	FetchStream(ctx context.Context, rawURL string) (io.ReadCloser, *url.URL, error)
}

// Fetcher downloads media artifacts to the output directory and registers
// them in the media table. Dedup is by filename (the URL's last path
// segment), not by URL: two URLs sharing a final segment are treated as the
// same artifact.
type Fetcher struct {
	client    StreamClient
	media     storage.MediaRepository
	outputDir string
}

func NewFetcher(client StreamClient, media storage.MediaRepository, outputDir string) *Fetcher {
	return &Fetcher{
		client:    client,
		media:     media,
		outputDir: outputDir,
	}
}

// Filename resolves the local filename for a media URL: its last path segment.
func Filename(rawURL string) (string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "", &transfer.URLResolutionError{URL: rawURL, Err: err}
	}

	filename := path.Base(parsed.Path)
	if filename == "." || filename == "/" || filename == "" {
		return "", &transfer.URLResolutionError{URL: rawURL, Err: fmt.Errorf("no path segment")}
	}

	return filename, nil
}

// FetchIfAbsent downloads the artifact unless a file with its name already
// exists in the output directory, then registers it in the media table. It
// returns the resolved filename either way. A failed download leaves no
// partial file and no table entry.
func (f *Fetcher) FetchIfAbsent(ctx context.Context, rawURL string) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	filename, err := Filename(rawURL)
	if err != nil {
		return "", err
	}

	targetPath := filepath.Join(f.outputDir, filename)

	if _, err := os.Stat(targetPath); err == nil {
		logger.Debug("not re-requesting media, a file with this name already exists",
			"filename", filename, "url", rawURL)

		return filename, f.register(ctx, filename, rawURL)
	}

	if err := os.MkdirAll(f.outputDir, dirPerm); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}

	if err := f.download(ctx, rawURL, filename, targetPath); err != nil {
		return "", err
	}

	return filename, f.register(ctx, filename, rawURL)
}

func (f *Fetcher) download(ctx context.Context, rawURL, filename, targetPath string) error {
	logger := logctx.LoggerFromContext(ctx)

	body, finalURL, err := f.client.FetchStream(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()

	if requested, parseErr := url.Parse(rawURL); parseErr == nil && finalURL != nil && requested.Host != finalURL.Host {
		logger.Warn("media request was redirected to another host",
			"requested_host", requested.Host, "final_host", finalURL.Host)
	}

	// Write to a temp file in the same directory and rename on success, so a
	// failed or cancelled fetch never leaves a half-written artifact under
	// the final name.
	tmp, err := os.CreateTemp(f.outputDir, filename+".part-*")
	if err != nil {
		return &transfer.WriteError{URL: rawURL, Err: err}
	}

	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	progressCb := func(written int64, total int64) {
		logger.Debug("media download progress",
			"filename", filename,
			"downloaded", humanize.Bytes(uint64(written)))
	}
	pr := progress.NewReader(body, -1, progressInterval, progressCb)

	if _, err := io.Copy(tmp, pr); err != nil {
		cleanup()

		return &transfer.ReadError{URL: rawURL, Err: err}
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)

		return &transfer.WriteError{URL: rawURL, Err: err}
	}

	if err := os.Rename(tmpPath, targetPath); err != nil {
		os.Remove(tmpPath)

		return &transfer.WriteError{URL: rawURL, Err: err}
	}

	logger.Info("downloaded and saved media file", "filename", filename, "target", targetPath)

	return nil
}

func (f *Fetcher) register(ctx context.Context, filename, rawURL string) error {
	exists, err := f.media.ExistsByFilename(ctx, filename)
	if err != nil {
		return fmt.Errorf("failed to check media table: %w", err)
	}

	if exists {
		return nil
	}

	if _, err := f.media.Register(ctx, &storage.MediaRecord{
		ID:       filename,
		Filename: filename,
		URL:      rawURL,
	}); err != nil {
		return fmt.Errorf("failed to register media: %w", err)
	}

	return nil
}
