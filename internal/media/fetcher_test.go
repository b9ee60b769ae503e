package media

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fielddb/fieldsync/internal/storage"
	"github.com/fielddb/fieldsync/internal/transfer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStreamClient struct {
	calls int
	body  string
	err   error
	final *url.URL
}

func (c *fakeStreamClient) FetchStream(ctx context.Context, rawURL string) (io.ReadCloser, *url.URL, error) {
	c.calls++

	if c.err != nil {
		return nil, nil, c.err
	}

	final := c.final
	if final == nil {
		final, _ = url.Parse(rawURL)
	}

	return io.NopCloser(strings.NewReader(c.body)), final, nil
}

type fakeMediaRepo struct {
	records map[string]*storage.MediaRecord
}

func newFakeMediaRepo() *fakeMediaRepo {
	return &fakeMediaRepo{records: make(map[string]*storage.MediaRecord)}
}

func (r *fakeMediaRepo) ExistsByFilename(_ context.Context, filename string) (bool, error) {
	_, ok := r.records[filename]

	return ok, nil
}

func (r *fakeMediaRepo) Register(_ context.Context, media *storage.MediaRecord) (bool, error) {
	if _, ok := r.records[media.Filename]; ok {
		return false, nil
	}

	r.records[media.Filename] = media

	return true, nil
}

func TestFilename(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		want    string
		wantErr bool
	}{
		{name: "plain", url: "https://speech.example.org/community-georgian/gamardZoba.jpg", want: "gamardZoba.jpg"},
		{name: "with query", url: "https://speech.example.org/a/b.mp3?sig=x", want: "b.mp3"},
		{name: "no segment", url: "https://speech.example.org/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Filename(tt.url)
			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchIfAbsent_DownloadsAndRegisters(t *testing.T) {
	dir := t.TempDir()
	client := &fakeStreamClient{body: "jpeg-bytes"}
	repo := newFakeMediaRepo()

	fetcher := NewFetcher(client, repo, dir)

	filename, err := fetcher.FetchIfAbsent(context.Background(), "https://speech.example.org/corpus/gamardZoba.jpg")
	require.NoError(t, err)
	assert.Equal(t, "gamardZoba.jpg", filename)
	assert.Equal(t, 1, client.calls)

	content, err := os.ReadFile(filepath.Join(dir, "gamardZoba.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "jpeg-bytes", string(content))

	_, registered := repo.records["gamardZoba.jpg"]
	assert.True(t, registered)
}

func TestFetchIfAbsent_SkipsExistingFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gamardZoba.jpg"), []byte("already here"), 0o644))

	client := &fakeStreamClient{body: "new-bytes"}
	repo := newFakeMediaRepo()

	fetcher := NewFetcher(client, repo, dir)

	filename, err := fetcher.FetchIfAbsent(context.Background(), "https://mirror.example.org/other/gamardZoba.jpg")
	require.NoError(t, err)
	assert.Equal(t, "gamardZoba.jpg", filename)
	assert.Equal(t, 0, client.calls, "an existing filename must short-circuit the network call")

	content, err := os.ReadFile(filepath.Join(dir, "gamardZoba.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "already here", string(content), "existing file is never overwritten")
}

func TestFetchIfAbsent_FailureLeavesNoPartialFile(t *testing.T) {
	dir := t.TempDir()
	client := &fakeStreamClient{err: &transfer.ConnectError{URL: "https://x", Err: errors.New("refused")}}
	repo := newFakeMediaRepo()

	fetcher := NewFetcher(client, repo, dir)

	_, err := fetcher.FetchIfAbsent(context.Background(), "https://speech.example.org/corpus/esig.mp3")
	require.Error(t, err)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial file may remain after a failed fetch")

	assert.Empty(t, repo.records, "no table entry may remain after a failed fetch")
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

type failingBody struct{ failingReader }

func (failingBody) Close() error { return nil }

type midStreamFailClient struct{}

func (midStreamFailClient) FetchStream(_ context.Context, rawURL string) (io.ReadCloser, *url.URL, error) {
	final, _ := url.Parse(rawURL)

	return failingBody{}, final, nil
}

func TestFetchIfAbsent_MidStreamFailureCleansUp(t *testing.T) {
	dir := t.TempDir()
	repo := newFakeMediaRepo()

	fetcher := NewFetcher(midStreamFailClient{}, repo, dir)

	_, err := fetcher.FetchIfAbsent(context.Background(), "https://speech.example.org/corpus/esig.mp3")
	require.Error(t, err)

	var readErr *transfer.ReadError
	require.True(t, errors.As(err, &readErr))

	entries, readDirErr := os.ReadDir(dir)
	require.NoError(t, readDirErr)
	assert.Empty(t, entries)
}
