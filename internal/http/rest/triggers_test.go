package rest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/fielddb/fieldsync/internal/storage"
	"github.com/fielddb/fieldsync/internal/sync"
	"github.com/fielddb/fieldsync/internal/upload"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeDispatcher struct {
	err     error
	syncs   []sync.Request
	uploads []upload.Request
}

func (d *fakeDispatcher) DispatchSync(req sync.Request) error {
	if d.err != nil {
		return d.err
	}

	d.syncs = append(d.syncs, req)

	return nil
}

func (d *fakeDispatcher) DispatchUpload(req upload.Request) error {
	if d.err != nil {
		return d.err
	}

	d.uploads = append(d.uploads, req)

	return nil
}

type fakeActivityLog struct {
	records []storage.ActivityRecord
	err     error
}

func (f *fakeActivityLog) Recent(ctx context.Context, limit int) ([]storage.ActivityRecord, error) {
	if f.err != nil {
		return nil, f.err
	}

	if limit < len(f.records) {
		return f.records[:limit], nil
	}

	return f.records, nil
}

func newTestServer(dispatcher *fakeDispatcher, log *fakeActivityLog) *httptest.Server {
	h := NewTriggerHandler("admin", "hunter2", dispatcher, log, nil)

	return httptest.NewServer(h.Routes())
}

func do(t *testing.T, method, url, body string, authed bool) *http.Response {
	t.Helper()

	req, err := http.NewRequest(method, url, strings.NewReader(body))
	require.NoError(t, err)

	if authed {
		req.SetBasicAuth("admin", "hunter2")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func TestTriggers_RequireBasicAuth(t *testing.T) {
	srv := newTestServer(&fakeDispatcher{}, &fakeActivityLog{})
	defer srv.Close()

	for _, path := range []string{"/v1/sync", "/v1/uploads"} {
		resp := do(t, http.MethodPost, srv.URL+path, `{}`, false)
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, path)
	}

	resp := do(t, http.MethodGet, srv.URL+"/v1/activities", "", false)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestTriggers_WrongPasswordRejected(t *testing.T) {
	srv := newTestServer(&fakeDispatcher{}, &fakeActivityLog{})
	defer srv.Close()

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/sync", strings.NewReader(`{}`))
	require.NoError(t, err)
	req.SetBasicAuth("admin", "wrong")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHealth_NoAuthNeeded(t *testing.T) {
	srv := newTestServer(&fakeDispatcher{}, &fakeActivityLog{})
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/healthz", "", false)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandleSync_DispatchesOverrides(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	srv := newTestServer(dispatcher, &fakeActivityLog{})
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/v1/sync",
		`{"url":"https://corpus.example.org/custom","connectivity":"any"}`, true)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, dispatcher.syncs, 1)
	assert.Equal(t, "https://corpus.example.org/custom", dispatcher.syncs[0].URL)
	assert.Equal(t, "any", dispatcher.syncs[0].Connectivity)
}

func TestHandleSync_EmptyBodyUsesDefaults(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	srv := newTestServer(dispatcher, &fakeActivityLog{})
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/v1/sync", `{}`, true)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, dispatcher.syncs, 1)
	assert.Equal(t, sync.Request{}, dispatcher.syncs[0])
}

func TestHandleUpload_RequiresFilePath(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	srv := newTestServer(dispatcher, &fakeActivityLog{})
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/v1/uploads", `{"username":"sapir"}`, true)

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, dispatcher.uploads)
}

func TestHandleUpload_Dispatches(t *testing.T) {
	dispatcher := &fakeDispatcher{}
	srv := newTestServer(dispatcher, &fakeActivityLog{})
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/v1/uploads",
		`{"filePath":"/data/recording.3gp","username":"sapir","deviceDetails":"{\"model\":\"pixel\"}"}`, true)

	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, dispatcher.uploads, 1)
	assert.Equal(t, "/data/recording.3gp", dispatcher.uploads[0].FilePath)
	assert.Equal(t, "sapir", dispatcher.uploads[0].Username)
}

func TestTriggers_FullQueueIs503(t *testing.T) {
	dispatcher := &fakeDispatcher{err: ErrBusy}
	srv := newTestServer(dispatcher, &fakeActivityLog{})
	defer srv.Close()

	resp := do(t, http.MethodPost, srv.URL+"/v1/sync", `{}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp = do(t, http.MethodPost, srv.URL+"/v1/uploads", `{"filePath":"/data/recording.3gp"}`, true)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleActivities_ReturnsRecent(t *testing.T) {
	log := &fakeActivityLog{records: []storage.ActivityRecord{
		{ID: "a1", Action: "downloadDatums:::SampleData"},
		{ID: "a2", Action: "uploadAudio"},
	}}
	srv := newTestServer(&fakeDispatcher{}, log)
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/v1/activities?limit=1", "", true)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestHandleActivities_InvalidLimit(t *testing.T) {
	srv := newTestServer(&fakeDispatcher{}, &fakeActivityLog{})
	defer srv.Close()

	resp := do(t, http.MethodGet, srv.URL+"/v1/activities?limit=zero", "", true)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
