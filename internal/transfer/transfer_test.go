package transfer

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetch_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		w.Write([]byte(`{"rows":[]}`))
	}))
	defer srv.Close()

	client := NewClient()

	body, err := client.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.JSONEq(t, `{"rows":[]}`, string(body))
}

func TestFetch_MalformedURL(t *testing.T) {
	client := NewClient()

	_, err := client.Fetch(context.Background(), "not a url")
	require.Error(t, err)

	var urlErr *URLResolutionError
	require.True(t, errors.As(err, &urlErr))
}

func TestFetch_NonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusGone)
	}))
	defer srv.Close()

	client := NewClient()

	_, err := client.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusGone, statusErr.StatusCode)
}

func TestFetch_ConnectFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // nothing listening anymore

	client := NewClient()

	_, err := client.Fetch(context.Background(), srv.URL)
	require.Error(t, err)

	var connectErr *ConnectError
	require.True(t, errors.As(err, &connectErr))
}

func TestAuthenticate_PinsSessionCookie(t *testing.T) {
	var sawCookie bool

	mux := http.NewServeMux()
	mux.HandleFunc("/_session", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "AuthSession", Value: "abc123"})
		w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/data", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("AuthSession"); err == nil && c.Value == "abc123" {
			sawCookie = true
		}
		w.Write([]byte("{}"))
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient()

	require.NoError(t, client.Authenticate(context.Background(), srv.URL+"/_session", "public", "none"))

	_, err := client.Fetch(context.Background(), srv.URL+"/data")
	require.NoError(t, err)
	assert.True(t, sawCookie, "session cookie should ride on every later call")
}

func TestAuthenticate_NoCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewClient()

	err := client.Authenticate(context.Background(), srv.URL, "public", "none")
	require.Error(t, err)

	var authErr *AuthenticationError
	require.True(t, errors.As(err, &authErr))
}

func TestPostMultipart_FieldOrderAndFile(t *testing.T) {
	dir := t.TempDir()
	filePath := filepath.Join(dir, "recording.3gp")
	require.NoError(t, os.WriteFile(filePath, []byte("audio-bytes"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "abc", r.FormValue("token"))
		assert.Equal(t, "default", r.FormValue("username"))

		file, header, err := r.FormFile("videoFile")
		require.NoError(t, err)
		defer file.Close()

		assert.Equal(t, "recording.3gp", header.Filename)

		w.Write([]byte(`{"files":["recording.TextGrid"]}`))
	}))
	defer srv.Close()

	client := NewClient()

	body, err := client.PostMultipart(context.Background(), srv.URL, []Part{
		{Name: "videoFile", FilePath: filePath},
		{Name: "token", Value: "abc"},
		{Name: "username", Value: "default"},
	})
	require.NoError(t, err)
	assert.Contains(t, string(body), "files")
}

func TestPostMultipart_MissingFile(t *testing.T) {
	client := NewClient()

	_, err := client.PostMultipart(context.Background(), "https://example.org/upload", []Part{
		{Name: "videoFile", FilePath: "/does/not/exist.3gp"},
	})
	require.Error(t, err)

	var writeErr *WriteError
	require.True(t, errors.As(err, &writeErr))
}
