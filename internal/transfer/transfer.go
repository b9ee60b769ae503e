package transfer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/fielddb/fieldsync/internal/logctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const sessionCookieName = "AuthSession"

// Part is one ordered field of a multipart request. FilePath, when set, makes
// the part a file part streamed from disk; otherwise Value is sent verbatim.
type Part struct {
	Name     string
	Value    string
	FilePath string
}

// Client performs single authenticated HTTP exchanges against the remote
// server. Every method is exactly one network round trip; retry policy
// belongs to the caller.
type Client struct {
	httpClient *http.Client
	cookie     *http.Cookie // session cookie, pinned by Authenticate
}

type Option func(*Client)

// WithTimeout overrides the default request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithInsecureTLS skips certificate verification. Used with self-signed data
// servers in the field.
func WithInsecureTLS() Option {
	return func(c *Client) {
		c.httpClient.Transport = otelhttp.NewTransport(&http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		})
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{
			Timeout:   2 * time.Minute,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Authenticate opens a session with the data server and pins the session
// cookie for every later call made through this client. It is invoked once
// per orchestrator run.
func (c *Client) Authenticate(ctx context.Context, sessionURL, username, password string) error {
	logger := logctx.LoggerFromContext(ctx).With("method", "session.login")

	payload, err := json.Marshal(map[string]string{"name": username, "password": password})
	if err != nil {
		return &AuthenticationError{Operation: "session.login", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sessionURL, bytes.NewReader(payload))
	if err != nil {
		return &AuthenticationError{Operation: "session.login", Err: err}
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &AuthenticationError{Operation: "session.login", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		logger.Error("non-2xx session response", "status", resp.StatusCode, "body", string(b))

		return &AuthenticationError{
			Operation: "session.login",
			Err:       fmt.Errorf("server replied %d", resp.StatusCode),
		}
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == sessionCookieName {
			c.cookie = cookie
		}
	}

	if c.cookie == nil {
		return &AuthenticationError{
			Operation: "session.login",
			Err:       fmt.Errorf("no %s cookie in response", sessionCookieName),
		}
	}

	logger.Debug("session established")

	return nil
}

// Fetch performs one GET and returns the full response body.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	body, _, err := c.FetchStream(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	b, err := io.ReadAll(body)
	if err != nil {
		return nil, &ReadError{URL: rawURL, Err: err}
	}

	return b, nil
}

// FetchStream performs one GET and returns the response body as a stream
// together with the final request URL, which differs from rawURL when the
// server redirected.
func (c *Client) FetchStream(ctx context.Context, rawURL string) (io.ReadCloser, *url.URL, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, nil, &URLResolutionError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, &URLResolutionError{URL: rawURL, Err: err}
	}

	c.addSessionCookie(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, &ConnectError{URL: rawURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body.Close()

		return nil, nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Body: string(b)}
	}

	return resp.Body, resp.Request.URL, nil
}

// PostMultipart performs one multipart POST with the parts in the given
// order and returns the full response body.
func (c *Client) PostMultipart(ctx context.Context, rawURL string, parts []Part) ([]byte, error) {
	if _, err := url.ParseRequestURI(rawURL); err != nil {
		return nil, &URLResolutionError{URL: rawURL, Err: err}
	}

	var buf bytes.Buffer

	writer := multipart.NewWriter(&buf)
	if err := writeParts(writer, parts); err != nil {
		return nil, &WriteError{URL: rawURL, Err: err}
	}

	if err := writer.Close(); err != nil {
		return nil, &WriteError{URL: rawURL, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, &buf)
	if err != nil {
		return nil, &URLResolutionError{URL: rawURL, Err: err}
	}

	req.Header.Set("Content-Type", writer.FormDataContentType())
	c.addSessionCookie(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ConnectError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ReadError{URL: rawURL, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{URL: rawURL, StatusCode: resp.StatusCode, Body: truncate(body, 512)}
	}

	return body, nil
}

func (c *Client) addSessionCookie(req *http.Request) {
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
}

func writeParts(writer *multipart.Writer, parts []Part) error {
	for _, part := range parts {
		if part.FilePath == "" {
			if err := writer.WriteField(part.Name, part.Value); err != nil {
				return fmt.Errorf("failed to write field %s: %w", part.Name, err)
			}

			continue
		}

		file, err := os.Open(part.FilePath)
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", part.FilePath, err)
		}

		fw, err := writer.CreateFormFile(part.Name, filepath.Base(part.FilePath))
		if err != nil {
			file.Close()

			return fmt.Errorf("failed to create file part %s: %w", part.Name, err)
		}

		if _, err := io.Copy(fw, file); err != nil {
			file.Close()

			return fmt.Errorf("failed to copy file part %s: %w", part.Name, err)
		}

		file.Close()
	}

	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}

	return string(b[:n])
}
