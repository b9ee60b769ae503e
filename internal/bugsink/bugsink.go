// Package bugsink forwards non-fatal errors, together with the contextual
// key/values collected during a run, to a crash-report endpoint.
package bugsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fielddb/fieldsync/internal/logctx"
)

type Reporter interface {
	// PutContext records a key/value that will be attached to later reports.
	PutContext(key, value string)
	// Report sends the message plus all recorded context.
	Report(ctx context.Context, message string)
}

// HTTPReporter PUTs reports to an endpoint with basic auth.
type HTTPReporter struct {
	url      string
	username string
	password string
	client   *http.Client

	mu     sync.Mutex
	fields map[string]string
}

func NewHTTPReporter(url, username, password string) *HTTPReporter {
	return &HTTPReporter{
		url:      url,
		username: username,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
		fields:   make(map[string]string),
	}
}

func (r *HTTPReporter) PutContext(key, value string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.fields[key] = value
}

func (r *HTTPReporter) Report(ctx context.Context, message string) {
	logger := logctx.LoggerFromContext(ctx)

	r.mu.Lock()
	payload := make(map[string]string, len(r.fields)+2)
	for k, v := range r.fields {
		payload[k] = v
	}
	r.mu.Unlock()

	payload["message"] = message
	payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)

	if err := r.send(ctx, payload); err != nil {
		// Reporting is best effort; a failed report must never fail the run.
		logger.Warn("failed to send bug report", "err", err)
	}
}

func (r *HTTPReporter) send(ctx context.Context, payload map[string]string) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, r.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(r.username, r.password)

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("report endpoint replied %d", resp.StatusCode)
	}

	return nil
}

// NopReporter discards everything. Used when no report endpoint is configured.
type NopReporter struct{}

func (NopReporter) PutContext(key, value string)           {}
func (NopReporter) Report(ctx context.Context, msg string) {}
