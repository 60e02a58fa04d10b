// Package opensearch indexes history events as documents through the
// OpenSearch (or Elasticsearch) document API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/loykin/runvisor/internal/history"
)

// DefaultIndex receives events when the DSN names none.
const DefaultIndex = "runtime-history"

type Options struct {
	// URL is the cluster endpoint, e.g. http://localhost:9200.
	URL      string
	Index    string
	Username string
	Password string
	Timeout  time.Duration
}

type Sink struct {
	client *http.Client
	opts   Options
}

// document adds the @timestamp field dashboards sort on.
type document struct {
	Timestamp time.Time `json:"@timestamp"`
	history.Event
}

func New(opts Options) *Sink {
	if opts.Index == "" {
		opts.Index = DefaultIndex
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	opts.URL = strings.TrimRight(opts.URL, "/")
	return &Sink{client: &http.Client{Timeout: opts.Timeout}, opts: opts}
}

func (s *Sink) url() string {
	return s.opts.URL + "/" + s.opts.Index + "/_doc"
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(document{Timestamp: e.OccurredAt.UTC(), Event: e})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url(), bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.opts.Username != "" {
		req.SetBasicAuth(s.opts.Username, s.opts.Password)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("opensearch index %s: status %d: %s", s.opts.Index, resp.StatusCode, bytes.TrimSpace(msg))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
