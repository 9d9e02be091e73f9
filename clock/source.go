package clock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// HTTPSource reads the trusted time from an endpoint answering
// {"timestamp": <unix milliseconds | RFC3339 string>}.
type HTTPSource struct {
	URL    string
	Client *http.Client
}

// NewHTTPSource creates a source with a short request timeout.
func NewHTTPSource(url string) *HTTPSource {
	return &HTTPSource{
		URL:    url,
		Client: &http.Client{Timeout: 5 * time.Second},
	}
}

type timeResponse struct {
	Timestamp json.RawMessage `json:"timestamp"`
}

// Fetch implements Source.
func (s *HTTPSource) Fetch(ctx context.Context) (time.Time, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build time request: %w", err)
	}

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("request server time: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return time.Time{}, fmt.Errorf("time source returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return time.Time{}, fmt.Errorf("read time response: %w", err)
	}

	var tr timeResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return time.Time{}, fmt.Errorf("decode time response: %w", err)
	}
	return parseTimestamp(tr.Timestamp)
}

func parseTimestamp(raw json.RawMessage) (time.Time, error) {
	value := strings.TrimSpace(string(raw))
	if value == "" || value == "null" {
		return time.Time{}, fmt.Errorf("time response has no timestamp")
	}

	if strings.HasPrefix(value, `"`) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("decode timestamp string: %w", err)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		return t.UTC(), nil
	}

	ms, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %s: %w", value, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
