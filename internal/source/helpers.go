package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

func newHTTPClient(timeout time.Duration) *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 5 * time.Second, KeepAlive: 60 * time.Second}).DialContext,
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: tr}
}

// getJSON fetches url and decodes the response body into out. Extra header
// pairs are applied to the request.
func getJSON(ctx context.Context, client *http.Client, url string, out any, headers ...string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// parseWhen parses provider timestamps in the formats seen in the wild:
// RFC3339 with offset, naive "2006-01-02 15:04:05" (interpreted as UTC),
// and bare dates. A bare date means an all-day event at midnight UTC.
func parseWhen(s string) (t time.Time, allDay bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false, fmt.Errorf("empty timestamp")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), false, nil
		}
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), false, nil
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC(), true, nil
	}
	return time.Time{}, false, fmt.Errorf("unsupported timestamp %q", s)
}

// inRange bounds events to the requested fetch window at day granularity,
// matching how the providers themselves take from/to as bare dates. The
// engine applies the exact window afterwards.
func inRange(t time.Time, from, to time.Time) bool {
	const day = 24 * time.Hour
	lo := from.UTC().Truncate(day)
	hi := to.UTC().Truncate(day).Add(day)
	return !t.Before(lo) && t.Before(hi)
}
