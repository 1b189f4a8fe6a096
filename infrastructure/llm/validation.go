package llm

import (
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Temperature ceilings. Gemini and OpenAI accept up to 2, Anthropic up to 1.
const (
	maxTemperature          = 2.0
	anthropicMaxTemperature = 1.0
)

// Request timeouts outside this window are pulled to the nearest bound.
const (
	minRequestTimeout = time.Second
	maxRequestTimeout = 10 * time.Minute
)

// clampTemperature pins t to [0, ceiling].
func clampTemperature(t, ceiling float64) float64 {
	return max(0, min(t, ceiling))
}

// parseBaseURL checks that a configured endpoint override is an absolute
// http(s) URL and returns it in canonical form.
func parseBaseURL(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid BaseURL: %w", err)
	}
	switch {
	case u.Scheme != "http" && u.Scheme != "https":
		return "", fmt.Errorf("invalid BaseURL %q: scheme must be http or https", raw)
	case u.Host == "":
		return "", fmt.Errorf("invalid BaseURL %q: missing host", raw)
	}
	return u.String(), nil
}

// timeoutClient returns an HTTP client bounded by timeout, or nil when the
// vendor SDK default should be used.
func timeoutClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		return nil
	}
	return &http.Client{Timeout: max(minRequestTimeout, min(timeout, maxRequestTimeout))}
}
