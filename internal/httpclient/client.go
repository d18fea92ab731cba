package httpclient

import (
	"net/http"
	"time"

	"stagehand/internal/logging"
)

const defaultTimeout = 10 * time.Second

// New builds an HTTP client with a per-request timeout and a transport that
// logs request latency at debug level.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingRoundTripper{
			base:   http.DefaultTransport,
			logger: logging.OrNop(logger),
		},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start)
	if err != nil {
		t.logger.Debug("%s %s failed after %s: %v", req.Method, req.URL.Path, elapsed.Round(time.Millisecond), err)
		return nil, err
	}
	t.logger.Debug("%s %s -> %d in %s", req.Method, req.URL.Path, resp.StatusCode, elapsed.Round(time.Millisecond))
	return resp, nil
}
