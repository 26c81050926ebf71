package web

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/domain-mapper/internal/metrics"
)

const (
	defaultMaxBodyBytes = 5 << 20
	allowAllRobotsBody  = "User-agent: *\nAllow: /"
)

var defaultRobotsBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// siteTransport wraps the HTTP transport used for domain fetches. Page bodies
// are truncated at maxBody. A robots.txt request that keeps timing out is
// answered with an allow-all file: an unreachable robots file should not
// mark the whole domain as refused.
type siteTransport struct {
	base    http.RoundTripper
	backoff []time.Duration
	maxBody int64
	logger  *zap.Logger
}

func newSiteTransport(base http.RoundTripper, logger *zap.Logger) *siteTransport {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &siteTransport{
		base:    base,
		backoff: defaultRobotsBackoff,
		maxBody: defaultMaxBodyBytes,
		logger:  logger,
	}
}

func (t *siteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil || req.URL == nil {
		return nil, errors.New("site transport: request without url")
	}
	if strings.EqualFold(req.URL.Path, "/robots.txt") {
		return t.fetchRobots(req)
	}
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if t.maxBody > 0 && resp.Body != nil {
		resp.Body = &limitedBody{Reader: io.LimitReader(resp.Body, t.maxBody), closer: resp.Body}
	}
	return resp, nil
}

func (t *siteTransport) fetchRobots(req *http.Request) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= len(t.backoff); attempt++ {
		if attempt > 0 {
			if err := wait(req.Context(), t.backoff[attempt-1]); err != nil {
				return nil, fmt.Errorf("robots.txt backoff: %w", err)
			}
		}
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			return resp, nil
		}
		if !isHandshakeTimeout(err) {
			return nil, fmt.Errorf("fetch robots.txt: %w", err)
		}
		lastErr = err
	}
	t.logger.Warn("robots.txt unreachable, treating domain as allowed",
		zap.String("host", req.URL.Host),
		zap.Int("attempts", len(t.backoff)+1),
		zap.Error(lastErr),
	)
	metrics.ObserveRobotsFallback()
	return &http.Response{
		StatusCode:    http.StatusOK,
		Status:        "200 OK",
		Body:          io.NopCloser(strings.NewReader(allowAllRobotsBody)),
		ContentLength: int64(len(allowAllRobotsBody)),
		Header:        http.Header{"Content-Type": []string{"text/plain"}},
		Request:       req,
	}, nil
}

type limitedBody struct {
	io.Reader
	closer io.Closer
}

func (b *limitedBody) Close() error { return b.closer.Close() }

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func isHandshakeTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   4,
		IdleConnTimeout:       90 * time.Second,
	}
}
