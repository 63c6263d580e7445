// Package collyfetcher implements the plain HTTP fetch engine using gocolly.
package collyfetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/blockdetect"
	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

// Config controls fetch behavior.
type Config struct {
	// UserAgent pins one agent; empty rotates the built-in pool per request.
	UserAgent string
	Timeout   time.Duration
	// MaxAttempts bounds the retry loop, including the first attempt.
	MaxAttempts int
	// Delay is the politeness pause after a successful fetch; up to 2s of
	// jitter is added.
	Delay       time.Duration
	InsecureTLS bool
}

// Engine implements monitor.Fetcher over plain HTTP with retries, identity
// rotation, and anti-bot detection.
type Engine struct {
	cfg      Config
	base     *colly.Collector
	detector *blockdetect.Detector
	identity *identity
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds an Engine. A nil detector or logger falls back to defaults.
func New(cfg Config, detector *blockdetect.Detector, logger *zap.Logger) *Engine {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if detector == nil {
		detector = blockdetect.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// Retries and recurring rounds revisit the same listing URLs; the
	// visited-URL store is shared across Clone().
	c.AllowURLRevisit = true
	c.WithTransport(newHTTPTransport(cfg.InsecureTLS))

	return &Engine{
		cfg:      cfg,
		base:     c,
		detector: detector,
		identity: newIdentity(cfg.UserAgent, time.Now().UnixNano()),
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Fetch retrieves one URL, retrying transient failures with exponential
// backoff. 401/403 responses and anti-bot interstitials are terminal: the
// portal has identified the client, and hammering it makes the block worse.
func (e *Engine) Fetch(ctx context.Context, url string) (monitor.FetchResult, error) {
	result := monitor.FetchResult{URL: url, Outcome: monitor.OutcomeFailed}
	start := time.Now()

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("fetch canceled: %w", err)
		}
		result.Attempts = attempt

		body, status, err := e.attempt(ctx, url)
		result.StatusCode = status
		result.Duration = time.Since(start)

		switch {
		case err == nil && status < 300:
			if sig, blocked := e.detector.Match(body); blocked {
				e.logger.Warn("anti-bot signature detected",
					zap.String("url", url),
					zap.String("signature", sig),
				)
				result.Outcome = monitor.OutcomeBlocked
				result.BlockedBy = sig
				return result, nil
			}
			result.Outcome = monitor.OutcomeSuccess
			result.HTML = body
			if err := e.politenessPause(ctx); err != nil {
				return result, fmt.Errorf("politeness wait: %w", err)
			}
			return result, nil

		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			e.logger.Warn("access denied, not retrying",
				zap.String("url", url),
				zap.Int("status", status),
			)
			result.Outcome = monitor.OutcomeDenied
			return result, nil

		default:
			e.logger.Warn("fetch attempt failed",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.Int("status", status),
				zap.Error(err),
			)
		}

		if attempt < e.cfg.MaxAttempts {
			if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
				return result, fmt.Errorf("backoff wait: %w", err)
			}
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

func (e *Engine) attempt(ctx context.Context, url string) (string, int, error) {
	collector := e.base.Clone()
	collector.UserAgent = e.identity.userAgent()
	collector.SetRequestTimeout(e.cfg.Timeout)

	var (
		body     string
		status   int
		fetchErr error
	)
	headers := browserHeaders()
	collector.OnRequest(func(r *colly.Request) {
		for key, values := range headers {
			for _, v := range values {
				r.Headers.Set(key, v)
			}
		}
	})
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = string(r.Body)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
			body = string(r.Body)
		}
		fetchErr = err
	})

	done := make(chan struct{})
	go func() {
		if err := collector.Visit(url); err != nil && fetchErr == nil {
			fetchErr = err
		}
		close(done)
	}()

	select {
	case <-ctx.Done():
		return "", 0, fmt.Errorf("visit canceled: %w", ctx.Err())
	case <-done:
		return body, status, fetchErr
	}
}

// backoff returns 2^attempt seconds plus up to one second of jitter.
func (e *Engine) backoff(attempt int) time.Duration {
	base := math.Pow(2, float64(attempt))
	return time.Duration((base + e.identity.jitter(1)) * float64(time.Second))
}

func (e *Engine) politenessPause(ctx context.Context) error {
	if e.cfg.Delay <= 0 {
		return nil
	}
	pause := e.cfg.Delay + time.Duration(e.identity.jitter(2)*float64(time.Second))
	return e.sleep(ctx, pause)
}

func newHTTPTransport(insecure bool) *http.Transport {
	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
	if insecure {
		// Many provincial portals serve expired or self-signed chains.
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return t
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
