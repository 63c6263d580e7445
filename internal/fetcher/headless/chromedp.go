// Package headless implements the browser fetch engine on chromedp. One
// browser process is shared across all adapters and rounds; it is launched
// lazily on first use and lives until Shutdown.
package headless

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/blockdetect"
	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Masks the automation fingerprint that chromedp leaves on navigator.
const stealthScript = `Object.defineProperty(navigator, 'webdriver', {get: () => undefined});`

// Config controls the shared browser session.
type Config struct {
	UserAgent         string
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after DOM ready for scripts to fill
	// the listing.
	SettleDelay time.Duration
}

// Engine implements monitor.Fetcher with a single shared headless Chrome.
// Fetches are serialized: procurement portals tolerate one slow browser much
// better than parallel tabs.
type Engine struct {
	cfg      Config
	detector *blockdetect.Detector
	logger   *zap.Logger

	mu          sync.Mutex
	allocCtx    context.Context
	allocCancel context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	started     bool
	startErr    error
}

// New builds an Engine without launching a browser.
func New(cfg Config, detector *blockdetect.Detector, logger *zap.Logger) *Engine {
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	if detector == nil {
		detector = blockdetect.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, detector: detector, logger: logger}
}

// Fetch renders one URL in the shared browser. When the browser cannot be
// launched the outcome is OutcomeUnavailable so callers can fall back to the
// plain engine.
func (e *Engine) Fetch(ctx context.Context, url string) (monitor.FetchResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := monitor.FetchResult{URL: url, Attempts: 1, Outcome: monitor.OutcomeFailed}
	start := time.Now()

	if err := e.ensureBrowserLocked(); err != nil {
		e.logger.Warn("headless browser unavailable", zap.Error(err))
		result.Outcome = monitor.OutcomeUnavailable
		return result, nil
	}

	tabCtx, tabCancel := chromedp.NewContext(e.browserCtx)
	defer tabCancel()
	tabCtx, cancel := context.WithTimeout(tabCtx, e.cfg.NavigationTimeout)
	defer cancel()

	// Tie the tab to the caller so Stop interrupts navigation.
	go func() {
		select {
		case <-ctx.Done():
			tabCancel()
		case <-tabCtx.Done():
		}
	}()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(e.cfg.SettleDelay),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	result.Duration = time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return result, fmt.Errorf("headless fetch canceled: %w", ctx.Err())
		}
		e.logger.Warn("headless navigation failed", zap.String("url", url), zap.Error(err))
		return result, nil
	}

	if sig, blocked := e.detector.Match(html); blocked {
		result.Outcome = monitor.OutcomeBlocked
		result.BlockedBy = sig
		return result, nil
	}
	result.Outcome = monitor.OutcomeSuccess
	result.HTML = html
	result.StatusCode = 200
	return result, nil
}

func (e *Engine) ensureBrowserLocked() error {
	if e.started {
		return e.startErr
	}
	e.started = true

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("window-size", "1920,1080"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.UserAgent(e.cfg.UserAgent),
	)
	e.allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	e.browserCtx, e.browserStop = chromedp.NewContext(e.allocCtx)

	// Start the browser and install the stealth script for every new page.
	if err := chromedp.Run(e.browserCtx,
		chromedp.ActionFunc(func(ctx context.Context) error {
			if _, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx); err != nil {
				return fmt.Errorf("install stealth script: %w", err)
			}
			return emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx)
		}),
	); err != nil {
		e.startErr = fmt.Errorf("launch browser: %w", err)
		e.teardownLocked()
		return e.startErr
	}
	e.logger.Info("shared headless browser started")
	return nil
}

// Shutdown closes the shared browser. It is the only teardown path; adapters
// never close the browser themselves.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.started || e.startErr != nil {
		return
	}
	e.teardownLocked()
	e.started = false
	e.startErr = nil
	e.logger.Info("shared headless browser stopped")
}

func (e *Engine) teardownLocked() {
	if e.browserStop != nil {
		e.browserStop()
		e.browserStop = nil
		e.browserCtx = nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel = nil
		e.allocCtx = nil
	}
}
