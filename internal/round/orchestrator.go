// Package round runs monitoring rounds: fetch every enabled source, filter
// and store new records, and dispatch notifications. It also owns the
// periodic scheduling loop.
package round

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/clock/system"
	"github.com/evergrid-labs/bidwatch/internal/matcher"
	"github.com/evergrid-labs/bidwatch/internal/metrics"
	"github.com/evergrid-labs/bidwatch/internal/monitor"
	"github.com/evergrid-labs/bidwatch/internal/source"
)

// Control-surface errors.
var (
	ErrRoundInFlight  = errors.New("a monitoring round is already running")
	ErrAlreadyRunning = errors.New("monitor loop is already running")
	ErrNotRunning     = errors.New("monitor loop is not running")
)

// Dispatcher fans pending records out to contacts.
type Dispatcher interface {
	Dispatch(ctx context.Context, contacts []monitor.Contact) ([]monitor.DispatchOutcome, error)
}

// Settings is the mutable monitoring configuration. The control surface can
// swap it between rounds; a running round keeps the settings it started with.
type Settings struct {
	Interval     time.Duration
	Policy       monitor.MatchPolicy
	UseBrowser   bool
	EnabledSites []string
	CustomSites  []monitor.Site
	Contacts     []monitor.Contact
}

// Orchestrator coordinates rounds and the scheduling loop.
type Orchestrator struct {
	state      *monitor.RoundState
	store      monitor.RecordStore
	fetcher    monitor.Fetcher
	browser    monitor.Fetcher
	guard      monitor.Guard
	dispatcher Dispatcher
	clock      monitor.Clock
	logger     *zap.Logger

	// onProgress is invoked after each adapter finishes, for UIs polling
	// round progress.
	onProgress func(monitor.Progress)

	// adapters builds the adapter list for one round; replaced in tests.
	adapters func(s Settings) []monitor.SourceAdapter

	mu          sync.Mutex
	settings    Settings
	loopCancel  context.CancelFunc
	loopDone    chan struct{}
	roundCancel context.CancelFunc
}

// Options wires the orchestrator's collaborators.
type Options struct {
	Store      monitor.RecordStore
	Fetcher    monitor.Fetcher
	Browser    monitor.Fetcher
	Guard      monitor.Guard
	Dispatcher Dispatcher
	Clock      monitor.Clock
	Logger     *zap.Logger
	OnProgress func(monitor.Progress)
}

// New builds an Orchestrator.
func New(settings Settings, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = system.New()
	}
	o := &Orchestrator{
		state:      monitor.NewRoundState(),
		store:      opts.Store,
		fetcher:    opts.Fetcher,
		browser:    opts.Browser,
		guard:      opts.Guard,
		dispatcher: opts.Dispatcher,
		clock:      clock,
		logger:     logger,
		onProgress: opts.OnProgress,
		settings:   settings,
	}
	o.adapters = o.buildAdapters
	return o
}

// Settings returns a copy of the current settings.
func (o *Orchestrator) Settings() Settings {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.settings
}

// UpdateSettings swaps the monitoring configuration. It takes effect at the
// next round.
func (o *Orchestrator) UpdateSettings(s Settings) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.settings = s
}

// Status reports the live round state.
func (o *Orchestrator) Status() monitor.StateSnapshot {
	return o.state.Snapshot(o.clock.Now())
}

// Start launches the periodic monitoring loop. The first round begins
// immediately.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	if o.loopCancel != nil {
		o.mu.Unlock()
		return ErrAlreadyRunning
	}
	ctx, cancel := context.WithCancel(context.Background())
	o.loopCancel = cancel
	o.loopDone = make(chan struct{})
	done := o.loopDone
	o.mu.Unlock()

	o.state.SetRunning(true)
	go o.loop(ctx, done)
	return nil
}

// Stop cancels the loop and any in-flight round, including rounds started
// manually via RunOnce, then waits for the loop to exit. The round stops at
// the next adapter boundary; records already stored stay stored.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	cancel := o.loopCancel
	done := o.loopDone
	roundCancel := o.roundCancel
	o.loopCancel = nil
	o.loopDone = nil
	o.mu.Unlock()

	if cancel == nil && roundCancel == nil {
		return ErrNotRunning
	}
	if roundCancel != nil {
		roundCancel()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	o.state.SetRunning(false)
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		if _, err := o.RunRound(ctx); err != nil && !errors.Is(err, ErrRoundInFlight) {
			o.logger.Error("monitoring round failed", zap.Error(err))
		}
		if ctx.Err() != nil {
			return
		}

		// Next round is scheduled relative to completion, not start.
		interval := o.Settings().Interval
		next := o.clock.Now().Add(interval)
		o.state.SetNextRun(next)

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// RunOnce executes a single round outside the loop schedule.
func (o *Orchestrator) RunOnce(ctx context.Context) (monitor.RoundReport, error) {
	return o.RunRound(ctx)
}

// RunRound executes one monitoring round. Only one round runs at a time;
// concurrent calls fail fast with ErrRoundInFlight.
func (o *Orchestrator) RunRound(ctx context.Context) (monitor.RoundReport, error) {
	if !o.state.BeginTask() {
		return monitor.RoundReport{}, ErrRoundInFlight
	}
	// Stop() must reach manual rounds too, so the round carries its own
	// cancel alongside the caller's context.
	ctx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.roundCancel = cancel
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.roundCancel = nil
		o.mu.Unlock()
		cancel()
		o.state.EndTask(o.clock.Now())
	}()

	settings := o.Settings()
	pol := matcher.New(settings.Policy)
	adapters := o.adapters(settings)
	start := o.clock.Now()

	report := monitor.RoundReport{}
	for i, adapter := range adapters {
		// Cancellation is polled at adapter boundaries: a stop request
		// finishes the current site and goes no further.
		if ctx.Err() != nil {
			report.Interrupted = true
			break
		}

		added, err := o.runAdapter(ctx, adapter, pol, settings)
		// Records stored before an interruption still count and dispatch.
		report.NewRecords += added
		if err != nil {
			if ctx.Err() != nil {
				report.Interrupted = true
				break
			}
			o.logger.Warn("source adapter failed",
				zap.String("site", adapter.Name()),
				zap.Error(err),
			)
			report.AdaptersFailed = append(report.AdaptersFailed, adapter.Name())
		}
		report.AdaptersRun++

		progress := monitor.Progress{Current: i + 1, Total: len(adapters), Site: adapter.Name()}
		o.state.SetProgress(progress)
		if o.onProgress != nil {
			o.onProgress(progress)
		}
	}

	if report.NewRecords > 0 && o.dispatcher != nil {
		outcomes, err := o.dispatcher.Dispatch(ctx, settings.Contacts)
		if err != nil {
			o.logger.Error("notification dispatch failed", zap.Error(err))
		}
		for _, out := range outcomes {
			result := "ok"
			if out.Err != "" {
				result = "error"
			}
			metrics.ObserveNotification(out.Channel, result)
		}
	}

	report.Duration = o.clock.Now().Sub(start)
	result := "ok"
	if report.Interrupted {
		result = "interrupted"
	} else if len(report.AdaptersFailed) > 0 {
		result = "partial"
	}
	metrics.ObserveRound(result, report.Duration)
	o.logger.Info("monitoring round finished",
		zap.Int("new_records", report.NewRecords),
		zap.Int("adapters_run", report.AdaptersRun),
		zap.Strings("adapters_failed", report.AdaptersFailed),
		zap.Bool("interrupted", report.Interrupted),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

// runAdapter fetches and processes every listing page of one source. It
// returns how many new records were stored. An error means every page of the
// source failed.
func (o *Orchestrator) runAdapter(ctx context.Context, adapter monitor.SourceAdapter, pol *matcher.Matcher, settings Settings) (int, error) {
	urls := adapter.ListURLs()
	added := 0
	failed := 0

	for _, url := range urls {
		if err := ctx.Err(); err != nil {
			return added, err
		}
		res, err := o.fetchPage(ctx, url, settings.UseBrowser)
		if err != nil {
			return added, err
		}
		metrics.ObserveFetch(url, string(res.Outcome))
		if !res.OK() {
			o.logger.Warn("page fetch unsuccessful",
				zap.String("site", adapter.Name()),
				zap.String("url", url),
				zap.String("outcome", string(res.Outcome)),
				zap.String("blocked_by", res.BlockedBy),
			)
			failed++
			continue
		}

		records, err := adapter.Parse(res.HTML)
		if err != nil {
			o.logger.Warn("page parse failed",
				zap.String("site", adapter.Name()),
				zap.String("url", url),
				zap.Error(err),
			)
			failed++
			continue
		}
		added += o.processRecords(ctx, adapter.Name(), records, pol)
	}

	if failed == len(urls) && len(urls) > 0 {
		return added, errors.New("all listing pages failed")
	}
	return added, nil
}

func (o *Orchestrator) processRecords(ctx context.Context, site string, records []monitor.Record, pol *matcher.Matcher) int {
	added := 0
	for _, rec := range records {
		match := pol.ClassifyAny(rec.Title, rec.Content)
		if !match.Matched {
			continue
		}

		// Dedup before the guard: known records never cost a model call.
		exists, err := o.store.Exists(ctx, rec.UniqueID())
		if err != nil {
			o.logger.Error("dedup lookup failed", zap.String("url", rec.URL), zap.Error(err))
			continue
		}
		if exists {
			continue
		}

		if o.guard != nil {
			relevant, reason := o.guard.Classify(ctx, rec.Title, rec.Content)
			if !relevant {
				o.logger.Info("record rejected by relevance guard",
					zap.String("title", rec.Title),
					zap.String("reason", reason),
				)
				continue
			}
		}

		inserted, err := o.store.Save(ctx, rec)
		if err != nil {
			o.logger.Error("record save failed", zap.String("url", rec.URL), zap.Error(err))
			continue
		}
		if inserted {
			added++
			metrics.ObserveNewRecord(site)
			o.logger.Info("new record stored",
				zap.String("site", site),
				zap.String("title", rec.Title),
				zap.Strings("keywords", match.Keywords),
			)
		}
	}
	return added
}

func (o *Orchestrator) fetchPage(ctx context.Context, url string, useBrowser bool) (monitor.FetchResult, error) {
	if useBrowser && o.browser != nil {
		res, err := o.browser.Fetch(ctx, url)
		if err != nil {
			return res, err
		}
		if res.Outcome != monitor.OutcomeUnavailable {
			return res, nil
		}
		// Browser could not start; degrade to the plain engine.
		o.logger.Warn("browser engine unavailable, falling back to plain fetch", zap.String("url", url))
	}
	return o.fetcher.Fetch(ctx, url)
}

func (o *Orchestrator) buildAdapters(settings Settings) []monitor.SourceAdapter {
	opts := source.Options{Keywords: settings.Policy.Include}
	var adapters []monitor.SourceAdapter
	for _, name := range settings.EnabledSites {
		adapter, err := source.New(name, opts)
		if err != nil {
			o.logger.Warn("skipping unknown source", zap.String("site", name))
			continue
		}
		adapters = append(adapters, adapter)
	}
	for _, site := range settings.CustomSites {
		adapters = append(adapters, source.NewGeneric(site))
	}
	return adapters
}
