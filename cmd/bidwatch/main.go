// Package main wires together the bidwatch service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/api"
	"github.com/evergrid-labs/bidwatch/internal/blockdetect"
	"github.com/evergrid-labs/bidwatch/internal/config"
	collyfetcher "github.com/evergrid-labs/bidwatch/internal/fetcher/colly"
	headlessfetcher "github.com/evergrid-labs/bidwatch/internal/fetcher/headless"
	"github.com/evergrid-labs/bidwatch/internal/guard"
	"github.com/evergrid-labs/bidwatch/internal/logging"
	"github.com/evergrid-labs/bidwatch/internal/metrics"
	"github.com/evergrid-labs/bidwatch/internal/monitor"
	"github.com/evergrid-labs/bidwatch/internal/notify"
	"github.com/evergrid-labs/bidwatch/internal/round"
	"github.com/evergrid-labs/bidwatch/internal/store"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	recordStore, err := newStore(ctx, cfg)
	if err != nil {
		logger.Fatal("store init failed", zap.Error(err))
	}
	defer func() {
		if closeErr := recordStore.Close(); closeErr != nil {
			logger.Error("store close failed", zap.Error(closeErr))
		}
	}()

	detector := blockdetect.New()
	plainEngine := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.HTTP.UserAgent,
		Timeout:     time.Duration(cfg.HTTP.TimeoutSeconds) * time.Second,
		MaxAttempts: cfg.HTTP.MaxAttempts,
		Delay:       time.Duration(cfg.HTTP.DelaySeconds) * time.Second,
		InsecureTLS: cfg.HTTP.InsecureTLS,
	}, detector, logger.Named("fetch"))
	browserEngine := headlessfetcher.New(headlessfetcher.Config{
		UserAgent:         cfg.HTTP.UserAgent,
		NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		SettleDelay:       time.Duration(cfg.Headless.SettleDelaySec) * time.Second,
	}, detector, logger.Named("browser"))
	defer browserEngine.Shutdown()

	var relevanceGuard monitor.Guard
	if cfg.AI.Enable {
		relevanceGuard = guard.New(guard.Config{
			Enable:  true,
			BaseURL: cfg.AI.BaseURL,
			APIKey:  cfg.AI.APIKey,
			Model:   cfg.AI.Model,
			Prompt:  cfg.AI.Prompt,
			Timeout: time.Duration(cfg.AI.TimeoutSeconds) * time.Second,
		}, logger.Named("guard"))
	}

	dispatcher := notify.NewDispatcher(notify.DispatcherConfig{
		BatchCap:   cfg.Notify.BatchCap,
		VoiceDelay: time.Duration(cfg.Notify.VoiceDelaySecs) * time.Second,
	}, recordStore, newChannels(cfg, logger), logger.Named("notify"))

	orchestrator := round.New(round.Settings{
		Interval:     cfg.Interval(),
		Policy:       cfg.MatchPolicy(),
		UseBrowser:   cfg.Monitor.UseBrowser,
		EnabledSites: cfg.Monitor.EnabledSites,
		CustomSites:  cfg.Sites,
		Contacts:     cfg.Contacts,
	}, round.Options{
		Store:      recordStore,
		Fetcher:    plainEngine,
		Browser:    browserEngine,
		Guard:      relevanceGuard,
		Dispatcher: dispatcher,
		Logger:     logger.Named("round"),
	})

	if cfg.Monitor.AutoStart {
		if err := orchestrator.Start(); err != nil {
			logger.Error("monitor autostart failed", zap.Error(err))
		}
	}

	// Operator edits write back to the config file they came from; without
	// one, settings live in memory only.
	var persist func(round.Settings) error
	if path := *cfgPath; path != "" {
		persist = func(s round.Settings) error {
			cfg.Monitor.IntervalMinutes = int(s.Interval / time.Minute)
			cfg.Monitor.UseBrowser = s.UseBrowser
			cfg.Monitor.EnabledSites = s.EnabledSites
			cfg.Keywords = config.KeywordsConfig{
				Include:     s.Policy.Include,
				Exclude:     s.Policy.Exclude,
				MustContain: s.Policy.MustContain,
			}
			cfg.Sites = s.CustomSites
			cfg.Contacts = s.Contacts
			return cfg.Save(path)
		}
	}

	apiServer := api.NewServer(orchestrator, recordStore, api.AuthConfig{
		Enabled:  cfg.Auth.Enabled,
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
	}, persist, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := orchestrator.Stop(); err != nil && !errors.Is(err, round.ErrNotRunning) {
		logger.Error("monitor stop error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

func newStore(ctx context.Context, cfg config.Config) (monitor.RecordStore, error) {
	switch cfg.Storage.Provider {
	case "sqlite":
		return store.NewSQLite(cfg.Storage.DSN)
	case "postgres":
		return store.NewPostgres(ctx, store.PostgresConfig{DSN: cfg.Storage.DSN})
	case "memory":
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage provider %q", cfg.Storage.Provider)
	}
}

func newChannels(cfg config.Config, logger *zap.Logger) []monitor.Channel {
	var channels []monitor.Channel
	if cfg.Channels.Email {
		channels = append(channels, notify.NewEmail(logger.Named("email")))
	}
	if cfg.Channels.SMS {
		channels = append(channels, notify.NewSMS(notify.SMSConfig{
			AccessKeyID:     cfg.SMS.AccessKeyID,
			AccessKeySecret: cfg.SMS.AccessKeySecret,
			SignName:        cfg.SMS.SignName,
			TemplateCode:    cfg.SMS.TemplateCode,
		}, logger.Named("sms")))
	}
	if cfg.Channels.Voice {
		channels = append(channels, notify.NewVoice(notify.VoiceConfig{
			AccessKeyID:      cfg.Voice.AccessKeyID,
			AccessKeySecret:  cfg.Voice.AccessKeySecret,
			TTSCode:          cfg.Voice.TtsCode,
			CalledShowNumber: cfg.Voice.CalledShowNum,
		}, logger.Named("voice")))
	}
	if cfg.Channels.Chat {
		channels = append(channels, notify.NewWebhook(logger.Named("chat")))
	}
	return channels
}
