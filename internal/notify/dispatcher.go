// Package notify implements the notification channels and the dispatcher
// that fans new records out to contacts.
package notify

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

// ErrNotConfigured marks a contact that lacks the fields a channel needs.
// The dispatcher skips these silently instead of counting them as failures.
var ErrNotConfigured = errors.New("contact not configured for channel")

// DispatcherConfig tunes batch size and pacing.
type DispatcherConfig struct {
	// BatchCap bounds how many records one dispatch carries. Older records
	// stay unnotified and ride along in the next round.
	BatchCap int
	// VoiceDelay is the settle pause before placing a voice call, giving
	// text channels time to land first.
	VoiceDelay time.Duration
}

// Dispatcher fans a batch of unnotified records out to every enabled contact
// over every configured channel. One failing contact or channel never blocks
// the others.
type Dispatcher struct {
	cfg      DispatcherConfig
	store    monitor.RecordStore
	channels []monitor.Channel
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
}

// NewDispatcher builds a Dispatcher over the given channels.
func NewDispatcher(cfg DispatcherConfig, store monitor.RecordStore, channels []monitor.Channel, logger *zap.Logger) *Dispatcher {
	if cfg.BatchCap <= 0 {
		cfg.BatchCap = 10
	}
	if cfg.VoiceDelay <= 0 {
		cfg.VoiceDelay = 3 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		cfg:      cfg,
		store:    store,
		channels: channels,
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// Dispatch sends the pending batch and then marks it notified. Records are
// marked after the attempts regardless of individual failures: a record gets
// one delivery round, not an open-ended redelivery loop.
func (d *Dispatcher) Dispatch(ctx context.Context, contacts []monitor.Contact) ([]monitor.DispatchOutcome, error) {
	batch, err := d.store.Unnotified(ctx, d.cfg.BatchCap)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	var outcomes []monitor.DispatchOutcome
	for _, contact := range contacts {
		if !contact.Enabled {
			continue
		}
		for _, ch := range d.channels {
			outcome := monitor.DispatchOutcome{Contact: contact.Name, Channel: ch.Name()}

			if ch.Name() == "voice" {
				if err := d.sleep(ctx, d.cfg.VoiceDelay); err != nil {
					outcome.Err = err.Error()
					outcomes = append(outcomes, outcome)
					continue
				}
			}

			err := ch.Send(ctx, contact, batch)
			switch {
			case errors.Is(err, ErrNotConfigured):
				continue
			case err != nil:
				d.logger.Error("channel send failed",
					zap.String("contact", contact.Name),
					zap.String("channel", ch.Name()),
					zap.Error(err),
				)
				outcome.Err = err.Error()
			default:
				outcome.Sent = len(batch)
			}
			outcomes = append(outcomes, outcome)
		}
	}

	uids := make([]string, len(batch))
	for i, rec := range batch {
		uids[i] = rec.UniqueID
	}
	if err := d.store.MarkNotified(ctx, uids); err != nil {
		return outcomes, err
	}
	return outcomes, nil
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
