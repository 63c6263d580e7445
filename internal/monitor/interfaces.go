package monitor

import (
	"context"
	"time"
)

// Fetcher retrieves a page and classifies the outcome. The error return is
// reserved for context cancellation; fetch-level failures are encoded in the
// FetchResult outcome.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResult, error)
}

// SourceAdapter knows how to enumerate and parse one tender source.
type SourceAdapter interface {
	// Name is the stable identifier used in configuration and reports.
	Name() string
	// ListURLs returns the listing pages to fetch for one round.
	ListURLs() []string
	// Parse extracts candidate records from a fetched listing page.
	// Per-item parse failures are skipped, not returned as errors.
	Parse(html string) ([]Record, error)
}

// RecordStore persists deduplicated tender records.
type RecordStore interface {
	// Exists reports whether a record with the given unique ID is stored.
	Exists(ctx context.Context, uniqueID string) (bool, error)
	// Save inserts the record if its unique ID is unseen. It reports whether
	// a row was actually inserted.
	Save(ctx context.Context, rec Record) (bool, error)
	// Unnotified returns up to limit records not yet dispatched, oldest first.
	Unnotified(ctx context.Context, limit int) ([]StoredRecord, error)
	// MarkNotified flags the given unique IDs as dispatched.
	MarkNotified(ctx context.Context, uniqueIDs []string) error
	// Recent returns the newest records for the control surface.
	Recent(ctx context.Context, limit, offset int) ([]StoredRecord, error)
	// Count returns the total number of stored records.
	Count(ctx context.Context) (int64, error)
	// Clear removes every stored record.
	Clear(ctx context.Context) error
	Close() error
}

// Channel delivers a batch of records to one contact over one transport.
type Channel interface {
	Name() string
	Send(ctx context.Context, contact Contact, records []StoredRecord) error
}

// Guard is an optional relevance classifier applied after keyword matching.
type Guard interface {
	// Classify returns whether the record looks like a genuine tender
	// announcement, with a human-readable reason. Implementations fail open.
	Classify(ctx context.Context, title, content string) (bool, string)
}

// Clock abstracts time.Now for deterministic tests.
type Clock interface {
	Now() time.Time
}
