// Package monitor defines the core domain types and interfaces shared by the
// bidwatch pipeline: tender records, fetch outcomes, matching policies, and
// the contracts implemented by fetchers, stores, adapters, and channels.
package monitor
