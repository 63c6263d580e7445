package monitor

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Record is a single tender announcement extracted from a source page.
type Record struct {
	Title       string `json:"title"`
	URL         string `json:"url"`
	PublishDate string `json:"publish_date"`
	Source      string `json:"source"`
	Content     string `json:"content"`
	Purchaser   string `json:"purchaser"`
}

// UniqueID derives the record's identity from its URL. Two records with the
// same URL are the same announcement regardless of title or content drift.
func (r Record) UniqueID() string {
	sum := md5.Sum([]byte(r.URL))
	return hex.EncodeToString(sum[:])
}

// StoredRecord is a Record as persisted, with store-assigned fields.
type StoredRecord struct {
	Record
	ID        int64     `json:"id"`
	UniqueID  string    `json:"unique_id"`
	Notified  bool      `json:"notified"`
	CreatedAt time.Time `json:"created_at"`
}

// FetchOutcome classifies the terminal state of a fetch attempt sequence.
type FetchOutcome string

// Fetch outcomes. Denied and Blocked are terminal on the first attempt;
// Failed means retries were exhausted.
const (
	OutcomeSuccess     FetchOutcome = "success"
	OutcomeBlocked     FetchOutcome = "blocked"
	OutcomeDenied      FetchOutcome = "denied"
	OutcomeUnavailable FetchOutcome = "unavailable"
	OutcomeFailed      FetchOutcome = "failed"
)

// FetchResult carries the page body and the outcome classification for one
// fetched URL.
type FetchResult struct {
	URL        string
	HTML       string
	Outcome    FetchOutcome
	StatusCode int
	Attempts   int
	Duration   time.Duration
	// BlockedBy holds the anti-bot signature that matched, when Outcome is
	// OutcomeBlocked.
	BlockedBy string
}

// OK reports whether the fetch produced usable HTML.
func (r FetchResult) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// MatchPolicy is the keyword configuration applied to every candidate record.
type MatchPolicy struct {
	Include     []string `json:"include"`
	Exclude     []string `json:"exclude"`
	MustContain []string `json:"must_contain"`
}

// Empty reports whether the policy has no terms at all.
func (p MatchPolicy) Empty() bool {
	return len(p.Include) == 0 && len(p.Exclude) == 0 && len(p.MustContain) == 0
}

// MatchResult is the verdict of the keyword matcher for one text or record.
type MatchResult struct {
	Matched bool
	// Keywords is the union of include and must-contain terms found in the
	// text, deduplicated, in first-seen order.
	Keywords []string
	// ExcludedBy names the exclude term that vetoed the match, if any.
	ExcludedBy string
}

// Contact is one notification recipient. Channel-specific fields are blank
// when the contact does not use that channel.
type Contact struct {
	Name          string `json:"name" mapstructure:"name"`
	Enabled       bool   `json:"enabled" mapstructure:"enabled"`
	Email         string `json:"email" mapstructure:"email"`
	EmailPassword string `json:"email_password,omitempty" mapstructure:"email_password"`
	EmailType     string `json:"email_type" mapstructure:"email_type"`
	Phone         string `json:"phone" mapstructure:"phone"`
	ChatToken     string `json:"chat_token,omitempty" mapstructure:"chat_token"`
}

// Site is a monitored source, either a registered adapter or a user-defined
// custom page.
type Site struct {
	Name string `json:"name" mapstructure:"name"`
	URL  string `json:"url" mapstructure:"url"`
}

// Progress reports adapter-level position within a round.
type Progress struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Site    string `json:"site"`
}

// RoundReport summarizes one completed (or interrupted) monitoring round.
type RoundReport struct {
	NewRecords     int           `json:"new_records"`
	AdaptersRun    int           `json:"adapters_run"`
	AdaptersFailed []string      `json:"adapters_failed,omitempty"`
	Interrupted    bool          `json:"interrupted"`
	Duration       time.Duration `json:"duration"`
}

// DispatchOutcome records the result of one contact/channel send attempt.
type DispatchOutcome struct {
	Contact string `json:"contact"`
	Channel string `json:"channel"`
	Sent    int    `json:"sent"`
	Err     string `json:"error,omitempty"`
}
