// Package system provides the real wall clock behind monitor.Clock.
package system

import (
	"time"

	"github.com/evergrid-labs/bidwatch/internal/monitor"
)

// Clock reads the system time. Round timestamps and the rounds-today
// counter are tracked in UTC so date rollovers do not depend on host zone.
type Clock struct{}

var _ monitor.Clock = Clock{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
