package refresh

import (
	"time"

	"github.com/chinmina/waste-bridge/internal/collection"
	"github.com/chinmina/waste-bridge/internal/failure"
)

// Status distinguishes never-populated addresses from those serving
// last-known-good data after a failed cycle.
type Status int

const (
	// NotReady means no cycle has succeeded yet.
	NotReady Status = iota
	// Ready means the most recent cycle succeeded.
	Ready
	// Stale means the most recent cycle failed and an older result is held.
	Stale
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "ready"
	case Stale:
		return "stale"
	default:
		return "not_ready"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Snapshot is the state of one address after its most recent cycle.
type Snapshot struct {
	Key     string `json:"key"`
	Address string `json:"address"`
	Status  Status `json:"status"`

	// Result is the last successful fetch. It is never cleared by a failed
	// cycle.
	Result    collection.Result `json:"-"`
	UpdatedAt time.Time         `json:"updated_at,omitzero"`

	LastAttempt time.Time    `json:"last_attempt,omitzero"`
	LastError   string       `json:"last_error,omitempty"`
	FailureKind failure.Kind `json:"-"`
}

// HasData reports whether any cycle has ever succeeded.
func (s Snapshot) HasData() bool {
	return !s.UpdatedAt.IsZero()
}

// Available reports whether the most recent cycle succeeded.
func (s Snapshot) Available() bool {
	return s.Status == Ready
}
