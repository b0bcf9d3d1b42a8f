package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// Document is the single persisted cache document. It holds the vendor token
// state and the per-address building lookups.
type Document struct {
	Token               string                   `json:"token,omitempty"`
	TokenExpirationTime *Timestamp               `json:"token_expiration_time,omitempty"`
	Buildings           map[string]BuildingEntry `json:"buildings"`
}

// BuildingEntry records the vendor query key resolved for an address.
type BuildingEntry struct {
	QueryParam  string    `json:"query_param"`
	LastUpdated Timestamp `json:"last_updated"`
}

// Fresh reports whether the entry is usable at now, given its lifetime. An
// entry exactly lifetime old is stale.
func (b BuildingEntry) Fresh(now time.Time, lifetime time.Duration) bool {
	if b.QueryParam == "" || b.LastUpdated.IsZero() {
		return false
	}
	return now.Sub(b.LastUpdated.Time) < lifetime
}

// TokenValid reports whether the document holds a token that is still valid
// at now. A token expiring exactly at now is not valid.
func (d Document) TokenValid(now time.Time) bool {
	if d.Token == "" || d.TokenExpirationTime == nil {
		return false
	}
	return now.Before(d.TokenExpirationTime.Time)
}

// TokenExpiry returns the stored expiration, or the zero time.
func (d Document) TokenExpiry() time.Time {
	if d.TokenExpirationTime == nil {
		return time.Time{}
	}
	return d.TokenExpirationTime.Time
}

// SetToken stores the token and its expiration.
func (d *Document) SetToken(token string, expiry time.Time) {
	d.Token = token
	ts := NewTimestamp(expiry)
	d.TokenExpirationTime = &ts
}

// SetBuilding upserts the building entry for address.
func (d *Document) SetBuilding(address, queryParam string, updated time.Time) {
	if d.Buildings == nil {
		d.Buildings = map[string]BuildingEntry{}
	}
	d.Buildings[address] = BuildingEntry{
		QueryParam:  queryParam,
		LastUpdated: NewTimestamp(updated),
	}
}

// Timestamp is an ISO-8601 instant. Values written without a zone offset are
// read as UTC, which keeps cache files written by older clients readable.
type Timestamp struct {
	time.Time
}

// NewTimestamp normalises t to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{t.UTC()}
}

// naive layout accepted when no offset is present
const naiveLayout = "2006-01-02T15:04:05.999999999"

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("timestamp must be a string: %w", err)
	}

	if parsed, err := time.Parse(time.RFC3339Nano, s); err == nil {
		t.Time = parsed.UTC()
		return nil
	}

	parsed, err := time.ParseInLocation(naiveLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed
	return nil
}
