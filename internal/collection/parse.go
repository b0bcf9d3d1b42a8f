// Package collection fetches and parses the pickup schedule of a building's
// waste streams.
package collection

import (
	"encoding/json"
	"errors"
	"regexp"
	"time"

	"github.com/chinmina/waste-bridge/internal/failure"
	"github.com/rs/zerolog"
)

// DateLayout is the vendor's pickup date format.
const DateLayout = "2006-01-02"

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// Record is the next pickup of one waste stream.
type Record struct {
	Title string `json:"title"`
	// NextPickup is a calendar date, held as midnight UTC.
	NextPickup time.Time `json:"next_pickup"`
	// BinSize is passed through as sent by the vendor, usually a number.
	BinSize                    any    `json:"bin_size,omitempty"`
	BinSizeUnit                string `json:"bin_size_unit,omitempty"`
	PickupFrequencyDescription string `json:"pickup_frequency_description,omitempty"`
}

// PickupDate formats NextPickup as YYYY-MM-DD.
func (r Record) PickupDate() string {
	return r.NextPickup.Format(DateLayout)
}

// Result is one successful fetch: the parsed records keyed by title and the
// document they were parsed from.
type Result struct {
	Records map[string]Record `json:"records"`
	Raw     json.RawMessage   `json:"raw"`
}

// Dates returns the next pickup date per waste stream title.
func (r Result) Dates() map[string]time.Time {
	dates := make(map[string]time.Time, len(r.Records))
	for title, rec := range r.Records {
		dates[title] = rec.NextPickup
	}
	return dates
}

// Parse extracts the waste stream records from a building document. The
// document must hold a "services" array, otherwise a failure.Parse error is
// returned. Entries without a title or next pickup, or with a date that is not
// exactly YYYY-MM-DD, are skipped with a warning. A title seen twice keeps the
// last entry.
func Parse(raw json.RawMessage, logger zerolog.Logger) (map[string]Record, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, failure.Newf(failure.Parse, "waste data is not a JSON object: %w", err)
	}

	servicesRaw, ok := doc["services"]
	if !ok {
		return nil, failure.New(failure.Parse, errors.New("waste data has no services"))
	}

	var services []json.RawMessage
	if err := json.Unmarshal(servicesRaw, &services); err != nil || services == nil {
		return nil, failure.New(failure.Parse, errors.New("waste data services is not a list"))
	}

	records := make(map[string]Record, len(services))

	for i, entryRaw := range services {
		var entry map[string]any
		if err := json.Unmarshal(entryRaw, &entry); err != nil || entry == nil {
			logger.Warn().Int("index", i).RawJSON("service", entryRaw).Msg("service entry is not an object, skipping")
			continue
		}

		title := stringField(entry, "title")
		nextPickup := stringField(entry, "nextPickup")

		if title == "" || nextPickup == "" {
			logger.Warn().Int("index", i).RawJSON("service", entryRaw).Msg("service entry missing title or nextPickup, skipping")
			continue
		}

		date, ok := parseDate(nextPickup)
		if !ok {
			logger.Warn().Str("title", title).Str("nextPickup", nextPickup).Msg("could not parse pickup date, skipping")
			continue
		}

		records[title] = Record{
			Title:                      title,
			NextPickup:                 date,
			BinSize:                    entry["binSize"],
			BinSizeUnit:                stringField(entry, "binSizeUnit"),
			PickupFrequencyDescription: stringField(entry, "pickupFrequencyDescription"),
		}
	}

	return records, nil
}

func parseDate(s string) (time.Time, bool) {
	if !datePattern.MatchString(s) {
		return time.Time{}, false
	}

	date, err := time.ParseInLocation(DateLayout, s, time.UTC)
	if err != nil {
		return time.Time{}, false
	}

	return date, true
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}
