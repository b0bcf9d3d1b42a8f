// Package sensor presents an address's waste streams as one entity per
// stream, the shape consumed by home automation platforms.
package sensor

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/chinmina/waste-bridge/internal/address"
	"github.com/chinmina/waste-bridge/internal/collection"
	"github.com/chinmina/waste-bridge/internal/refresh"
)

const (
	Domain       = "affarsverken_waste"
	Icon         = "mdi:trash-can"
	DeviceClass  = "date"
	Manufacturer = "Affärsverken"
	Model        = "Waste Collection"
)

// Device groups the entities of one address.
type Device struct {
	Identifier   string `json:"identifier"`
	Name         string `json:"name"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

type Attributes struct {
	// DaysUntilPickup is negative once the date has passed.
	DaysUntilPickup            int    `json:"days_until_pickup"`
	PickupDate                 string `json:"pickup_date"`
	WasteType                  string `json:"waste_type"`
	BinSize                    any    `json:"bin_size"`
	BinSizeUnit                string `json:"bin_size_unit,omitempty"`
	PickupFrequencyDescription string `json:"pickup_frequency_description,omitempty"`
}

// Entity is one waste stream of one address.
type Entity struct {
	UniqueID    string `json:"unique_id"`
	Name        string `json:"name"`
	Icon        string `json:"icon"`
	DeviceClass string `json:"device_class"`

	// State is the next pickup date, YYYY-MM-DD.
	State      *string    `json:"state"`
	Available  bool       `json:"available"`
	Attributes Attributes `json:"attributes"`
	Device     Device     `json:"device"`

	NextPickup time.Time `json:"-"`
}

// Build returns the entities of an address from its snapshot, ordered by
// waste type. Entities exist for every stream of the last successful fetch;
// they are unavailable while the snapshot is stale. Day counts are measured
// from the calendar date of now in its own location.
func Build(entry address.Entry, snap refresh.Snapshot, now time.Time) []Entity {
	if !snap.HasData() {
		return []Entity{}
	}

	titles := make([]string, 0, len(snap.Result.Records))
	for title := range snap.Result.Records {
		titles = append(titles, title)
	}
	slices.Sort(titles)

	device := Device{
		Identifier:   entry.Address,
		Name:         entry.DisplayName() + " Waste",
		Manufacturer: Manufacturer,
		Model:        Model,
	}

	entities := make([]Entity, 0, len(titles))
	for _, title := range titles {
		rec := snap.Result.Records[title]
		state := rec.PickupDate()

		entities = append(entities, Entity{
			UniqueID:    UniqueID(entry, title),
			Name:        entry.DisplayName() + " " + title,
			Icon:        Icon,
			DeviceClass: DeviceClass,
			State:       &state,
			Available:   snap.Available(),
			Attributes:  attributes(rec, now),
			Device:      device,
			NextPickup:  rec.NextPickup,
		})
	}

	return entities
}

func attributes(rec collection.Record, now time.Time) Attributes {
	return Attributes{
		DaysUntilPickup:            DaysUntil(rec.NextPickup, now),
		PickupDate:                 rec.PickupDate(),
		WasteType:                  rec.Title,
		BinSize:                    rec.BinSize,
		BinSizeUnit:                rec.BinSizeUnit,
		PickupFrequencyDescription: rec.PickupFrequencyDescription,
	}
}

// DaysUntil counts calendar days from the date of now to pickup.
func DaysUntil(pickup, now time.Time) int {
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

	py, pm, pd := pickup.Date()
	day := time.Date(py, pm, pd, 0, 0, 0, 0, time.UTC)

	return int(day.Sub(today).Hours() / 24)
}

// UniqueID identifies the entity for a waste type at an address. Spaces
// become underscores and the parts are lower-cased, keeping identifiers stable
// across restarts.
func UniqueID(entry address.Entry, wasteType string) string {
	return fmt.Sprintf("%s_%s_%s_%s", Domain, idPart(entry.DisplayName()), idPart(entry.Address), idPart(wasteType))
}

func idPart(s string) string {
	return strings.ToLower(strings.ReplaceAll(s, " ", "_"))
}
