// Package ics renders upcoming pickups as an iCalendar document of all-day
// events.
package ics

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"
)

const (
	ProductID = "-//chinmina//waste-bridge//SV"
	Timezone  = "Europe/Stockholm"

	dateLayout  = "20060102"
	stampLayout = "20060102T150405Z"
)

// Event is one pickup.
type Event struct {
	// Date is a calendar date; only its year, month and day are used.
	Date      time.Time
	WasteType string
}

// Reminder adds an alarm DaysBefore the pickup at Hour:Minute local time.
type Reminder struct {
	DaysBefore int
	Hour       int
	Minute     int
}

// Calendar is the content of one exported document.
type Calendar struct {
	// Key scopes event UIDs, normally the address key.
	Key      string
	Name     string
	Location string
	Stamp    time.Time
	Events   []Event

	Reminders []Reminder
}

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	";", `\;`,
	",", `\,`,
	"\r\n", `\n`,
	"\n", `\n`,
)

func escape(s string) string {
	return textEscaper.Replace(s)
}

// Write renders cal to w with CRLF line endings.
func Write(w io.Writer, cal Calendar) error {
	bw := bufio.NewWriter(w)
	line := func(format string, args ...any) {
		fmt.Fprintf(bw, format, args...)
		bw.WriteString("\r\n")
	}

	stamp := cal.Stamp.UTC().Format(stampLayout)

	line("BEGIN:VCALENDAR")
	line("VERSION:2.0")
	line("PRODID:%s", ProductID)
	line("CALSCALE:GREGORIAN")
	line("METHOD:PUBLISH")
	line("X-WR-CALNAME:%s", escape(cal.Name))
	line("X-WR-TIMEZONE:%s", Timezone)

	for _, ev := range cal.Events {
		y, m, d := ev.Date.Date()
		date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)

		line("BEGIN:VEVENT")
		line("UID:%s-%s-%s@waste-bridge", date.Format(dateLayout), uidPart(ev.WasteType), cal.Key)
		line("DTSTAMP:%s", stamp)
		line("DTSTART;VALUE=DATE:%s", date.Format(dateLayout))
		line("DTEND;VALUE=DATE:%s", date.AddDate(0, 0, 1).Format(dateLayout))
		line("SUMMARY:%s", escape(ev.WasteType))
		if cal.Location != "" {
			line("DESCRIPTION:%s", escape("Hämtning av "+ev.WasteType+" vid "+cal.Location))
			line("LOCATION:%s", escape(cal.Location))
		}
		line("TRANSP:TRANSPARENT")

		for _, r := range cal.Reminders {
			line("BEGIN:VALARM")
			line("ACTION:DISPLAY")
			line("DESCRIPTION:%s", escape("Påminnelse: "+ev.WasteType))
			line("TRIGGER:%s", Trigger(r))
			line("END:VALARM")
		}

		line("END:VEVENT")
	}

	line("END:VCALENDAR")

	return bw.Flush()
}

// Trigger formats the offset of r from the start of an all-day event as an
// ISO 8601 duration.
func Trigger(r Reminder) string {
	offset := time.Duration(r.Hour)*time.Hour + time.Duration(r.Minute)*time.Minute - time.Duration(r.DaysBefore)*24*time.Hour

	sign := ""
	if offset < 0 {
		sign = "-"
		offset = -offset
	}

	total := int(offset.Minutes())
	days := total / (24 * 60)
	hours := (total % (24 * 60)) / 60
	minutes := total % 60

	return fmt.Sprintf("%sP%dDT%dH%dM", sign, days, hours, minutes)
}

// ParseReminder reads a reminder of the form "<days>@HH:MM", e.g. "1@18:00".
func ParseReminder(s string) (Reminder, error) {
	var r Reminder
	if _, err := fmt.Sscanf(s, "%d@%d:%d", &r.DaysBefore, &r.Hour, &r.Minute); err != nil {
		return Reminder{}, fmt.Errorf("reminder %q must look like 1@18:00: %w", s, err)
	}
	if r.DaysBefore < 0 || r.Hour < 0 || r.Hour > 23 || r.Minute < 0 || r.Minute > 59 {
		return Reminder{}, fmt.Errorf("reminder %q is out of range", s)
	}
	return r, nil
}

func uidPart(s string) string {
	return strings.ToLower(strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '@' || r == ';' || r == ','
	}), "-"))
}
