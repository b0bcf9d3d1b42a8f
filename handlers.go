package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/chinmina/waste-bridge/internal/failure"
	"github.com/chinmina/waste-bridge/internal/ics"
	"github.com/chinmina/waste-bridge/internal/refresh"
	"github.com/chinmina/waste-bridge/internal/sensor"
	"github.com/rs/zerolog/log"
)

// HTTPStatuser provides HTTP status information for errors
type HTTPStatuser interface {
	Status() (int, string)
}

type addressSummary struct {
	refresh.Snapshot
	Name     string `json:"name"`
	Entities int    `json:"entities"`
}

type readyResponse struct {
	Ready    bool     `json:"ready"`
	NotReady []string `json:"not_ready,omitempty"`
}

func handleListAddresses(coordinator *refresh.Coordinator, now func() time.Time) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		summaries := make([]addressSummary, 0, len(coordinator.Pollers()))
		for _, p := range coordinator.Pollers() {
			snap := p.Snapshot(r.Context())
			summaries = append(summaries, addressSummary{
				Snapshot: snap,
				Name:     p.Entry().DisplayName(),
				Entities: len(sensor.Build(p.Entry(), snap, now())),
			})
		}

		writeJSON(w, http.StatusOK, summaries)
	})
}

func handleGetSensors(coordinator *refresh.Coordinator, now func() time.Time) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		p, ok := coordinator.Poller(r.PathValue("key"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown address")
			return
		}

		writeJSON(w, http.StatusOK, sensor.Build(p.Entry(), p.Snapshot(r.Context()), now()))
	})
}

func handleGetCalendar(coordinator *refresh.Coordinator, now func() time.Time) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		p, ok := coordinator.Poller(r.PathValue("key"))
		if !ok {
			requestError(w, http.StatusNotFound)
			return
		}

		var reminders []ics.Reminder
		for _, v := range r.URL.Query()["reminder"] {
			reminder, err := ics.ParseReminder(v)
			if err != nil {
				log.Info().Err(err).Msg("invalid reminder parameter")
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			reminders = append(reminders, reminder)
		}

		snap := p.Snapshot(r.Context())
		if !snap.HasData() {
			requestError(w, http.StatusServiceUnavailable)
			return
		}

		entry := p.Entry()
		entities := sensor.Build(entry, snap, now())

		events := make([]ics.Event, 0, len(entities))
		for _, e := range entities {
			events = append(events, ics.Event{Date: e.NextPickup, WasteType: e.Attributes.WasteType})
		}

		w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.ics", p.Key()))

		err := ics.Write(w, ics.Calendar{
			Key:       p.Key(),
			Name:      entry.DisplayName() + " Waste",
			Location:  entry.Address,
			Stamp:     snap.UpdatedAt,
			Events:    events,
			Reminders: reminders,
		})
		if err != nil {
			// record failure to log: trying to respond to the client at this
			// point will likely fail
			log.Info().Err(err).Msg("failed to write calendar")
		}
	})
}

func handlePostRefresh(coordinator *refresh.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		p, ok := coordinator.Poller(r.PathValue("key"))
		if !ok {
			writeJSONError(w, http.StatusNotFound, "unknown address")
			return
		}

		if err := p.Refresh(r.Context()); err != nil {
			status, message := errorStatus(err)
			log.Info().Err(err).Str("key", p.Key()).Msg("manual refresh failed")
			writeJSON(w, status, ErrorResponse{Error: message, Kind: failure.KindOf(err).String()})
			return
		}

		writeJSON(w, http.StatusOK, p.Snapshot(r.Context()))
	})
}

func handleReady(coordinator *refresh.Coordinator) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		resp := readyResponse{Ready: true}
		for _, p := range coordinator.Pollers() {
			if !p.Snapshot(r.Context()).HasData() {
				resp.Ready = false
				resp.NotReady = append(resp.NotReady, p.Key())
			}
		}

		status := http.StatusOK
		if !resp.Ready {
			status = http.StatusServiceUnavailable
		}

		writeJSON(w, status, resp)
	})
}

func handleHealthCheck() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer drainRequestBody(r)

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
}

func maxRequestSize(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.MaxBytesHandler(next, limit)
	}
}

// ErrorResponse represents a JSON error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	marshalled, err := json.Marshal(body)
	if err != nil {
		requestError(w, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if _, err := w.Write(marshalled); err != nil {
		log.Info().Msgf("failed to write response: %v", err)
	}
}

// writeJSONError writes a JSON error response with the given status code and message.
func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, ErrorResponse{Error: message})
}

// errorStatus maps an error to a response status and message. Refresh
// failures surface as 502 with their cause, as the vendor is the failing
// party.
func errorStatus(err error) (int, string) {
	var statuser HTTPStatuser
	if errors.As(err, &statuser) {
		return statuser.Status()
	}

	if kind := failure.KindOf(err); kind != failure.Unknown {
		return http.StatusBadGateway, err.Error()
	}

	return http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)
}

func requestError(w http.ResponseWriter, statusCode int) {
	http.Error(w, http.StatusText(statusCode), statusCode)
}

// drainRequestBody drains the request body by reading and discarding the contents.
// This is useful to ensure the request body is fully consumed, which is important
// for connection reuse in HTTP/1 clients.
func drainRequestBody(r *http.Request) {
	if r.Body != nil {
		// 5kb max: after this we'll assume the client is broken or malicious
		// and close the connection
		io.CopyN(io.Discard, r.Body, 5*1024)
	}
}
