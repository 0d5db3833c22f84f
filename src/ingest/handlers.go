package ingest

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"market-streamer/src/helpers"
	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"
)

// Listener receives observations after they are committed.
type Listener interface {
	OnObservation(obs *models.MObservation)
}

// Stats counts handler outcomes since start.
type Stats struct {
	Stored  uint64 `json:"stored"`
	Invalid uint64 `json:"invalid"`
	Failed  uint64 `json:"failed"`
}

// -----------------------------------------------------------------------------
// Handlers write each observation to the sink, then fan it out.
// -----------------------------------------------------------------------------

type Handlers struct {
	Sink         interfaces.IObservationSink
	WriteTimeout time.Duration
	Listeners    []Listener
	Logger       *logger.Logger

	stored  atomic.Uint64
	invalid atomic.Uint64
	failed  atomic.Uint64
}

func NewHandlers(sink interfaces.IObservationSink, writeTimeout time.Duration, log *logger.Logger, listeners ...Listener) *Handlers {
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Second
	}
	h := &Handlers{
		Sink:         sink,
		WriteTimeout: writeTimeout,
		Logger:       log,
	}
	for _, l := range listeners {
		if l != nil {
			h.Listeners = append(h.Listeners, l)
		}
	}
	return h
}

// -----------------------------------------------------------------------------

// For binds one handler per kind, as expected by sessions and reconcilers.
func (h *Handlers) For(kinds []models.EventKind) map[models.EventKind]models.Handler {
	out := make(map[models.EventKind]models.Handler, len(kinds))
	for _, kind := range kinds {
		out[kind] = h.handler(kind)
	}
	return out
}

func (h *Handlers) handler(kind models.EventKind) models.Handler {
	return func(obs *models.MObservation) {
		if obs != nil && obs.Kind != kind {
			h.invalid.Add(1)
			h.Logger.Warning("%s handler received a %s observation for %s, dropped", kind, obs.Kind, obs.Symbol)
			return
		}
		h.Handle(obs)
	}
}

// Handle commits one observation. Sink failures drop it (at-most-once) and
// never reach the session.
func (h *Handlers) Handle(obs *models.MObservation) {
	ctx, cancel := context.WithTimeout(context.Background(), h.WriteTimeout)
	defer cancel()

	if err := h.Sink.UpsertObservation(ctx, obs); err != nil {
		h.drop(obs, err)
		return
	}
	h.stored.Add(1)

	for _, l := range h.Listeners {
		h.notify(l, obs)
	}
}

func (h *Handlers) drop(obs *models.MObservation, err error) {
	what := "observation"
	if obs != nil {
		what = fmt.Sprintf("%s %s %s @ %s", obs.AssetClass, obs.Kind, obs.Symbol, obs.Timestamp.UTC().Format(time.RFC3339))
	}

	switch {
	case helpers.IsValidation(err):
		h.invalid.Add(1)
		h.Logger.Warning("dropping invalid %s: %v", what, err)
	default:
		h.failed.Add(1)
		h.Logger.Error("dropping %s, storage failed: %v", what, err)
	}
}

func (h *Handlers) notify(l Listener, obs *models.MObservation) {
	defer func() {
		if r := recover(); r != nil {
			h.Logger.Error("observation listener panicked on %s: %v", obs.Symbol, r)
		}
	}()
	l.OnObservation(obs)
}

// Stats snapshots the counters.
func (h *Handlers) Stats() Stats {
	return Stats{
		Stored:  h.stored.Load(),
		Invalid: h.invalid.Load(),
		Failed:  h.failed.Load(),
	}
}
