package ingest

import (
	"context"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"market-streamer/src/helpers"
	"market-streamer/src/logger"
	"market-streamer/src/models"
	"market-streamer/src/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu       sync.Mutex
	written  []*models.MObservation
	err      error
	deadline bool
}

func (s *fakeSink) UpsertObservation(ctx context.Context, obs *models.MObservation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, s.deadline = ctx.Deadline()
	if s.err != nil {
		return s.err
	}
	s.written = append(s.written, obs)
	return nil
}

type recorder struct {
	mu   sync.Mutex
	seen []string
	boom bool
}

func (r *recorder) OnObservation(obs *models.MObservation) {
	if r.boom {
		panic("listener failure")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, obs.Symbol)
}

func testLogger() *logger.Logger {
	logger.SetOutput(io.Discard)
	return logger.NewLogger(nil, "ingest-test")
}

func bar(kind models.EventKind, symbol string) *models.MObservation {
	return &models.MObservation{
		Kind:       kind,
		AssetClass: models.AssetClassEquity,
		Symbol:     symbol,
		Timestamp:  time.Date(2024, 6, 17, 14, 30, 0, 0, time.UTC),
		Bar:        &models.MBar{Open: 10, High: 11, Low: 9, Close: 10.5, Volume: 1000, Interval: 1},
	}
}

func TestHandlers_StoreThenFanOut(t *testing.T) {
	sink := &fakeSink{}
	a, b := &recorder{}, &recorder{}
	h := NewHandlers(sink, time.Second, testLogger(), a, nil, b)

	handlers := h.For([]models.EventKind{models.EventKindBar, models.EventKindUpdatedBar})
	require.Len(t, handlers, 2)

	handlers[models.EventKindBar](bar(models.EventKindBar, "AAPL"))
	handlers[models.EventKindUpdatedBar](bar(models.EventKindUpdatedBar, "MSFT"))

	assert.Len(t, sink.written, 2)
	assert.True(t, sink.deadline, "writes carry the write timeout")
	assert.Equal(t, []string{"AAPL", "MSFT"}, a.seen)
	assert.Equal(t, []string{"AAPL", "MSFT"}, b.seen)
	assert.Equal(t, Stats{Stored: 2}, h.Stats())
}

func TestHandlers_DropsOnSinkFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Stats
	}{
		{"validation", helpers.NewValidationError("missing symbol", nil), Stats{Invalid: 1}},
		{"storage", helpers.NewStorageError("connection refused", nil), Stats{Failed: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &fakeSink{err: tt.err}
			listener := &recorder{}
			h := NewHandlers(sink, time.Second, testLogger(), listener)

			assert.NotPanics(t, func() { h.Handle(bar(models.EventKindBar, "AAPL")) })
			assert.Empty(t, listener.seen, "nothing is published for a dropped observation")
			assert.Equal(t, tt.want, h.Stats())
		})
	}
}

func TestHandlers_KindMismatchDropped(t *testing.T) {
	sink := &fakeSink{}
	h := NewHandlers(sink, time.Second, testLogger())

	h.For([]models.EventKind{models.EventKindBar})[models.EventKindBar](bar(models.EventKindUpdatedBar, "AAPL"))
	assert.Empty(t, sink.written)
	assert.Equal(t, uint64(1), h.Stats().Invalid)
}

func TestHandlers_ListenerPanicIsContained(t *testing.T) {
	sink := &fakeSink{}
	after := &recorder{}
	h := NewHandlers(sink, time.Second, testLogger(), &recorder{boom: true}, after)

	assert.NotPanics(t, func() { h.Handle(bar(models.EventKindBar, "AAPL")) })
	assert.Equal(t, []string{"AAPL"}, after.seen)
	assert.Equal(t, uint64(1), h.Stats().Stored)
}

func TestHandlers_SQLiteSink(t *testing.T) {
	log := testLogger()
	db, err := storage.NewSQLiteDB(&models.MConfig{
		Storage:      models.MStorageConfig{DBType: "sqlite", DBPath: filepath.Join(t.TempDir(), "ingest.db")},
		AssetClasses: []models.MAssetClassConfig{{Name: "equity", TablePrefix: "stock"}},
	}, log)
	require.NoError(t, err)
	require.NoError(t, db.Initialize())
	defer db.Close()

	h := NewHandlers(db, time.Second, log)
	handlers := h.For([]models.EventKind{models.EventKindBar, models.EventKindUpdatedBar})

	handlers[models.EventKindBar](bar(models.EventKindBar, "AAPL"))
	handlers[models.EventKindBar](bar(models.EventKindBar, "AAPL"))

	revised := bar(models.EventKindUpdatedBar, "AAPL")
	revised.Bar.Close = 12
	handlers[models.EventKindUpdatedBar](revised)

	missing := bar(models.EventKindBar, "")
	handlers[models.EventKindBar](missing)

	assert.Equal(t, Stats{Stored: 2, Invalid: 2}, h.Stats())

	var got float64
	require.NoError(t, db.DB.QueryRow(`SELECT close FROM stock_bars WHERE symbol = 'AAPL'`).Scan(&got))
	assert.Equal(t, 12.0, got)
}
