package simulated

import (
	"context"
	"io"
	"testing"
	"time"

	"market-streamer/src/helpers"
	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSession() *Session {
	logger.SetOutput(io.Discard)
	return NewSession(models.AssetClassEquity, 10*time.Millisecond, logger.NewLogger(nil, "simulated-test"))
}

func TestTick_EmitsSubscribedSymbolsOnly(t *testing.T) {
	s := newTestSession()

	var got []*models.MObservation
	collect := func(obs *models.MObservation) { got = append(got, obs) }

	require.NoError(t, s.Subscribe(models.EventKindBar, collect, "AAPL", "MSFT"))
	require.NoError(t, s.Subscribe(models.EventKindTrade, collect, "AAPL"))
	require.NoError(t, s.Unsubscribe(models.EventKindBar, "MSFT", "ABSENT"))

	now := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	s.Tick(now)

	require.Len(t, got, 2)
	assert.Equal(t, models.EventKindBar, got[0].Kind)
	assert.Equal(t, models.EventKindTrade, got[1].Kind)
	for _, obs := range got {
		assert.Equal(t, "AAPL", obs.Symbol)
		assert.Equal(t, now, obs.Timestamp)
		assert.NoError(t, helpers.ValidateStruct(obs))
	}

	bar := got[0].Bar
	assert.GreaterOrEqual(t, bar.High, bar.Low)
	assert.GreaterOrEqual(t, bar.High, bar.Close)
	assert.LessOrEqual(t, bar.Low, bar.Open)
}

func TestTick_RandomWalkContinues(t *testing.T) {
	s := newTestSession()

	var bars []*models.MObservation
	require.NoError(t, s.Subscribe(models.EventKindBar, func(obs *models.MObservation) { bars = append(bars, obs) }, "AAPL"))

	now := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	s.Tick(now)
	s.Tick(now.Add(time.Minute))

	require.Len(t, bars, 2)
	assert.InDelta(t, bars[0].Bar.Close, bars[1].Bar.Open, 0.011)
}

func TestTick_CorrectsPreviousBar(t *testing.T) {
	s := newTestSession()

	var got []*models.MObservation
	collect := func(obs *models.MObservation) { got = append(got, obs) }
	require.NoError(t, s.Subscribe(models.EventKindBar, collect, "AAPL"))
	require.NoError(t, s.Subscribe(models.EventKindUpdatedBar, collect, "AAPL", "MSFT"))

	first := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)
	s.Tick(first)
	require.Len(t, got, 1, "nothing to correct on the first tick")
	original := *got[0].Bar

	s.Tick(first.Add(time.Minute))
	require.Len(t, got, 3)

	updated := got[1]
	assert.Equal(t, models.EventKindUpdatedBar, updated.Kind)
	assert.Equal(t, "AAPL", updated.Symbol)
	assert.Equal(t, first, updated.Timestamp)
	assert.Equal(t, original.Interval, updated.Bar.Interval)
	assert.Equal(t, original.Open, updated.Bar.Open)
	assert.Greater(t, updated.Bar.Volume, original.Volume)
	assert.GreaterOrEqual(t, updated.Bar.High, updated.Bar.Close)
	assert.LessOrEqual(t, updated.Bar.Low, updated.Bar.Close)
	assert.NoError(t, helpers.ValidateStruct(updated))

	assert.Equal(t, models.EventKindBar, got[2].Kind)
	assert.Equal(t, first.Add(time.Minute), got[2].Timestamp)

	require.NoError(t, s.Unsubscribe(models.EventKindBar, "AAPL"))
	s.Tick(first.Add(2 * time.Minute))
	s.Tick(first.Add(3 * time.Minute))
	require.Len(t, got, 4, "each bar is corrected at most once")
	assert.Equal(t, first.Add(time.Minute), got[3].Timestamp)
}

func TestRun_StopsOnStopAndContext(t *testing.T) {
	s := newTestSession()
	emitted := make(chan *models.MObservation, 64)
	require.NoError(t, s.Subscribe(models.EventKindBar, func(obs *models.MObservation) {
		select {
		case emitted <- obs:
		default:
		}
	}, "BTC/USD"))

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("no observation emitted")
	}

	require.NoError(t, s.Stop())
	require.NoError(t, s.Stop())
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Stop")
	}

	assert.ErrorIs(t, s.Subscribe(models.EventKindBar, nil, "ETH/USD"), helpers.ErrSessionStopped)

	s2 := newTestSession()
	ctx, cancel := context.WithCancel(context.Background())
	go func() { done <- s2.Run(ctx) }()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestFactory_OpenNeverFails(t *testing.T) {
	logger.SetOutput(io.Discard)
	f, err := NewFactory(&models.MAssetClassConfig{Name: "crypto", SimulateIntervalSeconds: 5}, logger.NewLogger(nil, "simulated-test"))
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, f.(*Factory).Interval)

	sess, err := f.Open(context.Background(), models.AssetClassCrypto, models.MCredentials{})
	require.NoError(t, err)
	assert.Equal(t, models.AssetClassCrypto, sess.AssetClass())
	assert.NotEmpty(t, sess.ID())
}
