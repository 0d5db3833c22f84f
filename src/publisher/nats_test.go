package publisher

import (
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type message struct {
	subject string
	data    []byte
}

type fakeConn struct {
	mu     sync.Mutex
	sent   []message
	err    error
	closed bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.sent = append(c.sent, message{subject, data})
	return nil
}

func (c *fakeConn) ConnectedUrl() string { return "nats://fake:4222" }

func (c *fakeConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func newTestPublisher(fc *fakeConn, dialErr error) *NATSPublisher {
	logger.SetOutput(io.Discard)
	np := NewNATSPublisher(&models.MPublisherConfig{
		ClientID:      "test",
		SubjectPrefix: "market",
	}, logger.NewLogger(nil, "publisher-test"))
	np.dial = func() (conn, error) {
		if dialErr != nil {
			return nil, dialErr
		}
		return fc, nil
	}
	return np
}

func TestSubject(t *testing.T) {
	tests := []struct {
		name string
		obs  models.MObservation
		want string
	}{
		{"equity bar", models.MObservation{AssetClass: models.AssetClassEquity, Kind: models.EventKindBar, Symbol: "AAPL"}, "market.equity.bar.AAPL"},
		{"crypto pair", models.MObservation{AssetClass: models.AssetClassCrypto, Kind: models.EventKindTrade, Symbol: "BTC/USD"}, "market.crypto.trade.BTC_USD"},
		{"dotted share class", models.MObservation{AssetClass: models.AssetClassEquity, Kind: models.EventKindUpdatedBar, Symbol: "BRK.B"}, "market.equity.updated_bar.BRK_B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Subject("market", &tt.obs))
		})
	}
}

func TestNATSPublisher_PublishesJSON(t *testing.T) {
	fc := &fakeConn{}
	np := newTestPublisher(fc, nil)
	require.NoError(t, np.Connect())
	assert.True(t, np.IsConnected())

	ts := time.Date(2024, 6, 17, 14, 30, 0, 0, time.UTC)
	np.OnObservation(&models.MObservation{
		Kind:       models.EventKindBar,
		AssetClass: models.AssetClassEquity,
		Symbol:     "AAPL",
		Timestamp:  ts,
		Bar:        &models.MBar{Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 100, Interval: 1},
	})

	require.Len(t, fc.sent, 1)
	assert.Equal(t, "market.equity.bar.AAPL", fc.sent[0].subject)

	var got models.MObservation
	require.NoError(t, json.Unmarshal(fc.sent[0].data, &got))
	assert.Equal(t, "AAPL", got.Symbol)
	assert.True(t, ts.Equal(got.Timestamp))
	assert.Equal(t, 1.5, got.Bar.Close)

	require.NoError(t, np.Disconnect())
	assert.True(t, fc.closed)
	assert.False(t, np.IsConnected())
	assert.NoError(t, np.Disconnect())
}

func TestNATSPublisher_FailuresAreSwallowed(t *testing.T) {
	obs := &models.MObservation{Kind: models.EventKindTrade, AssetClass: models.AssetClassCrypto, Symbol: "ETH/USD"}

	np := newTestPublisher(&fakeConn{}, nil)
	assert.NotPanics(t, func() { np.OnObservation(obs) }, "not connected")
	assert.Error(t, np.Publish("x", nil))

	fc := &fakeConn{err: errors.New("slow consumer")}
	np = newTestPublisher(fc, nil)
	require.NoError(t, np.Connect())
	assert.NotPanics(t, func() { np.OnObservation(obs) })
	assert.Empty(t, fc.sent)
}

func TestNATSPublisher_ConnectError(t *testing.T) {
	np := newTestPublisher(nil, errors.New("no servers available"))
	err := np.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nats connection failed")
	assert.False(t, np.IsConnected())
}
