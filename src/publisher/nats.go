package publisher

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/nats-io/nats.go"
)

// conn is the part of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	ConnectedUrl() string
	Close()
}

// -----------------------------------------------------------------------------
// NATSPublisher fans stored observations out on NATS core subjects
// -----------------------------------------------------------------------------

type NATSPublisher struct {
	name   string
	config *models.MPublisherConfig
	logger *logger.Logger

	mu        sync.RWMutex
	nc        conn
	connected bool

	dial func() (conn, error)
}

var _ interfaces.IPublisher = (*NATSPublisher)(nil)

// -----------------------------------------------------------------------------

func NewNATSPublisher(config *models.MPublisherConfig, log *logger.Logger) *NATSPublisher {
	np := &NATSPublisher{
		name:   config.ClientID,
		config: config,
		logger: log,
	}
	np.dial = np.connectNATS
	return np
}

// -----------------------------------------------------------------------------

// Subject builds <prefix>.<asset_class>.<kind>.<symbol>. Separators inside the
// symbol are flattened so every observation stays on a four-token subject.
func Subject(prefix string, obs *models.MObservation) string {
	symbol := strings.NewReplacer(".", "_", "/", "_", " ", "_", "*", "_", ">", "_").Replace(obs.Symbol)
	return fmt.Sprintf("%s.%s.%s.%s", prefix, obs.AssetClass, obs.Kind, symbol)
}

// OnObservation publishes one stored observation as JSON. Failures are only logged.
func (np *NATSPublisher) OnObservation(obs *models.MObservation) {
	subject := Subject(np.config.SubjectPrefix, obs)

	payload, err := json.Marshal(obs)
	if err != nil {
		np.logger.Error("%s : failed to serialize %s for %s: %v", np.name, obs.Kind, subject, err)
		return
	}

	if err := np.Publish(subject, payload); err != nil {
		np.logger.Error("%s : failed to publish %s %s on %s: %v", np.name, obs.Kind, obs.Symbol, subject, err)
	}
}

// Publish sends raw data to a NATS core subject (fire-and-forget).
func (np *NATSPublisher) Publish(subject string, data []byte) error {
	np.mu.RLock()
	nc, connected := np.nc, np.connected
	np.mu.RUnlock()

	if !connected || nc == nil {
		return fmt.Errorf("nats client not connected")
	}
	return nc.Publish(subject, data)
}

// -----------------------------------------------------------------------------

// Connect dials the first configured server.
func (np *NATSPublisher) Connect() error {
	nc, err := np.dial()
	if err != nil {
		return fmt.Errorf("nats connection failed: %w", err)
	}

	np.mu.Lock()
	np.nc = nc
	np.connected = true
	np.mu.Unlock()

	np.logger.Info("%s : connected to NATS at %s, subjects %s.>", np.name, nc.ConnectedUrl(), np.config.SubjectPrefix)
	return nil
}

func (np *NATSPublisher) connectNATS() (conn, error) {
	if len(np.config.Servers) == 0 {
		return nil, fmt.Errorf("no NATS servers configured")
	}

	opts := []nats.Option{
		nats.Name(np.config.ClientID),
		nats.Timeout(time.Duration(np.config.ConnectTimeoutSeconds) * time.Second),
		nats.MaxReconnects(np.config.MaxReconnects),
		nats.RetryOnFailedConnect(true),
		nats.ClosedHandler(func(nc *nats.Conn) {
			np.logger.Warning("%s : NATS connection closed", np.name)
			np.setConnected(false)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			np.logger.Warning("%s : NATS disconnected, attempting reconnect: %v", np.name, err)
			np.setConnected(false)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			np.logger.Info("%s : NATS reconnected to %s", np.name, nc.ConnectedUrl())
			np.setConnected(true)
		}),
	}

	nc, err := nats.Connect(strings.Join(np.config.Servers, ","), opts...)
	if err != nil {
		return nil, err
	}
	return nc, nil
}

// Disconnect closes the connection. Calling it twice is harmless.
func (np *NATSPublisher) Disconnect() error {
	np.mu.Lock()
	nc := np.nc
	np.nc = nil
	np.connected = false
	np.mu.Unlock()

	if nc != nil {
		nc.Close()
		np.logger.Info("%s : disconnected from NATS", np.name)
	}
	return nil
}

func (np *NATSPublisher) IsConnected() bool {
	np.mu.RLock()
	defer np.mu.RUnlock()
	return np.connected
}

func (np *NATSPublisher) setConnected(v bool) {
	np.mu.Lock()
	np.connected = v
	np.mu.Unlock()
}
