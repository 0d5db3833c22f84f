package server

import (
	"sync"
	"time"

	"market-streamer/src/models"
	"market-streamer/src/utils"

	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Constants
// -----------------------------------------------------------------------------

const (
	writeWait      = 2 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// -----------------------------------------------------------------------------
// Client Structure
// -----------------------------------------------------------------------------

type Client struct {
	hub  *FastAPIServer
	conn *websocket.Conn
	send chan *models.MStatusEvent

	mu         sync.Mutex
	closed     bool
	subscribed bool
	assetClass string
	symbols    utils.SymbolSet
}

func newClient(hub *FastAPIServer, conn *websocket.Conn) *Client {
	return &Client{
		hub:  hub,
		conn: conn,
		// Buffered channel to prevent blocking the Hub loop
		send: make(chan *models.MStatusEvent, sendBuffer),
	}
}

// -----------------------------------------------------------------------------

// trySend queues event without blocking; false means the buffer is full or closed.
func (c *Client) trySend(event *models.MStatusEvent) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- event:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// setFilter starts the observation feed. An empty asset class or symbol list
// matches everything.
func (c *Client) setFilter(assetClass string, symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = true
	c.assetClass = assetClass
	c.symbols = utils.NewSymbolSet(symbols...)
}

func (c *Client) clearFilter() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribed = false
	c.assetClass = ""
	c.symbols = nil
}

// wants reports whether event passes the client's filter. Status events
// always pass; observations only after a subscribe command.
func (c *Client) wants(event *models.MStatusEvent) bool {
	if event.Type != models.EventTypeObservation {
		return true
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	obs := event.Observation
	switch {
	case !c.subscribed || obs == nil:
		return false
	case c.assetClass != "" && string(obs.AssetClass) != c.assetClass:
		return false
	case c.symbols.Len() > 0 && !c.symbols.Contains(obs.Symbol):
		return false
	}
	return true
}

// -----------------------------------------------------------------------------
// readPump - handles incoming messages from client
// Act as a Watchdog for the connection
// -----------------------------------------------------------------------------

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.quit:
		}
		c.conn.Close()
		c.hub.Logger.Info("Client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.Logger.Info("WebSocket error: %v", err)
			}
			break
		}
		// Handle the message (subscribe commands)
		c.hub.HandleClientMessage(c, message)
	}
}

// -----------------------------------------------------------------------------
// writePump - sends messages to client
// -----------------------------------------------------------------------------

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// Write JSON message
			if err := c.conn.WriteJSON(message); err != nil {
				c.hub.Logger.Info("Write error: %v", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
