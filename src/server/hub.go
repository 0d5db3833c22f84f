package server

import (
	"encoding/json"
	"net/http"
	"time"

	"market-streamer/src/models"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// -----------------------------------------------------------------------------
// Hub Pattern Implementation
// -----------------------------------------------------------------------------

// handleWebsockets is the main Hub loop
func (s *FastAPIServer) handleWebsockets() {
	for {
		select {
		case <-s.quit:
			for client := range s.clients {
				delete(s.clients, client)
				client.close()
			}
			s.setConnections(0)
			return

		case client := <-s.register:
			s.clients[client] = struct{}{}
			s.setConnections(len(s.clients))
			// Send initial state on connect
			client.trySend(s.initialEvent(""))

		case client := <-s.unregister:
			if _, ok := s.clients[client]; ok {
				delete(s.clients, client)
				client.close()
				s.setConnections(len(s.clients))
			}

		case event := <-s.broadcast:
			for client := range s.clients {
				if !client.wants(event) {
					continue
				}
				if !client.trySend(event) {
					// Client too slow, disconnect to keep the hub moving
					delete(s.clients, client)
					client.close()
					s.Logger.Warning("Dropping slow websocket client %s", client.conn.RemoteAddr())
				}
			}
			s.setConnections(len(s.clients))
		}
	}
}

func (s *FastAPIServer) setConnections(n int) {
	s.stateMutex.Lock()
	s.connections = n
	s.stateMutex.Unlock()
}

func (s *FastAPIServer) initialEvent(assetClass string) *models.MStatusEvent {
	statuses := s.Statuses()
	if assetClass != "" {
		filtered := statuses[:0]
		for _, st := range statuses {
			if string(st.AssetClass) == assetClass {
				filtered = append(filtered, st)
			}
		}
		statuses = filtered
	}
	return &models.MStatusEvent{
		Type:      models.EventTypeInitial,
		Statuses:  statuses,
		Timestamp: time.Now().UnixMilli(),
	}
}

// -----------------------------------------------------------------------------
// Data Exchange Interface Implementation
// -----------------------------------------------------------------------------

// OnStatus caches the snapshot and pushes it to dashboard clients.
func (s *FastAPIServer) OnStatus(status models.MSessionStatus) {
	s.stateMutex.Lock()
	s.statuses[status.AssetClass] = status
	s.stateMutex.Unlock()

	s.enqueue(&models.MStatusEvent{
		Type:      models.EventTypeStatus,
		Statuses:  []models.MSessionStatus{status},
		Timestamp: time.Now().UnixMilli(),
	})
}

// OnObservation pushes a stored observation to subscribed clients.
func (s *FastAPIServer) OnObservation(obs *models.MObservation) {
	s.stateMutex.Lock()
	s.lastObservation = time.Now()
	s.stateMutex.Unlock()

	s.enqueue(&models.MStatusEvent{
		Type:        models.EventTypeObservation,
		Observation: obs,
		Timestamp:   time.Now().UnixMilli(),
	})
}

// enqueue never blocks the caller; a full queue drops the event.
func (s *FastAPIServer) enqueue(event *models.MStatusEvent) {
	select {
	case s.broadcast <- event:
	default:
		s.Logger.Debug("Broadcast queue full, dropping %s event", event.Type)
	}
}

// -----------------------------------------------------------------------------
// WebSocket Handlers
// -----------------------------------------------------------------------------

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Info("Failed to upgrade websocket: %v", err)
		return
	}

	client := newClient(s, conn)

	select {
	case s.register <- client:
	case <-s.quit:
		conn.Close()
		return
	}

	// Start goroutines for reading/writing
	go client.writePump()
	go client.readPump()
}

// -----------------------------------------------------------------------------
// Client Message Handling
// -----------------------------------------------------------------------------

// HandleClientMessage applies a subscribe/unsubscribe command to the client's filter.
func (s *FastAPIServer) HandleClientMessage(client *Client, message []byte) {
	var cmd models.MSubscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		s.Logger.Info("Failed to parse client command: %v, disconnecting client", err)
		client.conn.Close()
		return
	}

	switch cmd.Command {
	case "subscribe":
		client.setFilter(cmd.AssetClass, cmd.Symbols)
		client.trySend(s.initialEvent(cmd.AssetClass))
	case "unsubscribe":
		client.clearFilter()
	default:
		s.Logger.Debug("Ignoring unknown client command '%s'", cmd.Command)
	}
}
