package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"market-streamer/src/ingest"
	"market-streamer/src/interfaces"
	"market-streamer/src/logger"
	"market-streamer/src/models"

	"github.com/gin-gonic/gin"
)

// -----------------------------------------------------------------------------
// FastAPIServer
// -----------------------------------------------------------------------------

type FastAPIServer struct {
	Config *models.MConfig
	Logger *logger.Logger
	engine *gin.Engine
	http   *http.Server

	// IngestStats is optional; /api/health reports it when set.
	IngestStats func() ingest.Stats

	// WebSocket clients
	clients    map[*Client]struct{}
	broadcast  chan *models.MStatusEvent // Buffered queue
	register   chan *Client
	unregister chan *Client
	quit       chan struct{}
	hubOnce    sync.Once
	stopOnce   sync.Once

	// Local cache
	statuses        map[models.AssetClass]models.MSessionStatus
	lastObservation time.Time
	stateMutex      sync.RWMutex
	connections     int
}

var _ interfaces.IDataExchanger = (*FastAPIServer)(nil)

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewFastAPIServer(cfg *models.MConfig, logger *logger.Logger) *FastAPIServer {
	// Set Gin mode
	if strings.ToUpper(cfg.LogLevel) != "DEBUG" && gin.Mode() != gin.TestMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &FastAPIServer{
		Config:  cfg,
		Logger:  logger,
		engine:  gin.Default(),
		clients: make(map[*Client]struct{}),
		// Bursts of observations must never block a session's run goroutine
		broadcast:  make(chan *models.MStatusEvent, 1024),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		quit:       make(chan struct{}),
		statuses:   make(map[models.AssetClass]models.MSessionStatus),
	}

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "OPTIONS, GET")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	})

	// setup web routes
	s.setupRoutes()
	return s
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *FastAPIServer) setupRoutes() {
	// REST API endpoints
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/sessions", s.getSessions)
	s.engine.GET("/api/sessions/:asset_class", s.getSession)
	s.engine.GET("/api/config", s.getConfig)

	// WebSocket endpoint
	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler exposes the routes, mainly for httptest.
func (s *FastAPIServer) Handler() http.Handler {
	return s.engine
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Start serves until Stop. It blocks.
func (s *FastAPIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s", addr)

	s.startHub()

	s.stateMutex.Lock()
	s.http = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	srv := s.http
	s.stateMutex.Unlock()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *FastAPIServer) startHub() {
	s.hubOnce.Do(func() { go s.handleWebsockets() })
}

// -----------------------------------------------------------------------------

// Stop shuts the HTTP listener down and disconnects websocket clients.
func (s *FastAPIServer) Stop(ctx context.Context) error {
	var err error
	s.stopOnce.Do(func() {
		close(s.quit)

		s.stateMutex.RLock()
		srv := s.http
		s.stateMutex.RUnlock()
		if srv != nil {
			err = srv.Shutdown(ctx)
		}
	})
	return err
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *FastAPIServer) getHealth(c *gin.Context) {
	statuses := s.Statuses()

	status := "ok"
	halted := []string{}
	running := 0
	for _, st := range statuses {
		switch st.State {
		case models.StateHalted:
			halted = append(halted, string(st.AssetClass))
		case models.StateRunning:
			running++
		}
	}
	if len(halted) > 0 {
		status = "degraded"
	}

	s.stateMutex.RLock()
	connections := s.connections
	latest := s.lastObservation
	s.stateMutex.RUnlock()

	body := gin.H{
		"status":        status,
		"asset_classes": len(statuses),
		"running":       running,
		"halted":        halted,
		"connections":   connections,
		"latest_update": latest.UnixMilli(),
	}
	if latest.IsZero() {
		body["latest_update"] = int64(0)
	}
	if s.IngestStats != nil {
		body["ingest"] = s.IngestStats()
	}
	c.JSON(http.StatusOK, body)
}

// -----------------------------------------------------------------------------

func (s *FastAPIServer) getSessions(c *gin.Context) {
	c.JSON(http.StatusOK, s.Statuses())
}

func (s *FastAPIServer) getSession(c *gin.Context) {
	ac := models.AssetClass(strings.ToLower(c.Param("asset_class")))

	s.stateMutex.RLock()
	st, ok := s.statuses[ac]
	s.stateMutex.RUnlock()

	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("unknown asset class '%s'", ac)})
		return
	}
	c.JSON(http.StatusOK, st)
}

// -----------------------------------------------------------------------------

// getConfig returns the configuration without credentials or connection strings.
func (s *FastAPIServer) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":      s.Config.Name,
		"log_level": s.Config.LogLevel,
		"storage": gin.H{
			"db_type":          s.Config.Storage.DBType,
			"schema":           s.Config.Storage.Schema,
			"write_timeout_ms": s.Config.Storage.WriteTimeoutMs,
			"refresh_views":    s.Config.Storage.RefreshViews,
		},
		"publisher": gin.H{
			"enabled":        s.Config.Publisher.Enabled,
			"subject_prefix": s.Config.Publisher.SubjectPrefix,
		},
		"asset_classes": s.Config.AssetClasses,
	})
}

// -----------------------------------------------------------------------------

// Statuses returns the cached snapshots ordered by asset class.
func (s *FastAPIServer) Statuses() []models.MSessionStatus {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()

	out := make([]models.MSessionStatus, 0, len(s.statuses))
	for _, st := range s.statuses {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetClass < out[j].AssetClass })
	return out
}
