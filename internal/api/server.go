// Package api exposes probes, monitor state and probe history over HTTP.
package api

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/db"
	"github.com/energizer-project/craftkeeper/internal/monitor"
	intnet "github.com/energizer-project/craftkeeper/internal/network"
	"github.com/energizer-project/craftkeeper/internal/ping"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// HistoryReader is the read side of the probe history store.
// *db.HistoryDatabase satisfies it.
type HistoryReader interface {
	RecentProbes(target string, limit int) ([]db.ProbeRecord, error)
	Uptime(target string, since time.Time) (db.UptimeStats, error)
}

// Server is the REST API server.
type Server struct {
	cfg     *config.Config
	prober  *ping.Prober
	monitor *monitor.Monitor
	history HistoryReader
	version string
	started time.Time
	logger  zerolog.Logger

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. mon may be nil when the monitor is
// disabled.
func NewServer(cfg *config.Config, prober *ping.Prober, mon *monitor.Monitor, version string) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		prober:  prober,
		monitor: mon,
		version: version,
		started: time.Now(),
		logger:  util.ComponentLogger("api"),
	}
	s.router = s.buildRouter()
	return s
}

// SetHistory attaches the persistent history store. Without one the
// uptime endpoint answers 503 and history is served from memory.
func (s *Server) SetHistory(h HistoryReader) {
	s.history = h
}

// Handler returns the HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	api := s.cfg.GetApplicationData().API
	return net.JoinHostPort(api.Host, strconv.Itoa(api.Port))
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := intnet.Listen(ctx, s.Addr())
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	api := s.cfg.GetApplicationData().API

	s.httpServer = &http.Server{
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	if api.TLSEnabled {
		tlsLn, tlsCfg, err := intnet.WrapTLS(ln, api.TLSCertFile, api.TLSKeyFile)
		if err != nil {
			return err
		}
		s.httpServer.TLSConfig = tlsCfg
		ln = tlsLn
	}

	s.logger.Info().
		Str("addr", ln.Addr().String()).
		Bool("tls", api.TLSEnabled).
		Msg("REST API server starting")

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}

	s.logger.Info().Msg("REST API server stopped")
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	app := s.cfg.GetApplicationData()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger(s.logger))
	router.Use(SecurityHeaders())

	allowedOrigins := app.API.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(app.API.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/get_server_info", s.handleGetServerInfo)
		public.GET("/get_version", s.handleGetVersion)
	}

	api := router.Group("/api")
	{
		api.GET("/ping_minecraft_server", s.handlePingMinecraftServer)
		api.GET("/probe", s.handleProbe)
	}

	mon := router.Group("/api/monitor")
	{
		mon.GET("/status", s.handleMonitorStatus)
		mon.POST("/probe_now", s.handleProbeNow)
		mon.GET("/history", s.handleMonitorHistory)
		mon.GET("/uptime", s.handleMonitorUptime)
		mon.GET("/system", s.handleSystemUsage)
		mon.GET("/log_entries", s.handleGetLogEntries)
	}

	if app.Monitor.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not found",
			"service": "craftkeeper",
		})
	})

	return router
}
