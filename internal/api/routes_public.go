package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/craftkeeper/internal/config"
	"github.com/energizer-project/craftkeeper/internal/ping"
	"github.com/energizer-project/craftkeeper/internal/util"
)

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "craftkeeper",
		"version": s.version,
	})
}

// handleGetServerInfo returns host information and the probe setup.
func (s *Server) handleGetServerInfo(c *gin.Context) {
	pingData := s.cfg.GetPingData()

	c.JSON(http.StatusOK, gin.H{
		"version":            s.version,
		"uptime_seconds":     int64(time.Since(s.started).Seconds()),
		"primary_target":     s.cfg.PrimaryTarget().String(),
		"extra_targets":      len(pingData.ExtraTargets),
		"connect_timeout_ms": s.prober.ConnectTimeout().Milliseconds(),
		"overall_timeout_ms": s.prober.OverallTimeout().Milliseconds(),
		"monitor_enabled":    s.monitor != nil,
		"history_enabled":    s.history != nil,
		"system":             util.GetSystemInfo(),
	})
}

// handleGetVersion returns the craftkeeper version.
func (s *Server) handleGetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"version": s.version,
		"name":    "craftkeeper",
	})
}

// handlePingMinecraftServer returns the collapsed {online, latency} answer
// for the configured server, or for ?address=&port= when given.
func (s *Server) handlePingMinecraftServer(c *gin.Context) {
	target := s.cfg.PrimaryTarget()
	if c.Query("address") != "" {
		t, err := targetFromQuery(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		target = t
	}

	c.JSON(http.StatusOK, s.prober.Probe(c.Request.Context(), target))
}

// handleProbe runs a probe and returns the full diagnostic report.
func (s *Server) handleProbe(c *gin.Context) {
	target, err := targetFromQuery(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out := s.prober.Run(c.Request.Context(), target)
	c.JSON(http.StatusOK, out.Report())
}

// targetFromQuery reads ?address= and the optional ?port=.
func targetFromQuery(c *gin.Context) (ping.Target, error) {
	target := ping.Target{
		Address: c.Query("address"),
		Port:    config.DefaultPingPort,
	}

	if portStr := c.Query("port"); portStr != "" {
		port, err := strconv.ParseUint(portStr, 10, 16)
		if err != nil {
			return ping.Target{}, errInvalidPort
		}
		target.Port = uint16(port)
	}

	if err := target.Validate(); err != nil {
		return ping.Target{}, err
	}
	return target, nil
}
