package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/energizer-project/craftkeeper/internal/util"
)

var errInvalidPort = errors.New("invalid port")

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// handleMonitorStatus returns the current view of every monitored target.
func (s *Server) handleMonitorStatus(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor is disabled"})
		return
	}

	snap := s.monitor.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"targets":      snap,
		"total":        len(snap),
		"interval_sec": int(s.monitor.Interval().Seconds()),
	})
}

// handleProbeNow probes a monitored target immediately and records it.
func (s *Server) handleProbeNow(c *gin.Context) {
	if s.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor is disabled"})
		return
	}

	key := c.DefaultQuery("target", s.cfg.PrimaryTarget().String())
	for _, t := range s.monitor.Targets() {
		if t.String() == key {
			out := s.monitor.ProbeNow(c.Request.Context(), t)
			c.JSON(http.StatusOK, out.Report())
			return
		}
	}

	c.JSON(http.StatusNotFound, gin.H{
		"error":  "target is not monitored",
		"target": key,
	})
}

// handleMonitorHistory returns recent probes, newest first. Persistent
// history is used when available; otherwise the monitor's in-memory window.
func (s *Server) handleMonitorHistory(c *gin.Context) {
	limit := queryInt(c, "limit", defaultHistoryLimit)
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	target := c.Query("target")

	if s.history != nil {
		records, err := s.history.RecentProbes(target, limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"source":  "database",
			"target":  target,
			"entries": records,
			"count":   len(records),
		})
		return
	}

	if s.monitor == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history and monitor are disabled"})
		return
	}

	if target == "" {
		target = s.cfg.PrimaryTarget().String()
	}
	samples, ok := s.monitor.History(target, limit)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "target is not monitored",
			"target": target,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"source":  "memory",
		"target":  target,
		"entries": samples,
		"count":   len(samples),
	})
}

// handleMonitorUptime returns uptime statistics over the last ?hours=
// (default 24) from the history store.
func (s *Server) handleMonitorUptime(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history is disabled"})
		return
	}

	hours := queryInt(c, "hours", 24)
	if hours < 1 || hours > 24*365 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "hours must be between 1 and 8760"})
		return
	}

	target := c.DefaultQuery("target", s.cfg.PrimaryTarget().String())
	since := time.Now().Add(-time.Duration(hours) * time.Hour)

	stats, err := s.history.Uptime(target, since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stats)
}

// handleSystemUsage returns host CPU, memory and disk load plus the
// craftkeeper process itself.
func (s *Server) handleSystemUsage(c *gin.Context) {
	usage, err := util.GetHostUsage(s.cfg.DiskPath())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, usage)
}

// handleGetLogEntries returns the last ?count= entries of today's log.
func (s *Server) handleGetLogEntries(c *gin.Context) {
	count := queryInt(c, "count", 100)
	if count < 1 {
		count = 100
	}
	if count > maxHistoryLimit {
		count = maxHistoryLimit
	}

	logDir := s.cfg.GetApplicationData().Logging.Directory
	entries, err := readRecentLogEntries(logDir, count)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

func queryInt(c *gin.Context, key string, def int) int {
	raw := c.Query(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

// logEntry is a parsed log line.
type logEntry struct {
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Component string                 `json:"component,omitempty"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
}

// readRecentLogEntries parses the last count JSON lines of the newest
// craftkeeper log file in logDir.
func readRecentLogEntries(logDir string, count int) ([]logEntry, error) {
	names, err := util.LogFiles(logDir)
	if os.IsNotExist(err) || (err == nil && len(names) == 0) {
		return []logEntry{}, nil
	}
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(logDir, names[len(names)-1]))
	if err != nil {
		return nil, fmt.Errorf("failed to read log file: %w", err)
	}

	lines := strings.Split(string(data), "\n")
	start := len(lines) - count - 1
	if start < 0 {
		start = 0
	}

	knownKeys := map[string]bool{
		"level": true, "time": true, "message": true,
		"component": true, "app": true,
	}

	result := make([]logEntry, 0, count)
	for _, line := range lines[start:] {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			result = append(result, logEntry{Message: line})
			continue
		}

		entry := logEntry{
			Timestamp: stringFromMap(raw, "time"),
			Level:     stringFromMap(raw, "level"),
			Component: stringFromMap(raw, "component"),
			Message:   stringFromMap(raw, "message"),
		}

		extra := make(map[string]interface{})
		for k, v := range raw {
			if !knownKeys[k] {
				extra[k] = v
			}
		}
		if len(extra) > 0 {
			entry.Fields = extra
		}

		result = append(result, entry)
	}

	if len(result) > count {
		result = result[len(result)-count:]
	}
	return result, nil
}

// stringFromMap extracts a value from m as a string, "" if missing.
func stringFromMap(m map[string]interface{}, key string) string {
	if v, ok := m[key]; ok {
		return fmt.Sprintf("%v", v)
	}
	return ""
}
