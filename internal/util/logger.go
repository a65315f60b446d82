// Package util provides logging and host helpers shared by every craftkeeper
// component.
package util

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const logFilePrefix = "craftkeeper_"

// LogConfig holds configuration for the logging system.
type LogConfig struct {
	Level      string `json:"level"`
	Directory  string `json:"directory"`
	MaxBackups int    `json:"max_backups"`
	Console    bool   `json:"console"`
}

// DefaultLogConfig returns the default logging configuration.
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      "info",
		Directory:  "logs",
		MaxBackups: 7,
		Console:    true,
	}
}

// LogFileName is the file a given day's JSON log is written to.
func LogFileName(day time.Time) string {
	return logFilePrefix + day.Format("2006-01-02") + ".log"
}

// dailyFile appends to LogFileName(today) in dir, switching files when the
// date changes and pruning old ones after each switch.
type dailyFile struct {
	mu         sync.Mutex
	dir        string
	maxBackups int
	now        func() time.Time

	day  string
	file *os.File
}

func newDailyFile(dir string, maxBackups int) (*dailyFile, error) {
	if err := EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create log directory %s: %w", dir, err)
	}
	d := &dailyFile{dir: dir, maxBackups: maxBackups, now: time.Now}
	if err := d.rollLocked(d.now()); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *dailyFile) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.file == nil {
		return 0, os.ErrClosed
	}
	now := d.now()
	if now.Format("2006-01-02") != d.day {
		if err := d.rollLocked(now); err != nil {
			return 0, err
		}
	}
	return d.file.Write(p)
}

func (d *dailyFile) rollLocked(now time.Time) error {
	path := filepath.Join(d.dir, LogFileName(now))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file %s: %w", path, err)
	}
	if d.file != nil {
		d.file.Close()
	}
	d.file = f
	d.day = now.Format("2006-01-02")

	go cleanOldLogs(d.dir, d.maxBackups)
	return nil
}

// Path returns the file currently written to.
func (d *dailyFile) Path() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return ""
	}
	return d.file.Name()
}

// Close releases the current file. Later writes fail with os.ErrClosed.
func (d *dailyFile) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.file == nil {
		return nil
	}
	err := d.file.Close()
	d.file = nil
	return err
}

// activeLog is the daily file behind the installed global logger, closed
// when InitLogger replaces it.
var (
	activeLogMu sync.Mutex
	activeLog   *dailyFile
)

// InitLogger installs the zerolog global logger. JSON goes to a daily file
// when a directory is set; the console writer uses stderr so command
// output on stdout stays clean.
func InitLogger(cfg LogConfig) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339

	var (
		writers []io.Writer
		logPath string
		file    *dailyFile
	)
	if cfg.Directory != "" {
		file, err = newDailyFile(cfg.Directory, cfg.MaxBackups)
		if err != nil {
			return err
		}
		writers = append(writers, file)
		logPath = file.Path()
	}
	if cfg.Console || len(writers) == 0 {
		writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"})
	}

	log.Logger = zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().
		Timestamp().
		Str("app", "craftkeeper").
		Logger()

	activeLogMu.Lock()
	previous := activeLog
	activeLog = file
	activeLogMu.Unlock()
	if previous != nil {
		previous.Close()
	}

	log.Debug().Str("level", level.String()).Str("log_file", logPath).Msg("logger initialized")
	return nil
}

// cleanOldLogs keeps the newest maxBackups log files.
func cleanOldLogs(directory string, maxBackups int) {
	if maxBackups <= 0 {
		return
	}

	names, err := LogFiles(directory)
	if err != nil || len(names) <= maxBackups {
		return
	}
	for _, name := range names[:len(names)-maxBackups] {
		path := filepath.Join(directory, name)
		if err := os.Remove(path); err == nil {
			log.Debug().Str("file", path).Msg("removed old log file")
		}
	}
}

// LogFiles lists craftkeeper log file names in directory, oldest first.
func LogFiles(directory string) ([]string, error) {
	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, err
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() && strings.HasPrefix(name, logFilePrefix) && filepath.Ext(name) == ".log" {
			names = append(names, name)
		}
	}
	// Names carry the date, so lexical order is age order.
	sort.Strings(names)
	return names, nil
}

// ComponentLogger creates a logger with a component name field.
func ComponentLogger(component string) zerolog.Logger {
	return log.With().Str("component", component).Logger()
}
