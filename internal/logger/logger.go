// Package logger builds the application's hclog loggers.
package logger

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/mantonx/viewra-artwork/internal/config"
)

var (
	root   hclog.Logger
	rootMu sync.RWMutex
)

// New creates a logger from the logging configuration. Unknown levels fall
// back to info.
func New(name string, cfg config.LoggingConfig) hclog.Logger {
	return newWithOutput(name, cfg, os.Stderr)
}

func newWithOutput(name string, cfg config.LoggingConfig, out io.Writer) hclog.Logger {
	level := hclog.LevelFromString(cfg.Level)
	if level == hclog.NoLevel {
		level = hclog.Info
	}

	return hclog.New(&hclog.LoggerOptions{
		Name:            name,
		Level:           level,
		Output:          out,
		JSONFormat:      strings.EqualFold(cfg.Format, "json"),
		IncludeLocation: level == hclog.Trace,
	})
}

// SetDefault installs the process-wide logger returned by Default.
func SetDefault(l hclog.Logger) {
	rootMu.Lock()
	defer rootMu.Unlock()
	root = l
}

// Default returns the process-wide logger, or hclog's default when none was
// installed.
func Default() hclog.Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	if root == nil {
		return hclog.Default()
	}
	return root
}
