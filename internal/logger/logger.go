// Package logger configures the leveled loggers shared by the flic
// packages and binaries.
package logger

import (
	"os"
	"strings"

	"github.com/op/go-logging"
)

var stderrFormat = logging.MustStringFormatter(
	`%{time:15:04:05.000} %{level:.4s} %{module} ▶ %{message}`,
)

// Modules configured by Setup. Packages obtain their logger with
// logging.MustGetLogger using one of these names.
var modules = []string{"flic", "gateway", "api", "ctl"}

// Setup installs a stderr backend for every module. FLIC_LOG_LEVEL, when
// set, overrides defaultLevel.
func Setup(prefix string, defaultLevel logging.Level) {
	backend := logging.NewLogBackend(os.Stderr, prefix, 0)
	formatted := logging.NewBackendFormatter(backend, stderrFormat)
	leveled := logging.AddModuleLevel(formatted)

	level := defaultLevel
	if env := os.Getenv("FLIC_LOG_LEVEL"); env != "" {
		if parsed, err := logging.LogLevel(strings.ToUpper(env)); err == nil {
			level = parsed
		}
	}
	leveled.SetLevel(level, "")
	for _, module := range modules {
		leveled.SetLevel(level, module)
	}
	logging.SetBackend(leveled)
}

// ParseLevel maps a level name to a logging.Level, falling back to INFO.
func ParseLevel(name string) logging.Level {
	level, err := logging.LogLevel(strings.ToUpper(name))
	if err != nil {
		return logging.INFO
	}
	return level
}
