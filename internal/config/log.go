package config

import (
	log "log/slog"
	"os"

	"github.com/lmittmann/tint"
)

var LogLevels = map[string]log.Level{
	"debug": log.LevelDebug,
	"info":  log.LevelInfo,
	"warn":  log.LevelWarn,
	"error": log.LevelError,
}

// NewLogger builds the colored stdout logger used by every command.
func NewLogger(level string) *log.Logger {
	return log.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level: LogLevels[level],
	}))
}
