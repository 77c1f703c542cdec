package app

import (
	"strings"

	"github.com/charlesng35/feedguard/pkg/logger"
)

// ConfigureLogging initialises the global logger from server settings, defaulting to info.
// A log file, when set, receives a rotated copy of every entry.
func ConfigureLogging(cfg ServerConfig) error {
	level := strings.TrimSpace(cfg.LogLevel)
	if level == "" {
		level = "info"
	}
	return logger.InitWithOptions(logger.Options{
		Level:      level,
		File:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
	})
}
