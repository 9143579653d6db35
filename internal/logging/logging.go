// Package logging builds the zap.Logger used throughout the coordinator,
// mirroring the level handling in arkeep-server's cmd/server buildLogger.
package logging

import "go.uber.org/zap"

// Build constructs a zap.Logger for the given level name (debug, info,
// warn, error). Unknown levels fall back to info without an error.
func Build(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	switch level {
	case "debug":
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	case "warn":
		cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	case "error":
		cfg.Level = zap.NewAtomicLevelAt(zap.ErrorLevel)
	default:
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}
