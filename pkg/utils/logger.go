package utils

import "go.uber.org/zap"

// LoggerName is the root name of every logger the service creates.
const LoggerName = "embedder"

// NewLogger returns a named zap logger. When debug is true, uses development config
// (human-readable, debug level); otherwise uses production config (JSON, info level).
func NewLogger(debug bool) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return logger.Named(LoggerName), nil
}
