package logging

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. Verbose switches the level to debug.
func New(verbose bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "time"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	logger, err := config.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

// Banner logs the boxed run header written at the start of every command.
func Banner(logger *zap.Logger, name string, now time.Time) {
	title := "Insecurity Insight - " + name
	timestamp := "Invoked at: " + now.Format(time.RFC3339)
	width := len(title)
	if len(timestamp) > width {
		width = len(timestamp)
	}
	logger.Info(strings.Repeat("*", width+4))
	logger.Info(fmt.Sprintf("* %-*s *", width, title))
	logger.Info(fmt.Sprintf("* %-*s *", width, timestamp))
	logger.Info(strings.Repeat("*", width+4))
}
