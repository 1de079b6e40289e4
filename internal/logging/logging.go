// Package logging configures the shared structured logger.
package logging

import (
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	logger *logrus.Logger
	once   sync.Once
)

// Logger returns the process-wide JSON logger. Level comes from
// SALESLINE_LOG_LEVEL and defaults to warn so CLI output stays clean.
func Logger() *logrus.Logger {
	once.Do(func() {
		logger = logrus.New()
		logger.SetFormatter(&logrus.JSONFormatter{})
		logger.SetOutput(os.Stderr)
		logger.SetLevel(levelFromEnv())
	})
	return logger
}

func levelFromEnv() logrus.Level {
	raw := os.Getenv("SALESLINE_LOG_LEVEL")
	if raw == "" {
		return logrus.WarnLevel
	}
	level, err := logrus.ParseLevel(raw)
	if err != nil {
		return logrus.WarnLevel
	}
	return level
}
