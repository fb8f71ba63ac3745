package i2cbus

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var l = NewLogger()

// NewLogger builds the JSON logger used by the driver packages.
// The level comes from LOG_LEVEL (debug, info, error).
func NewLogger() *logrus.Logger {
	logger := logrus.New()
	// Setup the logger, so it can be parsed by datadog
	logger.Formatter = &logrus.JSONFormatter{}
	logger.SetOutput(os.Stdout)
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		logger.SetLevel(logrus.DebugLevel)
	case "error":
		logger.SetLevel(logrus.ErrorLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}
	return logger
}
