// Package logger configures the process-wide logrus logger. Production
// environments get JSON output for log shipping; everything else gets the
// human readable text formatter.
package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Init sets up the standard logrus logger for the given environment and
// level name (debug, info, warn, error). Unknown levels fall back to info.
func Init(env, level string) {
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(parseLevel(level))
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
		return
	}
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}

func parseLevel(s string) logrus.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return logrus.DebugLevel
	case "warn", "warning":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	default:
		return logrus.InfoLevel
	}
}
