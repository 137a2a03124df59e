// Package logging builds the process logger and masks personal data for log lines.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type appNameHook struct {
	appName string
}

// Levels implements logrus.Hook.
func (h *appNameHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

// Fire implements logrus.Hook.
func (h *appNameHook) Fire(entry *logrus.Entry) error {
	entry.Data["app"] = h.appName
	return nil
}

// New returns a logger writing to stdout. An unknown level falls back to info
// with a warning; format is "text" (default) or "json".
func New(appName, level, format string) *logrus.Logger {
	return newLogger(os.Stdout, appName, level, format)
}

func newLogger(out io.Writer, appName, level, format string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(out)

	levelStr := strings.ToLower(strings.TrimSpace(level))
	if levelStr == "" {
		levelStr = "info"
	}
	lvl, err := logrus.ParseLevel(levelStr)
	if err != nil {
		log.Warnf("Invalid LOG_LEVEL '%s', defaulting to INFO", level)
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if appName != "" {
		log.AddHook(&appNameHook{appName: appName})
	}
	return log
}

// MaskPhone masks a phone number for logging (e.g., +3*******59)
func MaskPhone(phone string) string {
	if len(phone) <= 4 {
		return "****"
	}
	prefix := phone[:2]
	suffix := phone[len(phone)-2:]
	return prefix + strings.Repeat("*", len(phone)-4) + suffix
}
