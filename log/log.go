// Package log wires the session core into a structured logrus logger,
// rotated to disk with lumberjack when configured for file output.
package log

import (
	"os"
	"path/filepath"
	"strings"

	"mavgateway/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var base = logrus.New()

// Init configures the package-level logger from LoggingConfig.
func Init(cfg config.LoggingConfig) error {
	level, err := logrus.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if strings.ToLower(cfg.Format) == "json" {
		base.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	} else {
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	switch strings.ToLower(cfg.Output) {
	case "file":
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o755); err != nil {
			return err
		}
		base.SetOutput(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    max(1, cfg.MaxSizeMB),
			MaxAge:     max(1, cfg.MaxAge),
			Compress:   cfg.Compress,
			MaxBackups: 3,
			LocalTime:  true,
		})
	default:
		base.SetOutput(os.Stdout)
	}

	return nil
}

// L returns the underlying logrus.Logger singleton.
func L() *logrus.Logger { return base }

// With starts a structured field entry.
func With(fields logrus.Fields) *logrus.Entry { return base.WithFields(fields) }

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
