package util

import (
	"io"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/yegram/yegram/formatter"
)

// LogConsole is the log path value that keeps logging on stderr
const LogConsole = "console"

// InitLog parses and sets log-level input
func InitLog(logLevel string, logPath string) error {
	return InitLogWithFormat(logLevel, logPath, formatter.FormatText)
}

// InitLogWithFormat is InitLog with an explicit output format, text or json
func InitLogWithFormat(logLevel string, logPath string, logFormat string) error {
	level, err := log.ParseLevel(logLevel)
	if err != nil {
		log.Errorf("Failed parsing log-level %s: %s", logLevel, err)
		return err
	}

	if logPath != "" && logPath != LogConsole {
		lumberjackLogger := &lumberjack.Logger{
			// Log file absolute path, os agnostic
			Filename:   filepath.ToSlash(logPath),
			MaxSize:    5, // MB
			MaxBackups: 10,
			MaxAge:     30, // days
			Compress:   true,
		}
		log.SetOutput(io.Writer(lumberjackLogger))
	}

	if err := formatter.SetFormat(log.StandardLogger(), logFormat); err != nil {
		return err
	}
	log.SetLevel(level)
	return nil
}
