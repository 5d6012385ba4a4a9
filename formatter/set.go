package formatter

import (
	"fmt"
	"runtime"

	"github.com/sirupsen/logrus"
)

const (
	FormatText = "text"
	FormatJSON = "json"
)

// SetTextFormatter set the formatter for given logger.
func SetTextFormatter(logger *logrus.Logger) {
	logger.Formatter = NewTextFormatter()
	logger.ReportCaller = true
	logger.AddHook(NewContextHook())
}

// SetJSONFormatter makes the logger emit one JSON object per entry, for log shippers
func SetJSONFormatter(logger *logrus.Logger) {
	logger.Formatter = &logrus.JSONFormatter{
		TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		// the caller is already reported by the hook under "source"
		CallerPrettyfier: func(_ *runtime.Frame) (string, string) { return "", "" },
	}
	logger.ReportCaller = true
	logger.AddHook(NewContextHook())
}

// SetFormat installs the formatter named by format
func SetFormat(logger *logrus.Logger, format string) error {
	switch format {
	case "", FormatText:
		SetTextFormatter(logger)
	case FormatJSON:
		SetJSONFormatter(logger)
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}
