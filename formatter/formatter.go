package formatter

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const sourceKey = "source"

// TextFormatter renders one line per entry: timestamp, level, sorted fields, caller and message
type TextFormatter struct {
	timestampFormat string
	levelDesc       []string
}

// NewTextFormatter creates a TextFormatter with millisecond timestamps
func NewTextFormatter() *TextFormatter {
	return &TextFormatter{
		levelDesc:       []string{"PANC", "FATL", "ERRO", "WARN", "INFO", "DEBG", "TRAC"},
		timestampFormat: "2006-01-02T15:04:05.000Z07:00",
	}
}

// Format renders a single log entry
func (f *TextFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	keys := make([]string, 0, len(entry.Data))
	for k := range entry.Data {
		if k == sourceKey {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(entry.Time.Format(f.timestampFormat))
	b.WriteByte(' ')
	b.WriteString(f.parseLevel(entry.Level))
	b.WriteByte(' ')

	if len(keys) > 0 {
		fields := make([]string, 0, len(keys))
		for _, k := range keys {
			fields = append(fields, fmt.Sprintf("%s: %v", k, entry.Data[k]))
		}
		b.WriteByte('[')
		b.WriteString(strings.Join(fields, ", "))
		b.WriteString("] ")
	}

	if src, ok := entry.Data[sourceKey]; ok {
		fmt.Fprintf(&b, "%v: ", src)
	}
	b.WriteString(entry.Message)
	b.WriteByte('\n')
	return []byte(b.String()), nil
}

func (f *TextFormatter) parseLevel(level logrus.Level) string {
	if int(level) >= len(f.levelDesc) {
		return ""
	}
	return f.levelDesc[level]
}
