package logx

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Format represents the output format
type Format string

const (
	// FormatConsole outputs human-readable console logs (default)
	FormatConsole Format = "console"
	// FormatJSON outputs JSON formatted logs
	FormatJSON Format = "json"
)

// record represents a single log entry ready for formatting.
type record struct {
	Level     Level
	Message   string
	Fields    Fields
	Error     error
	Timestamp time.Time
}

func formatRecord(r *record, format Format) ([]byte, error) {
	if format == FormatJSON {
		return formatJSON(r)
	}
	return formatConsole(r), nil
}

func formatJSON(r *record) ([]byte, error) {
	payload := map[string]interface{}{
		"level":     r.Level.String(),
		"message":   r.Message,
		"timestamp": r.Timestamp.Format(time.RFC3339Nano),
	}
	for k, v := range r.Fields {
		payload[k] = v
	}

	out, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return append(out, '\n'), nil
}

func formatConsole(r *record) []byte {
	var b strings.Builder

	b.WriteString(r.Timestamp.Format(time.RFC3339))
	b.WriteString(" [")
	b.WriteString(r.Level.String())
	b.WriteString("] ")
	b.WriteString(r.Message)

	if len(r.Fields) > 0 {
		keys := make([]string, 0, len(r.Fields))
		for k := range r.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteString(fmt.Sprintf(" %s=%v", k, r.Fields[k]))
		}
	}

	b.WriteByte('\n')
	return []byte(b.String())
}
