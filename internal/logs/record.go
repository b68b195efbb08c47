package logs

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"truthlens/internal/logging"
)

// Record is one decoded JSON log line.
type Record struct {
	Time          time.Time
	Level         slog.Level
	Message       string
	Component     string
	Engine        string
	CorrelationID string
	Attrs         map[string]any
	Raw           string
}

// Parse decodes a line written by the JSON handler. ok is false for blank or
// non-JSON lines.
func Parse(line string) (Record, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "{") {
		return Record{}, false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(line), &fields); err != nil {
		return Record{}, false
	}
	rec := Record{Raw: line, Level: slog.LevelInfo}
	if ts, ok := take(fields, "ts"); ok {
		rec.Time, _ = time.Parse(time.RFC3339, ts)
	}
	if lvl, ok := take(fields, "level"); ok {
		_ = rec.Level.UnmarshalText([]byte(lvl))
	}
	rec.Message, _ = take(fields, "msg")
	rec.Component, _ = take(fields, logging.FieldComponent)
	rec.Engine, _ = take(fields, logging.FieldEngine)
	rec.CorrelationID, _ = take(fields, logging.FieldCorrelationID)
	rec.Attrs = fields
	return rec, true
}

func take(fields map[string]any, key string) (string, bool) {
	v, ok := fields[key]
	if !ok {
		return "", false
	}
	delete(fields, key)
	s, ok := v.(string)
	return s, ok
}

// Filter selects records. Zero fields match everything.
type Filter struct {
	CorrelationID string
	Engine        string
	MinLevel      slog.Leveler
}

func (f Filter) empty() bool {
	return f.CorrelationID == "" && f.Engine == "" && f.MinLevel == nil
}

// Match reports whether line passes the filter. Lines that are not JSON only
// pass an empty filter.
func (f Filter) Match(line string) bool {
	rec, ok := Parse(line)
	if !ok {
		return f.empty()
	}
	if f.MinLevel != nil && rec.Level < f.MinLevel.Level() {
		return false
	}
	if f.CorrelationID != "" && rec.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Engine != "" && !strings.EqualFold(rec.Engine, f.Engine) {
		return false
	}
	return true
}

// Format renders a record as a single console line:
// "15:04:05 WARN  [engine] message key=value".
func Format(rec Record) string {
	var b strings.Builder
	if !rec.Time.IsZero() {
		b.WriteString(rec.Time.Local().Format(time.TimeOnly))
		b.WriteByte(' ')
	}
	fmt.Fprintf(&b, "%-5s ", rec.Level.String())
	switch {
	case rec.Engine != "":
		fmt.Fprintf(&b, "[%s] ", rec.Engine)
	case rec.Component != "":
		fmt.Fprintf(&b, "[%s] ", rec.Component)
	}
	b.WriteString(rec.Message)
	if rec.CorrelationID != "" {
		fmt.Fprintf(&b, " %s=%s", logging.FieldCorrelationID, rec.CorrelationID)
	}
	for _, key := range slices.Sorted(maps.Keys(rec.Attrs)) {
		fmt.Fprintf(&b, " %s=%v", key, rec.Attrs[key])
	}
	return b.String()
}
