// Package logging builds the zerolog logger used throughout the relay,
// formatted to match the project's log line contract:
//
//	[LEVEL] YYYY-MM-DD HH:MM:SS.frac ZZZ | message
//	[LEVEL] YYYY-MM-DD HH:MM:SS.frac ZZZ | [session: <id>] | message
package logging

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const timestampFormat = "2006-01-02 15:04:05.000 MST"

// ParseLevel maps the --log_level flag onto a zerolog.Level. "disable"
// silences the logger entirely.
func ParseLevel(s string) (zerolog.Level, error) {
	switch s {
	case "trace":
		return zerolog.TraceLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "info":
		return zerolog.InfoLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	case "disable":
		return zerolog.Disabled, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid log level %q", s)
	}
}

// New builds the base logger, writing to w (os.Stdout in production, a
// bytes.Buffer in tests) at the given level.
func New(w io.Writer, level zerolog.Level) zerolog.Logger {
	zerolog.TimestampFieldName = "time"
	zerolog.TimeFieldFormat = timestampFormat
	return zerolog.New(writer{w}).Level(level).With().Timestamp().Logger()
}

// NewStdout is the production entry point.
func NewStdout(level zerolog.Level) zerolog.Logger {
	return New(os.Stdout, level)
}

// Session returns a child logger that prefixes every line with
// "[session: <id>] | " to tag every log line with the connection it
// belongs to.
func Session(base zerolog.Logger, id uint64) zerolog.Logger {
	return base.With().Uint64("session_tag", id).Logger()
}

// writer is a zerolog.LevelWriter that renders each event as
// "[LEVEL] TIMESTAMP | [session: id] | message" instead of zerolog's
// default JSON, by re-parsing the event's own fields. zerolog invokes
// Write once per event with the fully-encoded JSON line; we decode just
// enough of it (level, time, message, session_tag, error) to re-render the
// project's wire format. An error field, when present, is appended to the
// message after ": ".
type writer struct {
	out io.Writer
}

func (w writer) Write(p []byte) (int, error) {
	return w.WriteLevel(zerolog.NoLevel, p)
}

func (w writer) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	line := renderLine(p)
	if _, err := io.WriteString(w.out, line); err != nil {
		return 0, err
	}
	return len(p), nil
}

func renderLine(p []byte) string {
	var fields map[string]interface{}
	if err := json.Unmarshal(p, &fields); err != nil {
		// Not a JSON event (shouldn't happen with this logger's own
		// writer); fall back to emitting it verbatim.
		return string(p)
	}

	levelStr := padLevel(stringField(fields, "level"))
	ts := stringField(fields, "time")
	if ts == "" {
		ts = time.Now().Format(timestampFormat)
	}
	msg := stringField(fields, "message")

	var b strings.Builder
	b.WriteByte('[')
	b.WriteString(levelStr)
	b.WriteString("] ")
	b.WriteString(ts)
	b.WriteString(" | ")
	if sid, ok := fields["session_tag"]; ok {
		b.WriteString("[session: ")
		b.WriteString(numberField(sid))
		b.WriteString("] | ")
	}
	b.WriteString(msg)
	if errStr := stringField(fields, zerolog.ErrorFieldName); errStr != "" {
		b.WriteString(": ")
		b.WriteString(errStr)
	}
	b.WriteByte('\n')
	return b.String()
}

func stringField(fields map[string]interface{}, key string) string {
	v, ok := fields[key]
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

func numberField(v interface{}) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatUint(uint64(n), 10)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}

func padLevel(level string) string {
	upper := strings.ToUpper(level)
	switch upper {
	case "":
		upper = "INFO"
	case "WARNING":
		upper = "WARN"
	}
	for len(upper) < 5 {
		upper += " "
	}
	if len(upper) > 5 {
		upper = upper[:5]
	}
	return upper
}
