// Package console implements the host side of the guest-visible console
// object: formatting call arguments, appending them to an ordered log
// sink, and optionally forwarding each record to a host callback.
package console

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/yangshun/nodepack-sub002/internal/engine"
)

// Level names a console method.
type Level string

const (
	Log   Level = "log"
	Warn  Level = "warn"
	Error Level = "error"
	Info  Level = "info"
	Debug Level = "debug"
)

// Record is one captured console call.
type Record struct {
	Level   Level
	Message string
}

// Sink collects console records in call order and optionally forwards each
// one to a host callback as it arrives. One Sink is created per Runtime and
// Reset between Execute calls so logs never leak across executions.
type Sink struct {
	mu      sync.Mutex
	records []Record
	onLog   func(level Level, message string)
}

// NewSink creates a Sink. onLog may be nil.
func NewSink(onLog func(level Level, message string)) *Sink {
	return &Sink{onLog: onLog}
}

// Capture formats args the way util.format's plain form does (space-joined,
// each value stringified without substitution directives) and appends one
// record. Safe to call concurrently, though guest evaluation is always
// single-threaded per Context.
func (s *Sink) Capture(level Level, args []engine.Value) {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = formatTop(a)
	}
	msg := strings.Join(parts, " ")

	s.mu.Lock()
	s.records = append(s.records, Record{Level: level, Message: msg})
	s.mu.Unlock()

	if s.onLog != nil {
		s.onLog(level, msg)
	}
}

// Records returns a copy of the captured records in call order.
func (s *Sink) Records() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// Reset clears the sink ahead of a new Execute call.
func (s *Sink) Reset() {
	s.mu.Lock()
	s.records = nil
	s.mu.Unlock()
}

// SetOnLog replaces the forwarding callback. ExecuteOptions.OnLog is
// supplied per Execute call while the Sink itself lives for the Runtime's
// whole lifetime, so the Runtime calls this once at the start of each
// Execute.
func (s *Sink) SetOnLog(onLog func(level Level, message string)) {
	s.mu.Lock()
	s.onLog = onLog
	s.mu.Unlock()
}

// formatTop formats a top-level console argument: strings print raw (no
// quotes), everything else uses formatNested.
func formatTop(v engine.Value) string {
	if v.Kind == engine.KindString {
		return v.String
	}
	return formatNested(v)
}

// formatNested formats a value for display inside an array/object, or as a
// non-string top-level argument. Strings are quoted, matching util.inspect.
func formatNested(v engine.Value) string {
	switch v.Kind {
	case engine.KindNull:
		return "null"
	case engine.KindBool:
		if v.Bool {
			return "true"
		}
		return "false"
	case engine.KindNumber:
		return formatNumber(v.Number)
	case engine.KindString:
		return strconv.Quote(v.String)
	case engine.KindBytes:
		return formatBytes(v.Bytes)
	case engine.KindArray:
		items := make([]string, len(v.Array))
		for i, elem := range v.Array {
			items[i] = formatNested(elem)
		}
		return "[ " + strings.Join(items, ", ") + " ]"
	case engine.KindObject:
		keys := make([]string, 0, len(v.Object))
		for k := range v.Object {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		items := make([]string, 0, len(keys))
		for _, k := range keys {
			items = append(items, fmt.Sprintf("%s: %s", k, formatNested(v.Object[k])))
		}
		return "{ " + strings.Join(items, ", ") + " }"
	case engine.KindHandle:
		return "[Object]"
	default:
		return "undefined"
	}
}

func formatNumber(n float64) string {
	if n == float64(int64(n)) {
		return strconv.FormatInt(int64(n), 10)
	}
	return strconv.FormatFloat(n, 'g', -1, 64)
}

func formatBytes(b []byte) string {
	hexParts := make([]string, len(b))
	for i, c := range b {
		hexParts[i] = fmt.Sprintf("%02x", c)
	}
	return "<Buffer " + strings.Join(hexParts, " ") + ">"
}
