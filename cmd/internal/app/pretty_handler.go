package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// prettyHandler writes one line per record for local development:
//
//	15:04:05.000 INFO  session.event.qr [alice] inst=01J... src=handle.go:244
//
// A top-level "session" attribute becomes the bracketed subject.
type prettyHandler struct {
	w      io.Writer
	level  slog.Leveler
	source bool
	color  bool
	prefix string
	fields []prettyField
	mu     *sync.Mutex
}

type prettyField struct {
	key string
	val slog.Value
}

func newPrettyHandler(w io.Writer, opts *slog.HandlerOptions, color bool) slog.Handler {
	h := &prettyHandler{w: w, color: color, level: slog.LevelInfo, mu: &sync.Mutex{}}
	if opts != nil {
		if opts.Level != nil {
			h.level = opts.Level
		}
		h.source = opts.AddSource
	}
	return h
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *prettyHandler) Handle(_ context.Context, r slog.Record) error {
	fields := append([]prettyField(nil), h.fields...)
	r.Attrs(func(a slog.Attr) bool {
		fields = flattenAttr(fields, h.prefix, a)
		return true
	})

	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.WriteString(paint(ts.Format("15:04:05.000"), ansiDim, h.color))
	b.WriteByte(' ')
	b.WriteString(levelTag(r.Level, h.color))
	b.WriteByte(' ')
	b.WriteString(paint(r.Message, ansiBright, h.color))

	for i, f := range fields {
		if f.key == "session" {
			b.WriteString(" [")
			b.WriteString(paint(f.val.String(), ansiCyan, h.color))
			b.WriteByte(']')
			fields = append(fields[:i:i], fields[i+1:]...)
			break
		}
	}

	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(remapPrettyKey(f.key))
		b.WriteByte('=')
		b.WriteString(formatPrettyValue(f.key, f.val, h.color))
	}

	if h.source && r.PC != 0 {
		frame, _ := runtime.CallersFrames([]uintptr{r.PC}).Next()
		if frame.File != "" {
			b.WriteString(" src=")
			b.WriteString(paint(fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line), ansiDim, h.color))
		}
	}
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := io.WriteString(h.w, b.String())
	return err
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	cp := *h
	cp.fields = append([]prettyField(nil), h.fields...)
	for _, a := range attrs {
		cp.fields = flattenAttr(cp.fields, h.prefix, a)
	}
	return &cp
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	name = strings.TrimSpace(name)
	if name == "" {
		return h
	}
	cp := *h
	cp.prefix = h.prefix + name + "."
	return &cp
}

// flattenAttr appends a, expanding groups into dotted keys.
func flattenAttr(dst []prettyField, prefix string, a slog.Attr) []prettyField {
	a.Value = a.Value.Resolve()
	key := strings.TrimSpace(a.Key)

	if a.Value.Kind() == slog.KindGroup {
		if key != "" {
			prefix += key + "."
		}
		for _, ga := range a.Value.Group() {
			dst = flattenAttr(dst, prefix, ga)
		}
		return dst
	}
	if key == "" {
		return dst
	}
	return append(dst, prettyField{key: prefix + key, val: a.Value})
}

// formatPrettyValue colors the keys request and session logs emit; anything else is plain.
func formatPrettyValue(key string, v slog.Value, color bool) string {
	s := strings.TrimSpace(valueToString(v))
	switch key {
	case "method":
		return colorizeHTTPMethod(strings.ToUpper(s), color)
	case "path":
		return paint(quoteIfNeeded(s), ansiCyan, color)
	case "status":
		if n, ok := valueToInt64(v); ok {
			return colorizeStatusCode(int(n), color)
		}
	case "status_class":
		return colorizeStatusClass(s, color)
	case "duration_ms":
		if n, ok := valueToInt64(v); ok {
			return colorizeDurationMS(n, color)
		}
	case "result":
		return colorizeResult(strings.ToLower(s), color)
	case "state":
		return colorizeState(s, color)
	case "instance_id", "previous_instance_id":
		return paint(s, ansiDim, color)
	case "err":
		return paint(quoteIfNeeded(s), ansiRed, color)
	}
	return quoteIfNeeded(s)
}

// remapPrettyKey shortens the noisiest keys for terminal output.
func remapPrettyKey(k string) string {
	switch k {
	case "status_class":
		return "class"
	case "duration_ms":
		return "took"
	case "instance_id":
		return "inst"
	default:
		return k
	}
}

func valueToString(v slog.Value) string {
	switch v.Kind() {
	case slog.KindTime:
		return v.Time().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
	}
	return v.String()
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	if strings.ContainsAny(s, " \t\r\n\"=") {
		return strconv.Quote(s)
	}
	return s
}

func levelTag(level slog.Level, color bool) string {
	switch {
	case level >= slog.LevelError:
		return paint("ERROR", ansiRed, color)
	case level >= slog.LevelWarn:
		return paint("WARN ", ansiYellow, color)
	case level < slog.LevelInfo:
		return paint("DEBUG", ansiMagenta, color)
	default:
		return paint("INFO ", ansiBlue, color)
	}
}
