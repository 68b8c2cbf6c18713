package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// consoleHandler writes one human-readable line per record:
//
//	2026-03-01T12:00:00Z INFO synctask [vault]: sync finished remote=secure:vault elapsed=1.5s
//
// The component and task attributes become the line's subject instead of
// key=value pairs.
type consoleHandler struct {
	sink      *consoleSink
	level     slog.Leveler
	addSource bool

	prefix    string
	fields    []consoleField
	component string
	task      string
}

// consoleSink is shared by every clone so concurrent records never interleave.
type consoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

type consoleField struct {
	key   string
	value string
}

func newConsoleHandler(w io.Writer, level slog.Leveler, addSource bool) slog.Handler {
	return &consoleHandler{sink: &consoleSink{w: w}, level: level, addSource: addSource}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	component, task := h.component, h.task
	fields := make([]consoleField, len(h.fields), len(h.fields)+record.NumAttrs())
	copy(fields, h.fields)
	record.Attrs(func(attr slog.Attr) bool {
		fields = h.collect(fields, h.prefix, attr, &component, &task)
		return true
	})

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var b strings.Builder
	b.Grow(128 + 24*len(fields))
	b.WriteString(ts.UTC().Format(time.RFC3339))
	b.WriteByte(' ')
	b.WriteString(levelName(record.Level))
	b.WriteByte(' ')
	if subject := consoleSubject(component, task); subject != "" {
		b.WriteString(subject)
		b.WriteString(": ")
	}
	if msg := strings.TrimSpace(record.Message); msg != "" {
		b.WriteString(msg)
	} else {
		b.WriteString("(no message)")
	}
	if h.addSource {
		if src := record.Source(); src != nil && src.File != "" {
			fmt.Fprintf(&b, " [%s:%d]", filepath.Base(src.File), src.Line)
		}
	}
	for _, f := range fields {
		b.WriteByte(' ')
		b.WriteString(f.key)
		b.WriteByte('=')
		b.WriteString(f.value)
	}
	b.WriteByte('\n')

	h.sink.mu.Lock()
	defer h.sink.mu.Unlock()
	_, err := io.WriteString(h.sink.w, b.String())
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.fields = make([]consoleField, len(h.fields), len(h.fields)+len(attrs))
	copy(clone.fields, h.fields)
	for _, attr := range attrs {
		clone.fields = clone.collect(clone.fields, clone.prefix, attr, &clone.component, &clone.task)
	}
	return &clone
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

// collect flattens attr into dst. Top-level component and task values fill
// the subject slots when those are still empty.
func (h *consoleHandler) collect(dst []consoleField, prefix string, attr slog.Attr, component, task *string) []consoleField {
	attr.Value = attr.Value.Resolve()
	if attr.Equal(slog.Attr{}) {
		return dst
	}
	if attr.Value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = prefix + attr.Key + "."
		}
		for _, member := range attr.Value.Group() {
			dst = h.collect(dst, next, member, component, task)
		}
		return dst
	}
	if prefix == "" {
		switch attr.Key {
		case FieldComponent:
			if *component == "" {
				*component = plainValue(attr.Value)
			}
			return dst
		case FieldTask:
			if *task == "" {
				*task = plainValue(attr.Value)
			}
			return dst
		}
	}
	return append(dst, consoleField{key: prefix + attr.Key, value: quoteIfNeeded(plainValue(attr.Value))})
}

func plainValue(v slog.Value) string {
	switch v.Kind() {
	case slog.KindDuration:
		return v.Duration().String()
	case slog.KindTime:
		return v.Time().UTC().Format(time.RFC3339)
	case slog.KindAny:
		if err, ok := v.Any().(error); ok {
			return err.Error()
		}
		return fmt.Sprint(v.Any())
	default:
		return v.String()
	}
}

func quoteIfNeeded(s string) string {
	if s == "" {
		return `""`
	}
	for _, r := range s {
		if r <= ' ' || r == '=' || r == '"' {
			return strconv.Quote(s)
		}
	}
	return s
}

func consoleSubject(component, task string) string {
	component = strings.TrimSpace(component)
	task = strings.TrimSpace(task)
	switch {
	case component != "" && task != "":
		return component + " [" + task + "]"
	case task != "":
		return "[" + task + "]"
	default:
		return component
	}
}

func levelName(level slog.Level) string {
	switch {
	case level >= slog.LevelError:
		return "ERROR"
	case level >= slog.LevelWarn:
		return "WARN"
	case level >= slog.LevelInfo:
		return "INFO"
	default:
		return "DEBUG"
	}
}
