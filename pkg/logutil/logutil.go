package logutil

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	log "github.com/charmbracelet/log"
)

var (
	sink = &levelFilterWriter{out: os.Stderr, minLevel: log.InfoLevel}
	base = log.NewWithOptions(sink, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.TimeOnly,
		// Everything reaches the sink; filtering happens there so loggers
		// created before Configure still honour the configured level.
		Level: log.DebugLevel,
	})
)

// Configure sets the minimum level printed by every component logger.
func Configure(levelRaw string) error {
	levelRaw = strings.TrimSpace(levelRaw)
	if levelRaw == "" {
		levelRaw = "info"
	}
	level, err := parseConfiguredLevel(levelRaw)
	if err != nil {
		return err
	}
	sink.mu.Lock()
	sink.minLevel = level
	sink.mu.Unlock()
	return nil
}

func parseConfiguredLevel(levelRaw string) (log.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelRaw)) {
	case "trace", "trac":
		// No native trace level; trace maps to debug.
		return log.DebugLevel, nil
	default:
		level, err := log.ParseLevel(levelRaw)
		if err != nil {
			return 0, fmt.Errorf("invalid loglevel %q", levelRaw)
		}
		return level, nil
	}
}

// SetOutput redirects every component logger.
func SetOutput(w io.Writer) {
	sink.mu.Lock()
	defer sink.mu.Unlock()
	sink.out = w
}

// For returns a logger prefixed with the component name.
func For(component string) *log.Logger {
	return base.WithPrefix(component)
}

type levelFilterWriter struct {
	mu       sync.Mutex
	out      io.Writer
	minLevel log.Level
	buf      []byte
}

func (w *levelFilterWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		idx := bytes.IndexByte(w.buf, '\n')
		if idx < 0 {
			break
		}
		line := append([]byte(nil), w.buf[:idx+1]...)
		w.buf = w.buf[idx+1:]
		if w.out == nil || extractLogLevel(string(line)) < w.minLevel {
			continue
		}
		_, _ = w.out.Write(line)
	}
	return len(p), nil
}

func extractLogLevel(line string) log.Level {
	fields := strings.Fields(strings.ToUpper(stripANSI(line)))
	// Layout is "<time> <LEVEL> <prefix>: <msg>"; only look at the head.
	if len(fields) > 3 {
		fields = fields[:3]
	}
	for _, f := range fields {
		switch strings.TrimPrefix(f, "LEVEL=") {
		case "DEBU", "DEBUG":
			return log.DebugLevel
		case "INFO":
			return log.InfoLevel
		case "WARN", "WARNING":
			return log.WarnLevel
		case "ERRO", "ERROR":
			return log.ErrorLevel
		case "FATA", "FATAL":
			return log.FatalLevel
		}
	}
	return log.InfoLevel
}

func stripANSI(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inEsc := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !inEsc {
			if ch == 0x1b {
				inEsc = true
				continue
			}
			b.WriteByte(ch)
			continue
		}
		if (ch >= 'A' && ch <= 'Z') || (ch >= 'a' && ch <= 'z') {
			inEsc = false
		}
	}
	return b.String()
}
