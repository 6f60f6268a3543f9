package logging

import (
	"bytes"
	"time"

	"github.com/rs/zerolog"
)

// ChanWriter renders log events as short console lines and delivers them on
// a channel, dropping lines when the reader falls behind. The monitor TUI
// reads it to fill its log box.
type ChanWriter struct {
	ch  chan string
	out zerolog.ConsoleWriter
	buf bytes.Buffer
}

func NewChanWriter(size int) *ChanWriter {
	w := &ChanWriter{ch: make(chan string, size)}
	w.out = zerolog.ConsoleWriter{
		Out:        &w.buf,
		NoColor:    true,
		TimeFormat: "15:04:05",
		PartsExclude: []string{
			zerolog.CallerFieldName,
		},
		FieldsExclude: []string{"app"},
	}
	return w
}

// Lines returns the channel of formatted log lines.
func (w *ChanWriter) Lines() <-chan string { return w.ch }

// Write implements io.Writer. zerolog serialises calls per logger, but the
// buffer is not shared with any other writer.
func (w *ChanWriter) Write(p []byte) (int, error) {
	w.buf.Reset()
	if _, err := w.out.Write(p); err != nil {
		return 0, err
	}
	line := string(bytes.TrimRight(w.buf.Bytes(), "\n"))
	select {
	case w.ch <- line:
	default:
	}
	return len(p), nil
}

// Stamp formats a plain message the way ChanWriter formats log events.
func Stamp(msg string) string {
	return time.Now().Format("15:04:05") + " " + msg
}
