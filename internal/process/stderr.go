package process

import (
	"bytes"
	"io"
	"log/slog"
	"sync"
)

var _ io.ReadWriteCloser = (*Process)(nil)

// tailWriter keeps the last max bytes written to it and forwards complete lines
// to the debug log.
type tailWriter struct {
	mu      sync.Mutex
	max     int
	buf     []byte
	partial []byte
	logger  *slog.Logger
}

func newTailWriter(max int, logger *slog.Logger) *tailWriter {
	return &tailWriter{max: max, logger: logger}
}

func (w *tailWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf = append(w.buf, p...)
	if over := len(w.buf) - w.max; over > 0 {
		w.buf = append(w.buf[:0], w.buf[over:]...)
	}

	w.partial = append(w.partial, p...)
	for {
		i := bytes.IndexByte(w.partial, '\n')
		if i < 0 {
			break
		}
		w.emit(w.partial[:i])
		w.partial = w.partial[i+1:]
	}
	if len(w.partial) > w.max {
		w.emit(w.partial)
		w.partial = nil
	}
	return len(p), nil
}

// Flush logs any trailing line without a newline.
func (w *tailWriter) Flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.partial) > 0 {
		w.emit(w.partial)
		w.partial = nil
	}
}

func (w *tailWriter) String() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return string(w.buf)
}

func (w *tailWriter) emit(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(line) == 0 || w.logger == nil {
		return
	}
	w.logger.Debug("driver stderr", "line", string(line))
}
