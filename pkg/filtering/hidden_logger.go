package filtering

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// hiddenLogger appends one line per hidden item to a file.
type hiddenLogger struct {
	file *os.File
	mu   sync.Mutex
}

func newHiddenLogger(path string, log *slog.Logger) *hiddenLogger {
	if path == "" {
		return nil
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) // #nosec G304 -- path provided via config.
	if err != nil {
		log.Error("failed to open hidden log file", "error", err)
		return nil
	}
	return &hiddenLogger{file: file}
}

func (h *hiddenLogger) Log(layer, kind, author string) {
	if h == nil || h.file == nil {
		return
	}
	line := fmt.Sprintf("%s layer=%s kind=%s author=%s\n",
		time.Now().UTC().Format(time.RFC3339),
		layer,
		kind,
		author,
	)
	h.mu.Lock()
	defer h.mu.Unlock()
	_, _ = h.file.WriteString(line)
}

func (h *hiddenLogger) Close() error {
	if h == nil || h.file == nil {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.file.Close()
}
