package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/credential-engine/go-core/pkg/types"
)

// FileWriter mirrors audit events to a rotated JSONL file for offline
// forensics. The event store remains the source of truth; mirror failures
// are logged but do not fail the triggering operation.
type FileWriter struct {
	logger  *lumberjack.Logger
	encoder *json.Encoder
	mu      sync.Mutex
}

// NewFileWriter creates a file writer with log rotation
func NewFileWriter(filename string, maxSizeMB, maxAgeDays, maxBackups int) (*FileWriter, error) {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	logger := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    maxSizeMB,
		MaxAge:     maxAgeDays,
		MaxBackups: maxBackups,
		LocalTime:  true,
		Compress:   true,
	}

	return &FileWriter{
		logger:  logger,
		encoder: json.NewEncoder(logger),
	}, nil
}

// Write appends one event as a JSON line
func (w *FileWriter) Write(event *types.AuditEvent) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoder.Encode(event)
}

// Close closes the underlying rotated file
func (w *FileWriter) Close() error {
	return w.logger.Close()
}
