package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// RunLog is the append-only per-run log file under <output>/logs/.
// Writes are serialized so concurrent unit workers can share one log.
type RunLog struct {
	mu   sync.Mutex
	f    *os.File
	path string
}

// OpenRunLog creates <outputRoot>/logs/<pipeline>_<UTC-timestamp>.log and
// returns a RunLog appending to it.
func OpenRunLog(outputRoot, pipeline string, now time.Time) (*RunLog, error) {
	dir := filepath.Join(outputRoot, "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := fmt.Sprintf("%s_%s.log", pipeline, now.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open run log: %w", err)
	}
	return &RunLog{f: f, path: path}, nil
}

// Path returns the log file path.
func (rl *RunLog) Path() string { return rl.path }

// Write appends p to the log file. Safe for concurrent use.
func (rl *RunLog) Write(p []byte) (int, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.f.Write(p)
}

// Close flushes and closes the underlying file.
func (rl *RunLog) Close() error {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.f.Close()
}
