// Package state remembers which messages a replay has already resubmitted,
// so an interrupted replay can resume without double-sending mail.
package state

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type Tracker interface {
	AlreadyResubmitted(hash string) bool
	MarkResubmitted(hash, detail string) error
	Snapshot() Snapshot
}

type Snapshot struct {
	Resubmitted int
}

type MemoryTracker struct {
	mu          sync.RWMutex
	resubmitted map[string]string
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{resubmitted: make(map[string]string)}
}

func (m *MemoryTracker) AlreadyResubmitted(hash string) bool {
	if hash == "" {
		return false
	}
	m.mu.RLock()
	_, ok := m.resubmitted[hash]
	m.mu.RUnlock()
	return ok
}

func (m *MemoryTracker) MarkResubmitted(hash, detail string) error {
	if hash == "" {
		return nil
	}
	m.mu.Lock()
	m.resubmitted[hash] = detail
	m.mu.Unlock()
	return nil
}

func (m *MemoryTracker) Snapshot() Snapshot {
	m.mu.RLock()
	count := len(m.resubmitted)
	m.mu.RUnlock()
	return Snapshot{Resubmitted: count}
}

// FileTracker persists resubmitted message hashes as JSON lines so a later
// replay of the same archive skips them.
type FileTracker struct {
	*MemoryTracker
	path    string
	persist bool
	file    *os.File
	writer  *bufio.Writer
	writeMu sync.Mutex
}

type fileRecord struct {
	Hash   string `json:"hash"`
	Detail string `json:"detail"`
}

func NewFileTracker(stateDir string, persist bool) (*FileTracker, error) {
	if strings.TrimSpace(stateDir) == "" {
		return nil, fmt.Errorf("state directory is empty")
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	tracker := &FileTracker{
		MemoryTracker: NewMemoryTracker(),
		path:          filepath.Join(stateDir, "resubmitted.jsonl"),
		persist:       persist,
	}

	if err := tracker.load(); err != nil {
		return nil, err
	}

	if persist {
		file, err := os.OpenFile(tracker.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open state file for append: %w", err)
		}
		tracker.file = file
		tracker.writer = bufio.NewWriter(file)
	}

	return tracker, nil
}

func (f *FileTracker) load() error {
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open state file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for line := 1; scanner.Scan(); line++ {
		text := scanner.Bytes()
		if len(text) == 0 {
			continue
		}
		var record fileRecord
		if err := json.Unmarshal(text, &record); err != nil {
			return fmt.Errorf("parse state line %d: %w", line, err)
		}
		if record.Hash == "" {
			continue
		}
		f.mu.Lock()
		f.resubmitted[record.Hash] = record.Detail
		f.mu.Unlock()
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read state file: %w", err)
	}
	return nil
}

func (f *FileTracker) MarkResubmitted(hash, detail string) error {
	if hash == "" {
		return nil
	}

	f.mu.Lock()
	if _, exists := f.resubmitted[hash]; exists {
		f.mu.Unlock()
		return nil
	}
	f.resubmitted[hash] = detail
	f.mu.Unlock()

	if !f.persist {
		return nil
	}

	data, err := json.Marshal(fileRecord{Hash: hash, Detail: detail})
	if err != nil {
		return fmt.Errorf("encode state record: %w", err)
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	if _, err := f.writer.Write(data); err != nil {
		return fmt.Errorf("write state record: %w", err)
	}
	if err := f.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("write newline: %w", err)
	}
	// Flush per record: a replay resubmits real mail, so losing dedupe
	// state to a crash is worse than the extra write.
	if err := f.writer.Flush(); err != nil {
		return fmt.Errorf("flush state file: %w", err)
	}
	return nil
}

// Close flushes and closes the state file.
func (f *FileTracker) Close() error {
	if !f.persist || f.file == nil {
		return nil
	}

	f.writeMu.Lock()
	defer f.writeMu.Unlock()

	var firstErr error
	if f.writer != nil {
		if err := f.writer.Flush(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush state file: %w", err)
		}
	}
	if err := f.file.Sync(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("sync state file: %w", err)
	}
	if err := f.file.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("close state file: %w", err)
	}
	return firstErr
}
