package wal

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// EntryType defines the type of WAL entry
type EntryType string

const (
	EntryRunStarted  EntryType = "run_started"
	EntryExecuting   EntryType = "executing"
	EntryExecuted    EntryType = "executed"
	EntryFailed      EntryType = "failed"
	EntrySkipped     EntryType = "skipped"
	EntryRunFinished EntryType = "run_finished"
)

// Entry represents a single WAL entry
type Entry struct {
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
	Type       EntryType       `json:"type"`
	ResourceID string          `json:"resource_id,omitempty"`
	Data       json.RawMessage `json:"data"`
	Error      string          `json:"error,omitempty"`
}

// Config controls file naming, rotation and retention
type Config struct {
	FilePrefix    string
	MaxFileSize   int64
	RetentionDays int
}

// DefaultConfig returns the journal defaults
func DefaultConfig() Config {
	return Config{
		FilePrefix:    "snapwarden",
		MaxFileSize:   16 * 1024 * 1024,
		RetentionDays: 30,
	}
}

// WAL is an append-only journal of every mutating cloud call
type WAL struct {
	mu       sync.Mutex
	file     *os.File
	writer   *bufio.Writer
	size     int64
	sequence int64
	dir      string
	config   Config
}

// Open creates or opens a WAL in the specified directory
func Open(dir string) (*WAL, error) {
	return OpenWithConfig(dir, DefaultConfig())
}

// OpenWithConfig opens a WAL with explicit settings
func OpenWithConfig(dir string, config Config) (*WAL, error) {
	if config.FilePrefix == "" {
		config.FilePrefix = DefaultConfig().FilePrefix
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory: %w", err)
	}

	w := &WAL{dir: dir, config: config}
	if err := w.loadSequence(); err != nil {
		return nil, err
	}
	if err := w.openFile(); err != nil {
		return nil, err
	}
	return w, nil
}

// openFile starts a new segment named after the next sequence number so
// segments sort in write order
func (w *WAL) openFile() error {
	filename := fmt.Sprintf("%s-%s-%012d.wal", w.config.FilePrefix, time.Now().UTC().Format("20060102-150405"), w.sequence+1)
	file, err := os.OpenFile(filepath.Join(w.dir, filename), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open WAL file: %w", err)
	}
	w.file = file
	w.writer = bufio.NewWriter(file)
	w.size = 0
	return nil
}

// Close flushes and closes the WAL
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Close()
}

// Append adds an entry to the WAL
func (w *WAL) Append(entryType EntryType, resourceID string, data interface{}) error {
	return w.append(entryType, resourceID, data, "")
}

// AppendError adds an error entry to the WAL
func (w *WAL) AppendError(entryType EntryType, resourceID string, data interface{}, errToLog error) error {
	msg := ""
	if errToLog != nil {
		msg = errToLog.Error()
	}
	return w.append(entryType, resourceID, data, msg)
}

func (w *WAL) append(entryType EntryType, resourceID string, data interface{}, errMsg string) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.config.MaxFileSize > 0 && w.size >= w.config.MaxFileSize {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	w.sequence++
	entry := Entry{
		Timestamp:  time.Now().UTC(),
		Sequence:   w.sequence,
		Type:       entryType,
		ResourceID: resourceID,
		Data:       jsonData,
		Error:      errMsg,
	}
	return w.writeEntry(entry)
}

func (w *WAL) rotate() error {
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush before rotation: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment: %w", err)
	}
	return w.openFile()
}

// writeEntry writes a single entry to the WAL
func (w *WAL) writeEntry(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal entry: %w", err)
	}
	line = append(line, '\n')

	n, err := w.writer.Write(line)
	if err != nil {
		return fmt.Errorf("failed to write entry: %w", err)
	}
	w.size += int64(n)

	// Flush immediately for durability
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush: %w", err)
	}
	return w.file.Sync()
}

// loadSequence continues numbering from the last entry on disk
func (w *WAL) loadSequence() error {
	var last int64
	err := replayFiles(findAllWALFiles(w.dir, w.config.FilePrefix), func(e *Entry) error {
		if e.Sequence > last {
			last = e.Sequence
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to load sequence: %w", err)
	}
	w.sequence = last
	return nil
}

// Reader provides WAL replay functionality
type Reader struct {
	scanner *bufio.Scanner
	file    *os.File
}

// NewReader creates a WAL reader for the specified file
func NewReader(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAL file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	return &Reader{scanner: scanner, file: file}, nil
}

// Next reads the next entry from the WAL
func (r *Reader) Next() (*Entry, error) {
	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}

	var entry Entry
	if err := json.Unmarshal(r.scanner.Bytes(), &entry); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
	}
	return &entry, nil
}

// Close closes the reader
func (r *Reader) Close() error {
	return r.file.Close()
}

// Replay replays WAL entries written after since, in write order
func Replay(dir string, since time.Time, handler func(*Entry) error) error {
	return replayFiles(findAllWALFiles(dir, DefaultConfig().FilePrefix), func(e *Entry) error {
		if e.Timestamp.After(since) {
			return handler(e)
		}
		return nil
	})
}

func replayFiles(files []string, handler func(*Entry) error) error {
	for _, file := range files {
		if err := replayFile(file, handler); err != nil {
			return err
		}
	}
	return nil
}

func replayFile(path string, handler func(*Entry) error) error {
	reader, err := NewReader(path)
	if err != nil {
		return err
	}
	defer func() { _ = reader.Close() }()

	for {
		entry, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := handler(entry); err != nil {
			return err
		}
	}
}

// Pending returns executing entries that never got an executed or failed
// entry with the same resource and data. These are calls that may or may
// not have reached the provider before the process died.
func Pending(dir string) ([]Entry, error) {
	open := make(map[string]Entry)
	var order []string

	err := Replay(dir, time.Time{}, func(e *Entry) error {
		key := e.ResourceID + "\x00" + string(e.Data)
		switch e.Type {
		case EntryExecuting:
			if _, seen := open[key]; !seen {
				order = append(order, key)
			}
			open[key] = *e
		case EntryExecuted, EntryFailed:
			delete(open, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	pending := make([]Entry, 0, len(open))
	for _, key := range order {
		if e, ok := open[key]; ok {
			pending = append(pending, e)
			delete(open, key)
		}
	}
	sort.SliceStable(pending, func(i, j int) bool { return pending[i].Sequence < pending[j].Sequence })
	return pending, nil
}
