// Package errlog provides the process-wide append-only error log.
// Every terminal stage failure is recorded here before it propagates, so a
// failed run can always be reconstructed from the log alone. Records are
// written as one JSON object per line; a single mutex makes each append
// atomic with respect to concurrent pipeline runs.
package errlog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Category classifies a failure. Categories drive retry policy upstream:
// only transient and repair failures are ever retried.
type Category string

const (
	CategoryConfig         Category = "config"
	CategoryTransient      Category = "transient"
	CategoryPermanent      Category = "permanent"
	CategoryContentBlocked Category = "content_blocked"
	CategoryRepair         Category = "repair"
	CategoryValidation     Category = "validation"
	CategoryFetch          Category = "fetch"
	CategoryCancelled      Category = "cancelled"
)

// Record is a single error log entry. Records are immutable once appended.
type Record struct {
	Time     time.Time `json:"ts"`
	Stage    string    `json:"stage"`
	Backend  string    `json:"backend,omitempty"`
	Category Category  `json:"category"`
	Message  string    `json:"message"`
	// Excerpt holds a bounded fragment of the raw payload that failed,
	// for debugging malformed model output.
	Excerpt string `json:"excerpt,omitempty"`
}

// Sink receives error records. Implementations must be safe for
// concurrent use.
type Sink interface {
	Append(Record)
}

// FileSink appends records to a JSONL file, one line per record.
type FileSink struct {
	mu   sync.Mutex
	file *os.File
}

// OpenFile opens (creating if needed) a file sink at path.
func OpenFile(path string) (*FileSink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create error log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open error log: %w", err)
	}
	return &FileSink{file: f}, nil
}

// Append writes the record as a single JSON line. Marshal failures are
// swallowed: the error log must never take down the run it is auditing.
func (s *FileSink) Append(r Record) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	data, err := json.Marshal(r)
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.file.Write(append(data, '\n'))
}

// Close closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Close()
}

// Memory is an in-memory sink for tests.
type Memory struct {
	mu      sync.Mutex
	records []Record
}

func (m *Memory) Append(r Record) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, r)
}

// Records returns a copy of the appended records.
func (m *Memory) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out
}

// Nop discards all records.
type Nop struct{}

func (Nop) Append(Record) {}
