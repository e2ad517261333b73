// Package auditlog implements a hash-chained, tamper-evident audit log of
// commit/abort events: each event's hash covers its own canonical JSON
// with the hash field cleared, chained to the previous event's hash. Every
// event is appended to a zstd-compressed, newline-delimited JSON file so
// the full chain can be replayed and verified later.
package auditlog

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/withObsrvr/obsrvr-table-compactor/internal/metrics"
)

// Kind is the outcome recorded by an AuditEvent.
type Kind string

const (
	KindCommitted Kind = "committed"
	KindAborted   Kind = "aborted"
)

// Event is one entry in the audit chain.
type Event struct {
	EventID   string    `json:"event_id"`
	RunID     string    `json:"run_id"`
	GroupID   string    `json:"group_id"`
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	PrevHash  string     `json:"prev_hash"`
	Hash      string     `json:"hash"`
}

// computeHash hashes the canonical JSON of evt with Hash cleared, matching
// pas.ComputeEventHash's "copy, clear the hash field, marshal" approach.
func computeHash(evt Event) (string, error) {
	evt.Hash = ""
	canonical, err := json.Marshal(evt)
	if err != nil {
		return "", fmt.Errorf("auditlog: marshal event for hashing: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return "sha256:" + hex.EncodeToString(sum[:]), nil
}

// Log appends hash-chained events to a zstd-compressed NDJSON file. Appends
// are serialized by an internal mutex; they come from the committing
// goroutine and, in partial-progress mode, from rewrite workers recording
// the abort of a failed group.
// Metrics is optional, set by the caller after Open; nil disables the
// audit-log-error counter.
type Log struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *zstd.Encoder
	lastHash string
	Metrics  *metrics.Metrics
}

// Open appends to (or creates) the zstd-compressed audit log at path.
// Because zstd frames can be concatenated, re-opening an existing log for
// append and writing a fresh frame per flush produces a valid stream.
func Open(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	enc, err := zstd.NewWriter(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("auditlog: create zstd encoder: %w", err)
	}
	return &Log{file: f, encoder: enc}, nil
}

// Append computes the event's hash chained to the previous append and
// writes it to the log. Safe for concurrent use.
func (l *Log) Append(evt Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	evt.PrevHash = l.lastHash
	hash, err := computeHash(evt)
	if err != nil {
		l.incAuditLogError()
		return err
	}
	evt.Hash = hash

	line, err := json.Marshal(evt)
	if err != nil {
		l.incAuditLogError()
		return fmt.Errorf("auditlog: marshal event: %w", err)
	}
	line = append(line, '\n')

	if _, err := l.encoder.Write(line); err != nil {
		l.incAuditLogError()
		return fmt.Errorf("auditlog: write event: %w", err)
	}
	if err := l.encoder.Flush(); err != nil {
		l.incAuditLogError()
		return fmt.Errorf("auditlog: flush event: %w", err)
	}

	l.lastHash = hash
	return nil
}

// incAuditLogError is a no-op when Metrics is nil.
func (l *Log) incAuditLogError() {
	if l.Metrics != nil {
		l.Metrics.IncAuditLogErrors(metrics.Labels{Operation: "append"})
	}
}

// Close flushes and releases the underlying file.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.encoder.Close(); err != nil {
		l.file.Close()
		return fmt.Errorf("auditlog: close encoder: %w", err)
	}
	return l.file.Close()
}

// VerifyChain decodes every event in a zstd-compressed NDJSON audit log and
// confirms each event's recorded hash matches its recomputed hash, and that
// each event's PrevHash matches the previous event's Hash. Returns the
// decoded events on success.
func VerifyChain(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("auditlog: open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("auditlog: create zstd decoder: %w", err)
	}
	defer dec.Close()

	var events []Event
	scanner := bufio.NewScanner(dec)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	prevHash := ""
	for scanner.Scan() {
		var evt Event
		if err := json.Unmarshal(scanner.Bytes(), &evt); err != nil {
			return nil, fmt.Errorf("auditlog: decode event: %w", err)
		}
		if evt.PrevHash != prevHash {
			return nil, fmt.Errorf("auditlog: chain broken at event %s: expected prev hash %q, got %q", evt.EventID, prevHash, evt.PrevHash)
		}
		want, err := computeHash(evt)
		if err != nil {
			return nil, err
		}
		if want != evt.Hash {
			return nil, fmt.Errorf("auditlog: tamper detected at event %s: recomputed hash %q does not match stored %q", evt.EventID, want, evt.Hash)
		}
		events = append(events, evt)
		prevHash = evt.Hash
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("auditlog: scan %s: %w", path, err)
	}
	return events, nil
}
