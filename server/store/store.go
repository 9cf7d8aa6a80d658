// Package store defines the edit log that documents are persisted to, and an
// in-memory implementation of it.
//
// Every accepted patch is appended as a Record. A document is rebuilt by
// replaying its records in order.
package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// ErrClosed is returned when operating on a closed log.
var ErrClosed = errors.New("store: log is closed")

// Record is one applied patch of a document.
type Record struct {
	PatchId  int
	ClientId string
	OpStrs   []string // encoded crdt ops, insertion requests resolved
	Time     time.Time
}

// Marshal encodes r for storage.
func (r Record) Marshal() ([]byte, error) {
	buf, err := json.Marshal(r)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode record")
	}
	return buf, nil
}

// UnmarshalRecord decodes a record encoded by Record.Marshal.
func UnmarshalRecord(buf []byte) (Record, error) {
	var r Record
	if err := json.Unmarshal(buf, &r); err != nil {
		return Record{}, errors.Wrap(err, "failed to decode record")
	}
	return r, nil
}

// Log is an append-only log of records per document.
type Log interface {
	// Append appends r to the log of doc.
	Append(ctx context.Context, doc string, r Record) error
	// Load returns all records of doc, oldest first.
	Load(ctx context.Context, doc string) ([]Record, error)
	Close() error
}

// Memory is a Log held in memory.
type Memory struct {
	mu     sync.Mutex // protects the fields below
	docs   map[string][]Record
	closed bool
}

var _ Log = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{docs: make(map[string][]Record)}
}

func (m *Memory) Append(ctx context.Context, doc string, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.docs[doc] = append(m.docs[doc], r)
	return nil
}

func (m *Memory) Load(ctx context.Context, doc string) ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	recs := m.docs[doc]
	res := make([]Record, len(recs))
	copy(res, recs)
	return res, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}
