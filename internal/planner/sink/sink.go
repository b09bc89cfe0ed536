// Package sink holds planner.LogSink implementations: an append-only JSONL
// file, a NATS publisher, an in-memory buffer and a fan-out.
package sink

import (
	"context"
	"errors"
	"sync"

	json "github.com/goccy/go-json"

	"github.com/unswei/muesli-bt-sub004/internal/planner"
)

// ErrClosed is returned by writes after Close.
var ErrClosed = errors.New("sink: closed")

func encode(rec *planner.Record) ([]byte, error) {
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Memory keeps every record in order. It backs tests and the run summary.
type Memory struct {
	mu      sync.Mutex
	records []planner.Record
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Write(_ context.Context, rec *planner.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

// Records returns a copy of everything written so far.
func (m *Memory) Records() []planner.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]planner.Record(nil), m.records...)
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

// Multi writes to every sink in order and joins their errors. A failing
// sink does not stop the others.
type Multi []planner.LogSink

func (ms Multi) Write(ctx context.Context, rec *planner.Record) error {
	var errs []error
	for _, s := range ms {
		if s == nil {
			continue
		}
		if err := s.Write(ctx, rec); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
