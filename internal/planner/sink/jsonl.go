package sink

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/unswei/muesli-bt-sub004/internal/logging"
	"github.com/unswei/muesli-bt-sub004/internal/planner"
)

// JSONL appends one planner.v1 JSON object per line. Each record is a
// single write, so lines are never interleaved.
type JSONL struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJSONL writes to w. Close closes w if it is an io.Closer.
func NewJSONL(w io.Writer) *JSONL {
	j := &JSONL{w: w}
	if c, ok := w.(io.Closer); ok {
		j.closer = c
	}
	return j
}

// OpenJSONL appends to path, rotating at maxSizeMB and keeping maxFiles
// backups.
func OpenJSONL(path string, maxSizeMB, maxFiles int) (*JSONL, error) {
	w, err := logging.NewRotatingFileWriter(path, maxSizeMB, maxFiles)
	if err != nil {
		return nil, fmt.Errorf("sink: open planner log: %w", err)
	}
	return NewJSONL(w), nil
}

func (j *JSONL) Write(_ context.Context, rec *planner.Record) error {
	line, err := encode(rec)
	if err != nil {
		return fmt.Errorf("sink: encode record: %w", err)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.w == nil {
		return ErrClosed
	}
	_, err = j.w.Write(line)
	return err
}

func (j *JSONL) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.w = nil
	if j.closer == nil {
		return nil
	}
	err := j.closer.Close()
	j.closer = nil
	return err
}
