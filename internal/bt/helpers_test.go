package bt

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// script is an action that returns its statuses in order, repeating the
// last one, and counts its calls.
type script struct {
	mu       sync.Mutex
	statuses []Status
	calls    int
}

func newScript(statuses ...Status) *script { return &script{statuses: statuses} }

func (s *script) act(*Leaf) (Status, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(s.calls, len(s.statuses)-1)
	s.calls++
	return s.statuses[i], nil
}

func (s *script) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func succeed(*Leaf) (Status, error) { return Success, nil }
func fail(*Leaf) (Status, error)    { return Failure, nil }

var errBoom = errors.New("boom")

func newInstance(t *testing.T, def Def, reg *Registry, opts Options) *Instance {
	t.Helper()
	g, err := Compile(def, reg)
	require.NoError(t, err)
	in, err := NewInstance(g, opts)
	require.NoError(t, err)
	return in
}

func traceKinds(in *Instance) []TraceKind {
	var out []TraceKind
	for _, r := range in.LastTrace() {
		out = append(out, r.Kind)
	}
	return out
}

func tickN(t *testing.T, in *Instance, n int, inputs ...Input) Status {
	t.Helper()
	var st Status
	for i := 0; i < n; i++ {
		st = in.Tick(context.Background(), inputs...)
	}
	return st
}

func enabled(b bool) Input { return In("enabled", value.Bool(b)) }
