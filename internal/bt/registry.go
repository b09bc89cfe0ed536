package bt

import (
	"context"
	"fmt"
	"sync"

	"github.com/unswei/muesli-bt-sub004/internal/blackboard"
	"github.com/unswei/muesli-bt-sub004/internal/scheduler"
	"github.com/unswei/muesli-bt-sub004/internal/value"
)

// Leaf is what a host function sees of the tick calling it. It is only
// valid for the duration of the call.
type Leaf struct {
	Ctx  context.Context
	BB   *blackboard.Blackboard
	Node string
	ID   int
	Args []value.Value
	// Tick is the zero-based index of the current tick.
	Tick uint64
}

// Arity fails unless the leaf was given exactly n arguments.
func (l *Leaf) Arity(n int) error {
	if len(l.Args) != n {
		return fmt.Errorf("%w: want %d, got %d", ErrArity, n, len(l.Args))
	}
	return nil
}

// Arg returns argument i, or an arity error.
func (l *Leaf) Arg(i int) (value.Value, error) {
	if i < 0 || i >= len(l.Args) {
		return value.Nil, fmt.Errorf("%w: no argument %d", ErrArity, i)
	}
	return l.Args[i], nil
}

// Get reads a symbol-keyed blackboard entry, Nil if absent.
func (l *Leaf) Get(name string) value.Value {
	return l.BB.Get(blackboard.Sym(name), value.Nil)
}

// Put writes a symbol-keyed blackboard entry.
func (l *Leaf) Put(name string, v value.Value) {
	l.BB.Put(blackboard.Sym(name), v)
}

// CondFunc is a host predicate.
type CondFunc func(l *Leaf) (bool, error)

// ActFunc is a synchronous host action. Returning Running asks to be ticked
// again without using the scheduler.
type ActFunc func(l *Leaf) (Status, error)

// AsyncFunc builds the work an AsyncAct submits. It runs on the tick
// goroutine and may read the blackboard; the returned work must not.
type AsyncFunc func(l *Leaf) (scheduler.Work, error)

// Registry holds named host functions referenced by tree definitions. It is
// safe for concurrent use and may be shared between graphs.
type Registry struct {
	mu     sync.RWMutex
	conds  map[string]CondFunc
	acts   map[string]ActFunc
	asyncs map[string]AsyncFunc
}

func NewRegistry() *Registry {
	return &Registry{
		conds:  make(map[string]CondFunc),
		acts:   make(map[string]ActFunc),
		asyncs: make(map[string]AsyncFunc),
	}
}

func (r *Registry) RegisterCond(name string, fn CondFunc) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conds[name] = fn
	return r
}

func (r *Registry) RegisterAct(name string, fn ActFunc) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acts[name] = fn
	return r
}

func (r *Registry) RegisterAsync(name string, fn AsyncFunc) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.asyncs[name] = fn
	return r
}

func (r *Registry) cond(name string) (CondFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.conds[name]
	return fn, ok
}

func (r *Registry) act(name string) (ActFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.acts[name]
	return fn, ok
}

func (r *Registry) async(name string) (AsyncFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.asyncs[name]
	return fn, ok
}
