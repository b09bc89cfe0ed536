package bt

import (
	"errors"
	"fmt"
)

var (
	// ErrConcurrentTick is recorded when Tick is entered while another tick
	// of the same instance is in progress.
	ErrConcurrentTick = errors.New("bt: concurrent tick rejected")
	// ErrClosed is recorded when Tick is called after Close.
	ErrClosed = errors.New("bt: instance closed")
	// ErrArity is wrapped by Leaf.Arity.
	ErrArity = errors.New("wrong number of arguments")
)

// CompileError reports a malformed tree definition. No instance is created.
type CompileError struct {
	// Path locates the node, e.g. "seq/children[2]/repeat".
	Path string
	// Node is the node name, if it has one.
	Node   string
	Reason string
}

func (e *CompileError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("bt: compile %s (%s): %s", e.Path, e.Node, e.Reason)
	}
	return fmt.Sprintf("bt: compile %s: %s", e.Path, e.Reason)
}

// MisuseError is a host-call failure inside a leaf: a type or arity error,
// an error returned by the host function, or a recovered panic. It fails the
// leaf and never the tick.
type MisuseError struct {
	Node string
	Kind Kind
	Err  error
}

func (e *MisuseError) Error() string {
	return fmt.Sprintf("bt: %s %s: %v", e.Kind, e.Node, e.Err)
}

func (e *MisuseError) Unwrap() error { return e.Err }
