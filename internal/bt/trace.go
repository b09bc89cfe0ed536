package bt

import "time"

// TraceKind classifies a trace record.
type TraceKind string

const (
	TraceMisuse     TraceKind = "misuse"
	TraceOverrun    TraceKind = "overrun"
	TraceHalt       TraceKind = "halt"
	TraceCancel     TraceKind = "cancel"
	TraceTaskFailed TraceKind = "task_failed"
	TracePlanner    TraceKind = "planner"
)

// TraceRecord is a diagnostic event from one tick.
type TraceRecord struct {
	Tick    uint64
	Time    time.Time
	Kind    TraceKind
	NodeID  int
	Node    string
	Message string
}

func (in *Instance) addTrace(n *node, kind TraceKind, msg string) {
	in.trace = append(in.trace, TraceRecord{
		Tick:    in.tick,
		Time:    in.now(),
		Kind:    kind,
		NodeID:  n.id,
		Node:    n.label(),
		Message: msg,
	})
}

// LastTrace returns the records of the most recently completed tick. Safe to
// call from any goroutine.
func (in *Instance) LastTrace() []TraceRecord {
	p := in.lastTrace.Load()
	if p == nil {
		return nil
	}
	return append([]TraceRecord(nil), (*p)...)
}
