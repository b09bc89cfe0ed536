// Package goroutineid reads the current goroutine's id from the runtime stack
// header. The behavior tree runtime uses it to detect two goroutines ticking
// the same instance at once.
package goroutineid

import (
	"bytes"
	"runtime"
	"sync"
)

// The header "goroutine N [status]:" fits in the first 64 bytes of a trace.
var stackBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, 64)
		return &b
	},
}

var prefix = []byte("goroutine ")

// Get returns the current goroutine id, or 0 if the header cannot be parsed.
func Get() int64 {
	bp := stackBufPool.Get().(*[]byte)
	defer stackBufPool.Put(bp)
	n := runtime.Stack(*bp, false)
	return parse((*bp)[:n])
}

// parse extracts N from a "goroutine N ..." header without allocating.
func parse(stack []byte) int64 {
	i := bytes.Index(stack, prefix)
	if i < 0 {
		return 0
	}
	var id int64
	digits := 0
	for _, c := range stack[i+len(prefix):] {
		if c < '0' || c > '9' {
			break
		}
		id = id*10 + int64(c-'0')
		digits++
	}
	if digits == 0 {
		return 0
	}
	return id
}
