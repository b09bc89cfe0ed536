//go:build debug

package blackboard

import (
	"fmt"
	"runtime"

	"github.com/unswei/muesli-bt-sub004/internal/goroutineid"
)

// assertWriter panics when a goroutine other than the bound tick goroutine
// mutates the blackboard. Writes while unbound (between ticks) are allowed.
func (b *Blackboard) assertWriter(op string) {
	owner := b.owner.Load()
	if owner == 0 {
		return
	}
	if gid := goroutineid.Get(); gid != owner {
		buf := make([]byte, 4096)
		n := runtime.Stack(buf, false)
		panic(fmt.Sprintf("FOREIGN WRITER: blackboard.%s from goroutine %d while tick goroutine %d owns it\nStack:\n%s", op, gid, owner, buf[:n]))
	}
}
