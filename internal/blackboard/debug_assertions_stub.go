//go:build !debug

package blackboard

// assertWriter is a no-op in release builds.
func (b *Blackboard) assertWriter(string) {}
