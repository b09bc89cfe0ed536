package bt

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// DefaultExprCacheSize bounds the shared program cache.
const DefaultExprCacheSize = 1000

// programs is shared by every graph: the same expression text in two trees
// compiles once.
var programs = newProgramCache(DefaultExprCacheSize)

// programCache is an LRU of compiled expr-lang predicates keyed by source.
type programCache struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	lru     *list.List
	maxSize int
	hits    int64
	misses  int64
}

type programEntry struct {
	source  string
	program *vm.Program
}

func newProgramCache(maxSize int) *programCache {
	if maxSize < 1 {
		maxSize = DefaultExprCacheSize
	}
	return &programCache{
		entries: make(map[string]*list.Element, maxSize),
		lru:     list.New(),
		maxSize: maxSize,
	}
}

// compile returns the cached program for source, compiling it on a miss.
func (c *programCache) compile(source string) (*vm.Program, error) {
	c.mu.Lock()
	if elem, ok := c.entries[source]; ok {
		c.hits++
		c.lru.MoveToFront(elem)
		p := elem.Value.(*programEntry).program
		c.mu.Unlock()
		return p, nil
	}
	c.misses++
	c.mu.Unlock()

	program, err := expr.Compile(source,
		expr.AsBool(),
		expr.AllowUndefinedVariables(),
	)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[source]; ok {
		c.lru.MoveToFront(elem)
		return elem.Value.(*programEntry).program, nil
	}
	c.entries[source] = c.lru.PushFront(&programEntry{source: source, program: program})
	for c.lru.Len() > c.maxSize {
		back := c.lru.Back()
		delete(c.entries, back.Value.(*programEntry).source)
		c.lru.Remove(back)
	}
	return program, nil
}

func (c *programCache) resize(maxSize int) {
	if maxSize < 1 {
		maxSize = 1
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maxSize = maxSize
	for c.lru.Len() > c.maxSize {
		back := c.lru.Back()
		delete(c.entries, back.Value.(*programEntry).source)
		c.lru.Remove(back)
	}
}

func (c *programCache) stats() ExprCacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ExprCacheStats{Size: c.lru.Len(), Limit: c.maxSize, Hits: c.hits, Misses: c.misses}
}

// ExprCacheStats describes the shared program cache.
type ExprCacheStats struct {
	Size   int
	Limit  int
	Hits   int64
	Misses int64
}

// SetExprCacheSize changes the bound of the shared program cache, evicting
// least recently used programs if it shrinks. Compiled graphs keep their
// programs regardless.
func SetExprCacheSize(size int) { programs.resize(size) }

// ReadExprCacheStats snapshots the shared program cache.
func ReadExprCacheStats() ExprCacheStats { return programs.stats() }

// runPredicate evaluates a compiled predicate against env.
func runPredicate(p *vm.Program, env map[string]any) (bool, error) {
	out, err := expr.Run(p, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("expression returned %T, want bool", out)
	}
	return b, nil
}
