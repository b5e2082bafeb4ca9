package service

import (
	"sync"

	"github.com/Harshitk-cp/veracity/internal/domain"
)

// EpochGate is the one piece of state shared by submitters and the
// scheduler. Submitters hold an epoch's latch in shared mode while they write;
// Close takes it exclusively, so it returns only once in-flight writes for
// that epoch have landed and every later Enter is refused.
type EpochGate struct {
	mu      sync.Mutex
	floor   uint64 // every epoch below floor is closed
	latches map[uint64]*epochLatch
}

type epochLatch struct {
	rw     sync.RWMutex
	closed bool
}

func NewEpochGate() *EpochGate {
	return &EpochGate{latches: make(map[uint64]*epochLatch)}
}

func (g *EpochGate) latch(n uint64) (*epochLatch, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if n < g.floor {
		return nil, false
	}
	l, ok := g.latches[n]
	if !ok {
		l = &epochLatch{}
		g.latches[n] = l
	}
	return l, true
}

// Enter admits a writer into epoch n. The returned release must be called
// once the write is done.
func (g *EpochGate) Enter(n uint64) (release func(), err error) {
	l, ok := g.latch(n)
	if !ok {
		return nil, domain.ErrEpochClosed
	}
	l.rw.RLock()
	if l.closed {
		l.rw.RUnlock()
		return nil, domain.ErrEpochClosed
	}
	return l.rw.RUnlock, nil
}

// Close shuts epoch n and every epoch before it, waiting for writers already
// inside them to finish.
func (g *EpochGate) Close(n uint64) {
	g.mu.Lock()
	var draining []*epochLatch
	for k, l := range g.latches {
		if k <= n {
			draining = append(draining, l)
			delete(g.latches, k)
		}
	}
	if n+1 > g.floor {
		g.floor = n + 1
	}
	g.mu.Unlock()

	for _, l := range draining {
		l.rw.Lock()
		l.closed = true
		l.rw.Unlock()
	}
}

func (g *EpochGate) Closed(n uint64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return n < g.floor
}
