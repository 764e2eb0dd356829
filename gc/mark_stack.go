// ABOUTME: Chunked mark stack shared by parallel marking workers
// ABOUTME: Detects termination when every worker is idle and no chunks remain

package gc

import (
	"sync"

	"github.com/prateek/heapscan/mirror"
)

type markStack struct {
	mu      sync.Mutex
	cond    *sync.Cond
	chunks  [][]*mirror.Object
	workers int
	idle    int
	done    bool
}

func newMarkStack(workers int) *markStack {
	s := &markStack{workers: workers}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// push hands a chunk to other workers. The stack takes ownership of it.
func (s *markStack) push(chunk []*mirror.Object) {
	if len(chunk) == 0 {
		return
	}
	s.mu.Lock()
	s.chunks = append(s.chunks, chunk)
	s.mu.Unlock()
	s.cond.Signal()
}

// pop blocks until a chunk is available. It returns false once every worker
// is waiting and the stack is empty, or after abort.
func (s *markStack) pop() ([]*mirror.Object, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.chunks) == 0 {
		if s.done {
			return nil, false
		}
		s.idle++
		if s.idle == s.workers {
			s.done = true
			s.cond.Broadcast()
			return nil, false
		}
		s.cond.Wait()
		s.idle--
	}
	n := len(s.chunks) - 1
	chunk := s.chunks[n]
	s.chunks[n] = nil
	s.chunks = s.chunks[:n]
	return chunk, true
}

// abort wakes every waiting worker and makes pop fail from now on.
func (s *markStack) abort() {
	s.mu.Lock()
	s.done = true
	s.chunks = nil
	s.mu.Unlock()
	s.cond.Broadcast()
}

func (s *markStack) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		n += len(c)
	}
	return n
}
