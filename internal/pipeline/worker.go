package pipeline

import (
	"sync"

	"github.com/capitalrow/scribed/internal/observability"
)

// worker serializes chunk processing for one session. The bounded queue
// sheds load by dropping the oldest interim chunk; end-of-stream markers
// are never dropped, so a session always terminates cleanly.
type worker struct {
	sessionID string
	depth     int

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Chunk
	closed bool
}

func newWorker(sessionID string, depth int) *worker {
	w := &worker{sessionID: sessionID, depth: depth}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// push enqueues a chunk, evicting the oldest droppable entry when the queue
// is full. Returns the evicted chunk (for acking) and whether the incoming
// chunk was accepted.
func (w *worker) push(c *Chunk) (dropped *Chunk, ok bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil, false
	}

	if len(w.queue) >= w.depth {
		idx := -1
		for i, queued := range w.queue {
			if !queued.EndOfStream {
				idx = i
				break
			}
		}
		if idx == -1 {
			// Nothing droppable in the queue; shed the incoming chunk
			// instead, unless it is the stream terminator
			if !c.EndOfStream {
				return c, false
			}
		} else {
			dropped = w.queue[idx]
			w.queue = append(w.queue[:idx], w.queue[idx+1:]...)
		}
	}

	w.queue = append(w.queue, c)
	observability.SetQueueDepth(w.sessionID, len(w.queue))
	w.cond.Signal()
	return dropped, true
}

// pop blocks until a chunk is available or the worker is closed
func (w *worker) pop() *Chunk {
	w.mu.Lock()
	defer w.mu.Unlock()

	for len(w.queue) == 0 && !w.closed {
		w.cond.Wait()
	}
	if len(w.queue) == 0 {
		return nil
	}

	c := w.queue[0]
	w.queue = w.queue[1:]
	observability.SetQueueDepth(w.sessionID, len(w.queue))
	return c
}

// close stops the worker; queued chunks are abandoned
func (w *worker) close() {
	w.mu.Lock()
	w.closed = true
	w.queue = nil
	w.mu.Unlock()
	w.cond.Broadcast()
	observability.DropQueueDepth(w.sessionID)
}
