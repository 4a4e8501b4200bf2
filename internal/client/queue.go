package client

import "sync"

// frameQueue is the bounded buffer between a session and the socket writer.
// When the peer cannot drain frames fast enough the queue sheds the least
// valuable frame instead of blocking the session: interim transcripts first,
// then audio, then final transcripts. Control frames are never shed and may
// transiently exceed the limit; a peer that cannot absorb them within the
// writer's deadline is declared gone.
type frameQueue struct {
	mu     sync.Mutex
	frames []Frame
	limit  int
	closed bool

	// onDrop is invoked, outside the lock, once per shed frame.
	onDrop func(FrameKind)

	// wake carries at most one pending signal for the writer.
	wake chan struct{}
}

func newFrameQueue(limit int, onDrop func(FrameKind)) *frameQueue {
	if limit <= 0 {
		limit = defaultQueueLimit
	}
	return &frameQueue{
		frames: make([]Frame, 0, limit),
		limit:  limit,
		onDrop: onDrop,
		wake:   make(chan struct{}, 1),
	}
}

// push enqueues f, shedding per the backpressure ladder when the queue is
// full. It reports ErrClientGone once the queue has been closed.
func (q *frameQueue) push(f Frame) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClientGone
	}

	var (
		shed     FrameKind
		didShed  bool
		rejected bool
	)
	if len(q.frames) >= q.limit && f.Kind != KindControl {
		if i := q.victimLocked(f.Kind); i >= 0 {
			shed = q.frames[i].Kind
			didShed = true
			q.frames = append(q.frames[:i], q.frames[i+1:]...)
		} else {
			// Everything queued outranks the newcomer.
			rejected = true
		}
	}
	if !rejected {
		q.frames = append(q.frames, f)
	}
	q.mu.Unlock()

	if rejected {
		if q.onDrop != nil {
			q.onDrop(f.Kind)
		}
		return nil
	}
	if didShed && q.onDrop != nil {
		q.onDrop(shed)
	}
	q.signal()
	return nil
}

// victimLocked picks the frame to shed for an incoming frame of the given
// kind: the oldest frame of the least valuable kind present. It returns -1
// when every queued frame outranks the newcomer, meaning the newcomer itself
// should be shed.
func (q *frameQueue) victimLocked(incoming FrameKind) int {
	for _, kind := range [...]FrameKind{KindInterimTranscript, KindAudio, KindFinalTranscript} {
		if kind > incoming {
			return -1
		}
		for i, f := range q.frames {
			if f.Kind == kind {
				return i
			}
		}
	}
	return -1
}

// next dequeues the oldest frame. ok is false when the queue is empty.
func (q *frameQueue) next() (Frame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.frames) == 0 {
		return Frame{}, false
	}
	f := q.frames[0]
	q.frames[0] = Frame{}
	q.frames = q.frames[1:]
	return f, true
}

func (q *frameQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// close marks the queue dead and discards anything still buffered. Further
// pushes report ErrClientGone. Idempotent.
func (q *frameQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.frames = nil
	q.mu.Unlock()
	q.signal()
}

func (q *frameQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// signal nudges the writer without ever blocking the caller.
func (q *frameQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
