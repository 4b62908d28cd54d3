package transport

import (
	"sync"

	"github.com/nbirch/hublink/internal/protocol"
)

// lineQueueSize bounds each subscriber's stdout line queue. A subscriber
// that stops draining loses the oldest lines rather than stalling the
// reader goroutine.
const lineQueueSize = 128

// Stream is the device-wide event stream: one producer (the transport's
// reader goroutine), any number of subscribers, delivery in arrival order.
//
// Status snapshots have last-value semantics: a slow subscriber sees the
// newest snapshot, not every intermediate one. Stdout lines are queued per
// subscriber; overflow drops the oldest line and is counted.
type Stream struct {
	mu         sync.Mutex
	subs       map[*Subscription]struct{}
	lastStatus protocol.StatusFlag
	hasStatus  bool
	dropped    uint64
}

// Subscription is one subscriber's view of the stream.
type Subscription struct {
	stream *Stream
	status chan protocol.StatusFlag
	lines  chan string
}

// NewStream creates an empty event stream. Transports create their own;
// exported for session and telemetry tests that fake a transport.
func NewStream() *Stream {
	return &Stream{subs: make(map[*Subscription]struct{})}
}

// Subscribe registers a new subscriber. If a status snapshot has already
// been observed, the subscriber receives it immediately so state-like flags
// never start blind.
func (s *Stream) Subscribe() *Subscription {
	sub := &Subscription{
		stream: s,
		status: make(chan protocol.StatusFlag, 1),
		lines:  make(chan string, lineQueueSize),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[sub] = struct{}{}
	if s.hasStatus {
		sub.status <- s.lastStatus
	}
	return sub
}

// Unsubscribe removes the subscriber. Its channels stop receiving but are
// not closed, so racing reads stay safe.
func (s *Stream) Unsubscribe(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}

// Status delivers status flag snapshots, newest first when the subscriber
// lags.
func (sub *Subscription) Status() <-chan protocol.StatusFlag {
	return sub.status
}

// Lines delivers reassembled stdout lines in arrival order.
func (sub *Subscription) Lines() <-chan string {
	return sub.lines
}

// PublishStatus records and fans out a status snapshot. Called by the
// reader goroutine; exported for transport fakes in tests.
func (s *Stream) PublishStatus(flags protocol.StatusFlag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastStatus = flags
	s.hasStatus = true

	for sub := range s.subs {
		// Conflate: replace an unconsumed snapshot with the newest one.
		select {
		case <-sub.status:
		default:
		}
		sub.status <- flags
	}
}

// PublishLine fans out one stdout line. Called by the reader goroutine;
// exported for transport fakes in tests.
func (s *Stream) PublishLine(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for sub := range s.subs {
		select {
		case sub.lines <- line:
		default:
			// Queue full: drop the oldest line to keep the reader
			// goroutine from stalling on a stuck subscriber.
			select {
			case <-sub.lines:
			default:
			}
			select {
			case sub.lines <- line:
			default:
			}
			s.dropped++
		}
	}
}

// Dropped reports how many stdout lines were discarded due to subscriber
// queue overflow.
func (s *Stream) Dropped() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
