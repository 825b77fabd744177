package channel

import (
	"context"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/core"
)

type EventKind int

const (
	// EventEnvelope carries an inbound envelope.
	EventEnvelope EventKind = iota
	// EventConnected follows a successful (re)dial.
	EventConnected
	// EventDisconnected is emitted before each reconnect attempt.
	EventDisconnected
	// EventFailed is terminal: reconnect attempts are exhausted.
	EventFailed
	// EventRelayError carries an error frame sent by the relay as *domain.RelayError.
	EventRelayError
)

func (k EventKind) String() string {
	switch k {
	case EventEnvelope:
		return "envelope"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventFailed:
		return "failed"
	case EventRelayError:
		return "relay_error"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind     EventKind
	Envelope core.Envelope
	// Attempt is the reconnect attempt number, 0 for the initial connection.
	Attempt int
	// Delay is the backoff before the attempt announced by EventDisconnected.
	Delay time.Duration
	Err   error
}

// subscriber buffers events without bound so emitting never blocks the read pump.
type subscriber struct {
	mu     sync.Mutex
	queue  []Event
	notify chan struct{}
	out    chan Event
}

func newSubscriber() *subscriber {
	return &subscriber{notify: make(chan struct{}, 1), out: make(chan Event)}
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	s.queue = append(s.queue, ev)
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// run forwards queued events to out until ctx is done, or until the channel is
// finished and the queue is drained.
func (s *subscriber) run(ctx context.Context, finished <-chan struct{}, detach func()) {
	defer close(s.out)
	defer detach()
	for {
		ev, ok := s.next(ctx, finished)
		if !ok {
			return
		}
		select {
		case s.out <- ev:
		case <-ctx.Done():
			return
		}
	}
}

func (s *subscriber) next(ctx context.Context, finished <-chan struct{}) (Event, bool) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue[0] = Event{}
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, true
		}
		s.mu.Unlock()

		select {
		case <-s.notify:
		case <-ctx.Done():
			return Event{}, false
		case <-finished:
			s.mu.Lock()
			empty := len(s.queue) == 0
			s.mu.Unlock()
			if empty {
				return Event{}, false
			}
		}
	}
}
