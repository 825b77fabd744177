package coord

import (
	"context"
	"sync"

	"github.com/dkeye/peercall/internal/app/channel"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

type fakeChannel struct {
	connectErr error

	in     chan channel.Event
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	sent      []core.Envelope
	discarded []domain.SessionID
}

func newFakeChannel() *fakeChannel {
	return &fakeChannel{in: make(chan channel.Event, 16), closed: make(chan struct{})}
}

func (f *fakeChannel) Connect(ctx context.Context, url string) error { return f.connectErr }

func (f *fakeChannel) Send(env core.Envelope) error {
	select {
	case <-f.closed:
		return domain.ErrChannelClosed
	default:
	}
	f.mu.Lock()
	f.sent = append(f.sent, env)
	f.mu.Unlock()
	return nil
}

func (f *fakeChannel) Subscribe(ctx context.Context) <-chan channel.Event {
	out := make(chan channel.Event)
	go func() {
		defer close(out)
		for {
			select {
			case ev := <-f.in:
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
				if ev.Kind == channel.EventFailed {
					return
				}
			case <-ctx.Done():
				return
			case <-f.closed:
				return
			}
		}
	}()
	return out
}

func (f *fakeChannel) Discard(sids ...domain.SessionID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.discarded = append(f.discarded, sids...)
	return 0
}

func (f *fakeChannel) discards() []domain.SessionID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.SessionID(nil), f.discarded...)
}

func (f *fakeChannel) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeChannel) deliver(env core.Envelope) {
	f.in <- channel.Event{Kind: channel.EventEnvelope, Envelope: env}
}

func (f *fakeChannel) envelopes() []core.Envelope {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]core.Envelope(nil), f.sent...)
}
