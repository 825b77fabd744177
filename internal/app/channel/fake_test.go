package channel

import (
	"context"
	"errors"
	"sync"

	"github.com/dkeye/peercall/internal/core"
)

var errRefused = errors.New("connection refused")

type fakeSocket struct {
	in    chan core.Frame
	done  chan struct{}
	once  sync.Once
	wrote chan core.Frame
}

func newFakeSocket() *fakeSocket {
	return &fakeSocket{
		in:    make(chan core.Frame, 16),
		done:  make(chan struct{}),
		wrote: make(chan core.Frame, 16),
	}
}

func (s *fakeSocket) ReadMessage() (core.Frame, error) {
	select {
	case f := <-s.in:
		return f, nil
	case <-s.done:
		return nil, errors.New("socket closed")
	}
}

func (s *fakeSocket) WriteMessage(f core.Frame) error {
	select {
	case <-s.done:
		return errors.New("socket closed")
	default:
	}
	select {
	case s.wrote <- f:
		return nil
	case <-s.done:
		return errors.New("socket closed")
	}
}

func (s *fakeSocket) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}

// fakeDialer hands out scripted sockets; a nil entry or an exhausted script refuses.
type fakeDialer struct {
	mu      sync.Mutex
	sockets []*fakeSocket
	dials   int
	lastCtx context.Context
}

func (d *fakeDialer) Dial(ctx context.Context, url string) (core.Socket, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.dials++
	d.lastCtx = ctx
	if len(d.sockets) == 0 {
		return nil, errRefused
	}
	s := d.sockets[0]
	d.sockets = d.sockets[1:]
	if s == nil {
		return nil, errRefused
	}
	return s, nil
}

func (d *fakeDialer) lastContext() context.Context {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastCtx
}
