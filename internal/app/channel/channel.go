// Package channel implements the client side of the signaling transport: a
// message socket carrying JSON envelopes that reconnects with exponential
// backoff when it drops.
package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"

	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var errAlreadyConnected = errors.New("signal channel already connected")

type connState int

const (
	stateIdle connState = iota
	stateOpen
	stateReconnecting
	stateClosed
)

type Options struct {
	Base       time.Duration
	Cap        time.Duration
	MaxRetries int
	Jitter     float64
	// SendQueue bounds the outbound queue, including frames queued while reconnecting.
	SendQueue int
}

func DefaultOptions() Options {
	return Options{
		Base:       500 * time.Millisecond,
		Cap:        8 * time.Second,
		MaxRetries: 8,
		SendQueue:  64,
	}
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Base:       cfg.Reconnect.Base,
		Cap:        cfg.Reconnect.Cap,
		MaxRetries: cfg.Reconnect.MaxRetries,
		Jitter:     cfg.Reconnect.Jitter,
		SendQueue:  cfg.SendQueue,
	}
}

// Channel is a reconnecting signaling connection.
type Channel struct {
	dialer core.Dialer
	opts   Options

	mu     sync.Mutex
	state  connState
	url    string
	sock   core.Socket
	carry  core.Frame
	subs   map[*subscriber]struct{}
	cancel context.CancelFunc

	out      chan core.Frame
	finished chan struct{}
	finish   sync.Once
	wg       conc.WaitGroup
}

func New(dialer core.Dialer, opts Options) *Channel {
	def := DefaultOptions()
	if opts.Base <= 0 {
		opts.Base = def.Base
	}
	if opts.Cap < opts.Base {
		opts.Cap = def.Cap
	}
	if opts.SendQueue <= 0 {
		opts.SendQueue = def.SendQueue
	}
	return &Channel{
		dialer:   dialer,
		opts:     opts,
		subs:     make(map[*subscriber]struct{}),
		out:      make(chan core.Frame, opts.SendQueue),
		finished: make(chan struct{}),
	}
}

// Connect dials url. A refused dial is reported as *domain.ConnectionError.
func (c *Channel) Connect(ctx context.Context, url string) error {
	c.mu.Lock()
	switch c.state {
	case stateClosed:
		c.mu.Unlock()
		return domain.ErrChannelClosed
	case stateOpen, stateReconnecting:
		c.mu.Unlock()
		return errAlreadyConnected
	}
	c.mu.Unlock()

	sock, err := c.dialer.Dial(ctx, url)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.channel").Str("url", url).Msg("connect failed")
		return &domain.ConnectionError{URL: url, Err: err}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	if c.state != stateIdle {
		c.mu.Unlock()
		cancel()
		_ = sock.Close()
		if c.isClosed() {
			return domain.ErrChannelClosed
		}
		return errAlreadyConnected
	}
	c.state = stateOpen
	c.url = url
	c.sock = sock
	c.cancel = cancel
	c.mu.Unlock()

	log.Info().Str("module", "app.channel").Str("url", url).Msg("connected")
	c.emit(Event{Kind: EventConnected})
	c.wg.Go(func() { c.supervise(runCtx, sock) })
	return nil
}

// Send queues env for delivery. While reconnecting the envelope waits in the
// queue; a full queue yields domain.ErrBackpressure.
func (c *Channel) Send(env core.Envelope) error {
	if err := env.Validate(); err != nil {
		return err
	}
	frame, err := env.Marshal()
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrMalformed, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == stateIdle || c.state == stateClosed {
		return domain.ErrChannelClosed
	}

	select {
	case c.out <- frame:
		return nil
	default:
		log.Warn().Str("module", "app.channel").Str("type", string(env.Type)).Str("sid", env.SessionID.String()).Msg("send queue full")
		return domain.ErrBackpressure
	}
}

// Discard drops frames still queued for the given sessions. It only acts while
// the channel is reconnecting, when nothing is draining the queue; it returns
// the number of frames dropped.
func (c *Channel) Discard(sids ...domain.SessionID) int {
	if len(sids) == 0 {
		return 0
	}
	drop := make(map[domain.SessionID]struct{}, len(sids))
	for _, sid := range sids {
		drop[sid] = struct{}{}
	}
	addressed := func(f core.Frame) bool {
		env, err := core.ParseEnvelope(f)
		if err != nil {
			return false
		}
		_, ok := drop[env.SessionID]
		return ok
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != stateReconnecting {
		return 0
	}

	n := 0
	if c.carry != nil && addressed(c.carry) {
		c.carry = nil
		n++
	}
	var keep []core.Frame
drain:
	for {
		select {
		case f := <-c.out:
			if addressed(f) {
				n++
				continue
			}
			keep = append(keep, f)
		default:
			break drain
		}
	}
	for _, f := range keep {
		c.out <- f
	}
	if n > 0 {
		log.Info().Str("module", "app.channel").Int("frames", n).Msg("discarded queued frames")
	}
	return n
}

// Subscribe returns the inbound event sequence for one subscriber. The
// sequence survives reconnects and ends when ctx is done or the channel is
// closed or failed.
func (c *Channel) Subscribe(ctx context.Context) <-chan Event {
	sub := newSubscriber()
	c.mu.Lock()
	c.subs[sub] = struct{}{}
	c.mu.Unlock()

	go sub.run(ctx, c.finished, func() {
		c.mu.Lock()
		delete(c.subs, sub)
		c.mu.Unlock()
	})
	return sub.out
}

// Close stops the channel and any reconnect in progress. It is idempotent.
func (c *Channel) Close() error {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil
	}
	c.state = stateClosed
	cancel := c.cancel
	sock := c.sock
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	var err error
	if sock != nil {
		err = sock.Close()
	}
	c.wg.Wait()
	c.finish.Do(func() { close(c.finished) })
	log.Info().Str("module", "app.channel").Msg("closed")
	return err
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == stateClosed
}

func (c *Channel) emit(ev Event) {
	c.mu.Lock()
	subs := make([]*subscriber, 0, len(c.subs))
	for s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	for _, s := range subs {
		s.push(ev)
	}
}

// supervise serves sock and redials after unexpected closures until the
// channel is closed or reconnect attempts run out.
func (c *Channel) supervise(ctx context.Context, sock core.Socket) {
	for {
		cause := c.serve(ctx, sock)
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(cause).Str("module", "app.channel").Msg("connection lost")

		next, err := c.reconnect(ctx, cause)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.fail(err)
			return
		}
		sock = next
	}
}

// serve runs the read and write pumps on sock and returns the first error.
func (c *Channel) serve(ctx context.Context, sock core.Socket) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 2)
	var wg conc.WaitGroup
	wg.Go(func() { errc <- c.readPump(sock) })
	wg.Go(func() { errc <- c.writePump(connCtx, sock) })

	err := <-errc
	cancel()
	_ = sock.Close()
	wg.Wait()
	return err
}

func (c *Channel) readPump(sock core.Socket) error {
	for {
		data, err := sock.ReadMessage()
		if err != nil {
			return err
		}
		env, err := core.ParseEnvelope(data)
		if err == nil {
			c.emit(Event{Kind: EventEnvelope, Envelope: env})
			continue
		}
		n, ok := parseNotice(data)
		switch {
		case ok && n.Type == noticeError:
			log.Warn().Str("module", "app.channel").Str("reason", n.Error).Msg("relay error")
			c.emit(Event{Kind: EventRelayError, Err: &domain.RelayError{Reason: n.Error}})
		case ok:
			log.Debug().Str("module", "app.channel").Str("type", n.Type).Msg("relay notice")
		default:
			log.Warn().Err(err).Str("module", "app.channel").Int("size", len(data)).Msg("dropping inbound frame")
		}
	}
}

func (c *Channel) writePump(ctx context.Context, sock core.Socket) error {
	c.mu.Lock()
	carry := c.carry
	c.carry = nil
	c.mu.Unlock()
	if carry != nil {
		if err := sock.WriteMessage(carry); err != nil {
			c.keep(carry)
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-c.out:
			if err := sock.WriteMessage(frame); err != nil {
				c.keep(frame)
				return err
			}
		}
	}
}

// keep holds a frame whose write failed so it goes out first after the redial.
func (c *Channel) keep(frame core.Frame) {
	c.mu.Lock()
	c.carry = frame
	c.mu.Unlock()
}

func (c *Channel) reconnect(ctx context.Context, cause error) (core.Socket, error) {
	c.mu.Lock()
	if c.state == stateClosed {
		c.mu.Unlock()
		return nil, domain.ErrChannelClosed
	}
	c.state = stateReconnecting
	url := c.url
	c.sock = nil
	c.mu.Unlock()

	b := newBackOff(c.opts)
	lastErr := cause
	for attempt := 1; ; attempt++ {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			return nil, fmt.Errorf("%w after %d attempts: %v", domain.ErrReconnectExhausted, attempt-1, lastErr)
		}

		log.Info().Str("module", "app.channel").Int("attempt", attempt).Dur("delay", delay).Msg("reconnecting")
		c.emit(Event{Kind: EventDisconnected, Attempt: attempt, Delay: delay, Err: lastErr})

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}

		sock, err := c.dialer.Dial(ctx, url)
		if err != nil {
			lastErr = &domain.ConnectionError{URL: url, Err: err}
			continue
		}

		c.mu.Lock()
		if c.state == stateClosed {
			c.mu.Unlock()
			_ = sock.Close()
			return nil, domain.ErrChannelClosed
		}
		c.state = stateOpen
		c.sock = sock
		c.mu.Unlock()

		log.Info().Str("module", "app.channel").Int("attempt", attempt).Msg("reconnected")
		c.emit(Event{Kind: EventConnected, Attempt: attempt})
		return sock, nil
	}
}

func (c *Channel) fail(err error) {
	c.mu.Lock()
	c.state = stateClosed
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	log.Error().Err(err).Str("module", "app.channel").Msg("giving up")
	c.emit(Event{Kind: EventFailed, Err: err})
	c.finish.Do(func() { close(c.finished) })
}

// newBackOff doubles the delay from Base up to Cap and stops after MaxRetries.
func newBackOff(opts Options) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = opts.Base
	exp.MaxInterval = opts.Cap
	exp.Multiplier = 2
	exp.RandomizationFactor = opts.Jitter
	exp.MaxElapsedTime = 0
	exp.Reset()
	return backoff.WithMaxRetries(exp, uint64(max(opts.MaxRetries, 0)))
}
