// Package coord binds the signaling channel to peer sessions. It is the only
// component that sees both, so it owns dispatch, cancellation and teardown.
package coord

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/app/channel"
	"github.com/dkeye/peercall/internal/app/peer"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// Channel is the signaling transport the coordinator drives.
type Channel interface {
	Connect(ctx context.Context, url string) error
	Send(env core.Envelope) error
	Subscribe(ctx context.Context) <-chan channel.Event
	// Discard drops frames still queued for torn down sessions.
	Discard(sids ...domain.SessionID) int
	Close() error
}

type Options struct {
	// Tracks are attached to every new session. The caller owns and stops them.
	Tracks []webrtc.TrackLocal
	// OnStateChange observes every session transition.
	OnStateChange func(domain.SessionID, domain.PeerState)
	// OnTrack receives remote tracks of every session.
	OnTrack func(domain.SessionID, *webrtc.TrackRemote)
	// OnRelayError receives error frames from the relay as *domain.RelayError.
	OnRelayError func(error)
}

// entry holds local candidates back until the session's description has been
// sent, so the remote side never sees ice before offer/answer.
type entry struct {
	session *peer.Session
	ready   bool
	held    []webrtc.ICECandidateInit
}

type Coordinator struct {
	ch      Channel
	factory core.MediaFactory
	opts    Options

	mu       sync.Mutex
	sessions map[domain.SessionID]*entry

	ctx        context.Context
	cancel     context.CancelFunc
	started    atomic.Bool
	lost       atomic.Bool
	done       chan struct{}
	finishOnce sync.Once
	err        error
}

func New(ch Channel, factory core.MediaFactory, opts Options) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		ch:       ch,
		factory:  factory,
		opts:     opts,
		sessions: make(map[domain.SessionID]*entry),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Connect opens the signaling channel and starts dispatching inbound events.
func (c *Coordinator) Connect(ctx context.Context, url string) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("coordinator already connected")
	}
	subCtx, cancel := context.WithCancel(c.ctx)
	events := c.ch.Subscribe(subCtx)
	if err := c.ch.Connect(ctx, url); err != nil {
		cancel()
		c.started.Store(false)
		return err
	}
	go func() {
		defer cancel()
		c.run(events)
	}()
	return nil
}

// CreateOffer starts a call. An empty sid gets a fresh SessionID.
func (c *Coordinator) CreateOffer(ctx context.Context, sid domain.SessionID) (domain.SessionID, error) {
	if sid == "" {
		sid = domain.NewSessionID()
	}
	c.mu.Lock()
	if e, ok := c.sessions[sid]; ok {
		c.mu.Unlock()
		return sid, &domain.StateError{Op: "create offer", State: e.session.State()}
	}
	c.mu.Unlock()

	s, err := c.newSession(sid)
	if err != nil {
		return sid, err
	}
	offer, err := s.CreateOffer(ctx)
	if err != nil {
		c.drop(sid, s)
		return sid, err
	}
	if err := c.ch.Send(core.NewOfferEnvelope(sid, offer)); err != nil {
		c.drop(sid, s)
		return sid, fmt.Errorf("send offer: %w", err)
	}
	c.release(sid)
	log.Info().Str("module", "app.coord").Str("sid", sid.String()).Msg("offer sent")
	return sid, nil
}

// Close hangs up one call. Unknown ids are ignored.
func (c *Coordinator) Close(sid domain.SessionID) error {
	s := c.remove(sid)
	if s == nil {
		return nil
	}
	err := s.Close()
	c.sendBye(sid, "hangup")
	return err
}

// Sessions returns a snapshot of session states.
func (c *Coordinator) Sessions() map[domain.SessionID]domain.PeerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[domain.SessionID]domain.PeerState, len(c.sessions))
	for sid, e := range c.sessions {
		out[sid] = e.session.State()
	}
	return out
}

// Session returns the live session for sid.
func (c *Coordinator) Session(sid domain.SessionID) (*peer.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[sid]
	if !ok {
		return nil, false
	}
	return e.session, true
}

// Done is closed once dispatching has stopped.
func (c *Coordinator) Done() <-chan struct{} { return c.done }

// Wait blocks until dispatching stops and returns the terminal error, if any.
func (c *Coordinator) Wait() error {
	<-c.done
	return c.err
}

// Shutdown closes every session and the channel.
func (c *Coordinator) Shutdown() error {
	c.cancel()
	err := c.ch.Close()
	if !c.started.Load() {
		c.finish(nil)
	}
	<-c.done

	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[domain.SessionID]*entry)
	c.mu.Unlock()
	for _, e := range sessions {
		_ = e.session.Close()
	}
	log.Info().Str("module", "app.coord").Int("sessions", len(sessions)).Msg("shutdown")
	return err
}

func (c *Coordinator) finish(err error) {
	c.finishOnce.Do(func() {
		c.err = err
		close(c.done)
	})
}

func (c *Coordinator) run(events <-chan channel.Event) {
	for ev := range events {
		switch ev.Kind {
		case channel.EventEnvelope:
			c.dispatch(ev.Envelope)
		case channel.EventConnected:
			log.Info().Str("module", "app.coord").Int("attempt", ev.Attempt).Msg("signaling connected")
		case channel.EventDisconnected:
			if sids := c.closeAll("signaling disconnected"); len(sids) > 0 {
				c.ch.Discard(sids...)
			}
		case channel.EventRelayError:
			log.Warn().Err(ev.Err).Str("module", "app.coord").Msg("relay rejected request")
			if c.opts.OnRelayError != nil {
				c.opts.OnRelayError(ev.Err)
			}
		case channel.EventFailed:
			c.failAll(ev.Err)
			c.finish(ev.Err)
			return
		}
	}
	c.finish(nil)
}

// dispatch handles one inbound envelope. It runs on the single dispatch loop,
// which keeps per-session arrival order.
func (c *Coordinator) dispatch(env core.Envelope) {
	logger := log.With().Str("module", "app.coord").Str("type", string(env.Type)).Str("sid", env.SessionID.String()).Logger()

	switch env.Type {
	case core.EnvelopeOffer:
		c.handleOffer(env)
	case core.EnvelopeAnswer:
		c.handleAnswer(env)
	case core.EnvelopeICE:
		s, ok := c.Session(env.SessionID)
		if !ok {
			logger.Debug().Msg("candidate for unknown session")
			return
		}
		cand, err := env.Candidate()
		if err != nil {
			logger.Warn().Err(err).Msg("dropping candidate")
			return
		}
		if err := s.AddICECandidate(cand); err != nil {
			logger.Warn().Err(err).Msg("candidate rejected")
		}
	case core.EnvelopeBye:
		if s := c.remove(env.SessionID); s != nil {
			_ = s.Close()
			logger.Info().Str("reason", env.Bye().Reason).Msg("remote hung up")
		}
	}
}

func (c *Coordinator) handleOffer(env core.Envelope) {
	sid := env.SessionID
	logger := log.With().Str("module", "app.coord").Str("sid", sid.String()).Logger()

	desc, err := env.Description()
	if err != nil {
		logger.Warn().Err(err).Msg("dropping offer")
		return
	}
	s, created := c.lookupOrCreate(sid)
	if s == nil {
		return
	}
	answer, err := s.AcceptOffer(c.ctx, desc)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrMalformed):
		logger.Warn().Err(err).Msg("dropping offer")
		if created {
			c.drop(sid, s)
		}
		return
	case errors.Is(err, domain.ErrInvalidState):
		logger.Warn().Err(err).Msg("offer for busy session")
		return
	default:
		logger.Error().Err(err).Msg("accept offer failed")
		return
	}

	if err := c.ch.Send(core.NewAnswerEnvelope(sid, answer)); err != nil {
		logger.Error().Err(err).Msg("send answer failed")
		c.drop(sid, s)
		return
	}
	c.release(sid)
	logger.Info().Msg("answer sent")
}

func (c *Coordinator) handleAnswer(env core.Envelope) {
	sid := env.SessionID
	logger := log.With().Str("module", "app.coord").Str("sid", sid.String()).Logger()

	desc, err := env.Description()
	if err != nil {
		logger.Warn().Err(err).Msg("dropping answer")
		return
	}
	s, created := c.lookupOrCreate(sid)
	if s == nil {
		return
	}
	err = s.ApplyRemoteDescription(c.ctx, desc)
	switch {
	case err == nil:
		logger.Info().Msg("answer applied")
	case errors.Is(err, domain.ErrMalformed):
		logger.Warn().Err(err).Msg("dropping answer")
		if created {
			c.drop(sid, s)
		}
	case errors.Is(err, domain.ErrInvalidState) && created:
		// An answer for a call this peer never offered, e.g. one from before a reconnect.
		logger.Warn().Msg("stale answer, hanging up")
		c.drop(sid, s)
		c.sendBye(sid, "stale")
	case errors.Is(err, domain.ErrInvalidState):
		logger.Warn().Err(err).Msg("unexpected answer")
	default:
		logger.Error().Err(err).Msg("apply answer failed")
	}
}

func (c *Coordinator) lookupOrCreate(sid domain.SessionID) (*peer.Session, bool) {
	if s, ok := c.Session(sid); ok {
		return s, false
	}
	s, err := c.newSession(sid)
	if err != nil {
		log.Error().Err(err).Str("module", "app.coord").Str("sid", sid.String()).Msg("create session failed")
		return nil, false
	}
	return s, true
}

// newSession creates and registers a session. Existing ids are reused.
func (c *Coordinator) newSession(sid domain.SessionID) (*peer.Session, error) {
	conn, err := c.factory(sid)
	if err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	s := peer.New(sid, conn)
	for _, t := range c.opts.Tracks {
		if err := s.AttachTrack(t); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	if c.opts.OnTrack != nil {
		conn.OnTrack(func(tr *webrtc.TrackRemote) { c.opts.OnTrack(sid, tr) })
	}
	s.OnICECandidate(func(cand webrtc.ICECandidateInit) { c.sendCandidate(sid, cand) })
	s.OnStateChange(func(st domain.PeerState) { c.stateChanged(sid, s, st) })

	c.mu.Lock()
	if e, ok := c.sessions[sid]; ok {
		c.mu.Unlock()
		_ = s.Close()
		return e.session, nil
	}
	c.sessions[sid] = &entry{session: s}
	n := len(c.sessions)
	c.mu.Unlock()

	log.Info().Str("module", "app.coord").Str("sid", sid.String()).Int("sessions", n).Msg("session created")
	return s, nil
}

func (c *Coordinator) stateChanged(sid domain.SessionID, s *peer.Session, st domain.PeerState) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(sid, st)
	}
	if st != domain.StateFailed || c.lost.Load() {
		return
	}
	if !c.removeIf(sid, s) {
		return
	}
	log.Warn().Err(s.Err()).Str("module", "app.coord").Str("sid", sid.String()).Msg("session failed, hanging up")
	_ = s.Close()
	c.sendBye(sid, "failed")
}

func (c *Coordinator) sendCandidate(sid domain.SessionID, cand webrtc.ICECandidateInit) {
	c.mu.Lock()
	e, ok := c.sessions[sid]
	if !ok {
		c.mu.Unlock()
		return
	}
	if !e.ready {
		e.held = append(e.held, cand)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	if err := c.ch.Send(core.NewCandidateEnvelope(sid, cand)); err != nil {
		log.Warn().Err(err).Str("module", "app.coord").Str("sid", sid.String()).Msg("send candidate failed")
	}
}

// release lets local candidates flow once the description went out.
func (c *Coordinator) release(sid domain.SessionID) {
	c.mu.Lock()
	e, ok := c.sessions[sid]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.ready = true
	held := e.held
	e.held = nil
	c.mu.Unlock()

	for _, cand := range held {
		if err := c.ch.Send(core.NewCandidateEnvelope(sid, cand)); err != nil {
			log.Warn().Err(err).Str("module", "app.coord").Str("sid", sid.String()).Msg("send candidate failed")
		}
	}
}

func (c *Coordinator) sendBye(sid domain.SessionID, reason string) {
	err := c.ch.Send(core.NewByeEnvelope(sid, reason))
	if err != nil && !errors.Is(err, domain.ErrChannelClosed) {
		log.Warn().Err(err).Str("module", "app.coord").Str("sid", sid.String()).Msg("send bye failed")
	}
}

func (c *Coordinator) remove(sid domain.SessionID) *peer.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.sessions[sid]
	if !ok {
		return nil
	}
	delete(c.sessions, sid)
	return e.session
}

func (c *Coordinator) removeIf(sid domain.SessionID, s *peer.Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.sessions[sid]; !ok || e.session != s {
		return false
	}
	delete(c.sessions, sid)
	return true
}

func (c *Coordinator) drop(sid domain.SessionID, s *peer.Session) {
	c.removeIf(sid, s)
	_ = s.Close()
}

// closeAll tears down every session after the signaling path was lost and
// returns their ids.
func (c *Coordinator) closeAll(reason string) []domain.SessionID {
	c.mu.Lock()
	sessions := c.sessions
	c.sessions = make(map[domain.SessionID]*entry)
	c.mu.Unlock()

	sids := make([]domain.SessionID, 0, len(sessions))
	for sid, e := range sessions {
		_ = e.session.Close()
		sids = append(sids, sid)
	}
	if len(sessions) > 0 {
		log.Warn().Str("module", "app.coord").Int("sessions", len(sessions)).Str("reason", reason).Msg("closed sessions")
	}
	return sids
}

// failAll marks every session Failed after the channel gave up. Sessions stay
// registered until Shutdown.
func (c *Coordinator) failAll(err error) {
	c.lost.Store(true)
	c.mu.Lock()
	sessions := make([]*peer.Session, 0, len(c.sessions))
	for _, e := range c.sessions {
		sessions = append(sessions, e.session)
	}
	c.mu.Unlock()

	for _, s := range sessions {
		s.Fail(err)
	}
	log.Error().Err(err).Str("module", "app.coord").Int("sessions", len(sessions)).Msg("signaling failed")
}
