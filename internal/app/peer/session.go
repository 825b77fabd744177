// Package peer drives the negotiation of a single peer connection.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var errConnectionFailed = errors.New("peer connection failed")

// Session owns the lifecycle of one peer connection:
//
//	Idle -> Offering|Answering -> Connected -> Closed
//
// Any state may move to Failed; Failed and Closed are terminal, although a
// Failed session can still be closed to release its resources.
//
// The connection is never called while mu is held, so callbacks fired by the
// connection may safely re-enter the session.
type Session struct {
	id   domain.SessionID
	conn core.MediaConnection

	mu        sync.Mutex
	state     domain.PeerState
	err       error
	localSet  bool
	remoteSet bool
	applying  bool
	transport bool
	pending   []webrtc.ICECandidateInit
	tracks    []webrtc.TrackLocal
	onState   func(domain.PeerState)
	onICE     func(webrtc.ICECandidateInit)

	// applyMu orders remote description and candidate application.
	applyMu   sync.Mutex
	closeOnce sync.Once
}

func New(id domain.SessionID, conn core.MediaConnection) *Session {
	s := &Session{id: id, conn: conn, state: domain.StateIdle}
	conn.OnICECandidate(s.handleLocalCandidate)
	conn.OnConnectionStateChange(s.handleConnectionState)
	return s
}

func (s *Session) ID() domain.SessionID { return s.id }

func (s *Session) State() domain.PeerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to Failed.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Tracks returns the local tracks referenced by the session.
func (s *Session) Tracks() []webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]webrtc.TrackLocal(nil), s.tracks...)
}

// OnStateChange registers fn to be called after every state transition.
func (s *Session) OnStateChange(fn func(domain.PeerState)) {
	s.mu.Lock()
	s.onState = fn
	s.mu.Unlock()
}

// OnICECandidate registers fn to receive locally gathered candidates.
func (s *Session) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	s.mu.Lock()
	s.onICE = fn
	s.mu.Unlock()
}

// AttachTrack references a locally captured track. The caller keeps ownership.
func (s *Session) AttachTrack(track webrtc.TrackLocal) error {
	s.mu.Lock()
	if s.state != domain.StateIdle {
		st := s.state
		s.mu.Unlock()
		return &domain.StateError{Op: "attach track", State: st}
	}
	s.tracks = append(s.tracks, track)
	s.mu.Unlock()

	if _, err := s.conn.AddLocalTrack(track); err != nil {
		s.mu.Lock()
		for i, t := range s.tracks {
			if t == track {
				s.tracks = append(s.tracks[:i], s.tracks[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		return fmt.Errorf("attach track: %w", err)
	}
	log.Debug().Str("module", "peer").Str("sid", s.id.String()).Str("track_id", track.ID()).Msg("track attached")
	return nil
}

// CreateOffer moves an Idle session to Offering and returns the local offer.
func (s *Session) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.begin("create offer", domain.StateOffering); err != nil {
		return webrtc.SessionDescription{}, err
	}

	offer, err := s.conn.CreateOffer()
	if err != nil {
		return webrtc.SessionDescription{}, s.fail(fmt.Errorf("create offer: %w", err))
	}
	if err := s.settle(ctx, func() { s.localSet = true }); err != nil {
		return webrtc.SessionDescription{}, err
	}
	log.Info().Str("module", "peer").Str("sid", s.id.String()).Msg("offer created")
	return offer, nil
}

// AcceptOffer applies a remote offer to an Idle session, moves it to
// Answering and returns the local answer.
func (s *Session) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := validateDescription(offer, webrtc.SDPTypeOffer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := s.begin("accept offer", domain.StateAnswering); err != nil {
		return webrtc.SessionDescription{}, err
	}

	if err := s.applyRemote(ctx, offer); err != nil {
		return webrtc.SessionDescription{}, err
	}

	answer, err := s.conn.CreateAnswer()
	if err != nil {
		return webrtc.SessionDescription{}, s.fail(fmt.Errorf("create answer: %w", err))
	}
	if err := s.settle(ctx, func() { s.localSet = true }); err != nil {
		return webrtc.SessionDescription{}, err
	}
	log.Info().Str("module", "peer").Str("sid", s.id.String()).Msg("answer created")
	return answer, nil
}

// ApplyRemoteDescription applies the remote answer to an Offering session.
// The session becomes Connected once the transport reports connectivity.
func (s *Session) ApplyRemoteDescription(ctx context.Context, desc webrtc.SessionDescription) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateDescription(desc, webrtc.SDPTypeAnswer); err != nil {
		return err
	}

	s.mu.Lock()
	if !s.state.Negotiating() || s.remoteSet || s.applying {
		st := s.state
		s.mu.Unlock()
		return &domain.StateError{Op: "apply remote description", State: st}
	}
	s.applying = true
	s.mu.Unlock()

	return s.applyRemote(ctx, desc)
}

// AddICECandidate applies a remote candidate, or buffers it until the remote
// description is set. Malformed candidates are rejected with
// domain.ErrMalformed and leave the session untouched.
func (s *Session) AddICECandidate(c webrtc.ICECandidateInit) error {
	if err := validateCandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("sid", s.id.String()).Msg("dropping candidate")
		return err
	}

	s.mu.Lock()
	if s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	if !s.remoteSet {
		s.pending = append(s.pending, c)
		n := len(s.pending)
		s.mu.Unlock()
		log.Debug().Str("module", "peer").Str("sid", s.id.String()).Int("pending", n).Msg("candidate buffered")
		return nil
	}
	s.mu.Unlock()

	s.applyMu.Lock()
	defer s.applyMu.Unlock()
	s.addCandidate(c)
	return nil
}

// Close releases the connection and all track references. It is idempotent
// and valid in every state.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == domain.StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = domain.StateClosed
	s.tracks = nil
	s.pending = nil
	hook := s.onState
	s.mu.Unlock()

	var err error
	s.closeOnce.Do(func() {
		err = s.conn.Close()
	})
	log.Info().Str("module", "peer").Str("sid", s.id.String()).Msg("session closed")
	if hook != nil {
		hook(domain.StateClosed)
	}
	return err
}

// begin claims the transition out of Idle before any asynchronous step.
func (s *Session) begin(op string, next domain.PeerState) error {
	s.mu.Lock()
	if s.state != domain.StateIdle {
		st := s.state
		s.mu.Unlock()
		return &domain.StateError{Op: op, State: st}
	}
	s.state = next
	// an answering session is already applying the remote offer
	s.applying = next == domain.StateAnswering
	hook := s.onState
	s.mu.Unlock()

	if hook != nil {
		hook(next)
	}
	return nil
}

// applyRemote sets the remote description and flushes buffered candidates in
// arrival order. Candidates arriving meanwhile wait on applyMu.
func (s *Session) applyRemote(ctx context.Context, desc webrtc.SessionDescription) error {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if err := s.conn.SetRemoteDescription(desc); err != nil {
		return s.fail(fmt.Errorf("set remote description: %w", err))
	}

	var pending []webrtc.ICECandidateInit
	if err := s.settle(ctx, func() {
		s.remoteSet = true
		s.applying = false
		pending = s.pending
		s.pending = nil
	}); err != nil {
		return err
	}
	for _, c := range pending {
		s.addCandidate(c)
	}
	if len(pending) > 0 {
		log.Debug().Str("module", "peer").Str("sid", s.id.String()).Int("count", len(pending)).Msg("flushed buffered candidates")
	}
	return nil
}

func (s *Session) addCandidate(c webrtc.ICECandidateInit) {
	if err := s.conn.AddICECandidate(c); err != nil {
		log.Warn().Err(err).Str("module", "peer").Str("sid", s.id.String()).Msg("add candidate failed")
	}
}

// settle re-checks the session after an asynchronous step. If the session was
// closed or failed meanwhile the result is discarded; otherwise apply runs
// under the lock and the Connected condition is re-evaluated.
func (s *Session) settle(ctx context.Context, apply func()) error {
	s.mu.Lock()
	switch s.state {
	case domain.StateClosed:
		s.mu.Unlock()
		return domain.ErrSessionClosed
	case domain.StateFailed:
		err := s.err
		s.mu.Unlock()
		return err
	}
	if err := ctx.Err(); err != nil {
		s.mu.Unlock()
		return s.fail(err)
	}
	apply()
	hook, next := s.promoteLocked()
	s.mu.Unlock()

	if hook != nil {
		hook(next)
	}
	return nil
}

// promoteLocked moves a negotiating session to Connected once both
// descriptions are set and the transport is up.
func (s *Session) promoteLocked() (func(domain.PeerState), domain.PeerState) {
	if !s.state.Negotiating() || !s.localSet || !s.remoteSet || !s.transport {
		return nil, s.state
	}
	s.state = domain.StateConnected
	log.Info().Str("module", "peer").Str("sid", s.id.String()).Msg("session connected")
	if s.onState == nil {
		return nil, s.state
	}
	return s.onState, s.state
}

// fail moves the session to Failed unless it is already terminal and returns
// the error callers should see.
func (s *Session) fail(err error) error {
	s.mu.Lock()
	switch s.state {
	case domain.StateClosed:
		s.mu.Unlock()
		return domain.ErrSessionClosed
	case domain.StateFailed:
		prev := s.err
		s.mu.Unlock()
		return prev
	}
	s.state = domain.StateFailed
	s.err = err
	hook := s.onState
	s.mu.Unlock()

	log.Error().Err(err).Str("module", "peer").Str("sid", s.id.String()).Msg("session failed")
	if hook != nil {
		hook(domain.StateFailed)
	}
	return err
}

// Fail moves the session to Failed with err, e.g. when signaling is lost for good.
func (s *Session) Fail(err error) {
	_ = s.fail(err)
}

func (s *Session) handleLocalCandidate(c webrtc.ICECandidateInit) {
	s.mu.Lock()
	fn := s.onICE
	terminal := s.state.Terminal()
	s.mu.Unlock()
	if fn == nil || terminal {
		return
	}
	fn(c)
}

func (s *Session) handleConnectionState(pcs webrtc.PeerConnectionState) {
	switch pcs {
	case webrtc.PeerConnectionStateConnected:
		s.mu.Lock()
		s.transport = true
		hook, next := s.promoteLocked()
		s.mu.Unlock()
		if hook != nil {
			hook(next)
		}
	case webrtc.PeerConnectionStateFailed:
		s.fail(errConnectionFailed)
	case webrtc.PeerConnectionStateDisconnected:
		log.Warn().Str("module", "peer").Str("sid", s.id.String()).Msg("transport disconnected")
	}
}
