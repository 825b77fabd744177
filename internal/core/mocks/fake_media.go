package mocks

import (
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// TestSDP is a minimal session description accepted by the sdp parser.
const TestSDP = "v=0\r\n" +
	"o=- 4215775240449105457 2 IN IP4 127.0.0.1\r\n" +
	"s=-\r\n" +
	"t=0 0\r\n" +
	"m=audio 9 UDP/TLS/RTP/SAVPF 111\r\n" +
	"c=IN IP4 0.0.0.0\r\n" +
	"a=mid:0\r\n" +
	"a=sendrecv\r\n"

// TestCandidate is a well formed host candidate.
const TestCandidate = "candidate:1 1 udp 2130706431 10.0.0.1 50000 typ host"

// FakeMediaConnection is an in-memory core.MediaConnection recording calls.
// Gate, when set, blocks SetRemoteDescription until it is closed or sent to.
type FakeMediaConnection struct {
	mu sync.Mutex

	CreateOfferErr error
	SetRemoteErr   error
	AddTrackErr    error
	Gate           chan struct{}
	// Gather is emitted as local candidates once a local description is created.
	Gather []webrtc.ICECandidateInit

	Remote     []webrtc.SessionDescription
	Candidates []webrtc.ICECandidateInit
	Tracks     []webrtc.TrackLocal
	Closes     int

	onICE   func(webrtc.ICECandidateInit)
	onState func(webrtc.PeerConnectionState)
	onTrack func(*webrtc.TrackRemote)
}

var _ core.MediaConnection = (*FakeMediaConnection)(nil)

// FakeFactory returns a core.MediaFactory handing out fakes and recording them by session.
func FakeFactory(configure ...func(*FakeMediaConnection)) (core.MediaFactory, func(domain.SessionID) *FakeMediaConnection) {
	var mu sync.Mutex
	made := make(map[domain.SessionID]*FakeMediaConnection)
	factory := func(sid domain.SessionID) (core.MediaConnection, error) {
		f := &FakeMediaConnection{}
		for _, fn := range configure {
			fn(f)
		}
		mu.Lock()
		made[sid] = f
		mu.Unlock()
		return f, nil
	}
	lookup := func(sid domain.SessionID) *FakeMediaConnection {
		mu.Lock()
		defer mu.Unlock()
		return made[sid]
	}
	return factory, lookup
}

func (f *FakeMediaConnection) CreateOffer() (webrtc.SessionDescription, error) {
	f.mu.Lock()
	err := f.CreateOfferErr
	f.mu.Unlock()
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	f.gather()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: TestSDP}, nil
}

func (f *FakeMediaConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	f.gather()
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: TestSDP}, nil
}

func (f *FakeMediaConnection) gather() {
	f.mu.Lock()
	cands := f.Gather
	f.mu.Unlock()
	for _, c := range cands {
		f.EmitCandidate(c)
	}
}

func (f *FakeMediaConnection) SetRemoteDescription(desc webrtc.SessionDescription) error {
	f.mu.Lock()
	gate := f.Gate
	f.mu.Unlock()
	if gate != nil {
		<-gate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetRemoteErr != nil {
		return f.SetRemoteErr
	}
	f.Remote = append(f.Remote, desc)
	return nil
}

func (f *FakeMediaConnection) AddICECandidate(c webrtc.ICECandidateInit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Candidates = append(f.Candidates, c)
	return nil
}

func (f *FakeMediaConnection) AddLocalTrack(t webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.AddTrackErr != nil {
		return nil, f.AddTrackErr
	}
	f.Tracks = append(f.Tracks, t)
	return nil, nil
}

func (f *FakeMediaConnection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	f.mu.Lock()
	f.onICE = fn
	f.mu.Unlock()
}

func (f *FakeMediaConnection) OnConnectionStateChange(fn func(webrtc.PeerConnectionState)) {
	f.mu.Lock()
	f.onState = fn
	f.mu.Unlock()
}

func (f *FakeMediaConnection) OnTrack(fn func(*webrtc.TrackRemote)) {
	f.mu.Lock()
	f.onTrack = fn
	f.mu.Unlock()
}

func (f *FakeMediaConnection) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closes++
	return nil
}

// EmitCandidate fires the local candidate callback synchronously.
func (f *FakeMediaConnection) EmitCandidate(c webrtc.ICECandidateInit) {
	f.mu.Lock()
	fn := f.onICE
	f.mu.Unlock()
	if fn != nil {
		fn(c)
	}
}

// EmitState fires the connection state callback synchronously.
func (f *FakeMediaConnection) EmitState(s webrtc.PeerConnectionState) {
	f.mu.Lock()
	fn := f.onState
	f.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (f *FakeMediaConnection) Snapshot() (remote []webrtc.SessionDescription, cands []webrtc.ICECandidateInit, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append(remote, f.Remote...), append(cands, f.Candidates...), f.Closes
}
