package core

import (
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/domain"
)

//go:generate mockgen -destination=mocks/media_mock.go -package=mocks . MediaConnection

type MediaConnection interface {
	// CreateOffer creates an offer and sets it as the local description.
	CreateOffer() (webrtc.SessionDescription, error)
	// CreateAnswer answers the applied remote offer and sets it as the local description.
	CreateAnswer() (webrtc.SessionDescription, error)
	SetRemoteDescription(webrtc.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddLocalTrack attaches a locally captured track. The caller keeps ownership of the track.
	AddLocalTrack(webrtc.TrackLocal) (*webrtc.RTPSender, error)
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionStateChange(func(webrtc.PeerConnectionState))
	// OnTrack sets a callback invoked when a remote track arrives.
	OnTrack(func(*webrtc.TrackRemote))
	Close() error
}

// MediaFactory creates the peer connection backing one call session.
type MediaFactory func(sid domain.SessionID) (MediaConnection, error)
