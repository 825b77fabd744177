package rtc_test

import (
	"testing"
	"time"

	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"

	"github.com/dkeye/peercall/internal/adapters/rtc"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/domain"
)

func newVNetConnection(t *testing.T, n *vnet.Net, sid domain.SessionID) *rtc.WebRTCConnection {
	t.Helper()
	api, err := rtc.NewAPI(config.WebRTC{}, func(se *webrtc.SettingEngine) { se.SetNet(n) })
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	c, err := rtc.NewWebRTCConnection(api, webrtc.Configuration{}, sid)
	if err != nil {
		t.Fatalf("new connection: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestWebRTCConnection_NegotiatesOverVirtualNetwork(t *testing.T) {
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	if err != nil {
		t.Fatalf("new net A: %v", err)
	}
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	if err != nil {
		t.Fatalf("new net B: %v", err)
	}
	if err := router.AddNet(netA); err != nil {
		t.Fatalf("add net A: %v", err)
	}
	if err := router.AddNet(netB); err != nil {
		t.Fatalf("add net B: %v", err)
	}
	if err := router.Start(); err != nil {
		t.Fatalf("start router: %v", err)
	}

	sid := domain.NewSessionID()
	caller := newVNetConnection(t, netA, sid)
	callee := newVNetConnection(t, netB, sid)

	caller.OnICECandidate(func(c webrtc.ICECandidateInit) { _ = callee.AddICECandidate(c) })
	callee.OnICECandidate(func(c webrtc.ICECandidateInit) { _ = caller.AddICECandidate(c) })

	connected := make(chan struct{}, 2)
	watch := func(s webrtc.PeerConnectionState) {
		if s == webrtc.PeerConnectionStateConnected {
			connected <- struct{}{}
		}
	}
	caller.OnConnectionStateChange(watch)
	callee.OnConnectionStateChange(watch)

	offer, err := caller.CreateOffer()
	if err != nil {
		t.Fatalf("create offer: %v", err)
	}
	if offer.Type != webrtc.SDPTypeOffer {
		t.Fatalf("offer type = %s", offer.Type)
	}
	if caller.LocalDescription() == nil {
		t.Fatalf("offer was not set as local description")
	}
	if err := callee.SetRemoteDescription(offer); err != nil {
		t.Fatalf("set remote offer: %v", err)
	}
	answer, err := callee.CreateAnswer()
	if err != nil {
		t.Fatalf("create answer: %v", err)
	}
	if err := caller.SetRemoteDescription(answer); err != nil {
		t.Fatalf("set remote answer: %v", err)
	}

	for i := 0; i < 2; i++ {
		select {
		case <-connected:
		case <-time.After(10 * time.Second):
			t.Fatalf("timed out waiting for peers to connect")
		}
	}
}

func TestWebRTCConnection_CloseIsIdempotent(t *testing.T) {
	api, err := rtc.NewAPI(config.WebRTC{})
	if err != nil {
		t.Fatalf("new api: %v", err)
	}
	c, err := rtc.NewWebRTCConnection(api, webrtc.Configuration{}, "s1")
	if err != nil {
		t.Fatalf("new connection: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestConfiguration(t *testing.T) {
	if got := rtc.Configuration(config.WebRTC{}); len(got.ICEServers) != 0 {
		t.Fatalf("expected no ice servers, got %v", got.ICEServers)
	}
	got := rtc.Configuration(config.WebRTC{ICEServers: []string{"stun:a:3478", "stun:b:3478"}})
	if len(got.ICEServers) != 1 || len(got.ICEServers[0].URLs) != 2 {
		t.Fatalf("unexpected configuration: %+v", got)
	}
}

func TestNewAPI_RejectsBadPortRange(t *testing.T) {
	if _, err := rtc.NewAPI(config.WebRTC{UDPPortMin: 5000, UDPPortMax: 4000}); err == nil {
		t.Fatalf("expected error for inverted port range")
	}
}
