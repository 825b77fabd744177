package signal

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/orch"
	"github.com/dkeye/peercall/internal/core"
)

func newRelay(t *testing.T, limits Limits) (*httptest.Server, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(0),
		Policy:   app.SimplePolicy{},
	}
	ctl := NewSignalWSController(o, limits)

	ctx, cancel := context.WithCancel(context.Background())
	r := gin.New()
	r.GET("/ws", func(c *gin.Context) {
		c.Set("client_token", c.Query("user"))
		ctl.HandleSignal(ctx, c)
	})
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		cancel()
		srv.Close()
	})
	return srv, o
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?" + query
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = ws.Close() })
	return ws
}

func readEnvelope(t *testing.T, ws *websocket.Conn) core.Envelope {
	t.Helper()
	_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	env, err := core.ParseEnvelope(data)
	if err != nil {
		t.Fatalf("not an envelope: %s", data)
	}
	return env
}

func waitMembers(t *testing.T, o *orch.Orchestrator, room string, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		for _, info := range o.Rooms.List() {
			if string(info.Name) == room && info.MemberCount == n {
				return
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("room %s never reached %d members", room, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRelayForwardsBetweenRoomMates(t *testing.T) {
	srv, o := newRelay(t, Limits{})
	a := dial(t, srv, "room=r1&user=alice")
	b := dial(t, srv, "room=r1&user=bob")
	waitMembers(t, o, "r1", 2)

	offer := `{"type":"offer","sessionId":"call-1","payload":{"type":"offer","sdp":"v=0"}}`
	if err := a.WriteMessage(websocket.TextMessage, []byte(offer)); err != nil {
		t.Fatalf("write: %v", err)
	}
	env := readEnvelope(t, b)
	if env.Type != core.EnvelopeOffer || env.SessionID != "call-1" {
		t.Fatalf("b got %+v", env)
	}

	// a leaves without hanging up: the relay ends the call for b
	_ = a.Close()
	env = readEnvelope(t, b)
	if env.Type != core.EnvelopeBye || env.SessionID != "call-1" {
		t.Fatalf("b got %+v, want bye", env)
	}
}

func TestRelayThirdClientIsRejected(t *testing.T) {
	srv, o := newRelay(t, Limits{})
	dial(t, srv, "room=r2&user=a")
	dial(t, srv, "room=r2&user=b")
	waitMembers(t, o, "r2", 2)

	c := dial(t, srv, "room=r2&user=c")
	_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), `"error"`) || !strings.Contains(string(data), "full") {
		t.Fatalf("got %s, want room full error", data)
	}
}

func TestRelayControlMessages(t *testing.T) {
	srv, _ := newRelay(t, Limits{})
	a := dial(t, srv, "user=a")

	for _, tc := range []struct{ send, want string }{
		{`{"type":"ping"}`, `"pong"`},
		{`{"type":"join","room":"lobby"}`, `"room_state"`},
		{`{"type":"whoami"}`, `"lobby"`},
		{`{"type":"leave"}`, `"left"`},
		{`{"type":"bogus"}`, `unknown_type`},
		{`{"type":"ice","sessionId":"x"}`, `bad_envelope`},
	} {
		if err := a.WriteMessage(websocket.TextMessage, []byte(tc.send)); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = a.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := a.ReadMessage()
		if err != nil {
			t.Fatalf("read after %s: %v", tc.send, err)
		}
		if !strings.Contains(string(data), tc.want) {
			t.Fatalf("after %s got %s, want %s", tc.send, data, tc.want)
		}
	}
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatalf("burst not allowed")
	}
	if rl.Allow("a") {
		t.Fatalf("limit not enforced")
	}
	if !rl.Allow("b") {
		t.Fatalf("clients share a bucket")
	}
	rl.Forget("a")
	if !rl.Allow("a") {
		t.Fatalf("forgotten client still limited")
	}
	if !NewRateLimiter(0, 0).Allow("a") {
		t.Fatalf("disabled limiter blocked")
	}
}
