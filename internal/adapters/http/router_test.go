package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/app/orch"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

type nopConn struct{}

func (nopConn) TrySend(core.Frame) error { return nil }
func (nopConn) Close()                   {}

func newTestRouter(t *testing.T, cfg *config.Config) (*gin.Engine, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	o := &orch.Orchestrator{
		Registry: app.NewRegistry(),
		Rooms:    app.NewRoomManager(0),
		Policy:   app.SimplePolicy{},
	}
	if cfg == nil {
		cfg = &config.Config{Mode: "test", Secret: "test-secret"}
	}
	return SetupRouter(context.Background(), cfg, o, nil), o
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestConfigEndpoint(t *testing.T) {
	r, _ := newTestRouter(t, &config.Config{Secret: "s", PublicURL: "wss://call.example/api/ws/signal"})
	w := do(r, http.MethodGet, "/api/config")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		WSURL string `json:"wsUrl"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.WSURL != "wss://call.example/api/ws/signal" {
		t.Fatalf("wsUrl = %q", body.WSURL)
	}
	if len(w.Result().Cookies()) == 0 {
		t.Fatalf("client token cookie not set")
	}
}

func TestConfigEndpointDerivesURL(t *testing.T) {
	r, _ := newTestRouter(t, nil)
	w := do(r, http.MethodGet, "/api/config")
	if got := w.Body.String(); got != `{"wsUrl":"ws://example.com/api/ws/signal"}` {
		t.Fatalf("body = %s", got)
	}
}

func TestRoomsEndpoints(t *testing.T) {
	r, o := newTestRouter(t, nil)

	user := o.Registry.GetOrCreateUser("u1")
	o.Registry.BindClient("c1", core.NewMemberSession(domain.NewMember(user), nopConn{}), func() {})
	if _, err := o.Join("c1", "main"); err != nil {
		t.Fatalf("join: %v", err)
	}

	w := do(r, http.MethodGet, "/api/rooms")
	var rooms []core.RoomInfo
	if err := json.Unmarshal(w.Body.Bytes(), &rooms); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(rooms) != 1 || rooms[0].Name != "main" || rooms[0].MemberCount != 1 {
		t.Fatalf("rooms = %+v", rooms)
	}

	if w := do(r, http.MethodGet, "/api/rooms/main"); w.Code != http.StatusOK {
		t.Fatalf("get room status = %d", w.Code)
	}
	if w := do(r, http.MethodGet, "/api/rooms/nope"); w.Code != http.StatusNotFound {
		t.Fatalf("missing room status = %d", w.Code)
	}
	if w := do(r, http.MethodDelete, "/api/rooms/main"); w.Code != http.StatusOK {
		t.Fatalf("evict status = %d", w.Code)
	}
	if _, ok := o.Rooms.Get("main"); ok {
		t.Fatalf("room survived eviction")
	}
	if w := do(r, http.MethodGet, "/healthz"); w.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", w.Code)
	}
}
