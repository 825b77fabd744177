package signal

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/app/orch"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

var errConnClosed = errors.New("connection closed")

type Limits struct {
	SendQueue  int
	ReadLimit  int64
	PingPeriod time.Duration
	RateLimit  float64
	RateBurst  int
}

func LimitsFromConfig(cfg *config.Config) Limits {
	return Limits{
		SendQueue:  cfg.SendQueue,
		ReadLimit:  cfg.ReadLimit,
		PingPeriod: cfg.PingPeriod,
		RateLimit:  cfg.RateLimit,
		RateBurst:  cfg.RateBurst,
	}
}

type SignalWSController struct {
	Orch    *orch.Orchestrator
	limits  Limits
	limiter *RateLimiter
}

func NewSignalWSController(o *orch.Orchestrator, limits Limits) *SignalWSController {
	if limits.SendQueue <= 0 {
		limits.SendQueue = 32
	}
	if limits.PingPeriod <= 0 {
		limits.PingPeriod = 54 * time.Second
	}
	return &SignalWSController{
		Orch:    o,
		limits:  limits,
		limiter: NewRateLimiter(limits.RateLimit, limits.RateBurst),
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- f:
	default:
		return domain.ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

func (ctl *SignalWSController) BroadcastFrom(cid core.ClientID, v any) {
	for _, mate := range ctl.Orch.Registry.RoomMates(cid) {
		ctl.sendJSON(mate.Session.Signal(), v)
	}
}

func (ctl *SignalWSController) BroadcastRoom(room domain.RoomName, v any) {
	for _, snap := range ctl.Orch.Registry.MembersOfRoom(room) {
		ctl.sendJSON(snap.Session.Signal(), v)
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleSignal upgrades the request and joins the client to the room named by
// the room query parameter, or the default room.
func (ctl *SignalWSController) HandleSignal(ctx context.Context, c *gin.Context) {
	uid := domain.UserID(c.GetString("client_token"))
	cid := core.ClientID(uuid.NewString())
	log.Info().Str("module", "signal").Str("cid", string(cid)).Str("uid", string(uid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.limits.ReadLimit > 0 {
		ws.SetReadLimit(ctl.limits.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.limits.SendQueue),
	}

	user := ctl.Orch.Registry.GetOrCreateUser(uid)
	sess := core.NewMemberSession(domain.NewMember(user), conn)
	ctx, cancel := context.WithCancel(ctx)
	ctl.Orch.Registry.BindClient(cid, sess, cancel)

	room := domain.ParseRoomName(c.Query("room"))
	if _, err := ctl.Orch.Join(cid, room); err != nil {
		ctl.sendError(conn, err.Error())
	}

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, cid, conn)
}
