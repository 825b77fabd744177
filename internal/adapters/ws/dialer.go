// Package ws connects to the signaling server over gorilla/websocket.
package ws

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
)

const writeWait = 5 * time.Second

// WSConn is the subset of *websocket.Conn used by Socket.
type WSConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type Dialer struct {
	HandshakeTimeout time.Duration
	Header           http.Header
}

var _ core.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(ctx context.Context, url string) (core.Socket, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	log.Debug().Str("module", "adapters.ws").Str("url", url).Msg("dialed")
	return NewSocket(conn), nil
}

// Socket adapts a websocket connection to core.Socket. Writes are serialized.
type Socket struct {
	conn    WSConn
	writeMu sync.Mutex
	once    sync.Once
	err     error
}

func NewSocket(conn WSConn) *Socket {
	return &Socket{conn: conn}
}

func (s *Socket) ReadMessage() (core.Frame, error) {
	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if mt == websocket.TextMessage || mt == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (s *Socket) WriteMessage(f core.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return s.conn.WriteMessage(websocket.TextMessage, f)
}

func (s *Socket) Close() error {
	s.once.Do(func() {
		s.err = s.conn.Close()
	})
	return s.err
}
