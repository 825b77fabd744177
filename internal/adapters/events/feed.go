// Package events streams room lifecycle events as Server-Sent Events.
package events

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/donovanhide/eventsource"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
)

// roomEvent adapts core.RoomEvent to eventsource.Event.
type roomEvent struct {
	ev   core.RoomEvent
	data string
}

func (e roomEvent) Id() string    { return strconv.FormatUint(e.ev.Seq, 10) }
func (e roomEvent) Event() string { return string(e.ev.Kind) }
func (e roomEvent) Data() string  { return e.data }

// Feed publishes room events to SSE subscribers, one stream per room.
// Publishing after Close is a no-op.
type Feed struct {
	srv *eventsource.Server

	mu     sync.RWMutex
	closed bool
}

var _ core.RoomNotifier = (*Feed)(nil)

func NewFeed() *Feed {
	srv := eventsource.NewServer()
	srv.AllowCORS = true
	return &Feed{srv: srv}
}

func (f *Feed) Publish(ev core.RoomEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("module", "adapters.events").Msg("marshal event")
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.closed {
		return
	}
	f.srv.Publish([]string{string(ev.Room)}, roomEvent{ev: ev, data: string(data)})
	log.Debug().Str("module", "adapters.events").Str("room", string(ev.Room)).Str("kind", string(ev.Kind)).Msg("published")
}

// Handler streams the events of one room.
func (f *Feed) Handler(room domain.RoomName) http.HandlerFunc {
	return f.srv.Handler(string(room))
}

// Close ends every open stream. It is idempotent.
func (f *Feed) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()
	f.srv.Close()
	log.Info().Str("module", "adapters.events").Msg("feed closed")
}

// CloseOnShutdown closes the feed when srv starts shutting down, so open
// streams do not hold up srv.Shutdown.
func (f *Feed) CloseOnShutdown(srv *http.Server) {
	srv.RegisterOnShutdown(f.Close)
}
