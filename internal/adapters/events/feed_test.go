package events

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/donovanhide/eventsource"

	"github.com/dkeye/peercall/internal/core"
)

// subscribe opens an SSE request and decodes its events until the stream
// ends or ctx is done.
func subscribe(ctx context.Context, t *testing.T, url string) <-chan eventsource.Event {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		t.Fatalf("subscribe status = %d", resp.StatusCode)
	}

	events := make(chan eventsource.Event, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		dec := eventsource.NewDecoder(resp.Body)
		for {
			ev, err := dec.Decode()
			if err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()
	return events
}

// awaitEvent publishes want, plus noise for another room, until an event
// arrives on the stream.
func awaitEvent(t *testing.T, feed *Feed, events <-chan eventsource.Event, want core.RoomEvent) eventsource.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				t.Fatalf("stream ended")
			}
			return ev
		case <-tick.C:
			feed.Publish(want)
			feed.Publish(core.RoomEvent{Seq: want.Seq + 1, Kind: core.RoomMemberJoined, Room: "other"})
		case <-deadline:
			t.Fatalf("no event received")
		}
	}
}

func TestFeedStreamsRoomEvents(t *testing.T) {
	feed := NewFeed()
	srv := httptest.NewServer(feed.Handler("main"))
	// cleanups run last-in first-out: the feed ends its streams before the
	// server waits for them
	t.Cleanup(srv.Close)
	t.Cleanup(feed.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := subscribe(ctx, t, srv.URL)

	want := core.RoomEvent{Seq: 7, Kind: core.RoomCallSignal, Room: "main", SessionID: "call-1", Signal: core.EnvelopeOffer}
	ev := awaitEvent(t, feed, events, want)
	if ev.Event() != string(core.RoomCallSignal) || ev.Id() != "7" {
		t.Fatalf("event %s id %s", ev.Event(), ev.Id())
	}
	var got core.RoomEvent
	if err := json.Unmarshal([]byte(ev.Data()), &got); err != nil {
		t.Fatalf("data: %v", err)
	}
	if got.SessionID != "call-1" || got.Room != "main" {
		t.Fatalf("got %+v", got)
	}
}

func TestFeedCloseEndsStreams(t *testing.T) {
	feed := NewFeed()
	srv := httptest.NewServer(feed.Handler("main"))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := subscribe(ctx, t, srv.URL)
	awaitEvent(t, feed, events, core.RoomEvent{Seq: 1, Kind: core.RoomMemberJoined, Room: "main"})

	feed.Close()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-events:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("stream still open after close")
		}
	}
}

func TestShutdownWithOpenStream(t *testing.T) {
	feed := NewFeed()
	defer feed.Close()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: feed.Handler("main")}
	feed.CloseOnShutdown(srv)
	served := make(chan error, 1)
	go func() { served <- srv.Serve(ln) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := subscribe(ctx, t, "http://"+ln.Addr().String())
	awaitEvent(t, feed, events, core.RoomEvent{Seq: 1, Kind: core.RoomMemberJoined, Room: "main"})

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	start := time.Now()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		t.Fatalf("shutdown with open stream: %v after %s", err, time.Since(start))
	}
	if err := <-served; !errors.Is(err, http.ErrServerClosed) {
		t.Fatalf("serve: %v", err)
	}
}

func TestPublishAfterCloseDoesNotBlock(t *testing.T) {
	feed := NewFeed()
	feed.Close()
	feed.Close()

	done := make(chan struct{})
	go func() {
		feed.Publish(core.RoomEvent{Seq: 1, Kind: core.RoomMemberLeft, Room: "main"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("publish blocked on a closed feed")
	}
}
