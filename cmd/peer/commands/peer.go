package commands

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dkeye/peercall/internal/adapters/discovery"
	"github.com/dkeye/peercall/internal/adapters/rtc"
	"github.com/dkeye/peercall/internal/adapters/ws"
	"github.com/dkeye/peercall/internal/app/channel"
	"github.com/dkeye/peercall/internal/app/coord"
	"github.com/dkeye/peercall/internal/config"
	"github.com/dkeye/peercall/internal/domain"
)

func loadConfig(fs *pflag.FlagSet) (*config.Config, error) {
	cfg, err := config.Load(fs)
	if err != nil {
		return nil, err
	}
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}
	return cfg, nil
}

// runPeer connects a coordinator, runs start once connected and then serves
// calls until interrupted or signaling is lost for good.
func runPeer(cmd *cobra.Command, start func(context.Context, *coord.Coordinator) error) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}

	target, err := resolveSignalURL(ctx, cfg)
	if err != nil {
		return err
	}

	api, err := rtc.NewAPI(cfg.WebRTC)
	if err != nil {
		return err
	}

	rejected := make(chan error, 1)
	opts := coord.Options{
		OnStateChange: func(sid domain.SessionID, st domain.PeerState) {
			log.Info().Str("module", "peer").Str("sid", sid.String()).Str("state", st.String()).Msg("session state")
		},
		OnTrack: func(sid domain.SessionID, tr *webrtc.TrackRemote) {
			log.Info().Str("module", "peer").Str("sid", sid.String()).Str("kind", tr.Kind().String()).Str("codec", tr.Codec().MimeType).Msg("remote track")
		},
		OnRelayError: func(err error) {
			if !errors.Is(err, domain.ErrRoomFull) {
				return
			}
			select {
			case rejected <- err:
			default:
			}
		},
	}

	var silence *rtc.SilenceSource
	if audio {
		silence, err = rtc.NewSilenceSource("peercall")
		if err != nil {
			return fmt.Errorf("audio source: %w", err)
		}
		opts.Tracks = []webrtc.TrackLocal{silence.Track()}
	}

	ch := channel.New(&ws.Dialer{HandshakeTimeout: 10 * time.Second}, channel.OptionsFromConfig(cfg))
	c := coord.New(ch, rtc.Factory(api, rtc.Configuration(cfg.WebRTC)), opts)

	if err := c.Connect(ctx, target); err != nil {
		return err
	}
	log.Info().Str("module", "peer").Str("url", target).Msg("connected to signaling")

	g, gctx := errgroup.WithContext(ctx)
	if silence != nil {
		g.Go(func() error { return silence.Run(gctx) })
	}
	g.Go(func() error {
		var relayErr error
		select {
		case <-gctx.Done():
		case <-c.Done():
		case relayErr = <-rejected:
		}
		shutdownErr := c.Shutdown()
		if relayErr != nil {
			return fmt.Errorf("room %q: %w", cfg.Room, relayErr)
		}
		if err := c.Wait(); err != nil {
			return err
		}
		return shutdownErr
	})
	if err := start(gctx, c); err != nil {
		cancel()
		_ = g.Wait()
		return err
	}
	return g.Wait()
}

func resolveSignalURL(ctx context.Context, cfg *config.Config) (string, error) {
	target := cfg.SignalURL
	if discover {
		r, err := discovery.NewResolver()
		if err != nil {
			return "", err
		}
		target, err = discovery.Find(ctx, r, cfg.ServiceType)
		if err != nil {
			return "", fmt.Errorf("discover signaling server: %w", err)
		}
	}
	return withRoom(target, cfg.Room)
}

// withRoom sets the room query parameter on a signaling URL.
func withRoom(raw, room string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("signal url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("signal url %q: scheme must be ws or wss", raw)
	}
	if room != "" {
		q := u.Query()
		q.Set("room", room)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
