// Package discovery advertises and finds signaling servers on the local
// network over mDNS / DNS-SD.
package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

const (
	DefaultDomain        = "local."
	DefaultBrowseTimeout = 3 * time.Second
	pathKey              = "path="
)

var ErrNotFound = errors.New("no signaling server found")

// MDNSServer is a running advertisement.
type MDNSServer interface {
	Shutdown()
}

// MDNSResolver browses DNS-SD services.
type MDNSResolver interface {
	Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error
}

// Advertise announces the signaling endpoint served on port under path.
func Advertise(instance, service string, port int, path string) (MDNSServer, error) {
	txt := []string{pathKey + path}
	srv, err := zeroconf.Register(instance, service, DefaultDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	log.Info().Str("module", "adapters.discovery").Str("instance", instance).Str("service", service).Int("port", port).Msg("advertising")
	return srv, nil
}

type zeroconfResolver struct {
	resolver *zeroconf.Resolver
}

func NewResolver() (MDNSResolver, error) {
	r, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}
	return &zeroconfResolver{resolver: r}, nil
}

func (z *zeroconfResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	return z.resolver.Browse(ctx, service, domain, entries)
}

// Find returns the websocket URL of the first signaling server found.
func Find(ctx context.Context, r MDNSResolver, service string) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultBrowseTimeout)
		defer cancel()
	}

	entries := make(chan *zeroconf.ServiceEntry)
	errc := make(chan error, 1)
	go func() {
		errc <- r.Browse(ctx, service, DefaultDomain, entries)
	}()

	for {
		select {
		case entry, ok := <-entries:
			if !ok {
				return "", ErrNotFound
			}
			if url, ok := EntryURL(entry); ok {
				log.Info().Str("module", "adapters.discovery").Str("instance", entry.Instance).Str("url", url).Msg("found signaling server")
				return url, nil
			}
		case err := <-errc:
			if err != nil {
				return "", fmt.Errorf("mdns browse: %w", err)
			}
			errc = nil
		case <-ctx.Done():
			return "", ErrNotFound
		}
	}
}

// EntryURL builds ws://host:port/path from an entry, preferring IPv4.
func EntryURL(entry *zeroconf.ServiceEntry) (string, bool) {
	if entry == nil || entry.Port == 0 {
		return "", false
	}
	var ip net.IP
	switch {
	case len(entry.AddrIPv4) > 0:
		ip = entry.AddrIPv4[0]
	case len(entry.AddrIPv6) > 0:
		ip = entry.AddrIPv6[0]
	default:
		return "", false
	}
	path := "/"
	for _, t := range entry.Text {
		if strings.HasPrefix(t, pathKey) {
			path = strings.TrimPrefix(t, pathKey)
		}
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return "ws://" + net.JoinHostPort(ip.String(), fmt.Sprint(entry.Port)) + path, true
}
