package discovery

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
)

type fakeResolver struct {
	entries []*zeroconf.ServiceEntry
}

func (f *fakeResolver) Browse(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
	for _, e := range f.entries {
		select {
		case entries <- e:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func entry(instance string, port int, ips []net.IP, txt ...string) *zeroconf.ServiceEntry {
	e := zeroconf.NewServiceEntry(instance, "_peercall._tcp", DefaultDomain)
	e.Port = port
	e.AddrIPv4 = ips
	e.Text = txt
	return e
}

func TestEntryURL(t *testing.T) {
	e := entry("a", 8080, []net.IP{net.ParseIP("192.168.1.5")}, "path=/api/ws/signal")
	if got, ok := EntryURL(e); !ok || got != "ws://192.168.1.5:8080/api/ws/signal" {
		t.Fatalf("url = %q, %v", got, ok)
	}

	v6 := entry("b", 9000, nil)
	v6.AddrIPv6 = []net.IP{net.ParseIP("fe80::1")}
	if got, ok := EntryURL(v6); !ok || got != "ws://[fe80::1]:9000/" {
		t.Fatalf("url = %q, %v", got, ok)
	}

	if _, ok := EntryURL(entry("c", 8080, nil)); ok {
		t.Fatalf("entry without address accepted")
	}
}

func TestFind(t *testing.T) {
	r := &fakeResolver{entries: []*zeroconf.ServiceEntry{
		entry("no-addr", 8080, nil),
		entry("peercall", 8080, []net.IP{net.ParseIP("10.0.0.7")}, "path=api/ws/signal"),
	}}
	url, err := Find(context.Background(), r, "_peercall._tcp")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if url != "ws://10.0.0.7:8080/api/ws/signal" {
		t.Fatalf("url = %s", url)
	}
}

func TestFindTimesOut(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := Find(ctx, &fakeResolver{}, "_peercall._tcp"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
