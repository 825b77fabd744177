package config

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-for-test")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Reconnect.Base != 500*time.Millisecond || cfg.Reconnect.Cap != 8*time.Second {
		t.Fatalf("unexpected reconnect defaults: %+v", cfg.Reconnect)
	}
	if cfg.Port != 8080 || cfg.Room != "main" || cfg.PingPeriod != 54*time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if len(cfg.WebRTC.ICEServers) != 1 {
		t.Fatalf("ice servers=%v", cfg.WebRTC.ICEServers)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-for-test")
	t.Setenv("PEERCALL_SIGNAL_URL", "ws://signal.example/ws")
	t.Setenv("PEERCALL_RECONNECT_MAX_RETRIES", "3")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SignalURL != "ws://signal.example/ws" {
		t.Fatalf("signal_url=%q", cfg.SignalURL)
	}
	if cfg.Reconnect.MaxRetries != 3 {
		t.Fatalf("max_retries=%d", cfg.Reconnect.MaxRetries)
	}
}

func TestLoadFlagsWin(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-for-test")
	t.Setenv("PEERCALL_ROOM", "from-env")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("room", "", "")
	if err := fs.Parse([]string{"--room", "from-flag"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Room != "from-flag" {
		t.Fatalf("room=%q, want from-flag", cfg.Room)
	}
}

func TestValidateRejectsCapBelowBase(t *testing.T) {
	cfg := Config{SendQueue: 1, Reconnect: Reconnect{Base: time.Second, Cap: time.Millisecond}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error")
	}
}

func TestValidateTLSPair(t *testing.T) {
	cases := []struct {
		cert, key string
		ok, tls   bool
	}{
		{ok: true},
		{cert: "relay.crt", key: "relay.key", ok: true, tls: true},
		{cert: "relay.crt"},
		{key: "relay.key"},
	}
	for _, tc := range cases {
		cfg := Config{
			SendQueue: 1,
			Reconnect: Reconnect{Base: time.Millisecond, Cap: time.Second},
			TLSCert:   tc.cert,
			TLSKey:    tc.key,
		}
		err := cfg.Validate()
		if (err == nil) != tc.ok {
			t.Errorf("cert=%q key=%q: err=%v", tc.cert, tc.key, err)
		}
		if cfg.TLSEnabled() != tc.tls {
			t.Errorf("cert=%q key=%q: TLSEnabled=%v", tc.cert, tc.key, cfg.TLSEnabled())
		}
	}
}

func TestLoadTLSFromFlags(t *testing.T) {
	t.Setenv("CONFIG_ENV", "missing-for-test")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("tls-cert", "", "")
	fs.String("tls-key", "", "")
	if err := fs.Parse([]string{"--tls-cert", "relay.crt"}); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if _, err := Load(fs); err == nil {
		t.Fatalf("expected error for a certificate without a key")
	}

	t.Setenv("PEERCALL_TLS_KEY", "relay.key")
	cfg, err := Load(fs)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.TLSEnabled() || cfg.TLSCert != "relay.crt" || cfg.TLSKey != "relay.key" {
		t.Fatalf("tls cert=%q key=%q", cfg.TLSCert, cfg.TLSKey)
	}
}
