package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	LogLevel   string        `mapstructure:"log_level"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// TLSCert and TLSKey serve the relay over https/wss when both are set.
	TLSCert string `mapstructure:"tls_cert"`
	TLSKey  string `mapstructure:"tls_key"`

	// PublicURL is the signaling URL handed to browsers by /api/config.
	PublicURL    string  `mapstructure:"public_url"`
	RateLimit    float64 `mapstructure:"rate_limit"`
	RateBurst    int     `mapstructure:"rate_burst"`
	SendQueue    int     `mapstructure:"send_queue"`
	Discovery    bool    `mapstructure:"discovery"`
	ServiceType  string  `mapstructure:"service_type"`
	InstanceName string  `mapstructure:"instance_name"`

	// SignalURL is where peers dial the signaling server.
	SignalURL string `mapstructure:"signal_url"`
	Room      string `mapstructure:"room"`

	Reconnect Reconnect `mapstructure:"reconnect"`
	WebRTC    WebRTC    `mapstructure:"webrtc"`
}

type Reconnect struct {
	Base       time.Duration `mapstructure:"base"`
	Cap        time.Duration `mapstructure:"cap"`
	MaxRetries int           `mapstructure:"max_retries"`
	Jitter     float64       `mapstructure:"jitter"`
}

type WebRTC struct {
	ICEServers []string `mapstructure:"ice_servers"`
	UDPPortMin uint16   `mapstructure:"udp_port_min"`
	UDPPortMax uint16   `mapstructure:"udp_port_max"`
	NAT1To1IPs []string `mapstructure:"nat_1to1_ips"`
}

// Load reads config/config.<CONFIG_ENV>.yaml, PEERCALL_* environment variables
// and, when given, command line flags. Flags win over env, env over file.
func Load(flags ...*pflag.FlagSet) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("PEERCALL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	for _, fs := range flags {
		if fs == nil {
			continue
		}
		if err := bindFlags(v, fs); err != nil {
			return nil, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("signal_url", cfg.SignalURL).Msg("config ready")
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "")
	v.SetDefault("tls_cert", "")
	v.SetDefault("tls_key", "")

	v.SetDefault("public_url", "")
	v.SetDefault("rate_limit", 20.0)
	v.SetDefault("rate_burst", 40)
	v.SetDefault("send_queue", 64)
	v.SetDefault("discovery", false)
	v.SetDefault("service_type", "_peercall._tcp")
	v.SetDefault("instance_name", "peercall")

	v.SetDefault("signal_url", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("room", "main")

	v.SetDefault("reconnect.base", "500ms")
	v.SetDefault("reconnect.cap", "8s")
	v.SetDefault("reconnect.max_retries", 8)
	v.SetDefault("reconnect.jitter", 0.0)

	v.SetDefault("webrtc.ice_servers", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("webrtc.udp_port_min", 0)
	v.SetDefault("webrtc.udp_port_max", 0)
	v.SetDefault("webrtc.nat_1to1_ips", []string{})
}

// flagKeys maps CLI flag names onto config keys.
var flagKeys = map[string]string{
	"signal-url":  "signal_url",
	"room":        "room",
	"port":        "port",
	"mode":        "mode",
	"log-level":   "log_level",
	"public-url":  "public_url",
	"discovery":   "discovery",
	"ice-servers": "webrtc.ice_servers",
	"max-retries": "reconnect.max_retries",
	"tls-cert":    "tls_cert",
	"tls-key":     "tls_key",
}

func bindFlags(v *viper.Viper, fs *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := fs.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

func (c *Config) Validate() error {
	if c.Reconnect.Base <= 0 {
		return fmt.Errorf("reconnect.base must be positive, got %s", c.Reconnect.Base)
	}
	if c.Reconnect.Cap < c.Reconnect.Base {
		return fmt.Errorf("reconnect.cap %s is below reconnect.base %s", c.Reconnect.Cap, c.Reconnect.Base)
	}
	if c.Reconnect.MaxRetries < 0 {
		return fmt.Errorf("reconnect.max_retries must not be negative")
	}
	if c.WebRTC.UDPPortMin > c.WebRTC.UDPPortMax {
		return fmt.Errorf("webrtc.udp_port_min %d exceeds udp_port_max %d", c.WebRTC.UDPPortMin, c.WebRTC.UDPPortMax)
	}
	if c.SendQueue <= 0 {
		return fmt.Errorf("send_queue must be positive")
	}
	if (c.TLSCert == "") != (c.TLSKey == "") {
		return fmt.Errorf("tls_cert and tls_key must be set together")
	}
	return nil
}

func (c *Config) TLSEnabled() bool {
	return c.TLSCert != "" && c.TLSKey != ""
}
