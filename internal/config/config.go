package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/dkeye/Broadcast/internal/core"
	"github.com/dkeye/Broadcast/internal/media"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type TLSConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	CertFile string `mapstructure:"cert_file"`
	KeyFile  string `mapstructure:"key_file"`
}

type MediaConfig struct {
	MinPort         uint16                     `mapstructure:"rtc_min_port"`
	MaxPort         uint16                     `mapstructure:"rtc_max_port"`
	ListenIP        string                     `mapstructure:"listen_ip"`
	AnnouncedIP     string                     `mapstructure:"announced_ip"`
	Codecs          []media.RtpCodecCapability `mapstructure:"codecs"`
	GatewayTimeout  time.Duration              `mapstructure:"gateway_timeout"`
	WorkerExitDelay time.Duration              `mapstructure:"worker_exit_delay"`

	MaxIncomingBitrate     uint32 `mapstructure:"max_incoming_bitrate"`
	InitialOutgoingBitrate uint32 `mapstructure:"initial_outgoing_bitrate"`
}

type ProducerConfig struct {
	Scope            string `mapstructure:"scope"`
	TeardownReplaced bool   `mapstructure:"teardown_replaced"`
}

type SignalConfig struct {
	RateLimit    int           `mapstructure:"rate_limit"`
	RateInterval time.Duration `mapstructure:"rate_interval"`
	SendBuffer   int           `mapstructure:"send_buffer"`
	Backpressure string        `mapstructure:"backpressure"`
}

type RoomsConfig struct {
	ReapInterval time.Duration `mapstructure:"reap_interval"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	Issuer    string `mapstructure:"issuer"`
	Required  bool   `mapstructure:"required"`
}

type StorageConfig struct {
	Driver        string `mapstructure:"driver"`
	DSN           string `mapstructure:"dsn"`
	RecordingsDir string `mapstructure:"recordings_dir"`
}

type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	PresenceTTL time.Duration `mapstructure:"presence_ttl"`
}

type Config struct {
	Mode        string         `mapstructure:"mode"`
	Port        int            `mapstructure:"port"`
	StaticPath  string         `mapstructure:"static_path"`
	ReadLimit   int64          `mapstructure:"read_limit"`
	PingPeriod  time.Duration  `mapstructure:"ping_period"`
	Secret      string         `mapstructure:"secret"`
	DefaultRoom string         `mapstructure:"default_room"`
	TLS         TLSConfig      `mapstructure:"tls"`
	Media       MediaConfig    `mapstructure:"media"`
	Producer    ProducerConfig `mapstructure:"producer"`
	Signal      SignalConfig   `mapstructure:"signal"`
	Rooms       RoomsConfig    `mapstructure:"rooms"`
	Auth        AuthConfig     `mapstructure:"auth"`
	Storage     StorageConfig  `mapstructure:"storage"`
	Redis       RedisConfig    `mapstructure:"redis"`
}

// New returns a viper instance carrying every default, with BROADCAST_
// environment overrides enabled. Callers may bind flags before Load.
func New() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("BROADCAST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8443)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "broadcast-dev-secret")
	v.SetDefault("default_room", "main")

	v.SetDefault("tls.enabled", true)
	v.SetDefault("tls.cert_file", "ssl/cert.pem")
	v.SetDefault("tls.key_file", "ssl/key.pem")

	v.SetDefault("media.rtc_min_port", 10000)
	v.SetDefault("media.rtc_max_port", 10100)
	v.SetDefault("media.listen_ip", "0.0.0.0")
	v.SetDefault("media.announced_ip", "")
	v.SetDefault("media.gateway_timeout", "15s")
	v.SetDefault("media.worker_exit_delay", "2s")
	v.SetDefault("media.max_incoming_bitrate", 1500000)
	v.SetDefault("media.initial_outgoing_bitrate", 1000000)

	v.SetDefault("producer.scope", "global")
	v.SetDefault("producer.teardown_replaced", true)

	v.SetDefault("signal.rate_limit", 50)
	v.SetDefault("signal.rate_interval", "1s")
	v.SetDefault("signal.send_buffer", 32)
	v.SetDefault("signal.backpressure", "none")

	v.SetDefault("rooms.reap_interval", "1m")

	v.SetDefault("auth.issuer", "")
	v.SetDefault("auth.required", false)

	v.SetDefault("storage.driver", "")
	v.SetDefault("storage.recordings_dir", "recordings")

	v.SetDefault("redis.presence_ttl", "1h")
	return v
}

// Load reads path, or config/config.<CONFIG_ENV>.yaml when path is empty.
// A missing file is not an error; defaults and env still apply.
func Load(v *viper.Viper, path string) (*Config, error) {
	if path == "" {
		env := os.Getenv("CONFIG_ENV")
		if env == "" {
			env = "dev"
		}
		path = fmt.Sprintf("config/config.%s.yaml", env)
	}
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: read %s: %v", core.ErrConfiguration, path, err)
		}
		log.Warn().Str("module", "config").Str("file", path).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", path).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", core.ErrConfiguration, err)
	}
	if len(cfg.Media.Codecs) == 0 {
		cfg.Media.Codecs = media.DefaultCodecs()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).
		Str("producer_scope", cfg.Producer.Scope).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Media.MinPort == 0 || c.Media.MaxPort < c.Media.MinPort {
		errs = append(errs, fmt.Errorf("rtc port range %d-%d is invalid", c.Media.MinPort, c.Media.MaxPort))
	}
	if c.Media.GatewayTimeout <= 0 {
		errs = append(errs, errors.New("media.gateway_timeout must be positive"))
	}
	if c.Auth.Required && c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.required needs auth.jwt_secret"))
	}
	if c.Storage.Driver != "" && c.Storage.DSN == "" {
		errs = append(errs, errors.New("storage.dsn required when storage.driver is set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %v", core.ErrConfiguration, err)
	}
	return nil
}

// CheckTLS reports missing certificate material. It is a no-op when TLS
// is disabled.
func (c *Config) CheckTLS() error {
	if !c.TLS.Enabled {
		return nil
	}
	for _, f := range []string{c.TLS.CertFile, c.TLS.KeyFile} {
		if _, err := os.Stat(f); err != nil {
			return fmt.Errorf("%w: tls file %q: %v", core.ErrConfiguration, f, err)
		}
	}
	return nil
}
