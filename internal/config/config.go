package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

const (
	DefaultRPCURL       = "https://api.devnet.solana.com"
	DefaultNetwork      = "devnet"
	DefaultPort         = 3001
	DefaultMaxPerMinute = 10
	DefaultMaxPerHour   = 100
	DefaultIPRPS        = 5
	DefaultIPBurst      = 20

	DefaultConfirmInterval = 2 * time.Second
	DefaultConfirmAttempts = 30

	// DefaultMinBalanceLamports is the fee reserve below which the relay warns.
	DefaultMinBalanceLamports = 100_000_000
)

// Config is the relay process configuration. Precedence, lowest first:
// built-in defaults, YAML file, environment.
type Config struct {
	RPCURL  string `yaml:"rpcUrl" env:"SOLANA_RPC_URL"`
	Network string `yaml:"network" env:"SOLANA_NETWORK"`
	Port    int    `yaml:"port" env:"PORT"`

	RedisURL     string `yaml:"redisUrl" env:"REDIS_URL"`
	MaxPerMinute int    `yaml:"maxRequestsPerMinute" env:"MAX_REQUESTS_PER_MINUTE"`
	MaxPerHour   int    `yaml:"maxRequestsPerHour" env:"MAX_REQUESTS_PER_HOUR"`

	IPRequestsPerSecond float64 `yaml:"ipRequestsPerSecond" env:"RELAY_IP_RPS"`
	IPBurst             int     `yaml:"ipBurst" env:"RELAY_IP_BURST"`

	CORSAllowedOrigins []string `yaml:"corsAllowedOrigins" env:"CORS_ALLOWED_ORIGINS"`

	AwaitConfirmation *bool         `yaml:"awaitConfirmation" env:"RELAY_AWAIT_CONFIRMATION"`
	ConfirmInterval   time.Duration `yaml:"confirmInterval" env:"RELAY_CONFIRM_INTERVAL"`
	ConfirmAttempts   int           `yaml:"confirmAttempts" env:"RELAY_CONFIRM_ATTEMPTS"`

	MinBalanceLamports uint64 `yaml:"minBalanceLamports" env:"RELAY_MIN_BALANCE_LAMPORTS"`

	LogLevel string `yaml:"logLevel" env:"LOG_LEVEL"`

	Key KeyConfig `yaml:"-"`
}

// KeyConfig holds relay signing key material. It is only read from the
// environment so secrets never sit in a config file.
type KeyConfig struct {
	PrivateKey         string `env:"RELAYER_PRIVATE_KEY"`
	Mnemonic           string `env:"RELAYER_MNEMONIC"`
	MnemonicPassphrase string `env:"RELAYER_MNEMONIC_PASSPHRASE"`
	KeyFile            string `env:"RELAYER_KEY_FILE"`
	KeyPassphrase      string `env:"RELAYER_KEY_PASSPHRASE"`
}

func Default() Config {
	return Config{
		RPCURL:              DefaultRPCURL,
		Network:             DefaultNetwork,
		Port:                DefaultPort,
		MaxPerMinute:        DefaultMaxPerMinute,
		MaxPerHour:          DefaultMaxPerHour,
		IPRequestsPerSecond: DefaultIPRPS,
		IPBurst:             DefaultIPBurst,
		ConfirmInterval:     DefaultConfirmInterval,
		ConfirmAttempts:     DefaultConfirmAttempts,
		MinBalanceLamports:  DefaultMinBalanceLamports,
		LogLevel:            "info",
	}
}

// Load applies an optional YAML file and then the environment on top of
// the defaults. An empty path skips the file; a missing named file is an
// error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path = strings.TrimSpace(path); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// ParseEnv overlays variables that are set onto target; unset variables
// leave existing values alone.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func (c *Config) normalize() {
	def := Default()
	c.RPCURL = strings.TrimSpace(c.RPCURL)
	if c.RPCURL == "" {
		c.RPCURL = def.RPCURL
	}
	c.Network = strings.TrimSpace(c.Network)
	if c.Network == "" {
		c.Network = def.Network
	}
	if c.Port == 0 {
		c.Port = def.Port
	}
	c.RedisURL = strings.TrimSpace(c.RedisURL)
	if c.MaxPerMinute <= 0 {
		c.MaxPerMinute = def.MaxPerMinute
	}
	if c.MaxPerHour <= 0 {
		c.MaxPerHour = def.MaxPerHour
	}
	if c.ConfirmInterval <= 0 {
		c.ConfirmInterval = def.ConfirmInterval
	}
	if c.ConfirmAttempts <= 0 {
		c.ConfirmAttempts = def.ConfirmAttempts
	}
	origins := c.CORSAllowedOrigins[:0]
	for _, o := range c.CORSAllowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	c.CORSAllowedOrigins = origins
}

func (c Config) Validate() error {
	var errs []error
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if !strings.HasPrefix(c.RPCURL, "http://") && !strings.HasPrefix(c.RPCURL, "https://") {
		errs = append(errs, fmt.Errorf("rpc url must be http(s): %q", c.RPCURL))
	}
	if c.MaxPerHour < c.MaxPerMinute {
		errs = append(errs, fmt.Errorf("hourly ceiling %d below per-minute ceiling %d", c.MaxPerHour, c.MaxPerMinute))
	}
	if c.IPRequestsPerSecond < 0 || c.IPBurst < 0 {
		errs = append(errs, errors.New("per-ip limits must not be negative"))
	}
	return errors.Join(errs...)
}

func (c Config) ShouldAwaitConfirmation() bool {
	return c.AwaitConfirmation != nil && *c.AwaitConfirmation
}

func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}

func (c Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}
