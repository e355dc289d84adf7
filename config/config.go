// Package config loads goguard-server settings.
//
// Sources, lowest precedence first:
//  1. Defaults derived from goGuard.DefaultConfig
//  2. A YAML config file (explicit path, or config.yaml in ./, ./configs, /etc/goguard)
//  3. A .env file, loaded into the process environment without overriding it
//  4. Environment variables with the GOGUARD_ prefix, dots replaced by
//     underscores: GOGUARD_LOCKOUT_THRESHOLD=10, GOGUARD_STORE_DRIVER=postgres
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	goGuard "github.com/MrEthical07/goGuard"
	"github.com/MrEthical07/goGuard/mail"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultEnvPrefix prefixes every environment override.
const DefaultEnvPrefix = "GOGUARD"

// Store drivers.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverGorm     = "gorm"
)

type ServerSettings struct {
	Addr            string        `mapstructure:"addr"`
	TrustProxy      bool          `mapstructure:"trust_proxy"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// AdminToken guards the /admin routes. Empty disables them.
	AdminToken string `mapstructure:"admin_token"`
}

type LogSettings struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

type SentrySettings struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

type StoreSettings struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisSettings switches rate limiting to Redis when Addr is set.
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// SMTPSettings configures outbound mail. An empty Host logs mail instead of
// sending it.
type SMTPSettings struct {
	Host               string        `mapstructure:"host"`
	Port               int           `mapstructure:"port"`
	Username           string        `mapstructure:"username"`
	Password           string        `mapstructure:"password"`
	From               string        `mapstructure:"from"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Pool               bool          `mapstructure:"pool"`
	MaxConns           int           `mapstructure:"max_conns"`
	SendTimeout        time.Duration `mapstructure:"send_timeout"`
}

type SessionSettings struct {
	SigningMethod   string        `mapstructure:"signing_method"`
	Key             string        `mapstructure:"key"`
	KeyFile         string        `mapstructure:"key_file"`
	PublicKeyFile   string        `mapstructure:"public_key_file"`
	TTL             time.Duration `mapstructure:"ttl"`
	RevalidateAfter time.Duration `mapstructure:"revalidate_after"`
	Issuer          string        `mapstructure:"issuer"`
	Audience        string        `mapstructure:"audience"`
}

type LockoutSettings struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

type AuditSettings struct {
	Async      bool          `mapstructure:"async"`
	BufferSize int           `mapstructure:"buffer_size"`
	Retention  time.Duration `mapstructure:"retention"`
}

type MailSettings struct {
	AppName string `mapstructure:"app_name"`
	BaseURL string `mapstructure:"base_url"`
}

type MetricsSettings struct {
	Enabled bool `mapstructure:"enabled"`
	Latency bool `mapstructure:"latency"`
}

type TwoFactorSettings struct {
	Issuer string `mapstructure:"issuer"`
}

// Settings is the full server configuration.
type Settings struct {
	Server    ServerSettings    `mapstructure:"server"`
	Log       LogSettings       `mapstructure:"log"`
	Sentry    SentrySettings    `mapstructure:"sentry"`
	Store     StoreSettings     `mapstructure:"store"`
	Redis     RedisSettings     `mapstructure:"redis"`
	SMTP      SMTPSettings      `mapstructure:"smtp"`
	Session   SessionSettings   `mapstructure:"session"`
	Lockout   LockoutSettings   `mapstructure:"lockout"`
	Audit     AuditSettings     `mapstructure:"audit"`
	Mail      MailSettings      `mapstructure:"mail"`
	Metrics   MetricsSettings   `mapstructure:"metrics"`
	TwoFactor TwoFactorSettings `mapstructure:"two_factor"`
}

// Loader reads Settings from files and the environment.
type Loader struct {
	v       *viper.Viper
	prefix  string
	envFile string
}

// NewLoader returns a Loader with defaults applied. An empty prefix uses
// DefaultEnvPrefix.
func NewLoader(prefix string) *Loader {
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	l := &Loader{v: viper.New(), prefix: prefix, envFile: ".env"}
	l.setDefaults()
	return l
}

// WithEnvFile changes the dotenv file read by Load.
func (l *Loader) WithEnvFile(path string) *Loader {
	l.envFile = path
	return l
}

func (l *Loader) setDefaults() {
	d := goGuard.DefaultConfig()
	v := l.v

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("server.admin_token", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "development")

	v.SetDefault("store.driver", DriverMemory)
	v.SetDefault("store.dsn", "")
	v.SetDefault("store.max_open_conns", 10)
	v.SetDefault("store.max_idle_conns", 5)
	v.SetDefault("store.conn_max_lifetime", "1h")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.username", "")
	v.SetDefault("smtp.password", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("smtp.insecure_skip_verify", false)
	v.SetDefault("smtp.pool", true)
	v.SetDefault("smtp.max_conns", 4)
	v.SetDefault("smtp.send_timeout", "10s")

	v.SetDefault("session.signing_method", d.Session.SigningMethod)
	v.SetDefault("session.key", "")
	v.SetDefault("session.key_file", "")
	v.SetDefault("session.public_key_file", "")
	v.SetDefault("session.ttl", d.Session.TTL.String())
	v.SetDefault("session.revalidate_after", d.Session.RevalidateAfter.String())
	v.SetDefault("session.issuer", d.Session.Issuer)
	v.SetDefault("session.audience", d.Session.Audience)

	v.SetDefault("lockout.threshold", d.Lockout.Threshold)
	v.SetDefault("lockout.duration", d.Lockout.Duration.String())

	v.SetDefault("audit.async", d.Audit.Async)
	v.SetDefault("audit.buffer_size", d.Audit.BufferSize)
	v.SetDefault("audit.retention", d.Audit.Retention.String())

	v.SetDefault("mail.app_name", d.Mail.AppName)
	v.SetDefault("mail.base_url", d.Mail.BaseURL)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.latency", true)

	v.SetDefault("two_factor.issuer", d.TwoFactor.Issuer)
}

// Load merges the config file, dotenv file and environment into Settings
// and validates the result. An empty cfgFile searches the default paths and
// tolerates a missing file.
func (l *Loader) Load(cfgFile string) (*Settings, error) {
	if l.envFile != "" {
		if err := godotenv.Load(l.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config: load %s: %w", l.envFile, err)
		}
	}

	if cfgFile != "" {
		l.v.SetConfigFile(cfgFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(".")
		l.v.AddConfigPath("./configs")
		l.v.AddConfigPath("/etc/goguard")
	}
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if cfgFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read config file: %w", err)
		}
	}

	l.v.SetEnvPrefix(l.prefix)
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	s := &Settings{}
	if err := l.v.Unmarshal(s); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return s, nil
}

// Load reads Settings with DefaultEnvPrefix.
func Load(cfgFile string) (*Settings, error) {
	return NewLoader(DefaultEnvPrefix).Load(cfgFile)
}

// Validate checks the server-level settings. Engine settings are validated
// by goGuard.Builder.
func (s *Settings) Validate() error {
	switch s.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverGorm:
		if s.Store.DSN == "" {
			return fmt.Errorf("store.dsn required for driver %q", s.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown store.driver %q", s.Store.Driver)
	}
	if s.Server.Addr == "" {
		return errors.New("server.addr required")
	}
	if s.Session.Key == "" && s.Session.KeyFile == "" {
		return errors.New("session.key or session.key_file required")
	}
	if s.SMTP.Host != "" {
		if err := s.SMTPConfig().Validate(); err != nil {
			return err
		}
	}
	return nil
}

// SMTPConfig maps the smtp section onto mail.SMTPConfig.
func (s *Settings) SMTPConfig() mail.SMTPConfig {
	return mail.SMTPConfig{
		Host:               s.SMTP.Host,
		Port:               s.SMTP.Port,
		Username:           s.SMTP.Username,
		Password:           s.SMTP.Password,
		From:               s.SMTP.From,
		InsecureSkipVerify: s.SMTP.InsecureSkipVerify,
		MaxConns:           s.SMTP.MaxConns,
		SendTimeout:        s.SMTP.SendTimeout,
	}
}

// EngineConfig overlays the settings on goGuard.DefaultConfig. Key files
// are read here.
func (s *Settings) EngineConfig() (goGuard.Config, error) {
	cfg := goGuard.DefaultConfig()

	cfg.Session.SigningMethod = s.Session.SigningMethod
	cfg.Session.TTL = s.Session.TTL
	cfg.Session.RevalidateAfter = s.Session.RevalidateAfter
	cfg.Session.Issuer = s.Session.Issuer
	cfg.Session.Audience = s.Session.Audience
	switch {
	case s.Session.KeyFile != "":
		key, err := os.ReadFile(s.Session.KeyFile)
		if err != nil {
			return cfg, fmt.Errorf("config: session key file: %w", err)
		}
		cfg.Session.PrivateKey = key
	default:
		cfg.Session.PrivateKey = []byte(s.Session.Key)
	}
	if s.Session.PublicKeyFile != "" {
		key, err := os.ReadFile(s.Session.PublicKeyFile)
		if err != nil {
			return cfg, fmt.Errorf("config: session public key file: %w", err)
		}
		cfg.Session.PublicKey = key
	}

	cfg.Lockout.Threshold = s.Lockout.Threshold
	cfg.Lockout.Duration = s.Lockout.Duration

	cfg.Audit.Async = s.Audit.Async
	cfg.Audit.BufferSize = s.Audit.BufferSize
	cfg.Audit.Retention = s.Audit.Retention

	cfg.Mail.AppName = s.Mail.AppName
	cfg.Mail.BaseURL = s.Mail.BaseURL

	cfg.Metrics.Enabled = s.Metrics.Enabled
	cfg.Metrics.EnableLatencyHistograms = s.Metrics.Enabled && s.Metrics.Latency

	cfg.TwoFactor.Issuer = s.TwoFactor.Issuer
	return cfg, nil
}
