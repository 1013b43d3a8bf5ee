// Package config defines the server's settings. Every flag can also be set from the
// environment as GUESSWHO_<FLAG> with dashes turned into underscores.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const EnvPrefix = "GUESSWHO"

type Config struct {
	Bind      string
	Port      int
	LogLevel  string
	LogFormat string

	DatabaseURL  string
	Catalog      string
	CharacterSet string

	AuthSecret    string
	AllowGuests   bool
	CredentialTTL time.Duration

	TurnTimer      time.Duration
	ReconnectGrace time.Duration
	EvictGrace     time.Duration
	LobbyTTL       time.Duration
	CodeAttempts   int

	PublicURL string
}

// Register declares every flag on fs, writing into cfg.
func Register(fs *pflag.FlagSet, cfg *Config) {
	fs.SetNormalizeFunc(func(_ *pflag.FlagSet, name string) pflag.NormalizedName {
		return pflag.NormalizedName(strings.ReplaceAll(name, "_", "-"))
	})

	fs.StringVarP(&cfg.Bind, "bind", "b", "0.0.0.0", "address to bind to (env: GUESSWHO_BIND)")
	fs.IntVarP(&cfg.Port, "port", "p", 8080, "port to listen on (env: GUESSWHO_PORT)")
	fs.StringVar(&cfg.LogLevel, "log-level", "info", "debug, info, warn or error (env: GUESSWHO_LOG_LEVEL)")
	fs.StringVar(&cfg.LogFormat, "log-format", "json", "json or console (env: GUESSWHO_LOG_FORMAT)")

	fs.StringVar(&cfg.DatabaseURL, "database-url", "", "postgres url for the event log and catalog; empty logs events only (env: GUESSWHO_DATABASE_URL)")
	fs.StringVar(&cfg.Catalog, "catalog", "static", "character catalog: static or postgres (env: GUESSWHO_CATALOG)")
	fs.StringVar(&cfg.CharacterSet, "character-set", "classic", "default character set for new rooms (env: GUESSWHO_CHARACTER_SET)")

	fs.StringVar(&cfg.AuthSecret, "auth-secret", "", "key used to sign guest credentials (env: GUESSWHO_AUTH_SECRET)")
	fs.BoolVar(&cfg.AllowGuests, "allow-guests", true, "let connections without a credential play as anonymous guests (env: GUESSWHO_ALLOW_GUESTS)")
	fs.DurationVar(&cfg.CredentialTTL, "credential-ttl", 24*time.Hour, "lifetime of issued guest credentials (env: GUESSWHO_CREDENTIAL_TTL)")

	fs.DurationVar(&cfg.TurnTimer, "turn-timer", 0, "default turn timer for new rooms, 0 disables (env: GUESSWHO_TURN_TIMER)")
	fs.DurationVar(&cfg.ReconnectGrace, "reconnect-grace", 60*time.Second, "how long a disconnected seat is held (env: GUESSWHO_RECONNECT_GRACE)")
	fs.DurationVar(&cfg.EvictGrace, "evict-grace", 5*time.Minute, "how long finished rooms stay readable (env: GUESSWHO_EVICT_GRACE)")
	fs.DurationVar(&cfg.LobbyTTL, "lobby-ttl", 10*time.Minute, "how long a created room may sit empty (env: GUESSWHO_LOBBY_TTL)")
	fs.IntVar(&cfg.CodeAttempts, "code-attempts", 32, "room code collisions tolerated before giving up (env: GUESSWHO_CODE_ATTEMPTS)")

	fs.StringVar(&cfg.PublicURL, "public-url", "http://localhost:8080", "externally visible base url, used in join links (env: GUESSWHO_PUBLIC_URL)")
}

// ApplyEnv fills every flag the command line left unset from the environment.
func ApplyEnv(fs *pflag.FlagSet) error {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	var errs error
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(f.Name, f)
		_ = v.BindEnv(f.Name)
		if !f.Changed && v.IsSet(f.Name) {
			if err := fs.Set(f.Name, fmt.Sprintf("%v", v.Get(f.Name))); err != nil {
				errs = multierr.Append(errs, fmt.Errorf("%s_%s: %w", EnvPrefix, strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_")), err))
			}
		}
	})
	return errs
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs error
	if c.Port < 1 || c.Port > 65535 {
		errs = multierr.Append(errs, fmt.Errorf("invalid port (must be between 1-65535 inclusive): %d", c.Port))
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown log level %q", c.LogLevel))
	}
	switch c.LogFormat {
	case "json", "console":
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown log format %q", c.LogFormat))
	}
	switch c.Catalog {
	case "static":
	case "postgres":
		if c.DatabaseURL == "" {
			errs = multierr.Append(errs, errors.New("--catalog=postgres needs --database-url"))
		}
	default:
		errs = multierr.Append(errs, fmt.Errorf("unknown catalog %q", c.Catalog))
	}
	if c.CharacterSet == "" {
		errs = multierr.Append(errs, errors.New("--character-set must not be empty"))
	}
	if c.AuthSecret == "" {
		errs = multierr.Append(errs, errors.New("--auth-secret is required"))
	}
	if c.CredentialTTL <= 0 {
		errs = multierr.Append(errs, errors.New("--credential-ttl must be positive"))
	}
	if c.TurnTimer < 0 || c.TurnTimer%time.Second != 0 {
		errs = multierr.Append(errs, fmt.Errorf("--turn-timer must be a whole number of seconds, got %s", c.TurnTimer))
	}
	if c.ReconnectGrace <= 0 {
		errs = multierr.Append(errs, errors.New("--reconnect-grace must be positive"))
	}
	if c.EvictGrace < 0 || c.LobbyTTL < 0 {
		errs = multierr.Append(errs, errors.New("--evict-grace and --lobby-ttl must not be negative"))
	}
	if c.CodeAttempts < 1 {
		errs = multierr.Append(errs, fmt.Errorf("--code-attempts must be at least 1, got %d", c.CodeAttempts))
	}
	if u, err := url.Parse(c.PublicURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = multierr.Append(errs, fmt.Errorf("invalid public url %q", c.PublicURL))
	}
	return errs
}

// Addr is the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Bind, c.Port)
}

// TurnTimerSec is the default rule value for new rooms.
func (c *Config) TurnTimerSec() int {
	return int(c.TurnTimer / time.Second)
}
