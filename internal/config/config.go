// Package config loads provider-sync settings from config.yaml and
// PROVIDERSYNC_* environment variables.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig               `yaml:"store" mapstructure:"store"`
	Log       LogConfig                 `yaml:"log" mapstructure:"log"`
	Server    ServerConfig              `yaml:"server" mapstructure:"server"`
	Sync      SyncConfig                `yaml:"sync" mapstructure:"sync"`
	Schedule  ScheduleConfig            `yaml:"schedule" mapstructure:"schedule"`
	Normalize NormalizeConfig           `yaml:"normalize" mapstructure:"normalize"`
	Providers map[string]ProviderConfig `yaml:"providers" mapstructure:"providers"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// SyncConfig tunes fleet runs.
type SyncConfig struct {
	// Concurrency is the number of branches processed at once; 1 is
	// strictly sequential.
	Concurrency int `yaml:"concurrency" mapstructure:"concurrency"`
	// MaxBranches caps the branches of one run; 0 means no cap.
	MaxBranches int `yaml:"max_branches" mapstructure:"max_branches"`
}

// ScheduleConfig configures periodic incremental syncs in serve mode.
type ScheduleConfig struct {
	Enabled   bool     `yaml:"enabled" mapstructure:"enabled"`
	Cron      string   `yaml:"cron" mapstructure:"cron"`
	Providers []string `yaml:"providers" mapstructure:"providers"`
}

// NormalizeConfig points at an optional templates override.
type NormalizeConfig struct {
	TemplatesFile string `yaml:"templates_file" mapstructure:"templates_file"`
}

// ProviderConfig configures one upstream provider.
type ProviderConfig struct {
	Enabled   bool   `yaml:"enabled" mapstructure:"enabled"`
	BaseURL   string `yaml:"base_url" mapstructure:"base_url"`
	Endpoint  string `yaml:"endpoint" mapstructure:"endpoint"`
	Version   string `yaml:"version" mapstructure:"version"`
	Namespace string `yaml:"namespace" mapstructure:"namespace"`
	Timezone  string `yaml:"timezone" mapstructure:"timezone"`

	TimeoutSecs    int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxRangeDays   int    `yaml:"max_range_days" mapstructure:"max_range_days"`
	DefaultAnchor  string `yaml:"default_anchor" mapstructure:"default_anchor"`
	EnforceRecency bool   `yaml:"enforce_recency" mapstructure:"enforce_recency"`

	TokenDefaultTTL   time.Duration `yaml:"token_default_ttl" mapstructure:"token_default_ttl"`
	TokenSafetyMargin time.Duration `yaml:"token_safety_margin" mapstructure:"token_safety_margin"`
	BearerToken       string        `yaml:"bearer_token" mapstructure:"bearer_token"`

	RateLimit        float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	RateBurst        int     `yaml:"rate_burst" mapstructure:"rate_burst"`
	BreakerThreshold int     `yaml:"breaker_threshold" mapstructure:"breaker_threshold"`
	BreakerResetSecs int     `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`

	// AuthPatterns are regular expressions over upstream error messages
	// that mark an authorization failure.
	AuthPatterns []string `yaml:"auth_patterns" mapstructure:"auth_patterns"`
	// Defaults are provider-wide credential values.
	Defaults map[string]string `yaml:"defaults" mapstructure:"defaults"`
}

// Timeout returns the per-call timeout.
func (p ProviderConfig) Timeout() time.Duration {
	return time.Duration(p.TimeoutSecs) * time.Second
}

// BreakerReset returns the circuit breaker cool-down.
func (p ProviderConfig) BreakerReset() time.Duration {
	return time.Duration(p.BreakerResetSecs) * time.Second
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Provider returns the named provider's settings.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	p, ok := c.Providers[name]
	return p, ok
}

// EnabledProviders lists enabled providers, sorted.
func (c *Config) EnabledProviders() []string {
	var out []string
	for name, p := range c.Providers {
		if p.Enabled {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

// CredentialDefaults returns every provider's credential defaults.
func (c *Config) CredentialDefaults() map[string]map[string]string {
	out := make(map[string]map[string]string, len(c.Providers))
	for name, p := range c.Providers {
		if len(p.Defaults) > 0 {
			out[name] = p.Defaults
		}
	}
	return out
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "provider-sync.db")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("sync.concurrency", 1)
	v.SetDefault("sync.max_branches", 0)
	v.SetDefault("schedule.enabled", false)
	v.SetDefault("schedule.cron", "30 6 * * *")
	v.SetDefault("schedule.providers", []string{"monroe"})

	v.SetDefault("providers.monroe.enabled", true)
	v.SetDefault("providers.monroe.base_url", "https://servicios.monroeamericana.com.ar/api-cli/")
	v.SetDefault("providers.monroe.version", "ade/1.0.0")
	v.SetDefault("providers.monroe.timezone", "America/Argentina/Buenos_Aires")
	v.SetDefault("providers.monroe.timeout_secs", 30)
	v.SetDefault("providers.monroe.max_range_days", 6)
	v.SetDefault("providers.monroe.default_anchor", "span")
	v.SetDefault("providers.monroe.token_default_ttl", 25*time.Minute)
	v.SetDefault("providers.monroe.token_safety_margin", 5*time.Second)
	v.SetDefault("providers.monroe.rate_limit", 5.0)
	v.SetDefault("providers.monroe.rate_burst", 5)
	v.SetDefault("providers.monroe.breaker_threshold", 5)
	v.SetDefault("providers.monroe.breaker_reset_secs", 30)
	v.SetDefault("providers.monroe.auth_patterns", []string{
		`(?i)unauthorized`,
		`API-cli-1\b`,
		`API-cli-2\.2`,
		`(?i)credenciales incompletas`,
	})

	v.SetDefault("providers.suizo.enabled", true)
	v.SetDefault("providers.suizo.base_url", "https://ws.suizoargentina.com/webservice/")
	v.SetDefault("providers.suizo.endpoint", "wspedidos2.asmx")
	v.SetDefault("providers.suizo.namespace", "http://tempuri.org/")
	v.SetDefault("providers.suizo.timeout_secs", 30)
	v.SetDefault("providers.suizo.max_range_days", 6)
	v.SetDefault("providers.suizo.default_anchor", "yesterday")
	v.SetDefault("providers.suizo.enforce_recency", true)
	v.SetDefault("providers.suizo.rate_limit", 2.0)
	v.SetDefault("providers.suizo.rate_burst", 2)
	v.SetDefault("providers.suizo.breaker_threshold", 5)
	v.SetDefault("providers.suizo.breaker_reset_secs", 30)
	v.SetDefault("providers.suizo.auth_patterns", []string{
		`(?i)usuario o clave`,
		`(?i)acceso denegado`,
	})

	v.SetDefault("providers.cofarsur.enabled", true)
	v.SetDefault("providers.cofarsur.base_url", "https://www.cofarsur.net/")
	v.SetDefault("providers.cofarsur.endpoint", "ws")
	v.SetDefault("providers.cofarsur.timeout_secs", 20)
	v.SetDefault("providers.cofarsur.max_range_days", 4)
	v.SetDefault("providers.cofarsur.default_anchor", "yesterday")
	v.SetDefault("providers.cofarsur.enforce_recency", true)
	v.SetDefault("providers.cofarsur.rate_limit", 2.0)
	v.SetDefault("providers.cofarsur.rate_burst", 2)
	v.SetDefault("providers.cofarsur.breaker_threshold", 5)
	v.SetDefault("providers.cofarsur.breaker_reset_secs", 30)
	v.SetDefault("providers.cofarsur.auth_patterns", []string{
		`(?i)token inv[aá]lido`,
		`(?i)usuario o clave`,
	})

	v.SetDefault("providers.kellerhoff.enabled", false)
	v.SetDefault("providers.kellerhoff.base_url", "")
	v.SetDefault("providers.kellerhoff.timeout_secs", 30)
	v.SetDefault("providers.kellerhoff.token_default_ttl", 12*time.Hour)
	v.SetDefault("providers.kellerhoff.token_safety_margin", time.Minute)
	v.SetDefault("providers.kellerhoff.rate_limit", 5.0)
	v.SetDefault("providers.kellerhoff.rate_burst", 5)
	v.SetDefault("providers.kellerhoff.breaker_threshold", 5)
	v.SetDefault("providers.kellerhoff.breaker_reset_secs", 30)
	v.SetDefault("providers.kellerhoff.auth_patterns", []string{
		`(?i)unauthorized`,
		`(?i)invalid token`,
	})
}

// Load reads ./config.yaml, if any, and the environment.
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads configuration from path and the environment. A blank path
// looks for config.yaml in the working directory and tolerates its absence;
// an explicit path must exist.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	// Environment
	v.SetEnvPrefix("PROVIDERSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command mode depends on.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "sync", "serve", "export", "status", "migrate", "branches":
		switch c.Store.Driver {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for the postgres driver")
			}
		case "sqlite":
			if c.Store.SQLitePath == "" {
				errs = append(errs, "store.sqlite_path is required for the sqlite driver")
			}
		default:
			errs = append(errs, fmt.Sprintf("store.driver must be postgres or sqlite, got %q", c.Store.Driver))
		}
	case "probe":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Sync.Concurrency < 1 || c.Sync.Concurrency > 32 {
		errs = append(errs, "sync.concurrency must be between 1 and 32")
	}
	if c.Sync.MaxBranches < 0 {
		errs = append(errs, "sync.max_branches must be >= 0")
	}

	for _, name := range sortedProviders(c.Providers) {
		p := c.Providers[name]
		if !p.Enabled {
			continue
		}
		if p.BaseURL == "" {
			errs = append(errs, fmt.Sprintf("providers.%s.base_url is required", name))
		}
		if p.MaxRangeDays < 0 {
			errs = append(errs, fmt.Sprintf("providers.%s.max_range_days must be >= 0", name))
		}
		if p.DefaultAnchor != "" && p.DefaultAnchor != "yesterday" && p.DefaultAnchor != "span" {
			errs = append(errs, fmt.Sprintf("providers.%s.default_anchor must be yesterday or span", name))
		}
	}

	if mode == "serve" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Schedule.Enabled {
			if _, err := cron.ParseStandard(c.Schedule.Cron); err != nil {
				errs = append(errs, fmt.Sprintf("schedule.cron is invalid: %v", err))
			}
			for _, name := range c.Schedule.Providers {
				if p, ok := c.Providers[name]; !ok || !p.Enabled {
					errs = append(errs, fmt.Sprintf("schedule.providers: %s is not an enabled provider", name))
				}
			}
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func sortedProviders(m map[string]ProviderConfig) []string {
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
