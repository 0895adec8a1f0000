package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Cache       CacheConfig       `yaml:"cache" mapstructure:"cache"`
	Revenue     RevenueConfig     `yaml:"revenue" mapstructure:"revenue"`
	Normalize   NormalizeConfig   `yaml:"normalize" mapstructure:"normalize"`
	Institution InstitutionConfig `yaml:"institution" mapstructure:"institution"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	RateLimitRPS   float64  `yaml:"rate_limit_rps" mapstructure:"rate_limit_rps"`
	RateLimitBurst int      `yaml:"rate_limit_burst" mapstructure:"rate_limit_burst"`
	CORSOrigins    []string `yaml:"cors_origins" mapstructure:"cors_origins"`
	MaxUploadMB    int      `yaml:"max_upload_mb" mapstructure:"max_upload_mb"`
}

// CacheConfig configures the aggregation cache.
type CacheConfig struct {
	TTLSecs int    `yaml:"ttl_secs" mapstructure:"ttl_secs"`
	Backend string `yaml:"backend" mapstructure:"backend"` // memory | store
}

// TTL returns the entry lifetime as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSecs) * time.Second
}

// CourseRate is an externally supplied completion rate for one course identity.
type CourseRate struct {
	CourseID string  `yaml:"course_id" mapstructure:"course_id"`
	Pct      float64 `yaml:"pct" mapstructure:"pct"`
}

// RevenueConfig configures completion-adjusted revenue.
type RevenueConfig struct {
	CurveBase          float64      `yaml:"curve_base" mapstructure:"curve_base"`
	CurveSteepness     float64      `yaml:"curve_steepness" mapstructure:"curve_steepness"`
	YearlyMode         string       `yaml:"yearly_mode" mapstructure:"yearly_mode"`
	UseInstitutionRate bool         `yaml:"use_institution_rate" mapstructure:"use_institution_rate"`
	CourseRates        []CourseRate `yaml:"course_rates" mapstructure:"course_rates"`
}

// CourseRateMap returns the configured course rates keyed by course identity.
// Viper lower-cases map keys, so rates are configured as a list instead.
func (c RevenueConfig) CourseRateMap() map[string]float64 {
	if len(c.CourseRates) == 0 {
		return nil
	}
	m := make(map[string]float64, len(c.CourseRates))
	for _, r := range c.CourseRates {
		m[r.CourseID] = r.Pct
	}
	return m
}

// NormalizeConfig configures row normalization.
type NormalizeConfig struct {
	DateFallback string `yaml:"date_fallback" mapstructure:"date_fallback"`
}

// InstitutionConfig configures institution canonicalization.
type InstitutionConfig struct {
	AliasesFile string `yaml:"aliases_file" mapstructure:"aliases_file"`
}

// MonitoringConfig configures data-quality alerting.
type MonitoringConfig struct {
	MalformedRatioThreshold        float64 `yaml:"malformed_ratio_threshold" mapstructure:"malformed_ratio_threshold"`
	CollisionThreshold             int     `yaml:"collision_threshold" mapstructure:"collision_threshold"`
	EstimationUnavailableThreshold int     `yaml:"estimation_unavailable_threshold" mapstructure:"estimation_unavailable_threshold"`
	WebhookURL                     string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs              int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("TRAINSTAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "training-stats.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rate_limit_rps", 20)
	v.SetDefault("server.rate_limit_burst", 40)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("cache.ttl_secs", 3600)
	v.SetDefault("cache.backend", "memory")
	v.SetDefault("revenue.curve_base", 2.0)
	v.SetDefault("revenue.curve_steepness", 2.0)
	v.SetDefault("revenue.yearly_mode", "independent")
	v.SetDefault("revenue.use_institution_rate", false)
	v.SetDefault("normalize.date_fallback", "flag")
	v.SetDefault("monitoring.malformed_ratio_threshold", 0.2)
	v.SetDefault("monitoring.collision_threshold", 10)
	v.SetDefault("monitoring.estimation_unavailable_threshold", 1)
	v.SetDefault("monitoring.check_interval_secs", 300)

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

// Validate checks the settings a command needs. mode is one of "ingest",
// "stats" or "serve". All problems are reported together.
func (c *Config) Validate(mode string) error {
	var problems []string
	add := func(msg string) { problems = append(problems, msg) }

	switch mode {
	case "ingest", "stats", "serve":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		add("store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		add("store.database_url is required")
	}

	if c.Revenue.CurveBase <= 1 {
		add("revenue.curve_base must be > 1")
	}
	if c.Revenue.CurveSteepness <= 0 {
		add("revenue.curve_steepness must be > 0")
	}
	switch c.Revenue.YearlyMode {
	case "", "independent", "prorate":
	default:
		add("revenue.yearly_mode must be independent or prorate")
	}
	for _, r := range c.Revenue.CourseRates {
		if r.CourseID == "" || r.Pct < 0 || r.Pct > 100 {
			add("revenue.course_rates entries need a course_id and a pct between 0 and 100")
			break
		}
	}

	switch c.Normalize.DateFallback {
	case "", "flag", "today":
	default:
		add("normalize.date_fallback must be flag or today")
	}

	switch c.Cache.Backend {
	case "", "memory", "store":
	default:
		add("cache.backend must be memory or store")
	}
	if c.Cache.TTLSecs < 0 {
		add("cache.ttl_secs must be >= 0")
	}

	if c.Monitoring.MalformedRatioThreshold < 0 || c.Monitoring.MalformedRatioThreshold > 1 {
		add("monitoring.malformed_ratio_threshold must be between 0 and 1")
	}

	if mode == "serve" {
		if c.Server.Port <= 0 {
			add("server.port must be > 0")
		}
		if c.Server.RateLimitRPS < 0 || c.Server.RateLimitBurst < 0 {
			add("server.rate_limit_rps and server.rate_limit_burst must be >= 0")
		}
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
	}
	return nil
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
