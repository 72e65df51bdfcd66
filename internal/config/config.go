// Package config loads application configuration and initializes logging.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
	Geo         GeoConfig         `yaml:"geo" mapstructure:"geo"`
	Specialty   SpecialtyConfig   `yaml:"specialty" mapstructure:"specialty"`
	Discovery   DiscoveryConfig   `yaml:"discovery" mapstructure:"discovery"`
	Scoring     ScoringConfig     `yaml:"scoring" mapstructure:"scoring"`
	Acquisition AcquisitionConfig `yaml:"acquisition" mapstructure:"acquisition"`
	Resilience  ResilienceConfig  `yaml:"resilience" mapstructure:"resilience"`
}

// StoreConfig configures the candidate store backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// ServerConfig configures the HTTP service.
type ServerConfig struct {
	Port               int      `yaml:"port" mapstructure:"port"`
	CORSAllowedOrigins []string `yaml:"cors_allowed_origins" mapstructure:"cors_allowed_origins"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" mapstructure:"request_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// GeoConfig configures the postal-code reference dataset and its caches.
type GeoConfig struct {
	// Source is one of "postgres", "gazetteer" or "shapefile".
	Source            string   `yaml:"source" mapstructure:"source"`
	DatasetPath       string   `yaml:"dataset_path" mapstructure:"dataset_path"`
	DefaultRadiusKM   float64  `yaml:"default_radius_km" mapstructure:"default_radius_km"`
	EmergencyRadiusKM float64  `yaml:"emergency_radius_km" mapstructure:"emergency_radius_km"`
	PointCacheSize    int      `yaml:"point_cache_size" mapstructure:"point_cache_size"`
	RadiusCacheSize   int      `yaml:"radius_cache_size" mapstructure:"radius_cache_size"`
	CacheShards       int      `yaml:"cache_shards" mapstructure:"cache_shards"`
	WarmPostalCodes   []string `yaml:"warm_postal_codes" mapstructure:"warm_postal_codes"`
	WarmConcurrency   int      `yaml:"warm_concurrency" mapstructure:"warm_concurrency"`
}

// SpecialtyConfig configures the specialty normalizer.
type SpecialtyConfig struct {
	SynonymsPath string `yaml:"synonyms_path" mapstructure:"synonyms_path"`
	MaxTags      int    `yaml:"max_tags" mapstructure:"max_tags"`
}

// DiscoveryConfig configures tier escalation, caching and timeouts.
type DiscoveryConfig struct {
	DefaultCandidates int    `yaml:"default_candidates" mapstructure:"default_candidates"`
	CacheTTLSecs      int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	CacheMaxEntries   int    `yaml:"cache_max_entries" mapstructure:"cache_max_entries"`
	BudgetBucket      int    `yaml:"budget_bucket" mapstructure:"budget_bucket"`
	Tier1Cap          int    `yaml:"tier1_cap" mapstructure:"tier1_cap"`
	Tier2Cap          int    `yaml:"tier2_cap" mapstructure:"tier2_cap"`
	Tier2CooldownDays int    `yaml:"tier2_cooldown_days" mapstructure:"tier2_cooldown_days"`
	Tier1TimeoutMs    int    `yaml:"tier1_timeout_ms" mapstructure:"tier1_timeout_ms"`
	Tier2TimeoutMs    int    `yaml:"tier2_timeout_ms" mapstructure:"tier2_timeout_ms"`
	Tier3TimeoutMs    int    `yaml:"tier3_timeout_ms" mapstructure:"tier3_timeout_ms"`
	Escalation        string `yaml:"escalation" mapstructure:"escalation"` // "sequential" or "parallel"
	PersistSelections bool   `yaml:"persist_selections" mapstructure:"persist_selections"`
}

// TierTimeout returns the configured timeout for a tier (1-3).
func (d DiscoveryConfig) TierTimeout(tier int) time.Duration {
	var ms int
	switch tier {
	case 1:
		ms = d.Tier1TimeoutMs
	case 2:
		ms = d.Tier2TimeoutMs
	case 3:
		ms = d.Tier3TimeoutMs
	}
	return time.Duration(ms) * time.Millisecond
}

// ScoringConfig holds every tunable constant of the match scorer. The weights
// are heuristics, not fitted to outcome data.
type ScoringConfig struct {
	RatingMultiplier float64 `yaml:"rating_multiplier" mapstructure:"rating_multiplier"`

	ExperienceTiers []ExperienceTier `yaml:"experience_tiers" mapstructure:"experience_tiers"`

	InsuranceBonus float64 `yaml:"insurance_bonus" mapstructure:"insurance_bonus"`
	LicenseBonus   float64 `yaml:"license_bonus" mapstructure:"license_bonus"`

	SizeFitBonus       float64 `yaml:"size_fit_bonus" mapstructure:"size_fit_bonus"`
	TooSmallPenalty    float64 `yaml:"too_small_penalty" mapstructure:"too_small_penalty"`
	TooLargePenalty    float64 `yaml:"too_large_penalty" mapstructure:"too_large_penalty"`
	TooLargeMultiplier float64 `yaml:"too_large_multiplier" mapstructure:"too_large_multiplier"`

	Tier1Weight float64 `yaml:"tier1_weight" mapstructure:"tier1_weight"`
	Tier2Weight float64 `yaml:"tier2_weight" mapstructure:"tier2_weight"`
	Tier3Weight float64 `yaml:"tier3_weight" mapstructure:"tier3_weight"`
}

// ExperienceTier awards Bonus when completed jobs strictly exceed MinJobs.
type ExperienceTier struct {
	MinJobs int     `yaml:"min_jobs" mapstructure:"min_jobs"`
	Bonus   float64 `yaml:"bonus" mapstructure:"bonus"`
}

// AcquisitionConfig configures the Tier 3 external acquisition source.
type AcquisitionConfig struct {
	Enabled   bool    `yaml:"enabled" mapstructure:"enabled"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	Key       string  `yaml:"key" mapstructure:"key"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// ResilienceConfig configures retry and circuit breaking for external calls.
type ResilienceConfig struct {
	MaxAttempts      int     `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int     `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
	MaxBackoffMs     int     `yaml:"max_backoff_ms" mapstructure:"max_backoff_ms"`
	Multiplier       float64 `yaml:"multiplier" mapstructure:"multiplier"`
	JitterFraction   float64 `yaml:"jitter_fraction" mapstructure:"jitter_fraction"`
	FailureThreshold int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// Load reads configuration from .env, config file and environment.
func Load() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("MATCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	if len(cfg.Scoring.ExperienceTiers) == 0 {
		cfg.Scoring.ExperienceTiers = DefaultExperienceTiers()
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.sqlite_path", "contractor-match.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_allowed_origins", []string{"*"})
	v.SetDefault("server.request_timeout_secs", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("geo.source", "postgres")
	v.SetDefault("geo.default_radius_km", 40.0)
	v.SetDefault("geo.emergency_radius_km", 25.0)
	v.SetDefault("geo.point_cache_size", 4096)
	v.SetDefault("geo.radius_cache_size", 512)
	v.SetDefault("geo.cache_shards", 16)
	v.SetDefault("geo.warm_concurrency", 4)

	v.SetDefault("specialty.max_tags", 4)

	v.SetDefault("discovery.default_candidates", 5)
	v.SetDefault("discovery.cache_ttl_secs", 3600)
	v.SetDefault("discovery.cache_max_entries", 2048)
	v.SetDefault("discovery.budget_bucket", 1000)
	v.SetDefault("discovery.tier1_cap", 5)
	v.SetDefault("discovery.tier2_cap", 10)
	v.SetDefault("discovery.tier2_cooldown_days", 30)
	v.SetDefault("discovery.tier1_timeout_ms", 2500)
	v.SetDefault("discovery.tier2_timeout_ms", 2500)
	v.SetDefault("discovery.tier3_timeout_ms", 9000)
	v.SetDefault("discovery.escalation", "sequential")

	v.SetDefault("scoring.rating_multiplier", 20.0)
	v.SetDefault("scoring.insurance_bonus", 10.0)
	v.SetDefault("scoring.license_bonus", 5.0)
	v.SetDefault("scoring.size_fit_bonus", 15.0)
	v.SetDefault("scoring.too_small_penalty", 10.0)
	v.SetDefault("scoring.too_large_penalty", 5.0)
	v.SetDefault("scoring.too_large_multiplier", 1.5)
	v.SetDefault("scoring.tier1_weight", 10.0)
	v.SetDefault("scoring.tier2_weight", 5.0)
	v.SetDefault("scoring.tier3_weight", 0.0)

	v.SetDefault("acquisition.rate_limit", 2.0)

	v.SetDefault("resilience.max_attempts", 2)
	v.SetDefault("resilience.initial_backoff_ms", 250)
	v.SetDefault("resilience.max_backoff_ms", 2000)
	v.SetDefault("resilience.multiplier", 2.0)
	v.SetDefault("resilience.jitter_fraction", 0.2)
	v.SetDefault("resilience.failure_threshold", 5)
	v.SetDefault("resilience.reset_timeout_secs", 30)
}

// DefaultExperienceTiers returns the experience bonus ladder, highest first.
func DefaultExperienceTiers() []ExperienceTier {
	return []ExperienceTier{
		{MinJobs: 100, Bonus: 20},
		{MinJobs: 50, Bonus: 15},
		{MinJobs: 20, Bonus: 10},
		{MinJobs: 5, Bonus: 5},
	}
}

// Validate checks that the keys required by a command scope are present.
// Scopes: "serve", "discover", "geo", "migrate".
func (c *Config) Validate(scope string) error {
	var errs []string

	needStore := scope == "serve" || scope == "discover" || scope == "migrate"
	if needStore {
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
			errs = append(errs, fmt.Sprintf("store.driver %q is not supported (use postgres or sqlite)", c.Store.Driver))
		}
	}

	needGeo := scope == "serve" || scope == "discover" || scope == "geo"
	if needGeo {
		switch c.Geo.Source {
		case "postgres":
			if c.Store.DatabaseURL == "" {
				errs = append(errs, "store.database_url is required for geo.source postgres")
			}
		case "gazetteer", "shapefile":
			if c.Geo.DatasetPath == "" {
				errs = append(errs, "geo.dataset_path is required for file-based geo sources")
			}
		default:
			errs = append(errs, fmt.Sprintf("geo.source %q is not supported", c.Geo.Source))
		}
		if c.Geo.DefaultRadiusKM <= 0 || c.Geo.DefaultRadiusKM > 200 {
			errs = append(errs, "geo.default_radius_km must be in (0, 200]")
		}
	}

	if scope == "serve" || scope == "discover" {
		if c.Discovery.Escalation != "sequential" && c.Discovery.Escalation != "parallel" {
			errs = append(errs, "discovery.escalation must be sequential or parallel")
		}
		if c.Acquisition.Enabled && c.Acquisition.BaseURL == "" {
			errs = append(errs, "acquisition.base_url is required when acquisition is enabled")
		}
	}

	if scope == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
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
