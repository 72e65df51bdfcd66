package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	orig, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(orig) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 40.0, cfg.Geo.DefaultRadiusKM)
	assert.Equal(t, 25.0, cfg.Geo.EmergencyRadiusKM)
	assert.Equal(t, 512, cfg.Geo.RadiusCacheSize)
	assert.Equal(t, 4, cfg.Specialty.MaxTags)
	assert.Equal(t, 5, cfg.Discovery.DefaultCandidates)
	assert.Equal(t, 3600, cfg.Discovery.CacheTTLSecs)
	assert.Equal(t, 5, cfg.Discovery.Tier1Cap)
	assert.Equal(t, 10, cfg.Discovery.Tier2Cap)
	assert.Equal(t, 30, cfg.Discovery.Tier2CooldownDays)
	assert.Equal(t, "sequential", cfg.Discovery.Escalation)
	assert.Equal(t, 20.0, cfg.Scoring.RatingMultiplier)
	assert.Equal(t, 1.5, cfg.Scoring.TooLargeMultiplier)
	assert.Equal(t, DefaultExperienceTiers(), cfg.Scoring.ExperienceTiers)
	assert.Equal(t, 5, cfg.Resilience.FailureThreshold)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
  sqlite_path: /tmp/match.db
server:
  port: 9090
geo:
  source: gazetteer
  dataset_path: zips.tsv
  warm_postal_codes: ["78701", "78702"]
discovery:
  escalation: parallel
  tier1_cap: 3
scoring:
  experience_tiers:
    - min_jobs: 10
      bonus: 7
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/match.db", cfg.Store.SQLitePath)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "gazetteer", cfg.Geo.Source)
	assert.Equal(t, []string{"78701", "78702"}, cfg.Geo.WarmPostalCodes)
	assert.Equal(t, "parallel", cfg.Discovery.Escalation)
	assert.Equal(t, 3, cfg.Discovery.Tier1Cap)
	assert.Equal(t, []ExperienceTier{{MinJobs: 10, Bonus: 7}}, cfg.Scoring.ExperienceTiers)
}

func TestLoadEnvOverride(t *testing.T) {
	chdirTemp(t)
	t.Setenv("MATCH_SERVER_PORT", "7000")
	t.Setenv("MATCH_STORE_DATABASE_URL", "postgres://localhost/match")
	t.Setenv("MATCH_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/match", cfg.Store.DatabaseURL)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadDotEnv(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MATCH_ACQUISITION_KEY=secret-key\n"), 0o644))
	t.Cleanup(func() { _ = os.Unsetenv("MATCH_ACQUISITION_KEY") })

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "secret-key", cfg.Acquisition.Key)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("server: [unclosed"), 0o644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestTierTimeout(t *testing.T) {
	d := DiscoveryConfig{Tier1TimeoutMs: 2500, Tier2TimeoutMs: 1000, Tier3TimeoutMs: 9000}
	assert.Equal(t, 2500*time.Millisecond, d.TierTimeout(1))
	assert.Equal(t, time.Second, d.TierTimeout(2))
	assert.Equal(t, 9*time.Second, d.TierTimeout(3))
	assert.Equal(t, time.Duration(0), d.TierTimeout(4))
}

func validDefaults() *Config {
	return &Config{
		Store:     StoreConfig{Driver: "postgres", DatabaseURL: "postgres://localhost/match"},
		Server:    ServerConfig{Port: 8080},
		Geo:       GeoConfig{Source: "postgres", DefaultRadiusKM: 40},
		Discovery: DiscoveryConfig{Escalation: "sequential"},
	}
}

func TestValidate_Valid(t *testing.T) {
	cfg := validDefaults()
	for _, scope := range []string{"serve", "discover", "geo", "migrate"} {
		assert.NoError(t, cfg.Validate(scope), scope)
	}
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_SQLite(t *testing.T) {
	cfg := validDefaults()
	cfg.Store = StoreConfig{Driver: "sqlite", SQLitePath: "match.db"}
	cfg.Geo = GeoConfig{Source: "gazetteer", DatasetPath: "zips.tsv", DefaultRadiusKM: 40}
	assert.NoError(t, cfg.Validate("serve"))

	cfg.Store.SQLitePath = ""
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.sqlite_path is required")
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mongo"

	err := cfg.Validate("migrate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mongo" is not supported`)
}

func TestValidate_GeoDatasetPath(t *testing.T) {
	cfg := validDefaults()
	cfg.Geo.Source = "shapefile"

	err := cfg.Validate("geo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geo.dataset_path is required")
}

func TestValidate_Radius(t *testing.T) {
	cfg := validDefaults()
	cfg.Geo.DefaultRadiusKM = 0

	err := cfg.Validate("geo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geo.default_radius_km")
}

func TestValidate_Escalation(t *testing.T) {
	cfg := validDefaults()
	cfg.Discovery.Escalation = "eager"

	err := cfg.Validate("discover")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discovery.escalation")

	// Migrate does not care about escalation mode.
	assert.NoError(t, cfg.Validate("migrate"))
}

func TestValidate_AcquisitionBaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Acquisition.Enabled = true

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "acquisition.base_url is required")
}

func TestValidate_Port(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 70000

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")
}

func TestValidate_MultipleErrors(t *testing.T) {
	cfg := &Config{Store: StoreConfig{Driver: "postgres"}, Geo: GeoConfig{Source: "postgres"}}

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")
	assert.Contains(t, err.Error(), "server.port")
	assert.Contains(t, err.Error(), "; ")
}

func TestInitLogger(t *testing.T) {
	t.Cleanup(func() { zap.ReplaceGlobals(zap.NewNop()) })

	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.True(t, zap.L().Core().Enabled(zap.DebugLevel))

	require.NoError(t, InitLogger(LogConfig{Level: "warn", Format: "json"}))
	assert.False(t, zap.L().Core().Enabled(zap.InfoLevel))
}

func TestInitLogger_InvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "loud", Format: "json"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")
}
