package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds pipeline configuration shared by all tenants.
type Config struct {
	BatchSize    int
	StrictConfig bool
	Tenants      []Tenant
}

// Tenant is the per-customer configuration consumed by ingest and transform.
type Tenant struct {
	Name               string `yaml:"name"`
	AccountID          string `yaml:"account_id"`
	APIBaseURL         string `yaml:"api_base_url"`
	APIToken           string `yaml:"api_token"`
	DBPath             string `yaml:"db_path"`
	DefaultRegion      string `yaml:"default_region"`
	SpoolDir           string `yaml:"spool_dir"`
	FetchWindowMinutes int    `yaml:"fetch_window_minutes"`
	InitialLoadDays    int    `yaml:"initial_load_days"`
	PageSize           int    `yaml:"page_size"`
}

type fileConfig struct {
	BatchSize int      `yaml:"batch_size"`
	Tenants   []Tenant `yaml:"tenants"`
}

const (
	defaultBatchSize    = 500
	minBatchSize        = 1
	maxBatchSize        = 5000
	defaultPageSize     = 2000
	defaultFetchWindow  = 60
	defaultRegion       = "AE"
	defaultTenantsFile  = "config/tenants.yaml"
	defaultRuntimeDBDir = "runtime"
	tenantsFileEnv      = "CONFIG_PATH"
	strictConfigEnv     = "STRICT_CONFIG"
	batchSizeEnv        = "BATCH_SIZE"
)

// Load reads the tenants file, then layers environment overrides on top.
// Env vars win; per-tenant overrides use the upper-cased tenant name as
// prefix (SHAMS_API_TOKEN, SHAMS_DB_PATH, ...).
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		BatchSize:    defaultBatchSize,
		StrictConfig: parseBoolEnv(strictConfigEnv),
	}

	path := getEnv(tenantsFileEnv, defaultTenantsFile)
	fileCfg, err := loadTenantsFile(path)
	if err != nil {
		if cfg.StrictConfig {
			return cfg, fmt.Errorf("tenants config load failed (%s): %w", path, err)
		}
	}

	if fileCfg.BatchSize > 0 {
		cfg.BatchSize = fileCfg.BatchSize
	}
	if v := os.Getenv(batchSizeEnv); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid %s: %w", batchSizeEnv, err)
		}
		cfg.BatchSize = n
	}
	if cfg.BatchSize < minBatchSize {
		cfg.BatchSize = minBatchSize
	}
	if cfg.BatchSize > maxBatchSize {
		cfg.BatchSize = maxBatchSize
	}

	for _, t := range fileCfg.Tenants {
		cfg.Tenants = append(cfg.Tenants, applyTenantDefaults(applyTenantEnv(t)))
	}

	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Tenant returns the named tenant configuration.
func (c Config) Tenant(name string) (Tenant, bool) {
	for _, t := range c.Tenants {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return Tenant{}, false
}

func loadTenantsFile(path string) (fileConfig, error) {
	var cfg fileConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if len(data) == 0 {
		return cfg, errors.New("empty tenants file")
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyTenantEnv(t Tenant) Tenant {
	prefix := strings.ToUpper(t.Name) + "_"
	t.AccountID = firstNonEmpty(os.Getenv(prefix+"API_ACCOUNT_ID"), t.AccountID)
	t.APIBaseURL = firstNonEmpty(os.Getenv(prefix+"API_BASE_URL"), t.APIBaseURL)
	t.APIToken = firstNonEmpty(os.Getenv(prefix+"API_TOKEN"), t.APIToken)
	t.DBPath = firstNonEmpty(os.Getenv(prefix+"DB_PATH"), t.DBPath)
	t.DefaultRegion = firstNonEmpty(os.Getenv(prefix+"DEFAULT_REGION"), t.DefaultRegion)
	t.SpoolDir = firstNonEmpty(os.Getenv(prefix+"SPOOL_DIR"), t.SpoolDir)
	if v, ok := parseIntEnv(prefix + "FETCH_WINDOW_MINUTES"); ok {
		t.FetchWindowMinutes = v
	} else if v, ok := parseIntEnv("FETCH_WINDOW_MINUTES"); ok {
		t.FetchWindowMinutes = v
	}
	if v, ok := parseIntEnv(prefix + "INITIAL_LOAD_DAYS"); ok {
		t.InitialLoadDays = v
	} else if v, ok := parseIntEnv("INITIAL_LOAD_DAYS"); ok {
		t.InitialLoadDays = v
	}
	if v, ok := parseIntEnv(prefix + "PAGE_SIZE"); ok {
		t.PageSize = v
	}
	return t
}

func applyTenantDefaults(t Tenant) Tenant {
	if t.DBPath == "" && t.Name != "" {
		t.DBPath = filepath.Join(defaultRuntimeDBDir, "allcdr_"+strings.ToLower(t.Name)+".db")
	}
	if t.DefaultRegion == "" {
		t.DefaultRegion = defaultRegion
	}
	if t.FetchWindowMinutes <= 0 {
		t.FetchWindowMinutes = defaultFetchWindow
	}
	if t.PageSize <= 0 {
		t.PageSize = defaultPageSize
	}
	return t
}

func validate(cfg Config) error {
	seen := make(map[string]struct{}, len(cfg.Tenants))
	for _, t := range cfg.Tenants {
		if strings.TrimSpace(t.Name) == "" {
			return errors.New("tenant name is required")
		}
		key := strings.ToLower(t.Name)
		if _, dup := seen[key]; dup {
			return fmt.Errorf("duplicate tenant %q", t.Name)
		}
		seen[key] = struct{}{}
		if strings.TrimSpace(t.DBPath) == "" {
			return fmt.Errorf("tenant %q: db_path is required", t.Name)
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, val := range values {
		if strings.TrimSpace(val) != "" {
			return val
		}
	}
	return ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseBoolEnv(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func parseIntEnv(key string) (int, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return 0, false
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return val, true
}
