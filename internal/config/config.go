package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultBaseURL        = "https://api.openaq.org/v3"
	defaultDataDir        = "./data"
	defaultPageLimit      = 1000
	defaultPageDelay      = 200 * time.Millisecond
	defaultRequestTimeout = 30 * time.Second
	defaultRulesPath      = "validation.yaml"
	defaultListenPort     = "8080"
)

// Config holds runtime configuration for the ingest and api services.
type Config struct {
	BaseURL        string
	APIKey         string
	EntityIDs      []int64
	DataDir        string
	DatabaseURL    string
	PageLimit      int
	PageDelay      time.Duration
	RequestTimeout time.Duration
	RulesPath      string
	ResetState     bool
	DryRun         bool
	Port           string
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{}

	cfg.BaseURL = strings.TrimSpace(os.Getenv("UPSTREAM_BASE_URL"))
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	cfg.APIKey = strings.TrimSpace(os.Getenv("OPENAQ_API_KEY"))

	ids, err := parseEntityIDs(os.Getenv("ENTITY_IDS"))
	if err != nil {
		return cfg, err
	}
	cfg.EntityIDs = ids

	cfg.DataDir = strings.TrimSpace(os.Getenv("DATA_DIR"))
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}

	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.PageLimit = defaultPageLimit
	if v := strings.TrimSpace(os.Getenv("PAGE_LIMIT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return cfg, fmt.Errorf("invalid PAGE_LIMIT: %q", v)
		}
		cfg.PageLimit = n
	}

	cfg.PageDelay = defaultPageDelay
	if v := strings.TrimSpace(os.Getenv("PAGE_DELAY")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid PAGE_DELAY: %w", err)
		}
		cfg.PageDelay = d
	}

	cfg.RequestTimeout = defaultRequestTimeout
	if v := strings.TrimSpace(os.Getenv("REQUEST_TIMEOUT")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
		}
		cfg.RequestTimeout = d
	}

	cfg.RulesPath = strings.TrimSpace(os.Getenv("VALIDATION_RULES"))
	if cfg.RulesPath == "" {
		cfg.RulesPath = defaultRulesPath
	}

	cfg.ResetState = boolEnv("INGEST_RESET_STATE")
	cfg.DryRun = boolEnv("DRY_RUN")

	cfg.Port = strings.TrimSpace(os.Getenv("PORT"))
	if cfg.Port == "" {
		cfg.Port = defaultListenPort
	}

	return cfg, nil
}

// RequireEntities validates that at least one entity is configured. The api
// service can run without any; the ingest service cannot.
func (c Config) RequireEntities() error {
	if len(c.EntityIDs) == 0 {
		return errors.New("ENTITY_IDS is required")
	}
	return nil
}

// ListenAddr returns the bind address for the api service.
func (c Config) ListenAddr() string {
	return ":" + c.Port
}

func parseEntityIDs(raw string) ([]int64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int64, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid entity id %q in ENTITY_IDS", p)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func boolEnv(name string) bool {
	v := strings.TrimSpace(os.Getenv(name))
	return v == "1" || strings.EqualFold(v, "true")
}
