// Package config loads pipeline configuration from .env, per-portal YAML,
// and environment variables, and validates it against the required-var
// table in SPEC_FULL.md §6.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"rentpipeline/errs"
	"rentpipeline/models"
)

type Config struct {
	DB        DBConfig
	Scoring   ScoringConfig
	Commute   CommuteConfig
	Scraper   ScraperConfig
	Scheduler SchedulerConfig
	MediaS3   MediaS3Config
	Proxy     ProxyConfig
	VPN       VPNConfig

	OutputDir          string
	SQLitePath         string
	LogLevel           string
	Headless           bool
	AutoDeleteDelisted bool

	Portals map[models.Source]*PortalConfig
}

type DBConfig struct {
	Host     string
	User     string
	Password string
	Database string
	Port     int
}

func (c DBConfig) ConnString() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s", c.User, c.Password, c.Host, c.Port, c.Database)
}

// ScoringConfig configures the LLM scoring service (C5), mirroring the
// original ScoringConfig constants (num_calls=2, scores_per_call=4).
type ScoringConfig struct {
	APIKey        string
	Endpoint      string
	ModelName     string
	NumCalls      int
	ScoresPerCall int
	MaxWorkers    int
	Temperature   float64
	MaxTokens     int
	RetryCount    int
}

func (c ScoringConfig) Enabled() bool { return c.APIKey != "" }

// CommuteConfig configures the transit/driving commute service (C6).
type CommuteConfig struct {
	APIKey       string
	Endpoint     string
	MaxWorkers   int
	RequestDelay time.Duration
}

func (c CommuteConfig) Enabled() bool { return c.APIKey != "" }

// ScraperConfig configures C1/C2 pacing and resets.
type ScraperConfig struct {
	MaxPages          int
	PageDelay         time.Duration
	RequestDelayMin   time.Duration
	RequestDelayMax   time.Duration
	RetryCount        int
	RetryDelay        time.Duration
	ProfileResetEvery int // detail fetches between profile resets, default 30

	// ProfileBaseDir holds one persistent Chromium profile directory per
	// source (§4.1); the orchestrator opens `{ProfileBaseDir}/{source}`
	// at the start of a sweep.
	ProfileBaseDir string

	// ScrapingBeeAPIKey enables the enrichment worker's JS-rendering
	// proxy fallback for properties the in-process browser driver never
	// managed to fetch a description for (§FULL-ENRICH); empty disables it.
	ScrapingBeeAPIKey string
}

type SchedulerConfig struct {
	Cron string
}

type MediaS3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

func (c MediaS3Config) Enabled() bool {
	return c.Bucket != "" && c.AccessKeyID != "" && c.SecretAccessKey != ""
}

type ProxyConfig struct {
	URL string
}

type VPNConfig struct {
	AutoConnect bool
	Region      string
}

func (c VPNConfig) Enabled() bool { return c.AutoConnect }

// PortalConfig is the per-portal YAML config: base URL template and the
// area slugs to crawl per university (TARGET_AREAS in the source system).
type PortalConfig struct {
	ID      models.Source                        `yaml:"id"`
	Name    string                                `yaml:"name"`
	BaseURL string                                `yaml:"base_url"`
	Areas   map[models.University][]string        `yaml:"areas"`
}

// SchoolCoordinates holds the canonical destination address for each
// university's commute calculations (§4.6).
var SchoolCoordinates = map[models.University]string{
	models.UniversityUNSW: "University of New South Wales, Kensington NSW 2033, Australia",
	models.UniversityUSYD: "University of Sydney, Camperdown NSW 2006, Australia",
	models.UniversityUTS:  "University of Technology Sydney, 15 Broadway, Ultimo NSW 2007, Australia",
}

// SiblingSource names, for each university, the university whose scraped
// listing set it shares (§4.8's shared-source sibling path). A university
// absent from this map has no sibling and is scraped independently.
var SiblingSource = map[models.University]models.University{
	models.UniversityUTS: models.UniversityUSYD,
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			User:     getEnv("DB_USER", "postgres"),
			Password: os.Getenv("DB_PASSWORD"),
			Database: getEnv("DB_DATABASE", "rentpipeline"),
			Port:     getEnvInt("DB_PORT", 5432),
		},
		Scoring: ScoringConfig{
			APIKey:        firstNonEmpty(os.Getenv("PROPERTY_RATING_API_KEY"), os.Getenv("DASHSCOPE_API_KEY")),
			Endpoint:      getEnv("SCORING_ENDPOINT", "https://dashscope.aliyuncs.com/api/v1/services/aigc/text-generation/generation"),
			ModelName:     getEnv("SCORING_MODEL", "qwen-plus-1220"),
			NumCalls:      getEnvInt("SCORING_NUM_CALLS", 2),
			ScoresPerCall: getEnvInt("SCORING_SCORES_PER_CALL", 4),
			MaxWorkers:    getEnvInt("SCORING_MAX_WORKERS", 2),
			Temperature:   getEnvFloat("SCORING_TEMPERATURE", 0.7),
			MaxTokens:     getEnvInt("SCORING_MAX_TOKENS", 150),
			RetryCount:    getEnvInt("SCORING_RETRY_COUNT", 3),
		},
		Commute: CommuteConfig{
			APIKey:       os.Getenv("GOOGLE_MAPS_API_KEY"),
			Endpoint:     getEnv("COMMUTE_ENDPOINT", "https://maps.googleapis.com/maps/api"),
			MaxWorkers:   getEnvInt("COMMUTE_MAX_WORKERS", 5),
			RequestDelay: getEnvDuration("COMMUTE_REQUEST_DELAY", 1100*time.Millisecond),
		},
		Scraper: ScraperConfig{
			MaxPages:          getEnvInt("SCRAPER_MAX_PAGES", 7),
			PageDelay:         getEnvDuration("SCRAPER_PAGE_DELAY", 5*time.Second),
			RequestDelayMin:   getEnvDuration("SCRAPER_REQUEST_DELAY_MIN", 3*time.Second),
			RequestDelayMax:   getEnvDuration("SCRAPER_REQUEST_DELAY_MAX", 5*time.Second),
			RetryCount:        getEnvInt("SCRAPER_RETRY_COUNT", 3),
			RetryDelay:        getEnvDuration("SCRAPER_RETRY_DELAY", 10*time.Second),
			ProfileResetEvery: getEnvInt("SCRAPER_PROFILE_RESET_EVERY", 30),
			ProfileBaseDir:    getEnv("BROWSER_PROFILE_DIR", "./browser-profiles"),
			ScrapingBeeAPIKey: os.Getenv("SCRAPINGBEE_API_KEY"),
		},
		Scheduler: SchedulerConfig{
			Cron: os.Getenv("SCRAPE_CRON"),
		},
		MediaS3: MediaS3Config{
			Bucket:          os.Getenv("MEDIA_S3_BUCKET"),
			Region:          os.Getenv("MEDIA_S3_REGION"),
			Endpoint:        os.Getenv("MEDIA_S3_ENDPOINT"),
			AccessKeyID:     os.Getenv("MEDIA_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("MEDIA_S3_SECRET_ACCESS_KEY"),
		},
		Proxy: ProxyConfig{
			URL: os.Getenv("PROXY_URL"),
		},
		VPN: VPNConfig{
			AutoConnect: getEnvBool("EXPRESSVPN_AUTO_CONNECT", false),
			Region:      getEnv("EXPRESSVPN_REGION", "smart"),
		},
		OutputDir:          getEnv("OUTPUT_DIR", "./output"),
		SQLitePath:         getEnv("SQLITE_PATH", "./rentpipeline.db"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		Headless:           getEnvBool("HEADLESS", false),
		AutoDeleteDelisted: getEnvBool("AUTO_DELETE_DELISTED", false),
		Portals:            make(map[models.Source]*PortalConfig),
	}

	if err := cfg.loadPortalConfigs(); err != nil {
		return nil, err
	}
	cfg.applyDefaultPortals()

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) loadPortalConfigs() error {
	dir := "config/portals"
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".yaml" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return err
		}
		var portal PortalConfig
		if err := yaml.Unmarshal(data, &portal); err != nil {
			return fmt.Errorf("parse %s: %w", entry.Name(), err)
		}
		c.Portals[portal.ID] = &portal
	}
	return nil
}

// applyDefaultPortals fills in the default area lists for portals not
// supplied via YAML, so the pipeline runs out of the box against the
// default target-area set (the original system's TARGET_AREAS table).
func (c *Config) applyDefaultPortals() {
	defaults := map[models.Source]*PortalConfig{
		models.SourcePortalD: {
			ID:      models.SourcePortalD,
			Name:    "Portal D",
			BaseURL: "https://www.portal-d.example.com.au",
			Areas:   defaultTargetAreas,
		},
		models.SourcePortalR: {
			ID:      models.SourcePortalR,
			Name:    "Portal R",
			BaseURL: "https://www.portal-r.example.com.au",
			Areas:   defaultTargetAreas,
		},
	}
	for source, d := range defaults {
		if _, ok := c.Portals[source]; !ok {
			c.Portals[source] = d
		}
	}
}

// defaultTargetAreas mirrors the original system's per-university suburb
// slug lists (TARGET_AREAS), used when no config/portals/*.yaml overrides
// the area list for a portal.
var defaultTargetAreas = map[models.University][]string{
	models.UniversityUNSW: {"kensington-nsw-2033", "kingsford-nsw-2032", "randwick-nsw-2031", "coogee-nsw-2034"},
	models.UniversityUSYD: {"camperdown-nsw-2050", "newtown-nsw-2042", "glebe-nsw-2037", "redfern-nsw-2016"},
	models.UniversityUTS:  {"ultimo-nsw-2007", "chippendale-nsw-2008", "haymarket-nsw-2000"},
}

func (c *Config) validate() error {
	var missing []string

	if c.DB.Password == "" && c.DB.Host != "localhost" {
		missing = append(missing, "DB_PASSWORD")
	}

	if len(missing) > 0 {
		return errs.Config(fmt.Sprintf("missing required config:\n  - %s", strings.Join(missing, "\n  - ")))
	}
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
