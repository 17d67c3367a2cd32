package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DefaultConfigFile      = "config.yaml"
	DefaultSubscribersFile = "subscribers.yaml"
	DefaultEnvFile         = ".env"
	DefaultLedgerBackend   = "sqlite"
	DefaultLedgerPath      = ".offerwatch/offerwatch.db"
	DefaultRedisKey        = "offerwatch:known"
	DefaultDetailPath      = "/objekt/"
	DefaultSearchMethod    = "GET"
	DefaultSearchFormat    = "html"
	DefaultFetchTimeout    = 20 * time.Second
	DefaultFetchRetries    = 3
	DefaultPollInterval    = 5 * time.Minute
	DefaultNotifyChannel   = "telegram"
	DefaultMaxAttempts     = 3
	DefaultUserAgent       = "Mozilla/5.0 (compatible; offerwatch/1.0; +https://github.com/ppiankov/offerwatch)"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "5m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	Site   SiteConfig   `yaml:"site"`
	Fetch  FetchConfig  `yaml:"fetch"`
	Poll   PollConfig   `yaml:"poll"`
	Ledger LedgerConfig `yaml:"ledger"`
	Notify NotifyConfig `yaml:"notify"`
	Status StatusConfig `yaml:"status"`

	// Dir is the directory the config was loaded from.
	Dir string `yaml:"-"`
}

type SiteConfig struct {
	BaseURL    string         `yaml:"base_url"`
	Search     SearchConfig   `yaml:"search"`
	DetailPath string         `yaml:"detail_path"`
	Categories CategoryConfig `yaml:"categories"`
	Extract    ExtractConfig  `yaml:"extract"`
}

type SearchConfig struct {
	URL     string            `yaml:"url"`
	Method  string            `yaml:"method"`
	Body    string            `yaml:"body"`
	Format  string            `yaml:"format"`
	Headers map[string]string `yaml:"headers"`
}

// CategoryConfig holds the link keywords for each category.
type CategoryConfig struct {
	Apartment []string `yaml:"apartment"`
	Office    []string `yaml:"office"`
	Parking   []string `yaml:"parking"`
}

type ExtractConfig struct {
	RentLabels       []string `yaml:"rent_labels"`
	RoomLabels       []string `yaml:"room_labels"`
	TitleSelectors   []string `yaml:"title_selectors"`
	AddressSelectors []string `yaml:"address_selectors"`
}

type FetchConfig struct {
	Timeout   Duration `yaml:"timeout"`
	Retries   int      `yaml:"retries"`
	UserAgent string   `yaml:"user_agent"`
}

type PollConfig struct {
	Interval Duration `yaml:"interval"`
}

type LedgerConfig struct {
	Backend        string `yaml:"backend"`
	Path           string `yaml:"path"`
	RedisURLEnv    string `yaml:"redis_url_env"`
	RedisKey       string `yaml:"redis_key"`
	PostgresURLEnv string `yaml:"postgres_url_env"`

	// Resolved from env vars at load time.
	RedisURL    string `yaml:"-"`
	PostgresURL string `yaml:"-"`
}

type NotifyConfig struct {
	Channel     string         `yaml:"channel"`
	Telegram    TelegramConfig `yaml:"telegram"`
	MaxAttempts int            `yaml:"max_attempts"`
}

type TelegramConfig struct {
	BotTokenEnv string `yaml:"bot_token_env"`
	APIBase     string `yaml:"api_base"`

	// Resolved from env var at load time.
	BotToken string `yaml:"-"`
}

type StatusConfig struct {
	Listen string `yaml:"listen"`
}

// Load reads config.yaml from dir, loads dir/.env if present, applies
// defaults, resolves env vars, and validates.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Dir = dir

	if err := loadEnvFile(filepath.Join(dir, DefaultEnvFile)); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)
	resolveEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// loadEnvFile loads KEY=VALUE pairs without overriding variables that are
// already set. A missing file is not an error.
func loadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Site.Search.Method == "" {
		cfg.Site.Search.Method = DefaultSearchMethod
	}
	cfg.Site.Search.Method = strings.ToUpper(cfg.Site.Search.Method)
	if cfg.Site.Search.Format == "" {
		cfg.Site.Search.Format = DefaultSearchFormat
	}
	if cfg.Site.BaseURL == "" && cfg.Site.Search.URL != "" {
		if u, err := url.Parse(cfg.Site.Search.URL); err == nil && u.Host != "" {
			cfg.Site.BaseURL = u.Scheme + "://" + u.Host
		}
	}
	if cfg.Site.DetailPath == "" {
		cfg.Site.DetailPath = DefaultDetailPath
	}
	if len(cfg.Site.Categories.Apartment) == 0 {
		cfg.Site.Categories.Apartment = []string{"wohnung"}
	}
	if len(cfg.Site.Categories.Office) == 0 {
		cfg.Site.Categories.Office = []string{"gewerbe", "buero", "büro"}
	}
	if len(cfg.Site.Categories.Parking) == 0 {
		cfg.Site.Categories.Parking = []string{"stellplatz", "stellplaetze", "garage", "parkplatz"}
	}
	if len(cfg.Site.Extract.RentLabels) == 0 {
		cfg.Site.Extract.RentLabels = []string{"Gesamtmiete", "Warmmiete"}
	}
	if len(cfg.Site.Extract.RoomLabels) == 0 {
		cfg.Site.Extract.RoomLabels = []string{"Zimmer"}
	}
	if len(cfg.Site.Extract.TitleSelectors) == 0 {
		cfg.Site.Extract.TitleSelectors = []string{"h1"}
	}
	if len(cfg.Site.Extract.AddressSelectors) == 0 {
		cfg.Site.Extract.AddressSelectors = []string{".address", "address", "[itemprop=address]"}
	}
	if cfg.Fetch.Timeout.Duration == 0 {
		cfg.Fetch.Timeout.Duration = DefaultFetchTimeout
	}
	if cfg.Fetch.Retries == 0 {
		cfg.Fetch.Retries = DefaultFetchRetries
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = DefaultUserAgent
	}
	if cfg.Poll.Interval.Duration == 0 {
		cfg.Poll.Interval.Duration = DefaultPollInterval
	}
	if cfg.Ledger.Backend == "" {
		cfg.Ledger.Backend = DefaultLedgerBackend
	}
	if cfg.Ledger.Path == "" {
		cfg.Ledger.Path = DefaultLedgerPath
	}
	if cfg.Ledger.RedisKey == "" {
		cfg.Ledger.RedisKey = DefaultRedisKey
	}
	if cfg.Notify.Channel == "" {
		cfg.Notify.Channel = DefaultNotifyChannel
	}
	if cfg.Notify.MaxAttempts == 0 {
		cfg.Notify.MaxAttempts = DefaultMaxAttempts
	}
}

func resolveEnv(cfg *Config) {
	if cfg.Ledger.RedisURLEnv != "" {
		cfg.Ledger.RedisURL = os.Getenv(cfg.Ledger.RedisURLEnv)
	}
	if cfg.Ledger.PostgresURLEnv != "" {
		cfg.Ledger.PostgresURL = os.Getenv(cfg.Ledger.PostgresURLEnv)
	}
	if cfg.Notify.Telegram.BotTokenEnv != "" {
		cfg.Notify.Telegram.BotToken = os.Getenv(cfg.Notify.Telegram.BotTokenEnv)
	}
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.Site.Search.URL) == "" {
		return errors.New("site.search.url is required")
	}
	if u, err := url.Parse(cfg.Site.Search.URL); err != nil || u.Host == "" {
		return fmt.Errorf("site.search.url: invalid URL %q", cfg.Site.Search.URL)
	}

	switch cfg.Site.Search.Method {
	case "GET", "POST":
		// valid
	default:
		return fmt.Errorf("site.search.method: unsupported method %q (want GET or POST)", cfg.Site.Search.Method)
	}

	switch cfg.Site.Search.Format {
	case "html", "feed":
		// valid
	default:
		return fmt.Errorf("site.search.format: unknown format %q (want html or feed)", cfg.Site.Search.Format)
	}

	if cfg.Fetch.Timeout.Duration < 0 {
		return errors.New("fetch.timeout: must be positive")
	}
	if cfg.Fetch.Retries < 1 {
		return fmt.Errorf("fetch.retries: must be at least 1, got %d", cfg.Fetch.Retries)
	}
	if cfg.Poll.Interval.Duration < time.Second {
		return fmt.Errorf("poll.interval: must be at least 1s, got %s", cfg.Poll.Interval.Duration)
	}

	switch cfg.Ledger.Backend {
	case "sqlite", "memory":
		// valid
	case "redis":
		if cfg.Ledger.RedisURL == "" {
			return errors.New("ledger: redis backend requires redis_url_env pointing at a set variable")
		}
	case "postgres":
		if cfg.Ledger.PostgresURL == "" {
			return errors.New("ledger: postgres backend requires postgres_url_env pointing at a set variable")
		}
	default:
		return fmt.Errorf("ledger.backend: unknown backend %q (want sqlite, redis, postgres, or memory)", cfg.Ledger.Backend)
	}

	switch cfg.Notify.Channel {
	case "telegram", "stdout":
		// valid
	default:
		return fmt.Errorf("notify.channel: unknown channel %q (want telegram or stdout)", cfg.Notify.Channel)
	}
	if cfg.Notify.MaxAttempts < 1 {
		return fmt.Errorf("notify.max_attempts: must be at least 1, got %d", cfg.Notify.MaxAttempts)
	}

	return nil
}

// SubscribersPath returns the location of subscribers.yaml next to config.yaml.
func (c *Config) SubscribersPath() string {
	return filepath.Join(c.Dir, DefaultSubscribersFile)
}
