package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"
)

const (
	defaultSourceBaseURL = "https://raw.githubusercontent.com/CSSEGISandData/COVID-19/master/csse_covid_19_data"
	defaultBoundariesURL = "https://raw.githubusercontent.com/datasets/geo-countries/master/data/countries.geojson"

	maxFetchWorkers = 16
	maxFetchRetries = 10
)

// Config holds all service settings, populated from environment variables.
type Config struct {
	HTTPAddr        string
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// Upstream sources.
	SourceBaseURL          string
	BoundariesURL          string
	BoundariesNameProperty string
	StatesURL              string // empty uses the embedded directory

	// Fetch behavior.
	FetchTimeout time.Duration
	FetchRetries int
	FetchWorkers int

	// Caching and refresh.
	RecentCacheTTL  time.Duration
	CacheCapacity   int
	RefreshInterval time.Duration
	PrefetchStates  bool

	// Optional snapshot sink; disabled when KafkaBrokers is empty.
	KafkaBrokers   []string
	KafkaSinkTopic string
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fetchTimeout, err := parsePositiveDuration("FETCH_TIMEOUT", "15s")
	if err != nil {
		return nil, err
	}
	recentTTL, err := parsePositiveDuration("RECENT_CACHE_TTL", "15m")
	if err != nil {
		return nil, err
	}
	refreshInterval, err := parsePositiveDuration("REFRESH_INTERVAL", "1h")
	if err != nil {
		return nil, err
	}

	fetchRetries, err := parseBoundedInt("FETCH_RETRIES", 3, 1, maxFetchRetries)
	if err != nil {
		return nil, err
	}
	fetchWorkers, err := parseBoundedInt("FETCH_WORKERS", 8, 1, maxFetchWorkers)
	if err != nil {
		return nil, err
	}
	cacheCapacity, err := parseBoundedInt("CACHE_CAPACITY", 256, 1, 1<<20)
	if err != nil {
		return nil, err
	}

	var brokers []string
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		brokers = sharedcfg.ParseBrokers(v)
	}

	cfg := &Config{
		HTTPAddr:        sharedcfg.EnvOrDefault("HTTP_ADDR", ":8080"),
		LogLevel:        sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:       sharedcfg.EnvOrDefault("LOG_FORMAT", "json"),
		ShutdownTimeout: shutdownTimeout,

		SourceBaseURL:          sharedcfg.EnvOrDefault("SOURCE_BASE_URL", defaultSourceBaseURL),
		BoundariesURL:          sharedcfg.EnvOrDefault("BOUNDARIES_URL", defaultBoundariesURL),
		BoundariesNameProperty: sharedcfg.EnvOrDefault("BOUNDARIES_NAME_PROPERTY", "ADMIN"),
		StatesURL:              os.Getenv("STATES_URL"),

		FetchTimeout: fetchTimeout,
		FetchRetries: fetchRetries,
		FetchWorkers: fetchWorkers,

		RecentCacheTTL:  recentTTL,
		CacheCapacity:   cacheCapacity,
		RefreshInterval: refreshInterval,
		PrefetchStates:  os.Getenv("PREFETCH_STATES") == "true",

		KafkaBrokers:   brokers,
		KafkaSinkTopic: sharedcfg.EnvOrDefault("KAFKA_SINK_TOPIC", "covid-series-snapshots"),
	}

	if err := validateURL("SOURCE_BASE_URL", cfg.SourceBaseURL); err != nil {
		return nil, err
	}
	if err := validateURL("BOUNDARIES_URL", cfg.BoundariesURL); err != nil {
		return nil, err
	}
	if cfg.StatesURL != "" {
		if err := validateURL("STATES_URL", cfg.StatesURL); err != nil {
			return nil, err
		}
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaSinkTopic == "" {
		return nil, errors.New("KAFKA_SINK_TOPIC is required when KAFKA_BROKERS is set")
	}

	return cfg, nil
}

// KafkaEnabled reports whether snapshots should be published.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

func parsePositiveDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(sharedcfg.EnvOrDefault(key, def))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s", key)
	}
	return d, nil
}

func parseBoundedInt(key string, def, lo, hi int) (int, error) {
	s := os.Getenv(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("invalid %s: must be an integer between %d and %d", key, lo, hi)
	}
	return n, nil
}

func validateURL(key, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("invalid %s: %q is not an http(s) URL", key, raw)
	}
	return nil
}
