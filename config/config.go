package config

import (
	"flag"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr      = ":8724"
	defaultHoldingsFile    = "data/portfolio.yaml"
	defaultRefreshInterval = 900 * time.Second
	defaultPriceTTL        = 300 * time.Second
	defaultMaxRetries      = 2
)

// Config is the runtime configuration. A refresh interval of zero disables
// the periodic price refresh; on-demand refresh stays available.
type Config struct {
	ListenAddr      string
	HoldingsFile    string
	RefreshInterval time.Duration
	PriceTTL        time.Duration
	MaxRetries      int
	ProxyURL        string
}

type configYaml struct {
	ListenAddr             string `yaml:"listen_addr,omitempty"`
	HoldingsFile           string `yaml:"holdings_file,omitempty"`
	RefreshIntervalSeconds *int   `yaml:"refresh_interval_seconds,omitempty"`
	PriceTTLSeconds        *int   `yaml:"price_ttl_seconds,omitempty"`
	MaxRetries             *int   `yaml:"max_retries,omitempty"`
	ProxyURL               string `yaml:"proxy_url,omitempty"`
}

// Get builds the configuration from CLI flags, optionally layered over a
// YAML config file given via --config.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	listenAddr := flag.String("listen", defaultListenAddr, "HTTP listen address")
	holdingsFile := flag.String("holdings", defaultHoldingsFile, "path to the YAML holdings file")
	refreshInterval := flag.Duration("refreshinterval", defaultRefreshInterval, "periodic price refresh interval, 0 disables")
	priceTTL := flag.Duration("pricettl", defaultPriceTTL, "price cache TTL")
	maxRetries := flag.Int("maxretries", defaultMaxRetries, "max provider retries per fetch")
	proxyURL := flag.String("proxy", os.Getenv("FOLIO_PROXY"), "optional proxy URL for provider requests")

	flag.Parse()

	cfg := Config{
		ListenAddr:      *listenAddr,
		HoldingsFile:    *holdingsFile,
		RefreshInterval: *refreshInterval,
		PriceTTL:        *priceTTL,
		MaxRetries:      *maxRetries,
		ProxyURL:        *proxyURL,
	}

	if *configPath != "" {
		layered, err := applyYaml(cfg, *configPath)
		if err != nil {
			return Config{}, err
		}
		cfg = layered
	}

	return cfg, cfg.validate()
}

func applyYaml(cfg Config, path string) (Config, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config file %s", path)
	}

	var raw configYaml
	if err := yaml.Unmarshal(payload, &raw); err != nil {
		return Config{}, errors.Wrapf(err, "parse config file %s", path)
	}

	if raw.ListenAddr != "" {
		cfg.ListenAddr = raw.ListenAddr
	}
	if raw.HoldingsFile != "" {
		cfg.HoldingsFile = raw.HoldingsFile
	}
	if raw.RefreshIntervalSeconds != nil {
		cfg.RefreshInterval = time.Duration(*raw.RefreshIntervalSeconds) * time.Second
	}
	if raw.PriceTTLSeconds != nil {
		cfg.PriceTTL = time.Duration(*raw.PriceTTLSeconds) * time.Second
	}
	if raw.MaxRetries != nil {
		cfg.MaxRetries = *raw.MaxRetries
	}
	if raw.ProxyURL != "" {
		cfg.ProxyURL = raw.ProxyURL
	}

	return cfg, nil
}

func (c Config) validate() error {
	if c.HoldingsFile == "" {
		return errors.New("holdings file path must not be empty")
	}
	if c.RefreshInterval < 0 {
		return errors.Errorf("refresh interval must not be negative, got %s", c.RefreshInterval)
	}
	if c.PriceTTL <= 0 {
		return errors.Errorf("price TTL must be positive, got %s", c.PriceTTL)
	}
	if c.MaxRetries < 0 {
		return errors.Errorf("max retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}
