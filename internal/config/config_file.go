package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the optional config file. YAML is expected; JSON documents parse too.
type fileConfig struct {
	URL            *string    `yaml:"url"`
	Username       *string    `yaml:"username"`
	Password       *string    `yaml:"password"`
	Address        *string    `yaml:"address"`
	LogLevel       *string    `yaml:"log_level"`
	TrustedSubnet  *string    `yaml:"trusted_subnet"`
	RequestTimeout *Duration  `yaml:"request_timeout"`
	CollectTimeout *Duration  `yaml:"collect_timeout"`
	ScrapeTimeout  *Duration  `yaml:"scrape_timeout"`
	CacheTTL       *Duration  `yaml:"cache_ttl"`
	SessionTTL     *Duration  `yaml:"session_ttl"`
	Concurrency    *int       `yaml:"concurrency"`
	RetryDelays    []Duration `yaml:"retry_delays"`
}

func loadFile(path string) (*fileConfig, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(b, &fc); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	return &fc, nil
}

// Duration accepts Go duration strings ("15s", "2m") or a plain number of seconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration: scalar expected at line %d", value.Line)
	}
	s := strings.TrimSpace(value.Value)
	if s == "" {
		*d = 0
		return nil
	}
	if sec, err := strconv.ParseFloat(s, 64); err == nil {
		*d = Duration(time.Duration(sec * float64(time.Second)))
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration: %w", err)
	}
	*d = Duration(dd)
	return nil
}

func (d Duration) ToDuration() time.Duration {
	return time.Duration(d)
}

// apply copies file values into cfg for every setting the command line did not set.
func (fc *fileConfig) apply(cfg *Config, f *flags) {
	setStr := func(dst *string, v *string, fl *strFlag) {
		if v != nil && !fl.set {
			*dst = *v
		}
	}
	setDur := func(dst *time.Duration, v *Duration, fl *durFlag) {
		if v != nil && !fl.set {
			*dst = v.ToDuration()
		}
	}

	setStr(&cfg.PanelURL, fc.URL, &f.url)
	setStr(&cfg.Username, fc.Username, &f.username)
	setStr(&cfg.Password, fc.Password, &f.password)
	setStr(&cfg.Addr, fc.Address, &f.addr)
	setStr(&cfg.LogLevel, fc.LogLevel, &f.logLevel)
	setStr(&cfg.TrustedSubnet, fc.TrustedSubnet, &f.trustedSubnet)
	setDur(&cfg.RequestTimeout, fc.RequestTimeout, &f.requestTimeout)
	setDur(&cfg.CollectTimeout, fc.CollectTimeout, &f.collectTimeout)
	setDur(&cfg.ScrapeTimeout, fc.ScrapeTimeout, &f.scrapeTimeout)
	setDur(&cfg.CacheTTL, fc.CacheTTL, &f.cacheTTL)
	setDur(&cfg.SessionTTL, fc.SessionTTL, &f.sessionTTL)

	if fc.Concurrency != nil && !f.concurrency.set {
		cfg.Concurrency = *fc.Concurrency
	}
	if fc.RetryDelays != nil && !f.retryDelays.set {
		cfg.RetryDelays = make([]time.Duration, len(fc.RetryDelays))
		for i, d := range fc.RetryDelays {
			cfg.RetryDelays[i] = d.ToDuration()
		}
	}
}
