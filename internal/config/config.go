// Package config provides the exporter configuration: defaults, then command line flags,
// then an optional config file for what the flags left unset, then environment variables.
package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the configuration settings of the exporter.
type Config struct {
	PanelURL       string          // control panel base URL
	Username       string          // panel account
	Password       string          // panel password
	Addr           string          // listen address of the metrics endpoint
	LogLevel       string          // debug, info, warn, error
	TrustedSubnet  string          // CIDR allowed to scrape, empty for everyone
	RequestTimeout time.Duration   // per panel request attempt
	CollectTimeout time.Duration   // bound of one collection cycle
	ScrapeTimeout  time.Duration   // how long a scrape waits for a running cycle
	CacheTTL       time.Duration   // snapshots younger than this are served as is
	SessionTTL     time.Duration   // login age after which the session is re-verified
	Concurrency    int             // parallel VM detail requests
	RetryDelays    []time.Duration // backoff between attempts on transient failures

	Logger *zap.SugaredLogger
}

type flags struct {
	url, username, password, addr, logLevel, trustedSubnet, file strFlag

	requestTimeout, collectTimeout, scrapeTimeout, cacheTTL, sessionTTL durFlag

	concurrency intFlag
	retryDelays durListFlag
}

// Default returns the configuration used when nothing else is given.
func Default() *Config {
	return &Config{
		PanelURL:       "https://nerdvm.racknerd.com",
		Addr:           ":9100",
		LogLevel:       "info",
		RequestTimeout: 15 * time.Second,
		CollectTimeout: 2 * time.Minute,
		ScrapeTimeout:  10 * time.Second,
		CacheTTL:       30 * time.Second,
		SessionTTL:     10 * time.Minute,
		Concurrency:    4,
		RetryDelays:    []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second},
	}
}

// NewConfig builds the configuration from args (without the program name), the config
// file and the environment, validates it and sets up the logger.
func NewConfig(args []string) (*Config, error) {
	cfg := Default()

	// 1) flags
	var f flags
	f.url.v = cfg.PanelURL
	f.addr.v = cfg.Addr
	f.logLevel.v = cfg.LogLevel
	f.requestTimeout.v = cfg.RequestTimeout
	f.collectTimeout.v = cfg.CollectTimeout
	f.scrapeTimeout.v = cfg.ScrapeTimeout
	f.cacheTTL.v = cfg.CacheTTL
	f.sessionTTL.v = cfg.SessionTTL
	f.concurrency.v = cfg.Concurrency
	f.retryDelays.v = cfg.RetryDelays

	fs := flag.NewFlagSet("racknerd-exporter", flag.ContinueOnError)
	fs.Var(&f.url, "url", "control panel URL")
	fs.Var(&f.username, "username", "control panel username")
	fs.Var(&f.password, "password", "control panel password")
	fs.Var(&f.addr, "a", "HTTP listen address")
	fs.Var(&f.logLevel, "log-level", "log level (debug, info, warn, error)")
	fs.Var(&f.trustedSubnet, "t", "trusted subnet allowed to scrape (CIDR)")
	fs.Var(&f.requestTimeout, "request-timeout", "timeout of one panel request")
	fs.Var(&f.collectTimeout, "collect-timeout", "timeout of one collection cycle")
	fs.Var(&f.scrapeTimeout, "scrape-timeout", "how long a scrape waits for a running collection")
	fs.Var(&f.cacheTTL, "cache-ttl", "reuse snapshots younger than this")
	fs.Var(&f.sessionTTL, "session-ttl", "re-verify the panel session after this long")
	fs.Var(&f.concurrency, "concurrency", "parallel VM detail requests")
	fs.Var(&f.retryDelays, "retry-delays", "comma separated backoff between retries")
	fs.Var(&f.file, "c", "path to config file (YAML or JSON)")
	fs.Var(&f.file, "config", "path to config file (alias)")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfg.PanelURL = f.url.v
	cfg.Username = f.username.v
	cfg.Password = f.password.v
	cfg.Addr = f.addr.v
	cfg.LogLevel = f.logLevel.v
	cfg.TrustedSubnet = f.trustedSubnet.v
	cfg.RequestTimeout = f.requestTimeout.v
	cfg.CollectTimeout = f.collectTimeout.v
	cfg.ScrapeTimeout = f.scrapeTimeout.v
	cfg.CacheTTL = f.cacheTTL.v
	cfg.SessionTTL = f.sessionTTL.v
	cfg.Concurrency = f.concurrency.v
	cfg.RetryDelays = f.retryDelays.v

	// 2) config file
	path := f.file.v
	if path == "" {
		path = os.Getenv("CONFIG")
	}
	if path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return nil, err
		}
		fc.apply(cfg, &f)
	}

	// 3) environment
	if err := readEnvironment(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	cfg.Logger = logger
	return cfg, nil
}

func readEnvironment(cfg *Config) error {
	var errs []error

	str := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s env var: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("RACKNERD_URL", &cfg.PanelURL)
	str("RACKNERD_USERNAME", &cfg.Username)
	str("RACKNERD_PASSWORD", &cfg.Password)
	str("ADDRESS", &cfg.Addr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("TRUSTED_SUBNET", &cfg.TrustedSubnet)
	dur("REQUEST_TIMEOUT", &cfg.RequestTimeout)
	dur("COLLECT_TIMEOUT", &cfg.CollectTimeout)
	dur("SCRAPE_TIMEOUT", &cfg.ScrapeTimeout)
	dur("CACHE_TTL", &cfg.CacheTTL)
	dur("SESSION_TTL", &cfg.SessionTTL)

	if v := os.Getenv("CONCURRENCY"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid CONCURRENCY env var: %w", err))
		} else {
			cfg.Concurrency = n
		}
	}
	if v := os.Getenv("RETRY_DELAYS"); v != "" {
		ds, err := parseDurations(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid RETRY_DELAYS env var: %w", err))
		} else {
			cfg.RetryDelays = ds
		}
	}

	return errors.Join(errs...)
}

// Validate rejects configurations the exporter cannot start with.
func (cfg *Config) Validate() error {
	var errs []error

	if cfg.PanelURL == "" {
		errs = append(errs, errors.New("panel url is required"))
	} else if u, err := url.Parse(cfg.PanelURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("panel url %q must be an absolute http(s) url", cfg.PanelURL))
	}
	if cfg.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if cfg.Password == "" {
		errs = append(errs, errors.New("password is required"))
	}
	if cfg.Addr == "" {
		errs = append(errs, errors.New("listen address is required"))
	}
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request timeout must be positive"))
	}
	if cfg.CollectTimeout <= 0 {
		errs = append(errs, errors.New("collect timeout must be positive"))
	}
	if cfg.ScrapeTimeout <= 0 {
		errs = append(errs, errors.New("scrape timeout must be positive"))
	}
	if cfg.CacheTTL < 0 {
		errs = append(errs, errors.New("cache ttl must not be negative"))
	}
	if cfg.SessionTTL <= 0 {
		errs = append(errs, errors.New("session ttl must be positive"))
	}
	if cfg.Concurrency < 1 {
		errs = append(errs, errors.New("concurrency must be at least 1"))
	}
	for _, d := range cfg.RetryDelays {
		if d < 0 {
			errs = append(errs, errors.New("retry delays must not be negative"))
			break
		}
	}
	if cfg.TrustedSubnet != "" {
		if _, _, err := net.ParseCIDR(cfg.TrustedSubnet); err != nil {
			errs = append(errs, fmt.Errorf("trusted subnet: %w", err))
		}
	}
	if _, err := zapcore.ParseLevel(cfg.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log level: %w", err))
	}

	return errors.Join(errs...)
}

// NewLogger builds the production JSON logger writing to stdout.
func NewLogger(level string) (*zap.SugaredLogger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	logCfg := zap.NewProductionConfig()
	logCfg.Level = zap.NewAtomicLevelAt(lvl)
	logCfg.OutputPaths = []string{"stdout"}
	logger, err := logCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Sugar(), nil
}
