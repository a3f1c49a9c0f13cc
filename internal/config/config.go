package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"
)

const (
	defaultTimeout      = 2 * time.Minute
	defaultSyncInterval = 5 * time.Minute
	defaultLogLevel     = "info"
	defaultLogEnv       = "prod"
	defaultProvider     = "aws"
	defaultTagKey       = "EC2ControlsEnabled"
	defaultTagValue     = "true"
	defaultSuffix       = "-server"
	defaultMaxRetries   = 2
	defaultConcurrency  = 1
	defaultRetain       = 288
	defaultMetricsJob   = "instance_dns_sync"

	// KeyringService is the OS keyring service the DNS token is read from.
	KeyringService = "instance-dns-sync"
	keyringUser    = "cloudflare"
)

type Config struct {
	Domain       string        `yaml:"domain"`
	Timeout      time.Duration `yaml:"timeout"`
	SyncInterval time.Duration `yaml:"syncInterval"`
	Log          Log           `yaml:"log"`
	Instances    Instances     `yaml:"instances"`
	DNS          DNS           `yaml:"dns"`
	Reconcile    Reconcile     `yaml:"reconcile"`
	Backup       Backup        `yaml:"backup"`
	Metrics      Metrics       `yaml:"metrics"`
}

type Log struct {
	Level string `yaml:"level"`
	Env   string `yaml:"env"`
}

type Instances struct {
	Provider     string `yaml:"provider"`
	Region       string `yaml:"region"`
	TagKey       string `yaml:"tagKey"`
	TagValue     string `yaml:"tagValue"`
	ServerSuffix string `yaml:"serverSuffix"`
	HetznerToken string `yaml:"hetznerToken"`
}

type DNS struct {
	Token      string `yaml:"token"`
	ZoneID     string `yaml:"zoneId"`
	TTL        int    `yaml:"ttl"`
	Proxied    *bool  `yaml:"proxied"`
	MaxRetries int    `yaml:"maxRetries"`
	Keyring    bool   `yaml:"keyring"`
}

type Reconcile struct {
	DryRun      bool `yaml:"dryRun"`
	Concurrency int  `yaml:"concurrency"`
}

type Backup struct {
	Log         *bool  `yaml:"log"`
	ArchivePath string `yaml:"archivePath"`
	Retain      int    `yaml:"retain"`
}

type Metrics struct {
	Address     string `yaml:"address"`
	Pushgateway string `yaml:"pushgateway"`
	Job         string `yaml:"job"`
}

// LogBackups reports whether snapshots should be written to the log sink.
func (b Backup) LogBackups() bool {
	return b.Log == nil || *b.Log
}

// keyringGet is swapped in tests.
var keyringGet = keyring.Get

func Load(path string) (*Config, error) {
	configFile := path != ""
	if configFile {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			slog.Default().Warn("fail find config file, proceeding", "path", path)
			configFile = false
		}
	}

	var cfg Config
	if configFile {
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}

		decoder := yaml.NewDecoder(f)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			f.Close()
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if err := f.Close(); err != nil {
			slog.Default().Warn("fail close config file", "path", path, "error", err)
		}
	}

	applyDefaults(&cfg)
	applyEnv(&cfg)

	if cfg.DNS.Token == "" && cfg.DNS.Keyring {
		token, err := keyringGet(KeyringService, keyringUser)
		if err != nil {
			slog.Default().Warn("fail read dns token from keyring", "service", KeyringService, "error", err)
		} else {
			cfg.DNS.Token = token
		}
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.SyncInterval == 0 {
		cfg.SyncInterval = defaultSyncInterval
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	if cfg.Log.Env == "" {
		cfg.Log.Env = defaultLogEnv
	}
	if cfg.Instances.Provider == "" {
		cfg.Instances.Provider = defaultProvider
	}
	if cfg.Instances.TagKey == "" {
		cfg.Instances.TagKey = defaultTagKey
	}
	if cfg.Instances.TagValue == "" {
		cfg.Instances.TagValue = defaultTagValue
	}
	if cfg.Instances.ServerSuffix == "" {
		cfg.Instances.ServerSuffix = defaultSuffix
	}
	if cfg.DNS.MaxRetries == 0 {
		cfg.DNS.MaxRetries = defaultMaxRetries
	}
	if cfg.Reconcile.Concurrency == 0 {
		cfg.Reconcile.Concurrency = defaultConcurrency
	}
	if cfg.Backup.Retain == 0 {
		cfg.Backup.Retain = defaultRetain
	}
	if cfg.Metrics.Job == "" {
		cfg.Metrics.Job = defaultMetricsJob
	}
}

func applyEnv(cfg *Config) {
	// Names used by the deployment manifests of the previous tooling.
	if domain := os.Getenv("CLOUDFLARE_DOMAIN"); domain != "" {
		cfg.Domain = domain
	}
	if token := os.Getenv("CLOUDFLARE_API_TOKEN"); token != "" {
		cfg.DNS.Token = token
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.Instances.Region = region
	}
	if token := os.Getenv("HCLOUD_TOKEN"); token != "" {
		cfg.Instances.HetznerToken = token
	}

	if domain := env("DOMAIN"); domain != "" {
		cfg.Domain = domain
	}
	if token := env("CLOUDFLARE_TOKEN"); token != "" {
		cfg.DNS.Token = token
	}
	if zoneID := env("ZONE_ID"); zoneID != "" {
		cfg.DNS.ZoneID = zoneID
	}
	if timeout := env("TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			cfg.Timeout = d
		} else {
			slog.Default().Warn("fail parse timeout to duration from string", "timeout", timeout, "error", err)
		}
	}
	if interval := env("INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.SyncInterval = d
		} else {
			slog.Default().Warn("fail parse sync interval to duration from string", "interval", interval, "error", err)
		}
	}
	if p := env("PROVIDER"); p != "" {
		cfg.Instances.Provider = strings.ToLower(p)
	}
	if key := env("TAG_KEY"); key != "" {
		cfg.Instances.TagKey = key
	}
	if value := env("TAG_VALUE"); value != "" {
		cfg.Instances.TagValue = value
	}
	if ttl := env("TTL"); ttl != "" {
		if n, err := strconv.Atoi(ttl); err == nil {
			cfg.DNS.TTL = n
		} else {
			slog.Default().Warn("fail parse ttl to int from string", "ttl", ttl, "error", err)
		}
	}
	if concurrency := env("CONCURRENCY"); concurrency != "" {
		if n, err := strconv.Atoi(concurrency); err == nil {
			cfg.Reconcile.Concurrency = n
		} else {
			slog.Default().Warn("fail parse concurrency to int from string", "concurrency", concurrency, "error", err)
		}
	}
	if dryRun := env("DRYRUN"); dryRun != "" {
		switch strings.ToLower(dryRun) {
		case "true":
			cfg.Reconcile.DryRun = true
		case "false":
			cfg.Reconcile.DryRun = false
		default:
			slog.Default().Warn("fail parse dryrun to bool from string", "dryrun", dryRun)
		}
	}
	if archive := env("ARCHIVE_PATH"); archive != "" {
		cfg.Backup.ArchivePath = archive
	}
	if addr := env("METRICS_ADDRESS"); addr != "" {
		cfg.Metrics.Address = addr
	}
	if gw := env("PUSHGATEWAY"); gw != "" {
		cfg.Metrics.Pushgateway = gw
	}
	if loglevel := env("LOG_LEVEL"); loglevel != "" {
		cfg.Log.Level = loglevel
	}
	if logenv := env("LOG_ENV"); logenv != "" {
		cfg.Log.Env = logenv
	}
}

func env(name string) string {
	return os.Getenv("INSTANCE_DNS_SYNC_" + name)
}

// Validate reports configuration that would make a cycle meaningless.
func (c *Config) Validate() error {
	var errs []error
	if c.Domain == "" {
		errs = append(errs, errors.New("domain is required"))
	}
	switch c.Instances.Provider {
	case "aws", "hetzner":
	default:
		errs = append(errs, fmt.Errorf("unknown instance provider %q", c.Instances.Provider))
	}
	if c.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("timeout must be positive, got %s", c.Timeout))
	}
	if c.Reconcile.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Reconcile.Concurrency))
	}
	return errors.Join(errs...)
}
