package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Probes  []ProbeConfig `mapstructure:"probes"`
	API     APIConfig     `mapstructure:"api"`
	Scan    ScanConfig    `mapstructure:"scan"`
	Source  SourceConfig  `mapstructure:"source"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ProbeConfig describes one reachable scan engine (gvmd over GMP/TLS).
type ProbeConfig struct {
	Name          string `mapstructure:"name"`
	Host          string `mapstructure:"host"`
	Port          int    `mapstructure:"port"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	Timeout       int    `mapstructure:"timeout"`
	RetryAttempts int    `mapstructure:"retry_attempts"`
	RetryDelay    int    `mapstructure:"retry_delay"`
}

type APIConfig struct {
	Host               string `mapstructure:"host"`
	Port               int    `mapstructure:"port"`
	AuthSecret         string `mapstructure:"auth_secret"`
	TokenExpiryMinutes int    `mapstructure:"token_expiry_minutes"`
}

type ScanConfig struct {
	PollInterval            int    `mapstructure:"poll_interval"`
	MaxDuration             int    `mapstructure:"max_duration"`
	CleanupAfterReport      bool   `mapstructure:"cleanup_after_report"`
	MaxConsecutiveSameProbe int    `mapstructure:"max_consecutive_same_probe"`
	GVMScanConfig           string `mapstructure:"gvm_scan_config"`
	GVMScanner              string `mapstructure:"gvm_scanner"`
	DefaultPortList         string `mapstructure:"default_port_list"`
	DBPath                  string `mapstructure:"db_path"`
}

// SourceConfig points at the upstream asset inventory. An empty URL
// disables both the target sync and the scheduler.
type SourceConfig struct {
	URL               string `mapstructure:"url"`
	AuthToken         string `mapstructure:"auth_token"`
	SyncInterval      int    `mapstructure:"sync_interval"`
	CallbackURL       string `mapstructure:"callback_url"`
	Timeout           int    `mapstructure:"timeout"`
	SchedulerInterval int    `mapstructure:"scheduler_interval"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func (a *APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

func (a *APIConfig) TokenExpiry() time.Duration {
	return time.Duration(a.TokenExpiryMinutes) * time.Minute
}

func (p *ProbeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

func (s *ScanConfig) PollEvery() time.Duration {
	return time.Duration(s.PollInterval) * time.Second
}

func (s *ScanConfig) MaxScanDuration() time.Duration {
	return time.Duration(s.MaxDuration) * time.Second
}

func (s *SourceConfig) Enabled() bool {
	return s.URL != ""
}

func (s *SourceConfig) SyncEvery() time.Duration {
	return time.Duration(s.SyncInterval) * time.Second
}

func (s *SourceConfig) ScheduleEvery() time.Duration {
	return time.Duration(s.SchedulerInterval) * time.Second
}

func (s *SourceConfig) RequestTimeout() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// Load reads config.yaml (path overridable via CONFIG_PATH), applies
// environment overrides, and validates the probe list.
//
// Priority: env vars > config.yaml > defaults.
func Load() (*Config, error) {
	v := viper.New()

	v.SetDefault("api.host", "0.0.0.0")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.auth_secret", "")
	v.SetDefault("api.token_expiry_minutes", 60)
	v.SetDefault("scan.poll_interval", 30)
	v.SetDefault("scan.max_duration", 86400)
	v.SetDefault("scan.cleanup_after_report", true)
	v.SetDefault("scan.max_consecutive_same_probe", 3)
	v.SetDefault("scan.gvm_scan_config", "Full and fast")
	v.SetDefault("scan.gvm_scanner", "OpenVAS Default")
	v.SetDefault("scan.default_port_list", "All IANA assigned TCP")
	v.SetDefault("scan.db_path", "scans.db")
	v.SetDefault("source.url", "")
	v.SetDefault("source.auth_token", "")
	v.SetDefault("source.sync_interval", 300)
	v.SetDefault("source.callback_url", "")
	v.SetDefault("source.timeout", 30)
	v.SetDefault("source.scheduler_interval", 60)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		// A missing config file is fine; everything can come from env.
		if _, statErr := os.Stat(configPath); statErr == nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyProbeDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func applyProbeDefaults(cfg *Config) {
	for i := range cfg.Probes {
		p := &cfg.Probes[i]
		if p.Port == 0 {
			p.Port = 9390
		}
		if p.Timeout == 0 {
			p.Timeout = 300
		}
		if p.RetryAttempts == 0 {
			p.RetryAttempts = 3
		}
		if p.RetryDelay == 0 {
			p.RetryDelay = 5
		}
	}
}

func (c *Config) Validate() error {
	if len(c.Probes) == 0 {
		return fmt.Errorf("at least one probe must be configured")
	}
	seen := make(map[string]bool, len(c.Probes))
	for _, p := range c.Probes {
		if p.Name == "" {
			return fmt.Errorf("probe name cannot be empty")
		}
		if p.Host == "" {
			return fmt.Errorf("probe %q: host cannot be empty", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("duplicate probe name %q", p.Name)
		}
		seen[p.Name] = true
	}
	if c.Scan.PollInterval <= 0 {
		return fmt.Errorf("scan.poll_interval must be positive")
	}
	if c.Scan.MaxDuration <= 0 {
		return fmt.Errorf("scan.max_duration must be positive")
	}
	return nil
}

// Probe returns the probe config with the given name, or nil.
func (c *Config) Probe(name string) *ProbeConfig {
	for i := range c.Probes {
		if c.Probes[i].Name == name {
			return &c.Probes[i]
		}
	}
	return nil
}
