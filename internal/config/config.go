package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	GitHub         GitHubConfig         `mapstructure:"github"`
	Hetzner        HetznerConfig        `mapstructure:"hetzner"`
	SSH            SSHConfig            `mapstructure:"ssh"`
	Scaling        ScalingConfig        `mapstructure:"scaling"`
	Standby        []StandbySpec        `mapstructure:"standby"`
	Scripts        ScriptsConfig        `mapstructure:"scripts"`
	Server         ServerConfig         `mapstructure:"server"`
	Store          StoreConfig          `mapstructure:"store"`
	LeaderElection LeaderElectionConfig `mapstructure:"leader_election"`
	LogLevel       string               `mapstructure:"log_level"`
	Debug          bool                 `mapstructure:"debug"`
}

type GitHubConfig struct {
	Token          string        `mapstructure:"token"`
	Repository     string        `mapstructure:"repository"`
	RunnerGroup    string        `mapstructure:"runner_group"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type HetznerConfig struct {
	Token             string `mapstructure:"token"`
	SSHKey            string `mapstructure:"ssh_key"`
	DefaultServerType string `mapstructure:"default_server_type"`
	DefaultLocation   string `mapstructure:"default_location"`
	DefaultImage      string `mapstructure:"default_image"`
}

type SSHConfig struct {
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	User           string        `mapstructure:"user"`
	WaitTimeout    time.Duration `mapstructure:"wait_timeout"`
}

type ScalingConfig struct {
	Interval           time.Duration      `mapstructure:"interval"`
	Workers            int                `mapstructure:"workers"`
	MaxServers         int                `mapstructure:"max_servers"`
	MaxServersPerRun   int                `mapstructure:"max_servers_per_run"`
	ServerReadyTimeout time.Duration      `mapstructure:"server_ready_timeout"`
	Recycle            bool               `mapstructure:"recycle"`
	ServerPrices       map[string]float64 `mapstructure:"server_prices"`
	WithLabels         []string           `mapstructure:"with_labels"`
}

// StandbySpec describes one warm pool of pre-provisioned servers. Labels
// select which servers count toward the pool; Count is the desired size.
type StandbySpec struct {
	Labels               []string `mapstructure:"labels"`
	Count                int      `mapstructure:"count"`
	ReplenishImmediately bool     `mapstructure:"replenish_immediately"`
}

type ScriptsConfig struct {
	Dir string `mapstructure:"dir"`
}

type ServerConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	Address      string        `mapstructure:"address"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	APIKey       string        `mapstructure:"api_key"`
	EnableAuth   bool          `mapstructure:"enable_auth"`
}

type StoreConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Path      string `mapstructure:"path"`
	MaxEvents int    `mapstructure:"max_events"`
}

type LeaderElectionConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	LockFilePath string        `mapstructure:"lock_file_path"`
	RetryPeriod  time.Duration `mapstructure:"retry_period"`
}

// Load reads configuration from environment variables and optional config file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Environment variables
	v.SetEnvPrefix("FLOTILLA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Config file (optional)
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	// GitHub defaults. Empty defaults keep the keys visible to AutomaticEnv.
	v.SetDefault("github.token", "")
	v.SetDefault("github.repository", "")
	v.SetDefault("github.runner_group", "")
	v.SetDefault("github.request_timeout", 30*time.Second)

	// Hetzner defaults
	v.SetDefault("hetzner.token", "")
	v.SetDefault("hetzner.ssh_key", "")
	v.SetDefault("hetzner.default_server_type", "cx22")
	v.SetDefault("hetzner.default_location", "")
	v.SetDefault("hetzner.default_image", "ubuntu-22.04")

	// SSH defaults
	v.SetDefault("ssh.private_key_path", "")
	v.SetDefault("ssh.user", "ubuntu")
	v.SetDefault("ssh.wait_timeout", 60*time.Second)

	// Scaling defaults
	v.SetDefault("scaling.interval", 15*time.Second)
	v.SetDefault("scaling.workers", 10)
	v.SetDefault("scaling.max_servers", 10)
	v.SetDefault("scaling.max_servers_per_run", 0)
	v.SetDefault("scaling.server_ready_timeout", 60*time.Second)
	v.SetDefault("scaling.recycle", true)
	v.SetDefault("scaling.with_labels", []string{})

	// Scripts defaults
	v.SetDefault("scripts.dir", "")

	// Status server defaults
	v.SetDefault("server.enabled", false)
	v.SetDefault("server.address", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.enable_auth", false)

	// Store defaults
	v.SetDefault("store.enabled", false)
	v.SetDefault("store.path", "/tmp/flotilla-events.json")
	v.SetDefault("store.max_events", 1000)

	// Leader election defaults
	v.SetDefault("leader_election.enabled", false)
	v.SetDefault("leader_election.lock_file_path", "/tmp/flotilla-leader.lock")
	v.SetDefault("leader_election.retry_period", 2*time.Second)

	// General defaults
	v.SetDefault("log_level", "info")
	v.SetDefault("debug", false)
}

func (c *Config) Validate() error {
	// GitHub validation
	if c.GitHub.Token == "" {
		return fmt.Errorf("github.token is required")
	}
	if c.GitHub.Repository == "" {
		return fmt.Errorf("github.repository is required")
	}
	if !strings.Contains(c.GitHub.Repository, "/") {
		return fmt.Errorf("github.repository must be in owner/name form")
	}
	if c.GitHub.RequestTimeout <= 0 {
		return fmt.Errorf("github.request_timeout must be > 0")
	}

	// Hetzner validation
	if c.Hetzner.Token == "" {
		return fmt.Errorf("hetzner.token is required")
	}
	if c.Hetzner.SSHKey == "" {
		return fmt.Errorf("hetzner.ssh_key is required")
	}
	if c.Hetzner.DefaultServerType == "" {
		return fmt.Errorf("hetzner.default_server_type is required")
	}
	if c.Hetzner.DefaultImage == "" {
		return fmt.Errorf("hetzner.default_image is required")
	}

	// SSH validation
	if c.SSH.PrivateKeyPath == "" {
		return fmt.Errorf("ssh.private_key_path is required")
	}
	if c.SSH.User == "" {
		return fmt.Errorf("ssh.user is required")
	}
	if c.SSH.WaitTimeout <= 0 {
		return fmt.Errorf("ssh.wait_timeout must be > 0")
	}

	// Scaling validation
	if c.Scaling.Interval <= 0 {
		return fmt.Errorf("scaling.interval must be > 0")
	}
	if c.Scaling.Workers < 1 {
		return fmt.Errorf("scaling.workers must be >= 1")
	}
	if c.Scaling.MaxServers < 0 {
		return fmt.Errorf("scaling.max_servers must be >= 0")
	}
	if c.Scaling.MaxServersPerRun < 0 {
		return fmt.Errorf("scaling.max_servers_per_run must be >= 0")
	}
	if c.Scaling.ServerReadyTimeout <= 0 {
		return fmt.Errorf("scaling.server_ready_timeout must be > 0")
	}
	for serverType, price := range c.Scaling.ServerPrices {
		if price < 0 {
			return fmt.Errorf("scaling.server_prices[%s] must be >= 0", serverType)
		}
	}

	// Standby validation
	for i, spec := range c.Standby {
		if len(spec.Labels) == 0 {
			return fmt.Errorf("standby[%d].labels must not be empty", i)
		}
		if spec.Count < 0 {
			return fmt.Errorf("standby[%d].count must be >= 0", i)
		}
	}

	// Status server validation
	if c.Server.Enabled {
		if c.Server.Port < 1 || c.Server.Port > 65535 {
			return fmt.Errorf("server.port must be between 1 and 65535")
		}
		if c.Server.EnableAuth && c.Server.APIKey == "" {
			return fmt.Errorf("server.api_key is required when server.enable_auth is true")
		}
	}

	// Store validation
	if c.Store.Enabled {
		if c.Store.Path == "" {
			return fmt.Errorf("store.path is required when store.enabled is true")
		}
		if c.Store.MaxEvents < 1 {
			return fmt.Errorf("store.max_events must be >= 1")
		}
	}

	// Leader election validation
	if c.LeaderElection.Enabled {
		if c.LeaderElection.LockFilePath == "" {
			return fmt.Errorf("leader_election.lock_file_path is required when enabled")
		}
		if c.LeaderElection.RetryPeriod <= 0 {
			return fmt.Errorf("leader_election.retry_period must be > 0")
		}
	}

	return nil
}

// Owner returns the owner half of github.repository.
func (c *GitHubConfig) Owner() string {
	owner, _, _ := strings.Cut(c.Repository, "/")
	return owner
}

// RepoName returns the repository half of github.repository.
func (c *GitHubConfig) RepoName() string {
	_, name, _ := strings.Cut(c.Repository, "/")
	return name
}
