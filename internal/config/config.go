package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default values
const (
	DefaultManifest      = "pyproject.toml"
	DefaultRemote        = "origin"
	DefaultAuthorName    = "github-actions[bot]"
	DefaultAuthorEmail   = "github-actions[bot]@users.noreply.github.com"
	DefaultCommitMessage = "Update version to {version}"
	DefaultEventType     = "release"
	DefaultServerAddr    = ":8080"
	DefaultServerPath    = "/webhook"
	DefaultMetricsPath   = "/metrics"
	DefaultReadTimeout   = 10 * time.Second
	DefaultQueueSize     = 16
	DefaultLogLevel      = "info"
	DefaultLogFormat     = "pretty"

	// EnvPrefix namespaces environment overrides, e.g. PROPAGATOR_REPO_PATH
	EnvPrefix = "PROPAGATOR"

	redacted = "********"
)

// Config represents the application configuration
type Config struct {
	Repo       RepoConfig       `mapstructure:"repo" yaml:"repo"`
	Git        GitConfig        `mapstructure:"git" yaml:"git"`
	Commit     CommitConfig     `mapstructure:"commit" yaml:"commit"`
	Downstream DownstreamConfig `mapstructure:"downstream" yaml:"downstream"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// RepoConfig locates the working tree and its manifest
type RepoConfig struct {
	Path     string `mapstructure:"path" yaml:"path"`
	Manifest string `mapstructure:"manifest" yaml:"manifest"`
	Branch   string `mapstructure:"branch" yaml:"branch"`
	CloneURL string `mapstructure:"clone_url" yaml:"clone_url"`
}

// GitConfig contains commit identity and push settings
type GitConfig struct {
	Remote      string     `mapstructure:"remote" yaml:"remote"`
	AuthorName  string     `mapstructure:"author_name" yaml:"author_name"`
	AuthorEmail string     `mapstructure:"author_email" yaml:"author_email"`
	Auth        AuthConfig `mapstructure:"auth" yaml:"auth"`
}

// AuthConfig selects how git talks to the remote
type AuthConfig struct {
	Type     string `mapstructure:"type" yaml:"type"`
	Token    string `mapstructure:"token" yaml:"token"`
	Username string `mapstructure:"username" yaml:"username"`
	Password string `mapstructure:"password" yaml:"password"`
	KeyPath  string `mapstructure:"key_path" yaml:"key_path"`
}

// CommitConfig contains the commit message template
type CommitConfig struct {
	Message string `mapstructure:"message" yaml:"message"`
}

// DownstreamConfig names the repository notified after a release
type DownstreamConfig struct {
	Repository string `mapstructure:"repository" yaml:"repository"`
	Token      string `mapstructure:"token" yaml:"token"`
	EventType  string `mapstructure:"event_type" yaml:"event_type"`
	APIURL     string `mapstructure:"api_url" yaml:"api_url"`
}

// ServerConfig contains webhook listener settings
type ServerConfig struct {
	Addr        string        `mapstructure:"addr" yaml:"addr"`
	Path        string        `mapstructure:"path" yaml:"path"`
	Secret      string        `mapstructure:"secret" yaml:"secret"`
	MetricsPath string        `mapstructure:"metrics_path" yaml:"metrics_path"`
	ReadTimeout time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	QueueSize   int           `mapstructure:"queue_size" yaml:"queue_size"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load loads configuration from file, environment, and defaults
// Uses the global viper instance to access CLI flag bindings
func Load(configFile string) (*Config, error) {
	return LoadWithViper(viper.GetViper(), configFile)
}

// LoadWithViper loads configuration into the given viper instance
func LoadWithViper(v *viper.Viper, configFile string) (*Config, error) {
	setDefaults(v)

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("propagator")
		v.SetConfigType("yaml")
		v.AddConfigPath(ConfigDir())
		v.AddConfigPath(".")
	}

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	// Environment variables (PROPAGATOR_*)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults sets default values in viper
func setDefaults(v *viper.Viper) {
	v.SetDefault("repo.path", ".")
	v.SetDefault("repo.manifest", DefaultManifest)
	v.SetDefault("repo.branch", "")
	v.SetDefault("repo.clone_url", "")

	v.SetDefault("git.remote", DefaultRemote)
	v.SetDefault("git.author_name", DefaultAuthorName)
	v.SetDefault("git.author_email", DefaultAuthorEmail)
	v.SetDefault("git.auth.type", "none")
	v.SetDefault("git.auth.token", "")
	v.SetDefault("git.auth.username", "")
	v.SetDefault("git.auth.password", "")
	v.SetDefault("git.auth.key_path", "")

	v.SetDefault("commit.message", DefaultCommitMessage)

	v.SetDefault("downstream.repository", "")
	v.SetDefault("downstream.token", "")
	v.SetDefault("downstream.event_type", DefaultEventType)
	v.SetDefault("downstream.api_url", "")

	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.path", DefaultServerPath)
	v.SetDefault("server.secret", "")
	v.SetDefault("server.metrics_path", DefaultMetricsPath)
	v.SetDefault("server.read_timeout", DefaultReadTimeout)
	v.SetDefault("server.queue_size", DefaultQueueSize)

	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	switch c.Git.Auth.Type {
	case "", "none", "token", "ssh":
	case "basic":
		if c.Git.Auth.Username == "" || c.Git.Auth.Password == "" {
			return fmt.Errorf("git.auth.type basic requires git.auth.username and git.auth.password")
		}
	default:
		return fmt.Errorf("git.auth.type must be one of none, token, basic, ssh (got %q)", c.Git.Auth.Type)
	}
	switch c.Logging.Format {
	case "pretty", "json":
	default:
		return fmt.Errorf("logging.format must be pretty or json (got %q)", c.Logging.Format)
	}
	if !strings.HasPrefix(c.Server.Path, "/") {
		return fmt.Errorf("server.path must start with / (got %q)", c.Server.Path)
	}
	if !strings.HasPrefix(c.Server.MetricsPath, "/") {
		return fmt.Errorf("server.metrics_path must start with / (got %q)", c.Server.MetricsPath)
	}
	if c.Server.QueueSize <= 0 {
		return fmt.Errorf("server.queue_size must be positive")
	}
	if c.Downstream.Repository != "" {
		if _, err := ParseRepositoryString(c.Downstream.Repository); err != nil {
			return fmt.Errorf("downstream.repository: %w", err)
		}
	}
	return nil
}

// CommitMessage renders the commit message template for version
func (c *Config) CommitMessage(version string) string {
	tmpl := c.Commit.Message
	if tmpl == "" {
		tmpl = DefaultCommitMessage
	}
	return strings.ReplaceAll(tmpl, "{version}", version)
}

// Redacted returns a copy with every secret masked
func (c Config) Redacted() Config {
	if c.Git.Auth.Token != "" {
		c.Git.Auth.Token = redacted
	}
	if c.Git.Auth.Password != "" {
		c.Git.Auth.Password = redacted
	}
	if c.Downstream.Token != "" {
		c.Downstream.Token = redacted
	}
	if c.Server.Secret != "" {
		c.Server.Secret = redacted
	}
	return c
}

// ConfigDir returns the per-user configuration directory
func ConfigDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(os.Getenv("HOME"), ".config", "release-propagator")
	}
	return filepath.Join(dir, "release-propagator")
}
