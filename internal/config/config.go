package config

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    Server    `yaml:"server"`
	Scan      Scan      `yaml:"scan"`
	Channels  []Channel `yaml:"channels"`
	Repos     []Repo    `yaml:"repos"`
	Storage   Storage   `yaml:"storage"`
	Download  Download  `yaml:"download"`
	RateLimit RateLimit `yaml:"rate_limit"`
	Log       Log       `yaml:"log"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Scan struct {
	Interval time.Duration `yaml:"interval"`
}

// Channel associates a tag pattern with a package index and the
// credential used to upload to it. Exactly one channel is active per
// publish run; channels are matched in config order.
type Channel struct {
	Name       string `yaml:"name"`
	TagPattern string `yaml:"tag_pattern"` // glob, e.g. "v*"
	IndexURL   string `yaml:"index_url"`   // metadata base, e.g. https://pypi.org
	UploadURL  string `yaml:"upload_url"`  // legacy upload endpoint
	TokenEnv   string `yaml:"token_env"`   // env var holding the upload token
	TokenFile  string `yaml:"token_file"`  // or a file holding it
}

type Repo struct {
	Name         string `yaml:"name"`
	URL          string `yaml:"url"`
	BuildCommand string `yaml:"build_command"` // optional, run in the checkout
	DistPath     string `yaml:"dist_path"`     // where the build command leaves artifacts
}

type Storage struct {
	Path string `yaml:"path"`
}

type Download struct {
	BaseURL string `yaml:"base_url"`
}

type RateLimit struct {
	RPS   int `yaml:"rps"`
	Burst int `yaml:"burst"`
}

type Log struct {
	Level      string `yaml:"level"`       // debug, info, warn, error
	Filename   string `yaml:"filename"`    // log file path
	MaxSize    int    `yaml:"max_size"`    // megabytes
	MaxBackups int    `yaml:"max_backups"` // number of backups
	MaxAge     int    `yaml:"max_age"`     // days
	Compress   bool   `yaml:"compress"`    // compress rotated files
}

var (
	config *Config
	once   sync.Once
)

// Load loads the configuration from the default config file
func Load() (*Config, error) {
	var err error
	once.Do(func() {
		config, err = LoadFromFile("config/config.yaml")
	})
	return config, err
}

// LoadFromFile loads the configuration from the specified file
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	// Ensure storage directories exist
	if err := ensureDirs(cfg.Storage.Path); err != nil {
		return nil, err
	}
	config = cfg
	return cfg, nil
}

// Get returns the current configuration
func Get() *Config {
	return config
}

// MatchChannel returns the first channel whose tag pattern matches the
// given tag, or nil if no channel matches. First match wins, so a tag
// never selects more than one index/credential pair per run.
func (c *Config) MatchChannel(tag string) *Channel {
	for i := range c.Channels {
		ok, err := path.Match(c.Channels[i].TagPattern, tag)
		if err != nil {
			continue
		}
		if ok {
			return &c.Channels[i]
		}
	}
	return nil
}

// GetRepo returns the configured repository with the given name
func (c *Config) GetRepo(name string) *Repo {
	for i := range c.Repos {
		if c.Repos[i].Name == name {
			return &c.Repos[i]
		}
	}
	return nil
}

// Token resolves the channel's upload token from its secret source.
// The environment variable takes precedence over the token file.
func (ch *Channel) Token() (string, error) {
	if ch.TokenEnv != "" {
		if v := os.Getenv(ch.TokenEnv); v != "" {
			return v, nil
		}
	}
	if ch.TokenFile != "" {
		data, err := os.ReadFile(ch.TokenFile)
		if err != nil {
			return "", fmt.Errorf("failed to read token file: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}
	return "", fmt.Errorf("no upload token configured for channel %s", ch.Name)
}

// ensureDirs creates necessary directories if they don't exist
func ensureDirs(basePath string) error {
	dirs := []string{
		filepath.Join(basePath, "repos"),
		filepath.Join(basePath, "artifacts"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}
