package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Grants  GrantConfig   `yaml:"grants"`
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	LogLevel       string        `yaml:"log_level"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	RateLimit      float64       `yaml:"rate_limit"` // requests per second, 0 disables
	RateBurst      int           `yaml:"rate_burst"`
}

type StorageConfig struct {
	Endpoint           string `yaml:"endpoint"`
	Region             string `yaml:"region"`
	Bucket             string `yaml:"bucket"`
	AccessKey          string `yaml:"access_key"`
	SecretKey          string `yaml:"secret_key"`
	UsePathStyle       bool   `yaml:"use_path_style"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
	CreateBucket       bool   `yaml:"create_bucket"`
}

type GrantConfig struct {
	UploadTTL          time.Duration `yaml:"upload_ttl"`
	DownloadTTL        time.Duration `yaml:"download_ttl"`
	DefaultContentType string        `yaml:"default_content_type"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:           8000,
			LogLevel:       "info",
			ReadTimeout:    30 * time.Second,
			WriteTimeout:   30 * time.Second,
			IdleTimeout:    120 * time.Second,
			RequestTimeout: 30 * time.Second,
			RateBurst:      50,
		},
		Storage: StorageConfig{
			Region:       "us-east-1",
			Bucket:       "achievements",
			UsePathStyle: true,
		},
		Grants: GrantConfig{
			UploadTTL:          time.Hour,
			DownloadTTL:        time.Hour,
			DefaultContentType: "application/octet-stream",
		},
	}
}

// Load reads a YAML file on top of the defaults. An empty path returns the
// defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path) // #nosec G304 -- operator supplied path
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields the gateway cannot start without.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Server.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("server.log_level %q invalid", c.Server.LogLevel))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, errors.New("server.rate_limit must not be negative"))
	}
	if c.Storage.Bucket == "" {
		errs = append(errs, errors.New("storage.bucket is required"))
	}
	if c.Grants.UploadTTL < time.Second {
		errs = append(errs, fmt.Errorf("grants.upload_ttl %s below 1s", c.Grants.UploadTTL))
	}
	if c.Grants.DownloadTTL < time.Second {
		errs = append(errs, fmt.Errorf("grants.download_ttl %s below 1s", c.Grants.DownloadTTL))
	}
	return errors.Join(errs...)
}
