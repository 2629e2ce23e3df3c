// Package config loads the change request service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/niczy/changerequest/internal/approval"
	"github.com/niczy/changerequest/internal/logging"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "CHANGEREQUEST_"

// Storage backends.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendS3     = "s3"
)

// Config is the complete service configuration.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Logging  logging.Config `koanf:"logging"`
	Storage  StorageConfig  `koanf:"storage"`
	Approval ApprovalConfig `koanf:"approval"`
	Auth     AuthConfig     `koanf:"auth"`
	Events   EventsConfig   `koanf:"events"`
}

// ServerConfig configures the listeners.
type ServerConfig struct {
	GRPCAddr        string        `koanf:"grpc_addr"`
	MetricsAddr     string        `koanf:"metrics_addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

// StorageConfig selects where change requests and documents live.
type StorageConfig struct {
	// Backend is memory or redis.
	Backend       string `koanf:"backend"`
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	KeyPrefix     string `koanf:"key_prefix"`

	// Archive is memory or s3.
	Archive     string `koanf:"archive"`
	S3Bucket    string `koanf:"s3_bucket"`
	S3Prefix    string `koanf:"s3_prefix"`
	S3Region    string `koanf:"s3_region"`
	S3Endpoint  string `koanf:"s3_endpoint"`
	S3AccessKey string `koanf:"s3_access_key"`
	S3SecretKey string `koanf:"s3_secret_key"`
}

// ApprovalConfig selects the merge approval strategy.
type ApprovalConfig struct {
	Strategy     string `koanf:"strategy"`
	MinApprovals int    `koanf:"min_approvals"`
}

// AuthConfig lists users with elevated rights.
type AuthConfig struct {
	Admins            []string `koanf:"admins"`
	Mergers           []string `koanf:"mergers"`
	Reviewers         []string `koanf:"reviewers"`
	AllowAuthorReview bool     `koanf:"allow_author_review"`
}

// EventsConfig configures notifications. An empty NATSURL disables them.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix"`
}

// Load reads the YAML file at path, if any, then applies environment
// overrides.
//
// Environment variables drop the prefix and split on the first underscore:
//
//	CHANGEREQUEST_STORAGE_REDIS_ADDR -> storage.redis_addr
//	CHANGEREQUEST_AUTH_ADMINS=alice,bob -> auth.admins
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Server.GRPCAddr == "" {
		cfg.Server.GRPCAddr = ":50053"
	}
	if cfg.Server.MetricsAddr == "" {
		cfg.Server.MetricsAddr = ":9090"
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = BackendMemory
	}
	if cfg.Storage.RedisAddr == "" {
		cfg.Storage.RedisAddr = "localhost:6379"
	}
	if cfg.Storage.KeyPrefix == "" {
		cfg.Storage.KeyPrefix = "changerequest"
	}
	if cfg.Storage.Archive == "" {
		cfg.Storage.Archive = BackendMemory
	}
	if cfg.Approval.Strategy == "" {
		cfg.Approval.Strategy = approval.OnlyApproved
	}
	if cfg.Approval.MinApprovals == 0 {
		cfg.Approval.MinApprovals = 1
	}
	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "changerequest"
	}

	cfg.Auth.Admins = splitList(cfg.Auth.Admins)
	cfg.Auth.Mergers = splitList(cfg.Auth.Mergers)
	cfg.Auth.Reviewers = splitList(cfg.Auth.Reviewers)
}

// splitList expands comma separated entries coming from the environment.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	var errs []error

	if err := c.Logging.Validate(); err != nil {
		errs = append(errs, err)
	}

	switch c.Storage.Backend {
	case BackendMemory, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	switch c.Storage.Archive {
	case BackendMemory:
	case BackendS3:
		if c.Storage.S3Bucket == "" {
			errs = append(errs, errors.New("storage.s3_bucket is required for the s3 archive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage archive %q", c.Storage.Archive))
	}

	if _, err := approval.New(c.Approval.Strategy, c.Approval.MinApprovals); err != nil {
		errs = append(errs, err)
	}

	if c.Server.ShutdownTimeout < 0 {
		errs = append(errs, errors.New("server.shutdown_timeout must not be negative"))
	}

	return errors.Join(errs...)
}
