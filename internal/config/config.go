// Package config loads the server configuration: a versioned YAML
// file, then environment overrides for the values that differ per
// deployment. Parse first, validate after, fail loudly.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentlease/leaseguard/pkg/typeddata"
)

type Config struct {
	Version    int    `yaml:"version"`
	ListenAddr string `yaml:"listen_addr"`

	Allowlist  string `yaml:"allowlist"`
	Entrypoint string `yaml:"entrypoint"`

	Authz AuthzConfig `yaml:"authz"`

	// PostgresDSN empty means in-memory stores.
	PostgresDSN string `yaml:"postgres_dsn"`
	// RedisAddr empty means in-memory plugin state.
	RedisAddr string `yaml:"redis_addr"`

	Kafka KafkaConfig `yaml:"kafka"`

	Signing SigningConfig `yaml:"signing"`
}

type AuthzConfig struct {
	ModelPath  string `yaml:"model"`
	PolicyPath string `yaml:"policy"`
	Mode       string `yaml:"mode"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// SigningConfig pins the permit signing domain. Changing any field
// invalidates every outstanding permit.
type SigningConfig struct {
	Name              string `yaml:"name"`
	Version           string `yaml:"version"`
	ChainID           uint64 `yaml:"chain_id"`
	VerifyingContract string `yaml:"verifying_contract"`
}

func (s SigningConfig) Domain() typeddata.Domain {
	return typeddata.Domain{
		Name:              s.Name,
		Version:           s.Version,
		ChainID:           s.ChainID,
		VerifyingContract: s.VerifyingContract,
	}
}

func Parse(b []byte) (Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return Config{}, err
	}
	if c.Version != 1 {
		return Config{}, fmt.Errorf("config: unsupported version %d", c.Version)
	}
	applyEnv(&c)
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

func applyEnv(c *Config) {
	if v := os.Getenv("LEASEGUARD_LISTEN_ADDR"); v != "" {
		c.ListenAddr = v
	}
	if v := os.Getenv("LEASEGUARD_PG_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("LEASEGUARD_REDIS_ADDR"); v != "" {
		c.RedisAddr = v
	}
	if v := os.Getenv("AUTHZ_ENFORCEMENT_MODE"); v != "" {
		c.Authz.Mode = v
	}
}

func (c Config) validate() error {
	if c.ListenAddr == "" {
		return errors.New("config: listen_addr is required")
	}
	if c.Allowlist == "" {
		return errors.New("config: allowlist path is required")
	}
	if c.Entrypoint == "" {
		return errors.New("config: entrypoint is required")
	}
	if c.Authz.ModelPath == "" || c.Authz.PolicyPath == "" {
		return errors.New("config: authz model and policy are required")
	}
	if c.Signing.Name == "" || c.Signing.Version == "" {
		return errors.New("config: signing domain name and version are required")
	}
	if c.Signing.ChainID == 0 {
		return errors.New("config: signing chain_id is required")
	}
	if c.Signing.VerifyingContract == "" {
		return errors.New("config: signing verifying_contract is required")
	}
	if len(c.Kafka.Brokers) > 0 && c.Kafka.Topic == "" {
		return errors.New("config: kafka topic is required when brokers are set")
	}
	return nil
}
