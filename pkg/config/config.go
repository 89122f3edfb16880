// Package config provides a reusable loader for node configuration files
// and environment variables, adapted from the teacher's viper-based
// loader.
package config

import (
	"fmt"
	"net"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/substratum-mix/hopper/pkg/utils"
)

// NodeType distinguishes a standard relaying node from a bootstrap
// directory node (spec §3: "bootstrap nodes are directory-only").
type NodeType string

const (
	NodeTypeStandard  NodeType = "standard"
	NodeTypeBootstrap NodeType = "bootstrap"
)

// Config mirrors SPEC_FULL §6's config file shape.
type Config struct {
	IP              string   `mapstructure:"ip" json:"ip"`
	DNSServers      []string `mapstructure:"dns_servers" json:"dns_servers"`
	Neighbors       []string `mapstructure:"neighbors" json:"neighbors"` // node descriptors, spec §6 wire format
	WalletAddress   string   `mapstructure:"wallet_address" json:"wallet_address"`
	NodeType        NodeType `mapstructure:"node_type" json:"node_type"`
	ClandestinePort uint16   `mapstructure:"clandestine_port" json:"clandestine_port"`
	LogLevel        string   `mapstructure:"log_level" json:"log_level"`
	DataDirectory   string   `mapstructure:"data_directory" json:"data_directory"`
}

// Validate checks the fields Load cannot verify via mapstructure alone.
func (c *Config) Validate() error {
	if net.ParseIP(c.IP) == nil {
		return fmt.Errorf("config: invalid ip %q", c.IP)
	}
	if c.ClandestinePort == 0 {
		return fmt.Errorf("config: clandestine_port must be nonzero")
	}
	if c.NodeType != NodeTypeStandard && c.NodeType != NodeTypeBootstrap {
		return fmt.Errorf("config: node_type must be %q or %q, got %q", NodeTypeStandard, NodeTypeBootstrap, c.NodeType)
	}
	if c.DataDirectory == "" {
		return fmt.Errorf("config: data_directory must be set")
	}
	return nil
}

// IsBootstrap reports whether this config configures a bootstrap node.
func (c *Config) IsBootstrap() bool { return c.NodeType == NodeTypeBootstrap }

// Load reads the node's YAML configuration file (optionally overridden by
// environment-name suffix) plus a .env file for secrets/overrides, exactly
// as the teacher's Load does, but against this package's Config shape.
func Load(env string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, utils.Wrap(err, "load .env")
	}

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.AddConfigPath(".")
	viper.SetConfigType("yaml")
	viper.SetDefault("node_type", string(NodeTypeStandard))
	viper.SetDefault("clandestine_port", 4578)
	viper.SetDefault("log_level", "info")
	viper.SetDefault("data_directory", "./data")

	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}
	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}
	viper.AutomaticEnv()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromEnv loads configuration using the HOPPER_ENV environment
// variable to select an overlay file, mirroring the teacher's
// SYNN_ENV-driven LoadFromEnv.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("HOPPER_ENV", ""))
}
