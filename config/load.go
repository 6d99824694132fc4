package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load reads a YAML document from path on top of Default, applies
// CONSORTIUM_* environment overrides and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config load: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML document on top of Default.
func Parse(data []byte) (*Config, error) {
	c := Default()
	defaults := c.Roles.Categories
	c.Roles.Categories = nil
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("config unmarshal: %w", err)
	}
	if c.Roles.Categories == nil {
		c.Roles.Categories = defaults
	}
	applyEnvOverrides(c)
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}
	return c, nil
}

// applyEnvOverrides lets deployments change listen addresses, auth and
// logging without editing the file.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("CONSORTIUM_HTTP_ADDR"); v != "" {
		c.Node.HTTPAddr = v
	}
	if v := os.Getenv("CONSORTIUM_METRICS_ADDR"); v != "" {
		c.Node.MetricsAddr = v
	}
	if v := os.Getenv("CONSORTIUM_AUTH_ENABLED"); v != "" {
		c.Node.AuthEnabled = parseBool(v)
	}
	if v := os.Getenv("CONSORTIUM_AUTH_TOKEN"); v != "" {
		c.Node.AuthToken = v
	}
	if v := os.Getenv("CONSORTIUM_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CONSORTIUM_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("CONSORTIUM_ZMQ_ENDPOINT"); v != "" {
		c.Notify.ZmqEndpoint = v
	}
	if v := os.Getenv("CONSORTIUM_MAX_TX_PER_BLOCK"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Block.MaxTransactionsPerBlock = n
		}
	}
	if v := os.Getenv("CONSORTIUM_REQUIRE_MEMBERS"); v != "" {
		c.Transactions.RequireMembers = parseBool(v)
	}
}

func parseBool(v string) bool {
	return strings.ToLower(v) == "true" || v == "1"
}
