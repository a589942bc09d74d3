package main

import (
	"fmt"
	"io/ioutil"
	"time"

	"gopkg.in/yaml.v2"
)

// Config is the on-disk acceptor daemon configuration. Decoding it is an
// explicit cmd/-boundary concern; the core packages never parse YAML
// themselves.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	AdminAddr  string `yaml:"admin_addr"`

	Workers int `yaml:"workers"`

	PingIntervalSeconds int `yaml:"ping_interval_seconds"`
	PingFailureThreshold int `yaml:"ping_failure_threshold"`

	CleanupIntervalSeconds int      `yaml:"cleanup_interval_seconds"`
	HTTPHeaderNames        []string `yaml:"http_header_names"`
	ClusterIDHeader        string   `yaml:"cluster_id_header"`
	ProxyHostSuffix        string   `yaml:"proxy_host_suffix"`

	LogSyslog bool `yaml:"log_syslog"`
}

func (c *Config) pingInterval() time.Duration {
	return time.Duration(c.PingIntervalSeconds) * time.Second
}

func (c *Config) cleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}

func loadConfig(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("revtund: read config %s: %w", path, err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("revtund: parse config %s: %w", path, err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		ListenAddr:             "0.0.0.0:9443",
		AdminAddr:              "127.0.0.1:9444",
		Workers:                4,
		PingIntervalSeconds:    30,
		PingFailureThreshold:   3,
		CleanupIntervalSeconds: 60,
		ProxyHostSuffix:        "tcpproxy.envoy.remote",
	}
}
