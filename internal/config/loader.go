package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds runtime parameters for the daemon.
// Zero values mean "unspecified" and will be replaced by defaults in main.
type Config struct {
	Addr          string `json:"addr" yaml:"addr" toml:"addr"`
	DataDir       string `json:"data_dir" yaml:"data_dir" toml:"data_dir"`
	SupervisorURL string `json:"supervisor_url" yaml:"supervisor_url" toml:"supervisor_url"`

	WorkerHost      string `json:"worker_host" yaml:"worker_host" toml:"worker_host"`
	WorkerPortBase  int    `json:"worker_port_base" yaml:"worker_port_base" toml:"worker_port_base"`
	HealthPath      string `json:"health_path" yaml:"health_path" toml:"health_path"`
	InferencePath   string `json:"inference_path" yaml:"inference_path" toml:"inference_path"`
	MaxQueueDepth   int    `json:"max_queue_depth" yaml:"max_queue_depth" toml:"max_queue_depth"`
	MaxQueueWaitSec int    `json:"max_queue_wait_sec" yaml:"max_queue_wait_sec" toml:"max_queue_wait_sec"`
	ReadyTimeoutSec int    `json:"ready_timeout_sec" yaml:"ready_timeout_sec" toml:"ready_timeout_sec"`
	DrainTimeoutSec int    `json:"drain_timeout_sec" yaml:"drain_timeout_sec" toml:"drain_timeout_sec"`

	CORSEnabled bool     `json:"cors_enabled" yaml:"cors_enabled" toml:"cors_enabled"`
	CORSOrigins []string `json:"cors_origins" yaml:"cors_origins" toml:"cors_origins"`

	LogLevel string `json:"log_level" yaml:"log_level" toml:"log_level"`
	LogJSON  bool   `json:"log_json" yaml:"log_json" toml:"log_json"`
}

var decoders = map[string]func([]byte, any) error{
	".yaml": yaml.Unmarshal,
	".yml":  yaml.Unmarshal,
	".json": json.Unmarshal,
	".toml": toml.Unmarshal,
}

// Load reads a configuration file, picking the format from the extension.
// Supports .yaml/.yml, .json and .toml.
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	ext := strings.ToLower(filepath.Ext(path))
	dec, ok := decoders[ext]
	if !ok {
		return cfg, fmt.Errorf("unsupported config extension: %s", ext)
	}
	if err := dec(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	return cfg, nil
}
