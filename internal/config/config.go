package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults are the resource caps applied to every playground container.
type Defaults struct {
	CPULimit   float64 `yaml:"cpu_limit"`
	MemLimitMB int     `yaml:"mem_limit_mb"`
	PidsLimit  int     `yaml:"pids_limit"`
}

type WsConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	PublicURL string `yaml:"public_url"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// PlaygroundConfig governs the session runtime and its websocket gateway.
type PlaygroundConfig struct {
	Enabled           bool   `yaml:"enabled"`
	RequireAdmin      bool   `yaml:"require_admin"`
	EnforceSameOrigin bool   `yaml:"enforce_same_origin"`
	RuntimeMode       string `yaml:"runtime_mode"` // "docker" or "mock"
	DockerHost        string `yaml:"docker_host"`  // engine endpoint, empty = from env

	Ws WsConfig `yaml:"ws"`

	CreateRatePerMinute    int `yaml:"create_rate_per_minute"`
	TerminateRatePerMinute int `yaml:"terminate_rate_per_minute"`

	CommandTimeoutMs      int `yaml:"command_timeout_ms"`
	MaxOutputBytes        int `yaml:"max_output_bytes"`
	MaxCommandsPerSession int `yaml:"max_commands_per_session"`
	CommandRateWindowMs   int `yaml:"command_rate_window_ms"`
	MaxCommandsPerWindow  int `yaml:"max_commands_per_window"`
}

type Config struct {
	Listen        string `yaml:"listen"`
	AdminToken    string `yaml:"admin_token"`
	AllowedOrigin string `yaml:"allowed_origin"`
	DBPath        string `yaml:"db_path"`

	Redis      RedisConfig      `yaml:"redis"`
	Playground PlaygroundConfig `yaml:"playground"`
	Defaults   Defaults         `yaml:"defaults"`
}

// Default returns the built-in configuration before file and
// environment overrides.
func Default() *Config {
	return &Config{
		Listen: "127.0.0.1:8080",
		DBPath: "./playground.db",
		Redis: RedisConfig{
			Prefix: "playgroundd",
		},
		Playground: PlaygroundConfig{
			Enabled:     true,
			RuntimeMode: "docker",
			Ws: WsConfig{
				Host: "0.0.0.0",
				Port: 24680,
				Path: "/playground/ws",
			},
			CreateRatePerMinute:    6,
			TerminateRatePerMinute: 30,
			CommandTimeoutMs:       20000,
			MaxOutputBytes:         64000,
			MaxCommandsPerSession:  120,
			CommandRateWindowMs:    10000,
			MaxCommandsPerWindow:   10,
		},
		Defaults: Defaults{
			CPULimit:   1.0,
			MemLimitMB: 512,
			PidsLimit:  256,
		},
	}
}

func Load(yamlPath string) (*Config, error) {
	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, err
			}
		} else if !os.IsNotExist(err) {
			return nil, err
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func validate(cfg *Config) error {
	pg := &cfg.Playground
	if pg.RuntimeMode != "docker" && pg.RuntimeMode != "mock" {
		return fmt.Errorf("invalid runtime mode: %q", pg.RuntimeMode)
	}
	// Floors mirror the original runtime's minimums.
	if pg.CommandTimeoutMs < 1000 {
		pg.CommandTimeoutMs = 1000
	}
	if pg.MaxOutputBytes < 4096 {
		pg.MaxOutputBytes = 4096
	}
	if pg.MaxCommandsPerSession < 1 {
		pg.MaxCommandsPerSession = 1
	}
	if pg.CommandRateWindowMs < 1000 {
		pg.CommandRateWindowMs = 1000
	}
	if pg.MaxCommandsPerWindow < 1 {
		pg.MaxCommandsPerWindow = 1
	}
	if !strings.HasPrefix(pg.Ws.Path, "/") {
		pg.Ws.Path = "/" + pg.Ws.Path
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PLAYGROUND_LISTEN"); v != "" {
		cfg.Listen = v
	}
	if v := os.Getenv("PLAYGROUND_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("PLAYGROUND_ALLOWED_ORIGIN"); v != "" {
		cfg.AllowedOrigin = v
	}
	if v := os.Getenv("PLAYGROUND_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("PLAYGROUND_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("PLAYGROUND_REDIS_PREFIX"); v != "" {
		cfg.Redis.Prefix = v
	}

	pg := &cfg.Playground
	setBool(&pg.Enabled, "PLAYGROUND_ENABLED")
	setBool(&pg.RequireAdmin, "PLAYGROUND_REQUIRE_ADMIN")
	setBool(&pg.EnforceSameOrigin, "PLAYGROUND_ENFORCE_SAME_ORIGIN")
	if v := os.Getenv("PLAYGROUND_RUNTIME_MODE"); v != "" {
		pg.RuntimeMode = strings.ToLower(strings.TrimSpace(v))
	}
	if v := os.Getenv("PLAYGROUND_DOCKER_HOST"); v != "" {
		pg.DockerHost = v
	}
	if v := os.Getenv("PLAYGROUND_WS_HOST"); v != "" {
		pg.Ws.Host = v
	}
	setInt(&pg.Ws.Port, "PLAYGROUND_WS_PORT")
	if v := os.Getenv("PLAYGROUND_WS_PATH"); v != "" {
		pg.Ws.Path = v
	}
	if v := os.Getenv("PLAYGROUND_WS_PUBLIC_URL"); v != "" {
		pg.Ws.PublicURL = v
	}
	setInt(&pg.CreateRatePerMinute, "PLAYGROUND_CREATE_RATE_PER_MINUTE")
	setInt(&pg.TerminateRatePerMinute, "PLAYGROUND_TERMINATE_RATE_PER_MINUTE")
	setInt(&pg.CommandTimeoutMs, "PLAYGROUND_COMMAND_TIMEOUT_MS")
	setInt(&pg.MaxOutputBytes, "PLAYGROUND_MAX_OUTPUT_BYTES")
	setInt(&pg.MaxCommandsPerSession, "PLAYGROUND_MAX_COMMANDS_PER_SESSION")
	setInt(&pg.CommandRateWindowMs, "PLAYGROUND_COMMAND_RATE_WINDOW_MS")
	setInt(&pg.MaxCommandsPerWindow, "PLAYGROUND_MAX_COMMANDS_PER_WINDOW")

	if v := os.Getenv("PLAYGROUND_CPU_LIMIT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Defaults.CPULimit = f
		}
	}
	setInt(&cfg.Defaults.MemLimitMB, "PLAYGROUND_MEM_LIMIT_MB")
	setInt(&cfg.Defaults.PidsLimit, "PLAYGROUND_PIDS_LIMIT")
}

func setBool(dst *bool, name string) {
	v := os.Getenv(name)
	if v == "" {
		return
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		*dst = true
	case "0", "false", "no", "off":
		*dst = false
	}
}

func setInt(dst *int, name string) {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
