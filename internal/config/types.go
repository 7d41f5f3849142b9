package config

import "strings"

// Config is the main configuration carrier for the engine room service.
type Config struct {
	App    AppConfig    `mapstructure:"app"`
	Engine EngineConfig `mapstructure:"engine"`
	Store  StoreConfig  `mapstructure:"store"`
	Rules  RulesConfig  `mapstructure:"rules"`
}

type AppConfig struct {
	Env      string `mapstructure:"env"`
	LogLevel string `mapstructure:"log_level"`
	HTTPAddr string `mapstructure:"http_addr"`
	LogPath  string `mapstructure:"log_path"`
}

// EngineConfig tunes the evaluation pass itself.
type EngineConfig struct {
	Workers     int    `mapstructure:"workers"`
	DefaultMode string `mapstructure:"default_mode"`
}

// StoreConfig locates the two databases: run history (relational) and raw
// price snapshots (append-mostly).
type StoreConfig struct {
	RunDBPath      string `mapstructure:"run_db_path"`
	SnapshotDBPath string `mapstructure:"snapshot_db_path"`
}

// RulesConfig locates the rule-parameter file and controls hot reload.
type RulesConfig struct {
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(strings.TrimSpace(a.Env), "prod")
}
