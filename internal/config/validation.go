package config

import (
	"fmt"
	"strings"

	"engineroom/internal/types"
)

func validate(cfg *Config) error {
	switch strings.ToLower(cfg.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("app.log_level must be one of debug/info/warn/error, got %q", cfg.App.LogLevel)
	}
	if cfg.Engine.Workers < 0 {
		return fmt.Errorf("engine.workers must not be negative")
	}
	if mode := types.RuleMode(cfg.Engine.DefaultMode); !mode.Valid() {
		return fmt.Errorf("engine.default_mode must be one of current/rule1/rule2/combined, got %q", cfg.Engine.DefaultMode)
	}
	if !strings.Contains(cfg.App.HTTPAddr, ":") {
		return fmt.Errorf("app.http_addr must be host:port, got %q", cfg.App.HTTPAddr)
	}
	return nil
}
