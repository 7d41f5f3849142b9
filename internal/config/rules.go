package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"engineroom/internal/logger"
	"engineroom/internal/types"
)

// RuleChangeListener fires after the registry swaps in a new rule set.
type RuleChangeListener func(types.RuleConfig)

// RuleRegistry owns the current rule-parameter set. Each reload builds a
// complete new RuleConfig and swaps it atomically; evaluations that already
// took a snapshot keep pricing against the set they started with.
type RuleRegistry struct {
	path string
	v    *viper.Viper

	mu        sync.RWMutex
	current   types.RuleConfig
	loadedAt  time.Time
	reloads   int64
	listeners []RuleChangeListener
}

// NewRuleRegistry loads the rule file and, when watch is set, keeps it in
// sync with edits on disk. A missing file is not an error: the stock
// parameters apply until one appears.
func NewRuleRegistry(path string, watch bool) (*RuleRegistry, error) {
	r := &RuleRegistry{path: strings.TrimSpace(path)}
	if r.path == "" {
		r.current = types.DefaultRuleConfig()
		r.loadedAt = time.Now()
		return r, nil
	}
	if _, err := os.Stat(r.path); os.IsNotExist(err) {
		logger.Warnf("rule file %s not found, using default parameters", r.path)
		r.current = types.DefaultRuleConfig()
		r.loadedAt = time.Now()
		return r, nil
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	if watch {
		v := viper.New()
		v.SetConfigFile(r.path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("watch rule file failed: %w", err)
		}
		v.OnConfigChange(func(evt fsnotify.Event) {
			if err := r.reload(); err != nil {
				logger.Errorf("rule reload failed, keeping previous set: %v", err)
				return
			}
			r.notifyListeners()
		})
		v.WatchConfig()
		r.v = v
	}
	return r, nil
}

// Current returns a deep copy of the active rule set. The copy is the
// caller's to keep for a whole evaluation pass.
func (r *RuleRegistry) Current() types.RuleConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.Clone()
}

// LoadedAt reports when the active set was installed.
func (r *RuleRegistry) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loadedAt
}

// Update installs a new rule set programmatically, bypassing the file. Used
// by the config API; the file on disk is left alone.
func (r *RuleRegistry) Update(cfg types.RuleConfig) {
	r.mu.Lock()
	r.reloads++
	if cfg.Version == "" {
		cfg.Version = fmt.Sprintf("api-%d", r.reloads)
	}
	r.current = cfg.Clone()
	r.loadedAt = time.Now()
	r.mu.Unlock()
	r.notifyListeners()
}

// OnChange registers a listener. Listeners run on their own goroutines so a
// slow consumer cannot stall a reload.
func (r *RuleRegistry) OnChange(fn RuleChangeListener) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.listeners = append(r.listeners, fn)
	r.mu.Unlock()
}

func (r *RuleRegistry) reload() error {
	cfg, err := ReadRuleFile(r.path)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.reloads++
	if cfg.Version == "" {
		cfg.Version = fmt.Sprintf("%s#%d", filepath.Base(r.path), r.reloads)
	}
	r.current = cfg
	r.loadedAt = time.Now()
	r.mu.Unlock()
	logger.Infof("rule registry loaded version %s from %s", cfg.Version, filepath.Base(r.path))
	return nil
}

func (r *RuleRegistry) notifyListeners() {
	r.mu.RLock()
	cfg := r.current.Clone()
	listeners := append([]RuleChangeListener(nil), r.listeners...)
	r.mu.RUnlock()
	for _, fn := range listeners {
		go func(cb RuleChangeListener) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Errorf("rule change listener panic: %v", rec)
				}
			}()
			cb(cfg)
		}(fn)
	}
}

// ReadRuleFile parses a rule-parameter YAML file over the stock defaults, so
// a partial file only overrides what it names. Unknown struct keys are
// rejected instead of silently ignored.
func ReadRuleFile(path string) (types.RuleConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return types.RuleConfig{}, fmt.Errorf("read rule file failed: %w", err)
	}
	cfg := types.DefaultRuleConfig()
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return types.RuleConfig{}, fmt.Errorf("parse rule file failed: %w", err)
	}
	return cfg, nil
}
