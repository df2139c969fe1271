// Package config loads the broker's TOML configuration.
//
// Durations (next-watch-delay, script-timeout) accept Go syntax such as
// "90s" or "1m30s" as well as number-unit sequences such as "5min",
// "2h 30m" or "1day". See ParseDuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/cloudedugcp/journald-broker/internal/rules"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultConfigDir is searched when no configuration file is given.
	DefaultConfigDir = "/etc/journald-broker.d"
	// DefaultScriptTimeout is the script timeout in seconds.
	DefaultScriptTimeout = 20
)

// ErrInvalid marks configuration that loads but cannot be used.
var ErrInvalid = errors.New("invalid configuration")

// Config represents the broker configuration.
type Config struct {
	Global Global           `mapstructure:"global"`
	Events map[string]Event `mapstructure:"events"`
}

// Global holds settings shared by all events.
type Global struct {
	// Filters are FIELD=value journal matches.
	Filters []string `mapstructure:"filters"`
	// ScriptTimeout is in seconds.
	ScriptTimeout  int    `mapstructure:"script_timeout"`
	MetricsAddress string `mapstructure:"metrics-address"`
}

// Event is one watched message pattern and its script.
type Event struct {
	Message        string        `mapstructure:"message"`
	NextWatchDelay time.Duration `mapstructure:"next-watch-delay"`
	Script         string        `mapstructure:"script"`
	// ScriptWait defaults to true; false runs the script without timeout.
	ScriptWait *bool `mapstructure:"script-wait"`
	// ScriptTimeout overrides Global.ScriptTimeout when set.
	ScriptTimeout time.Duration `mapstructure:"script-timeout"`
}

// Wait reports whether the script runs under a timeout.
func (e Event) Wait() bool {
	return e.ScriptWait == nil || *e.ScriptWait
}

// Load reads the configuration. With file set only that file is read;
// otherwise every *.toml and *.conf file in dir is merged in name order,
// later files overriding keys of earlier ones.
func Load(file, dir string) (Config, error) {
	var cfg Config

	files, err := configFiles(file, dir)
	if err != nil {
		return cfg, err
	}

	// Event names are table keys and may contain dots.
	v := viper.NewWithOptions(viper.KeyDelimiter("::"))
	v.SetConfigType("toml")
	v.SetDefault("global::script_timeout", DefaultScriptTimeout)

	for _, f := range files {
		v.SetConfigFile(f)
		if err := v.MergeInConfig(); err != nil {
			return cfg, fmt.Errorf("failed to read config file %s: %w", f, err)
		}
	}

	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		stringToDurationHook(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(&cfg, hook); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func configFiles(file, dir string) ([]string, error) {
	if file != "" {
		return []string{file}, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read config directory: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		switch filepath.Ext(entry.Name()) {
		case ".toml", ".conf":
			files = append(files, filepath.Join(dir, entry.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no *.toml or *.conf files in %s", dir)
	}
	sort.Strings(files)
	return files, nil
}

// Validate checks the values Load cannot enforce through decoding.
func (c Config) Validate() error {
	if c.Global.ScriptTimeout <= 0 {
		return fmt.Errorf("%w: global script_timeout must be positive, got %d", ErrInvalid, c.Global.ScriptTimeout)
	}
	if len(c.Events) == 0 {
		return fmt.Errorf("%w: no events configured", ErrInvalid)
	}
	for _, name := range c.EventNames() {
		event := c.Events[name]
		switch {
		case event.Message == "":
			return fmt.Errorf("%w: event %q has no message pattern", ErrInvalid, name)
		case event.Script == "":
			return fmt.Errorf("%w: event %q has no script", ErrInvalid, name)
		case event.NextWatchDelay < 0:
			return fmt.Errorf("%w: event %q has a negative next-watch-delay", ErrInvalid, name)
		case event.ScriptTimeout < 0:
			return fmt.Errorf("%w: event %q has a negative script-timeout", ErrInvalid, name)
		}
	}
	return nil
}

// EventNames returns the event names in lexical order, which is the rule
// index order.
func (c Config) EventNames() []string {
	names := make([]string, 0, len(c.Events))
	for name := range c.Events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Rules converts the events into rules, resolving script timeouts.
func (c Config) Rules() []rules.Rule {
	names := c.EventNames()
	out := make([]rules.Rule, 0, len(names))
	for _, name := range names {
		event := c.Events[name]
		var timeout time.Duration
		if event.Wait() {
			timeout = time.Duration(c.Global.ScriptTimeout) * time.Second
			if event.ScriptTimeout > 0 {
				timeout = event.ScriptTimeout
			}
		}
		out = append(out, rules.Rule{
			Name:    name,
			Pattern: event.Message,
			Delay:   event.NextWatchDelay,
			Script:  event.Script,
			Timeout: timeout,
		})
	}
	return out
}

type effectiveEvent struct {
	Name           string `yaml:"name"`
	Message        string `yaml:"message"`
	NextWatchDelay string `yaml:"next-watch-delay,omitempty"`
	Script         string `yaml:"script"`
	ScriptTimeout  string `yaml:"script-timeout,omitempty"`
}

type effectiveConfig struct {
	Filters        []string         `yaml:"filters,omitempty"`
	ScriptTimeout  int              `yaml:"script_timeout"`
	MetricsAddress string           `yaml:"metrics-address,omitempty"`
	Events         []effectiveEvent `yaml:"events"`
}

// YAML renders the configuration as the broker will use it: events in rule
// order with resolved timeouts. An empty script-timeout means the script
// is not waited for.
func (c Config) YAML() ([]byte, error) {
	eff := effectiveConfig{
		Filters:        c.Global.Filters,
		ScriptTimeout:  c.Global.ScriptTimeout,
		MetricsAddress: c.Global.MetricsAddress,
	}
	for _, rule := range c.Rules() {
		ev := effectiveEvent{Name: rule.Name, Message: rule.Pattern, Script: rule.Script}
		if rule.Delay > 0 {
			ev.NextWatchDelay = rule.Delay.String()
		}
		if rule.Timeout > 0 {
			ev.ScriptTimeout = rule.Timeout.String()
		}
		eff.Events = append(eff.Events, ev)
	}
	data, err := yaml.Marshal(eff)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal config: %w", err)
	}
	return data, nil
}
