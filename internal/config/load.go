package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const (
	EnvPrefix      = "ITCH_"
	ConfigPathEnv  = "ITCH_CONFIG"
	envNestingSep  = "__"
	koanfDelimiter = "."
)

// Load layers defaults, an optional YAML file and ITCH_* environment
// variables. An explicit path (argument or ITCH_CONFIG) must exist; the
// default XDG location is optional.
func Load(path string) (Config, error) {
	k := koanf.New(koanfDelimiter)

	if err := k.Load(structs.Provider(DefaultConfig(), "koanf"), nil); err != nil {
		return Config{}, fmt.Errorf("load defaults: %w", err)
	}

	configPath, required := resolveConfigPath(path)
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
				return Config{}, fmt.Errorf("load config file %s: %w", configPath, err)
			}
		} else if required || !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("stat config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, koanfDelimiter, envKey), nil); err != nil {
		return Config{}, fmt.Errorf("load environment: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func resolveConfigPath(path string) (string, bool) {
	if strings.TrimSpace(path) != "" {
		return path, true
	}
	if fromEnv := strings.TrimSpace(os.Getenv(ConfigPathEnv)); fromEnv != "" {
		return fromEnv, true
	}
	return defaultConfigFile(), false
}

// envKey maps ITCH_PAINTER__COMMAND to painter.command.
func envKey(raw string) string {
	key := strings.ToLower(strings.TrimPrefix(raw, EnvPrefix))
	if key == "config" {
		return ""
	}
	return strings.ReplaceAll(key, envNestingSep, koanfDelimiter)
}
