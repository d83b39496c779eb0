package registry

import (
	"os"

	lifecycle "github.com/goliatone/go-lifecycle"
	"gopkg.in/yaml.v3"
)

// ParseConfigSet attempts to parse JSON or YAML into a ConfigSet.
func ParseConfigSet(data []byte) (ConfigSet, error) {
	var cfg ConfigSet
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		// yaml can handle JSON too, so a single attempt is fine
		return cfg, lifecycle.CloneError(lifecycle.ErrBadConfig, "failed to decode kind configuration", err, nil)
	}
	return cfg, cfg.Validate()
}

// LoadFile reads and parses a kind configuration document from disk.
func LoadFile(path string) (ConfigSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ConfigSet{}, lifecycle.CloneError(
			lifecycle.ErrBadConfig,
			"failed to read kind configuration file",
			err,
			map[string]any{"path": path},
		)
	}
	return ParseConfigSet(data)
}

// Build compiles a parsed configuration into a registry.
func Build(cfg ConfigSet, guards *GuardRegistry) (*Registry, error) {
	if guards == nil {
		guards = NewGuardRegistry()
	}
	return New(cfg.Kinds, guards)
}
