package config

import (
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// EnvPrefix prefixes every environment variable, e.g. MEDKEEPER_SECRET_KEY.
const EnvPrefix = "MEDKEEPER"

// parseEnv overlays variables that are set; unset ones keep the current
// value.
func parseEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("config: environment: %w", err)
	}
	return nil
}
