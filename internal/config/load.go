package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Load reads gatewayctl.yaml in layers (defaults -> global ~/.modelgateway/
// -> project-local ./config/gatewayctl.yaml or ./gatewayctl.yaml -> env),
// the same precedence order the
// teacher's config.Load uses for its own config.yaml.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("gatewayctl")
	v.SetConfigType("yaml")

	globalDir := filepath.Join(os.Getenv("HOME"), ".modelgateway")
	v.AddConfigPath(globalDir)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	for _, localDir := range []string{"./config", "."} {
		localPath := filepath.Join(localDir, "gatewayctl.yaml")
		if _, err := os.Stat(localPath); err != nil {
			continue
		}
		local := viper.New()
		local.SetConfigFile(localPath)
		if err := local.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(local.AllSettings()); err != nil {
				return nil, fmt.Errorf("merge local config: %w", err)
			}
		}
		break
	}

	v.SetEnvPrefix("MODELGATEWAY")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gateway.host", "0.0.0.0")
	v.SetDefault("gateway.port", 18790)

	v.SetDefault("pool.max_per_host", 5)
	v.SetDefault("pool.max_total", 50)
	v.SetDefault("pool.keep_alive_timeout", 90*time.Second)
	v.SetDefault("pool.acquire_timeout", 30*time.Second)
	v.SetDefault("pool.reaper_interval", 30*time.Second)

	v.SetDefault("resilience.retry.max_retries", 2)
	v.SetDefault("resilience.retry.base_delay", 500*time.Millisecond)
	v.SetDefault("resilience.retry.max_delay", 30*time.Second)
	v.SetDefault("resilience.breaker.failure_threshold", 5)
	v.SetDefault("resilience.breaker.time_window", 60*time.Second)
	v.SetDefault("resilience.breaker.success_threshold", 1)
	v.SetDefault("resilience.breaker.open_timeout", 30*time.Second)

	v.SetDefault("session.data_dir", filepath.Join(os.Getenv("HOME"), ".modelgateway", "sessions"))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("log.audit.enabled", false)
	v.SetDefault("log.audit.path", filepath.Join(os.Getenv("HOME"), ".modelgateway", "audit"))
	v.SetDefault("log.audit.max_size_mb", 50)
	v.SetDefault("log.audit.max_files", 10)

	v.SetDefault("diagnostics.enabled", true)
	v.SetDefault("diagnostics.database_type", "sqlite")
	v.SetDefault("diagnostics.database_dsn", filepath.Join(os.Getenv("HOME"), ".modelgateway", "diagnostics.db"))
	v.SetDefault("diagnostics.metrics_namespace", "modelgateway")
}
