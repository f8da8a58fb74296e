package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// InitViper initializes Viper with the configuration file and environment
// variables. If configFile is empty, it searches for mintoons-quota.yaml/.yml
// in standard locations. The search requires an explicit YAML extension so
// the binary itself (same base name, no extension) is never matched.
func InitViper(configFile string) {
	if configFile != "" {
		viper.SetConfigFile(configFile)
	} else if found := findConfigFile(); found != "" {
		viper.SetConfigFile(found)
	} else {
		// No config file found in any standard location. Set name/type
		// without search paths so ReadInConfig returns
		// ConfigFileNotFoundError (handled gracefully by callers).
		viper.SetConfigName("mintoons-quota")
		viper.SetConfigType("yaml")
	}

	// Environment variable support: MINTOONS_QUOTA_SERVER_LISTEN_ADDR
	viper.SetEnvPrefix("MINTOONS_QUOTA")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	bindNestedEnvKeys()
}

// findConfigFile searches standard locations for a mintoons-quota config
// file with an explicit YAML extension (.yaml or .yml).
func findConfigFile() string {
	home, _ := os.UserHomeDir()
	paths := []string{
		".",
		filepath.Join(home, ".mintoons-quota"),
		"/etc/mintoons-quota",
	}
	for _, dir := range paths {
		for _, ext := range []string{".yaml", ".yml"} {
			path := filepath.Join(dir, "mintoons-quota"+ext)
			if _, err := os.Stat(path); err == nil {
				return path
			}
		}
	}
	return ""
}

// bindNestedEnvKeys binds nested config keys for environment variable
// support. Example: MINTOONS_QUOTA_STORE_DSN overrides store.dsn.
func bindNestedEnvKeys() {
	_ = viper.BindEnv("server.listen_addr")
	_ = viper.BindEnv("store.backend")
	_ = viper.BindEnv("store.dsn")
	_ = viper.BindEnv("store.timeout")
	_ = viper.BindEnv("store.sweep_interval")
	_ = viper.BindEnv("bypass.state_path")
	_ = viper.BindEnv("admin.key_hash")
	_ = viper.BindEnv("admin.max_requests")
	_ = viper.BindEnv("admin.window")
	_ = viper.BindEnv("dev_mode")
}
