package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// DefaultBlacklist lists plugins skipped unless the configuration says
// otherwise. Both bind to media backends this host does not ship.
var DefaultBlacklist = []string{"vlc-mediaplayer", "qt-mediaplayer"}

// Load reads configuration from file and environment variables.
// An explicit path must exist; otherwise stbemu.yaml is searched in
// ".", "./configs" and "/etc/stbemu", and a missing file means defaults.
// Environment variables use the STB_ prefix with dots and dashes as
// underscores: STB_SERVER_PORT=9090, STB_PLUGINS_MAG_API_PORTAL=http://...
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("stbemu")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/stbemu")
	}

	v.SetEnvPrefix("STB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}
	return v, nil
}

// SetDefaults installs every default key on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("paths.data", "./data")
	v.SetDefault("paths.plugins", "./plugins")
	v.SetDefault("paths.profiles", "./data/profiles")
	v.SetDefault("paths.config", "./data/config")
	v.SetDefault("database.path", "./data/stbemu.db")

	v.SetDefault("plugins.blacklist", DefaultBlacklist)
	v.SetDefault("plugins.threaded", false)

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8480)
	v.SetDefault("server.rate_limit", 20)
	v.SetDefault("server.rate_burst", 40)
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", "24h")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
}

// Paths are the filesystem locations the core works with.
type Paths struct {
	Plugins  string `mapstructure:"plugins"`
	Profiles string `mapstructure:"profiles"`
	Config   string `mapstructure:"config"`
	Database string `mapstructure:"-"`
}

// PathsFrom resolves the configured paths to absolute, cleaned form.
func PathsFrom(v *viper.Viper) Paths {
	return Paths{
		Plugins:  absPath(v.GetString("paths.plugins")),
		Profiles: absPath(v.GetString("paths.profiles")),
		Config:   absPath(v.GetString("paths.config")),
		Database: absPath(v.GetString("database.path")),
	}
}

// Blacklist returns plugins.blacklist, accepting either a YAML list or a
// comma-separated string (as set through STB_PLUGINS_BLACKLIST).
func Blacklist(v *viper.Viper) []string {
	var out []string
	for _, item := range v.GetStringSlice("plugins.blacklist") {
		for _, id := range strings.Split(item, ",") {
			if id = strings.TrimSpace(id); id != "" {
				out = append(out, id)
			}
		}
	}
	return out
}

func absPath(p string) string {
	if p == "" {
		return ""
	}
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return filepath.Clean(p)
}
