package server

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds the server configuration.
type Config struct {
	Host      string  `mapstructure:"host"`
	Port      int     `mapstructure:"port"`
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

// Addr returns the listen address as host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ConfigFrom reads the "server" section of v.
func ConfigFrom(v *viper.Viper) Config {
	return Config{
		Host:      v.GetString("server.host"),
		Port:      v.GetInt("server.port"),
		RateLimit: v.GetFloat64("server.rate_limit"),
		RateBurst: v.GetInt("server.rate_burst"),
	}
}
