package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// ServeConfig holds configuration for the proxy server.
type ServeConfig struct {
	Listen        string
	AggregatorURL string
	TokenTTL      time.Duration
	RatePerSec    float64
	Burst         int
	Timeout       time.Duration
	LogLevel      string
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("listen", ":3000")
		v.SetDefault("aggregator-url", "https://api.1inch.io/v5.0")
		v.SetDefault("token-ttl", 10*time.Minute)
		v.SetDefault("rate", 5.0)
		v.SetDefault("burst", 1)
		v.SetDefault("timeout", 30*time.Second)
	})
	if err != nil {
		return ServeConfig{}, err
	}

	cfg := ServeConfig{
		Listen:        v.GetString("listen"),
		AggregatorURL: v.GetString("aggregator-url"),
		TokenTTL:      v.GetDuration("token-ttl"),
		RatePerSec:    v.GetFloat64("rate"),
		Burst:         v.GetInt("burst"),
		Timeout:       v.GetDuration("timeout"),
		LogLevel:      v.GetString("log-level"),
	}

	return cfg, nil
}
