package config

import (
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// PoolsConfig holds configuration for the pools and protocols commands.
type PoolsConfig struct {
	YieldAPI     string
	ProtocolsAPI string
	Protocol     string
	Limit        int
	Stablecoin   bool
	Chains       []string
	Projects     []string
	MinAPY       float64
	MaxAPY       float64
	MinTVL       float64
	NoILRisk     bool
	TVLFloor     float64
	APYCeiling   float64
	RatePerSec   float64
	Timeout      time.Duration
	MaxRetries   int
	RetryBackoff time.Duration
	GroupByChain bool
	LogLevel     string
}

// LoadPools merges config file, environment variables, and flags into PoolsConfig.
func LoadPools(cfgFile string, flags *pflag.FlagSet) (PoolsConfig, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("yield-api", "https://yields.llama.fi")
		v.SetDefault("protocols-api", "https://api.llama.fi")
		v.SetDefault("limit", 10)
		v.SetDefault("tvl-floor", 100000.0)
		v.SetDefault("apy-ceiling", 1000.0)
		v.SetDefault("rate", 2.0)
		v.SetDefault("timeout", 30*time.Second)
		v.SetDefault("max-retries", 3)
		v.SetDefault("retry-backoff", 500*time.Millisecond)
	})
	if err != nil {
		return PoolsConfig{}, err
	}

	cfg := PoolsConfig{
		YieldAPI:     v.GetString("yield-api"),
		ProtocolsAPI: v.GetString("protocols-api"),
		Protocol:     v.GetString("name"),
		Limit:        v.GetInt("limit"),
		Stablecoin:   v.GetBool("stable"),
		Chains:       getStringSlice(v, "chain"),
		Projects:     getStringSlice(v, "project"),
		MinAPY:       v.GetFloat64("min-apy"),
		MaxAPY:       v.GetFloat64("max-apy"),
		MinTVL:       v.GetFloat64("min-tvl"),
		NoILRisk:     v.GetBool("no-il-risk"),
		TVLFloor:     v.GetFloat64("tvl-floor"),
		APYCeiling:   v.GetFloat64("apy-ceiling"),
		RatePerSec:   v.GetFloat64("rate"),
		Timeout:      v.GetDuration("timeout"),
		MaxRetries:   v.GetInt("max-retries"),
		RetryBackoff: v.GetDuration("retry-backoff"),
		GroupByChain: v.GetBool("by-chain"),
		LogLevel:     v.GetString("log-level"),
	}

	return cfg, nil
}
