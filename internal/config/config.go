package config

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const envPrefix = "TRACKER"

// Config holds the wallet, aggregator and journal settings shared by the
// quote, swap and watch commands.
type Config struct {
	ProxyURL     string
	WalletRPC    string
	WalletKind   string
	NodeRPC      string
	ChainID      uint64
	FromToken    string
	ToToken      string
	Amount       string
	Slippage     float64
	NetworkRPC   map[uint64]string
	PollInterval time.Duration
	MaxPolls     int
	Journal      string
	Timeout      time.Duration
	LogLevel     string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags, func(v *viper.Viper) {
		v.SetDefault("proxy-url", "http://localhost:3000")
		v.SetDefault("wallet-kind", "metamask")
		v.SetDefault("chain-id", uint64(1))
		v.SetDefault("slippage", 1.0)
		v.SetDefault("poll-interval", 2*time.Second)
		v.SetDefault("max-polls", 0)
		v.SetDefault("journal", "./data/swaps.jsonl")
		v.SetDefault("timeout", 30*time.Second)
	})
	if err != nil {
		return Config{}, err
	}

	networkRPC, err := getChainMap(v, "network-rpc")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		ProxyURL:     v.GetString("proxy-url"),
		WalletRPC:    v.GetString("wallet-rpc"),
		WalletKind:   v.GetString("wallet-kind"),
		NodeRPC:      v.GetString("node-rpc"),
		ChainID:      v.GetUint64("chain-id"),
		FromToken:    v.GetString("from"),
		ToToken:      v.GetString("to"),
		Amount:       v.GetString("amount"),
		Slippage:     v.GetFloat64("slippage"),
		NetworkRPC:   networkRPC,
		PollInterval: v.GetDuration("poll-interval"),
		MaxPolls:     v.GetInt("max-polls"),
		Journal:      v.GetString("journal"),
		Timeout:      v.GetDuration("timeout"),
		LogLevel:     v.GetString("log-level"),
	}
	if cfg.Slippage <= 0 || cfg.Slippage > 50 {
		return Config{}, fmt.Errorf("slippage must be in (0, 50], got %v", cfg.Slippage)
	}
	return cfg, nil
}

var dotenvOnce sync.Once

// newViper layers .env, environment, flags and the config file over the
// defaults set by apply.
func newViper(cfgFile string, flags *pflag.FlagSet, apply func(v *viper.Viper)) (*viper.Viper, error) {
	dotenvOnce.Do(func() { _ = godotenv.Load() })

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("log-level", "info")
	if apply != nil {
		apply(v)
	}

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

// getChainMap reads "chainID=value" pairs, either as a map from the config
// file or a comma separated string from flags and env.
func getChainMap(v *viper.Viper, key string) (map[uint64]string, error) {
	raw := map[string]string{}
	if v.IsSet(key) {
		switch typed := v.Get(key).(type) {
		case map[string]string:
			raw = typed
		case map[string]interface{}:
			for k, val := range typed {
				raw[k] = fmt.Sprintf("%v", val)
			}
		case string:
			raw = parseStringMap(typed)
		case []string:
			raw = parseStringMap(strings.Join(typed, ","))
		}
	}

	out := make(map[uint64]string, len(raw))
	for k, val := range raw {
		chainID, err := strconv.ParseUint(strings.TrimSpace(k), 10, 64)
		if err != nil || chainID == 0 {
			return nil, fmt.Errorf("%s: invalid chain id %q", key, k)
		}
		out[chainID] = val
	}
	return out, nil
}

func parseStringMap(input string) map[string]string {
	out := make(map[string]string)
	if strings.TrimSpace(input) == "" {
		return out
	}
	pairs := strings.Split(input, ",")
	for _, pair := range pairs {
		parts := strings.SplitN(pair, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])
		if key == "" || value == "" {
			continue
		}
		out[key] = value
	}
	return out
}
