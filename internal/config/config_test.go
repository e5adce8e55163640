package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != 1 {
		t.Fatalf("expected chain 1, got %d", cfg.ChainID)
	}
	if cfg.Slippage != 1 {
		t.Fatalf("expected slippage 1, got %v", cfg.Slippage)
	}
	if cfg.PollInterval != 2*time.Second {
		t.Fatalf("expected 2s poll interval, got %s", cfg.PollInterval)
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("expected info log level, got %q", cfg.LogLevel)
	}
}

func TestLoadEnvAndFlags(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TRACKER_CHAIN_ID", "137")
	t.Setenv("TRACKER_NETWORK_RPC", "10=https://mainnet.optimism.io, 137=https://polygon-rpc.com")

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Float64("slippage", 1, "")
	if err := flags.Parse([]string{"--slippage=0.5"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load("", flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChainID != 137 {
		t.Fatalf("expected chain 137 from env, got %d", cfg.ChainID)
	}
	if cfg.Slippage != 0.5 {
		t.Fatalf("expected slippage 0.5 from flag, got %v", cfg.Slippage)
	}
	if cfg.NetworkRPC[10] != "https://mainnet.optimism.io" || cfg.NetworkRPC[137] != "https://polygon-rpc.com" {
		t.Fatalf("unexpected network rpc map: %v", cfg.NetworkRPC)
	}
}

func TestLoadRejectsSlippage(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("TRACKER_SLIPPAGE", "75")

	if _, err := Load("", nil); err == nil {
		t.Fatalf("expected slippage error")
	}
}

func TestLoadPoolsFromFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	path := filepath.Join(dir, "tracker.yaml")
	content := "limit: 25\nchain: [Ethereum, Arbitrum]\nstable: true\nmin-apy: 3.5\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadPools(path, nil)
	if err != nil {
		t.Fatalf("load pools: %v", err)
	}
	if cfg.Limit != 25 || !cfg.Stablecoin || cfg.MinAPY != 3.5 {
		t.Fatalf("unexpected pools config: %+v", cfg)
	}
	if len(cfg.Chains) != 2 || cfg.Chains[1] != "Arbitrum" {
		t.Fatalf("unexpected chains: %v", cfg.Chains)
	}
	if cfg.TVLFloor != 100000 || cfg.APYCeiling != 1000 {
		t.Fatalf("unexpected ranking defaults: %+v", cfg)
	}
	if cfg.ProtocolsAPI != "https://api.llama.fi" || cfg.Protocol != "" {
		t.Fatalf("unexpected protocols defaults: %+v", cfg)
	}
}

func TestLoadServeDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := LoadServe("", nil)
	if err != nil {
		t.Fatalf("load serve: %v", err)
	}
	if cfg.Listen != ":3000" || cfg.TokenTTL != 10*time.Minute {
		t.Fatalf("unexpected serve config: %+v", cfg)
	}
}

func TestParseStringMap(t *testing.T) {
	got := parseStringMap("a=1, b = 2,broken,=x,c=")
	if len(got) != 2 || got["a"] != "1" || got["b"] != "2" {
		t.Fatalf("unexpected map: %v", got)
	}
}
