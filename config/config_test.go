package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("default file must be created: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config must validate: %v", err)
	}
	if cfg.LoserStakeMultiplier != 8000 || cfg.WinnerStakeMultiplier != 2000 {
		t.Fatalf("unexpected defaults %+v", cfg)
	}

	// A second load reads the file it just wrote.
	again, err := Load(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if *again != *cfg {
		t.Fatalf("reload mismatch: %+v vs %+v", again, cfg)
	}
}

func TestLoadExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := []byte(`ListenAddress = ":9000"
DataDir = "/tmp/arb"
ArbitrationFee = 50
FeeTimeout = 120
AppealTimeout = 240
SharedStakeMultiplier = 5000
WinnerStakeMultiplier = 3000
LoserStakeMultiplier = 7000
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ListenAddress != ":9000" || cfg.ArbitrationFee != 50 || cfg.LoserStakeMultiplier != 7000 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{ArbitrationFee: 20, FeeTimeout: 600, AppealTimeout: 1200, SharedStakeMultiplier: 5000}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	cfg.ArbitrationFee = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("zero arbitration fee must be rejected")
	}
	cfg = &Config{ArbitrationFee: 20, FeeTimeout: 600, AppealTimeout: 1200}
	if err := cfg.Validate(); err == nil {
		t.Fatal("all-zero multipliers must be rejected")
	}
}
