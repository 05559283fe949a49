package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

type Config struct {
	ListenAddress         string `toml:"ListenAddress"`
	DataDir               string `toml:"DataDir"`
	ArbitrationFee        int64  `toml:"ArbitrationFee"`
	FeeTimeout            int64  `toml:"FeeTimeout"`
	AppealTimeout         int64  `toml:"AppealTimeout"`
	SharedStakeMultiplier uint64 `toml:"SharedStakeMultiplier"`
	WinnerStakeMultiplier uint64 `toml:"WinnerStakeMultiplier"`
	LoserStakeMultiplier  uint64 `toml:"LoserStakeMultiplier"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects configurations the engines cannot run with.
func (c *Config) Validate() error {
	if c.ArbitrationFee <= 0 {
		return fmt.Errorf("config: ArbitrationFee must be positive")
	}
	if c.FeeTimeout <= 0 {
		return fmt.Errorf("config: FeeTimeout must be positive")
	}
	if c.AppealTimeout <= 0 {
		return fmt.Errorf("config: AppealTimeout must be positive")
	}
	if c.SharedStakeMultiplier == 0 && c.WinnerStakeMultiplier == 0 && c.LoserStakeMultiplier == 0 {
		return fmt.Errorf("config: stake multipliers not configured")
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:         ":8080",
		DataDir:               "./arbitrable-data",
		ArbitrationFee:        20,
		FeeTimeout:            600,
		AppealTimeout:         1200,
		SharedStakeMultiplier: 5000,
		WinnerStakeMultiplier: 2000,
		LoserStakeMultiplier:  8000,
	}

	if err := persist(path, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
