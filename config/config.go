package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"tranchebook/native/lending"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	GatewayAddress string `toml:"GatewayAddress"`
	DataDir        string `toml:"DataDir"`
	IndexPath      string `toml:"IndexPath"`
	LogFile        string `toml:"LogFile"`
	Environment    string `toml:"Environment"`
	// RPCAuthToken guards the mutating JSON-RPC methods. An empty token
	// leaves the node read-only over RPC.
	RPCAuthToken string `toml:"RPCAuthToken"`
	// AddonTreasury receives origination amounts at loan taking, hex encoded.
	AddonTreasury string `toml:"AddonTreasury"`

	Lending lending.Config `toml:"lending"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = ":8080"
	}
	if strings.TrimSpace(c.GatewayAddress) == "" {
		c.GatewayAddress = ":8081"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./tranchebook-data"
	}
	if strings.TrimSpace(c.IndexPath) == "" {
		c.IndexPath = filepath.Join(c.DataDir, "index.db")
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "local"
	}
	c.Lending.EnsureDefaults()
}

// Validate rejects parameter combinations the ledger cannot run with.
func (c *Config) Validate() error {
	if c.Lending.AccuracyUnit == 0 {
		return fmt.Errorf("lending: AccuracyUnit must be positive")
	}
	if c.Lending.SubLoanCountMax <= 0 {
		return fmt.Errorf("lending: SubLoanCountMax must be positive")
	}
	if c.Lending.SubLoanAutoIDStart == 0 {
		return fmt.Errorf("lending: SubLoanAutoIDStart must be nonzero")
	}
	if off := c.Lending.DayBoundaryOffset; off <= -86_400 || off >= 86_400 {
		return fmt.Errorf("lending: DayBoundaryOffset must stay within one day")
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8080",
		GatewayAddress: ":8081",
		DataDir:        "./tranchebook-data",
		Environment:    "local",
		Lending:        lending.DefaultConfig(),
	}
	cfg.applyDefaults()

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
