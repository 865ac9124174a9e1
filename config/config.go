package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"credlend/native/lending"
)

// Config is the node-level TOML configuration for a credlend deployment. It
// carries the storage paths, the genesis lending parameters applied on first
// boot, the authorization policy, and the module pause switches.
type Config struct {
	DataDir     string `toml:"DataDir"`
	JournalPath string `toml:"JournalPath"`

	Genesis GenesisConfig  `toml:"genesis"`
	Policy  lending.Policy `toml:"policy"`
	Pauses  PauseConfig    `toml:"pauses"`
}

// GenesisConfig seeds the protocol on an empty database. FoundingAdmin is the
// bech32 address that becomes the configuration authority.
type GenesisConfig struct {
	FoundingAdmin      string `toml:"FoundingAdmin"`
	TokenA             string `toml:"TokenA"`
	TokenB             string `toml:"TokenB"`
	InterestRateBps    uint16 `toml:"InterestRateBps"`
	MaxBorrowPctBps    uint16 `toml:"MaxBorrowPctBps"`
	MinLoanDurationSec int64  `toml:"MinLoanDurationSec"`
	MaxLoanDurationSec int64  `toml:"MaxLoanDurationSec"`
}

// PauseConfig lists modules halted at boot.
type PauseConfig struct {
	Lending bool `toml:"Lending"`
}

// IsPaused implements the pause view consulted by module operations.
func (p PauseConfig) IsPaused(module string) bool {
	switch strings.ToLower(strings.TrimSpace(module)) {
	case "lending":
		return p.Lending
	default:
		return false
	}
}

// Params converts the genesis block into engine configuration parameters.
func (g GenesisConfig) Params() lending.ConfigParams {
	return lending.ConfigParams{
		InterestRateBps:    g.InterestRateBps,
		MaxBorrowPctBps:    g.MaxBorrowPctBps,
		MinLoanDurationSec: g.MinLoanDurationSec,
		MaxLoanDurationSec: g.MaxLoanDurationSec,
	}
}

// Load reads the configuration from path, creating a default file when none
// exists yet.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}
	cfg := &Config{}
	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s contains unknown field %s", path, undecoded[0].String())
	}
	applyDefaults(cfg, path)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the static invariants that must hold before the node boots.
// The engine stores parameters as provided, so bounds are enforced here.
func (c *Config) Validate() error {
	g := c.Genesis
	if g.InterestRateBps > 10_000 {
		return fmt.Errorf("config: InterestRateBps %d exceeds 10000", g.InterestRateBps)
	}
	if g.MaxBorrowPctBps > 10_000 {
		return fmt.Errorf("config: MaxBorrowPctBps %d exceeds 10000", g.MaxBorrowPctBps)
	}
	if g.MinLoanDurationSec < 0 {
		return fmt.Errorf("config: MinLoanDurationSec must not be negative")
	}
	if g.MinLoanDurationSec > g.MaxLoanDurationSec {
		return fmt.Errorf("config: MinLoanDurationSec %d exceeds MaxLoanDurationSec %d", g.MinLoanDurationSec, g.MaxLoanDurationSec)
	}
	if _, _, err := lending.SanitizeConfigTokens(g.TokenA, g.TokenB); err != nil {
		return fmt.Errorf("config: genesis tokens: %w", err)
	}
	return nil
}

func applyDefaults(cfg *Config, path string) {
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = filepath.Join(filepath.Dir(path), "data")
	}
	if strings.TrimSpace(cfg.JournalPath) == "" {
		cfg.JournalPath = filepath.Join(cfg.DataDir, "events.db")
	}
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		Genesis: GenesisConfig{
			TokenA:             "TOKA",
			TokenB:             "TOKB",
			InterestRateBps:    500,
			MaxBorrowPctBps:    5_000,
			MinLoanDurationSec: 3_600,
			MaxLoanDurationSec: 31_536_000,
		},
		Policy: lending.DefaultPolicy(),
	}
	applyDefaults(cfg, path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
