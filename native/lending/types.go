package lending

import (
	"fmt"
	"math/big"
	"strings"

	"credlend/crypto"
)

// Config captures the singleton global lending parameters. It is created once
// at initialization and mutated only through UpdateConfig; the founding admin
// recorded here is the sole identity allowed to change it.
type Config struct {
	// FoundingAdmin is the identity recorded at initialization with exclusive
	// rights to update the configuration and add registry admins.
	FoundingAdmin crypto.Address `json:"foundingAdmin"`
	// TreasuryVault references the derived account holding pooled liquidity.
	TreasuryVault crypto.Address `json:"treasuryVault"`
	// TokenA and TokenB are the two accepted loan token symbols.
	TokenA string `json:"tokenA"`
	TokenB string `json:"tokenB"`
	// InterestRateBps is the fixed origination interest rate in basis points.
	InterestRateBps uint16 `json:"interestRateBps"`
	// MaxBorrowPctBps is the advertised borrow percentage cap in basis
	// points. The source program records it without ever consulting it at
	// origination; queries surface it unchanged.
	MaxBorrowPctBps uint16 `json:"maxBorrowPctBps"`
	// MinLoanDurationSec and MaxLoanDurationSec bound the requested loan
	// duration in Unix seconds.
	MinLoanDurationSec int64 `json:"minLoanDurationSec"`
	MaxLoanDurationSec int64 `json:"maxLoanDurationSec"`
}

// ConfigParams groups the four mutable numeric fields accepted by Initialize
// and UpdateConfig.
type ConfigParams struct {
	InterestRateBps    uint16 `json:"interestRateBps"`
	MaxBorrowPctBps    uint16 `json:"maxBorrowPctBps"`
	MinLoanDurationSec int64  `json:"minLoanDurationSec"`
	MaxLoanDurationSec int64  `json:"maxLoanDurationSec"`
}

// SupportsToken reports whether the symbol matches one of the two configured
// loan tokens.
func (c *Config) SupportsToken(token string) bool {
	if c == nil {
		return false
	}
	normalized := NormalizeToken(token)
	return normalized != "" && (normalized == c.TokenA || normalized == c.TokenB)
}

// Clone returns a deep copy of the config.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	clone := *c
	return &clone
}

// AdminEntry records a registry admin. Entries are created by the founding
// admin and consulted by the authorization policy for whitelist and treasury
// operations.
type AdminEntry struct {
	Admin  crypto.Address `json:"admin"`
	Active bool           `json:"active"`
}

// WhitelistEntry admits a user to borrow. Deleted to revoke admission.
type WhitelistEntry struct {
	User        crypto.Address `json:"user"`
	Whitelisted bool           `json:"whitelisted"`
}

// TreasuryVault is the singleton record for the pooled liquidity account. The
// balance itself lives in the ledger; the record exists so the state manager
// can mint the vault's transfer capability.
type TreasuryVault struct {
	Address crypto.Address `json:"address"`
}

// CollateralVault is the per-borrower record for locked collateral. It is
// created and destroyed together with the borrower's Loan.
type CollateralVault struct {
	Borrower crypto.Address `json:"borrower"`
	Address  crypto.Address `json:"address"`
}

// Loan captures a single fixed-term, fixed-rate loan. The record is keyed by
// the borrower identity, so at most one loan can exist per borrower.
type Loan struct {
	Borrower        crypto.Address `json:"borrower"`
	CollateralVault crypto.Address `json:"collateralVault"`
	// CollateralLocked is the amount moved into the vault at origination.
	// Liquidation seizes the vault's full balance, which may differ.
	CollateralLocked *big.Int `json:"collateralLocked"`
	Principal        *big.Int `json:"principal"`
	Token            string   `json:"token"`
	// RepaymentAmount = Principal + floor(Principal*rateBps/10000), fixed at
	// origination and never recomputed.
	RepaymentAmount *big.Int `json:"repaymentAmount"`
	// DueTime is the absolute Unix second after which the loan becomes
	// liquidatable.
	DueTime int64 `json:"dueTime"`
	Active  bool  `json:"active"`
}

// Clone returns a deep copy of the loan so callers can safely mutate the copy
// without affecting the stored instance.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	clone := *l
	if l.CollateralLocked != nil {
		clone.CollateralLocked = new(big.Int).Set(l.CollateralLocked)
	}
	if l.Principal != nil {
		clone.Principal = new(big.Int).Set(l.Principal)
	}
	if l.RepaymentAmount != nil {
		clone.RepaymentAmount = new(big.Int).Set(l.RepaymentAmount)
	}
	return &clone
}

// NormalizeToken returns the canonical uppercase form of a token symbol, or an
// empty string when blank.
func NormalizeToken(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// SanitizeConfigTokens validates the configured token pair at initialization.
func SanitizeConfigTokens(tokenA, tokenB string) (string, string, error) {
	a := NormalizeToken(tokenA)
	b := NormalizeToken(tokenB)
	if a == "" || b == "" {
		return "", "", fmt.Errorf("lending: token symbols must not be empty")
	}
	if a == b {
		return "", "", fmt.Errorf("lending: token symbols must differ")
	}
	return a, b, nil
}
