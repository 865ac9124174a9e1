package lending

import (
	"math/big"
	"strconv"

	"credlend/core/types"
	"credlend/crypto"
)

const (
	EventTypeInitialized        = "lending.initialized"
	EventTypeConfigUpdated      = "lending.config_updated"
	EventTypeAdminAdded         = "lending.admin_added"
	EventTypeWhitelistAdded     = "lending.whitelist_added"
	EventTypeWhitelistRemoved   = "lending.whitelist_removed"
	EventTypeTreasuryDeposit    = "lending.treasury_deposit"
	EventTypeTreasuryWithdrawal = "lending.treasury_withdrawal"
	EventTypeLoanRequested      = "lending.loan_requested"
	EventTypeLoanRepaid         = "lending.loan_repaid"
	EventTypeLoanLiquidated     = "lending.loan_liquidated"
)

// NewInitializedEvent returns the canonical payload emitted once when the
// protocol is initialized.
func NewInitializedEvent(cfg *Config) *types.Event {
	attrs := map[string]string{
		"admin":              cfg.FoundingAdmin.String(),
		"treasuryVault":      cfg.TreasuryVault.String(),
		"tokenA":             cfg.TokenA,
		"tokenB":             cfg.TokenB,
		"interestRateBps":    formatUint(uint64(cfg.InterestRateBps)),
		"maxBorrowPctBps":    formatUint(uint64(cfg.MaxBorrowPctBps)),
		"minLoanDurationSec": formatInt(cfg.MinLoanDurationSec),
		"maxLoanDurationSec": formatInt(cfg.MaxLoanDurationSec),
	}
	return &types.Event{Type: EventTypeInitialized, Attributes: attrs}
}

// NewConfigUpdatedEvent returns the payload for a config update by the
// founding admin.
func NewConfigUpdatedEvent(admin crypto.Address, params ConfigParams) *types.Event {
	attrs := map[string]string{
		"admin":              admin.String(),
		"interestRateBps":    formatUint(uint64(params.InterestRateBps)),
		"maxBorrowPctBps":    formatUint(uint64(params.MaxBorrowPctBps)),
		"minLoanDurationSec": formatInt(params.MinLoanDurationSec),
		"maxLoanDurationSec": formatInt(params.MaxLoanDurationSec),
	}
	return &types.Event{Type: EventTypeConfigUpdated, Attributes: attrs}
}

// NewAdminAddedEvent returns the payload for a new registry admin.
func NewAdminAddedEvent(admin, newAdmin crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeAdminAdded, Attributes: map[string]string{
		"admin":    admin.String(),
		"newAdmin": newAdmin.String(),
	}}
}

// NewWhitelistAddedEvent returns the payload for a newly admitted user.
func NewWhitelistAddedEvent(admin, user crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeWhitelistAdded, Attributes: map[string]string{
		"admin": admin.String(),
		"user":  user.String(),
	}}
}

// NewWhitelistRemovedEvent returns the payload for a revoked admission.
func NewWhitelistRemovedEvent(admin, user crypto.Address) *types.Event {
	return &types.Event{Type: EventTypeWhitelistRemoved, Attributes: map[string]string{
		"admin": admin.String(),
		"user":  user.String(),
	}}
}

// NewTreasuryDepositEvent returns the payload for a treasury funding leg.
func NewTreasuryDepositEvent(caller, treasury crypto.Address, token string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeTreasuryDeposit, Attributes: map[string]string{
		"caller":        caller.String(),
		"treasuryVault": treasury.String(),
		"token":         token,
		"amount":        formatAmount(amount),
	}}
}

// NewTreasuryWithdrawalEvent returns the payload for a treasury withdrawal.
func NewTreasuryWithdrawalEvent(caller, treasury crypto.Address, token string, amount *big.Int) *types.Event {
	return &types.Event{Type: EventTypeTreasuryWithdrawal, Attributes: map[string]string{
		"caller":        caller.String(),
		"treasuryVault": treasury.String(),
		"token":         token,
		"amount":        formatAmount(amount),
	}}
}

// NewLoanRequestedEvent returns the payload for a loan origination.
func NewLoanRequestedEvent(loan *Loan) *types.Event {
	return &types.Event{Type: EventTypeLoanRequested, Attributes: map[string]string{
		"borrower":         loan.Borrower.String(),
		"collateralVault":  loan.CollateralVault.String(),
		"collateralAmount": formatAmount(loan.CollateralLocked),
		"loanAmount":       formatAmount(loan.Principal),
		"token":            loan.Token,
		"repaymentAmount":  formatAmount(loan.RepaymentAmount),
		"dueTime":          formatInt(loan.DueTime),
	}}
}

// NewLoanRepaidEvent returns the payload for a successful repayment,
// recording the collateral actually released from the vault.
func NewLoanRepaidEvent(loan *Loan, collateralReleased *big.Int) *types.Event {
	return &types.Event{Type: EventTypeLoanRepaid, Attributes: map[string]string{
		"borrower":           loan.Borrower.String(),
		"repaymentAmount":    formatAmount(loan.RepaymentAmount),
		"collateralReleased": formatAmount(collateralReleased),
		"token":              loan.Token,
	}}
}

// NewLoanLiquidatedEvent returns the payload for a liquidation, recording the
// full vault balance seized into the treasury.
func NewLoanLiquidatedEvent(loan *Loan, liquidator crypto.Address, seized *big.Int) *types.Event {
	return &types.Event{Type: EventTypeLoanLiquidated, Attributes: map[string]string{
		"borrower":   loan.Borrower.String(),
		"liquidator": liquidator.String(),
		"seized":     formatAmount(seized),
		"token":      loan.Token,
	}}
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatUint(v uint64) string { return strconv.FormatUint(v, 10) }

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }
