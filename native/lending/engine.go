package lending

import (
	"math/big"
	"time"

	"credlend/core/events"
	"credlend/core/types"
	"credlend/crypto"
	nativecommon "credlend/native/common"
)

var basisPoints = big.NewInt(10_000)

const moduleName = "lending"

// Seeds used when deriving the protocol's vault addresses. The derived
// accounts have no private key; their transfer capability is minted by the
// state manager.
var (
	treasurySeed   = []byte("credlend/treasury")
	collateralSeed = []byte("credlend/collateral")
)

// TransferAuthority authorizes a transfer out of a specific account. User
// transfers carry a signer authority for the already-verified caller; vault
// transfers carry a capability minted by the state manager for the vault's
// derived address.
type TransferAuthority interface {
	AuthorizedAccount() crypto.Address
}

type signerAuthority struct {
	addr crypto.Address
}

func (s signerAuthority) AuthorizedAccount() crypto.Address { return s.addr }

// SignerAuthority wraps a transport-verified caller identity as a transfer
// authority for that caller's own account.
func SignerAuthority(addr crypto.Address) TransferAuthority {
	return signerAuthority{addr: addr}
}

// Ledger is the external transfer executor. Implementations must reject
// transfers whose authority does not cover the debited account and surface
// insufficient balances without pre-checks.
type Ledger interface {
	Transfer(from, to crypto.Address, token string, amount *big.Int, authority TransferAuthority) error
	NativeTransfer(from, to crypto.Address, amount *big.Int, authority TransferAuthority) error
	TokenBalance(addr crypto.Address, token string) (*big.Int, error)
}

type engineState interface {
	Config() (*Config, error)
	PutConfig(*Config) error
	TreasuryVault() (*TreasuryVault, error)
	PutTreasuryVault(*TreasuryVault) error
	Admin(addr crypto.Address) (*AdminEntry, error)
	PutAdmin(*AdminEntry) error
	WhitelistEntry(addr crypto.Address) (*WhitelistEntry, error)
	PutWhitelistEntry(*WhitelistEntry) error
	DeleteWhitelistEntry(addr crypto.Address) error
	Loan(addr crypto.Address) (*Loan, error)
	PutLoan(*Loan) error
	DeleteLoan(addr crypto.Address) error
	CollateralVault(addr crypto.Address) (*CollateralVault, error)
	PutCollateralVault(*CollateralVault) error
	DeleteCollateralVault(addr crypto.Address) error
	VaultAuthority(addr crypto.Address) (TransferAuthority, error)
}

type lendingEvent struct {
	evt *types.Event
}

// Engine orchestrates the lending/treasury state machine: configuration,
// admin and whitelist gating, treasury funding, and the per-borrower loan
// lifecycle NoLoan -> Active -> {Repaid, Liquidated} -> NoLoan.
type Engine struct {
	state   engineState
	ledger  Ledger
	emitter events.Emitter
	policy  Policy
	pauses  nativecommon.PauseView
	nowFn   func() int64
}

// NewEngine creates a lending engine with the strict default policy and a
// no-op emitter. Callers wire state, ledger and emitter before use.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		policy:  DefaultPolicy(),
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine to the external record store.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetLedger wires the engine to the external transfer executor.
func (e *Engine) SetLedger(ledger Ledger) { e.ledger = ledger }

// SetPolicy configures the authorization policy applied to whitelist and
// treasury operations.
func (e *Engine) SetPolicy(policy Policy) {
	if e == nil {
		return
	}
	e.policy = policy
}

// SetPauses wires the module pause switches consulted at the start of every
// operation.
func (e *Engine) SetPauses(p nativecommon.PauseView) {
	if e == nil {
		return
	}
	e.pauses = p
}

// SetNowFunc overrides the clock oracle used by the engine. Primarily
// intended for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Initialize creates the singleton Config and the TreasuryVault record. The
// numeric parameters are stored as provided; bounds are enforced on the
// static configuration file, not at this layer.
func (e *Engine) Initialize(admin crypto.Address, tokenA, tokenB string, params ConfigParams) (*Config, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	existing, err := e.state.Config()
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrAlreadyInitialized
	}
	a, b, err := SanitizeConfigTokens(tokenA, tokenB)
	if err != nil {
		return nil, err
	}

	treasury := &TreasuryVault{Address: crypto.DeriveVaultAddress(treasurySeed)}
	if err := e.state.PutTreasuryVault(treasury); err != nil {
		return nil, err
	}

	cfg := &Config{
		FoundingAdmin:      admin,
		TreasuryVault:      treasury.Address,
		TokenA:             a,
		TokenB:             b,
		InterestRateBps:    params.InterestRateBps,
		MaxBorrowPctBps:    params.MaxBorrowPctBps,
		MinLoanDurationSec: params.MinLoanDurationSec,
		MaxLoanDurationSec: params.MaxLoanDurationSec,
	}
	if err := e.state.PutConfig(cfg); err != nil {
		return nil, err
	}

	e.emit(NewInitializedEvent(cfg))
	return cfg.Clone(), nil
}

// UpdateConfig overwrites the four numeric parameters atomically. Only the
// founding admin recorded in the config may call it; AdminEntry records never
// gate this operation.
func (e *Engine) UpdateConfig(caller crypto.Address, params ConfigParams) (*Config, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.FoundingAdmin.Equal(caller) {
		return nil, ErrUnauthorized
	}

	cfg.InterestRateBps = params.InterestRateBps
	cfg.MaxBorrowPctBps = params.MaxBorrowPctBps
	cfg.MinLoanDurationSec = params.MinLoanDurationSec
	cfg.MaxLoanDurationSec = params.MaxLoanDurationSec
	if err := e.state.PutConfig(cfg); err != nil {
		return nil, err
	}

	e.emit(NewConfigUpdatedEvent(caller, params))
	return cfg.Clone(), nil
}

// AddAdmin creates an AdminEntry for newAdmin. Restricted to the founding
// admin.
func (e *Engine) AddAdmin(caller, newAdmin crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return err
	}
	if !cfg.FoundingAdmin.Equal(caller) {
		return ErrUnauthorized
	}
	existing, err := e.state.Admin(newAdmin)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrAdminExists
	}
	if err := e.state.PutAdmin(&AdminEntry{Admin: newAdmin, Active: true}); err != nil {
		return err
	}
	e.emit(NewAdminAddedEvent(caller, newAdmin))
	return nil
}

// WhitelistUser admits a user to borrow. Gated by the authorization policy.
func (e *Engine) WhitelistUser(caller, user crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return err
	}
	if e.policy.RequireAdminForWhitelist {
		if err := e.requireAdmin(cfg, caller); err != nil {
			return err
		}
	}
	existing, err := e.state.WhitelistEntry(user)
	if err != nil {
		return err
	}
	if existing != nil {
		return ErrWhitelistExists
	}
	if err := e.state.PutWhitelistEntry(&WhitelistEntry{User: user, Whitelisted: true}); err != nil {
		return err
	}
	e.emit(NewWhitelistAddedEvent(caller, user))
	return nil
}

// RemoveWhitelist deletes the user's whitelist entry, revoking admission.
func (e *Engine) RemoveWhitelist(caller, user crypto.Address) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return err
	}
	if e.policy.RequireAdminForWhitelist {
		if err := e.requireAdmin(cfg, caller); err != nil {
			return err
		}
	}
	existing, err := e.state.WhitelistEntry(user)
	if err != nil {
		return err
	}
	if existing == nil {
		return ErrWhitelistNotFound
	}
	if err := e.state.DeleteWhitelistEntry(user); err != nil {
		return err
	}
	e.emit(NewWhitelistRemovedEvent(caller, user))
	return nil
}

// IsWhitelisted reports whether the user currently holds an admission entry.
func (e *Engine) IsWhitelisted(user crypto.Address) (bool, error) {
	if e == nil || e.state == nil {
		return false, ErrNilState
	}
	entry, err := e.state.WhitelistEntry(user)
	if err != nil {
		return false, err
	}
	return entry != nil && entry.Whitelisted, nil
}

// Deposit moves amount of token plus the same amount of the native currency
// from the caller into the treasury vault. Both legs commit atomically with
// the surrounding transaction or not at all.
func (e *Engine) Deposit(caller crypto.Address, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.ledger == nil {
		return ErrNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return err
	}
	if e.policy.RequireAdminForTreasury {
		if err := e.requireAdmin(cfg, caller); err != nil {
			return err
		}
	}
	normalized := NormalizeToken(token)
	if !cfg.SupportsToken(normalized) {
		return ErrUnsupportedToken
	}

	auth := SignerAuthority(caller)
	if err := e.ledger.NativeTransfer(caller, cfg.TreasuryVault, amount, auth); err != nil {
		return err
	}
	if err := e.ledger.Transfer(caller, cfg.TreasuryVault, normalized, amount, auth); err != nil {
		return err
	}

	e.emit(NewTreasuryDepositEvent(caller, cfg.TreasuryVault, normalized, amount))
	return nil
}

// Withdraw is the inverse of Deposit. The outgoing legs are authorized by the
// treasury vault's own derived capability, not the caller's signature.
// Insufficient balances surface from the ledger rather than being pre-checked.
func (e *Engine) Withdraw(caller crypto.Address, token string, amount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if e.ledger == nil {
		return ErrNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return err
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return err
	}
	if e.policy.RequireAdminForTreasury {
		if err := e.requireAdmin(cfg, caller); err != nil {
			return err
		}
	}
	normalized := NormalizeToken(token)
	if !cfg.SupportsToken(normalized) {
		return ErrUnsupportedToken
	}

	auth, err := e.state.VaultAuthority(cfg.TreasuryVault)
	if err != nil {
		return err
	}
	if err := e.ledger.NativeTransfer(cfg.TreasuryVault, caller, amount, auth); err != nil {
		return err
	}
	if err := e.ledger.Transfer(cfg.TreasuryVault, caller, normalized, amount, auth); err != nil {
		return err
	}

	e.emit(NewTreasuryWithdrawalEvent(caller, cfg.TreasuryVault, normalized, amount))
	return nil
}

// TreasuryBalance returns the treasury vault's balance for the given token.
func (e *Engine) TreasuryBalance(token string) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.ledger == nil {
		return nil, ErrNilLedger
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return nil, err
	}
	normalized := NormalizeToken(token)
	if !cfg.SupportsToken(normalized) {
		return nil, ErrUnsupportedToken
	}
	return e.ledger.TokenBalance(cfg.TreasuryVault, normalized)
}

// RequestLoan originates a fixed-term, fixed-rate loan for a whitelisted
// borrower: collateral is locked into a fresh per-borrower vault, the
// principal is disbursed from the treasury, and the Loan record is created
// with its repayment amount and due time fixed at origination. The per-
// borrower key makes a second request while a loan exists a creation
// conflict. Collateral is denominated in the requested loan token; no price
// conversion is performed.
func (e *Engine) RequestLoan(borrower crypto.Address, collateralAmount, loanAmount *big.Int, durationSec int64, token string) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.ledger == nil {
		return nil, ErrNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	if collateralAmount == nil || collateralAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if loanAmount == nil || loanAmount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return nil, err
	}

	whitelisted, err := e.IsWhitelisted(borrower)
	if err != nil {
		return nil, err
	}
	if !whitelisted {
		return nil, ErrNotWhitelisted
	}
	existing, err := e.state.Loan(borrower)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, ErrLoanActive
	}
	if durationSec < cfg.MinLoanDurationSec || durationSec > cfg.MaxLoanDurationSec {
		return nil, ErrInvalidDuration
	}
	normalized := NormalizeToken(token)
	if !cfg.SupportsToken(normalized) {
		return nil, ErrUnsupportedToken
	}

	vault := &CollateralVault{
		Borrower: borrower,
		Address:  crypto.DeriveVaultAddress(collateralSeed, borrower.Bytes()),
	}
	if err := e.state.PutCollateralVault(vault); err != nil {
		return nil, err
	}

	if err := e.ledger.Transfer(borrower, vault.Address, normalized, collateralAmount, SignerAuthority(borrower)); err != nil {
		return nil, err
	}
	treasuryAuth, err := e.state.VaultAuthority(cfg.TreasuryVault)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(cfg.TreasuryVault, borrower, normalized, loanAmount, treasuryAuth); err != nil {
		return nil, err
	}

	interest := new(big.Int).Mul(loanAmount, big.NewInt(int64(cfg.InterestRateBps)))
	interest = interest.Quo(interest, basisPoints)

	loan := &Loan{
		Borrower:         borrower,
		CollateralVault:  vault.Address,
		CollateralLocked: new(big.Int).Set(collateralAmount),
		Principal:        new(big.Int).Set(loanAmount),
		Token:            normalized,
		RepaymentAmount:  new(big.Int).Add(loanAmount, interest),
		DueTime:          e.now() + durationSec,
		Active:           true,
	}
	if err := e.state.PutLoan(loan); err != nil {
		return nil, err
	}

	e.emit(NewLoanRequestedEvent(loan))
	return loan.Clone(), nil
}

// RepayLoan settles the borrower's loan: exactly RepaymentAmount moves back
// to the treasury, the full collateral vault balance returns to the borrower,
// and the Loan and CollateralVault records are deleted. No grace period and
// no partial repayment.
func (e *Engine) RepayLoan(borrower crypto.Address) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.ledger == nil {
		return nil, ErrNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return nil, err
	}
	loan, err := e.state.Loan(borrower)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	if !loan.Borrower.Equal(borrower) {
		return nil, ErrUnauthorized
	}

	if err := e.ledger.Transfer(borrower, cfg.TreasuryVault, loan.Token, loan.RepaymentAmount, SignerAuthority(borrower)); err != nil {
		return nil, err
	}

	released, err := e.releaseVault(loan, borrower)
	if err != nil {
		return nil, err
	}

	if err := e.state.DeleteLoan(borrower); err != nil {
		return nil, err
	}
	if err := e.state.DeleteCollateralVault(borrower); err != nil {
		return nil, err
	}

	e.emit(NewLoanRepaidEvent(loan, released))
	return loan.Clone(), nil
}

// LiquidateLoan seizes the borrower's entire collateral vault balance into
// the treasury once the due time has strictly passed. Any identity may call
// it. The Loan and CollateralVault records are retired so the borrower
// returns to the NoLoan state; a second call fails because no loan exists.
func (e *Engine) LiquidateLoan(caller, borrower crypto.Address) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	if e.ledger == nil {
		return nil, ErrNilLedger
	}
	if err := nativecommon.Guard(e.pauses, moduleName); err != nil {
		return nil, err
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return nil, err
	}
	loan, err := e.state.Loan(borrower)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	if !loan.Active {
		return nil, ErrLoanNotActive
	}
	if e.now() <= loan.DueTime {
		return nil, ErrLoanNotDue
	}

	// Seize whatever the vault actually holds, not the amount recorded at
	// origination.
	seized, err := e.ledger.TokenBalance(loan.CollateralVault, loan.Token)
	if err != nil {
		return nil, err
	}
	if seized.Sign() > 0 {
		vaultAuth, err := e.state.VaultAuthority(loan.CollateralVault)
		if err != nil {
			return nil, err
		}
		if err := e.ledger.Transfer(loan.CollateralVault, cfg.TreasuryVault, loan.Token, seized, vaultAuth); err != nil {
			return nil, err
		}
	}

	if err := e.state.DeleteLoan(borrower); err != nil {
		return nil, err
	}
	if err := e.state.DeleteCollateralVault(borrower); err != nil {
		return nil, err
	}

	e.emit(NewLoanLiquidatedEvent(loan, caller, seized))
	return seized, nil
}

// GetConfig returns the current configuration, or ErrNotInitialized.
func (e *Engine) GetConfig() (*Config, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	cfg, err := e.requireConfig()
	if err != nil {
		return nil, err
	}
	return cfg.Clone(), nil
}

// GetLoan returns the borrower's active loan, or ErrLoanNotFound.
func (e *Engine) GetLoan(borrower crypto.Address) (*Loan, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, err := e.state.Loan(borrower)
	if err != nil {
		return nil, err
	}
	if loan == nil {
		return nil, ErrLoanNotFound
	}
	return loan.Clone(), nil
}

func (e *Engine) requireConfig() (*Config, error) {
	cfg, err := e.state.Config()
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, ErrNotInitialized
	}
	return cfg, nil
}

// requireAdmin accepts the founding admin or any active AdminEntry holder.
func (e *Engine) requireAdmin(cfg *Config, caller crypto.Address) error {
	if cfg.FoundingAdmin.Equal(caller) {
		return nil
	}
	entry, err := e.state.Admin(caller)
	if err != nil {
		return err
	}
	if entry == nil || !entry.Active {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) releaseVault(loan *Loan, borrower crypto.Address) (*big.Int, error) {
	balance, err := e.ledger.TokenBalance(loan.CollateralVault, loan.Token)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return balance, nil
	}
	vaultAuth, err := e.state.VaultAuthority(loan.CollateralVault)
	if err != nil {
		return nil, err
	}
	if err := e.ledger.Transfer(loan.CollateralVault, borrower, loan.Token, balance, vaultAuth); err != nil {
		return nil, err
	}
	return balance, nil
}

func (e *Engine) emit(event *types.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(lendingEvent{evt: event})
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// EventType implements events.Event.
func (e lendingEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event exposes the canonical attribute payload.
func (e lendingEvent) Event() *types.Event { return e.evt }
