package core

import (
	"log/slog"
	"math/big"
	"time"

	"credlend/core/events"
	"credlend/core/state"
	"credlend/crypto"
	nativecommon "credlend/native/common"
	"credlend/native/lending"
	"credlend/observability"
)

// LendingModule hosts the lending engine behind the state manager's
// single-writer transaction model. Every operation runs in its own Txn that
// commits only when the engine succeeds, so a failed transfer leg never leaves
// partial records behind. Events are queued during execution and flushed to
// the journal after the commit lands.
type LendingModule struct {
	manager *state.Manager
	journal events.Emitter
	policy  lending.Policy
	pauses  nativecommon.PauseView
	nowFn   func() int64
	log     *slog.Logger
	metrics *observability.LendingMetrics
}

// ModuleOption customises a LendingModule at construction.
type ModuleOption func(*LendingModule)

// WithJournal routes committed events to the supplied emitter.
func WithJournal(journal events.Emitter) ModuleOption {
	return func(m *LendingModule) { m.journal = journal }
}

// WithPolicy overrides the default strict authorization policy.
func WithPolicy(policy lending.Policy) ModuleOption {
	return func(m *LendingModule) { m.policy = policy }
}

// WithPauses wires the module pause switches.
func WithPauses(p nativecommon.PauseView) ModuleOption {
	return func(m *LendingModule) { m.pauses = p }
}

// WithNowFunc overrides the clock oracle, primarily for tests.
func WithNowFunc(now func() int64) ModuleOption {
	return func(m *LendingModule) { m.nowFn = now }
}

// WithLogger attaches a structured logger.
func WithLogger(log *slog.Logger) ModuleOption {
	return func(m *LendingModule) { m.log = log }
}

// NewLendingModule builds a module over the supplied state manager.
func NewLendingModule(manager *state.Manager, opts ...ModuleOption) *LendingModule {
	m := &LendingModule{
		manager: manager,
		policy:  lending.DefaultPolicy(),
		nowFn:   func() int64 { return time.Now().Unix() },
		log:     slog.Default(),
		metrics: observability.Lending(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// queueEmitter buffers engine events until the transaction commits.
type queueEmitter struct {
	queued []events.Event
}

func (q *queueEmitter) Emit(evt events.Event) {
	q.queued = append(q.queued, evt)
}

// withEngine runs fn against a freshly wired engine inside a transaction. The
// transaction commits only when fn succeeds; queued events flush afterwards.
func (m *LendingModule) withEngine(op string, fn func(*lending.Engine) error) error {
	started := time.Now()
	err := m.run(fn)
	m.metrics.Observe(op, err, time.Since(started))
	if err != nil {
		m.log.Warn("lending operation failed", "operation", op, "error", err)
	} else {
		m.log.Info("lending operation applied", "operation", op)
	}
	return err
}

func (m *LendingModule) run(fn func(*lending.Engine) error) error {
	txn := m.manager.Begin()
	defer txn.Discard()

	queue := &queueEmitter{}
	eng := lending.NewEngine()
	eng.SetState(txn)
	eng.SetLedger(txn)
	eng.SetEmitter(queue)
	eng.SetPolicy(m.policy)
	eng.SetPauses(m.pauses)
	eng.SetNowFunc(m.nowFn)

	if err := fn(eng); err != nil {
		return err
	}
	if err := txn.Commit(); err != nil {
		return err
	}
	if m.journal != nil {
		for _, evt := range queue.queued {
			m.journal.Emit(evt)
		}
	}
	return nil
}

// view runs fn against a read-only engine and always rolls back.
func (m *LendingModule) view(fn func(*lending.Engine) error) error {
	txn := m.manager.Begin()
	defer txn.Discard()

	eng := lending.NewEngine()
	eng.SetState(txn)
	eng.SetLedger(txn)
	eng.SetPolicy(m.policy)
	eng.SetPauses(m.pauses)
	eng.SetNowFunc(m.nowFn)
	return fn(eng)
}

// Initialize creates the protocol configuration and treasury vault.
func (m *LendingModule) Initialize(admin crypto.Address, tokenA, tokenB string, params lending.ConfigParams) (*lending.Config, error) {
	var cfg *lending.Config
	err := m.withEngine("initialize", func(eng *lending.Engine) error {
		var innerErr error
		cfg, innerErr = eng.Initialize(admin, tokenA, tokenB, params)
		return innerErr
	})
	return cfg, err
}

// UpdateConfig rewrites the numeric protocol parameters.
func (m *LendingModule) UpdateConfig(caller crypto.Address, params lending.ConfigParams) (*lending.Config, error) {
	var cfg *lending.Config
	err := m.withEngine("update_config", func(eng *lending.Engine) error {
		var innerErr error
		cfg, innerErr = eng.UpdateConfig(caller, params)
		return innerErr
	})
	return cfg, err
}

// AddAdmin registers an additional active admin.
func (m *LendingModule) AddAdmin(caller, newAdmin crypto.Address) error {
	return m.withEngine("add_admin", func(eng *lending.Engine) error {
		return eng.AddAdmin(caller, newAdmin)
	})
}

// WhitelistUser admits a user to borrow.
func (m *LendingModule) WhitelistUser(caller, user crypto.Address) error {
	return m.withEngine("whitelist_add", func(eng *lending.Engine) error {
		return eng.WhitelistUser(caller, user)
	})
}

// RemoveWhitelist revokes a user's admission.
func (m *LendingModule) RemoveWhitelist(caller, user crypto.Address) error {
	return m.withEngine("whitelist_remove", func(eng *lending.Engine) error {
		return eng.RemoveWhitelist(caller, user)
	})
}

// Deposit funds the treasury from the caller's balances.
func (m *LendingModule) Deposit(caller crypto.Address, token string, amount *big.Int) error {
	err := m.withEngine("treasury_deposit", func(eng *lending.Engine) error {
		return eng.Deposit(caller, token, amount)
	})
	if err == nil {
		m.metrics.TreasuryFlow("deposit", lending.NormalizeToken(token), amountUnits(amount))
	}
	return err
}

// Withdraw moves treasury funds back to the caller.
func (m *LendingModule) Withdraw(caller crypto.Address, token string, amount *big.Int) error {
	err := m.withEngine("treasury_withdraw", func(eng *lending.Engine) error {
		return eng.Withdraw(caller, token, amount)
	})
	if err == nil {
		m.metrics.TreasuryFlow("withdraw", lending.NormalizeToken(token), amountUnits(amount))
	}
	return err
}

// RequestLoan originates a loan for the borrower.
func (m *LendingModule) RequestLoan(borrower crypto.Address, collateralAmount, loanAmount *big.Int, durationSec int64, token string) (*lending.Loan, error) {
	var loan *lending.Loan
	err := m.withEngine("loan_request", func(eng *lending.Engine) error {
		var innerErr error
		loan, innerErr = eng.RequestLoan(borrower, collateralAmount, loanAmount, durationSec, token)
		return innerErr
	})
	if err == nil && loan != nil {
		m.metrics.TreasuryFlow("disburse", loan.Token, amountUnits(loan.Principal))
	}
	return loan, err
}

// RepayLoan settles the borrower's loan in full.
func (m *LendingModule) RepayLoan(borrower crypto.Address) (*lending.Loan, error) {
	var loan *lending.Loan
	err := m.withEngine("loan_repay", func(eng *lending.Engine) error {
		var innerErr error
		loan, innerErr = eng.RepayLoan(borrower)
		return innerErr
	})
	if err == nil && loan != nil {
		m.metrics.TreasuryFlow("deposit", loan.Token, amountUnits(loan.RepaymentAmount))
	}
	return loan, err
}

// LiquidateLoan seizes an overdue borrower's collateral into the treasury.
func (m *LendingModule) LiquidateLoan(caller, borrower crypto.Address) (*big.Int, error) {
	var seized *big.Int
	var token string
	err := m.withEngine("loan_liquidate", func(eng *lending.Engine) error {
		loan, innerErr := eng.GetLoan(borrower)
		if innerErr == nil {
			token = loan.Token
		}
		seized, innerErr = eng.LiquidateLoan(caller, borrower)
		return innerErr
	})
	if err == nil && seized != nil && token != "" {
		m.metrics.TreasuryFlow("seize", token, amountUnits(seized))
	}
	return seized, err
}

// GetConfig returns the current protocol configuration.
func (m *LendingModule) GetConfig() (*lending.Config, error) {
	var cfg *lending.Config
	err := m.view(func(eng *lending.Engine) error {
		var innerErr error
		cfg, innerErr = eng.GetConfig()
		return innerErr
	})
	return cfg, err
}

// GetLoan returns the borrower's active loan.
func (m *LendingModule) GetLoan(borrower crypto.Address) (*lending.Loan, error) {
	var loan *lending.Loan
	err := m.view(func(eng *lending.Engine) error {
		var innerErr error
		loan, innerErr = eng.GetLoan(borrower)
		return innerErr
	})
	return loan, err
}

// IsWhitelisted reports whether the user holds an admission entry.
func (m *LendingModule) IsWhitelisted(user crypto.Address) (bool, error) {
	var whitelisted bool
	err := m.view(func(eng *lending.Engine) error {
		var innerErr error
		whitelisted, innerErr = eng.IsWhitelisted(user)
		return innerErr
	})
	return whitelisted, err
}

// TreasuryBalance returns the treasury vault's balance for the token.
func (m *LendingModule) TreasuryBalance(token string) (*big.Int, error) {
	var balance *big.Int
	err := m.view(func(eng *lending.Engine) error {
		var innerErr error
		balance, innerErr = eng.TreasuryBalance(token)
		return innerErr
	})
	return balance, err
}

// Fund mints balances onto an account. Intended for genesis allocation and
// local development fixtures only.
func (m *LendingModule) Fund(addr crypto.Address, token string, amount, native *big.Int) error {
	txn := m.manager.Begin()
	defer txn.Discard()
	if amount != nil && amount.Sign() > 0 {
		if err := txn.Credit(addr, lending.NormalizeToken(token), amount); err != nil {
			return err
		}
	}
	if native != nil && native.Sign() > 0 {
		if err := txn.CreditNative(addr, native); err != nil {
			return err
		}
	}
	return txn.Commit()
}

// AccountBalances returns the token and native balances for an address.
func (m *LendingModule) AccountBalances(addr crypto.Address, token string) (tokenBalance, nativeBalance *big.Int, err error) {
	txn := m.manager.Begin()
	defer txn.Discard()
	tokenBalance, err = txn.TokenBalance(addr, lending.NormalizeToken(token))
	if err != nil {
		return nil, nil, err
	}
	nativeBalance, err = txn.NativeBalance(addr)
	if err != nil {
		return nil, nil, err
	}
	return tokenBalance, nativeBalance, nil
}

// amountUnits converts a big integer amount for metric accounting; precision
// loss above 2^53 is acceptable for counters.
func amountUnits(amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(amount).Float64()
	return f
}
