package lending

import (
	"errors"
	"math/big"
	"testing"

	"credlend/core/events"
	"credlend/core/types"
	"credlend/crypto"
	nativecommon "credlend/native/common"
)

var errMockInsufficient = errors.New("mock ledger: insufficient funds")

type mockState struct {
	cfg        *Config
	treasury   *TreasuryVault
	admins     map[string]*AdminEntry
	whitelist  map[string]*WhitelistEntry
	loans      map[string]*Loan
	vaults     map[string]*CollateralVault
	vaultAddrs map[string]struct{}
}

func newMockState() *mockState {
	return &mockState{
		admins:     make(map[string]*AdminEntry),
		whitelist:  make(map[string]*WhitelistEntry),
		loans:      make(map[string]*Loan),
		vaults:     make(map[string]*CollateralVault),
		vaultAddrs: make(map[string]struct{}),
	}
}

func key(addr crypto.Address) string { return string(addr.Bytes()) }

func (m *mockState) Config() (*Config, error) {
	if m.cfg == nil {
		return nil, nil
	}
	return m.cfg.Clone(), nil
}

func (m *mockState) PutConfig(cfg *Config) error {
	m.cfg = cfg.Clone()
	return nil
}

func (m *mockState) TreasuryVault() (*TreasuryVault, error) { return m.treasury, nil }

func (m *mockState) PutTreasuryVault(vault *TreasuryVault) error {
	m.treasury = vault
	m.vaultAddrs[key(vault.Address)] = struct{}{}
	return nil
}

func (m *mockState) Admin(addr crypto.Address) (*AdminEntry, error) {
	return m.admins[key(addr)], nil
}

func (m *mockState) PutAdmin(entry *AdminEntry) error {
	m.admins[key(entry.Admin)] = entry
	return nil
}

func (m *mockState) WhitelistEntry(addr crypto.Address) (*WhitelistEntry, error) {
	return m.whitelist[key(addr)], nil
}

func (m *mockState) PutWhitelistEntry(entry *WhitelistEntry) error {
	m.whitelist[key(entry.User)] = entry
	return nil
}

func (m *mockState) DeleteWhitelistEntry(addr crypto.Address) error {
	delete(m.whitelist, key(addr))
	return nil
}

func (m *mockState) Loan(addr crypto.Address) (*Loan, error) {
	loan := m.loans[key(addr)]
	if loan == nil {
		return nil, nil
	}
	return loan.Clone(), nil
}

func (m *mockState) PutLoan(loan *Loan) error {
	m.loans[key(loan.Borrower)] = loan.Clone()
	return nil
}

func (m *mockState) DeleteLoan(addr crypto.Address) error {
	delete(m.loans, key(addr))
	return nil
}

func (m *mockState) CollateralVault(addr crypto.Address) (*CollateralVault, error) {
	return m.vaults[key(addr)], nil
}

func (m *mockState) PutCollateralVault(vault *CollateralVault) error {
	m.vaults[key(vault.Borrower)] = vault
	m.vaultAddrs[key(vault.Address)] = struct{}{}
	return nil
}

func (m *mockState) DeleteCollateralVault(addr crypto.Address) error {
	if vault := m.vaults[key(addr)]; vault != nil {
		delete(m.vaultAddrs, key(vault.Address))
	}
	delete(m.vaults, key(addr))
	return nil
}

type mockVaultAuthority struct {
	addr crypto.Address
}

func (a mockVaultAuthority) AuthorizedAccount() crypto.Address { return a.addr }

func (m *mockState) VaultAuthority(addr crypto.Address) (TransferAuthority, error) {
	if _, ok := m.vaultAddrs[key(addr)]; !ok {
		return nil, errors.New("mock state: unknown vault")
	}
	return mockVaultAuthority{addr: addr}, nil
}

type mockLedger struct {
	tokens map[string]map[string]*big.Int
	native map[string]*big.Int
}

func newMockLedger() *mockLedger {
	return &mockLedger{
		tokens: make(map[string]map[string]*big.Int),
		native: make(map[string]*big.Int),
	}
}

func (l *mockLedger) credit(addr crypto.Address, token string, amount int64) {
	balances, ok := l.tokens[key(addr)]
	if !ok {
		balances = make(map[string]*big.Int)
		l.tokens[key(addr)] = balances
	}
	current := balances[token]
	if current == nil {
		current = big.NewInt(0)
	}
	balances[token] = new(big.Int).Add(current, big.NewInt(amount))
}

func (l *mockLedger) creditNative(addr crypto.Address, amount int64) {
	current := l.native[key(addr)]
	if current == nil {
		current = big.NewInt(0)
	}
	l.native[key(addr)] = new(big.Int).Add(current, big.NewInt(amount))
}

func (l *mockLedger) balance(addr crypto.Address, token string) *big.Int {
	balances := l.tokens[key(addr)]
	if balances == nil || balances[token] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(balances[token])
}

func (l *mockLedger) nativeBalance(addr crypto.Address) *big.Int {
	if l.native[key(addr)] == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(l.native[key(addr)])
}

func (l *mockLedger) Transfer(from, to crypto.Address, token string, amount *big.Int, authority TransferAuthority) error {
	if authority == nil || !authority.AuthorizedAccount().Equal(from) {
		return errors.New("mock ledger: unauthorized")
	}
	if from.Prefix() == crypto.VaultPrefix {
		if _, ok := authority.(mockVaultAuthority); !ok {
			return errors.New("mock ledger: vault requires capability")
		}
	}
	if l.balance(from, token).Cmp(amount) < 0 {
		return errMockInsufficient
	}
	l.credit(from, token, -amount.Int64())
	l.credit(to, token, amount.Int64())
	return nil
}

func (l *mockLedger) NativeTransfer(from, to crypto.Address, amount *big.Int, authority TransferAuthority) error {
	if authority == nil || !authority.AuthorizedAccount().Equal(from) {
		return errors.New("mock ledger: unauthorized")
	}
	if l.nativeBalance(from).Cmp(amount) < 0 {
		return errMockInsufficient
	}
	l.creditNative(from, -amount.Int64())
	l.creditNative(to, amount.Int64())
	return nil
}

func (l *mockLedger) TokenBalance(addr crypto.Address, token string) (*big.Int, error) {
	return l.balance(addr, token), nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

func (c *captureEmitter) last(t *testing.T) *types.Event {
	t.Helper()
	if len(c.events) == 0 {
		t.Fatal("no events emitted")
	}
	provider, ok := c.events[len(c.events)-1].(interface{ Event() *types.Event })
	if !ok {
		t.Fatalf("event %T does not expose attributes", c.events[len(c.events)-1])
	}
	return provider.Event()
}

type pauseSwitch struct {
	paused bool
}

func (p pauseSwitch) IsPaused(module string) bool { return p.paused }

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.MustNewAddress(crypto.CredPrefix, buf)
}

type testEnv struct {
	engine  *Engine
	state   *mockState
	ledger  *mockLedger
	emitter *captureEmitter
	admin   crypto.Address
	now     int64
}

func defaultParams() ConfigParams {
	return ConfigParams{
		InterestRateBps:    500,
		MaxBorrowPctBps:    5_000,
		MinLoanDurationSec: 60,
		MaxLoanDurationSec: 86_400,
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		state:   newMockState(),
		ledger:  newMockLedger(),
		emitter: &captureEmitter{},
		admin:   testAddr(1),
		now:     1_700_000_000,
	}
	env.engine = NewEngine()
	env.engine.SetState(env.state)
	env.engine.SetLedger(env.ledger)
	env.engine.SetEmitter(env.emitter)
	env.engine.SetNowFunc(func() int64 { return env.now })
	if _, err := env.engine.Initialize(env.admin, "toka", "tokb", defaultParams()); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	return env
}

func (env *testEnv) treasury(t *testing.T) crypto.Address {
	t.Helper()
	cfg, err := env.engine.GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	return cfg.TreasuryVault
}

func (env *testEnv) whitelistBorrower(t *testing.T, borrower crypto.Address) {
	t.Helper()
	if err := env.engine.WhitelistUser(env.admin, borrower); err != nil {
		t.Fatalf("whitelist borrower: %v", err)
	}
}

func TestInitialize(t *testing.T) {
	env := newTestEnv(t)

	cfg, err := env.engine.GetConfig()
	if err != nil {
		t.Fatalf("get config: %v", err)
	}
	if !cfg.FoundingAdmin.Equal(env.admin) {
		t.Fatalf("founding admin mismatch: %s", cfg.FoundingAdmin)
	}
	if cfg.TokenA != "TOKA" || cfg.TokenB != "TOKB" {
		t.Fatalf("tokens not normalized: %q %q", cfg.TokenA, cfg.TokenB)
	}
	if cfg.TreasuryVault.IsZero() {
		t.Fatal("treasury vault not derived")
	}
	if cfg.TreasuryVault.Prefix() != crypto.VaultPrefix {
		t.Fatalf("treasury must use the vault prefix, got %s", cfg.TreasuryVault.Prefix())
	}

	if _, err := env.engine.Initialize(env.admin, "TOKA", "TOKB", defaultParams()); !errors.Is(err, ErrAlreadyInitialized) {
		t.Fatalf("expected ErrAlreadyInitialized, got %v", err)
	}
}

func TestInitializeRejectsInvalidTokens(t *testing.T) {
	cases := []struct {
		name           string
		tokenA, tokenB string
	}{
		{"identical", "TOKA", "toka"},
		{"blank first", "  ", "TOKB"},
		{"blank second", "TOKA", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eng := NewEngine()
			eng.SetState(newMockState())
			if _, err := eng.Initialize(testAddr(1), tc.tokenA, tc.tokenB, defaultParams()); err == nil {
				t.Fatal("expected token validation error")
			}
		})
	}
}

func TestUpdateConfigFoundingAdminOnly(t *testing.T) {
	env := newTestEnv(t)
	other := testAddr(2)
	if err := env.engine.AddAdmin(env.admin, other); err != nil {
		t.Fatalf("add admin: %v", err)
	}

	// A delegated admin may not change parameters.
	params := defaultParams()
	params.InterestRateBps = 750
	if _, err := env.engine.UpdateConfig(other, params); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for delegated admin, got %v", err)
	}

	updated, err := env.engine.UpdateConfig(env.admin, params)
	if err != nil {
		t.Fatalf("update config: %v", err)
	}
	if updated.InterestRateBps != 750 {
		t.Fatalf("interest rate not updated: %d", updated.InterestRateBps)
	}
	if updated.TokenA != "TOKA" || !updated.FoundingAdmin.Equal(env.admin) {
		t.Fatal("update must not touch identity fields")
	}
}

func TestAddAdmin(t *testing.T) {
	env := newTestEnv(t)
	delegate := testAddr(2)

	if err := env.engine.AddAdmin(delegate, testAddr(3)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if err := env.engine.AddAdmin(env.admin, delegate); err != nil {
		t.Fatalf("add admin: %v", err)
	}
	if err := env.engine.AddAdmin(env.admin, delegate); !errors.Is(err, ErrAdminExists) {
		t.Fatalf("expected ErrAdminExists, got %v", err)
	}

	// The delegated admin can manage the whitelist.
	if err := env.engine.WhitelistUser(delegate, testAddr(4)); err != nil {
		t.Fatalf("delegated whitelist: %v", err)
	}
}

func TestWhitelistLifecycle(t *testing.T) {
	env := newTestEnv(t)
	user := testAddr(5)

	if err := env.engine.WhitelistUser(user, user); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}
	if err := env.engine.WhitelistUser(env.admin, user); err != nil {
		t.Fatalf("whitelist: %v", err)
	}
	if err := env.engine.WhitelistUser(env.admin, user); !errors.Is(err, ErrWhitelistExists) {
		t.Fatalf("expected ErrWhitelistExists, got %v", err)
	}
	whitelisted, err := env.engine.IsWhitelisted(user)
	if err != nil || !whitelisted {
		t.Fatalf("expected whitelisted user, got %v %v", whitelisted, err)
	}

	if err := env.engine.RemoveWhitelist(env.admin, user); err != nil {
		t.Fatalf("remove whitelist: %v", err)
	}
	if err := env.engine.RemoveWhitelist(env.admin, user); !errors.Is(err, ErrWhitelistNotFound) {
		t.Fatalf("expected ErrWhitelistNotFound, got %v", err)
	}
	whitelisted, err = env.engine.IsWhitelisted(user)
	if err != nil || whitelisted {
		t.Fatalf("expected revoked user, got %v %v", whitelisted, err)
	}
}

func TestRelaxedPolicySkipsAdminChecks(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetPolicy(Policy{})
	user := testAddr(6)

	if err := env.engine.WhitelistUser(user, user); err != nil {
		t.Fatalf("open whitelist: %v", err)
	}
	env.ledger.credit(user, "TOKA", 100)
	env.ledger.creditNative(user, 100)
	if err := env.engine.Deposit(user, "TOKA", big.NewInt(100)); err != nil {
		t.Fatalf("open deposit: %v", err)
	}
}

func TestDepositMovesBothLegs(t *testing.T) {
	env := newTestEnv(t)
	treasury := env.treasury(t)
	env.ledger.credit(env.admin, "TOKA", 1_000)
	env.ledger.creditNative(env.admin, 1_000)

	if err := env.engine.Deposit(env.admin, "toka", big.NewInt(400)); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if got := env.ledger.balance(treasury, "TOKA"); got.Int64() != 400 {
		t.Fatalf("treasury token balance = %s, want 400", got)
	}
	if got := env.ledger.nativeBalance(treasury); got.Int64() != 400 {
		t.Fatalf("treasury native balance = %s, want 400", got)
	}
	if got := env.ledger.balance(env.admin, "TOKA"); got.Int64() != 600 {
		t.Fatalf("depositor token balance = %s, want 600", got)
	}

	evt := env.emitter.last(t)
	if evt.Type != EventTypeTreasuryDeposit {
		t.Fatalf("event type = %s", evt.Type)
	}
	if evt.Attributes["amount"] != "400" {
		t.Fatalf("event amount = %s", evt.Attributes["amount"])
	}
}

func TestDepositValidation(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.credit(env.admin, "TOKA", 10)
	env.ledger.creditNative(env.admin, 10)

	if err := env.engine.Deposit(env.admin, "TOKC", big.NewInt(5)); !errors.Is(err, ErrUnsupportedToken) {
		t.Fatalf("expected ErrUnsupportedToken, got %v", err)
	}
	if err := env.engine.Deposit(env.admin, "TOKA", big.NewInt(0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
	if err := env.engine.Deposit(env.admin, "TOKA", nil); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for nil, got %v", err)
	}
	if err := env.engine.Deposit(testAddr(9), "TOKA", big.NewInt(5)); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-admin, got %v", err)
	}
	// Balance shortfalls surface from the ledger at execution.
	if err := env.engine.Deposit(env.admin, "TOKA", big.NewInt(500)); !errors.Is(err, errMockInsufficient) {
		t.Fatalf("expected ledger shortfall, got %v", err)
	}
}

func TestWithdraw(t *testing.T) {
	env := newTestEnv(t)
	treasury := env.treasury(t)
	env.ledger.credit(treasury, "TOKB", 900)
	env.ledger.creditNative(treasury, 900)

	if err := env.engine.Withdraw(env.admin, "TOKB", big.NewInt(300)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if got := env.ledger.balance(env.admin, "TOKB"); got.Int64() != 300 {
		t.Fatalf("recipient token balance = %s, want 300", got)
	}
	if got := env.ledger.nativeBalance(env.admin); got.Int64() != 300 {
		t.Fatalf("recipient native balance = %s, want 300", got)
	}

	// Overdraw is rejected by the ledger, not pre-checked.
	if err := env.engine.Withdraw(env.admin, "TOKB", big.NewInt(10_000)); !errors.Is(err, errMockInsufficient) {
		t.Fatalf("expected ledger shortfall, got %v", err)
	}
}

func TestTreasuryBalance(t *testing.T) {
	env := newTestEnv(t)
	env.ledger.credit(env.treasury(t), "TOKA", 777)

	balance, err := env.engine.TreasuryBalance("toka")
	if err != nil {
		t.Fatalf("treasury balance: %v", err)
	}
	if balance.Int64() != 777 {
		t.Fatalf("balance = %s, want 777", balance)
	}
	if _, err := env.engine.TreasuryBalance("TOKC"); !errors.Is(err, ErrUnsupportedToken) {
		t.Fatalf("expected ErrUnsupportedToken, got %v", err)
	}
}

func TestRequestLoanInterestMath(t *testing.T) {
	env := newTestEnv(t)
	treasury := env.treasury(t)
	borrower := testAddr(7)
	env.whitelistBorrower(t, borrower)
	env.ledger.credit(borrower, "TOKA", 2_000)
	env.ledger.credit(treasury, "TOKA", 10_000)

	loan, err := env.engine.RequestLoan(borrower, big.NewInt(2_000), big.NewInt(1_000), 3_600, "TOKA")
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if loan.RepaymentAmount.Int64() != 1_050 {
		t.Fatalf("repayment = %s, want 1050", loan.RepaymentAmount)
	}
	if loan.DueTime != env.now+3_600 {
		t.Fatalf("due time = %d, want %d", loan.DueTime, env.now+3_600)
	}
	if !loan.Active {
		t.Fatal("loan must start active")
	}
	if got := env.ledger.balance(loan.CollateralVault, "TOKA"); got.Int64() != 2_000 {
		t.Fatalf("vault balance = %s, want 2000", got)
	}
	if got := env.ledger.balance(borrower, "TOKA"); got.Int64() != 1_000 {
		t.Fatalf("borrower balance = %s, want 1000", got)
	}
	if got := env.ledger.balance(treasury, "TOKA"); got.Int64() != 9_000 {
		t.Fatalf("treasury balance = %s, want 9000", got)
	}
}

func TestRequestLoanInterestFloors(t *testing.T) {
	env := newTestEnv(t)
	borrower := testAddr(7)
	env.whitelistBorrower(t, borrower)
	env.ledger.credit(borrower, "TOKA", 100)
	env.ledger.credit(env.treasury(t), "TOKA", 10_000)

	// 999 * 500 / 10000 = 49.95, floored to 49.
	loan, err := env.engine.RequestLoan(borrower, big.NewInt(100), big.NewInt(999), 3_600, "TOKA")
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if loan.RepaymentAmount.Int64() != 1_048 {
		t.Fatalf("repayment = %s, want 1048", loan.RepaymentAmount)
	}
}

func TestRequestLoanValidation(t *testing.T) {
	env := newTestEnv(t)
	borrower := testAddr(7)
	env.ledger.credit(borrower, "TOKA", 1_000)
	env.ledger.credit(env.treasury(t), "TOKA", 10_000)

	if _, err := env.engine.RequestLoan(borrower, big.NewInt(100), big.NewInt(100), 3_600, "TOKA"); !errors.Is(err, ErrNotWhitelisted) {
		t.Fatalf("expected ErrNotWhitelisted, got %v", err)
	}

	env.whitelistBorrower(t, borrower)
	if _, err := env.engine.RequestLoan(borrower, big.NewInt(0), big.NewInt(100), 3_600, "TOKA"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for collateral, got %v", err)
	}
	if _, err := env.engine.RequestLoan(borrower, big.NewInt(100), nil, 3_600, "TOKA"); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount for principal, got %v", err)
	}
	if _, err := env.engine.RequestLoan(borrower, big.NewInt(100), big.NewInt(100), 59, "TOKA"); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration below minimum, got %v", err)
	}
	if _, err := env.engine.RequestLoan(borrower, big.NewInt(100), big.NewInt(100), 86_401, "TOKA"); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration above maximum, got %v", err)
	}
	if _, err := env.engine.RequestLoan(borrower, big.NewInt(100), big.NewInt(100), 3_600, "TOKC"); !errors.Is(err, ErrUnsupportedToken) {
		t.Fatalf("expected ErrUnsupportedToken, got %v", err)
	}

	if _, err := env.engine.RequestLoan(borrower, big.NewInt(100), big.NewInt(100), 3_600, "TOKA"); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if _, err := env.engine.RequestLoan(borrower, big.NewInt(100), big.NewInt(100), 3_600, "TOKA"); !errors.Is(err, ErrLoanActive) {
		t.Fatalf("expected ErrLoanActive, got %v", err)
	}
}

func TestRepayLoan(t *testing.T) {
	env := newTestEnv(t)
	treasury := env.treasury(t)
	borrower := testAddr(7)
	env.whitelistBorrower(t, borrower)
	env.ledger.credit(borrower, "TOKA", 2_000)
	env.ledger.credit(treasury, "TOKA", 10_000)

	loan, err := env.engine.RequestLoan(borrower, big.NewInt(2_000), big.NewInt(1_000), 3_600, "TOKA")
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	// Cover the interest so the repayment clears.
	env.ledger.credit(borrower, "TOKA", 50)

	repaid, err := env.engine.RepayLoan(borrower)
	if err != nil {
		t.Fatalf("repay loan: %v", err)
	}
	if repaid.RepaymentAmount.Cmp(loan.RepaymentAmount) != 0 {
		t.Fatalf("repaid %s, want %s", repaid.RepaymentAmount, loan.RepaymentAmount)
	}
	if got := env.ledger.balance(treasury, "TOKA"); got.Int64() != 10_050 {
		t.Fatalf("treasury balance = %s, want 10050", got)
	}
	if got := env.ledger.balance(borrower, "TOKA"); got.Int64() != 2_000 {
		t.Fatalf("borrower balance = %s, want 2000", got)
	}
	if got := env.ledger.balance(loan.CollateralVault, "TOKA"); got.Sign() != 0 {
		t.Fatalf("vault must be emptied, has %s", got)
	}

	if _, err := env.engine.RepayLoan(borrower); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("expected ErrLoanNotFound after settlement, got %v", err)
	}
	if _, err := env.engine.GetLoan(borrower); !errors.Is(err, ErrLoanNotFound) {
		t.Fatalf("loan record must be deleted, got %v", err)
	}

	// The borrower may originate again.
	if _, err := env.engine.RequestLoan(borrower, big.NewInt(500), big.NewInt(500), 3_600, "TOKA"); err != nil {
		t.Fatalf("second origination: %v", err)
	}
}

func TestRepayLoanShortfall(t *testing.T) {
	env := newTestEnv(t)
	borrower := testAddr(7)
	env.whitelistBorrower(t, borrower)
	env.ledger.credit(borrower, "TOKA", 1_000)
	env.ledger.credit(env.treasury(t), "TOKA", 10_000)

	if _, err := env.engine.RequestLoan(borrower, big.NewInt(1_000), big.NewInt(1_000), 3_600, "TOKA"); err != nil {
		t.Fatalf("request loan: %v", err)
	}
	// Borrower holds exactly the principal, short of principal plus interest.
	if _, err := env.engine.RepayLoan(borrower); !errors.Is(err, errMockInsufficient) {
		t.Fatalf("expected shortfall from ledger, got %v", err)
	}
	// The loan survives a failed repayment.
	if _, err := env.engine.GetLoan(borrower); err != nil {
		t.Fatalf("loan must survive failed repayment: %v", err)
	}
}

func TestFullLifecycleRates(t *testing.T) {
	env := newTestEnv(t)
	params := defaultParams()
	params.InterestRateBps = 1_000
	if _, err := env.engine.UpdateConfig(env.admin, params); err != nil {
		t.Fatalf("update config: %v", err)
	}
	treasury := env.treasury(t)
	borrower := testAddr(8)
	env.whitelistBorrower(t, borrower)
	env.ledger.credit(env.admin, "TOKA", 50_000)
	env.ledger.creditNative(env.admin, 50_000)
	if err := env.engine.Deposit(env.admin, "TOKA", big.NewInt(50_000)); err != nil {
		t.Fatalf("seed treasury: %v", err)
	}
	env.ledger.credit(borrower, "TOKA", 2_000)

	loan, err := env.engine.RequestLoan(borrower, big.NewInt(2_000), big.NewInt(10_000), 3_600, "TOKA")
	if err != nil {
		t.Fatalf("request loan: %v", err)
	}
	if loan.RepaymentAmount.Int64() != 11_000 {
		t.Fatalf("repayment = %s, want 11000", loan.RepaymentAmount)
	}

	env.ledger.credit(borrower, "TOKA", 1_000)
	if _, err := env.engine.RepayLoan(borrower); err != nil {
		t.Fatalf("repay: %v", err)
	}
	if got := env.ledger.balance(treasury, "TOKA"); got.Int64() != 51_000 {
		t.Fatalf("treasury ends with %s, want 51000", got)
	}
	if got := env.ledger.balance(borrower, "TOKA"); got.Int64() != 2_000 {
		t.Fatalf("borrower ends with %s, want 2000", got)
	}
}

func TestPausedModuleRejectsMutations(t *testing.T) {
	env := newTestEnv(t)
	env.engine.SetPauses(pauseSwitch{paused: true})

	if _, err := env.engine.UpdateConfig(env.admin, defaultParams()); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := env.engine.WhitelistUser(env.admin, testAddr(2)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := env.engine.Deposit(env.admin, "TOKA", big.NewInt(1)); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if _, err := env.engine.RequestLoan(testAddr(2), big.NewInt(1), big.NewInt(1), 3_600, "TOKA"); !errors.Is(err, nativecommon.ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}

	// Queries stay available while paused.
	if _, err := env.engine.GetConfig(); err != nil {
		t.Fatalf("paused query: %v", err)
	}
}

func TestOperationsRequireInitialization(t *testing.T) {
	eng := NewEngine()
	eng.SetState(newMockState())
	eng.SetLedger(newMockLedger())

	if _, err := eng.UpdateConfig(testAddr(1), defaultParams()); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if err := eng.WhitelistUser(testAddr(1), testAddr(2)); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
	if _, err := eng.RequestLoan(testAddr(2), big.NewInt(1), big.NewInt(1), 60, "TOKA"); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}
