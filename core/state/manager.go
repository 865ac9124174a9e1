package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"credlend/core/types"
	"credlend/crypto"
	"credlend/native/lending"
	"credlend/storage"
)

// Key prefixes for the persisted record kinds.
const (
	keyConfig        = "lending/config"
	keyTreasury      = "lending/treasury"
	prefixAdmin      = "lending/admin/"
	prefixWhitelist  = "lending/whitelist/"
	prefixLoan       = "lending/loan/"
	prefixVault      = "lending/vault/"
	prefixVaultIndex = "lending/vaultaddr/"
	prefixAccount    = "accounts/"
)

var (
	// ErrInsufficientFunds is surfaced when a transfer would overdraw the
	// debited account.
	ErrInsufficientFunds = errors.New("state: insufficient funds")
	// ErrUnauthorizedTransfer is surfaced when the supplied authority does
	// not cover the debited account.
	ErrUnauthorizedTransfer = errors.New("state: transfer not authorized")
	// ErrUnknownVault is returned when a capability is requested for an
	// address the manager never derived.
	ErrUnknownVault = errors.New("state: unknown vault address")
	// ErrTxnClosed guards against reuse of a committed transaction.
	ErrTxnClosed = errors.New("state: transaction already closed")
)

// Manager provides serialized, transactional access to the protocol state
// over a key-value database. Every lending operation runs inside a Txn that
// either commits in full or leaves no trace, matching the host-serialized
// single-writer model.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// Begin opens a buffered transaction. Reads fall through to the database;
// writes stay in the overlay until Commit. Discarding the Txn without
// committing rolls everything back.
func (m *Manager) Begin() *Txn {
	m.mu.Lock()
	return &Txn{
		mgr:     m,
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// View runs fn against a read-only transaction and always rolls back.
func (m *Manager) View(fn func(*Txn) error) error {
	txn := m.Begin()
	defer txn.Discard()
	return fn(txn)
}

// Update runs fn against a transaction and commits when fn succeeds.
func (m *Manager) Update(fn func(*Txn) error) error {
	txn := m.Begin()
	defer txn.Discard()
	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

// Txn is a copy-on-write overlay over the manager's database. It implements
// both the engine's record-store contract and its transfer executor.
type Txn struct {
	mgr     *Manager
	writes  map[string][]byte
	deletes map[string]struct{}
	closed  bool
}

// Commit flushes the overlay to the underlying database and releases the
// manager's writer lock.
func (tx *Txn) Commit() error {
	if tx.closed {
		return ErrTxnClosed
	}
	defer tx.release()
	for key := range tx.deletes {
		if err := tx.mgr.db.Delete([]byte(key)); err != nil {
			return err
		}
	}
	for key, value := range tx.writes {
		if err := tx.mgr.db.Put([]byte(key), value); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops the overlay. Safe to call after Commit.
func (tx *Txn) Discard() {
	if tx.closed {
		return
	}
	tx.release()
}

func (tx *Txn) release() {
	tx.closed = true
	tx.mgr.mu.Unlock()
}

func (tx *Txn) get(key string) ([]byte, error) {
	if _, gone := tx.deletes[key]; gone {
		return nil, nil
	}
	if value, ok := tx.writes[key]; ok {
		return value, nil
	}
	value, err := tx.mgr.db.Get([]byte(key))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	return value, err
}

func (tx *Txn) put(key string, record interface{}) error {
	encoded, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("state: encode %s: %w", key, err)
	}
	delete(tx.deletes, key)
	tx.writes[key] = encoded
	return nil
}

func (tx *Txn) del(key string) {
	delete(tx.writes, key)
	tx.deletes[key] = struct{}{}
}

func (tx *Txn) load(key string, out interface{}) (bool, error) {
	raw, err := tx.get(key)
	if err != nil {
		return false, err
	}
	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %s: %w", key, err)
	}
	return true, nil
}

func addrKey(prefix string, addr crypto.Address) string {
	return prefix + hex.EncodeToString(addr.Bytes())
}

// --- Record store: lending engine contract ---

func (tx *Txn) Config() (*lending.Config, error) {
	cfg := new(lending.Config)
	ok, err := tx.load(keyConfig, cfg)
	if err != nil || !ok {
		return nil, err
	}
	return cfg, nil
}

func (tx *Txn) PutConfig(cfg *lending.Config) error {
	return tx.put(keyConfig, cfg)
}

func (tx *Txn) TreasuryVault() (*lending.TreasuryVault, error) {
	vault := new(lending.TreasuryVault)
	ok, err := tx.load(keyTreasury, vault)
	if err != nil || !ok {
		return nil, err
	}
	return vault, nil
}

func (tx *Txn) PutTreasuryVault(vault *lending.TreasuryVault) error {
	return tx.put(keyTreasury, vault)
}

func (tx *Txn) Admin(addr crypto.Address) (*lending.AdminEntry, error) {
	entry := new(lending.AdminEntry)
	ok, err := tx.load(addrKey(prefixAdmin, addr), entry)
	if err != nil || !ok {
		return nil, err
	}
	return entry, nil
}

func (tx *Txn) PutAdmin(entry *lending.AdminEntry) error {
	return tx.put(addrKey(prefixAdmin, entry.Admin), entry)
}

func (tx *Txn) WhitelistEntry(addr crypto.Address) (*lending.WhitelistEntry, error) {
	entry := new(lending.WhitelistEntry)
	ok, err := tx.load(addrKey(prefixWhitelist, addr), entry)
	if err != nil || !ok {
		return nil, err
	}
	return entry, nil
}

func (tx *Txn) PutWhitelistEntry(entry *lending.WhitelistEntry) error {
	return tx.put(addrKey(prefixWhitelist, entry.User), entry)
}

func (tx *Txn) DeleteWhitelistEntry(addr crypto.Address) error {
	tx.del(addrKey(prefixWhitelist, addr))
	return nil
}

func (tx *Txn) Loan(addr crypto.Address) (*lending.Loan, error) {
	loan := new(lending.Loan)
	ok, err := tx.load(addrKey(prefixLoan, addr), loan)
	if err != nil || !ok {
		return nil, err
	}
	return loan, nil
}

func (tx *Txn) PutLoan(loan *lending.Loan) error {
	return tx.put(addrKey(prefixLoan, loan.Borrower), loan)
}

func (tx *Txn) DeleteLoan(addr crypto.Address) error {
	tx.del(addrKey(prefixLoan, addr))
	return nil
}

func (tx *Txn) CollateralVault(addr crypto.Address) (*lending.CollateralVault, error) {
	vault := new(lending.CollateralVault)
	ok, err := tx.load(addrKey(prefixVault, addr), vault)
	if err != nil || !ok {
		return nil, err
	}
	return vault, nil
}

// PutCollateralVault stores the vault record keyed by borrower and maintains
// the vault-address index consulted when minting capabilities.
func (tx *Txn) PutCollateralVault(vault *lending.CollateralVault) error {
	if err := tx.put(addrKey(prefixVault, vault.Borrower), vault); err != nil {
		return err
	}
	return tx.put(addrKey(prefixVaultIndex, vault.Address), vault.Borrower.Bytes())
}

func (tx *Txn) DeleteCollateralVault(addr crypto.Address) error {
	vault, err := tx.CollateralVault(addr)
	if err != nil {
		return err
	}
	if vault != nil {
		tx.del(addrKey(prefixVaultIndex, vault.Address))
	}
	tx.del(addrKey(prefixVault, addr))
	return nil
}

// --- Vault capabilities ---

// vaultAuthority is the program-derived signing capability for a vault
// account. It is mintable only through VaultAuthority, so holding one proves
// the manager recognises the address as a protocol vault.
type vaultAuthority struct {
	addr crypto.Address
}

func (v vaultAuthority) AuthorizedAccount() crypto.Address { return v.addr }

// VaultAuthority mints the transfer capability for a vault address the
// manager knows about: the treasury vault or any live collateral vault.
func (tx *Txn) VaultAuthority(addr crypto.Address) (lending.TransferAuthority, error) {
	treasury, err := tx.TreasuryVault()
	if err != nil {
		return nil, err
	}
	if treasury != nil && treasury.Address.Equal(addr) {
		return vaultAuthority{addr: addr}, nil
	}
	raw, err := tx.get(addrKey(prefixVaultIndex, addr))
	if err != nil {
		return nil, err
	}
	if raw != nil {
		return vaultAuthority{addr: addr}, nil
	}
	return nil, ErrUnknownVault
}

// --- Ledger: transfer executor contract ---

func (tx *Txn) account(addr crypto.Address) (*types.Account, error) {
	acc := new(types.Account)
	ok, err := tx.load(addrKey(prefixAccount, addr), acc)
	if err != nil {
		return nil, err
	}
	if !ok {
		acc = &types.Account{}
	}
	acc.EnsureDefaults()
	return acc, nil
}

func (tx *Txn) putAccount(addr crypto.Address, acc *types.Account) error {
	return tx.put(addrKey(prefixAccount, addr), acc)
}

func (tx *Txn) authorize(from crypto.Address, authority lending.TransferAuthority) error {
	if authority == nil {
		return ErrUnauthorizedTransfer
	}
	if !authority.AuthorizedAccount().Equal(from) {
		return ErrUnauthorizedTransfer
	}
	// Vault accounts accept only the capability minted by this manager; a
	// signer authority over a vault address is rejected.
	if from.Prefix() == crypto.VaultPrefix {
		if _, ok := authority.(vaultAuthority); !ok {
			return ErrUnauthorizedTransfer
		}
	}
	return nil
}

// Transfer moves amount of token from one account to another. The authority
// must cover the debited account; balances are checked at execution, never
// pre-checked by callers.
func (tx *Txn) Transfer(from, to crypto.Address, token string, amount *big.Int, authority lending.TransferAuthority) error {
	if tx.closed {
		return ErrTxnClosed
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInsufficientFunds
	}
	if err := tx.authorize(from, authority); err != nil {
		return err
	}
	fromAcc, err := tx.account(from)
	if err != nil {
		return err
	}
	balance := fromAcc.TokenBalance(token)
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toAcc, err := tx.account(to)
	if err != nil {
		return err
	}
	fromAcc.SetTokenBalance(token, new(big.Int).Sub(balance, amount))
	toAcc.SetTokenBalance(token, new(big.Int).Add(toAcc.TokenBalance(token), amount))
	if err := tx.putAccount(from, fromAcc); err != nil {
		return err
	}
	return tx.putAccount(to, toAcc)
}

// NativeTransfer moves amount of the native currency between accounts under
// the same authority rules as Transfer.
func (tx *Txn) NativeTransfer(from, to crypto.Address, amount *big.Int, authority lending.TransferAuthority) error {
	if tx.closed {
		return ErrTxnClosed
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInsufficientFunds
	}
	if err := tx.authorize(from, authority); err != nil {
		return err
	}
	fromAcc, err := tx.account(from)
	if err != nil {
		return err
	}
	if fromAcc.BalanceNative.Cmp(amount) < 0 {
		return ErrInsufficientFunds
	}
	toAcc, err := tx.account(to)
	if err != nil {
		return err
	}
	fromAcc.BalanceNative = new(big.Int).Sub(fromAcc.BalanceNative, amount)
	toAcc.BalanceNative = new(big.Int).Add(toAcc.BalanceNative, amount)
	if err := tx.putAccount(from, fromAcc); err != nil {
		return err
	}
	return tx.putAccount(to, toAcc)
}

// TokenBalance returns the account's balance for a token, zero when the
// account does not exist.
func (tx *Txn) TokenBalance(addr crypto.Address, token string) (*big.Int, error) {
	if tx.closed {
		return nil, ErrTxnClosed
	}
	acc, err := tx.account(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.TokenBalance(token)), nil
}

// NativeBalance returns the account's native currency balance.
func (tx *Txn) NativeBalance(addr crypto.Address) (*big.Int, error) {
	if tx.closed {
		return nil, ErrTxnClosed
	}
	acc, err := tx.account(addr)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Set(acc.BalanceNative), nil
}

// Credit mints amount of token onto the account. Used by genesis funding and
// tests; production transfers always run through Transfer.
func (tx *Txn) Credit(addr crypto.Address, token string, amount *big.Int) error {
	if tx.closed {
		return ErrTxnClosed
	}
	acc, err := tx.account(addr)
	if err != nil {
		return err
	}
	acc.SetTokenBalance(token, new(big.Int).Add(acc.TokenBalance(token), amount))
	return tx.putAccount(addr, acc)
}

// CreditNative mints amount of the native currency onto the account.
func (tx *Txn) CreditNative(addr crypto.Address, amount *big.Int) error {
	if tx.closed {
		return ErrTxnClosed
	}
	acc, err := tx.account(addr)
	if err != nil {
		return err
	}
	acc.BalanceNative = new(big.Int).Add(acc.BalanceNative, amount)
	return tx.putAccount(addr, acc)
}
