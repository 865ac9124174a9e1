package state

import (
	"errors"
	"math/big"
	"testing"

	"credlend/crypto"
	"credlend/native/lending"
	"credlend/storage"
)

func testAddr(b byte) crypto.Address {
	buf := make([]byte, 20)
	buf[19] = b
	return crypto.MustNewAddress(crypto.CredPrefix, buf)
}

func newTestManager() *Manager {
	return NewManager(storage.NewMemDB())
}

func TestCommitPersistsRecords(t *testing.T) {
	mgr := newTestManager()
	admin := testAddr(1)

	txn := mgr.Begin()
	cfg := &lending.Config{
		FoundingAdmin:   admin,
		TreasuryVault:   crypto.DeriveVaultAddress([]byte("test/treasury")),
		TokenA:          "TOKA",
		TokenB:          "TOKB",
		InterestRateBps: 500,
	}
	if err := txn.PutConfig(cfg); err != nil {
		t.Fatalf("put config: %v", err)
	}
	if err := txn.PutWhitelistEntry(&lending.WhitelistEntry{User: testAddr(2), Whitelisted: true}); err != nil {
		t.Fatalf("put whitelist: %v", err)
	}
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	txn = mgr.Begin()
	defer txn.Discard()
	loaded, err := txn.Config()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loaded == nil || !loaded.FoundingAdmin.Equal(admin) || loaded.TokenA != "TOKA" {
		t.Fatalf("config did not round trip: %+v", loaded)
	}
	entry, err := txn.WhitelistEntry(testAddr(2))
	if err != nil || entry == nil || !entry.Whitelisted {
		t.Fatalf("whitelist did not round trip: %+v %v", entry, err)
	}
}

func TestDiscardRollsBack(t *testing.T) {
	mgr := newTestManager()

	txn := mgr.Begin()
	if err := txn.PutAdmin(&lending.AdminEntry{Admin: testAddr(3), Active: true}); err != nil {
		t.Fatalf("put admin: %v", err)
	}
	if err := txn.Credit(testAddr(3), "TOKA", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	txn.Discard()

	txn = mgr.Begin()
	defer txn.Discard()
	entry, err := txn.Admin(testAddr(3))
	if err != nil {
		t.Fatalf("load admin: %v", err)
	}
	if entry != nil {
		t.Fatal("discarded write leaked to the database")
	}
	balance, err := txn.TokenBalance(testAddr(3), "TOKA")
	if err != nil || balance.Sign() != 0 {
		t.Fatalf("discarded credit leaked: %s %v", balance, err)
	}
}

func TestOverlayReadsOwnWrites(t *testing.T) {
	mgr := newTestManager()
	txn := mgr.Begin()
	defer txn.Discard()

	user := testAddr(4)
	if err := txn.PutWhitelistEntry(&lending.WhitelistEntry{User: user, Whitelisted: true}); err != nil {
		t.Fatalf("put: %v", err)
	}
	entry, err := txn.WhitelistEntry(user)
	if err != nil || entry == nil {
		t.Fatalf("uncommitted write invisible: %+v %v", entry, err)
	}
	if err := txn.DeleteWhitelistEntry(user); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entry, err = txn.WhitelistEntry(user)
	if err != nil || entry != nil {
		t.Fatalf("uncommitted delete invisible: %+v %v", entry, err)
	}
}

func TestTxnClosedAfterCommit(t *testing.T) {
	mgr := newTestManager()
	txn := mgr.Begin()
	if err := txn.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := txn.Commit(); !errors.Is(err, ErrTxnClosed) {
		t.Fatalf("expected ErrTxnClosed, got %v", err)
	}
	if _, err := txn.TokenBalance(testAddr(1), "TOKA"); !errors.Is(err, ErrTxnClosed) {
		t.Fatalf("expected ErrTxnClosed on read, got %v", err)
	}
}

func TestTransferAuthorization(t *testing.T) {
	mgr := newTestManager()
	txn := mgr.Begin()
	defer txn.Discard()

	alice := testAddr(5)
	bob := testAddr(6)
	if err := txn.Credit(alice, "TOKA", big.NewInt(100)); err != nil {
		t.Fatalf("credit: %v", err)
	}

	// No authority.
	if err := txn.Transfer(alice, bob, "TOKA", big.NewInt(10), nil); !errors.Is(err, ErrUnauthorizedTransfer) {
		t.Fatalf("expected ErrUnauthorizedTransfer for nil authority, got %v", err)
	}
	// Authority over a different account.
	if err := txn.Transfer(alice, bob, "TOKA", big.NewInt(10), lending.SignerAuthority(bob)); !errors.Is(err, ErrUnauthorizedTransfer) {
		t.Fatalf("expected ErrUnauthorizedTransfer for mismatched signer, got %v", err)
	}
	// Proper signer authority.
	if err := txn.Transfer(alice, bob, "TOKA", big.NewInt(10), lending.SignerAuthority(alice)); err != nil {
		t.Fatalf("authorized transfer: %v", err)
	}
	balance, err := txn.TokenBalance(bob, "TOKA")
	if err != nil || balance.Int64() != 10 {
		t.Fatalf("recipient balance = %s, want 10 (%v)", balance, err)
	}
}

func TestTransferInsufficientFunds(t *testing.T) {
	mgr := newTestManager()
	txn := mgr.Begin()
	defer txn.Discard()

	alice := testAddr(5)
	if err := txn.Credit(alice, "TOKA", big.NewInt(5)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	if err := txn.Transfer(alice, testAddr(6), "TOKA", big.NewInt(6), lending.SignerAuthority(alice)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := txn.NativeTransfer(alice, testAddr(6), big.NewInt(1), lending.SignerAuthority(alice)); !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds for native, got %v", err)
	}
}

func TestVaultCapabilityScoping(t *testing.T) {
	mgr := newTestManager()
	txn := mgr.Begin()
	defer txn.Discard()

	treasury := crypto.DeriveVaultAddress([]byte("test/treasury"))
	if err := txn.PutTreasuryVault(&lending.TreasuryVault{Address: treasury}); err != nil {
		t.Fatalf("put treasury: %v", err)
	}
	if err := txn.Credit(treasury, "TOKA", big.NewInt(100)); err != nil {
		t.Fatalf("credit treasury: %v", err)
	}

	// A signer authority over a vault address is rejected even though it
	// nominally covers the account.
	recipient := testAddr(7)
	if err := txn.Transfer(treasury, recipient, "TOKA", big.NewInt(10), lending.SignerAuthority(treasury)); !errors.Is(err, ErrUnauthorizedTransfer) {
		t.Fatalf("expected ErrUnauthorizedTransfer for signer over vault, got %v", err)
	}

	auth, err := txn.VaultAuthority(treasury)
	if err != nil {
		t.Fatalf("mint treasury capability: %v", err)
	}
	if err := txn.Transfer(treasury, recipient, "TOKA", big.NewInt(10), auth); err != nil {
		t.Fatalf("capability transfer: %v", err)
	}

	// Unknown vault addresses never yield a capability.
	stranger := crypto.DeriveVaultAddress([]byte("test/unknown"))
	if _, err := txn.VaultAuthority(stranger); !errors.Is(err, ErrUnknownVault) {
		t.Fatalf("expected ErrUnknownVault, got %v", err)
	}
}

func TestCollateralVaultIndex(t *testing.T) {
	mgr := newTestManager()
	txn := mgr.Begin()
	defer txn.Discard()

	borrower := testAddr(8)
	vaultAddr := crypto.DeriveVaultAddress([]byte("test/collateral"), borrower.Bytes())
	if err := txn.PutCollateralVault(&lending.CollateralVault{Borrower: borrower, Address: vaultAddr}); err != nil {
		t.Fatalf("put vault: %v", err)
	}
	if _, err := txn.VaultAuthority(vaultAddr); err != nil {
		t.Fatalf("live vault must mint a capability: %v", err)
	}

	if err := txn.DeleteCollateralVault(borrower); err != nil {
		t.Fatalf("delete vault: %v", err)
	}
	if _, err := txn.VaultAuthority(vaultAddr); !errors.Is(err, ErrUnknownVault) {
		t.Fatalf("retired vault must not mint a capability, got %v", err)
	}
}

func TestLoanRecordRoundTrip(t *testing.T) {
	mgr := newTestManager()
	borrower := testAddr(9)
	vaultAddr := crypto.DeriveVaultAddress([]byte("test/collateral"), borrower.Bytes())

	loan := &lending.Loan{
		Borrower:         borrower,
		CollateralVault:  vaultAddr,
		CollateralLocked: big.NewInt(2_000),
		Principal:        big.NewInt(1_000),
		Token:            "TOKA",
		RepaymentAmount:  big.NewInt(1_050),
		DueTime:          1_700_003_600,
		Active:           true,
	}
	if err := mgr.Update(func(txn *Txn) error { return txn.PutLoan(loan) }); err != nil {
		t.Fatalf("store loan: %v", err)
	}

	var loaded *lending.Loan
	if err := mgr.View(func(txn *Txn) error {
		var err error
		loaded, err = txn.Loan(borrower)
		return err
	}); err != nil {
		t.Fatalf("load loan: %v", err)
	}
	if loaded == nil {
		t.Fatal("loan missing after commit")
	}
	if loaded.RepaymentAmount.Cmp(loan.RepaymentAmount) != 0 || loaded.DueTime != loan.DueTime || !loaded.Active {
		t.Fatalf("loan did not round trip: %+v", loaded)
	}
	if !loaded.CollateralVault.Equal(vaultAddr) {
		t.Fatalf("vault address did not round trip: %s", loaded.CollateralVault)
	}
}
