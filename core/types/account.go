package types

import "math/big"

// Account holds the fungible balances tracked by the ledger for a single
// address. Native balances cover the chain currency used for the secondary
// leg of treasury transfers; Tokens maps a token symbol to its balance in
// minor units.
type Account struct {
	Nonce         uint64              `json:"nonce"`
	BalanceNative *big.Int            `json:"balanceNative"`
	Tokens        map[string]*big.Int `json:"tokens,omitempty"`
}

// EnsureDefaults populates nil balance fields so callers can mutate the
// account without nil checks.
func (a *Account) EnsureDefaults() {
	if a.BalanceNative == nil {
		a.BalanceNative = big.NewInt(0)
	}
	if a.Tokens == nil {
		a.Tokens = make(map[string]*big.Int)
	}
}

// TokenBalance returns the balance for the given token symbol, treating a
// missing entry as zero.
func (a *Account) TokenBalance(token string) *big.Int {
	if a == nil || a.Tokens == nil {
		return big.NewInt(0)
	}
	bal, ok := a.Tokens[token]
	if !ok || bal == nil {
		return big.NewInt(0)
	}
	return bal
}

// SetTokenBalance records the balance for the given token symbol.
func (a *Account) SetTokenBalance(token string, amount *big.Int) {
	if a.Tokens == nil {
		a.Tokens = make(map[string]*big.Int)
	}
	if amount == nil {
		amount = big.NewInt(0)
	}
	a.Tokens[token] = amount
}

// Clone returns a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	clone := &Account{Nonce: a.Nonce}
	if a.BalanceNative != nil {
		clone.BalanceNative = new(big.Int).Set(a.BalanceNative)
	}
	if a.Tokens != nil {
		clone.Tokens = make(map[string]*big.Int, len(a.Tokens))
		for token, bal := range a.Tokens {
			if bal != nil {
				clone.Tokens[token] = new(big.Int).Set(bal)
			}
		}
	}
	return clone
}
