package types

import "math/big"

// Account tracks the spendable balance of an address known to the engine.
// All settlement runs through these records; the embedding environment is
// responsible for funding them before calls that attach value.
type Account struct {
	Balance *big.Int `json:"balance"`
}

// NewAccount returns an account with a zero balance.
func NewAccount() *Account {
	return &Account{Balance: big.NewInt(0)}
}

// Clone returns a deep copy of the account so callers can safely mutate the
// copy without affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewAccount()
	}
	clone := NewAccount()
	if a.Balance != nil {
		clone.Balance = new(big.Int).Set(a.Balance)
	}
	return clone
}
