package types

// Account is a balance-bearing record in the ledger.
type Account struct {
	// Balance in base currency units.
	Lamports uint64 `cramberry:"1"`
	// Program allowed to interpret Data. Zero for plain wallets.
	Owner Pubkey `cramberry:"2"`
	Data  []byte `cramberry:"3"`
	// Number of transactions this account has signed.
	Nonce uint64 `cramberry:"4"`
}

// Clone returns a deep copy.
func (a Account) Clone() Account {
	if a.Data != nil {
		a.Data = append([]byte(nil), a.Data...)
	}
	return a
}

// KeyedAccount pairs an address with its account.
type KeyedAccount struct {
	Address Pubkey  `cramberry:"1"`
	Account Account `cramberry:"2"`
}
