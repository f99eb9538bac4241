package types_test

import (
	"testing"
	"time"

	"github.com/blockberries/cramberry/pkg/cramberry"
	"github.com/blockberries/vault/types"
)

// roundTrip marshals v, unmarshals into a new T, and returns it.
func roundTrip[T any](t *testing.T, v T) T {
	t.Helper()
	data, err := cramberry.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out T
	if err := cramberry.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	return out
}

func TestTimestamp_RoundTrip(t *testing.T) {
	ts := types.NewTimestamp(time.Date(2024, 6, 15, 12, 30, 45, 123456789, time.UTC))
	got := roundTrip(t, ts)
	if got != ts {
		t.Fatalf("Timestamp round-trip failed: got %+v, want %+v", got, ts)
	}
	goTime := got.Time()
	if goTime.Year() != 2024 || goTime.Month() != 6 || goTime.Day() != 15 {
		t.Fatalf("Timestamp.ToTime date wrong: %v", goTime)
	}
	if goTime.Nanosecond() != 123456789 {
		t.Fatalf("Timestamp.ToTime nanos wrong: %d", goTime.Nanosecond())
	}
}

func TestKeyedAccount_RoundTrip(t *testing.T) {
	v := types.KeyedAccount{
		Address: types.Pubkey{1, 2, 3},
		Account: types.Account{Lamports: 890880, Owner: types.Pubkey{9}, Data: []byte{0xAA, 0x01, 0x02}, Nonce: 7},
	}
	got := roundTrip(t, v)
	if got.Address != v.Address || got.Account.Lamports != v.Account.Lamports ||
		got.Account.Owner != v.Account.Owner || got.Account.Nonce != v.Account.Nonce ||
		string(got.Account.Data) != string(v.Account.Data) {
		t.Fatalf("KeyedAccount round-trip failed: got %+v", got)
	}
}

func TestReceipt_RoundTrip(t *testing.T) {
	v := types.Receipt{
		TxID:   types.HashBytes([]byte("tx")),
		Height: 12,
		Outcome: types.TxOutcome{
			Index:  1,
			Code:   3,
			Info:   "vault not initialized",
			Events: []types.Event{{Kind: "deposit"}},
		},
	}
	got := roundTrip(t, v)
	if got.TxID != v.TxID || got.Height != 12 || got.Outcome.Code != 3 || got.Outcome.Info != v.Outcome.Info {
		t.Fatalf("Receipt round-trip failed: got %+v", got)
	}
}

// TestDeterminism verifies that the same struct always produces
// the same bytes (cramberry's core guarantee).
func TestDeterminism(t *testing.T) {
	v := types.FinalizedBlock{
		Height:        42,
		Time:          types.Timestamp{Seconds: 1000, Nanos: 500},
		Txs:           []types.Tx{[]byte("a"), []byte("b")},
		LastBlockHash: types.Hash{0xFF},
	}
	data1, err := cramberry.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	data2, err := cramberry.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if len(data1) != len(data2) {
		t.Fatalf("non-deterministic: len %d vs %d", len(data1), len(data2))
	}
	for i := range data1 {
		if data1[i] != data2[i] {
			t.Fatalf("non-deterministic at byte %d: 0x%02x vs 0x%02x", i, data1[i], data2[i])
		}
	}
}
