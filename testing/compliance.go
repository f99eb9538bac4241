package vaulttest

import (
	"context"
	"sync"
	"testing"

	"github.com/blockberries/vault"
	"github.com/blockberries/vault/types"
)

// garbage is a transaction no application can decode. Apps must still
// report an outcome for it and must do so identically on every replica.
var garbage = []types.Tx{
	{0xde, 0xad, 0xbe, 0xef},
	{},
	{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08},
}

type complianceCase struct {
	name string
	run  func(t *testing.T, factory func() vault.Lifecycle)
}

var complianceCases = []complianceCase{
	{"genesis", func(t *testing.T, factory func() vault.Lifecycle) {
		resp := NewHarness(t, factory()).GenesisDefault()
		if resp.LastBlock != nil {
			t.Errorf("genesis reported LastBlock %+v", resp.LastBlock)
		}
		if resp.AppHash == nil {
			t.Error("genesis returned no app hash")
		}
	}},

	{"replicas_agree", func(t *testing.T, factory func() vault.Lifecycle) {
		a, b := NewHarness(t, factory()), NewHarness(t, factory())
		if *a.GenesisDefault().AppHash != *b.GenesisDefault().AppHash {
			t.Fatal("genesis app hashes differ")
		}
		for height := uint64(1); height <= 3; height++ {
			block := MakeBlock(height, garbage[:height]...)
			oa, ob := a.ExecuteAndCommit(block), b.ExecuteAndCommit(block)
			if oa.AppHash != ob.AppHash {
				t.Fatalf("height %d: app hash %x != %x", height, oa.AppHash, ob.AppHash)
			}
			for i := range oa.TxOutcomes {
				if oa.TxOutcomes[i].Code != ob.TxOutcomes[i].Code {
					t.Errorf("height %d tx %d: code %d != %d",
						height, i, oa.TxOutcomes[i].Code, ob.TxOutcomes[i].Code)
				}
			}
		}
	}},

	{"one_outcome_per_tx", func(t *testing.T, factory func() vault.Lifecycle) {
		h := NewHarness(t, factory())
		h.GenesisDefault()
		outcome := h.ExecuteAndCommit(MakeBlock(1, garbage...))
		if len(outcome.TxOutcomes) != len(garbage) {
			t.Fatalf("got %d outcomes for %d txs", len(outcome.TxOutcomes), len(garbage))
		}
		for i, o := range outcome.TxOutcomes {
			if o.Index != uint32(i) {
				t.Errorf("outcome %d has index %d", i, o.Index)
			}
		}
	}},

	{"empty_blocks_keep_hash", func(t *testing.T, factory func() vault.Lifecycle) {
		h := NewHarness(t, factory())
		want := *h.GenesisDefault().AppHash
		for height := uint64(1); height <= 3; height++ {
			if got := h.ExecuteAndCommit(MakeEmptyBlock(height)).AppHash; got != want {
				t.Fatalf("height %d: empty block changed app hash", height)
			}
		}
	}},

	{"checktx_is_read_only", func(t *testing.T, factory func() vault.Lifecycle) {
		checked, idle := NewHarness(t, factory()), NewHarness(t, factory())
		checked.GenesisDefault()
		idle.GenesisDefault()

		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func(tx types.Tx) {
				defer wg.Done()
				if _, err := checked.Server().CheckTx(context.Background(), tx, types.MempoolFirstSeen); err != nil {
					t.Errorf("CheckTx: %v", err)
				}
			}(garbage[i%len(garbage)])
		}
		wg.Wait()

		if checked.ExecuteAndCommit(MakeEmptyBlock(1)).AppHash != idle.ExecuteAndCommit(MakeEmptyBlock(1)).AppHash {
			t.Error("CheckTx changed application state")
		}
	}},

	{"query_tracks_height", func(t *testing.T, factory func() vault.Lifecycle) {
		h := NewHarness(t, factory())
		h.GenesisDefault()
		for height := uint64(1); height <= 2; height++ {
			h.ExecuteAndCommit(MakeEmptyBlock(height))

			var wg sync.WaitGroup
			for i := 0; i < 5; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := h.Server().Query(context.Background(), types.StateQuery{Path: "/unknown"})
					if err != nil {
						t.Errorf("Query: %v", err)
						return
					}
					if res.Height != height {
						t.Errorf("query height %d, want %d", res.Height, height)
					}
				}()
			}
			wg.Wait()
		}
	}},

	{"restart_reports_commit", func(t *testing.T, factory func() vault.Lifecycle) {
		app := factory()
		h := NewHarness(t, app)
		h.GenesisDefault()
		h.ExecuteAndCommit(MakeEmptyBlock(1))
		last := h.ExecuteAndCommit(MakeBlock(2, garbage[0]))

		resp := NewHarness(t, app).Restart(types.BlockID{Height: 2})
		if resp.LastBlock == nil || resp.LastBlock.Height != 2 {
			t.Fatalf("restart reported %+v, want height 2", resp.LastBlock)
		}
		if resp.AppHash == nil || *resp.AppHash != last.AppHash {
			t.Error("restart app hash differs from last commit")
		}
	}},
}

// RunComplianceSuite checks the lifecycle contract every engine relies
// on: determinism across replicas, one outcome per transaction,
// read-only CheckTx and Query, and restart reporting. factory must
// return a fresh application that accepts DefaultGenesis.
func RunComplianceSuite(t *testing.T, factory func() vault.Lifecycle) {
	t.Helper()
	for _, c := range complianceCases {
		t.Run(c.name, func(t *testing.T) { c.run(t, factory) })
	}
}
