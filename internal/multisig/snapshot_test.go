package multisig

import (
	"encoding/json"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

func TestSnapshotRoundTrip(t *testing.T) {
	ledger := NewLedger()

	evmID, _ := ledger.Propose(testIntent())
	approve(t, ledger, evmID, "alice", "bob")
	if err := ledger.MarkProcessed(evmID, StatusSettledOK, "0xabc123", ""); err != nil {
		t.Fatalf("mark processed failed: %v", err)
	}

	solID, _ := ledger.Propose(trade.SolanaSwap{
		InputMint:    "So11111111111111111111111111111111111111112",
		OutputMint:   "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		AmountAtomic: 5_000_000,
		Venue:        "jupiter",
	})
	simID, _ := ledger.Propose(trade.Simulated{Action: trade.SideBuy, Amount: 250, Symbol: "BTC"})
	_ = solID
	_ = simID

	data, err := ledger.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	restored := NewLedger()
	if err := restored.Restore(data); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	before, after := ledger.All(), restored.All()
	if len(before) != len(after) {
		t.Fatalf("proposal count mismatch: %d vs %d", len(before), len(after))
	}
	for i := range before {
		if !reflect.DeepEqual(before[i], after[i]) {
			t.Fatalf("proposal %d mismatch:\nbefore %+v\nafter  %+v", i, before[i], after[i])
		}
	}

	// 终态、投票与结算句柄必须逐字段保持。
	settled, _ := restored.Get(evmID)
	if settled.Status != StatusSettledOK || settled.TxHash != "0xabc123" {
		t.Fatalf("settlement state lost in round trip: %+v", settled)
	}
	if len(settled.Votes) != 2 || settled.Votes[0].Participant != "alice" {
		t.Fatalf("votes lost in round trip: %+v", settled.Votes)
	}
}

func TestSnapshotShape(t *testing.T) {
	ledger := NewLedger()
	id, _ := ledger.Propose(testIntent())

	data, err := ledger.Snapshot()
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}

	var flat []map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		t.Fatalf("snapshot must be a flat array: %v", err)
	}
	if len(flat) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(flat))
	}
	entry := flat[0]
	if entry["id"] != id {
		t.Fatalf("missing id field: %v", entry)
	}
	for _, field := range []string{"transaction", "votes", "status"} {
		if _, ok := entry[field]; !ok {
			t.Fatalf("missing %q field: %v", field, entry)
		}
	}
	if _, ok := entry["tx_hash"]; ok {
		t.Fatalf("tx_hash must be omitted while empty")
	}
}

func TestRestoreRejectsBadSnapshots(t *testing.T) {
	ledger := NewLedger()
	if err := ledger.Restore([]byte("not json")); err == nil {
		t.Fatalf("garbage snapshot must be rejected")
	}
	bad := `[{"id":"tx_1_a","transaction":{"kind":"simulated","payload":{"action":"BUY","amount":1,"crypto":"BTC"}},"votes":[],"status":"half-done"}]`
	if err := ledger.Restore([]byte(bad)); err == nil {
		t.Fatalf("invalid status must be rejected")
	}
	dup := `[
        {"id":"tx_1_a","transaction":{"kind":"simulated","payload":{"action":"BUY","amount":1,"crypto":"BTC"}},"votes":[],"status":"pending"},
        {"id":"tx_1_a","transaction":{"kind":"simulated","payload":{"action":"BUY","amount":1,"crypto":"BTC"}},"votes":[],"status":"pending"}
]`
	if err := ledger.Restore([]byte(dup)); err == nil {
		t.Fatalf("duplicate ids must be rejected")
	}
}

func TestSaveLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state", "ledger.json")

	ledger := NewLedger()
	id, _ := ledger.Propose(testIntent())
	if err := ledger.SaveFile(path); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded := NewLedger()
	if err := loaded.LoadFile(path); err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if _, err := loaded.Get(id); err != nil {
		t.Fatalf("loaded ledger missing proposal: %v", err)
	}

	// 不存在的文件视为空账本。
	empty := NewLedger()
	if err := empty.LoadFile(filepath.Join(dir, "absent.json")); err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if len(empty.All()) != 0 {
		t.Fatalf("empty ledger expected")
	}
}
