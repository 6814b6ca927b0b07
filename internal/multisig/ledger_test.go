package multisig

import (
	"errors"
	"strings"
	"testing"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

func testIntent() trade.Intent {
	return trade.EVMSwap{
		InputToken:  "WETH",
		OutputToken: "USDC",
		AmountIn:    1.5,
		Network:     "ethereum",
		Venue:       "uniswap_v2",
	}
}

func approve(t *testing.T, ledger *Ledger, id string, participants ...string) {
	t.Helper()
	for _, participant := range participants {
		if err := ledger.appendVote(id, Vote{Participant: participant, Verdict: VerdictApprove}); err != nil {
			t.Fatalf("append vote failed: %v", err)
		}
	}
	if _, err := ledger.settleVoting(id, len(participants), len(participants)); err != nil {
		t.Fatalf("settle voting failed: %v", err)
	}
}

func TestProposeStartsPending(t *testing.T) {
	ledger := NewLedger()
	id, err := ledger.Propose(testIntent())
	if err != nil {
		t.Fatalf("propose failed: %v", err)
	}
	if !strings.HasPrefix(id, "tx_") {
		t.Fatalf("unexpected proposal id: %q", id)
	}

	proposal, err := ledger.Get(id)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if proposal.Status != StatusPending {
		t.Fatalf("new proposal must be pending, got %s", proposal.Status)
	}
	if len(proposal.Votes) != 0 {
		t.Fatalf("new proposal must have no votes")
	}

	if _, err := ledger.Propose(nil); err == nil {
		t.Fatalf("nil intent must be rejected")
	}
	if _, err := ledger.Get("tx_missing"); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("expected ErrProposalNotFound, got %v", err)
	}
}

func TestMarkProcessedIdempotence(t *testing.T) {
	ledger := NewLedger()
	id, _ := ledger.Propose(testIntent())

	// 未批准的提案不能写入执行结果。
	if err := ledger.MarkProcessed(id, StatusSettledOK, "0xabc", ""); !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}

	approve(t, ledger, id, "alice")
	if err := ledger.MarkProcessed(id, StatusSettledOK, "0xabc", ""); err != nil {
		t.Fatalf("first terminal write failed: %v", err)
	}

	// 二次写入必须报错且不覆盖首次结果。
	if err := ledger.MarkProcessed(id, StatusSettledFailed, "", "late failure"); !errors.Is(err, ErrProposalFinalized) {
		t.Fatalf("expected ErrProposalFinalized, got %v", err)
	}
	proposal, _ := ledger.Get(id)
	if proposal.Status != StatusSettledOK || proposal.TxHash != "0xabc" || proposal.ErrorMessage != "" {
		t.Fatalf("first terminal write was not preserved: %+v", proposal)
	}
}

func TestMarkProcessedRejectsNonTerminalStatus(t *testing.T) {
	ledger := NewLedger()
	id, _ := ledger.Propose(testIntent())
	approve(t, ledger, id, "alice")

	for _, status := range []Status{StatusPending, StatusApproved, StatusRejected, Status("bogus")} {
		if err := ledger.MarkProcessed(id, status, "", ""); err == nil {
			t.Fatalf("status %q must be rejected", status)
		}
	}
}

func TestClaimApprovedIsAtMostOnce(t *testing.T) {
	ledger := NewLedger()
	id, _ := ledger.Propose(testIntent())
	approve(t, ledger, id, "alice")

	claimed := ledger.ClaimApproved()
	if len(claimed) != 1 || claimed[0].ID != id {
		t.Fatalf("expected one claimed proposal, got %d", len(claimed))
	}
	if again := ledger.ClaimApproved(); len(again) != 0 {
		t.Fatalf("second claim must be empty, got %d", len(again))
	}
	if approved := ledger.Approved(); len(approved) != 0 {
		t.Fatalf("claimed proposals must leave the approved view")
	}

	// 执行结果写回后提案进入终态。
	if err := ledger.MarkProcessed(id, StatusSettledFailed, "", "reverted"); err != nil {
		t.Fatalf("mark processed failed: %v", err)
	}
}

func TestPruneKeepsLiveProposals(t *testing.T) {
	ledger := NewLedger()
	pendingID, _ := ledger.Propose(testIntent())
	approvedID, _ := ledger.Propose(testIntent())
	settledID, _ := ledger.Propose(testIntent())

	approve(t, ledger, approvedID, "alice")
	approve(t, ledger, settledID, "alice")
	if err := ledger.MarkProcessed(settledID, StatusSettledOK, "0xdef", ""); err != nil {
		t.Fatalf("mark processed failed: %v", err)
	}

	if removed := ledger.Prune(); removed != 1 {
		t.Fatalf("expected 1 pruned proposal, got %d", removed)
	}
	if _, err := ledger.Get(settledID); !errors.Is(err, ErrProposalNotFound) {
		t.Fatalf("settled proposal should be pruned")
	}
	if _, err := ledger.Get(pendingID); err != nil {
		t.Fatalf("pending proposal must survive prune: %v", err)
	}
	if _, err := ledger.Get(approvedID); err != nil {
		t.Fatalf("approved proposal must survive prune: %v", err)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	ledger := NewLedger()
	id, _ := ledger.Propose(testIntent())
	if err := ledger.appendVote(id, Vote{Participant: "alice", Verdict: VerdictApprove}); err != nil {
		t.Fatalf("append vote failed: %v", err)
	}

	proposal, _ := ledger.Get(id)
	proposal.Votes[0].Participant = "mallory"
	proposal.Status = StatusRejected

	fresh, _ := ledger.Get(id)
	if fresh.Votes[0].Participant != "alice" || fresh.Status != StatusPending {
		t.Fatalf("ledger state must not be reachable through returned copies: %+v", fresh)
	}
}
