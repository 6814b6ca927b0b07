package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/llm"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

type stubLLM struct {
	resp    *llm.Response
	err     error
	wait    time.Duration
	lastReq llm.Request
}

func (s *stubLLM) Generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	s.lastReq = req
	if s.wait > 0 {
		select {
		case <-time.After(s.wait):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.resp, nil
}

func testProposal() *multisig.Proposal {
	return &multisig.Proposal{
		ID: "tx_1_abcd",
		Intent: trade.EVMSwap{
			InputToken:  "WETH",
			OutputToken: "USDC",
			AmountIn:    1.5,
			Network:     "ethereum",
			Venue:       "uniswap_v2",
		},
		Status: multisig.StatusPending,
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New("", "analyst", &stubLLM{}); err == nil {
		t.Fatalf("empty name must be rejected")
	}
	if _, err := New("alice", "analyst", nil); err == nil {
		t.Fatalf("missing llm client must be rejected")
	}
}

func TestDiscussPassesContext(t *testing.T) {
	client := &stubLLM{resp: &llm.Response{Reply: "TRADE: WETH USDC 1.5 ethereum uniswap_v2"}}
	participant, err := New("alice", "risk analyst", client)
	if err != nil {
		t.Fatalf("new participant failed: %v", err)
	}

	reply, err := participant.Discuss(context.Background(), "Propose a trade for today",
		map[string]any{"portfolio": "WETH: 2.0", "fund_usd": 1000}, nil)
	if err != nil {
		t.Fatalf("discuss failed: %v", err)
	}
	if !strings.Contains(reply, "TRADE:") {
		t.Fatalf("unexpected reply: %q", reply)
	}
	if !strings.Contains(client.lastReq.Persona, "alice") {
		t.Fatalf("persona missing participant name: %q", client.lastReq.Persona)
	}
	if len(client.lastReq.Context) != 2 || client.lastReq.Context[0].Title != "fund_usd" {
		t.Fatalf("context entries must be sorted: %+v", client.lastReq.Context)
	}
}

func TestVoteParsesVerdict(t *testing.T) {
	client := &stubLLM{resp: &llm.Response{Reply: "APPROVE: liquidity looks deep enough"}}
	participant, _ := New("bob", "trader", client)

	verdict, rationale, err := participant.Vote(context.Background(), testProposal(), nil)
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if verdict != multisig.VerdictApprove {
		t.Fatalf("expected approval, got %s", verdict)
	}
	if !strings.Contains(rationale, "liquidity") {
		t.Fatalf("rationale lost: %q", rationale)
	}
	if !strings.Contains(client.lastReq.Prompt, "tx_1_abcd") {
		t.Fatalf("vote prompt must carry the proposal id: %q", client.lastReq.Prompt)
	}

	client.resp = &llm.Response{Reply: "definitely not"}
	verdict, _, err = participant.Vote(context.Background(), testProposal(), nil)
	if err != nil {
		t.Fatalf("vote failed: %v", err)
	}
	if verdict != multisig.VerdictReject {
		t.Fatalf("ambiguous reply must reject, got %s", verdict)
	}
}

func TestVoteSurfacesLLMFailure(t *testing.T) {
	client := &stubLLM{err: errors.New("provider down")}
	participant, _ := New("carol", "strategist", client)

	if _, _, err := participant.Vote(context.Background(), testProposal(), nil); err == nil {
		t.Fatalf("llm failure must surface as an error")
	}
}

func TestDiscussTimeout(t *testing.T) {
	client := &stubLLM{wait: 50 * time.Millisecond, resp: &llm.Response{Reply: "late"}}
	participant, _ := New("dave", "trader", client, WithLLMTimeout(10*time.Millisecond))

	_, err := participant.Discuss(context.Background(), "topic", nil, nil)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context deadline exceeded, got %v", err)
	}
}
