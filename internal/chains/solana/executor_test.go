package solana

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type fakeSolanaBackend struct {
	quote    *Quote
	quoteErr error

	blockhash    string
	blockhashErr error

	signErr error

	result     *ExecuteResult
	executeErr error

	quoteCalls   int
	executeCalls int
	lastOrder    OrderRequest
	lastSigned   string
	signedWith   string
}

func newFakeSolanaBackend() *fakeSolanaBackend {
	return &fakeSolanaBackend{
		quote: &Quote{
			InputMint:      solMint,
			OutputMint:     usdcMint,
			InAmount:       1_000_000,
			OutAmount:      150_000,
			RequestID:      "req-1",
			TransactionB64: "dW5zaWduZWQ=",
		},
		blockhash: "FreshBlockhash1111111111111111111111111111111",
		result:    &ExecuteResult{Status: "Success", Signature: "sig-1", OutputAmountResult: 150_000},
	}
}

func (b *fakeSolanaBackend) WalletAddress() string { return "Wa11et11111111111111111111111111111111111111" }
func (b *fakeSolanaBackend) SlippageBps() int      { return 100 }

func (b *fakeSolanaBackend) LatestBlockhash(_ context.Context) (string, error) {
	return b.blockhash, b.blockhashErr
}

func (b *fakeSolanaBackend) SignTransaction(unsigned, blockhash string) (string, error) {
	if b.signErr != nil {
		return "", b.signErr
	}
	b.signedWith = blockhash
	return "signed:" + unsigned, nil
}

func (b *fakeSolanaBackend) Quote(_ context.Context, req OrderRequest) (*Quote, error) {
	b.quoteCalls++
	b.lastOrder = req
	return b.quote, b.quoteErr
}

func (b *fakeSolanaBackend) Execute(_ context.Context, _, signed string) (*ExecuteResult, error) {
	b.executeCalls++
	b.lastSigned = signed
	return b.result, b.executeErr
}

func testSwap() trade.SolanaSwap {
	return trade.SolanaSwap{
		InputMint:    solMint,
		OutputMint:   usdcMint,
		AmountAtomic: 1_000_000,
		Venue:        "jupiter",
	}
}

func TestSolanaExecuteSuccess(t *testing.T) {
	backend := newFakeSolanaBackend()
	exec := NewExecutor(backend, nil)

	outcome := exec.Execute(context.Background(), testSwap())
	if !outcome.Success {
		t.Fatalf("expected success, got: %s", outcome.Message)
	}
	if outcome.Handle != "sig-1" {
		t.Fatalf("expected signature sig-1, got %q", outcome.Handle)
	}
	if outcome.OutputAmount != "150000" {
		t.Fatalf("expected processed output amount, got %q", outcome.OutputAmount)
	}
	if backend.lastOrder.Taker != backend.WalletAddress() {
		t.Fatal("quote must be requested for the signing wallet")
	}
	if backend.signedWith != backend.blockhash {
		t.Fatal("transaction must be signed with the freshly fetched blockhash")
	}
	if backend.lastSigned != "signed:dW5zaWduZWQ=" {
		t.Fatalf("execute must receive the signed transaction, got %q", backend.lastSigned)
	}
}

func TestSolanaExecuteEmptyTransactionBlobSkipsExecute(t *testing.T) {
	backend := newFakeSolanaBackend()
	backend.quote.TransactionB64 = ""
	exec := NewExecutor(backend, nil)

	outcome := exec.Execute(context.Background(), testSwap())
	if outcome.Success {
		t.Fatal("a quote without a transaction blob must fail")
	}
	if outcome.Category != chains.CategoryQuote {
		t.Fatalf("expected quote category, got %s", outcome.Category)
	}
	if backend.executeCalls != 0 {
		t.Fatal("the execute endpoint must not be contacted without a transaction blob")
	}
}

func TestSolanaExecuteQuoteFailureSkipsExecute(t *testing.T) {
	backend := newFakeSolanaBackend()
	backend.quote = nil
	backend.quoteErr = errors.New("HTTP 502")
	exec := NewExecutor(backend, nil)

	outcome := exec.Execute(context.Background(), testSwap())
	if outcome.Success || outcome.Category != chains.CategoryQuote {
		t.Fatalf("expected quote failure, got %+v", outcome)
	}
	if backend.executeCalls != 0 {
		t.Fatal("execute must not run after a quote failure")
	}
}

func TestSolanaExecuteOnlyExactSuccessSettles(t *testing.T) {
	for _, status := range []string{"success", "SUCCESS", "Confirmed", "Failed", ""} {
		backend := newFakeSolanaBackend()
		backend.result = &ExecuteResult{Status: status, Signature: "sig-f"}
		exec := NewExecutor(backend, nil)

		outcome := exec.Execute(context.Background(), testSwap())
		if outcome.Success {
			t.Fatalf("status %q must not count as success", status)
		}
		if outcome.Handle != "sig-f" {
			t.Fatalf("failed execution must keep its signature, got %q", outcome.Handle)
		}
	}
}

func TestSolanaExecuteBlockhashFailureAborts(t *testing.T) {
	backend := newFakeSolanaBackend()
	backend.blockhashErr = errors.New("rpc unavailable")
	exec := NewExecutor(backend, nil)

	outcome := exec.Execute(context.Background(), testSwap())
	if outcome.Success {
		t.Fatal("blockhash failure must abort")
	}
	if backend.executeCalls != 0 {
		t.Fatal("nothing may be executed without a fresh blockhash")
	}
}

func TestSolanaExecuteRejectsInvalidMint(t *testing.T) {
	backend := newFakeSolanaBackend()
	exec := NewExecutor(backend, nil)

	swap := testSwap()
	swap.OutputMint = "not-base58-!!"
	outcome := exec.Execute(context.Background(), swap)
	if outcome.Success || outcome.Category != chains.CategoryConfig {
		t.Fatalf("invalid mint must fail with config category, got %+v", outcome)
	}
	if backend.quoteCalls != 0 {
		t.Fatal("invalid mints must be rejected before quoting")
	}
}

func TestSolanaExecuteRejectsZeroAmount(t *testing.T) {
	backend := newFakeSolanaBackend()
	exec := NewExecutor(backend, nil)

	swap := testSwap()
	swap.AmountAtomic = 0
	outcome := exec.Execute(context.Background(), swap)
	if outcome.Success || outcome.Category != chains.CategoryConfig {
		t.Fatalf("zero amount must fail with config category, got %+v", outcome)
	}
}

func TestSolanaExecuteFailureMessageCarriesDetail(t *testing.T) {
	backend := newFakeSolanaBackend()
	backend.result = &ExecuteResult{
		Status:    "Failed",
		Signature: "sig-f",
		Code:      4002,
		Err:       []byte(`"slippage tolerance exceeded"`),
	}
	exec := NewExecutor(backend, nil)

	outcome := exec.Execute(context.Background(), testSwap())
	if outcome.Success {
		t.Fatal("expected failure")
	}
	if !strings.Contains(outcome.Message, "slippage tolerance exceeded") {
		t.Fatalf("failure message should carry the aggregator detail, got %q", outcome.Message)
	}
	if !strings.Contains(outcome.Message, "4002") {
		t.Fatalf("failure message should carry the aggregator code, got %q", outcome.Message)
	}
}
