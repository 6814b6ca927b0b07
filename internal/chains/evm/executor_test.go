package evm

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"

	"github.com/ethereum/go-ethereum/common"
)

var (
	testWallet = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testRouter = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testWETH   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testUSDC   = common.HexToAddress("0x4444444444444444444444444444444444444444")
	testHash   = common.HexToHash("0xabcdef0000000000000000000000000000000000000000000000000000000000")
)

type fakeBackend struct {
	decimals      map[common.Address]uint8
	allowance     *big.Int
	allowanceErr  error
	quote         *big.Int
	quoteErr      error
	estimateGas   uint64
	estimateErr   error
	submitHash    common.Hash
	submitErr     error
	receiptStatus uint64
	receiptErr    error

	approveCalls  int
	approveToken  common.Address
	approveSpend  common.Address
	approveAmount *big.Int

	swapCalls    int
	lastCall     SwapCall
	lastGasLimit uint64
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		decimals:      map[common.Address]uint8{testUSDC: 6},
		allowance:     big.NewInt(0),
		quote:         big.NewInt(1000),
		estimateGas:   100_000,
		submitHash:    testHash,
		receiptStatus: 1,
	}
}

func (b *fakeBackend) WalletAddress() common.Address { return testWallet }

func (b *fakeBackend) TokenDecimals(_ context.Context, token common.Address) (uint8, error) {
	decimals, ok := b.decimals[token]
	if !ok {
		return 0, errors.New("unknown token")
	}
	return decimals, nil
}

func (b *fakeBackend) Allowance(_ context.Context, _, _, _ common.Address) (*big.Int, error) {
	return b.allowance, b.allowanceErr
}

func (b *fakeBackend) SubmitApprove(_ context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	b.approveCalls++
	b.approveToken = token
	b.approveSpend = spender
	b.approveAmount = amount
	return testHash, nil
}

func (b *fakeBackend) AmountsOut(_ context.Context, _ common.Address, _ *big.Int, _ []common.Address) (*big.Int, error) {
	return b.quote, b.quoteErr
}

func (b *fakeBackend) EstimateSwapGas(_ context.Context, _ SwapCall) (uint64, error) {
	return b.estimateGas, b.estimateErr
}

func (b *fakeBackend) SubmitSwap(_ context.Context, call SwapCall, gasLimit uint64) (common.Hash, error) {
	b.swapCalls++
	b.lastCall = call
	b.lastGasLimit = gasLimit
	return b.submitHash, b.submitErr
}

func (b *fakeBackend) WaitMined(_ context.Context, _ common.Hash, _ time.Duration) (uint64, error) {
	return b.receiptStatus, b.receiptErr
}

func testParams() Params {
	return Params{
		Network:       "base",
		WrappedNative: testWETH,
		Routers:       map[string]common.Address{"uniswap": testRouter},
		Tokens:        map[string]common.Address{"USDC": testUSDC, "WETH": testWETH},
		Slippage:      0.01,
	}
}

func nativeSwap() trade.EVMSwap {
	return trade.EVMSwap{
		InputToken:  "ETH",
		OutputToken: "USDC",
		AmountIn:    0.5,
		Network:     "base",
		Venue:       "uniswap",
	}
}

func TestExecuteNativeSwapSuccess(t *testing.T) {
	backend := newFakeBackend()
	exec := NewExecutor(backend, testParams(), nil)

	outcome := exec.Execute(context.Background(), nativeSwap())
	if !outcome.Success {
		t.Fatalf("expected success, got failure: %s", outcome.Message)
	}
	if outcome.Handle != testHash.Hex() {
		t.Fatalf("expected tx hash %s, got %s", testHash.Hex(), outcome.Handle)
	}
	if backend.approveCalls != 0 {
		t.Fatal("native input must not trigger an approval")
	}
	if !backend.lastCall.NativeInput {
		t.Fatal("swap call should use the native entry point")
	}
	if backend.lastCall.Path[0] != testWETH || backend.lastCall.Path[1] != testUSDC {
		t.Fatalf("native leg should be substituted with wrapped native, path = %v", backend.lastCall.Path)
	}
	// 0.5 native with 18 decimals.
	wantIn := new(big.Int).Mul(big.NewInt(5), new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
	if backend.lastCall.AmountIn.Cmp(wantIn) != 0 {
		t.Fatalf("expected amount in %s, got %s", wantIn, backend.lastCall.AmountIn)
	}
}

func TestExecuteMinOutIsFloorOfSlippage(t *testing.T) {
	backend := newFakeBackend()
	backend.quote = big.NewInt(1000)
	exec := NewExecutor(backend, testParams(), nil)

	outcome := exec.Execute(context.Background(), nativeSwap())
	if !outcome.Success {
		t.Fatalf("expected success, got: %s", outcome.Message)
	}
	if got := backend.lastCall.MinOut.Int64(); got != 990 {
		t.Fatalf("1%% slippage on a 1000 quote must give min out 990, got %d", got)
	}
}

func TestExecuteRejectsZeroMinOut(t *testing.T) {
	backend := newFakeBackend()
	backend.quote = big.NewInt(0)
	exec := NewExecutor(backend, testParams(), nil)

	outcome := exec.Execute(context.Background(), nativeSwap())
	if outcome.Success {
		t.Fatal("zero min out must not succeed")
	}
	if outcome.Category != chains.CategoryQuote {
		t.Fatalf("expected quote category, got %s", outcome.Category)
	}
	if backend.swapCalls != 0 {
		t.Fatal("no transaction may be submitted when min out is zero")
	}
}

func TestExecuteGasEstimationFailureAborts(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateErr = errors.New("execution reverted: UniswapV2: INSUFFICIENT_LIQUIDITY")
	exec := NewExecutor(backend, testParams(), nil)

	outcome := exec.Execute(context.Background(), nativeSwap())
	if outcome.Success {
		t.Fatal("estimation failure must not succeed")
	}
	if backend.swapCalls != 0 {
		t.Fatal("estimation failure must abort before broadcasting")
	}
	if outcome.Category != chains.CategoryGas {
		t.Fatalf("expected gas category, got %s", outcome.Category)
	}
	if outcome.Handle != "" {
		t.Fatalf("no hash should exist when nothing was sent, got %s", outcome.Handle)
	}
}

func TestExecuteAppliesGasBuffer(t *testing.T) {
	backend := newFakeBackend()
	backend.estimateGas = 100_000
	exec := NewExecutor(backend, testParams(), nil)

	if outcome := exec.Execute(context.Background(), nativeSwap()); !outcome.Success {
		t.Fatalf("expected success, got: %s", outcome.Message)
	}
	if backend.lastGasLimit != 130_000 {
		t.Fatalf("expected 30%% gas buffer (130000), got %d", backend.lastGasLimit)
	}
}

func TestExecuteERC20InputApprovesWhenAllowanceInsufficient(t *testing.T) {
	backend := newFakeBackend()
	backend.allowance = big.NewInt(0)
	exec := NewExecutor(backend, testParams(), nil)

	swap := trade.EVMSwap{InputToken: "USDC", OutputToken: "ETH", AmountIn: 25, Network: "base", Venue: "uniswap"}
	outcome := exec.Execute(context.Background(), swap)
	if !outcome.Success {
		t.Fatalf("expected success, got: %s", outcome.Message)
	}
	if backend.approveCalls != 1 {
		t.Fatalf("expected one approval, got %d", backend.approveCalls)
	}
	if backend.approveToken != testUSDC || backend.approveSpend != testRouter {
		t.Fatal("approval must target the input token and the router")
	}
	// 25 USDC with 6 decimals.
	if backend.approveAmount.Int64() != 25_000_000 {
		t.Fatalf("expected approval amount 25000000, got %s", backend.approveAmount)
	}
	if backend.lastCall.NativeInput {
		t.Fatal("ERC20 input must use the token entry point")
	}
}

func TestExecuteERC20InputSkipsApprovalWhenAllowanceSufficient(t *testing.T) {
	backend := newFakeBackend()
	backend.allowance = new(big.Int).Exp(big.NewInt(10), big.NewInt(30), nil)
	exec := NewExecutor(backend, testParams(), nil)

	swap := trade.EVMSwap{InputToken: "USDC", OutputToken: "ETH", AmountIn: 25, Network: "base", Venue: "uniswap"}
	if outcome := exec.Execute(context.Background(), swap); !outcome.Success {
		t.Fatalf("expected success, got: %s", outcome.Message)
	}
	if backend.approveCalls != 0 {
		t.Fatal("sufficient allowance must not be re-approved")
	}
}

func TestExecuteOnChainRevertKeepsHash(t *testing.T) {
	backend := newFakeBackend()
	backend.receiptStatus = 0
	exec := NewExecutor(backend, testParams(), nil)

	outcome := exec.Execute(context.Background(), nativeSwap())
	if outcome.Success {
		t.Fatal("status 0 receipt must not be a success")
	}
	if outcome.Category != chains.CategoryOnChain {
		t.Fatalf("expected onchain category, got %s", outcome.Category)
	}
	if outcome.Handle != testHash.Hex() {
		t.Fatalf("failed swap must still report its hash, got %q", outcome.Handle)
	}
}

func TestExecuteSubmissionErrorCategories(t *testing.T) {
	cases := []struct {
		errText  string
		category string
	}{
		{"insufficient funds for gas * price + value", chains.CategoryFunds},
		{"ERC20: transfer amount exceeds allowance", chains.CategoryAllowance},
		{"execution reverted: UniswapV2: K", chains.CategoryRevert},
		{"nonce too low", chains.CategoryNonce},
		{"intrinsic gas too low", chains.CategoryGas},
		{"connection refused", chains.CategoryExecution},
	}

	for _, tc := range cases {
		backend := newFakeBackend()
		backend.submitErr = errors.New(tc.errText)
		backend.submitHash = common.Hash{}
		exec := NewExecutor(backend, testParams(), nil)

		outcome := exec.Execute(context.Background(), nativeSwap())
		if outcome.Success {
			t.Fatalf("%q: expected failure", tc.errText)
		}
		if outcome.Category != tc.category {
			t.Fatalf("%q: expected category %s, got %s", tc.errText, tc.category, outcome.Category)
		}
		if !strings.Contains(outcome.Message, tc.errText) {
			t.Fatalf("%q: node error detail must survive in message, got %q", tc.errText, outcome.Message)
		}
	}
}

func TestExecuteUnknownTokenFails(t *testing.T) {
	backend := newFakeBackend()
	exec := NewExecutor(backend, testParams(), nil)

	swap := trade.EVMSwap{InputToken: "ETH", OutputToken: "PEPE", AmountIn: 0.1, Network: "base", Venue: "uniswap"}
	outcome := exec.Execute(context.Background(), swap)
	if outcome.Success || outcome.Category != chains.CategoryConfig {
		t.Fatalf("unknown token must fail with config category, got %+v", outcome)
	}
}

func TestExecuteAcceptsRawTokenAddress(t *testing.T) {
	backend := newFakeBackend()
	exec := NewExecutor(backend, testParams(), nil)

	raw := "0x5555555555555555555555555555555555555555"
	swap := trade.EVMSwap{InputToken: "ETH", OutputToken: raw, AmountIn: 0.1, Network: "base", Venue: "uniswap"}
	outcome := exec.Execute(context.Background(), swap)
	if !outcome.Success {
		t.Fatalf("raw address output should work, got: %s", outcome.Message)
	}
	if backend.lastCall.Path[1] != common.HexToAddress(raw) {
		t.Fatalf("expected raw address in path, got %s", backend.lastCall.Path[1])
	}
}

func TestExecuteRejectsSameTokenPath(t *testing.T) {
	backend := newFakeBackend()
	exec := NewExecutor(backend, testParams(), nil)

	swap := trade.EVMSwap{InputToken: "USDC", OutputToken: "USDC", AmountIn: 10, Network: "base", Venue: "uniswap"}
	outcome := exec.Execute(context.Background(), swap)
	if outcome.Success {
		t.Fatal("same-token path must be rejected")
	}
	if !strings.Contains(outcome.Message, "相同") {
		t.Fatalf("unexpected message: %s", outcome.Message)
	}
}

func TestExecuteAllowsWrapStylePath(t *testing.T) {
	backend := newFakeBackend()
	exec := NewExecutor(backend, testParams(), nil)

	// Native -> WETH collapses to an identical path but is a wrap, not an error.
	swap := trade.EVMSwap{InputToken: "ETH", OutputToken: "WETH", AmountIn: 0.1, Network: "base", Venue: "uniswap"}
	outcome := exec.Execute(context.Background(), swap)
	if !outcome.Success {
		t.Fatalf("wrap style path should pass validation, got: %s", outcome.Message)
	}
}

func TestExecuteUnknownVenueFails(t *testing.T) {
	backend := newFakeBackend()
	exec := NewExecutor(backend, testParams(), nil)

	swap := nativeSwap()
	swap.Venue = "sushiswap"
	outcome := exec.Execute(context.Background(), swap)
	if outcome.Success || outcome.Category != chains.CategoryConfig {
		t.Fatalf("unknown venue must fail with config category, got %+v", outcome)
	}
	if backend.swapCalls != 0 {
		t.Fatal("no transaction may be submitted for an unknown venue")
	}
}
