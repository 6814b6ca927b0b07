package evm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// deadlineWindow is how far in the future the router deadline is set.
	deadlineWindow = 20 * time.Minute
	// swapGas estimates get a 30% buffer, approvals 25% (applied in the session).
	swapGasBufferNum   = 13
	swapGasBufferDenom = 10

	approveReceiptWait = 2 * time.Minute
	swapReceiptWait    = 5 * time.Minute

	defaultNativeSymbol = "ETH"
	defaultSlippage     = 0.01
)

// SwapCall carries everything needed to encode one router swap call.
type SwapCall struct {
	Router   common.Address
	AmountIn *big.Int
	MinOut   *big.Int
	Path     []common.Address
	To       common.Address
	Deadline *big.Int
	// NativeInput selects swapExactETHForTokens and attaches AmountIn as value.
	NativeInput bool
}

// encode returns the calldata and the transaction value for the call.
func (c SwapCall) encode() ([]byte, *big.Int, error) {
	if c.NativeInput {
		data, err := routerABI.Pack("swapExactETHForTokens", c.MinOut, c.Path, c.To, c.Deadline)
		if err != nil {
			return nil, nil, fmt.Errorf("编码 swapExactETHForTokens 失败: %w", err)
		}
		return data, c.AmountIn, nil
	}
	data, err := routerABI.Pack("swapExactTokensForTokens", c.AmountIn, c.MinOut, c.Path, c.To, c.Deadline)
	if err != nil {
		return nil, nil, fmt.Errorf("编码 swapExactTokensForTokens 失败: %w", err)
	}
	return data, big.NewInt(0), nil
}

// Backend is the narrow chain surface the executor needs. *Session
// implements it; tests substitute fakes.
type Backend interface {
	WalletAddress() common.Address
	TokenDecimals(ctx context.Context, token common.Address) (uint8, error)
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	SubmitApprove(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error)
	AmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) (*big.Int, error)
	EstimateSwapGas(ctx context.Context, call SwapCall) (uint64, error)
	SubmitSwap(ctx context.Context, call SwapCall, gasLimit uint64) (common.Hash, error)
	WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (uint64, error)
}

var _ Backend = (*Session)(nil)

// Params describes one network's trading surface.
type Params struct {
	Network string
	// NativeSymbol is the native coin symbol, ETH by default.
	NativeSymbol string
	// WrappedNative substitutes native legs in router paths.
	WrappedNative common.Address
	// Routers maps lowercase venue names to router contracts.
	Routers map[string]common.Address
	// Tokens maps uppercase symbols to token contracts.
	Tokens map[string]common.Address
	// Slippage is the tolerated price slippage (0.01 = 1%).
	Slippage float64
}

// Executor turns an approved EVM swap intent into a router transaction.
type Executor struct {
	backend Backend
	params  Params
	log     *slog.Logger
}

// NewExecutor builds an executor over the given backend.
func NewExecutor(backend Backend, params Params, log *slog.Logger) *Executor {
	if params.NativeSymbol == "" {
		params.NativeSymbol = defaultNativeSymbol
	}
	params.NativeSymbol = strings.ToUpper(params.NativeSymbol)
	if params.Slippage <= 0 || params.Slippage >= 1 {
		params.Slippage = defaultSlippage
	}
	if log == nil {
		log = logger.Named("evm-executor")
	}
	return &Executor{backend: backend, params: params, log: log}
}

// Execute runs the full quote-approve-swap flow. Expected failures come back
// as an unsuccessful Outcome, never as a panic or partial state: once a
// transaction hash exists it is always part of the result.
func (e *Executor) Execute(ctx context.Context, swap trade.EVMSwap) chains.Outcome {
	inSym := strings.ToUpper(strings.TrimSpace(swap.InputToken))
	outSym := strings.ToUpper(strings.TrimSpace(swap.OutputToken))
	venue := strings.ToLower(strings.TrimSpace(swap.Venue))

	router, ok := e.params.Routers[venue]
	if !ok {
		return chains.Failure(chains.CategoryConfig,
			fmt.Sprintf("网络 %s 未配置 DEX 路由 %q", e.params.Network, swap.Venue), "")
	}

	isInputNative := inSym == e.params.NativeSymbol
	isOutputNative := outSym == e.params.NativeSymbol

	var inputAddr, outputAddr common.Address
	if !isInputNative {
		if inputAddr, ok = e.resolveToken(swap.InputToken); !ok {
			return chains.Failure(chains.CategoryConfig,
				fmt.Sprintf("网络 %s 未配置输入代币 %q 的地址", e.params.Network, swap.InputToken), "")
		}
	}
	if !isOutputNative {
		if outputAddr, ok = e.resolveToken(swap.OutputToken); !ok {
			return chains.Failure(chains.CategoryConfig,
				fmt.Sprintf("网络 %s 未配置输出代币 %q 的地址", e.params.Network, swap.OutputToken), "")
		}
	}
	if (isInputNative || isOutputNative) && e.params.WrappedNative == (common.Address{}) {
		return chains.Failure(chains.CategoryConfig,
			fmt.Sprintf("网络 %s 未配置包装原生币地址，无法交易原生币", e.params.Network), "")
	}

	// Amount in smallest units. Native coins always use 18 decimals.
	var amountIn *big.Int
	if isInputNative {
		amountIn = toAtomic(swap.AmountIn, 18)
	} else {
		decimals, err := e.backend.TokenDecimals(ctx, inputAddr)
		if err != nil {
			return chains.Failure(chains.CategoryConfig,
				fmt.Sprintf("读取输入代币 %s 精度失败: %v", swap.InputToken, err), "")
		}
		amountIn = toAtomic(swap.AmountIn, decimals)
	}
	if amountIn.Sign() <= 0 {
		return chains.Failure(chains.CategoryConfig, "输入数量必须为正", "")
	}

	// Router paths never contain the native coin: native legs trade as
	// the wrapped token.
	inputForPath := inputAddr
	if isInputNative {
		inputForPath = e.params.WrappedNative
	}
	outputForPath := outputAddr
	if isOutputNative {
		outputForPath = e.params.WrappedNative
	}
	path := []common.Address{inputForPath, outputForPath}

	if inputForPath == outputForPath {
		wrapping := isInputNative && outSym == "WETH"
		unwrapping := isOutputNative && inSym == "WETH"
		if !wrapping && !unwrapping {
			return chains.Failure(chains.CategoryConfig,
				fmt.Sprintf("交易路径的输入与输出相同（%s），通常是包装/解包或配置错误", swap.InputToken), "")
		}
	}

	quote, err := e.backend.AmountsOut(ctx, router, amountIn, path)
	if err != nil {
		return chains.Failure(chains.CategoryQuote,
			fmt.Sprintf("获取兑换报价失败（getAmountsOut）: %v", err), "")
	}
	minOut := applySlippage(quote, e.params.Slippage)
	if minOut.Sign() <= 0 {
		return chains.Failure(chains.CategoryQuote,
			"按滑点计算的最小产出不大于零，检查流动性或输入数量", "")
	}

	e.log.Info("evm swap quoted",
		slog.String("network", e.params.Network),
		slog.String("venue", venue),
		slog.String("path", fmt.Sprintf("%s -> %s", inSym, outSym)),
		slog.String("amount_in", amountIn.String()),
		slog.String("quote", quote.String()),
		slog.String("min_out", minOut.String()))

	wallet := e.backend.WalletAddress()

	if !isInputNative {
		if outcome, ok := e.ensureAllowance(ctx, inputAddr, router, amountIn, wallet); !ok {
			return outcome
		}
	}

	call := SwapCall{
		Router:      router,
		AmountIn:    amountIn,
		MinOut:      minOut,
		Path:        path,
		To:          wallet,
		Deadline:    big.NewInt(time.Now().Add(deadlineWindow).Unix()),
		NativeInput: isInputNative,
	}

	// An estimation failure almost always means the swap would revert,
	// so nothing is broadcast in that case.
	gas, err := e.backend.EstimateSwapGas(ctx, call)
	if err != nil {
		return chains.Failure(chains.CategoryGas,
			fmt.Sprintf("Gas 估算失败，交易未发送（通常意味着会回滚）: %v", err), "")
	}
	gasLimit := gas * swapGasBufferNum / swapGasBufferDenom

	hash, err := e.backend.SubmitSwap(ctx, call, gasLimit)
	if err != nil {
		category, message := categorize(err)
		return chains.Failure(category, message, hashString(hash))
	}

	e.log.Info("evm swap submitted",
		slog.String("network", e.params.Network),
		slog.String("tx_hash", hash.Hex()),
		slog.Uint64("gas_limit", gasLimit))

	status, err := e.backend.WaitMined(ctx, hash, swapReceiptWait)
	if err != nil {
		category, message := categorize(err)
		return chains.Failure(category, message, hash.Hex())
	}
	if status != 1 {
		return chains.Failure(chains.CategoryOnChain,
			fmt.Sprintf("交易已上链但执行失败（status=%d）", status), hash.Hex())
	}

	return chains.Outcome{
		Success:     true,
		Handle:      hash.Hex(),
		Message:     fmt.Sprintf("兑换成功: %s -> %s", inSym, outSym),
		InputAmount: amountIn.String(),
	}
}

// ensureAllowance approves the router for amountIn when the current
// allowance is insufficient. Returns ok=false with a failure outcome to
// propagate.
func (e *Executor) ensureAllowance(ctx context.Context, token, router common.Address, amountIn *big.Int, wallet common.Address) (chains.Outcome, bool) {
	allowance, err := e.backend.Allowance(ctx, token, wallet, router)
	if err != nil {
		return chains.Failure(chains.CategoryExecution,
			fmt.Sprintf("查询授权额度失败: %v", err), ""), false
	}
	if allowance.Cmp(amountIn) >= 0 {
		return chains.Outcome{}, true
	}

	hash, err := e.backend.SubmitApprove(ctx, token, router, amountIn)
	if err != nil {
		category, message := categorize(err)
		return chains.Failure(category, "授权交易失败: "+message, hashString(hash)), false
	}
	e.log.Info("erc20 approve submitted",
		slog.String("token", token.Hex()),
		slog.String("tx_hash", hash.Hex()))

	status, err := e.backend.WaitMined(ctx, hash, approveReceiptWait)
	if err != nil {
		category, message := categorize(err)
		return chains.Failure(category, "等待授权回执失败: "+message, hash.Hex()), false
	}
	if status != 1 {
		return chains.Failure(chains.CategoryAllowance,
			"授权交易在链上回滚", hash.Hex()), false
	}
	return chains.Outcome{}, true
}

func (e *Executor) resolveToken(raw string) (common.Address, bool) {
	if addr, ok := e.params.Tokens[strings.ToUpper(strings.TrimSpace(raw))]; ok {
		return addr, true
	}
	if common.IsHexAddress(raw) {
		return common.HexToAddress(raw), true
	}
	return common.Address{}, false
}

// applySlippage returns floor(quote * (1 - slippage)) using integer math
// over basis points so that 1% of a 1000 quote is exactly 990.
func applySlippage(quote *big.Int, slippage float64) *big.Int {
	bps := int64(math.Round(slippage * 10_000))
	if bps < 0 {
		bps = 0
	}
	if bps > 10_000 {
		bps = 10_000
	}
	minOut := new(big.Int).Mul(quote, big.NewInt(10_000-bps))
	return minOut.Quo(minOut, big.NewInt(10_000))
}

// toAtomic converts a human amount into the token's smallest unit, floored.
func toAtomic(amount float64, decimals uint8) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(amount), pow10(decimals))
	atomic, _ := scaled.Int(nil)
	return atomic
}

func pow10(decimals uint8) *big.Float {
	return new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
}

func hashString(hash common.Hash) string {
	if hash == (common.Hash{}) {
		return ""
	}
	return hash.Hex()
}

// categorize maps raw node errors onto failure categories. The node's
// original error text is kept in the message: for on-chain failures the
// raw detail is often the only diagnostic artifact.
func categorize(err error) (string, string) {
	detail := strings.ToLower(err.Error())
	switch {
	case strings.Contains(detail, "insufficient funds"):
		return chains.CategoryFunds, fmt.Sprintf("余额不足，无法支付 gas 或兑换数量: %v", err)
	case strings.Contains(detail, "allowance"):
		return chains.CategoryAllowance, fmt.Sprintf("代币授权额度不足: %v", err)
	case strings.Contains(detail, "reverted"):
		return chains.CategoryRevert, fmt.Sprintf("交易被回滚（检查滑点、截止时间、流动性或代币合约）: %v", err)
	case strings.Contains(detail, "nonce too low"):
		return chains.CategoryNonce, fmt.Sprintf("nonce 过低，可能需要重试: %v", err)
	case strings.Contains(detail, "gas"):
		return chains.CategoryGas, fmt.Sprintf("gas 异常（如固有 gas 过低或耗尽）: %v", err)
	default:
		return chains.CategoryExecution, fmt.Sprintf("交易执行错误: %v", err)
	}
}
