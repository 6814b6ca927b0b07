package solana

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"

	"github.com/mr-tron/base58"
)

// Backend is the narrow surface the executor needs. *Session implements
// it; tests substitute fakes.
type Backend interface {
	WalletAddress() string
	SlippageBps() int
	LatestBlockhash(ctx context.Context) (string, error)
	SignTransaction(unsignedB64, blockhash string) (string, error)
	Quote(ctx context.Context, req OrderRequest) (*Quote, error)
	Execute(ctx context.Context, requestID, signedTxB64 string) (*ExecuteResult, error)
}

var _ Backend = (*Session)(nil)

// Executor turns an approved Solana swap intent into an aggregator trade.
type Executor struct {
	backend Backend
	log     *slog.Logger
}

// NewExecutor builds an executor over the given backend.
func NewExecutor(backend Backend, log *slog.Logger) *Executor {
	if log == nil {
		log = logger.Named("solana-executor")
	}
	return &Executor{backend: backend, log: log}
}

// Execute runs the quote-sign-execute flow. A quote without a transaction
// blob fails before the execute endpoint is ever contacted, and a failed
// execution still reports any signature the aggregator produced.
func (e *Executor) Execute(ctx context.Context, swap trade.SolanaSwap) chains.Outcome {
	if !validMint(swap.InputMint) {
		return chains.Failure(chains.CategoryConfig,
			fmt.Sprintf("输入 mint 地址非法: %q", swap.InputMint), "")
	}
	if !validMint(swap.OutputMint) {
		return chains.Failure(chains.CategoryConfig,
			fmt.Sprintf("输出 mint 地址非法: %q", swap.OutputMint), "")
	}
	if swap.AmountAtomic == 0 {
		return chains.Failure(chains.CategoryConfig, "输入数量必须为正", "")
	}

	quote, err := e.backend.Quote(ctx, OrderRequest{
		InputMint:    swap.InputMint,
		OutputMint:   swap.OutputMint,
		AmountAtomic: swap.AmountAtomic,
		Taker:        e.backend.WalletAddress(),
		SlippageBps:  e.backend.SlippageBps(),
	})
	if err != nil {
		return chains.Failure(chains.CategoryQuote,
			fmt.Sprintf("获取聚合器报价失败: %v", err), "")
	}
	if strings.TrimSpace(quote.TransactionB64) == "" {
		return chains.Failure(chains.CategoryQuote,
			"报价中没有可签名的交易数据", "")
	}

	e.log.Info("solana swap quoted",
		slog.String("input_mint", swap.InputMint),
		slog.String("output_mint", swap.OutputMint),
		slog.Uint64("amount_in", swap.AmountAtomic),
		slog.Uint64("amount_out", uint64(quote.OutAmount)),
		slog.String("request_id", quote.RequestID))

	// The blockhash is fetched right before signing so the signed
	// transaction stays valid for as long as possible.
	blockhash, err := e.backend.LatestBlockhash(ctx)
	if err != nil {
		return chains.Failure(chains.CategoryExecution,
			fmt.Sprintf("获取签名用 blockhash 失败: %v", err), "")
	}
	signed, err := e.backend.SignTransaction(quote.TransactionB64, blockhash)
	if err != nil {
		return chains.Failure(chains.CategoryExecution,
			fmt.Sprintf("签名聚合器交易失败: %v", err), "")
	}

	result, err := e.backend.Execute(ctx, quote.RequestID, signed)
	if err != nil {
		return chains.Failure(chains.CategoryExecution,
			fmt.Sprintf("提交已签名交易失败: %v", err), "")
	}

	if !result.Succeeded() {
		// The aggregator may already have broadcast the transaction,
		// so any signature stays in the result.
		return chains.Failure(chains.CategoryOnChain,
			fmt.Sprintf("聚合器执行失败: %s（code=%d）", result.ErrorMessage(), result.Code),
			result.Signature)
	}

	outcome := chains.Outcome{
		Success: true,
		Handle:  result.Signature,
		Message: fmt.Sprintf("兑换成功: %s -> %s", swap.InputMint, swap.OutputMint),
	}
	if result.InputAmountResult > 0 {
		outcome.InputAmount = strconv.FormatUint(uint64(result.InputAmountResult), 10)
	}
	if result.OutputAmountResult > 0 {
		outcome.OutputAmount = strconv.FormatUint(uint64(result.OutputAmountResult), 10)
	}
	return outcome
}

// validMint checks that the string is base58 for exactly 32 bytes.
func validMint(s string) bool {
	raw, err := base58.Decode(strings.TrimSpace(s))
	return err == nil && len(raw) == 32
}
