// Package solana executes swaps through a Jupiter style aggregator,
// signing with a local ed25519 keypair.
package solana

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"

	"github.com/blocto/solana-go-sdk/client"
	"github.com/blocto/solana-go-sdk/types"
)

// Config describes how to open a Solana signing session.
type Config struct {
	RPCURL string
	// PrivateKeyB58 is the base58 encoded keypair. Never logged.
	PrivateKeyB58     string
	AggregatorBaseURL string
	SlippageBps       int
}

// Session is a Solana RPC connection plus a loaded keypair and an
// aggregator client. It satisfies chains.Session and the executor Backend.
type Session struct {
	rpc         *client.Client
	account     types.Account
	aggregator  *Aggregator
	slippageBps int
}

// Dial loads the keypair, connects to the RPC endpoint and verifies that
// the node answers. Key material never appears in errors.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, errors.New("未配置 Solana RPC 地址")
	}
	key := strings.TrimSpace(cfg.PrivateKeyB58)
	if key == "" {
		return nil, errors.New("未配置 Solana 私钥")
	}
	account, err := types.AccountFromBase58(key)
	if err != nil {
		return nil, errors.New("Solana 私钥无法解析")
	}

	rpc := client.NewClient(rpcURL)
	if _, err := rpc.GetVersion(ctx); err != nil {
		return nil, fmt.Errorf("连接 Solana 节点失败: %w", err)
	}

	slippage := cfg.SlippageBps
	if slippage <= 0 {
		slippage = 100
	}

	return &Session{
		rpc:         rpc,
		account:     account,
		aggregator:  NewAggregator(cfg.AggregatorBaseURL),
		slippageBps: slippage,
	}, nil
}

// ChainType reports the session chain family.
func (s *Session) ChainType() chains.ChainType { return chains.ChainSolana }

// Network reports the network name.
func (s *Session) Network() string { return trade.SolanaNetwork }

// Close releases the session. The RPC client holds no persistent
// connection, so this only drops references.
func (s *Session) Close() error {
	s.rpc = nil
	return nil
}

// WalletAddress returns the base58 public key of the signer.
func (s *Session) WalletAddress() string {
	return s.account.PublicKey.ToBase58()
}

// SlippageBps returns the configured slippage tolerance in basis points.
func (s *Session) SlippageBps() int { return s.slippageBps }

// LatestBlockhash fetches a fresh blockhash. It is called immediately
// before signing so the transaction does not expire in flight.
func (s *Session) LatestBlockhash(ctx context.Context) (string, error) {
	resp, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", fmt.Errorf("获取最新 blockhash 失败: %w", err)
	}
	if resp.Blockhash == "" {
		return "", errors.New("节点返回了空的 blockhash")
	}
	return resp.Blockhash, nil
}

// SignTransaction decodes the unsigned aggregator transaction, replaces its
// blockhash with a fresh one and signs it with the session keypair.
func (s *Session) SignTransaction(unsignedB64, blockhash string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(unsignedB64)
	if err != nil {
		return "", fmt.Errorf("解码聚合器交易失败: %w", err)
	}
	tx, err := types.TransactionDeserialize(raw)
	if err != nil {
		return "", fmt.Errorf("反序列化聚合器交易失败: %w", err)
	}

	tx.Message.RecentBlockHash = blockhash
	signed, err := types.NewTransaction(types.NewTransactionParam{
		Message: tx.Message,
		Signers: []types.Account{s.account},
	})
	if err != nil {
		return "", fmt.Errorf("签名交易失败: %w", err)
	}

	serialized, err := signed.Serialize()
	if err != nil {
		return "", fmt.Errorf("序列化已签名交易失败: %w", err)
	}
	return base64.StdEncoding.EncodeToString(serialized), nil
}

// Quote forwards a quote request to the aggregator.
func (s *Session) Quote(ctx context.Context, req OrderRequest) (*Quote, error) {
	return s.aggregator.Order(ctx, req)
}

// Execute forwards a signed transaction to the aggregator.
func (s *Session) Execute(ctx context.Context, requestID, signedTxB64 string) (*ExecuteResult, error) {
	return s.aggregator.Execute(ctx, requestID, signedTxB64)
}
