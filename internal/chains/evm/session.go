// Package evm implements trade execution against UniswapV2 style routers
// on EVM compatible networks.
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const (
	// approveGasFallback is used when gas estimation for an approval fails.
	approveGasFallback = 300_000
	receiptPollEvery   = 2 * time.Second
)

// Config describes how to open a signing session on one EVM network.
type Config struct {
	Network string
	RPCURL  string
	// ChainID is the expected chain ID. A mismatch with the node is fatal.
	ChainID       uint64
	PrivateKeyHex string
}

// Session is an open connection to an EVM network plus a loaded signer.
// It satisfies both chains.Session and the executor Backend.
type Session struct {
	network string
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	address common.Address
	signer  coretypes.Signer
}

// Dial connects to the configured RPC endpoint, verifies the chain identity
// and loads the signing key. The private key never appears in errors or logs.
func Dial(ctx context.Context, cfg Config) (*Session, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, fmt.Errorf("网络 %s 未配置 RPC 地址", cfg.Network)
	}

	keyHex := strings.TrimPrefix(strings.TrimSpace(cfg.PrivateKeyHex), "0x")
	if keyHex == "" {
		return nil, fmt.Errorf("网络 %s 未配置签名私钥", cfg.Network)
	}
	key, err := crypto.HexToECDSA(keyHex)
	if err != nil {
		return nil, fmt.Errorf("网络 %s 的私钥无法解析", cfg.Network)
	}

	eth, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("连接 %s 节点失败: %w", cfg.Network, err)
	}

	chainID, err := eth.ChainID(ctx)
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("获取 %s 链 ID 失败: %w", cfg.Network, err)
	}
	if cfg.ChainID != 0 && chainID.Uint64() != cfg.ChainID {
		eth.Close()
		return nil, fmt.Errorf("网络 %s 链 ID 不匹配: 期望 %d，节点返回 %s",
			cfg.Network, cfg.ChainID, chainID)
	}

	return &Session{
		network: strings.ToLower(cfg.Network),
		eth:     eth,
		chainID: chainID,
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		signer:  coretypes.LatestSignerForChainID(chainID),
	}, nil
}

// ChainType reports the session chain family.
func (s *Session) ChainType() chains.ChainType { return chains.ChainEVM }

// Network reports which network this session is connected to.
func (s *Session) Network() string { return s.network }

// Close releases the underlying RPC connection.
func (s *Session) Close() error {
	if s.eth != nil {
		s.eth.Close()
		s.eth = nil
	}
	return nil
}

// WalletAddress returns the signer address.
func (s *Session) WalletAddress() common.Address { return s.address }

// TokenDecimals reads the decimals of an ERC20 token.
func (s *Session) TokenDecimals(ctx context.Context, token common.Address) (uint8, error) {
	out, err := s.callView(ctx, token, erc20ABI, "decimals")
	if err != nil {
		return 0, fmt.Errorf("读取代币 %s 精度失败: %w", token.Hex(), err)
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("代币 %s 返回的精度类型异常", token.Hex())
	}
	return decimals, nil
}

// Allowance reads the ERC20 allowance granted by owner to spender.
func (s *Session) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	out, err := s.callView(ctx, token, erc20ABI, "allowance", owner, spender)
	if err != nil {
		return nil, fmt.Errorf("查询代币授权额度失败: %w", err)
	}
	allowance, ok := out[0].(*big.Int)
	if !ok {
		return nil, errors.New("授权额度返回类型异常")
	}
	return allowance, nil
}

// AmountsOut asks the router how much output the path yields for amountIn.
func (s *Session) AmountsOut(ctx context.Context, router common.Address, amountIn *big.Int, path []common.Address) (*big.Int, error) {
	out, err := s.callView(ctx, router, routerABI, "getAmountsOut", amountIn, path)
	if err != nil {
		return nil, err
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, errors.New("getAmountsOut 返回结果为空")
	}
	return amounts[len(amounts)-1], nil
}

// SubmitApprove sends an ERC20 approve transaction and returns its hash.
// Gas is the estimate with a 25% buffer, or a fixed fallback when the
// estimate itself fails.
func (s *Session) SubmitApprove(ctx context.Context, token, spender common.Address, amount *big.Int) (common.Hash, error) {
	data, err := erc20ABI.Pack("approve", spender, amount)
	if err != nil {
		return common.Hash{}, fmt.Errorf("编码 approve 调用失败: %w", err)
	}

	gasLimit := uint64(approveGasFallback)
	estimate, err := s.eth.EstimateGas(ctx, gethcore.CallMsg{
		From: s.address,
		To:   &token,
		Data: data,
	})
	if err == nil {
		gasLimit = estimate * 125 / 100
	}

	return s.submit(ctx, token, big.NewInt(0), gasLimit, data)
}

// EstimateSwapGas estimates the gas the swap call would consume.
// An estimation failure usually means the transaction would revert.
func (s *Session) EstimateSwapGas(ctx context.Context, call SwapCall) (uint64, error) {
	data, value, err := call.encode()
	if err != nil {
		return 0, err
	}
	return s.eth.EstimateGas(ctx, gethcore.CallMsg{
		From:  s.address,
		To:    &call.Router,
		Value: value,
		Data:  data,
	})
}

// SubmitSwap signs and broadcasts the swap with the given gas limit.
func (s *Session) SubmitSwap(ctx context.Context, call SwapCall, gasLimit uint64) (common.Hash, error) {
	data, value, err := call.encode()
	if err != nil {
		return common.Hash{}, err
	}
	return s.submit(ctx, call.Router, value, gasLimit, data)
}

// WaitMined polls for the transaction receipt and returns its status.
func (s *Session) WaitMined(ctx context.Context, hash common.Hash, timeout time.Duration) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(receiptPollEvery)
	defer ticker.Stop()

	for {
		receipt, err := s.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt.Status, nil
		}
		if !errors.Is(err, gethcore.NotFound) {
			return 0, fmt.Errorf("查询交易回执失败: %w", err)
		}
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("等待交易 %s 回执超时: %w", hash.Hex(), ctx.Err())
		case <-ticker.C:
		}
	}
}

// submit builds a legacy transaction, signs it and broadcasts it.
func (s *Session) submit(ctx context.Context, to common.Address, value *big.Int, gasLimit uint64, data []byte) (common.Hash, error) {
	nonce, err := s.eth.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取 nonce 失败: %w", err)
	}
	gasPrice, err := s.eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("获取 gas 价格失败: %w", err)
	}

	tx := coretypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := coretypes.SignTx(tx, s.signer, s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("签名交易失败: %w", err)
	}
	if err := s.eth.SendTransaction(ctx, signed); err != nil {
		return signed.Hash(), err
	}
	return signed.Hash(), nil
}

func (s *Session) callView(ctx context.Context, to common.Address, contractABI abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("编码 %s 调用失败: %w", method, err)
	}
	raw, err := s.eth.CallContract(ctx, gethcore.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, err
	}
	out, err := contractABI.Unpack(method, raw)
	if err != nil {
		return nil, fmt.Errorf("解码 %s 返回值失败: %w", method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s 未返回任何值", method)
	}
	return out, nil
}
