package council

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains/evm"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains/solana"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/config"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

// Executor 把一个交易意图变成结构化执行结果。
type Executor interface {
	Execute(ctx context.Context, intent trade.Intent) chains.Outcome
}

// Dispatcher 按意图类型把执行路由到对应链的执行器，
// 会话通过缓存获取并在批次结束时由编排方统一释放。
type Dispatcher struct {
	sessions  *chains.SessionCache
	evmParams map[string]evm.Params
	portfolio *Portfolio
	log       *slog.Logger
}

var _ Executor = (*Dispatcher)(nil)

// NewDispatcher 根据配置构建路由器并注册各链的拨号函数。
func NewDispatcher(cfg *config.Config, sessions *chains.SessionCache, portfolio *Portfolio, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = logger.Named("dispatcher")
	}

	evmParams := make(map[string]evm.Params, len(cfg.EVM.Networks))
	for name, network := range cfg.EVM.Networks {
		routers := make(map[string]common.Address, len(network.Routers))
		for venue, address := range network.Routers {
			routers[venue] = common.HexToAddress(address)
		}
		tokens := make(map[string]common.Address, len(network.Tokens))
		for symbol, address := range network.Tokens {
			tokens[symbol] = common.HexToAddress(address)
		}
		evmParams[name] = evm.Params{
			Network:       name,
			NativeSymbol:  network.NativeSymbol,
			WrappedNative: common.HexToAddress(network.WrappedNative),
			Routers:       routers,
			Tokens:        tokens,
			Slippage:      cfg.EVM.SlippageTolerance,
		}
	}

	evmKey := cfg.EVM.PrivateKey
	sessions.RegisterDialer(chains.ChainEVM, func(ctx context.Context, network string) (chains.Session, error) {
		netCfg, ok := cfg.EVM.Networks[network]
		if !ok {
			return nil, fmt.Errorf("未配置 EVM 网络 %q", network)
		}
		return evm.Dial(ctx, evm.Config{
			Network:       network,
			RPCURL:        netCfg.RPCURL,
			ChainID:       netCfg.ChainID,
			PrivateKeyHex: evmKey,
		})
	})

	solanaCfg := cfg.Solana
	sessions.RegisterDialer(chains.ChainSolana, func(ctx context.Context, _ string) (chains.Session, error) {
		return solana.Dial(ctx, solana.Config{
			RPCURL:            solanaCfg.RPCURL,
			PrivateKeyB58:     solanaCfg.PrivateKeyB58,
			AggregatorBaseURL: solanaCfg.AggregatorBaseURL,
			SlippageBps:       solanaCfg.SlippageBps,
		})
	})

	return &Dispatcher{
		sessions:  sessions,
		evmParams: evmParams,
		portfolio: portfolio,
		log:       log,
	}
}

// Execute 路由并执行一个意图。会话获取失败是该提案的终态失败，
// 不会中断批次内其他网络的执行。
func (d *Dispatcher) Execute(ctx context.Context, intent trade.Intent) chains.Outcome {
	switch it := intent.(type) {
	case trade.Simulated:
		return d.portfolio.ExecuteSimulated(it)

	case trade.EVMSwap:
		network := strings.ToLower(strings.TrimSpace(it.Network))
		params, ok := d.evmParams[network]
		if !ok {
			return chains.Failure(chains.CategoryConfig,
				fmt.Sprintf("未配置 EVM 网络 %q", it.Network), "")
		}
		session, err := d.sessions.Acquire(ctx, chains.ChainEVM, network)
		if err != nil {
			return chains.Failure(chains.CategoryExecution,
				fmt.Sprintf("获取 %s 链会话失败: %v", network, err), "")
		}
		backend, ok := session.(evm.Backend)
		if !ok {
			return chains.Failure(chains.CategoryExecution, "EVM 会话类型异常", "")
		}
		outcome := evm.NewExecutor(backend, params, d.log).Execute(ctx, it)
		if outcome.Success && d.portfolio != nil {
			d.portfolio.DebitOnChain(it.InputToken, it.AmountIn)
		}
		return outcome

	case trade.SolanaSwap:
		session, err := d.sessions.Acquire(ctx, chains.ChainSolana, trade.SolanaNetwork)
		if err != nil {
			return chains.Failure(chains.CategoryExecution,
				fmt.Sprintf("获取 Solana 会话失败: %v", err), "")
		}
		backend, ok := session.(solana.Backend)
		if !ok {
			return chains.Failure(chains.CategoryExecution, "Solana 会话类型异常", "")
		}
		return solana.NewExecutor(backend, d.log).Execute(ctx, it)

	default:
		return chains.Failure(chains.CategoryConfig,
			fmt.Sprintf("未知的交易意图类型: %s", intent.Kind()), "")
	}
}

// ReleaseSessions 关闭批次中获取的全部链会话。
func (d *Dispatcher) ReleaseSessions() error {
	return d.sessions.ReleaseAll()
}
