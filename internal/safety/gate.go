// Package safety 在交易意图进入账本之前执行风险前置检查。
// 检查本身无副作用，拒绝原因由调用方负责记录审计日志。
package safety

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/risk"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

// DefaultTaxThreshold 是默认的税率拒绝阈值（20%）。
const DefaultTaxThreshold = 0.20

// SymbolResolver 将某网络上的代币符号解析为链上地址。
type SymbolResolver func(network, symbol string) (string, bool)

// Decision 是安全门的评估结果。
type Decision struct {
	Allowed bool
	// Reason 在拒绝时给出完整原因。
	Reason string
	// Warning 在放行时可能携带非致命提示（如缺少风险分析）。
	Warning string
}

// Allow 构造放行结果。
func Allow(warning string) Decision {
	return Decision{Allowed: true, Warning: warning}
}

// Deny 构造拒绝结果。
func Deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// Config 描述安全门的构造参数。
type Config struct {
	Provider risk.Provider
	Resolver SymbolResolver
	// Allowlist 为每个网络维护免检资产地址集合，地址一律小写。
	Allowlist map[string]map[string]struct{}
	// TaxThreshold 超过该税率即拒绝，0 表示使用默认值。
	TaxThreshold float64
}

// Gate 是交易意图的安全前置检查器。
type Gate struct {
	provider     risk.Provider
	resolver     SymbolResolver
	allowlist    map[string]map[string]struct{}
	taxThreshold float64
}

// NewGate 创建安全门。Provider 为空时所有非免检资产都按未知风险处理。
func NewGate(cfg Config) *Gate {
	threshold := cfg.TaxThreshold
	if threshold <= 0 {
		threshold = DefaultTaxThreshold
	}
	return &Gate{
		provider:     cfg.Provider,
		resolver:     cfg.Resolver,
		allowlist:    cfg.Allowlist,
		taxThreshold: threshold,
	}
}

// Evaluate 评估一笔交易意图能否进入提案流程。
// 免检名单绕过风险数据；缺少风险摘要时放行但附带警告；
// 蜜罐、超阈税率、致命警告一律拒绝。
func (g *Gate) Evaluate(ctx context.Context, intent trade.Intent) Decision {
	if intent == nil {
		return Deny("交易意图为空")
	}
	if intent.Kind() == trade.KindSimulated {
		// 模拟交易不触链，无需风险检查。
		return Allow("")
	}

	network := trade.Network(intent)
	asset := trade.OutputAsset(intent)
	address, resolved := g.resolveAsset(network, asset)
	if !resolved {
		return Allow(fmt.Sprintf("输出资产 %q 在网络 %s 上无法解析为地址，跳过风险检查", asset, network))
	}

	if g.allowlisted(network, address) {
		return Allow("")
	}

	if g.provider == nil {
		return Allow(fmt.Sprintf("没有 %s 的风险摘要，在无分析的情况下继续", address))
	}
	summary, err := g.provider.Lookup(ctx, network, address)
	if err != nil {
		if errors.Is(err, risk.ErrUnknown) {
			return Allow(fmt.Sprintf("没有 %s 的风险摘要，在无分析的情况下继续", address))
		}
		return Allow(fmt.Sprintf("查询 %s 的风险摘要失败（%v），在无分析的情况下继续", address, err))
	}

	if summary.HighRisk {
		return Deny(fmt.Sprintf("输出资产 %s 被标记为蜜罐/高风险", address))
	}
	if tax := summary.MaxTax(); tax > g.taxThreshold {
		return Deny(fmt.Sprintf("输出资产 %s 税率过高: %.1f%%（阈值 %.1f%%）",
			address, tax*100, g.taxThreshold*100))
	}
	if warning, ok := summary.CriticalWarning(); ok {
		return Deny(fmt.Sprintf("输出资产 %s 存在致命安全警告: %q", address, warning))
	}
	return Allow("")
}

// resolveAsset 将输出资产解析为规范地址。
// 已是地址形态的输入直接透传，符号则通过配置表解析。
func (g *Gate) resolveAsset(network, asset string) (string, bool) {
	if asset == "" {
		return "", false
	}
	if looksLikeAddress(asset) {
		return strings.ToLower(asset), true
	}
	if g.resolver == nil {
		return "", false
	}
	address, ok := g.resolver(network, strings.ToUpper(asset))
	if !ok {
		return "", false
	}
	return strings.ToLower(address), true
}

func (g *Gate) allowlisted(network, address string) bool {
	set, ok := g.allowlist[strings.ToLower(network)]
	if !ok {
		return false
	}
	_, ok = set[strings.ToLower(address)]
	return ok
}

// looksLikeAddress 判断资产标识是否已经是地址形态。
// EVM 地址以 0x 开头；Solana mint 是 32 字节以上的 base58 串。
func looksLikeAddress(asset string) bool {
	lower := strings.ToLower(asset)
	if strings.HasPrefix(lower, "0x") {
		return true
	}
	return len(asset) >= 32
}
