// Package risk 定义代币风险摘要的只读消费接口。
// 摘要由外部分析协作方产出，核心流程只读取其结论。
package risk

import (
	"context"
	"strings"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
)

// ErrUnknown 表示某资产没有可用的风险摘要。
// 未知不等于安全，调用方必须显式处理这一状态。
var ErrUnknown = xerrors.New(xerrors.CodeNotFound, "没有该资产的风险摘要")

// CriticalPrefix 标记致命级别的警告文本。
const CriticalPrefix = "CRITICAL:"

// Summary 是单个资产地址的风险摘要快照。税率为小数（0.25 = 25%）。
type Summary struct {
	Address     string   `json:"address"`
	HighRisk    bool     `json:"is_high_risk"`
	BuyTax      float64  `json:"buy_tax"`
	SellTax     float64  `json:"sell_tax"`
	TransferTax float64  `json:"transfer_tax"`
	Warnings    []string `json:"warnings"`
}

// MaxTax 返回买入/卖出/转账税率中的最大值。
func (s Summary) MaxTax() float64 {
	max := s.BuyTax
	if s.SellTax > max {
		max = s.SellTax
	}
	if s.TransferTax > max {
		max = s.TransferTax
	}
	return max
}

// CriticalWarning 返回第一条致命级别警告。
func (s Summary) CriticalWarning() (string, bool) {
	for _, warning := range s.Warnings {
		if strings.Contains(strings.ToUpper(warning), CriticalPrefix) {
			return warning, true
		}
	}
	return "", false
}

// Provider 按网络与资产地址查询风险摘要。
// 没有摘要时必须返回 ErrUnknown，而不是空的 Summary。
type Provider interface {
	Lookup(ctx context.Context, network, address string) (Summary, error)
}

// StaticProvider 使用固定映射提供风险摘要，主要用于测试与离线快照。
// 键为小写的 `network:address`。
type StaticProvider map[string]Summary

// Lookup 实现 Provider。
func (p StaticProvider) Lookup(_ context.Context, network, address string) (Summary, error) {
	summary, ok := p[Key(network, address)]
	if !ok {
		return Summary{}, ErrUnknown
	}
	return summary, nil
}

// Key 构造大小写归一的查询键。
func Key(network, address string) string {
	return strings.ToLower(network) + ":" + strings.ToLower(address)
}
