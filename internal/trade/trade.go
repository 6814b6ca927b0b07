package trade

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
)

// Kind 标识交易意图的链类型。
type Kind string

const (
	KindEVMSwap    Kind = "evm_swap"
	KindSolanaSwap Kind = "solana_swap"
	KindSimulated  Kind = "simulated"
)

// Side 表示模拟交易的买卖方向。
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// DirectiveMarker 是议事文本中交易指令的前缀标记。
const DirectiveMarker = "TRADE:"

// SolanaNetwork 是 Solana 主网在指令文本中的网络名。
const SolanaNetwork = "solana"

// 金额下限：EVM 人类可读单位的金额小于该值视为无效。
const minEVMAmount = 1e-18

// Intent 是交易意图的标签化变体，由具体链类型实现。
type Intent interface {
	// Kind 返回意图的链类型标签。
	Kind() Kind
	// Describe 返回用于日志与投票展示的一行描述。
	Describe() string
}

// EVMSwap 描述一笔 EVM 链上的兑换意图。金额为人类可读单位。
type EVMSwap struct {
	InputToken  string  `json:"input_token"`
	OutputToken string  `json:"output_token"`
	AmountIn    float64 `json:"input_amount"`
	Network     string  `json:"network_name"`
	Venue       string  `json:"dex_name"`
}

func (t EVMSwap) Kind() Kind { return KindEVMSwap }

func (t EVMSwap) Describe() string {
	return fmt.Sprintf("%s -> %s amount=%g network=%s venue=%s",
		t.InputToken, t.OutputToken, t.AmountIn, t.Network, t.Venue)
}

// SolanaSwap 描述一笔 Solana 聚合器兑换意图。金额为原子单位整数。
type SolanaSwap struct {
	InputMint    string `json:"input_mint"`
	OutputMint   string `json:"output_mint"`
	AmountAtomic uint64 `json:"atomic_amount"`
	Venue        string `json:"dex_name"`
}

func (t SolanaSwap) Kind() Kind { return KindSolanaSwap }

func (t SolanaSwap) Describe() string {
	return fmt.Sprintf("%s -> %s atomic=%d network=%s venue=%s",
		t.InputMint, t.OutputMint, t.AmountAtomic, SolanaNetwork, t.Venue)
}

// Simulated 描述一笔旧式三段语法的模拟交易。
type Simulated struct {
	Action Side    `json:"action"`
	Amount float64 `json:"amount"`
	Symbol string  `json:"crypto"`
}

func (t Simulated) Kind() Kind { return KindSimulated }

func (t Simulated) Describe() string {
	return fmt.Sprintf("%s %g %s (simulated)", t.Action, t.Amount, t.Symbol)
}

// OutputAsset 返回意图将要获得的资产标识，供安全检查解析。
// 模拟交易没有链上资产，返回空串。
func OutputAsset(intent Intent) string {
	switch t := intent.(type) {
	case EVMSwap:
		return t.OutputToken
	case SolanaSwap:
		return t.OutputMint
	default:
		return ""
	}
}

// Network 返回意图指向的网络名。
func Network(intent Intent) string {
	switch t := intent.(type) {
	case EVMSwap:
		return t.Network
	case SolanaSwap:
		return SolanaNetwork
	default:
		return ""
	}
}

// ExtractDirective 在自由文本中查找 TRADE: 标记并返回其后的指令串。
func ExtractDirective(text string) (string, bool) {
	idx := strings.Index(text, DirectiveMarker)
	if idx < 0 {
		return "", false
	}
	directive := strings.TrimSpace(text[idx+len(DirectiveMarker):])
	if nl := strings.IndexByte(directive, '\n'); nl >= 0 {
		directive = strings.TrimSpace(directive[:nl])
	}
	return directive, directive != ""
}

// ParseDirective 解析交易指令文本。
// 五段语法 `<IN> <OUT> <AMOUNT> <NETWORK> <VENUE>` 解析为链上兑换，
// 其中网络为 solana 时金额必须是正整数原子单位；
// 三段语法 `BUY|SELL <AMOUNT> <ASSET>` 解析为模拟交易。
func ParseDirective(directive string) (Intent, error) {
	parts := strings.Fields(strings.TrimSpace(directive))
	switch len(parts) {
	case 5:
		return parseSwap(parts)
	case 3:
		return parseSimulated(parts)
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("无法识别的交易指令格式（期望 5 段或 3 段，实际 %d 段）: %q", len(parts), directive))
	}
}

func parseSwap(parts []string) (Intent, error) {
	inToken := strings.ToUpper(parts[0])
	outToken := strings.ToUpper(parts[1])
	network := strings.ToLower(parts[3])
	venue := strings.ToLower(parts[4])

	if network == SolanaNetwork {
		atomic, err := strconv.ParseUint(parts[2], 10, 64)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
				fmt.Sprintf("Solana 交易金额必须是正整数原子单位: %q", parts[2]))
		}
		if atomic == 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "Solana 交易金额不能为 0")
		}
		return SolanaSwap{
			InputMint:    parts[0],
			OutputMint:   parts[1],
			AmountAtomic: atomic,
			Venue:        venue,
		}, nil
	}

	amount, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
			fmt.Sprintf("交易金额无法解析: %q", parts[2]))
	}
	if amount <= minEVMAmount {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("交易金额必须为正数: %g", amount))
	}
	return EVMSwap{
		InputToken:  inToken,
		OutputToken: outToken,
		AmountIn:    amount,
		Network:     network,
		Venue:       venue,
	}, nil
}

func parseSimulated(parts []string) (Intent, error) {
	side := Side(strings.ToUpper(parts[0]))
	if side != SideBuy && side != SideSell {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("模拟交易动作必须是 BUY 或 SELL: %q", parts[0]))
	}
	amount, err := strconv.ParseFloat(parts[1], 64)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err,
			fmt.Sprintf("模拟交易金额无法解析: %q", parts[1]))
	}
	if amount <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("模拟交易金额必须为正数: %g", amount))
	}
	return Simulated{
		Action: side,
		Amount: amount,
		Symbol: strings.ToUpper(parts[2]),
	}, nil
}

// envelope 给意图序列化附加链类型标签，保证反序列化能还原具体变体。
type envelope struct {
	Kind    Kind            `json:"kind"`
	Payload json.RawMessage `json:"payload"`
}

// MarshalIntent 将意图序列化为带类型标签的 JSON。
func MarshalIntent(intent Intent) ([]byte, error) {
	if intent == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "交易意图不能为空")
	}
	payload, err := json.Marshal(intent)
	if err != nil {
		return nil, fmt.Errorf("编码交易意图失败: %w", err)
	}
	return json.Marshal(envelope{Kind: intent.Kind(), Payload: payload})
}

// UnmarshalIntent 从带类型标签的 JSON 还原意图变体。
func UnmarshalIntent(data []byte) (Intent, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("解码交易意图失败: %w", err)
	}
	switch env.Kind {
	case KindEVMSwap:
		var t EVMSwap
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return nil, fmt.Errorf("解码 EVM 交易意图失败: %w", err)
		}
		return t, nil
	case KindSolanaSwap:
		var t SolanaSwap
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return nil, fmt.Errorf("解码 Solana 交易意图失败: %w", err)
		}
		return t, nil
	case KindSimulated:
		var t Simulated
		if err := json.Unmarshal(env.Payload, &t); err != nil {
			return nil, fmt.Errorf("解码模拟交易意图失败: %w", err)
		}
		return t, nil
	default:
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("未知的交易意图类型: %q", env.Kind))
	}
}
