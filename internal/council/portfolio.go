package council

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

// Movement 记录一次模拟持仓变动。
type Movement struct {
	Time       time.Time `json:"time"`
	Symbol     string    `json:"symbol"`
	Change     float64   `json:"change"`
	NewBalance float64   `json:"new_balance"`
}

// Portfolio 管理模拟资金与持仓。BUY 从模拟美元资金扣款并记入持仓，
// SELL 从持仓扣减；链上成交也会在这里扣减输入资产的模拟持仓，
// 作为真实余额的影子记录。
type Portfolio struct {
	mu       sync.Mutex
	fundUSD  float64
	holdings map[string]float64
	history  []Movement
}

// NewPortfolio 创建带初始模拟美元资金的组合。
func NewPortfolio(fundUSD float64) *Portfolio {
	if fundUSD < 0 {
		fundUSD = 0
	}
	return &Portfolio{
		fundUSD:  fundUSD,
		holdings: make(map[string]float64),
	}
}

// ExecuteSimulated 执行一笔模拟买卖，返回结构化结果。
func (p *Portfolio) ExecuteSimulated(sim trade.Simulated) chains.Outcome {
	symbol := strings.ToUpper(strings.TrimSpace(sim.Symbol))
	if symbol == "" || sim.Amount <= 0 {
		return chains.Failure(chains.CategoryConfig, "模拟交易的数量与资产不能为空", "")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	switch sim.Action {
	case trade.SideBuy:
		if p.fundUSD < sim.Amount {
			return chains.Failure(chains.CategoryFunds,
				fmt.Sprintf("模拟资金不足: 需要 %.2f USD，剩余 %.2f USD", sim.Amount, p.fundUSD), "")
		}
		p.fundUSD -= sim.Amount
		p.adjust(symbol, sim.Amount)
		return chains.Outcome{
			Success: true,
			Message: fmt.Sprintf("模拟买入 %s，花费 %.2f USD，剩余资金 %.2f USD", symbol, sim.Amount, p.fundUSD),
		}
	case trade.SideSell:
		held := p.holdings[symbol]
		if held < sim.Amount {
			return chains.Failure(chains.CategoryFunds,
				fmt.Sprintf("模拟持仓不足: 需要 %g %s，持有 %g", sim.Amount, symbol, held), "")
		}
		p.adjust(symbol, -sim.Amount)
		return chains.Outcome{
			Success: true,
			Message: fmt.Sprintf("模拟卖出 %g %s，剩余持仓 %g", sim.Amount, symbol, p.holdings[symbol]),
		}
	default:
		return chains.Failure(chains.CategoryConfig,
			fmt.Sprintf("未知的模拟交易方向: %q", sim.Action), "")
	}
}

// DebitOnChain 在链上成交后扣减输入资产的影子持仓。
// 持仓可以为负，表示实际余额超出了模拟记录的范围。
func (p *Portfolio) DebitOnChain(symbol string, amount float64) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || amount <= 0 {
		return
	}
	p.mu.Lock()
	p.adjust(symbol, -amount)
	p.mu.Unlock()
}

// Credit 增加某资产的模拟持仓，用于初始建仓。
func (p *Portfolio) Credit(symbol string, amount float64) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" || amount <= 0 {
		return
	}
	p.mu.Lock()
	p.adjust(symbol, amount)
	p.mu.Unlock()
}

// FundUSD 返回剩余的模拟美元资金。
func (p *Portfolio) FundUSD() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fundUSD
}

// Holding 返回某资产的模拟持仓数量。
func (p *Portfolio) Holding(symbol string) float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.holdings[strings.ToUpper(strings.TrimSpace(symbol))]
}

// Summary 返回持仓的 JSON 摘要，供拼入议事上下文。
func (p *Portfolio) Summary() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, err := json.Marshal(p.holdings)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// History 返回持仓变动历史的副本。
func (p *Portfolio) History() []Movement {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Movement, len(p.history))
	copy(out, p.history)
	return out
}

// adjust 调整持仓并记录变动。调用方必须持有锁。
func (p *Portfolio) adjust(symbol string, change float64) {
	balance := p.holdings[symbol] + change
	if balance == 0 {
		delete(p.holdings, symbol)
	} else {
		p.holdings[symbol] = balance
	}
	p.history = append(p.history, Movement{
		Time:       time.Now(),
		Symbol:     symbol,
		Change:     change,
		NewBalance: balance,
	})
}
