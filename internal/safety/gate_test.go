package safety

import (
	"context"
	"strings"
	"testing"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/risk"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

const taxedToken = "0x1111111111111111111111111111111111111111"

func evmIntent(output string) trade.Intent {
	return trade.EVMSwap{
		InputToken:  "WETH",
		OutputToken: output,
		AmountIn:    1.5,
		Network:     "ethereum",
		Venue:       "uniswap_v2",
	}
}

func TestEvaluateDeniesExcessiveTax(t *testing.T) {
	provider := risk.StaticProvider{
		risk.Key("ethereum", taxedToken): {Address: taxedToken, BuyTax: 0.25},
	}
	gate := NewGate(Config{Provider: provider})

	decision := gate.Evaluate(context.Background(), evmIntent(taxedToken))
	if decision.Allowed {
		t.Fatalf("expected deny for 25%% buy tax")
	}
	if !strings.Contains(decision.Reason, "25.0%") {
		t.Fatalf("reason should carry the offending percentage: %q", decision.Reason)
	}
}

type panicProvider struct{}

func (panicProvider) Lookup(context.Context, string, string) (risk.Summary, error) {
	panic("risk data must not be consulted for allowlisted assets")
}

func TestEvaluateAllowlistBypassesRiskData(t *testing.T) {
	gate := NewGate(Config{
		Provider: panicProvider{},
		Allowlist: map[string]map[string]struct{}{
			"ethereum": {taxedToken: {}},
		},
	})

	decision := gate.Evaluate(context.Background(), evmIntent(taxedToken))
	if !decision.Allowed {
		t.Fatalf("allowlisted asset must pass: %q", decision.Reason)
	}
	if decision.Warning != "" {
		t.Fatalf("unexpected warning: %q", decision.Warning)
	}
}

func TestEvaluateDeniesHoneypotAndCriticalWarning(t *testing.T) {
	honeypot := "0x2222222222222222222222222222222222222222"
	flagged := "0x3333333333333333333333333333333333333333"
	provider := risk.StaticProvider{
		risk.Key("ethereum", honeypot): {Address: honeypot, HighRisk: true},
		risk.Key("ethereum", flagged):  {Address: flagged, Warnings: []string{"CRITICAL: owner can drain pool"}},
	}
	gate := NewGate(Config{Provider: provider})

	if d := gate.Evaluate(context.Background(), evmIntent(honeypot)); d.Allowed {
		t.Fatalf("honeypot must be denied")
	}
	d := gate.Evaluate(context.Background(), evmIntent(flagged))
	if d.Allowed {
		t.Fatalf("critical warning must be denied")
	}
	if !strings.Contains(d.Reason, "owner can drain pool") {
		t.Fatalf("reason should quote the warning: %q", d.Reason)
	}
}

func TestEvaluateMissingSummaryAllowsWithWarning(t *testing.T) {
	gate := NewGate(Config{Provider: risk.StaticProvider{}})

	decision := gate.Evaluate(context.Background(), evmIntent(taxedToken))
	if !decision.Allowed {
		t.Fatalf("unknown risk must allow with warning: %q", decision.Reason)
	}
	if decision.Warning == "" {
		t.Fatalf("expected a proceeding-without-analysis warning")
	}
}

func TestEvaluateResolvesSymbols(t *testing.T) {
	provider := risk.StaticProvider{
		risk.Key("ethereum", taxedToken): {Address: taxedToken, SellTax: 0.5},
	}
	resolver := func(network, symbol string) (string, bool) {
		if network == "ethereum" && symbol == "SCAM" {
			return taxedToken, true
		}
		return "", false
	}
	gate := NewGate(Config{Provider: provider, Resolver: resolver})

	if d := gate.Evaluate(context.Background(), evmIntent("SCAM")); d.Allowed {
		t.Fatalf("resolved symbol must hit risk data")
	}

	// 解析不到的符号放行但附带警告。
	d := gate.Evaluate(context.Background(), evmIntent("UNLISTED"))
	if !d.Allowed || d.Warning == "" {
		t.Fatalf("unresolvable symbol should allow with warning: %+v", d)
	}
}

func TestEvaluateSimulatedSkipsChecks(t *testing.T) {
	gate := NewGate(Config{Provider: panicProvider{}})
	d := gate.Evaluate(context.Background(), trade.Simulated{Action: trade.SideBuy, Amount: 10, Symbol: "BTC"})
	if !d.Allowed {
		t.Fatalf("simulated trades have no on-chain asset to check")
	}
}
