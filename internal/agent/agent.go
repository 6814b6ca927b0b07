package agent

import (
	"context"
	stdErrors "errors"
	"fmt"
	"sort"
	"strings"
	"time"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/llm"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

// Participant 是议事会的一名逻辑成员。
// 它通过大模型产出议事发言与投票，自身不直接触链。
type Participant struct {
	name       string
	role       string
	llmClient  llm.Client
	llmTimeout time.Duration
}

// Option 定义可选的 Participant 配置。
type Option func(*Participant)

// WithLLMTimeout 设置调用大模型的超时时间。
func WithLLMTimeout(timeout time.Duration) Option {
	return func(p *Participant) {
		if timeout <= 0 {
			p.llmTimeout = 0
			return
		}
		p.llmTimeout = timeout
	}
}

// New 创建一名议事会成员。
func New(name, role string, llmClient llm.Client, opts ...Option) (*Participant, error) {
	if strings.TrimSpace(name) == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "成员名称不能为空")
	}
	if llmClient == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置大模型客户端")
	}
	p := &Participant{
		name:      name,
		role:      role,
		llmClient: llmClient,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// Name 返回成员名称。
func (p *Participant) Name() string { return p.name }

// persona 返回提示词中使用的角色设定。
func (p *Participant) persona() string {
	if strings.TrimSpace(p.role) == "" {
		return p.name
	}
	return fmt.Sprintf("%s（%s）", p.name, p.role)
}

// Discuss 让成员就某个议题发言。回复中可能包含 TRADE: 交易指令。
func (p *Participant) Discuss(ctx context.Context, topic string, voteContext map[string]any, history []llm.HistoryEntry) (string, error) {
	if strings.TrimSpace(topic) == "" {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "议题不能为空")
	}

	response, err := p.generate(ctx, llm.Request{
		Persona: p.persona(),
		Prompt:  topic,
		Context: contextEntries(voteContext),
		History: history,
	})
	if err != nil {
		return "", err
	}
	return response.Reply, nil
}

// Vote 评估一个提案并返回裁决与理由。
// 实现 multisig.Voter；大模型不可用时返回错误，提案留待下一轮。
func (p *Participant) Vote(ctx context.Context, proposal *multisig.Proposal, voteContext map[string]any) (multisig.Verdict, string, error) {
	if proposal == nil || proposal.Intent == nil {
		return "", "", xerrors.New(xerrors.CodeInvalidArgument, "提案不能为空")
	}

	intentData, err := trade.MarshalIntent(proposal.Intent)
	if err != nil {
		return "", "", err
	}

	var prompt strings.Builder
	prompt.WriteString("Evaluate the following proposed transaction and vote on it.\n")
	prompt.WriteString(fmt.Sprintf("Proposal ID: %s\n", proposal.ID))
	prompt.WriteString(fmt.Sprintf("Trade: %s\n", proposal.Intent.Describe()))
	prompt.WriteString(fmt.Sprintf("Details: %s\n", intentData))
	prompt.WriteString("Start your reply with APPROVE or REJECT, followed by your reasoning.")

	response, err := p.generate(ctx, llm.Request{
		Persona: p.persona(),
		Prompt:  prompt.String(),
		Context: contextEntries(voteContext),
	})
	if err != nil {
		return "", "", err
	}
	return multisig.ParseVerdict(response.Reply), response.Reply, nil
}

func (p *Participant) generate(ctx context.Context, req llm.Request) (*llm.Response, error) {
	llmCtx := ctx
	if p.llmTimeout > 0 {
		var cancel context.CancelFunc
		llmCtx, cancel = context.WithTimeout(ctx, p.llmTimeout)
		defer cancel()
	}

	response, err := p.llmClient.Generate(llmCtx, req)
	if err != nil {
		if stdErrors.Is(err, context.DeadlineExceeded) {
			return nil, xerrors.Wrap(xerrors.CodeTimeout, err, "大模型推理超时")
		}
		return nil, xerrors.Wrap(xerrors.CodeExecutorFailure, err, "大模型推理失败")
	}
	if response == nil || strings.TrimSpace(response.Reply) == "" {
		return nil, xerrors.New(xerrors.CodeExecutorFailure, "大模型回复为空")
	}
	return response, nil
}

// contextEntries 将投票上下文整理为稳定有序的背景切片。
func contextEntries(voteContext map[string]any) []llm.ContextEntry {
	if len(voteContext) == 0 {
		return nil
	}
	keys := make([]string, 0, len(voteContext))
	for key := range voteContext {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	entries := make([]llm.ContextEntry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, llm.ContextEntry{
			Title:   key,
			Content: fmt.Sprint(voteContext[key]),
		})
	}
	return entries
}

var _ multisig.Voter = (*Participant)(nil)
