package multisig

import (
	"fmt"
	"sync"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

// Ledger 是提案的内存账本。
// 状态只由编排方单线程推进，这里的锁用于保护快照与只读查询。
type Ledger struct {
	mu        sync.RWMutex
	proposals []*Proposal
	index     map[string]*Proposal
}

// NewLedger 创建空账本。
func NewLedger() *Ledger {
	return &Ledger{index: make(map[string]*Proposal)}
}

// Propose 以 pending 状态追加一个新提案并返回其 ID。
func (l *Ledger) Propose(intent trade.Intent) (string, error) {
	if intent == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "交易意图不能为空")
	}
	proposal := &Proposal{
		ID:     NewProposalID(),
		Intent: intent,
		Votes:  []Vote{},
		Status: StatusPending,
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.proposals = append(l.proposals, proposal)
	l.index[proposal.ID] = proposal
	return proposal.ID, nil
}

// Get 返回提案的副本。
func (l *Ledger) Get(id string) (*Proposal, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	proposal, ok := l.index[id]
	if !ok {
		return nil, ErrProposalNotFound
	}
	return cloneProposal(proposal), nil
}

// All 按提案顺序返回全部提案的副本。
func (l *Ledger) All() []*Proposal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Proposal, 0, len(l.proposals))
	for _, proposal := range l.proposals {
		out = append(out, cloneProposal(proposal))
	}
	return out
}

// Pending 返回仍在投票中的提案副本。
func (l *Ledger) Pending() []*Proposal {
	return l.filter(func(p *Proposal) bool { return p.Status == StatusPending })
}

// Approved 返回已批准且尚未被执行认领的提案副本。
func (l *Ledger) Approved() []*Proposal {
	return l.filter(func(p *Proposal) bool { return p.Status == StatusApproved && !p.claimed })
}

// ClaimApproved 认领全部待执行的已批准提案。
// 每个提案只会被认领一次，保证至多一次执行尝试。
func (l *Ledger) ClaimApproved() []*Proposal {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []*Proposal
	for _, proposal := range l.proposals {
		if proposal.Status == StatusApproved && !proposal.claimed {
			proposal.claimed = true
			out = append(out, cloneProposal(proposal))
		}
	}
	return out
}

// MarkProcessed 写入提案的终态执行结果。
// 只有 approved 状态的提案可以写入；对终态提案的二次写入返回
// ErrProposalFinalized，视为编程错误而不是静默覆盖。
func (l *Ledger) MarkProcessed(id string, status Status, txHash, errorMessage string) error {
	if status != StatusSettledOK && status != StatusSettledFailed {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("执行结果状态必须是终态: %q", status))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	proposal, ok := l.index[id]
	if !ok {
		return ErrProposalNotFound
	}
	if proposal.Status.IsTerminal() {
		return ErrProposalFinalized
	}
	if proposal.Status != StatusApproved {
		return ErrNotApproved
	}
	proposal.Status = status
	proposal.TxHash = txHash
	proposal.ErrorMessage = errorMessage
	return nil
}

// Prune 移除终态提案，返回移除数量。pending 与 approved 永不移除。
func (l *Ledger) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	kept := l.proposals[:0]
	removed := 0
	for _, proposal := range l.proposals {
		if proposal.Status.IsTerminal() {
			delete(l.index, proposal.ID)
			removed++
			continue
		}
		kept = append(kept, proposal)
	}
	l.proposals = kept
	return removed
}

func (l *Ledger) filter(match func(*Proposal) bool) []*Proposal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []*Proposal
	for _, proposal := range l.proposals {
		if match(proposal) {
			out = append(out, cloneProposal(proposal))
		}
	}
	return out
}

// appendVote 为提案落一票；同一参与者的重复投票保留首票。
func (l *Ledger) appendVote(id string, vote Vote) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	proposal, ok := l.index[id]
	if !ok {
		return ErrProposalNotFound
	}
	if proposal.Status != StatusPending {
		return xerrors.New(xerrors.CodeConflict,
			fmt.Sprintf("提案 %s 已不在投票阶段: %s", id, proposal.Status))
	}
	if proposal.HasVoted(vote.Participant) {
		return nil
	}
	proposal.Votes = append(proposal.Votes, vote)
	return nil
}

// settleVoting 根据阈值规则推进提案状态，返回推进后的状态。
func (l *Ledger) settleVoting(id string, participantCount, threshold int) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	proposal, ok := l.index[id]
	if !ok {
		return "", ErrProposalNotFound
	}
	if proposal.Status != StatusPending {
		return proposal.Status, nil
	}

	approvals := proposal.Approvals()
	rejections := proposal.Rejections()
	switch {
	case approvals >= threshold:
		proposal.Status = StatusApproved
	case rejections > participantCount-threshold, len(proposal.Votes) >= participantCount:
		// 批准在数学上已不可能，或所有参与者均已表态。
		proposal.Status = StatusRejected
	}
	return proposal.Status, nil
}

func cloneProposal(p *Proposal) *Proposal {
	clone := *p
	clone.Votes = make([]Vote, len(p.Votes))
	copy(clone.Votes, p.Votes)
	return &clone
}
