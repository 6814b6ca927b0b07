// Package multisig 实现交易提案账本与阈值投票。
// 这里的"多签"是逻辑参与者的文本投票聚合，不涉及密码学门限签名。
package multisig

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
)

// Status 表示提案在生命周期中的状态。
type Status string

const (
	StatusPending       Status = "pending"
	StatusApproved      Status = "approved"
	StatusRejected      Status = "rejected"
	StatusSettledOK     Status = "settled_success"
	StatusSettledFailed Status = "settled_failed"
)

// IsTerminal 判断状态是否为终态。
func (s Status) IsTerminal() bool {
	switch s {
	case StatusRejected, StatusSettledOK, StatusSettledFailed:
		return true
	default:
		return false
	}
}

// IsValidStatus 判断状态值是否合法。
func IsValidStatus(s Status) bool {
	switch s {
	case StatusPending, StatusApproved, StatusRejected, StatusSettledOK, StatusSettledFailed:
		return true
	default:
		return false
	}
}

// 错误码注册，供告警与审计使用。
const (
	CodeProposalNotFound  xerrors.Code = "PROPOSAL_NOT_FOUND"
	CodeProposalFinalized xerrors.Code = "PROPOSAL_FINALIZED"
	CodeVotingFailure     xerrors.Code = "VOTING_FAILURE"
)

func init() {
	xerrors.Register(CodeProposalNotFound, xerrors.Attributes{
		Message:   "proposal not found",
		Severity:  xerrors.SeverityInfo,
		Retryable: false,
		Alert:     false,
	})
	xerrors.Register(CodeProposalFinalized, xerrors.Attributes{
		Message:   "proposal already finalized",
		Severity:  xerrors.SeverityWarning,
		Retryable: false,
		Alert:     true,
	})
	xerrors.Register(CodeVotingFailure, xerrors.Attributes{
		Message:   "voting failure",
		Severity:  xerrors.SeverityWarning,
		Retryable: true,
		Alert:     false,
	})
}

var (
	// ErrProposalNotFound 表示账本中没有该提案。
	ErrProposalNotFound = xerrors.New(CodeProposalNotFound, "提案不存在")
	// ErrProposalFinalized 表示提案已处于终态，拒绝二次写入。
	ErrProposalFinalized = xerrors.New(CodeProposalFinalized, "提案已终结，拒绝重复写入")
	// ErrNotApproved 表示提案不在 approved 状态，不能写入执行结果。
	ErrNotApproved = xerrors.New(xerrors.CodeConflict, "提案未获批准，不能写入执行结果")
	// ErrNoParticipants 表示投票参与者为空。
	ErrNoParticipants = xerrors.New(xerrors.CodeInvalidArgument, "投票参与者不能为空")
)

// Verdict 表示一票的裁决方向。
type Verdict string

const (
	VerdictApprove Verdict = "APPROVE"
	VerdictReject  Verdict = "REJECT"
)

// ParseVerdict 从参与者的自由文本回复中提取裁决。
// 以 APPROVE 开头视为赞成，其余一律视为反对。
func ParseVerdict(text string) Verdict {
	if strings.HasPrefix(strings.ToUpper(strings.TrimSpace(text)), string(VerdictApprove)) {
		return VerdictApprove
	}
	return VerdictReject
}

// Vote 是参与者对某个提案投出的一票，落账后不可变更。
type Vote struct {
	Participant string  `json:"agent"`
	Verdict     Verdict `json:"vote"`
	Rationale   string  `json:"reason,omitempty"`
}

// Proposal 是一笔交易意图连同投票与生命周期状态。
type Proposal struct {
	ID           string
	Intent       trade.Intent
	Votes        []Vote
	Status       Status
	TxHash       string
	ErrorMessage string

	// claimed 标记提案已被一次执行尝试认领，不参与序列化。
	claimed bool
}

// HasVoted 判断某参与者是否已对该提案投票。
func (p *Proposal) HasVoted(participant string) bool {
	for _, vote := range p.Votes {
		if vote.Participant == participant {
			return true
		}
	}
	return false
}

// Approvals 统计赞成票数。
func (p *Proposal) Approvals() int {
	count := 0
	for _, vote := range p.Votes {
		if vote.Verdict == VerdictApprove {
			count++
		}
	}
	return count
}

// Rejections 统计反对票数。
func (p *Proposal) Rejections() int {
	count := 0
	for _, vote := range p.Votes {
		if vote.Verdict == VerdictReject {
			count++
		}
	}
	return count
}

// proposalJSON 是提案的外部序列化形态：扁平对象数组的单个元素。
type proposalJSON struct {
	ID           string          `json:"id"`
	Transaction  json.RawMessage `json:"transaction"`
	Votes        []Vote          `json:"votes"`
	Status       Status          `json:"status"`
	TxHash       string          `json:"tx_hash,omitempty"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// MarshalJSON 实现 json.Marshaler。
func (p *Proposal) MarshalJSON() ([]byte, error) {
	intentData, err := trade.MarshalIntent(p.Intent)
	if err != nil {
		return nil, fmt.Errorf("编码提案 %s 的交易意图失败: %w", p.ID, err)
	}
	votes := p.Votes
	if votes == nil {
		votes = []Vote{}
	}
	return json.Marshal(proposalJSON{
		ID:           p.ID,
		Transaction:  intentData,
		Votes:        votes,
		Status:       p.Status,
		TxHash:       p.TxHash,
		ErrorMessage: p.ErrorMessage,
	})
}

// UnmarshalJSON 实现 json.Unmarshaler。
func (p *Proposal) UnmarshalJSON(data []byte) error {
	var raw proposalJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("解码提案失败: %w", err)
	}
	if !IsValidStatus(raw.Status) {
		return xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("提案 %s 的状态非法: %q", raw.ID, raw.Status))
	}
	intent, err := trade.UnmarshalIntent(raw.Transaction)
	if err != nil {
		return fmt.Errorf("解码提案 %s 的交易意图失败: %w", raw.ID, err)
	}
	p.ID = raw.ID
	p.Intent = intent
	p.Votes = raw.Votes
	p.Status = raw.Status
	p.TxHash = raw.TxHash
	p.ErrorMessage = raw.ErrorMessage
	p.claimed = false
	return nil
}

// NewProposalID 生成形如 tx_<unix>_<suffix> 的提案 ID。
func NewProposalID() string {
	suffix := strings.SplitN(uuid.NewString(), "-", 2)[0]
	return fmt.Sprintf("tx_%d_%s", time.Now().Unix(), suffix)
}
