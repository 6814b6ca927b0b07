package multisig

import (
	"context"
	"log/slog"

	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

// Voter 是参与投票的逻辑成员。
// Vote 返回裁决与一段理由文本；返回错误表示本轮未能表态，
// 提案保持 pending，下一轮会再次征询。
type Voter interface {
	Name() string
	Vote(ctx context.Context, proposal *Proposal, voteContext map[string]any) (Verdict, string, error)
}

// Coordinator 驱动投票收集并应用批准阈值规则。
type Coordinator struct {
	ledger    *Ledger
	threshold int
	log       *slog.Logger
}

// CoordinatorOption 定义 Coordinator 的可选配置。
type CoordinatorOption func(*Coordinator)

// WithThreshold 覆盖默认批准阈值。非法值会在投票时被钳制到 [1, N]。
func WithThreshold(threshold int) CoordinatorOption {
	return func(c *Coordinator) {
		c.threshold = threshold
	}
}

// WithCoordinatorLogger 指定日志器。
func WithCoordinatorLogger(log *slog.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCoordinator 创建投票协调器。
func NewCoordinator(ledger *Ledger, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		ledger: ledger,
		log:    logger.Named("voting"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// requiredSignatures 计算本轮生效的批准阈值。
// 默认取简单多数，配置值被钳制到 [1, participantCount]。
func (c *Coordinator) requiredSignatures(participantCount int) int {
	threshold := c.threshold
	if threshold <= 0 {
		threshold = participantCount/2 + 1
	}
	if threshold > participantCount {
		threshold = participantCount
	}
	if threshold < 1 {
		threshold = 1
	}
	return threshold
}

// CollectVotes 对所有 pending 提案征询未投票的参与者，随后结算状态：
// 赞成票达到阈值则 approved；反对票多到批准已不可能、
// 或全员均已表态仍未达标则 rejected；否则保持 pending 等待下一轮。
func (c *Coordinator) CollectVotes(ctx context.Context, voters []Voter, voteContext map[string]any) error {
	if len(voters) == 0 {
		return ErrNoParticipants
	}
	threshold := c.requiredSignatures(len(voters))

	for _, pending := range c.ledger.Pending() {
		for _, voter := range voters {
			if pending.HasVoted(voter.Name()) {
				continue
			}
			if err := ctx.Err(); err != nil {
				return err
			}

			verdict, rationale, err := voter.Vote(ctx, pending, voteContext)
			if err != nil {
				c.log.Warn("participant failed to vote this round",
					slog.String("proposal_id", pending.ID),
					slog.String("participant", voter.Name()),
					slog.String("error", err.Error()))
				continue
			}
			vote := Vote{Participant: voter.Name(), Verdict: verdict, Rationale: rationale}
			if err := c.ledger.appendVote(pending.ID, vote); err != nil {
				return err
			}
			pending.Votes = append(pending.Votes, vote)
			c.log.Info("vote recorded",
				slog.String("proposal_id", pending.ID),
				slog.String("participant", voter.Name()),
				slog.String("verdict", string(verdict)))
		}

		status, err := c.ledger.settleVoting(pending.ID, len(voters), threshold)
		if err != nil {
			return err
		}
		if status != StatusPending {
			logger.Audit().Info("proposal voting settled",
				slog.String("proposal_id", pending.ID),
				slog.String("status", string(status)),
				slog.Int("approvals", pending.Approvals()),
				slog.Int("rejections", pending.Rejections()),
				slog.Int("threshold", threshold))
		}
	}
	return nil
}
