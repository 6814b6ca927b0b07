// Package council 编排一次完整的交易周期：议事、提案、安全检查、
// 投票、执行与结果回写。账本只由编排协程写入，执行结果通过
// channel 汇聚回来，跨网络的执行可以并发，同网络内严格按提案顺序。
package council

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/agent"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains"
	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/llm"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/safety"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/trade"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

// Archiver 把提案异地归档，失败不影响主流程。
type Archiver interface {
	Save(ctx context.Context, proposal *multisig.Proposal) error
}

// Council 驱动一组议事成员完成讨论、投票与执行。
type Council struct {
	participants []*agent.Participant
	gate         *safety.Gate
	ledger       *multisig.Ledger
	coordinator  *multisig.Coordinator
	executor     Executor
	queue        ExecutionQueue
	portfolio    *Portfolio

	sessions     *chains.SessionCache
	archive      Archiver
	rounds       int
	workerCount  int
	snapshotPath string
	log          *slog.Logger

	mu      sync.Mutex
	batches map[string][]*multisig.Proposal
}

// Option 定义 Council 的可选配置。
type Option func(*Council)

// WithRounds 设置每个周期的讨论轮数。
func WithRounds(rounds int) Option {
	return func(c *Council) {
		if rounds > 0 {
			c.rounds = rounds
		}
	}
}

// WithWorkerCount 设置执行队列的消费协程数。
func WithWorkerCount(workers int) Option {
	return func(c *Council) {
		if workers > 0 {
			c.workerCount = workers
		}
	}
}

// WithArchiver 配置提案归档存储。
func WithArchiver(archive Archiver) Option {
	return func(c *Council) { c.archive = archive }
}

// WithSessionCache 让 Council 在每个执行批次结束后释放链会话。
func WithSessionCache(sessions *chains.SessionCache) Option {
	return func(c *Council) { c.sessions = sessions }
}

// WithSnapshotPath 配置账本快照文件路径。
func WithSnapshotPath(path string) Option {
	return func(c *Council) { c.snapshotPath = path }
}

// WithCouncilLogger 指定日志输出。
func WithCouncilLogger(log *slog.Logger) Option {
	return func(c *Council) { c.log = log }
}

// New 构造 Council。
func New(participants []*agent.Participant, gate *safety.Gate, ledger *multisig.Ledger,
	coordinator *multisig.Coordinator, executor Executor, queue ExecutionQueue,
	portfolio *Portfolio, opts ...Option) (*Council, error) {
	if len(participants) == 0 {
		return nil, multisig.ErrNoParticipants
	}
	if ledger == nil || coordinator == nil || executor == nil || queue == nil {
		return nil, fmt.Errorf("账本、投票协调器、执行器与队列都不能为空")
	}
	c := &Council{
		participants: participants,
		gate:         gate,
		ledger:       ledger,
		coordinator:  coordinator,
		executor:     executor,
		queue:        queue,
		portfolio:    portfolio,
		rounds:       1,
		workerCount:  2,
		log:          logger.Named("council"),
		batches:      make(map[string][]*multisig.Proposal),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c, nil
}

// RunCycle 执行一个完整周期：讨论、提案、投票、执行、快照、清理。
func (c *Council) RunCycle(ctx context.Context, topic string) error {
	voteContext := c.buildContext()

	c.discuss(ctx, topic, voteContext)

	voters := make([]multisig.Voter, 0, len(c.participants))
	for _, p := range c.participants {
		voters = append(voters, p)
	}
	if err := c.coordinator.CollectVotes(ctx, voters, voteContext); err != nil {
		return fmt.Errorf("收集投票失败: %w", err)
	}

	if err := c.ExecuteApproved(ctx); err != nil {
		return err
	}

	if c.snapshotPath != "" {
		if err := c.ledger.SaveFile(c.snapshotPath); err != nil {
			c.log.Error("保存账本快照失败", slog.Any("error", err))
		}
	}
	if pruned := c.ledger.Prune(); pruned > 0 {
		c.log.Info("清理终态提案", slog.Int("count", pruned))
	}
	return nil
}

// discuss 驱动若干轮讨论，从发言中提取交易指令并提案。
func (c *Council) discuss(ctx context.Context, topic string, voteContext map[string]any) {
	var history []llm.HistoryEntry
	for round := 0; round < c.rounds; round++ {
		for _, participant := range c.participants {
			reply, err := participant.Discuss(ctx, topic, voteContext, history)
			if err != nil {
				c.log.Warn("成员发言失败",
					slog.String("participant", participant.Name()),
					slog.Any("error", err))
				continue
			}
			history = append(history, llm.HistoryEntry{
				Speaker:   participant.Name(),
				Text:      reply,
				CreatedAt: time.Now().Unix(),
			})
			if directive, ok := trade.ExtractDirective(reply); ok {
				c.propose(ctx, participant.Name(), directive)
			}
		}
	}
}

// propose 解析指令、过安全门，然后才允许进入账本。
// 语法错误与安全拒绝都不会产生提案。
func (c *Council) propose(ctx context.Context, proposer, directive string) {
	intent, err := trade.ParseDirective(directive)
	if err != nil {
		c.log.Warn("交易指令无法解析",
			slog.String("proposer", proposer),
			slog.String("directive", directive),
			slog.Any("error", err))
		return
	}

	if c.gate != nil {
		decision := c.gate.Evaluate(ctx, intent)
		if !decision.Allowed {
			logger.Audit().Warn("安全门拒绝提案",
				slog.String("proposer", proposer),
				slog.String("intent", intent.Describe()),
				slog.String("reason", decision.Reason))
			return
		}
		if decision.Warning != "" {
			c.log.Warn("安全门放行但有警告",
				slog.String("intent", intent.Describe()),
				slog.String("warning", decision.Warning))
		}
	}

	id, err := c.ledger.Propose(intent)
	if err != nil {
		c.log.Error("创建提案失败", slog.Any("error", err))
		return
	}
	logger.Audit().Info("创建交易提案",
		slog.String("proposal_id", id),
		slog.String("proposer", proposer),
		slog.String("intent", intent.Describe()))
	c.archiveProposal(ctx, id)
}

type execResult struct {
	proposalID string
	outcome    chains.Outcome
}

// ExecuteApproved 领取已批准的提案并按网络分批执行。
// 同网络的提案在同一会话上按序执行，不同网络并发；所有结果
// 汇回编排协程后统一写账本，保持单写者约束。无论成功失败，
// 批次结束时都会释放全部链会话。
func (c *Council) ExecuteApproved(ctx context.Context) error {
	claimed := c.ledger.ClaimApproved()
	if len(claimed) == 0 {
		return nil
	}
	defer func() {
		if c.sessions != nil {
			if err := c.sessions.ReleaseAll(); err != nil {
				c.log.Error("释放链会话失败", slog.Any("error", err))
			}
		}
	}()

	var order []string
	groups := make(map[string][]*multisig.Proposal)
	for _, proposal := range claimed {
		key := batchKey(proposal.Intent)
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], proposal)
	}

	c.mu.Lock()
	c.batches = groups
	c.mu.Unlock()

	results := make(chan execResult, len(claimed))
	consumeCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	consumerDone := make(chan struct{})
	var consumeErr error
	go func() {
		defer close(consumerDone)
		consumeErr = c.queue.Consume(consumeCtx, c.workerCount, func(ctx context.Context, key string) error {
			c.runBatch(ctx, key, results)
			return nil
		})
	}()

	settledIDs := make(map[string]struct{}, len(claimed))
	for _, key := range order {
		if err := c.queue.Publish(ctx, key); err != nil {
			c.log.Error("投递执行批次失败",
				slog.String("batch", key), slog.Any("error", err))
			for _, proposal := range c.takeBatch(key) {
				settledIDs[proposal.ID] = struct{}{}
				c.settle(ctx, execResult{
					proposalID: proposal.ID,
					outcome: chains.Failure(chains.CategoryExecution,
						fmt.Sprintf("投递执行批次失败: %v", err), ""),
				})
			}
			continue
		}
	}

	for len(settledIDs) < len(claimed) {
		select {
		case <-ctx.Done():
			cancel()
			<-consumerDone
			// 取消时可能已有交易广播并完成。先吸收已出结果的执行
			// （哈希可能是唯一凭证），再把剩余记为结果未知。
			c.drainResults(ctx, results, settledIDs)
			c.failUnsettled(ctx, claimed, settledIDs, chains.CategoryExecution,
				"执行批次被取消，链上结果未知，需要人工核对")
			return ctx.Err()
		case <-consumerDone:
			// 队列在批次完成前退出（如 Redis/RabbitMQ 中断）。
			// 已出结果的照常入账，剩余提案以队列失败终结，
			// 不能留在 approved 状态等一个不会来的结果。
			c.drainResults(ctx, results, settledIDs)
			reason := "执行队列提前退出，剩余提案未执行"
			queueFailed := consumeErr != nil && !errors.Is(consumeErr, context.Canceled)
			if queueFailed {
				reason = fmt.Sprintf("执行队列失败: %v", consumeErr)
			}
			c.failUnsettled(ctx, claimed, settledIDs, chains.CategoryQueue, reason)
			if queueFailed {
				return xerrors.Wrap(xerrors.CodeQueueFailure, consumeErr, "执行队列中断")
			}
			return nil
		case result := <-results:
			settledIDs[result.proposalID] = struct{}{}
			c.settle(ctx, result)
		}
	}
	cancel()
	<-consumerDone
	return nil
}

// drainResults 以非阻塞方式吸收已完成的执行结果。调用前消费者
// 必须已经退出，channel 里剩下的都是真实结局。
func (c *Council) drainResults(ctx context.Context, results <-chan execResult, settled map[string]struct{}) {
	for {
		select {
		case result := <-results:
			settled[result.proposalID] = struct{}{}
			c.settle(ctx, result)
		default:
			return
		}
	}
}

// runBatch 在一个工作协程内按序执行批次中的提案。
func (c *Council) runBatch(ctx context.Context, key string, results chan<- execResult) {
	for _, proposal := range c.takeBatch(key) {
		outcome := c.executor.Execute(ctx, proposal.Intent)
		// results 容量等于已领取提案数且每个提案至多执行一次，
		// 发送永不阻塞。取消时也必须送达：已广播交易的哈希
		// 可能是唯一凭证，丢掉就只能人工核对。
		results <- execResult{proposalID: proposal.ID, outcome: outcome}
	}
}

// takeBatch 原子地取走一个批次，重复消费同一个键拿到空批次。
func (c *Council) takeBatch(key string) []*multisig.Proposal {
	c.mu.Lock()
	defer c.mu.Unlock()
	batch := c.batches[key]
	delete(c.batches, key)
	return batch
}

// settle 把执行结果写回账本并归档。
func (c *Council) settle(ctx context.Context, result execResult) {
	status := multisig.StatusSettledFailed
	errorMessage := result.outcome.Message
	if result.outcome.Success {
		status = multisig.StatusSettledOK
		errorMessage = ""
	}
	if err := c.ledger.MarkProcessed(result.proposalID, status, result.outcome.Handle, errorMessage); err != nil {
		c.log.Error("回写执行结果失败",
			slog.String("proposal_id", result.proposalID),
			slog.Any("error", err))
		return
	}
	logger.Audit().Info("提案执行完成",
		slog.String("proposal_id", result.proposalID),
		slog.String("status", string(status)),
		slog.String("handle", result.outcome.Handle),
		slog.String("category", result.outcome.Category),
		slog.String("message", result.outcome.Message))
	c.archiveProposal(ctx, result.proposalID)
}

// failUnsettled 把尚未出结果的已领取提案记为失败。
func (c *Council) failUnsettled(ctx context.Context, claimed []*multisig.Proposal, settled map[string]struct{}, category, reason string) {
	for _, proposal := range claimed {
		if _, ok := settled[proposal.ID]; ok {
			continue
		}
		c.settle(ctx, execResult{
			proposalID: proposal.ID,
			outcome:    chains.Failure(category, reason, ""),
		})
	}
}

func (c *Council) archiveProposal(ctx context.Context, id string) {
	if c.archive == nil {
		return
	}
	proposal, err := c.ledger.Get(id)
	if err != nil {
		return
	}
	if err := c.archive.Save(ctx, proposal); err != nil {
		c.log.Warn("归档提案失败",
			slog.String("proposal_id", id), slog.Any("error", err))
	}
}

func (c *Council) buildContext() map[string]any {
	voteContext := make(map[string]any)
	if c.portfolio != nil {
		voteContext["portfolio_summary"] = c.portfolio.Summary()
		voteContext["simulated_fund_usd"] = fmt.Sprintf("%.2f", c.portfolio.FundUSD())
	}
	return voteContext
}

// batchKey 给意图分配执行批次：链类型加网络。
func batchKey(intent trade.Intent) string {
	network := trade.Network(intent)
	if network == "" {
		network = "local"
	}
	return string(intent.Kind()) + ":" + network
}
