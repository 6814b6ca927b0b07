package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/agent"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/chains"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/config"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/council"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/llm"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/llm/openai"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/multisig"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/risk"
	"github.com/GMAn0n/AI-COUNCIL-BETA/internal/safety"
	"github.com/GMAn0n/AI-COUNCIL-BETA/pkg/logger"
)

// main 是议事会守护进程的入口。
func main() {
	configPath := flag.String("config", filepath.Join("configs", "council.yaml"), "配置文件路径")
	topic := flag.String("topic", "评估当前市场并提出下一步交易动议", "每轮议事的议题")
	interval := flag.Duration("interval", time.Minute, "两个议事周期之间的间隔")
	cycles := flag.Int("cycles", 0, "运行的周期数，0 表示直到收到退出信号")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *configPath, *topic, *interval, *cycles); err != nil {
		log.Fatalf("councild 运行失败: %v", err)
	}
}

func run(ctx context.Context, configPath, topic string, interval time.Duration, cycles int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.OutputPaths,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() {
		if err := logger.Sync(); err != nil {
			log.Printf("刷新日志失败: %v", err)
		}
	}()

	if err := os.MkdirAll(cfg.Runtime.DataDir, 0o755); err != nil {
		return fmt.Errorf("创建数据目录失败: %w", err)
	}

	llmClient, err := createLLMClient(cfg)
	if err != nil {
		return err
	}

	participants, err := buildParticipants(cfg, llmClient)
	if err != nil {
		return err
	}

	gate, err := buildGate(cfg)
	if err != nil {
		return err
	}

	ledger := multisig.NewLedger()
	snapshotPath := filepath.Join(cfg.Runtime.DataDir, "ledger.json")
	if err := ledger.LoadFile(snapshotPath); err != nil {
		return fmt.Errorf("恢复账本快照失败: %w", err)
	}

	coordinatorOpts := []multisig.CoordinatorOption{
		multisig.WithCoordinatorLogger(logger.Named("voting")),
	}
	if cfg.Council.VoteThreshold > 0 {
		coordinatorOpts = append(coordinatorOpts, multisig.WithThreshold(cfg.Council.VoteThreshold))
	}
	coordinator := multisig.NewCoordinator(ledger, coordinatorOpts...)

	queue, err := buildQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := queue.Close(); err != nil {
			logger.L().Warn("关闭执行队列失败", slog.Any("error", err))
		}
	}()

	portfolio := council.NewPortfolio(cfg.Council.SimulatedFundUSD)
	sessions := chains.NewSessionCache()
	dispatcher := council.NewDispatcher(cfg, sessions, portfolio, logger.Named("dispatch"))

	opts := []council.Option{
		council.WithRounds(cfg.Council.DiscussionRounds),
		council.WithWorkerCount(cfg.Runtime.WorkerCount),
		council.WithSessionCache(sessions),
		council.WithSnapshotPath(snapshotPath),
	}
	if archiver, closeArchive, err := buildArchiver(cfg); err != nil {
		return err
	} else if archiver != nil {
		defer closeArchive()
		opts = append(opts, council.WithArchiver(archiver))
	}

	c, err := council.New(participants, gate, ledger, coordinator, dispatcher, queue, portfolio, opts...)
	if err != nil {
		return err
	}

	return runCycles(ctx, c, topic, interval, cycles)
}

// runCycles 按固定间隔驱动议事周期，直到达到次数上限或收到退出信号。
func runCycles(ctx context.Context, c *council.Council, topic string, interval time.Duration, cycles int) error {
	appLog := logger.Named("councild")
	for completed := 0; cycles <= 0 || completed < cycles; completed++ {
		if err := c.RunCycle(ctx, topic); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		appLog.Info("议事周期完成", slog.Int("cycle", completed+1))

		if cycles > 0 && completed+1 >= cycles {
			break
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(interval):
		}
	}
	return nil
}

func createLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "", "openai":
		apiKey := strings.TrimSpace(cfg.LLM.OpenAI.APIKey)
		if apiKey == "" {
			apiKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
		}
		if apiKey == "" {
			return nil, errors.New("OpenAI provider 需要配置 api_key 或环境变量 OPENAI_API_KEY")
		}
		return openai.NewClient(openai.Config{
			APIKey:  apiKey,
			BaseURL: cfg.LLM.OpenAI.BaseURL,
			Model:   cfg.LLM.OpenAI.Model,
			Timeout: time.Duration(cfg.LLM.OpenAI.TimeoutSeconds) * time.Second,
		})
	default:
		return nil, fmt.Errorf("未知的大模型 provider: %s", cfg.LLM.Provider)
	}
}

func buildParticipants(cfg *config.Config, llmClient llm.Client) ([]*agent.Participant, error) {
	var opts []agent.Option
	if cfg.LLM.OpenAI.TimeoutSeconds > 0 {
		opts = append(opts, agent.WithLLMTimeout(time.Duration(cfg.LLM.OpenAI.TimeoutSeconds)*time.Second))
	}

	participants := make([]*agent.Participant, 0, len(cfg.Council.Participants))
	for _, pc := range cfg.Council.Participants {
		participant, err := agent.New(pc.Name, pc.Role, llmClient, opts...)
		if err != nil {
			return nil, fmt.Errorf("创建成员 %s 失败: %w", pc.Name, err)
		}
		participants = append(participants, participant)
	}
	return participants, nil
}

func buildGate(cfg *config.Config) (*safety.Gate, error) {
	var provider risk.Provider
	if cfg.Risk.SummaryFile != "" {
		static, err := risk.LoadStaticProvider(cfg.Risk.SummaryFile)
		if err != nil {
			return nil, err
		}
		provider = static
	}
	if provider != nil && cfg.Risk.CacheSize > 0 {
		cache, err := risk.NewCache(provider, cfg.Risk.CacheSize)
		if err != nil {
			return nil, err
		}
		provider = cache
	}

	return safety.NewGate(safety.Config{
		Provider:     provider,
		Resolver:     cfg.TokenAddress,
		Allowlist:    cfg.Allowlist(),
		TaxThreshold: cfg.Risk.TaxThreshold,
	}), nil
}

func buildQueue(cfg *config.Config) (council.ExecutionQueue, error) {
	switch cfg.Queue.Driver {
	case "", "memory":
		return council.NewMemoryQueue(0), nil
	case "redis":
		return council.NewRedisQueue(council.RedisQueueConfig{
			Address:  cfg.Queue.Redis.Addr,
			Password: cfg.Queue.Redis.Password,
			DB:       cfg.Queue.Redis.DB,
			Queue:    cfg.Queue.Redis.Queue,
		})
	case "rabbitmq":
		return council.NewRabbitMQQueue(council.RabbitMQConfig{
			URL:        cfg.Queue.RabbitMQ.URL,
			Queue:      cfg.Queue.RabbitMQ.Queue,
			Prefetch:   cfg.Queue.RabbitMQ.Prefetch,
			Durable:    cfg.Queue.RabbitMQ.Durable,
			AutoDelete: cfg.Queue.RabbitMQ.AutoDelete,
		})
	default:
		return nil, fmt.Errorf("未知的队列驱动: %s", cfg.Queue.Driver)
	}
}

func buildArchiver(cfg *config.Config) (council.Archiver, func(), error) {
	switch cfg.Archive.Driver {
	case "", "none":
		return nil, nil, nil
	case "mysql":
		archive, err := multisig.NewMySQLArchive(cfg.Archive.DSN)
		if err != nil {
			return nil, nil, err
		}
		closeArchive := func() {
			if err := archive.Close(); err != nil {
				logger.L().Warn("关闭归档存储失败", slog.Any("error", err))
			}
		}
		return archive, closeArchive, nil
	default:
		return nil, nil, fmt.Errorf("未知的归档驱动: %s", cfg.Archive.Driver)
	}
}
