package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// 私钥优先从环境变量读取，避免写入配置文件。
const (
	EnvEVMPrivateKey       = "EVM_PRIVATE_KEY"
	EnvSolanaPrivateKeyB58 = "SOLANA_PRIVATE_KEY_B58"
)

// Config 描述议事会服务启动所需的全部配置。
type Config struct {
	Council CouncilConfig `yaml:"council"`
	LLM     LLMConfig     `yaml:"llm"`
	EVM     EVMConfig     `yaml:"evm"`
	Solana  SolanaConfig  `yaml:"solana"`
	Queue   QueueConfig   `yaml:"queue"`
	Archive ArchiveConfig `yaml:"archive"`
	Risk    RiskConfig    `yaml:"risk"`
	Runtime RuntimeConfig `yaml:"runtime"`
	Logging LoggingConfig `yaml:"logging"`
}

// CouncilConfig 描述议事会成员与投票规则。
type CouncilConfig struct {
	Participants []ParticipantConfig `yaml:"participants"`
	// VoteThreshold 是批准所需的赞成票数，0 表示取简单多数。
	VoteThreshold int `yaml:"vote_threshold"`
	// DiscussionRounds 是每个周期的议事轮数。
	DiscussionRounds int `yaml:"discussion_rounds"`
	// SimulatedFundUSD 是模拟交易的初始资金。
	SimulatedFundUSD float64 `yaml:"simulated_fund_usd"`
}

// ParticipantConfig 描述一名议事会成员。
type ParticipantConfig struct {
	Name string `yaml:"name"`
	Role string `yaml:"role"`
}

// LLMConfig 用于配置大模型推理的调用方式。
type LLMConfig struct {
	Provider string       `yaml:"provider"`
	OpenAI   OpenAIConfig `yaml:"openai"`
}

// OpenAIConfig 描述 OpenAI 兼容接口的调用参数。
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	BaseURL        string `yaml:"base_url"`
	Model          string `yaml:"model"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// EVMConfig 描述 EVM 链的网络与签名配置。
type EVMConfig struct {
	// PrivateKey 是十六进制私钥，环境变量 EVM_PRIVATE_KEY 优先。
	PrivateKey string                      `yaml:"private_key"`
	Networks   map[string]EVMNetworkConfig `yaml:"networks"`
	// SlippageTolerance 是滑点容忍度（0.01 = 1%）。
	SlippageTolerance float64 `yaml:"slippage_tolerance"`
}

// EVMNetworkConfig 描述单个 EVM 网络。
type EVMNetworkConfig struct {
	RPCURL string `yaml:"rpc_url"`
	// ChainID 是期望的链 ID，连接时与节点实际返回值比对。
	ChainID uint64 `yaml:"chain_id"`
	// NativeSymbol 是原生币符号，默认 ETH。
	NativeSymbol string `yaml:"native_symbol"`
	// WrappedNative 是包装原生币（如 WETH）的合约地址。
	WrappedNative string `yaml:"wrapped_native"`
	// Routers 是 DEX 名称到路由合约地址的映射。
	Routers map[string]string `yaml:"routers"`
	// Tokens 是代币符号到合约地址的映射。
	Tokens map[string]string `yaml:"tokens"`
	// SafeTokens 是免于风险检查的资产地址列表。
	SafeTokens []string `yaml:"safe_tokens"`
}

// SolanaConfig 描述 Solana 网络与聚合器配置。
type SolanaConfig struct {
	RPCURL string `yaml:"rpc_url"`
	// PrivateKeyB58 是 base58 编码私钥，环境变量 SOLANA_PRIVATE_KEY_B58 优先。
	PrivateKeyB58 string `yaml:"private_key_b58"`
	// AggregatorBaseURL 是兑换聚合器 HTTP API 地址。
	AggregatorBaseURL string `yaml:"aggregator_base_url"`
	// SlippageBps 是滑点容忍度（基点）。
	SlippageBps int `yaml:"slippage_bps"`
}

// QueueConfig 描述执行队列的驱动与连接参数。
type QueueConfig struct {
	Driver   string         `yaml:"driver"`
	Redis    RedisConfig    `yaml:"redis"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
}

// RedisConfig 描述 Redis 队列连接参数。
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Queue    string `yaml:"queue"`
}

// RabbitMQConfig 描述 RabbitMQ 队列连接参数。
type RabbitMQConfig struct {
	URL        string `yaml:"url"`
	Queue      string `yaml:"queue"`
	Prefetch   int    `yaml:"prefetch"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ArchiveConfig 描述提案归档存储。
type ArchiveConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// RiskConfig 描述风险数据来源与拒绝阈值。
type RiskConfig struct {
	// TaxThreshold 超过该税率即拒绝提案，0 表示默认 0.20。
	TaxThreshold float64 `yaml:"tax_threshold"`
	CacheSize    int     `yaml:"cache_size"`
	// SummaryFile 是离线风险摘要快照文件（JSON）。
	SummaryFile string `yaml:"summary_file"`
}

// RuntimeConfig 用于放置运行时的通用参数。
type RuntimeConfig struct {
	DataDir     string `yaml:"data_dir"`
	WorkerCount int    `yaml:"worker_count"`
}

// LoggingConfig 映射到 pkg/logger 的配置。
type LoggingConfig struct {
	Level       string      `yaml:"level"`
	Format      string      `yaml:"format"`
	OutputPaths []string    `yaml:"output_paths"`
	Audit       AuditConfig `yaml:"audit"`
}

// AuditConfig 控制审计日志输出。
type AuditConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load 解析指定路径的 YAML 配置文件并完成规范化与校验。
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("配置文件路径为空")
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.applyDefaults(filepath.Dir(path))
	cfg.applyEnvOverrides()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults 在用户未填写部分字段时设置合理的默认值。
func (c *Config) applyDefaults(baseDir string) {
	if c.Council.DiscussionRounds <= 0 {
		c.Council.DiscussionRounds = 1
	}
	if c.Council.SimulatedFundUSD <= 0 {
		c.Council.SimulatedFundUSD = 10000
	}
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.EVM.SlippageTolerance <= 0 {
		c.EVM.SlippageTolerance = 0.01
	}
	if c.Solana.SlippageBps <= 0 {
		c.Solana.SlippageBps = 100
	}
	if c.Queue.Driver == "" {
		c.Queue.Driver = "memory"
	}
	if c.Archive.Driver == "" {
		c.Archive.Driver = "none"
	}
	if c.Runtime.WorkerCount <= 0 {
		c.Runtime.WorkerCount = 2
	}
	if c.Runtime.DataDir == "" {
		c.Runtime.DataDir = filepath.Join(baseDir, "data")
	} else if !filepath.IsAbs(c.Runtime.DataDir) {
		c.Runtime.DataDir = filepath.Join(baseDir, c.Runtime.DataDir)
	}
}

// applyEnvOverrides 让私钥类配置优先取环境变量。
func (c *Config) applyEnvOverrides() {
	if key := strings.TrimSpace(os.Getenv(EnvEVMPrivateKey)); key != "" {
		c.EVM.PrivateKey = key
	}
	if key := strings.TrimSpace(os.Getenv(EnvSolanaPrivateKeyB58)); key != "" {
		c.Solana.PrivateKeyB58 = key
	}
}

// normalize 统一大小写：网络与 DEX 名称小写，代币符号大写，地址小写。
func (c *Config) normalize() {
	networks := make(map[string]EVMNetworkConfig, len(c.EVM.Networks))
	for name, network := range c.EVM.Networks {
		routers := make(map[string]string, len(network.Routers))
		for venue, address := range network.Routers {
			routers[strings.ToLower(venue)] = strings.ToLower(address)
		}
		tokens := make(map[string]string, len(network.Tokens))
		for symbol, address := range network.Tokens {
			tokens[strings.ToUpper(symbol)] = strings.ToLower(address)
		}
		safe := make([]string, 0, len(network.SafeTokens))
		for _, address := range network.SafeTokens {
			safe = append(safe, strings.ToLower(address))
		}
		network.Routers = routers
		network.Tokens = tokens
		network.SafeTokens = safe
		network.WrappedNative = strings.ToLower(network.WrappedNative)
		network.NativeSymbol = strings.ToUpper(network.NativeSymbol)
		if network.NativeSymbol == "" {
			network.NativeSymbol = "ETH"
		}
		networks[strings.ToLower(name)] = network
	}
	c.EVM.Networks = networks
}

// Validate 校验配置中的所有地址，发现畸形条目立即失败，
// 而不是把它们当作"永不免检"静默放过。
func (c *Config) Validate() error {
	if len(c.Council.Participants) == 0 {
		return errors.New("至少需要配置一名议事会成员")
	}
	for _, participant := range c.Council.Participants {
		if strings.TrimSpace(participant.Name) == "" {
			return errors.New("议事会成员名称不能为空")
		}
	}
	if c.Council.VoteThreshold > len(c.Council.Participants) {
		return fmt.Errorf("投票阈值 %d 超过成员数 %d",
			c.Council.VoteThreshold, len(c.Council.Participants))
	}

	for name, network := range c.EVM.Networks {
		if strings.TrimSpace(network.RPCURL) == "" {
			return fmt.Errorf("网络 %s 缺少 RPC 地址", name)
		}
		if network.ChainID == 0 {
			return fmt.Errorf("网络 %s 缺少链 ID", name)
		}
		if network.WrappedNative != "" && !common.IsHexAddress(network.WrappedNative) {
			return fmt.Errorf("网络 %s 的包装原生币地址非法: %q", name, network.WrappedNative)
		}
		for venue, address := range network.Routers {
			if !common.IsHexAddress(address) {
				return fmt.Errorf("网络 %s 的路由 %s 地址非法: %q", name, venue, address)
			}
		}
		for symbol, address := range network.Tokens {
			if !common.IsHexAddress(address) {
				return fmt.Errorf("网络 %s 的代币 %s 地址非法: %q", name, symbol, address)
			}
		}
		for _, address := range network.SafeTokens {
			if !common.IsHexAddress(address) {
				return fmt.Errorf("网络 %s 的免检地址非法: %q", name, address)
			}
		}
	}
	return nil
}

// TokenAddress 解析某网络上代币符号对应的地址。
func (c *Config) TokenAddress(network, symbol string) (string, bool) {
	networkCfg, ok := c.EVM.Networks[strings.ToLower(network)]
	if !ok {
		return "", false
	}
	address, ok := networkCfg.Tokens[strings.ToUpper(symbol)]
	return address, ok
}

// Allowlist 返回每个网络的免检资产地址集合（地址均为小写）。
func (c *Config) Allowlist() map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{}, len(c.EVM.Networks))
	for name, network := range c.EVM.Networks {
		if len(network.SafeTokens) == 0 {
			continue
		}
		set := make(map[string]struct{}, len(network.SafeTokens))
		for _, address := range network.SafeTokens {
			set[address] = struct{}{}
		}
		out[name] = set
	}
	return out
}
