// Package chains 管理链会话的获取、复用与释放。
// 会话缓存取代了"当前活跃连接"式的全局变量：按（链类型, 网络）
// 建键，显式 Acquire/Release，没有环境全局状态。
package chains

import (
	"context"
	"fmt"
	"strings"
	"sync"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
)

// ChainType 标识链会话的类型。
type ChainType string

const (
	ChainEVM    ChainType = "evm"
	ChainSolana ChainType = "solana"
)

// Session 是一条链上的活跃连接与已加载的签名身份。
type Session interface {
	ChainType() ChainType
	Network() string
	Close() error
}

// DialFunc 为某种链类型建立到指定网络的会话。
type DialFunc func(ctx context.Context, network string) (Session, error)

// Outcome 是一次执行尝试的结构化结果。
// 预期内的失败（回滚、余额不足等）是值而不是 error。
type Outcome struct {
	Success bool
	// Handle 是链上句柄（交易哈希或签名）。失败时也可能存在，
	// 因为哈希可能是一次回滚尝试留下的唯一痕迹。
	Handle string
	// Message 是面向人的结果说明。
	Message string
	// Category 是失败的归一化类别，成功时为空。
	Category string
	// InputAmount/OutputAmount 是实际成交量（仅部分链在成功时提供）。
	InputAmount  string
	OutputAmount string
}

// 失败类别。Category 取这些值之一，用于下游统计与重试决策。
const (
	CategoryConfig    = "config"
	CategoryQuote     = "quote"
	CategoryFunds     = "insufficient_funds"
	CategoryAllowance = "allowance"
	CategoryRevert    = "reverted"
	CategoryNonce     = "nonce"
	CategoryGas       = "gas"
	CategoryExecution = "execution"
	CategoryOnChain   = "onchain"
	CategoryQueue     = "queue"
)

// Failure 构造一个失败结果。
func Failure(category, message, handle string) Outcome {
	return Outcome{Category: category, Message: message, Handle: handle}
}

type sessionKey struct {
	chainType ChainType
	network   string
}

// SessionCache 按（链类型, 网络）缓存会话。
// 链身份校验失败的网络在本批次内被记为致命，不再重拨。
type SessionCache struct {
	mu       sync.Mutex
	dialers  map[ChainType]DialFunc
	sessions map[sessionKey]Session
	failed   map[sessionKey]error
}

// NewSessionCache 创建空的会话缓存。
func NewSessionCache() *SessionCache {
	return &SessionCache{
		dialers:  make(map[ChainType]DialFunc),
		sessions: make(map[sessionKey]Session),
		failed:   make(map[sessionKey]error),
	}
}

// RegisterDialer 注册某种链类型的拨号函数。
func (c *SessionCache) RegisterDialer(chainType ChainType, dial DialFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dialers[chainType] = dial
}

// Acquire 返回缓存的会话，必要时新建。
// 同一批次内拨号失败的网络直接返回首次错误，不做重试。
func (c *SessionCache) Acquire(ctx context.Context, chainType ChainType, network string) (Session, error) {
	key := sessionKey{chainType: chainType, network: strings.ToLower(network)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if session, ok := c.sessions[key]; ok {
		return session, nil
	}
	if err, ok := c.failed[key]; ok {
		return nil, err
	}

	dial, ok := c.dialers[chainType]
	if !ok {
		return nil, xerrors.New(xerrors.CodeInitializationFailure,
			fmt.Sprintf("链类型 %s 未注册拨号函数", chainType))
	}

	session, err := dial(ctx, key.network)
	if err != nil {
		c.failed[key] = err
		return nil, err
	}
	c.sessions[key] = session
	return session, nil
}

// Release 关闭并移除某个网络的会话。
func (c *SessionCache) Release(chainType ChainType, network string) error {
	key := sessionKey{chainType: chainType, network: strings.ToLower(network)}

	c.mu.Lock()
	session, ok := c.sessions[key]
	delete(c.sessions, key)
	c.mu.Unlock()

	if !ok {
		return nil
	}
	return session.Close()
}

// ReleaseAll 关闭全部会话并清空失败记录。批次结束时必须调用，
// 包括取消与出错路径。
func (c *SessionCache) ReleaseAll() error {
	c.mu.Lock()
	sessions := make([]Session, 0, len(c.sessions))
	for _, session := range c.sessions {
		sessions = append(sessions, session)
	}
	c.sessions = make(map[sessionKey]Session)
	c.failed = make(map[sessionKey]error)
	c.mu.Unlock()

	var errs []error
	for _, session := range sessions {
		if err := session.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("关闭链会话失败: %v", errs)
	}
	return nil
}
