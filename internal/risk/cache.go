package risk

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	xerrors "github.com/GMAn0n/AI-COUNCIL-BETA/internal/errors"
)

const defaultCacheSize = 512

// Cache 在 Provider 之上增加 LRU 缓存。
// 一个投票轮次内风险数据被视为不可变快照，命中即可直接返回。
type Cache struct {
	provider Provider
	entries  *lru.Cache[string, Summary]
}

// NewCache 创建包装了 LRU 的风险摘要缓存。
func NewCache(provider Provider, size int) (*Cache, error) {
	if provider == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "风险摘要 Provider 不能为空")
	}
	if size <= 0 {
		size = defaultCacheSize
	}
	entries, err := lru.New[string, Summary](size)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "创建风险摘要缓存失败")
	}
	return &Cache{provider: provider, entries: entries}, nil
}

// Lookup 实现 Provider。未知资产不会被缓存，下一轮仍会回源查询。
func (c *Cache) Lookup(ctx context.Context, network, address string) (Summary, error) {
	key := Key(network, address)
	if summary, ok := c.entries.Get(key); ok {
		return summary, nil
	}
	summary, err := c.provider.Lookup(ctx, network, address)
	if err != nil {
		return Summary{}, err
	}
	c.entries.Add(key, summary)
	return summary, nil
}

// Purge 清空缓存，通常在新的投票轮次开始时调用。
func (c *Cache) Purge() {
	c.entries.Purge()
}

var _ Provider = (*Cache)(nil)
