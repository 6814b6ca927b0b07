package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// summaryEntry 是摘要快照文件中的一条记录。
type summaryEntry struct {
	Network string  `json:"network"`
	Summary Summary `json:"summary"`
}

// LoadStaticProvider 从 JSON 快照文件加载离线风险摘要。
// 文件是一个数组，每条记录包含网络名与该资产的摘要。
func LoadStaticProvider(path string) (StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("风险摘要文件路径不能为空")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("读取风险摘要文件失败: %w", err)
	}
	defer file.Close()

	var entries []summaryEntry
	if err := json.NewDecoder(file).Decode(&entries); err != nil {
		return nil, fmt.Errorf("解析风险摘要文件失败: %w", err)
	}

	provider := make(StaticProvider, len(entries))
	for _, entry := range entries {
		if entry.Network == "" || entry.Summary.Address == "" {
			return nil, fmt.Errorf("风险摘要记录缺少 network 或 address 字段")
		}
		provider[Key(entry.Network, entry.Summary.Address)] = entry.Summary
	}
	return provider, nil
}
