package llm

import "context"

// Request 描述一次发给大模型的议事请求。
type Request struct {
	// Persona 是参与者的名字与角色设定。
	Persona string
	// Prompt 是本轮的议题或投票请求。
	Prompt string
	// Context 是提供给模型的背景切片（组合持仓、风险分析等）。
	Context []ContextEntry
	// History 是最近的议事发言记录。
	History []HistoryEntry
}

// Response 是大模型生成的结构化输出。
type Response struct {
	Thought string
	Reply   string
}

// ContextEntry 表示一条背景信息切片。
type ContextEntry struct {
	Title   string
	Content string
}

// HistoryEntry 描述一条历史发言，用于为大模型提供上下文记忆。
type HistoryEntry struct {
	Speaker   string
	Text      string
	CreatedAt int64
}

// Client 定义了调用大模型的统一接口。
type Client interface {
	Generate(ctx context.Context, req Request) (*Response, error)
}
