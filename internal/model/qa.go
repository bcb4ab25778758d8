package model

import "time"

// QAMessage 代表存储在 Redis 中的单条问答消息。
type QAMessage struct {
	Role      string    `json:"role"` // "user" 或 "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// SourceRef 标注一条回答引用到的文章来源。
type SourceRef struct {
	Title           string  `json:"title"`
	URL             string  `json:"url"`
	SimilarityScore float64 `json:"similarityScore"`
}

// QAResult 是问答接口返回给前端的完整结果。
type QAResult struct {
	Answer      string      `json:"answer"`
	Sources     []SourceRef `json:"sources,omitempty"`
	ContextUsed int         `json:"contextUsed"` // 实际参与组装上下文的文章数
}
