package model

// ChunkDocument 定义了存储在 Elasticsearch 向量索引中的文章分块结构。
// 记录 ID 由 (article_id, chunk_id) 确定性派生，整个部署共用一个索引，
// 用户隔离通过 user_id 元数据过滤实现，而不是分库。
type ChunkDocument struct {
	VectorID     string    `json:"vector_id"` // article_<articleID>_chunk_<chunkID>
	ArticleID    uint      `json:"article_id"`
	ChunkID      int       `json:"chunk_id"` // 分块在文章内的 0 起始序号，即阅读顺序
	TotalChunks  int       `json:"total_chunks"`
	TextContent  string    `json:"text_content"`
	Vector       []float32 `json:"vector,omitempty"`
	ModelVersion string    `json:"model_version"`
	UserID       uint      `json:"user_id"`
	Title        string    `json:"title"`
	URL          string    `json:"url"`
	Tags         string    `json:"tags"`
}

// SearchHit 是检索阶段的瞬时结果：每篇文章只保留其最优分块。不落盘。
type SearchHit struct {
	ArticleID   uint    `json:"articleId"`
	Similarity  float64 `json:"similarity"` // 1 - 余弦距离
	TextContent string  `json:"textContent"`
}
