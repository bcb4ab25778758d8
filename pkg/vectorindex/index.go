// Package vectorindex 基于 Elasticsearch dense_vector 实现文章分块的向量索引。
// 整个部署只有一个索引（collection），用户/文章级别的隔离通过元数据过滤完成。
package vectorindex

import (
	"context"
	"errors"

	"research-companion-go/internal/model"
)

// ErrIndex 标记向量存储不可用或查询构造非法。
var ErrIndex = errors.New("vector index failure")

// Filter 约束一次查询的可见范围，零值字段不参与过滤。
type Filter struct {
	UserID    uint
	ArticleID uint
}

// ChunkHit 是一次最近邻查询的单条结果。
// Distance 为余弦距离（0 表示完全同向）；下游一律按 similarity = 1 - distance 换算，
// 相关性阈值正是针对这一确切变换调优的。
type ChunkHit struct {
	Doc      model.ChunkDocument
	Distance float64
}

// Index 定义了向量索引的全部操作。
// 写入以整篇文章为批次（插入全部分块、删除全部分块），
// 单次调用粒度上的原子性由底层存储保证，管线自身不加锁。
type Index interface {
	// Insert 写入单个分块记录，记录 ID 取 doc.VectorID（由 article_id 与分块序号确定性派生）。
	Insert(ctx context.Context, doc model.ChunkDocument) error
	// DeleteByArticle 删除某篇文章的全部分块，没有匹配记录时静默成功。
	DeleteByArticle(ctx context.Context, articleID uint) error
	// Query 返回与 vector 最近的至多 topK 条记录，按距离升序（最近在前）。
	Query(ctx context.Context, vector []float32, f Filter, topK int) ([]ChunkHit, error)
	// FetchByArticle 按 chunk_id 升序（阅读顺序）返回某篇文章的全部分块。
	FetchByArticle(ctx context.Context, articleID uint) ([]model.ChunkDocument, error)
}
