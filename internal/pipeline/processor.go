// Package pipeline 定义了文章索引的核心流程。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"research-companion-go/internal/chunker"
	"research-companion-go/internal/config"
	"research-companion-go/internal/model"
	"research-companion-go/internal/repository"
	"research-companion-go/pkg/embedding"
	"research-companion-go/pkg/log"
	"research-companion-go/pkg/tasks"
	"research-companion-go/pkg/vectorindex"

	"gorm.io/gorm"
)

// Processor 封装了文章索引的所有依赖和逻辑。
// 流程：加载文章 -> 清理旧分块 -> 切块 -> 逐块向量化并写入索引。
type Processor struct {
	embeddingClient embedding.Client
	index           vectorindex.Index
	articleRepo     repository.ArticleRepository
	retrievalCfg    config.RetrievalConfig
	embeddingCfg    config.EmbeddingConfig
}

// NewProcessor 创建一个新的 Processor 实例。
func NewProcessor(
	embeddingClient embedding.Client,
	index vectorindex.Index,
	articleRepo repository.ArticleRepository,
	retrievalCfg config.RetrievalConfig,
	embeddingCfg config.EmbeddingConfig,
) *Processor {
	return &Processor{
		embeddingClient: embeddingClient,
		index:           index,
		articleRepo:     articleRepo,
		retrievalCfg:    retrievalCfg,
		embeddingCfg:    embeddingCfg,
	}
}

// Process 是文章索引的主函数。整个流程先删后插，重复执行是幂等的。
func (p *Processor) Process(ctx context.Context, task tasks.ArticleIndexTask) error {
	log.Infof("[Processor] 开始索引文章, ArticleID: %d, UserID: %d", task.ArticleID, task.UserID)

	// 1. 从数据库加载文章正文
	article, err := p.articleRepo.FindByID(task.ArticleID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// 文章在任务入队后被删除，视为处理完成
			log.Warnf("[Processor] 文章不存在, 跳过索引, ArticleID: %d", task.ArticleID)
			return nil
		}
		log.Errorf("[Processor] 加载文章失败, ArticleID: %d, Error: %v", task.ArticleID, err)
		return fmt.Errorf("加载文章失败: %w", err)
	}
	log.Infof("[Processor] 步骤1: 文章加载成功, Title: '%s', 内容长度: %d 字符",
		article.Title, utf8.RuneCountInString(article.Content))

	// 2. 清理该文章既有的分块记录（幂等：先删后插）
	log.Info("[Processor] 步骤2: 清理向量索引中的旧分块")
	if err := p.index.DeleteByArticle(ctx, article.ID); err != nil {
		log.Errorf("[Processor] 清理旧分块失败, ArticleID: %d, Error: %v", article.ID, err)
		return fmt.Errorf("清理旧分块失败: %w", err)
	}

	// 3. 文本切块
	log.Infof("[Processor] 步骤3: 进行文本分块, chunkSize: %d, chunkOverlap: %d",
		p.retrievalCfg.ChunkSize, p.retrievalCfg.ChunkOverlap)
	chunks := chunker.Split(article.Content, p.retrievalCfg.ChunkSize, p.retrievalCfg.ChunkOverlap)
	log.Infof("[Processor] 步骤3: 文本分块完成, 共生成 %d 个分块", len(chunks))
	if len(chunks) == 0 {
		// 正文为空白时不视为错误，文章保持可见但不可检索
		log.Warnf("[Processor] 未生成任何文本分块, 跳过索引, ArticleID: %d", article.ID)
		return nil
	}

	// 4. 逐块向量化并写入索引
	log.Info("[Processor] 步骤4: 开始生成向量并写入索引")
	for i, chunk := range chunks {
		vector, err := p.embeddingClient.CreateEmbedding(ctx, chunk)
		if err != nil {
			log.Errorf("[Processor] 生成向量失败, ArticleID: %d, ChunkID: %d, Error: %v", article.ID, i, err)
			return fmt.Errorf("生成向量失败 (chunk %d): %w", i, err)
		}

		doc := model.ChunkDocument{
			VectorID:     fmt.Sprintf("article_%d_chunk_%d", article.ID, i),
			ArticleID:    article.ID,
			ChunkID:      i,
			TotalChunks:  len(chunks),
			TextContent:  chunk,
			Vector:       vector,
			ModelVersion: p.embeddingCfg.Model,
			UserID:       article.UserID,
			Title:        article.Title,
			URL:          article.URL,
			Tags:         article.Tags,
		}
		if err := p.index.Insert(ctx, doc); err != nil {
			log.Errorf("[Processor] 写入向量索引失败, VectorID: %s, Error: %v", doc.VectorID, err)
			return fmt.Errorf("写入向量索引失败 (chunk %d): %w", i, err)
		}
	}

	log.Infof("[Processor] 文章索引完成, ArticleID: %d, 分块数: %d", article.ID, len(chunks))
	return nil
}
