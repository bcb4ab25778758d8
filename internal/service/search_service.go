// Package service 提供了检索相关的业务逻辑。
package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"research-companion-go/internal/config"
	"research-companion-go/internal/model"
	"research-companion-go/internal/repository"
	"research-companion-go/pkg/embedding"
	"research-companion-go/pkg/log"
	"research-companion-go/pkg/vectorindex"

	"gorm.io/gorm"
)

// overfetchFactor 是向量查询的过采样系数：同一篇文章的多个分块可能同时
// 位于近邻集合中，按文章去重后结果会缩水，因此候选量取 limit 的三倍。
const overfetchFactor = 3

// 搜索结果中返回的分块片段长度上限（rune）。
const maxSnippetLen = 300

// SearchService 接口定义了检索操作。
type SearchService interface {
	// Retrieve 返回与 query 语义最接近的至多 limit 篇文章，
	// 每篇文章由其最优分块代表，按相似度降序。
	Retrieve(ctx context.Context, query string, user *model.User, limit int) ([]model.SearchHit, error)
	// Search 在 Retrieve 的基础上关联文章元数据，供搜索接口直接返回。
	Search(ctx context.Context, query string, user *model.User, limit int) ([]model.SearchResultDTO, error)
	// ArticleContext 为一篇文章组装问答上下文。query 非空时优先选取与
	// 问题相关的分块，否则按阅读顺序取开头若干分块。该方法从不因数据
	// 缺失而报错，最坏情况返回空串。
	ArticleContext(ctx context.Context, articleID uint, query string, maxChunks int) string
	// AdaptiveThreshold 根据本轮最高相似度计算相关性门槛。
	AdaptiveThreshold(maxSimilarity float64) float64
}

type searchService struct {
	embeddingClient embedding.Client
	index           vectorindex.Index
	articleRepo     repository.ArticleRepository
	retrievalCfg    config.RetrievalConfig
}

// NewSearchService 创建一个新的 SearchService 实例。
func NewSearchService(
	embeddingClient embedding.Client,
	index vectorindex.Index,
	articleRepo repository.ArticleRepository,
	retrievalCfg config.RetrievalConfig,
) SearchService {
	return &searchService{
		embeddingClient: embeddingClient,
		index:           index,
		articleRepo:     articleRepo,
		retrievalCfg:    retrievalCfg,
	}
}

// Retrieve 执行语义检索并按文章去重。
func (s *searchService) Retrieve(ctx context.Context, query string, user *model.User, limit int) ([]model.SearchHit, error) {
	if strings.TrimSpace(query) == "" || limit <= 0 {
		return []model.SearchHit{}, nil
	}
	log.Infof("[SearchService] 开始语义检索, query: '%s', limit: %d, user: %d", query, limit, user.ID)

	// 1. 向量化查询。失败时无法降级，直接向上传播
	queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
	if err != nil {
		log.Errorf("[SearchService] 向量化查询失败: %v", err)
		return nil, fmt.Errorf("failed to create query embedding: %w", err)
	}
	log.Infof("[SearchService] 步骤1: 向量化查询成功, 向量维度: %d", len(queryVector))

	// 2. 过采样的近邻查询，按 user_id 过滤。索引不可用降级为空结果
	hits, err := s.index.Query(ctx, queryVector, vectorindex.Filter{UserID: user.ID}, limit*overfetchFactor)
	if err != nil {
		log.Errorf("[SearchService] 向量查询失败, 降级为空结果: %v", err)
		return []model.SearchHit{}, nil
	}
	log.Infof("[SearchService] 步骤2: 近邻查询返回 %d 个候选分块", len(hits))

	// 3. 按文章去重：结果已按距离升序，每篇文章第一次出现的分块即其最优分块
	seen := make(map[uint]bool)
	results := make([]model.SearchHit, 0, limit)
	for _, h := range hits {
		if seen[h.Doc.ArticleID] {
			continue
		}
		seen[h.Doc.ArticleID] = true
		results = append(results, model.SearchHit{
			ArticleID:   h.Doc.ArticleID,
			Similarity:  1 - h.Distance,
			TextContent: h.Doc.TextContent,
		})
		if len(results) >= limit {
			break
		}
	}
	log.Infof("[SearchService] 步骤3: 去重后剩余 %d 篇文章", len(results))
	return results, nil
}

// Search 关联文章元数据后返回搜索结果。索引中残留了已删除文章的分块时跳过该条。
func (s *searchService) Search(ctx context.Context, query string, user *model.User, limit int) ([]model.SearchResultDTO, error) {
	hits, err := s.Retrieve(ctx, query, user, limit)
	if err != nil {
		return nil, err
	}

	results := make([]model.SearchResultDTO, 0, len(hits))
	for _, hit := range hits {
		article, err := s.articleRepo.FindByID(hit.ArticleID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Warnf("[SearchService] 查询文章元数据失败, ArticleID: %d, Error: %v", hit.ArticleID, err)
			}
			continue
		}
		results = append(results, model.SearchResultDTO{
			Article: model.ArticleSummaryDTO{
				ID:        article.ID,
				Title:     article.Title,
				URL:       article.URL,
				Content:   truncateSnippet(hit.TextContent, maxSnippetLen),
				Tags:      article.Tags,
				CreatedAt: article.CreatedAt,
			},
			SimilarityScore: hit.Similarity,
		})
	}
	return results, nil
}

// ArticleContext 组装一篇文章的问答上下文。
func (s *searchService) ArticleContext(ctx context.Context, articleID uint, query string, maxChunks int) string {
	if maxChunks <= 0 {
		return ""
	}

	// 优先路径：用问题向量在该文章的分块内检索
	if strings.TrimSpace(query) != "" {
		queryVector, err := s.embeddingClient.CreateEmbedding(ctx, query)
		if err != nil {
			log.Warnf("[SearchService] 上下文查询向量化失败, 回退为顺序选取: %v", err)
		} else {
			// 过采样两倍，给重排留余量
			hits, err := s.index.Query(ctx, queryVector, vectorindex.Filter{ArticleID: articleID}, maxChunks*2)
			if err != nil {
				log.Warnf("[SearchService] 文章内分块检索失败, 回退为顺序选取, ArticleID: %d, Error: %v", articleID, err)
			} else if len(hits) > 0 {
				// 防御性重排：底层承诺按距离升序，但这里不依赖它
				sort.SliceStable(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
				if len(hits) > maxChunks {
					hits = hits[:maxChunks]
				}
				parts := make([]string, 0, len(hits))
				for _, h := range hits {
					parts = append(parts, h.Doc.TextContent)
				}
				return strings.Join(parts, " ")
			}
		}
	}

	// 回退路径：按阅读顺序取文章开头的分块
	docs, err := s.index.FetchByArticle(ctx, articleID)
	if err != nil {
		log.Warnf("[SearchService] 获取文章分块失败, ArticleID: %d, Error: %v", articleID, err)
		return ""
	}
	if len(docs) == 0 {
		return ""
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].ChunkID < docs[j].ChunkID })
	if len(docs) > maxChunks {
		docs = docs[:maxChunks]
	}
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.TextContent)
	}
	return strings.Join(parts, " ")
}

// AdaptiveThreshold 把最高相似度乘以 scale 后夹在 [floor, ceiling] 区间内。
// 门槛随检索质量浮动：高质量命中时从严，勉强命中时从宽，但始终有底线。
func (s *searchService) AdaptiveThreshold(maxSimilarity float64) float64 {
	threshold := maxSimilarity * s.retrievalCfg.ThresholdScale
	if threshold < s.retrievalCfg.ThresholdFloor {
		threshold = s.retrievalCfg.ThresholdFloor
	}
	if threshold > s.retrievalCfg.ThresholdCeiling {
		threshold = s.retrievalCfg.ThresholdCeiling
	}
	return threshold
}

// truncateSnippet 按 rune 截断片段并追加省略号。
func truncateSnippet(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "…"
}
