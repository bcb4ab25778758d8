package service

import (
	"context"
	"errors"
	"fmt"

	"research-companion-go/internal/model"
	"research-companion-go/internal/repository"
	"research-companion-go/pkg/kafka"
	"research-companion-go/pkg/log"
	"research-companion-go/pkg/scraper"
	"research-companion-go/pkg/storage"
	"research-companion-go/pkg/tasks"
	"research-companion-go/pkg/vectorindex"

	"gorm.io/gorm"
)

// ErrArticleNotFound 在文章不存在或不属于当前用户时返回。
var ErrArticleNotFound = errors.New("article not found")

// ArticleService 接口定义了文章收藏相关的业务操作。
type ArticleService interface {
	// Create 抓取 url 并保存为当前用户的文章，索引任务异步执行。
	Create(ctx context.Context, userID uint, url, tags string) (*model.Article, error)
	List(userID uint) ([]model.ArticleSummaryDTO, error)
	Get(articleID, userID uint) (*model.Article, error)
	Delete(ctx context.Context, articleID, userID uint) error
	// Reindex 重新入队一篇文章的索引任务，用于嵌入模型升级后的重建。
	Reindex(articleID, userID uint) error
}

// articleService 是 ArticleService 接口的实现。
type articleService struct {
	articleRepo   repository.ArticleRepository
	scraperClient *scraper.Client
	snapshots     *storage.SnapshotStore
	index         vectorindex.Index
}

// NewArticleService 创建一个新的 ArticleService 实例。
func NewArticleService(
	articleRepo repository.ArticleRepository,
	scraperClient *scraper.Client,
	snapshots *storage.SnapshotStore,
	index vectorindex.Index,
) ArticleService {
	return &articleService{
		articleRepo:   articleRepo,
		scraperClient: scraperClient,
		snapshots:     snapshots,
		index:         index,
	}
}

// Create 处理文章收藏的主流程。
// 正文入库是唯一的强一致步骤；快照与索引任务失败只记录日志，靠 Reindex 兜底。
func (s *articleService) Create(ctx context.Context, userID uint, url, tags string) (*model.Article, error) {
	log.Infof("[ArticleService] 开始收藏文章, UserID: %d, URL: %s", userID, url)

	// 1. 抓取并抽取正文
	result, err := s.scraperClient.Extract(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("抓取文章失败: %w", err)
	}

	// 2. 文章元数据与正文写入 MySQL
	article := &model.Article{
		Title:   result.Title,
		URL:     result.URL,
		Content: result.Content,
		Tags:    tags,
		UserID:  userID,
	}
	if err := s.articleRepo.Create(article); err != nil {
		return nil, fmt.Errorf("保存文章失败: %w", err)
	}
	log.Infof("[ArticleService] 步骤2: 文章已入库, ArticleID: %d, Title: '%s'", article.ID, article.Title)

	// 3. 原始 HTML 快照写入 MinIO（尽力而为）
	if err := s.snapshots.Put(ctx, article.ID, result.HTML); err != nil {
		log.Warnf("[ArticleService] 保存原始快照失败, ArticleID: %d, Error: %v", article.ID, err)
	}

	// 4. 发送索引任务到 Kafka
	task := tasks.ArticleIndexTask{ArticleID: article.ID, UserID: userID}
	if err := kafka.ProduceIndexTask(task); err != nil {
		// 任务丢失时文章仍可见但不可检索，可通过 Reindex 接口补发
		log.Errorf("[ArticleService] 发送索引任务失败, ArticleID: %d, Error: %v", article.ID, err)
	} else {
		log.Infof("[ArticleService] 步骤4: 索引任务已入队, ArticleID: %d", article.ID)
	}

	return article, nil
}

// List 返回当前用户的文章列表（不含正文）。
func (s *articleService) List(userID uint) ([]model.ArticleSummaryDTO, error) {
	articles, err := s.articleRepo.FindByUser(userID)
	if err != nil {
		return nil, err
	}
	summaries := make([]model.ArticleSummaryDTO, 0, len(articles))
	for _, a := range articles {
		summaries = append(summaries, model.ArticleSummaryDTO{
			ID:        a.ID,
			Title:     a.Title,
			URL:       a.URL,
			Tags:      a.Tags,
			CreatedAt: a.CreatedAt,
		})
	}
	return summaries, nil
}

// Get 返回当前用户的一篇文章（含正文）。
func (s *articleService) Get(articleID, userID uint) (*model.Article, error) {
	article, err := s.articleRepo.FindByIDAndUser(articleID, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrArticleNotFound
		}
		return nil, err
	}
	return article, nil
}

// Delete 删除文章及其派生数据。向量与快照的清理是尽力而为的：
// 残留分块会在下一次同 ID 文章重建索引时被先删后插覆盖。
func (s *articleService) Delete(ctx context.Context, articleID, userID uint) error {
	// 1. 所有权校验
	if _, err := s.articleRepo.FindByIDAndUser(articleID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrArticleNotFound
		}
		return err
	}

	// 2. 清理向量索引
	if err := s.index.DeleteByArticle(ctx, articleID); err != nil {
		log.Warnf("[ArticleService] 清理向量分块失败, ArticleID: %d, Error: %v", articleID, err)
	}

	// 3. 清理快照
	if err := s.snapshots.Remove(ctx, articleID); err != nil {
		log.Warnf("[ArticleService] 清理快照失败, ArticleID: %d, Error: %v", articleID, err)
	}

	// 4. 删除数据库记录
	if err := s.articleRepo.Delete(articleID); err != nil {
		return fmt.Errorf("删除文章失败: %w", err)
	}
	log.Infof("[ArticleService] 文章已删除, ArticleID: %d", articleID)
	return nil
}

// Reindex 重新发送一篇文章的索引任务。
func (s *articleService) Reindex(articleID, userID uint) error {
	if _, err := s.articleRepo.FindByIDAndUser(articleID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrArticleNotFound
		}
		return err
	}

	task := tasks.ArticleIndexTask{ArticleID: articleID, UserID: userID}
	if err := kafka.ProduceIndexTask(task); err != nil {
		return fmt.Errorf("发送索引任务失败: %w", err)
	}
	log.Infof("[ArticleService] 重建索引任务已入队, ArticleID: %d", articleID)
	return nil
}
