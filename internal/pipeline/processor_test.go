package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"testing"

	"research-companion-go/internal/config"
	"research-companion-go/internal/model"
	"research-companion-go/pkg/tasks"
	"research-companion-go/pkg/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var testRetrievalCfg = config.RetrievalConfig{
	ChunkSize:    800,
	ChunkOverlap: 150,
}

var testEmbeddingCfg = config.EmbeddingConfig{Model: "test-embed-v1"}

// stubEmbedder 为任意文本返回同一个向量。
type stubEmbedder struct {
	calls int
	err   error
}

func (s *stubEmbedder) CreateEmbedding(_ context.Context, _ string) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	s.calls++
	return []float32{1, 0, 0}, nil
}

// memIndex 是 vectorindex.Index 的最小内存实现。
type memIndex struct {
	docs map[string]model.ChunkDocument
}

func newMemIndex() *memIndex {
	return &memIndex{docs: make(map[string]model.ChunkDocument)}
}

func (m *memIndex) Insert(_ context.Context, doc model.ChunkDocument) error {
	m.docs[doc.VectorID] = doc
	return nil
}

func (m *memIndex) DeleteByArticle(_ context.Context, articleID uint) error {
	for id, doc := range m.docs {
		if doc.ArticleID == articleID {
			delete(m.docs, id)
		}
	}
	return nil
}

func (m *memIndex) Query(_ context.Context, _ []float32, _ vectorindex.Filter, _ int) ([]vectorindex.ChunkHit, error) {
	return nil, nil
}

func (m *memIndex) FetchByArticle(_ context.Context, articleID uint) ([]model.ChunkDocument, error) {
	var docs []model.ChunkDocument
	for _, doc := range m.docs {
		if doc.ArticleID == articleID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ChunkID < docs[j].ChunkID })
	return docs, nil
}

// stubArticleRepo 仅支持 Processor 用到的 FindByID。
type stubArticleRepo struct {
	articles map[uint]*model.Article
}

func (r *stubArticleRepo) Create(article *model.Article) error { return nil }

func (r *stubArticleRepo) FindByID(articleID uint) (*model.Article, error) {
	a, ok := r.articles[articleID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return a, nil
}

func (r *stubArticleRepo) FindByIDAndUser(articleID, userID uint) (*model.Article, error) {
	return r.FindByID(articleID)
}

func (r *stubArticleRepo) FindByUser(userID uint) ([]model.Article, error) { return nil, nil }

func (r *stubArticleRepo) Delete(articleID uint) error { return nil }

func TestProcess_IndexesAllChunksWithMetadata(t *testing.T) {
	content := strings.Repeat("Some sentence about databases. ", 60) // 约 1860 字符，应产生多个分块
	repo := &stubArticleRepo{articles: map[uint]*model.Article{
		1: {ID: 1, Title: "DB Notes", URL: "https://x/db", Content: content, Tags: "db", UserID: 7},
	}}
	idx := newMemIndex()
	p := NewProcessor(&stubEmbedder{}, idx, repo, testRetrievalCfg, testEmbeddingCfg)

	err := p.Process(context.Background(), tasks.ArticleIndexTask{ArticleID: 1, UserID: 7})
	require.NoError(t, err)

	docs, _ := idx.FetchByArticle(context.Background(), 1)
	require.True(t, len(docs) > 1)
	for i, doc := range docs {
		assert.Equal(t, fmt.Sprintf("article_1_chunk_%d", i), doc.VectorID)
		assert.Equal(t, i, doc.ChunkID)
		assert.Equal(t, len(docs), doc.TotalChunks)
		assert.Equal(t, "DB Notes", doc.Title)
		assert.Equal(t, "test-embed-v1", doc.ModelVersion)
		assert.Equal(t, uint(7), doc.UserID)
		assert.NotEmpty(t, doc.TextContent)
		assert.NotEmpty(t, doc.Vector)
	}
}

func TestProcess_IsIdempotent(t *testing.T) {
	content := strings.Repeat("Another sentence for the index. ", 60)
	repo := &stubArticleRepo{articles: map[uint]*model.Article{
		1: {ID: 1, Title: "T", URL: "https://x/1", Content: content, UserID: 7},
	}}
	idx := newMemIndex()
	p := NewProcessor(&stubEmbedder{}, idx, repo, testRetrievalCfg, testEmbeddingCfg)

	require.NoError(t, p.Process(context.Background(), tasks.ArticleIndexTask{ArticleID: 1, UserID: 7}))
	first, _ := idx.FetchByArticle(context.Background(), 1)

	// 重复消费同一任务，分块数不应累计膨胀
	require.NoError(t, p.Process(context.Background(), tasks.ArticleIndexTask{ArticleID: 1, UserID: 7}))
	second, _ := idx.FetchByArticle(context.Background(), 1)

	assert.Equal(t, len(first), len(second))
}

func TestProcess_MissingArticleIsNoop(t *testing.T) {
	repo := &stubArticleRepo{articles: map[uint]*model.Article{}}
	p := NewProcessor(&stubEmbedder{}, newMemIndex(), repo, testRetrievalCfg, testEmbeddingCfg)

	// 文章已被删除：任务视为完成而非失败，避免 Kafka 无意义重试
	err := p.Process(context.Background(), tasks.ArticleIndexTask{ArticleID: 42, UserID: 7})
	assert.NoError(t, err)
}

func TestProcess_BlankContentSkipsIndexing(t *testing.T) {
	repo := &stubArticleRepo{articles: map[uint]*model.Article{
		1: {ID: 1, Title: "Empty", URL: "https://x/1", Content: "   \n\n  ", UserID: 7},
	}}
	idx := newMemIndex()
	embedder := &stubEmbedder{}
	p := NewProcessor(embedder, idx, repo, testRetrievalCfg, testEmbeddingCfg)

	err := p.Process(context.Background(), tasks.ArticleIndexTask{ArticleID: 1, UserID: 7})
	require.NoError(t, err)
	assert.Zero(t, embedder.calls)
	docs, _ := idx.FetchByArticle(context.Background(), 1)
	assert.Empty(t, docs)
}

func TestProcess_EmbeddingFailureReturnsError(t *testing.T) {
	repo := &stubArticleRepo{articles: map[uint]*model.Article{
		1: {ID: 1, Title: "T", URL: "https://x/1", Content: "Short but valid article content for a single chunk.", UserID: 7},
	}}
	p := NewProcessor(&stubEmbedder{err: assert.AnError}, newMemIndex(), repo, testRetrievalCfg, testEmbeddingCfg)

	err := p.Process(context.Background(), tasks.ArticleIndexTask{ArticleID: 1, UserID: 7})
	assert.Error(t, err)
}
