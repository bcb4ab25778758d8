package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"testing"

	"research-companion-go/internal/config"
	"research-companion-go/internal/model"
	"research-companion-go/pkg/vectorindex"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// testRetrievalCfg 与默认配置保持一致。
var testRetrievalCfg = config.RetrievalConfig{
	ChunkSize:        800,
	ChunkOverlap:     150,
	MaxContextChunks: 3,
	ThresholdScale:   0.6,
	ThresholdFloor:   0.12,
	ThresholdCeiling: 0.25,
}

// fakeEmbedder 返回预先注册的向量，未注册的文本返回错误。
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("no vector registered for text")
	}
	return v, nil
}

// fakeIndex 是 vectorindex.Index 的内存实现，按余弦距离排序。
type fakeIndex struct {
	docs     map[string]model.ChunkDocument
	queryErr error
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[string]model.ChunkDocument)}
}

func (f *fakeIndex) Insert(_ context.Context, doc model.ChunkDocument) error {
	f.docs[doc.VectorID] = doc
	return nil
}

func (f *fakeIndex) DeleteByArticle(_ context.Context, articleID uint) error {
	for id, doc := range f.docs {
		if doc.ArticleID == articleID {
			delete(f.docs, id)
		}
	}
	return nil
}

func (f *fakeIndex) Query(_ context.Context, vector []float32, filter vectorindex.Filter, topK int) ([]vectorindex.ChunkHit, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	var hits []vectorindex.ChunkHit
	for _, doc := range f.docs {
		if filter.UserID != 0 && doc.UserID != filter.UserID {
			continue
		}
		if filter.ArticleID != 0 && doc.ArticleID != filter.ArticleID {
			continue
		}
		hits = append(hits, vectorindex.ChunkHit{Doc: doc, Distance: 1 - cosine(vector, doc.Vector)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (f *fakeIndex) FetchByArticle(_ context.Context, articleID uint) ([]model.ChunkDocument, error) {
	var docs []model.ChunkDocument
	for _, doc := range f.docs {
		if doc.ArticleID == articleID {
			docs = append(docs, doc)
		}
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].ChunkID < docs[j].ChunkID })
	return docs, nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// fakeArticleRepo 是 ArticleRepository 的内存实现。
type fakeArticleRepo struct {
	articles map[uint]*model.Article
}

func newFakeArticleRepo(articles ...*model.Article) *fakeArticleRepo {
	repo := &fakeArticleRepo{articles: make(map[uint]*model.Article)}
	for _, a := range articles {
		repo.articles[a.ID] = a
	}
	return repo
}

func (r *fakeArticleRepo) Create(article *model.Article) error {
	r.articles[article.ID] = article
	return nil
}

func (r *fakeArticleRepo) FindByID(articleID uint) (*model.Article, error) {
	a, ok := r.articles[articleID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return a, nil
}

func (r *fakeArticleRepo) FindByIDAndUser(articleID, userID uint) (*model.Article, error) {
	a, ok := r.articles[articleID]
	if !ok || a.UserID != userID {
		return nil, gorm.ErrRecordNotFound
	}
	return a, nil
}

func (r *fakeArticleRepo) FindByUser(userID uint) ([]model.Article, error) {
	var out []model.Article
	for _, a := range r.articles {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeArticleRepo) Delete(articleID uint) error {
	delete(r.articles, articleID)
	return nil
}

func seedChunk(idx *fakeIndex, articleID uint, chunkID int, userID uint, text string, vector []float32) {
	_ = idx.Insert(context.Background(), model.ChunkDocument{
		VectorID:    vectorID(articleID, chunkID),
		ArticleID:   articleID,
		ChunkID:     chunkID,
		TextContent: text,
		Vector:      vector,
		UserID:      userID,
	})
}

func vectorID(articleID uint, chunkID int) string {
	return fmt.Sprintf("article_%d_chunk_%d", articleID, chunkID)
}

func TestRetrieve_DedupesByArticle(t *testing.T) {
	idx := newFakeIndex()
	// 文章 1 的三个分块都比文章 2 的更接近查询向量
	seedChunk(idx, 1, 0, 7, "a1 c0", []float32{1, 0, 0})
	seedChunk(idx, 1, 1, 7, "a1 c1", []float32{0.9, 0.1, 0})
	seedChunk(idx, 1, 2, 7, "a1 c2", []float32{0.8, 0.2, 0})
	seedChunk(idx, 2, 0, 7, "a2 c0", []float32{0, 1, 0})
	seedChunk(idx, 2, 1, 7, "a2 c1", []float32{0.1, 0.9, 0})

	embedder := &fakeEmbedder{vectors: map[string][]float32{"query": {1, 0, 0}}}
	svc := NewSearchService(embedder, idx, newFakeArticleRepo(), testRetrievalCfg)

	hits, err := svc.Retrieve(context.Background(), "query", &model.User{ID: 7}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	// 每篇文章只保留最优分块
	assert.Equal(t, uint(1), hits[0].ArticleID)
	assert.Equal(t, "a1 c0", hits[0].TextContent)
	assert.Equal(t, uint(2), hits[1].ArticleID)
	assert.True(t, hits[0].Similarity > hits[1].Similarity)
}

func TestRetrieve_IdenticalVectorScoresOne(t *testing.T) {
	idx := newFakeIndex()
	seedChunk(idx, 1, 0, 7, "exact", []float32{0.6, 0.8, 0})

	embedder := &fakeEmbedder{vectors: map[string][]float32{"query": {0.6, 0.8, 0}}}
	svc := NewSearchService(embedder, idx, newFakeArticleRepo(), testRetrievalCfg)

	hits, err := svc.Retrieve(context.Background(), "query", &model.User{ID: 7}, 1)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
}

func TestRetrieve_FiltersByUser(t *testing.T) {
	idx := newFakeIndex()
	seedChunk(idx, 1, 0, 7, "mine", []float32{1, 0, 0})
	seedChunk(idx, 2, 0, 8, "theirs", []float32{1, 0, 0})

	embedder := &fakeEmbedder{vectors: map[string][]float32{"query": {1, 0, 0}}}
	svc := NewSearchService(embedder, idx, newFakeArticleRepo(), testRetrievalCfg)

	hits, err := svc.Retrieve(context.Background(), "query", &model.User{ID: 7}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint(1), hits[0].ArticleID)
}

func TestRetrieve_EmbeddingErrorPropagates(t *testing.T) {
	embedder := &fakeEmbedder{err: errors.New("provider down")}
	svc := NewSearchService(embedder, newFakeIndex(), newFakeArticleRepo(), testRetrievalCfg)

	_, err := svc.Retrieve(context.Background(), "query", &model.User{ID: 7}, 5)
	assert.Error(t, err)
}

func TestRetrieve_IndexErrorDegradesToEmpty(t *testing.T) {
	idx := newFakeIndex()
	idx.queryErr = errors.New("index unavailable")
	embedder := &fakeEmbedder{vectors: map[string][]float32{"query": {1, 0, 0}}}
	svc := NewSearchService(embedder, idx, newFakeArticleRepo(), testRetrievalCfg)

	hits, err := svc.Retrieve(context.Background(), "query", &model.User{ID: 7}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearch_SkipsDeletedArticles(t *testing.T) {
	idx := newFakeIndex()
	seedChunk(idx, 1, 0, 7, "kept", []float32{1, 0, 0})
	seedChunk(idx, 2, 0, 7, "dangling", []float32{0.9, 0.1, 0})

	// 文章 2 已从数据库删除，索引中残留分块
	repo := newFakeArticleRepo(&model.Article{ID: 1, Title: "Kept", URL: "https://x/1", UserID: 7})
	embedder := &fakeEmbedder{vectors: map[string][]float32{"query": {1, 0, 0}}}
	svc := NewSearchService(embedder, idx, repo, testRetrievalCfg)

	results, err := svc.Search(context.Background(), "query", &model.User{ID: 7}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "Kept", results[0].Article.Title)
	assert.InDelta(t, 1.0, results[0].SimilarityScore, 1e-9)
}

func TestRetrieve_DeletedArticleDisappears(t *testing.T) {
	idx := newFakeIndex()
	seedChunk(idx, 1, 0, 7, "Sentence one. Sentence two. Sentence three.", []float32{0.6, 0.8, 0})

	embedder := &fakeEmbedder{vectors: map[string][]float32{"query": {0.6, 0.8, 0}}}
	svc := NewSearchService(embedder, idx, newFakeArticleRepo(), testRetrievalCfg)

	hits, err := svc.Retrieve(context.Background(), "query", &model.User{ID: 7}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)

	// 删除文章分块后再次检索不应命中
	require.NoError(t, idx.DeleteByArticle(context.Background(), 1))
	hits, err = svc.Retrieve(context.Background(), "query", &model.User{ID: 7}, 5)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestAdaptiveThreshold_Clamping(t *testing.T) {
	svc := NewSearchService(&fakeEmbedder{}, newFakeIndex(), newFakeArticleRepo(), testRetrievalCfg)

	// 0.5*0.6=0.30 超过上限，夹到 0.25
	assert.InDelta(t, 0.25, svc.AdaptiveThreshold(0.5), 1e-9)
	// 0.3*0.6=0.18 落在区间内
	assert.InDelta(t, 0.18, svc.AdaptiveThreshold(0.3), 1e-9)
	// 0.1*0.6=0.06 低于下限，夹到 0.12
	assert.InDelta(t, 0.12, svc.AdaptiveThreshold(0.1), 1e-9)
}

func TestArticleContext_QueryPathPicksRelevantChunks(t *testing.T) {
	idx := newFakeIndex()
	seedChunk(idx, 1, 0, 7, "intro", []float32{0, 1, 0})
	seedChunk(idx, 1, 1, 7, "relevant", []float32{1, 0, 0})
	seedChunk(idx, 1, 2, 7, "tail", []float32{0, 0, 1})

	embedder := &fakeEmbedder{vectors: map[string][]float32{"query": {1, 0, 0}}}
	svc := NewSearchService(embedder, idx, newFakeArticleRepo(), testRetrievalCfg)

	got := svc.ArticleContext(context.Background(), 1, "query", 1)
	assert.Equal(t, "relevant", got)
}

func TestArticleContext_FallbackUsesReadingOrder(t *testing.T) {
	idx := newFakeIndex()
	seedChunk(idx, 1, 2, 7, "third", []float32{0, 0, 1})
	seedChunk(idx, 1, 0, 7, "first", []float32{1, 0, 0})
	seedChunk(idx, 1, 1, 7, "second", []float32{0, 1, 0})

	svc := NewSearchService(&fakeEmbedder{}, idx, newFakeArticleRepo(), testRetrievalCfg)

	// 空查询走回退路径：按阅读顺序选取
	got := svc.ArticleContext(context.Background(), 1, "", 2)
	assert.Equal(t, "first second", got)
}

func TestArticleContext_EmptyArticleReturnsEmpty(t *testing.T) {
	svc := NewSearchService(&fakeEmbedder{}, newFakeIndex(), newFakeArticleRepo(), testRetrievalCfg)
	assert.Equal(t, "", svc.ArticleContext(context.Background(), 99, "", 3))
}
