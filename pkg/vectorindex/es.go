package vectorindex

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"research-companion-go/internal/config"
	"research-companion-go/internal/model"
	"research-companion-go/pkg/log"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

// NewESClient 根据配置创建 Elasticsearch 客户端。
func NewESClient(esCfg config.ElasticsearchConfig) (*elasticsearch.Client, error) {
	return elasticsearch.NewClient(elasticsearch.Config{
		Addresses: []string{esCfg.Addresses},
		Username:  esCfg.Username,
		Password:  esCfg.Password,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		},
	})
}

type esIndex struct {
	client    *elasticsearch.Client
	indexName string
	dims      int
}

// NewESIndex 创建基于 Elasticsearch 的向量索引实例，并确保索引 mapping 存在。
// dims 为向量维度，必须与 Embedding 模型的输出一致。
func NewESIndex(client *elasticsearch.Client, esCfg config.ElasticsearchConfig, dims int) (Index, error) {
	idx := &esIndex{client: client, indexName: esCfg.IndexName, dims: dims}
	if err := idx.ensureIndex(); err != nil {
		return nil, err
	}
	return idx, nil
}

// ensureIndex 检查索引是否存在，不存在则按 cosine 相似度创建。
func (e *esIndex) ensureIndex() error {
	res, err := e.client.Indices.Exists([]string{e.indexName})
	if err != nil {
		return fmt.Errorf("%w: check index exists: %v", ErrIndex, err)
	}
	defer res.Body.Close()
	if !res.IsError() && res.StatusCode == http.StatusOK {
		log.Infof("向量索引 '%s' 已存在", e.indexName)
		return nil
	}
	if res.StatusCode != http.StatusNotFound {
		return fmt.Errorf("%w: unexpected status %d checking index", ErrIndex, res.StatusCode)
	}

	mapping := fmt.Sprintf(`{
		"mappings": {
			"properties": {
				"vector_id":     { "type": "keyword" },
				"article_id":    { "type": "long" },
				"chunk_id":      { "type": "integer" },
				"total_chunks":  { "type": "integer" },
				"text_content":  { "type": "text" },
				"vector": {
					"type": "dense_vector",
					"dims": %d,
					"index": true,
					"similarity": "cosine"
				},
				"model_version": { "type": "keyword" },
				"user_id":       { "type": "long" },
				"title":         { "type": "keyword" },
				"url":           { "type": "keyword" },
				"tags":          { "type": "keyword" }
			}
		}
	}`, e.dims)

	createRes, err := e.client.Indices.Create(
		e.indexName,
		e.client.Indices.Create.WithBody(bytes.NewReader([]byte(mapping))),
	)
	if err != nil {
		return fmt.Errorf("%w: create index: %v", ErrIndex, err)
	}
	defer createRes.Body.Close()
	if createRes.IsError() {
		return fmt.Errorf("%w: create index: %s", ErrIndex, createRes.String())
	}
	log.Infof("向量索引 '%s' 创建成功 (dims=%d)", e.indexName, e.dims)
	return nil
}

// Insert 写入单个分块文档，按 VectorID 幂等覆盖。
func (e *esIndex) Insert(ctx context.Context, doc model.ChunkDocument) error {
	docBytes, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("%w: marshal chunk: %v", ErrIndex, err)
	}

	req := esapi.IndexRequest{
		Index:      e.indexName,
		DocumentID: doc.VectorID,
		Body:       bytes.NewReader(docBytes),
		Refresh:    "true",
	}
	res, err := req.Do(ctx, e.client)
	if err != nil {
		return fmt.Errorf("%w: index chunk %s: %v", ErrIndex, doc.VectorID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: index chunk %s: %s", ErrIndex, doc.VectorID, res.String())
	}
	return nil
}

// DeleteByArticle 通过 delete_by_query 删除某文章的全部分块，无匹配时为 no-op。
func (e *esIndex) DeleteByArticle(ctx context.Context, articleID uint) error {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"article_id": articleID},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return fmt.Errorf("%w: encode delete query: %v", ErrIndex, err)
	}

	res, err := e.client.DeleteByQuery(
		[]string{e.indexName},
		&buf,
		e.client.DeleteByQuery.WithContext(ctx),
		e.client.DeleteByQuery.WithRefresh(true),
	)
	if err != nil {
		return fmt.Errorf("%w: delete article %d: %v", ErrIndex, articleID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("%w: delete article %d: %s", ErrIndex, articleID, res.String())
	}
	return nil
}

// Query 执行 kNN 检索并把 ES 的 _score 换算为余弦距离。
// ES 对 cosine 相似度的打分为 (1 + cos) / 2，因此 distance = 2 * (1 - score)。
func (e *esIndex) Query(ctx context.Context, vector []float32, f Filter, topK int) ([]ChunkHit, error) {
	if topK <= 0 {
		return nil, nil
	}

	knn := map[string]interface{}{
		"field":          "vector",
		"query_vector":   vector,
		"k":              topK,
		"num_candidates": topK * 10,
	}
	if clauses := filterClauses(f); len(clauses) > 0 {
		knn["filter"] = map[string]interface{}{
			"bool": map[string]interface{}{"filter": clauses},
		}
	}
	body := map[string]interface{}{
		"knn":     knn,
		"size":    topK,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("%w: encode knn query: %v", ErrIndex, err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: knn search: %v", ErrIndex, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("%w: knn search: %s %s", ErrIndex, res.Status(), string(bodyBytes))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.ChunkDocument `json:"_source"`
				Score  float64             `json:"_score"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("%w: decode knn response: %v", ErrIndex, err)
	}

	hits := make([]ChunkHit, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		hits = append(hits, ChunkHit{
			Doc:      h.Source,
			Distance: 2 * (1 - h.Score),
		})
	}
	return hits, nil
}

// FetchByArticle 返回某文章的全部分块，按 chunk_id 升序。
func (e *esIndex) FetchByArticle(ctx context.Context, articleID uint) ([]model.ChunkDocument, error) {
	body := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"article_id": articleID},
		},
		"sort":    []map[string]interface{}{{"chunk_id": map[string]interface{}{"order": "asc"}}},
		"size":    10000,
		"_source": map[string]interface{}{"excludes": []string{"vector"}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, fmt.Errorf("%w: encode fetch query: %v", ErrIndex, err)
	}

	res, err := e.client.Search(
		e.client.Search.WithContext(ctx),
		e.client.Search.WithIndex(e.indexName),
		e.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch article %d: %v", ErrIndex, articleID, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return nil, fmt.Errorf("%w: fetch article %d: %s %s", ErrIndex, articleID, res.Status(), string(bodyBytes))
	}

	var esResponse struct {
		Hits struct {
			Hits []struct {
				Source model.ChunkDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&esResponse); err != nil {
		return nil, fmt.Errorf("%w: decode fetch response: %v", ErrIndex, err)
	}

	docs := make([]model.ChunkDocument, 0, len(esResponse.Hits.Hits))
	for _, h := range esResponse.Hits.Hits {
		docs = append(docs, h.Source)
	}
	return docs, nil
}

func filterClauses(f Filter) []map[string]interface{} {
	var clauses []map[string]interface{}
	if f.UserID != 0 {
		clauses = append(clauses, map[string]interface{}{
			"term": map[string]interface{}{"user_id": f.UserID},
		})
	}
	if f.ArticleID != 0 {
		clauses = append(clauses, map[string]interface{}{
			"term": map[string]interface{}{"article_id": f.ArticleID},
		})
	}
	return clauses
}
