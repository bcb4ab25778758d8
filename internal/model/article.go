package model

import "time"

// Article 对应于数据库中的 'articles' 表。
// 关系型记录是文章的唯一事实来源，向量索引只是尽力而为的检索加速器。
type Article struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Title     string    `gorm:"type:varchar(512);not null" json:"title"`
	URL       string    `gorm:"type:varchar(1024);not null" json:"url"`
	Content   string    `gorm:"type:longtext;not null" json:"content"`
	Tags      string    `gorm:"type:varchar(255);default:''" json:"tags"`
	UserID    uint      `gorm:"index;not null" json:"userId"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"createdAt"`
}

// TableName 指定了此模型在数据库中对应的表名。
func (Article) TableName() string {
	return "articles"
}

// ArticleSummaryDTO 是搜索结果中返回给前端的文章摘要。
type ArticleSummaryDTO struct {
	ID        uint      `json:"id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Content   string    `json:"content"` // 命中分块的文本片段，超长会被截断
	Tags      string    `json:"tags"`
	CreatedAt time.Time `json:"createdAt"`
}

// SearchResultDTO 定义了返回给前端的单条搜索结果。
type SearchResultDTO struct {
	Article         ArticleSummaryDTO `json:"article"`
	SimilarityScore float64           `json:"similarityScore"`
}
