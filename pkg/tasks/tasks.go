// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ArticleIndexTask represents an indexing job for a saved article.
// The consumer reloads the article from MySQL, so the payload only
// carries identifiers.
type ArticleIndexTask struct {
	ArticleID uint `json:"article_id"`
	UserID    uint `json:"user_id"`
}
