package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"research-companion-go/internal/model"

	"github.com/go-redis/redis/v8"
)

// QAHistoryRepository 定义了问答历史记录的操作接口。
// 历史仅用于界面回显，不参与检索与生成，因此存放在 Redis 并带过期时间。
type QAHistoryRepository interface {
	GetOrCreateSessionID(ctx context.Context, userID uint) (string, error)
	GetHistory(ctx context.Context, sessionID string) ([]model.QAMessage, error)
	UpdateHistory(ctx context.Context, sessionID string, messages []model.QAMessage) error
}

type redisQAHistoryRepository struct {
	redisClient *redis.Client
}

// NewQAHistoryRepository 创建一个新的 QAHistoryRepository 实例。
func NewQAHistoryRepository(redisClient *redis.Client) QAHistoryRepository {
	return &redisQAHistoryRepository{redisClient: redisClient}
}

// GetOrCreateSessionID 获取或创建用户当前的问答会话 ID。
func (r *redisQAHistoryRepository) GetOrCreateSessionID(ctx context.Context, userID uint) (string, error) {
	userKey := fmt.Sprintf("user:%d:current_qa_session", userID)
	sessionID, err := r.redisClient.Get(ctx, userKey).Result()
	if err == redis.Nil {
		sessionID = fmt.Sprintf("%d-%d", time.Now().UnixNano(), userID)
		if err := r.redisClient.Set(ctx, userKey, sessionID, 7*24*time.Hour).Err(); err != nil {
			return "", fmt.Errorf("failed to set qa session id: %w", err)
		}
		return sessionID, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get qa session id: %w", err)
	}
	return sessionID, nil
}

// GetHistory 从 Redis 获取问答历史记录。
func (r *redisQAHistoryRepository) GetHistory(ctx context.Context, sessionID string) ([]model.QAMessage, error) {
	key := fmt.Sprintf("qa_session:%s", sessionID)
	jsonData, err := r.redisClient.Get(ctx, key).Result()
	if err == redis.Nil {
		return []model.QAMessage{}, nil // No history yet
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get qa history: %w", err)
	}
	var messages []model.QAMessage
	if err := json.Unmarshal([]byte(jsonData), &messages); err != nil {
		return nil, fmt.Errorf("failed to unmarshal qa history: %w", err)
	}
	return messages, nil
}

// UpdateHistory 在 Redis 中更新问答历史记录。
func (r *redisQAHistoryRepository) UpdateHistory(ctx context.Context, sessionID string, messages []model.QAMessage) error {
	key := fmt.Sprintf("qa_session:%s", sessionID)
	// 保留最近 20 条
	if len(messages) > 20 {
		messages = messages[len(messages)-20:]
	}
	jsonData, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("failed to marshal qa history: %w", err)
	}
	if err := r.redisClient.Set(ctx, key, jsonData, 7*24*time.Hour).Err(); err != nil {
		return fmt.Errorf("failed to set qa history: %w", err)
	}
	return nil
}
