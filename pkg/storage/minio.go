// Package storage 提供基于 MinIO 的原始网页快照存储。
// 快照仅用于重建索引与排障，不参与检索路径。
package storage

import (
	"bytes"
	"context"
	"fmt"

	"research-companion-go/internal/config"
	"research-companion-go/pkg/log"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// SnapshotStore 保存文章的原始 HTML 快照。
type SnapshotStore struct {
	client *minio.Client
	bucket string
}

// NewSnapshotStore 初始化 MinIO 客户端并确保存储桶存在。
func NewSnapshotStore(cfg config.MinIOConfig) (*SnapshotStore, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("初始化 MinIO 客户端失败: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.BucketName)
	if err != nil {
		return nil, fmt.Errorf("检查 MinIO 存储桶失败: %w", err)
	}
	if !exists {
		log.Infof("存储桶 '%s' 不存在，正在创建...", cfg.BucketName)
		if err := client.MakeBucket(ctx, cfg.BucketName, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("创建 MinIO 存储桶失败: %w", err)
		}
	}

	log.Info("MinIO 快照存储初始化成功")
	return &SnapshotStore{client: client, bucket: cfg.BucketName}, nil
}

func snapshotObjectName(articleID uint) string {
	return fmt.Sprintf("raw/%d.html", articleID)
}

// Put 写入一篇文章的原始 HTML 快照。
func (s *SnapshotStore) Put(ctx context.Context, articleID uint, html string) error {
	data := []byte(html)
	_, err := s.client.PutObject(ctx, s.bucket, snapshotObjectName(articleID),
		bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "text/html"})
	if err != nil {
		return fmt.Errorf("写入快照失败 (article=%d): %w", articleID, err)
	}
	return nil
}

// Get 读取一篇文章的原始 HTML 快照。
func (s *SnapshotStore) Get(ctx context.Context, articleID uint) (string, error) {
	object, err := s.client.GetObject(ctx, s.bucket, snapshotObjectName(articleID), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("读取快照失败 (article=%d): %w", articleID, err)
	}
	defer object.Close()

	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(object); err != nil {
		return "", fmt.Errorf("读取快照流失败 (article=%d): %w", articleID, err)
	}
	return buf.String(), nil
}

// Remove 删除一篇文章的快照，对象不存在时静默成功。
func (s *SnapshotStore) Remove(ctx context.Context, articleID uint) error {
	err := s.client.RemoveObject(ctx, s.bucket, snapshotObjectName(articleID), minio.RemoveObjectOptions{})
	if err != nil {
		return fmt.Errorf("删除快照失败 (article=%d): %w", articleID, err)
	}
	return nil
}
