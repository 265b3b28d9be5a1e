// Package store 提供快照使用的持久化 blob 儲存
//
// 支援本地檔案、Redis、PostgreSQL 與 S3 相容物件儲存（MinIO）。
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound 指定的 key 不存在
var ErrNotFound = errors.New("blob not found")

// BlobStore 以 key 存取不透明的 blob
type BlobStore interface {
	Save(ctx context.Context, key string, data []byte) error
	Load(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	// List 回傳以 prefix 開頭的所有 key（已排序）
	List(ctx context.Context, prefix string) ([]string, error)
	Close() error
}

// ValidateKey key 使用 "/" 分隔，不可為空、不可含 ".." 片段
func ValidateKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.HasSuffix(key, "/") {
		return fmt.Errorf("invalid blob key %q", key)
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid blob key %q", key)
		}
	}
	return nil
}
