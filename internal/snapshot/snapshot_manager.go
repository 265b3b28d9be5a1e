package snapshot

// ============================================================================
// 職責說明：
// 1. 將每個任務的快照文件包裝為帶版本的信封（envelope）
// 2. 透過 store.BlobStore 寫入（檔案、Redis、PostgreSQL、S3）
// 3. 載入時驗證 schema 版本與內容完整性
// 4. 可選 gzip 壓縮，載入時自動辨識
// ============================================================================

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ChuLiYu/faleiro/internal/store"
	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// 錯誤定義
// ============================================================================

var (
	ErrCorruptedSnapshot   = errors.New("snapshot is corrupted")
	ErrIncompatibleVersion = errors.New("snapshot schema version is incompatible")
	ErrSnapshotNotFound    = errors.New("snapshot not found")
)

// SchemaVersion 目前的信封版本
const SchemaVersion = 1

const keyPrefix = "jobs/"

// Envelope 儲存在 BlobStore 中的格式
type Envelope struct {
	SchemaVer int             `json:"schema_ver"`
	SavedAt   int64           `json:"saved_at"` // Unix 毫秒
	JobID     types.JobID     `json:"job_id"`
	Job       json.RawMessage `json:"job"` // 任務快照文件
}

// Manager 快照管理器
type Manager struct {
	store    store.BlobStore
	compress bool
	now      func() time.Time
}

// Option 設定 Manager
type Option func(*Manager)

// WithCompression 以 gzip 壓縮寫入
func WithCompression() Option {
	return func(m *Manager) { m.compress = true }
}

// NewManager 建立快照管理器實例
func NewManager(s store.BlobStore, opts ...Option) *Manager {
	m := &Manager{store: s, now: time.Now}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Key 任務快照在 BlobStore 中的 key
func Key(id types.JobID) string {
	return keyPrefix + id.String()
}

// Write 寫入任務快照；原子性由底層 BlobStore 保證
func (m *Manager) Write(ctx context.Context, id types.JobID, doc []byte) error {
	if !json.Valid(doc) {
		return fmt.Errorf("job %d: snapshot document is not valid JSON", id)
	}

	env := Envelope{
		SchemaVer: SchemaVersion,
		SavedAt:   m.now().UnixMilli(),
		JobID:     id,
		Job:       doc,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	if m.compress {
		if data, err = gzipBytes(data); err != nil {
			return fmt.Errorf("failed to compress snapshot: %w", err)
		}
	}

	if err := m.store.Save(ctx, Key(id), data); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// Load 載入任務快照文件
//
// 行為：
//   - 不存在時回傳 ErrSnapshotNotFound
//   - 驗證 schema 版本是否相容
//   - 偵測損壞的快照
func (m *Manager) Load(ctx context.Context, id types.JobID) (Envelope, error) {
	data, err := m.store.Load(ctx, Key(id))
	if errors.Is(err, store.ErrNotFound) {
		return Envelope{}, fmt.Errorf("%w: job %d", ErrSnapshotNotFound, id)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to read snapshot: %w", err)
	}
	return decode(id, data)
}

func decode(id types.JobID, data []byte) (Envelope, error) {
	if isGzip(data) {
		plain, err := gunzipBytes(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
		}
		data = plain
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrCorruptedSnapshot, err)
	}
	if env.SchemaVer != SchemaVersion {
		return Envelope{}, fmt.Errorf("%w: got %d, want %d", ErrIncompatibleVersion, env.SchemaVer, SchemaVersion)
	}
	if env.JobID != id {
		return Envelope{}, fmt.Errorf("%w: stored job id %d under key for %d", ErrCorruptedSnapshot, env.JobID, id)
	}
	if len(env.Job) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty job document", ErrCorruptedSnapshot)
	}
	return env, nil
}

// List 列出所有已儲存快照的任務 ID
func (m *Manager) List(ctx context.Context) ([]types.JobID, error) {
	keys, err := m.store.List(ctx, keyPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}

	ids := make([]types.JobID, 0, len(keys))
	for _, k := range keys {
		n, err := strconv.ParseInt(strings.TrimPrefix(k, keyPrefix), 10, 64)
		if err != nil {
			// 非任務快照的 key，略過
			continue
		}
		ids = append(ids, types.JobID(n))
	}
	return ids, nil
}

// Delete 刪除任務快照
func (m *Manager) Delete(ctx context.Context, id types.JobID) error {
	if err := m.store.Delete(ctx, Key(id)); err != nil {
		return fmt.Errorf("failed to delete snapshot: %w", err)
	}
	return nil
}

// ============================================================================
// 壓縮
// ============================================================================

func isGzip(b []byte) bool {
	return len(b) >= 2 && b[0] == 0x1f && b[1] == 0x8b
}

func gzipBytes(b []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gunzipBytes(b []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}
