package job

import (
	"sync"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// TaskQueue 無上限、可並發存取的 task 請求佇列
//
// Put 永不阻塞也不丟棄；Drain 原子性地取出目前全部內容。
type TaskQueue struct {
	mu    sync.Mutex
	items []types.TaskRequest
	ready chan struct{}
}

// NewTaskQueue 建立空佇列
func NewTaskQueue() *TaskQueue {
	return &TaskQueue{ready: make(chan struct{}, 1)}
}

// Put 加入一筆請求並通知等待者
func (q *TaskQueue) Put(req types.TaskRequest) {
	q.mu.Lock()
	q.items = append(q.items, req)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Drain 取出並清空佇列，保持加入順序
func (q *TaskQueue) Drain() []types.TaskRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.items
	q.items = nil
	if out == nil {
		return []types.TaskRequest{}
	}
	return out
}

// Len 目前佇列長度
func (q *TaskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Ready 佇列由空轉為非空時會收到訊號（最多累積一個）
func (q *TaskQueue) Ready() <-chan struct{} {
	return q.ready
}
