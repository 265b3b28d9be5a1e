package job

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// RetryPolicy 失敗 task 的重排程策略
//
// MaxAttempts 為 0 代表無上限重試；BaseDelay 為 0 代表立即重新排入。
type RetryPolicy struct {
	MaxAttempts int           `yaml:"max_attempts" envconfig:"MAX_ATTEMPTS"`
	BaseDelay   time.Duration `yaml:"base_delay" envconfig:"BASE_DELAY"`
	MaxDelay    time.Duration `yaml:"max_delay" envconfig:"MAX_DELAY"`
	Jitter      time.Duration `yaml:"jitter" envconfig:"JITTER"`
}

// Validate 檢查設定值
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 0 {
		return fmt.Errorf("retry max_attempts must not be negative, got %d", p.MaxAttempts)
	}
	if p.BaseDelay < 0 || p.MaxDelay < 0 || p.Jitter < 0 {
		return fmt.Errorf("retry delays must not be negative")
	}
	if p.MaxDelay > 0 && p.BaseDelay > p.MaxDelay {
		return fmt.Errorf("retry base_delay %s exceeds max_delay %s", p.BaseDelay, p.MaxDelay)
	}
	return nil
}

// Exhausted 第 attempt 次重試是否已超出上限
func (p RetryPolicy) Exhausted(attempt int) bool {
	return p.MaxAttempts > 0 && attempt > p.MaxAttempts
}

// Delay 第 attempt 次（從 1 起算）重試前的等待時間：指數退避加上隨機抖動
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if p.BaseDelay <= 0 || attempt < 1 {
		return 0
	}

	delay := p.BaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			delay = p.MaxDelay
			break
		}
		// 溢位保護
		if delay <= 0 {
			delay = p.MaxDelay
			break
		}
	}
	if p.MaxDelay > 0 && delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	if p.Jitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.Jitter)))
	}
	return delay
}

// retryTracker 以 task id 為單位累計重試次數
type retryTracker struct {
	mu       sync.Mutex
	attempts map[string]int
}

func newRetryTracker() *retryTracker {
	return &retryTracker{attempts: make(map[string]int)}
}

func (t *retryTracker) next(taskID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.attempts[taskID]++
	return t.attempts[taskID]
}

func (t *retryTracker) reset(taskID string) {
	t.mu.Lock()
	delete(t.attempts, taskID)
	t.mu.Unlock()
}
