package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/juju/clock"
)

// Solver runs the worker side of the partition protocol.
type Solver interface {
	// Split divides the problem into independently optimizable partitions.
	// divisions is the requested count; 0 lets the solver decide.
	Split(ctx context.Context, problem json.RawMessage, divisions int) ([]json.RawMessage, error)

	// Anneal optimizes one partition and returns its fitness score (lower
	// is better) and an encoding of the best solution found.
	Anneal(ctx context.Context, problem, partition json.RawMessage) (float64, string, error)
}

// ErrSimulatedFailure is returned by SimulatedSolver for injected failures.
var ErrSimulatedFailure = errors.New("simulated solver failure")

// SimulatedSolver 不執行真正的最佳化，用於示範與測試
//
// Split 產生 {"index": i} 形式的 partition 描述；Anneal 在隨機延遲後
// 回傳隨機分數，並依 FailureRate 模擬失敗。
type SimulatedSolver struct {
	DefaultDivisions int           // divisions 為 0 時使用，預設 4
	MaxWork          time.Duration // 每個 Anneal 的最長模擬時間
	FailureRate      float64       // 0..1
	Clock            clock.Clock

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulatedSolver 建立以 seed 初始化的模擬 solver
func NewSimulatedSolver(seed int64, failureRate float64, maxWork time.Duration) *SimulatedSolver {
	return &SimulatedSolver{
		DefaultDivisions: 4,
		MaxWork:          maxWork,
		FailureRate:      failureRate,
		Clock:            clock.WallClock,
		rng:              rand.New(rand.NewSource(seed)),
	}
}

func (s *SimulatedSolver) Split(ctx context.Context, _ json.RawMessage, divisions int) ([]json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if divisions <= 0 {
		divisions = s.DefaultDivisions
	}
	if divisions <= 0 {
		divisions = 4
	}
	out := make([]json.RawMessage, divisions)
	for i := range out {
		out[i] = json.RawMessage(fmt.Sprintf(`{"index":%d}`, i))
	}
	return out, nil
}

func (s *SimulatedSolver) Anneal(ctx context.Context, _ json.RawMessage, partition json.RawMessage) (float64, string, error) {
	work, fail, score := s.draw()

	if work > 0 {
		clk := s.Clock
		if clk == nil {
			clk = clock.WallClock
		}
		select {
		case <-ctx.Done():
			return 0, "", ctx.Err()
		case <-clk.After(work):
		}
	} else if err := ctx.Err(); err != nil {
		return 0, "", err
	}

	if fail {
		return 0, "", ErrSimulatedFailure
	}
	return score, fmt.Sprintf("best-of-%s", compact(partition)), nil
}

func (s *SimulatedSolver) draw() (time.Duration, bool, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	var work time.Duration
	if s.MaxWork > 0 {
		work = time.Duration(s.rng.Int63n(int64(s.MaxWork)))
	}
	return work, s.rng.Float64() < s.FailureRate, s.rng.Float64() * 1000
}

func compact(raw json.RawMessage) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	b, _ := json.Marshal(v)
	return string(b)
}
