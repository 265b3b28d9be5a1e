package job

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/RoaringBitmap/roaring"
)

var (
	errSplitPending     = errors.New("split result not recorded yet")
	errPartitionRange   = errors.New("partition index out of range")
	errBitfieldMismatch = errors.New("finished bitfield references unknown partitions")
)

// resultState 任務的結果狀態，所有讀寫都經過同一把鎖
//
// 不變式：
//   - finished 的基數 <= len(divisions)，且只包含 [0, len(divisions)) 的索引
//   - 每次 partition 完成依序執行：寫入歷史、比較最佳分數、設定完成位元
//   - splitReady 在 split 結果記錄後關閉；allDone 在全部 partition 完成後關閉
type resultState struct {
	mu sync.Mutex

	bestLocation string
	bestEnergy   float64
	history      []float64
	finishedAt   int64

	ranBefore bool
	divisions []json.RawMessage
	finished  *roaring.Bitmap

	splitReady  chan struct{}
	allDone     chan struct{}
	allDoneSent bool
}

func newResultState() *resultState {
	return &resultState{
		bestEnergy: math.MaxFloat64,
		history:    []float64{},
		finished:   roaring.New(),
		splitReady: make(chan struct{}),
		allDone:    make(chan struct{}),
	}
}

// recordSplit 記錄 split 結果；已有結果時忽略並回傳 false
func (r *resultState) recordSplit(divs []json.RawMessage, hook func(divs []json.RawMessage)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ranBefore {
		return false
	}
	r.divisions = cloneDivisions(divs)
	r.ranBefore = true
	r.finished = roaring.New()
	close(r.splitReady)

	if hook != nil {
		hook(cloneDivisions(r.divisions))
	}
	r.checkDoneLocked()
	return true
}

// recordPartition 記錄一個 partition 的結果
//
// 分數一律寫入歷史；嚴格更低才取代最佳分數，同分保留先到者。
func (r *resultState) recordPartition(idx int, score float64, location string, now int64, hook func(PartitionResult)) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkIndexLocked(idx); err != nil {
		return false, err
	}
	return r.applyPartitionLocked(idx, score, location, now, hook), nil
}

// replayPartition 與 recordPartition 相同，但位元已設定時直接略過
func (r *resultState) replayPartition(idx int, score float64, location string, at int64) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.checkIndexLocked(idx); err != nil {
		return false, err
	}
	if r.finished.Contains(uint32(idx)) {
		return false, nil
	}
	r.applyPartitionLocked(idx, score, location, at, nil)
	return true, nil
}

func (r *resultState) checkIndexLocked(idx int) error {
	if !r.ranBefore {
		return errSplitPending
	}
	if idx < 0 || idx >= len(r.divisions) {
		return fmt.Errorf("%w: %d not in [0, %d)", errPartitionRange, idx, len(r.divisions))
	}
	return nil
}

func (r *resultState) applyPartitionLocked(idx int, score float64, location string, now int64, hook func(PartitionResult)) bool {
	r.history = append(r.history, score)

	improved := score < r.bestEnergy
	if improved {
		r.bestEnergy = score
		r.bestLocation = location
	}
	if now > r.finishedAt {
		r.finishedAt = now
	}
	r.finished.Add(uint32(idx))

	if hook != nil {
		hook(PartitionResult{
			Partition:  idx,
			Score:      score,
			Location:   location,
			FinishedAt: now,
			Improved:   improved,
			BestEnergy: r.bestEnergy,
		})
	}
	r.checkDoneLocked()
	return improved
}

func (r *resultState) checkDoneLocked() {
	if r.allDoneSent || !r.ranBefore {
		return
	}
	if r.finished.GetCardinality() >= uint64(len(r.divisions)) {
		r.allDoneSent = true
		close(r.allDone)
	}
}

func (r *resultState) splitRecorded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ranBefore
}

// total partition 總數，split 完成前為 -1
func (r *resultState) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.ranBefore {
		return -1
	}
	return len(r.divisions)
}

func (r *resultState) completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.finished.GetCardinality())
}

func (r *resultState) isFinished(idx int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finished.Contains(uint32(idx))
}

// division 回傳第 idx 個 partition 描述與總數
func (r *resultState) division(idx int) (json.RawMessage, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.checkIndexLocked(idx); err != nil {
		return nil, 0, err
	}
	return r.divisions[idx], len(r.divisions), nil
}

func (r *resultState) best() (float64, string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bestEnergy, r.bestLocation
}

// ============================================================================
// 快照
// ============================================================================

// resultView 結果狀態的一致性副本
type resultView struct {
	BestLocation string
	BestEnergy   float64
	History      []float64
	FinishedAt   int64
	RanBefore    bool
	Divisions    []json.RawMessage
	Completed    int
	Bitfield     string // base64，僅 RanBefore 時有值
}

func (r *resultState) view() (resultView, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	v := resultView{
		BestLocation: r.bestLocation,
		BestEnergy:   r.bestEnergy,
		History:      append([]float64{}, r.history...),
		FinishedAt:   r.finishedAt,
		RanBefore:    r.ranBefore,
		Completed:    int(r.finished.GetCardinality()),
	}
	if r.ranBefore {
		bits, err := r.finished.ToBase64()
		if err != nil {
			return resultView{}, fmt.Errorf("failed to encode finished bitfield: %w", err)
		}
		v.Bitfield = bits
		v.Divisions = cloneDivisions(r.divisions)
	}
	return v, nil
}

// restoreResultState 從快照欄位重建結果狀態
func restoreResultState(v resultView) (*resultState, error) {
	r := newResultState()
	r.bestLocation = v.BestLocation
	r.bestEnergy = v.BestEnergy
	r.history = append([]float64{}, v.History...)
	r.finishedAt = v.FinishedAt

	if !v.RanBefore {
		return r, nil
	}

	bm := roaring.New()
	if _, err := bm.FromBase64(v.Bitfield); err != nil {
		return nil, fmt.Errorf("failed to decode finished bitfield: %w", err)
	}
	if !bm.IsEmpty() && int(bm.Maximum()) >= len(v.Divisions) {
		return nil, fmt.Errorf("%w: max index %d, %d partitions", errBitfieldMismatch, bm.Maximum(), len(v.Divisions))
	}

	r.ranBefore = true
	r.divisions = cloneDivisions(v.Divisions)
	r.finished = bm
	close(r.splitReady)
	r.checkDoneLocked()
	return r, nil
}

func cloneDivisions(divs []json.RawMessage) []json.RawMessage {
	out := make([]json.RawMessage, len(divs))
	for i, d := range divs {
		out[i] = append(json.RawMessage(nil), d...)
	}
	return out
}
