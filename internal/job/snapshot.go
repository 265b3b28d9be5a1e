package job

import (
	"encoding/json"
	"fmt"

	"github.com/ChuLiYu/faleiro/pkg/types"
)

// ============================================================================
// 快照與恢復
// ============================================================================

// SnapshotDoc 產生任務的持久化文件
//
// ran_before 為 true 時才包含 bitfield_finished 與 divisions。
func (j *Job) SnapshotDoc() (types.Snapshot, error) {
	st := j.State()
	v, err := j.results.view()
	if err != nil {
		return types.Snapshot{}, err
	}

	total := -1
	if v.RanBefore {
		total = len(v.Divisions)
	}
	doc := types.Snapshot{
		Status: types.Status{
			JobID:            j.id,
			JobName:          j.name,
			StartingTime:     j.startedAt,
			FinishingTime:    v.FinishedAt,
			TaskSeconds:      j.taskSeconds,
			TaskName:         j.taskName,
			BestLocation:     v.BestLocation,
			BestEnergy:       v.BestEnergy,
			EnergyHistory:    v.History,
			NumFinishedTasks: v.Completed,
			NumTotalTasks:    total,
			AdditionalParams: append(json.RawMessage(nil), j.params...),
			CurrentState:     st,
		},
		Resources:     j.resources,
		RanBefore:     v.RanBefore,
		RequestedDivs: j.requestedDivs,
	}
	if v.RanBefore {
		doc.BitfieldFinished = v.Bitfield
		doc.Divisions = v.Divisions
	}
	return doc, nil
}

// Snapshot 以 JSON 序列化 SnapshotDoc
func (j *Job) Snapshot() ([]byte, error) {
	doc, err := j.SnapshotDoc()
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job snapshot: %w", err)
	}
	return data, nil
}

// Restore 從快照文件重建任務
//
// 缺少必要欄位、狀態未知或完成位元與 partition 數不符時回傳 ErrInvalidSnapshot。
// 重建後的任務尚未啟動，狀態與快照相同。
func Restore(data []byte, opts Options) (*Job, error) {
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	for _, k := range types.SnapshotRequiredKeys {
		if _, ok := keys[k]; !ok {
			return nil, fmt.Errorf("%w: missing field %q", ErrInvalidSnapshot, k)
		}
	}

	var doc types.Snapshot
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	return RestoreDoc(doc, opts)
}

// RestoreDoc 從已解碼的快照文件重建任務
func RestoreDoc(doc types.Snapshot, opts Options) (*Job, error) {
	state, err := types.ParseJobState(string(doc.CurrentState))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if doc.RanBefore && doc.BitfieldFinished == "" {
		return nil, fmt.Errorf("%w: ran_before without bitfield_finished", ErrInvalidSnapshot)
	}

	results, err := restoreResultState(resultView{
		BestLocation: doc.BestLocation,
		BestEnergy:   doc.BestEnergy,
		History:      doc.EnergyHistory,
		FinishedAt:   doc.FinishingTime,
		RanBefore:    doc.RanBefore,
		Divisions:    doc.Divisions,
		Bitfield:     doc.BitfieldFinished,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	opts = opts.withDefaults()
	j := newJob(doc.JobID, opts)
	j.name = doc.JobName
	j.taskName = doc.TaskName
	j.taskSeconds = doc.TaskSeconds
	j.params = normalizeParams(doc.AdditionalParams)
	j.requestedDivs = doc.RequestedDivs
	j.resources = doc.Resources
	j.startedAt = doc.StartingTime
	j.state = state
	j.results = results
	return j, nil
}

// ============================================================================
// Journal 重放（僅限啟動前）
// ============================================================================

// ReplaySplit 套用 journal 中的 split 結果；已有結果時略過
func (j *Job) ReplaySplit(divs []json.RawMessage) error {
	if err := j.checkNotLaunched(); err != nil {
		return err
	}
	j.results.recordSplit(divs, nil)
	return nil
}

// ReplayPartition 套用 journal 中的 partition 結果；位元已設定時略過
func (j *Job) ReplayPartition(idx int, score float64, location string, finishedAt int64) (bool, error) {
	if err := j.checkNotLaunched(); err != nil {
		return false, err
	}
	return j.results.replayPartition(idx, score, location, finishedAt)
}

// ReplayState 套用 journal 中的狀態變更
func (j *Job) ReplayState(s types.JobState) error {
	if _, err := types.ParseJobState(string(s)); err != nil {
		return err
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.launched {
		return ErrAlreadyStarted
	}
	// 重放不再通知 observer，事件已在 journal 中
	j.state = s
	return nil
}

func (j *Job) checkNotLaunched() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.launched {
		return ErrAlreadyStarted
	}
	return nil
}
