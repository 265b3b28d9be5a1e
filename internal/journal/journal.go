package journal

// ============================================================================
// Journal 核心實作
// 職責：
// 1. 追加任務進度事件到分段日誌（append-only，JSON lines）
// 2. 提供重放功能，在快照之後補回進度
// 3. 支援分段旋轉與壓縮（快照成功後刪除舊分段）
// 4. 確保寫入持久性與資料完整性（CRC32）
// ============================================================================

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"sync"
	"time"
)

const segmentPattern = "journal-%06d.log"

var segmentRe = regexp.MustCompile(`^journal-(\d{6})\.log$`)

// Options journal 行為設定
type Options struct {
	BufferSize    int           // 緩衝事件數，達到時 flush；<= 1 代表每次都寫入
	FlushInterval time.Duration // 距上次 flush 超過此時間時 flush
	SyncOnFlush   bool          // flush 時是否 fsync
}

// Journal 分段的 write-ahead journal
type Journal struct {
	mu      sync.Mutex
	dir     string
	segment int // 目前寫入中的分段編號
	file    *os.File
	encoder *json.Encoder
	seq     uint64
	closed  bool

	opts          Options
	buffer        []Event
	lastFlushTime time.Time
	now           func() time.Time
}

/*
Open 開啟 journal 目錄

行為：
- 目錄不存在時建立
- 掃描既有分段取得最後的 seq，之後的事件接續編號
- 永遠開一個新分段寫入，既有分段只讀
*/
func Open(dir string, opts Options) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create journal dir: %w", err)
	}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, err
	}

	var lastSeq uint64
	for _, n := range segments {
		err := readSegment(dir, n, func(e Event) error {
			if e.Seq > lastSeq {
				lastSeq = e.Seq
			}
			return nil
		}, false)
		if err != nil {
			return nil, err
		}
	}

	next := 1
	if len(segments) > 0 {
		next = segments[len(segments)-1] + 1
	}

	if opts.BufferSize < 1 {
		opts.BufferSize = 1
	}
	j := &Journal{
		dir:           dir,
		seq:           lastSeq,
		opts:          opts,
		buffer:        make([]Event, 0, opts.BufferSize),
		lastFlushTime: time.Now(),
		now:           time.Now,
	}
	if err := j.openSegmentLocked(next); err != nil {
		return nil, err
	}
	return j, nil
}

// Append 追加一個事件
//
// 自動分配 seq 與 checksum；force 為 true 或緩衝已滿、逾時時立即寫入。
func (j *Journal) Append(e Event, force bool) (uint64, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrJournalClosed
	}

	j.seq++
	e.Seq = j.seq
	if e.Timestamp == 0 {
		e.Timestamp = j.now().UnixMilli()
	}
	sum, err := CalculateChecksum(e)
	if err != nil {
		j.seq--
		return 0, fmt.Errorf("journal: failed to checksum event: %w", err)
	}
	e.Checksum = sum

	j.buffer = append(j.buffer, e)
	needFlush := force ||
		len(j.buffer) >= j.opts.BufferSize ||
		(j.opts.FlushInterval > 0 && time.Since(j.lastFlushTime) > j.opts.FlushInterval)
	if needFlush {
		if err := j.flushLocked(); err != nil {
			return e.Seq, err
		}
	}
	return e.Seq, nil
}

// Flush 將緩衝事件寫入檔案
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	return j.flushLocked()
}

// Replay 依序重放所有分段的事件
//
// 行為：
// - 先 flush 緩衝，確保重放包含所有已追加事件
// - 驗證每個事件的 checksum
// - 分段最後一行若不完整（寫入中斷）則略過
// - handler 回傳錯誤時立即停止
func (j *Journal) Replay(handler EventHandler) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !j.closed {
		if err := j.flushLocked(); err != nil {
			return err
		}
	}

	segments, err := listSegments(j.dir)
	if err != nil {
		return err
	}
	for _, n := range segments {
		if err := readSegment(j.dir, n, handler, true); err != nil {
			return err
		}
	}
	return nil
}

// Rotate 封存目前分段並開始新分段，回傳被封存的分段編號
func (j *Journal) Rotate() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return 0, ErrJournalClosed
	}
	if err := j.flushLocked(); err != nil {
		return 0, err
	}
	if err := j.file.Close(); err != nil {
		return 0, err
	}

	sealed := j.segment
	if err := j.openSegmentLocked(sealed + 1); err != nil {
		return 0, err
	}
	return sealed, nil
}

// Compact 刪除編號 <= upTo 的已封存分段
func (j *Journal) Compact(upTo int) error {
	j.mu.Lock()
	current := j.segment
	j.mu.Unlock()

	segments, err := listSegments(j.dir)
	if err != nil {
		return err
	}
	for _, n := range segments {
		if n > upTo || n >= current {
			continue
		}
		if err := os.Remove(segmentPath(j.dir, n)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("journal: failed to remove segment %d: %w", n, err)
		}
	}
	return nil
}

// Close 關閉 journal；關閉後的實例不可再追加
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	if err := j.flushLocked(); err != nil {
		return err
	}
	j.closed = true
	return j.file.Close()
}

// LastSeq 取得最後分配的事件序號
func (j *Journal) LastSeq() uint64 {
	if j == nil {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Segments 目前磁碟上的分段編號（遞增）
func (j *Journal) Segments() ([]int, error) {
	return listSegments(j.dir)
}

// ============================================================================
// 內部輔助方法（私有）
// ============================================================================

// flushLocked 假設調用者已經持有 j.mu 鎖
func (j *Journal) flushLocked() error {
	if len(j.buffer) == 0 {
		return nil
	}
	for _, event := range j.buffer {
		if err := j.encoder.Encode(event); err != nil {
			return fmt.Errorf("journal: write failed at seq=%d: %w", event.Seq, err)
		}
	}
	j.buffer = j.buffer[:0]
	j.lastFlushTime = time.Now()
	if j.opts.SyncOnFlush {
		if err := j.file.Sync(); err != nil {
			return fmt.Errorf("journal: sync failed: %w", err)
		}
	}
	return nil
}

func (j *Journal) openSegmentLocked(n int) error {
	f, err := os.OpenFile(segmentPath(j.dir, n), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("journal: failed to open segment %d: %w", n, err)
	}
	j.file = f
	j.encoder = json.NewEncoder(f)
	j.segment = n
	return nil
}

func segmentPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf(segmentPattern, n))
}

func listSegments(dir string) ([]int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("journal: failed to list segments: %w", err)
	}
	var out []int
	for _, e := range entries {
		m := segmentRe.FindStringSubmatch(e.Name())
		if m == nil || e.IsDir() {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

// readSegment 逐行讀取分段；不以換行結尾的最後一行視為中斷的寫入
func readSegment(dir string, n int, handler EventHandler, verify bool) error {
	f, err := os.Open(segmentPath(dir, n))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("journal: failed to open segment %d: %w", n, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for line := 1; ; line++ {
		raw, err := r.ReadBytes('\n')
		if errors.Is(err, io.EOF) {
			// 不完整的尾端記錄
			return nil
		}
		if err != nil {
			return fmt.Errorf("journal: failed to read segment %d: %w", n, err)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 {
			continue
		}

		var e Event
		if err := json.Unmarshal(raw, &e); err != nil {
			return &CorruptionError{Segment: n, Line: line, Cause: err}
		}
		if verify {
			if expected, ok := VerifyChecksum(e); !ok {
				return &ChecksumError{Segment: n, Seq: e.Seq, Expected: expected, Actual: e.Checksum}
			}
		}
		if err := handler(e); err != nil {
			return err
		}
	}
}
