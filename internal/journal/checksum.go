package journal

// ============================================================================
// 校驗和計算
// 職責：計算與驗證 journal 事件的 CRC32 校驗和
// ============================================================================

import (
	"encoding/json"
	"hash/crc32"
)

// CalculateChecksum 計算事件的 CRC32 校驗和
//
// 以 Checksum 欄位歸零後的 JSON 編碼為輸入，涵蓋事件全部內容。
func CalculateChecksum(e Event) (uint32, error) {
	e.Checksum = 0
	data, err := json.Marshal(e)
	if err != nil {
		return 0, err
	}
	return crc32.ChecksumIEEE(data), nil
}

// VerifyChecksum 驗證事件的校驗和是否正確
func VerifyChecksum(e Event) (uint32, bool) {
	expected, err := CalculateChecksum(e)
	if err != nil {
		return 0, false
	}
	return expected, e.Checksum == expected
}
