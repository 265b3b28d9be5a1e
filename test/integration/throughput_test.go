package integration

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// BenchmarkThroughput 每次迭代提交 20 個任務並等待全部完成
func BenchmarkThroughput(b *testing.B) {
	sys := startSystem(b, b.TempDir(), systemConfig{workers: 8, seed: 1})
	defer sys.stop(b)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		submitJobs(b, sys.fw, 20, 16)
		require.Eventually(b, func() bool { return allDone(sys.fw) }, 60*time.Second, time.Millisecond)
	}
	b.StopTimer()
}
