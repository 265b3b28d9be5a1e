package main

// ============================================================================
// 職責說明：
// 1. CLI 應用程式入口點
// 2. 所有邏輯在 internal/cli
// ============================================================================

import (
	"os"

	"github.com/ChuLiYu/faleiro/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
