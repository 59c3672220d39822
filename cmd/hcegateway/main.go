// Command hcegateway は拠点ごとに配置する電子カルテ連携ゲートウェイ。
//
//	hcegateway [serve]          APIサーバーを起動する
//	hcegateway migrate [up|down] ローカルストアのスキーマを適用・巻き戻す
//	hcegateway healthcheck       /health に問い合わせる（コンテナのヘルスチェック用）
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/hcegateway/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "hcegateway: %v\n", err)
		os.Exit(1)
	}
}
