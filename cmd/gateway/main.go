// fleetgateのエントリポイント。
// バックエンドサービスへのプロキシ、セッション認証、外部財務APIからの参照データ同期を担当する。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線となる。
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
