// Package gateway はfleetgateのHTTPサーバーを組み立てる。
//
// バックエンドサービスへのプロキシ、セッション認証、レート制限、
// 外部財務APIからの同期操作、ヘルスチェックと診断を1つのGinルーターにまとめる。
// 外部からアクセス可能な唯一のサービスであり、セキュリティの境界線として機能する。
package gateway
