// Package middleware はgatewayのHTTP APIで使用する共通ミドルウェアを提供する。
//
// 署名付きセッショントークンの発行と検証（SessionManager）、
// 認証とレート制限をまとめて適用する Guard、アクセスログ、パニックリカバリ、
// CORS設定など、すべてのルートで共通して使用するミドルウェアを含む。
package middleware
