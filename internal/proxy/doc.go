// Package proxy はバックエンドサービスへのリクエスト転送を提供する。
//
// 1つのバックエンド（リソース）ごとに Dispatcher を1つ生成し、
// "/proxy/<name>/*path" 配下のリクエストを転送する。
//
// プライベートネットワーク内では内部アドレスを優先し、接続自体に失敗した場合のみ
// 公開アドレスへ1回だけフォールバックする。再試行ループは行わない。
// バックエンドのステータスコードとボディはそのまま返し、
// OPTIONSはバックエンドに転送せずCORSヘッダー付きの200で応答する。
package proxy
