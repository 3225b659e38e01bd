// Package httpclient は外部APIや他サービスとのJSON通信を行うクライアントを提供する。
//
// 外部財務APIからの参照データ取得や、診断エンドポイントの疎通確認など、
// gatewayから外部へ向かうJSON通信のパターンを統一する。
// リバースプロキシの転送はボディをそのまま扱うため、このパッケージは使わない。
package httpclient
