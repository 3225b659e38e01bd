// Package ratelimit は固定ウィンドウ方式のレート制限を提供する。
//
// カウンタ（RateLimitEntry）の保持先は Store インターフェースで抽象化しており、
// プロセス内メモリ（MemoryStore）と Redis（RedisStore）の2種類を用意している。
// どちらの実装も「上限未満なら加算する」判定と加算を1つの原子的な操作として行うため、
// 有効なウィンドウ内でカウントが上限を超えることはない。
//
// ストアはプロセス起動時に空であり、ウィンドウ経過で自然に失効する。
// 明示的な全消去は Limiter.ResetAll のみで、本番環境では拒否される。
package ratelimit
