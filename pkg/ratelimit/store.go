package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLimitExceeded はウィンドウ内のリクエスト数が上限に達したことを表す。
	ErrLimitExceeded = errors.New("レート制限を超過しました")
	// ErrResetForbidden は本番環境でのカウンタ全消去が拒否されたことを表す。
	ErrResetForbidden = errors.New("本番環境ではレート制限のリセットは許可されていません")
)

// Entry は1つのキー（利用者×ルート）に対するウィンドウ内のカウンタ。
type Entry struct {
	// Key は利用者識別子とルートを連結したキー。
	Key string `json:"key"`
	// WindowStart はウィンドウ内で最初のリクエストを受け付けた日時。
	WindowStart time.Time `json:"window_start"`
	// Count はウィンドウ内で受け付けたリクエスト数。上限を超えることはない。
	Count int `json:"count"`
}

// Decision は Take の判定結果。
type Decision struct {
	// Allowed はリクエストを受け付けたかどうか。
	Allowed bool
	// Entry は判定後のカウンタの状態。
	Entry Entry
	// RetryAfter は拒否時に次のウィンドウが始まるまでの残り時間。
	RetryAfter time.Duration
}

// Store はレート制限カウンタの保持先。
type Store interface {
	// Take はキーのカウンタを原子的に確認し、上限未満であれば1加算する。
	// ウィンドウが経過したエントリは新しいウィンドウとして作り直す。
	Take(ctx context.Context, key string, limit int, window time.Duration) (Decision, error)
	// Reset はすべてのカウンタを消去する。
	Reset(ctx context.Context) error
}
