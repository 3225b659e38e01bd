package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

var (
	// ErrUpstreamUnavailable はどのアドレスのバックエンドにも接続できなかったことを表す。
	ErrUpstreamUnavailable = errors.New("バックエンドに接続できません")
	// ErrNoUpstream はルートにアドレスが1つも設定されていないことを表す。
	ErrNoUpstream = errors.New("転送先のアドレスが設定されていません")
	// ErrBodyTooLarge はリクエストボディが上限を超えたことを表す。
	ErrBodyTooLarge = errors.New("リクエストボディが大きすぎます")
)

// UpstreamError は1回の転送の失敗。
type UpstreamError struct {
	// Route はルート名。
	Route string
	// Upstream は転送先のアドレス。
	Upstream string
	// Cause は下位のエラー。
	Cause error
}

// Error implements error.
func (e *UpstreamError) Error() string {
	return fmt.Sprintf("転送に失敗 route=%s upstream=%s: %v", e.Route, e.Upstream, e.Cause)
}

// Unwrap returns the underlying error.
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// unreachable は接続が確立できなかった（接続拒否・名前解決失敗・ダイヤル失敗）かどうかを返す。
// 接続後のタイムアウトやレスポンス読み取りの失敗は含まない。
func unreachable(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

// timedOut は転送がタイムアウトしたかどうかを返す。
func timedOut(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
