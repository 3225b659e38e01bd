package gateway

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/fleetgate/internal/syncer"
	"github.com/nao1215/fleetgate/pkg/httpclient"
)

// selfProbeTimeout は自己疎通確認のタイムアウト。
const selfProbeTimeout = 2 * time.Second

// routeInfo は診断に表示するプロキシルート。
type routeInfo struct {
	Name     string `json:"name"`
	Prefix   string `json:"prefix"`
	Internal string `json:"internal,omitempty"`
	External string `json:"external,omitempty"`
}

// probeResult は自己疎通確認の結果。
type probeResult struct {
	URL   string `json:"url"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// diagnostics は /diagnostics の応答。
type diagnostics struct {
	Status         string              `json:"status"`
	Environment    string              `json:"environment"`
	Warnings       []string            `json:"warnings"`
	AuthAvailable  bool                `json:"authAvailable"`
	SyncAvailable  bool                `json:"syncAvailable"`
	PrivateNetwork bool                `json:"privateNetwork"`
	Database       string              `json:"database"`
	RateLimitStore string              `json:"rateLimitStore"`
	Routes         []routeInfo         `json:"routes"`
	Sync           []syncer.SyncStatus `json:"sync"`
	SelfProbe      *probeResult        `json:"selfProbe,omitempty"`
}

// handleDiagnostics は構成と稼働状態を返すハンドラを返す。
// 一部の確認に失敗しても200で応答し、失敗は警告として報告する。
func (s *Server) handleDiagnostics() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		d := diagnostics{
			Status:         "ok",
			Environment:    s.cfg.Env,
			Warnings:       append([]string{}, s.cfg.Warnings()...),
			AuthAvailable:  s.deps.Sessions.Configured(),
			PrivateNetwork: s.cfg.Proxy.PrivateNetwork,
			Database:       "ok",
			RateLimitStore: s.deps.RateLimitStore,
			Routes:         make([]routeInfo, 0, len(s.routes)),
			Sync:           []syncer.SyncStatus{},
		}
		if s.deps.Finance != nil {
			d.SyncAvailable = s.deps.Finance.Ready() == nil
		}
		for _, r := range s.routes {
			d.Routes = append(d.Routes, routeInfo{
				Name:     r.Name,
				Prefix:   r.PathPrefix,
				Internal: r.InternalAddress,
				External: r.ExternalAddress,
			})
		}

		if s.deps.Store == nil {
			d.Database = "unavailable"
		} else if err := s.deps.Store.Ping(ctx); err != nil {
			d.Database = "error"
			d.Warnings = append(d.Warnings, "データベースに接続できません: "+err.Error())
		}

		if statuses, err := s.syncStatuses(c); err != nil {
			d.Warnings = append(d.Warnings, "同期状態を取得できません: "+err.Error())
		} else {
			d.Sync = statuses
		}

		if s.cfg.SelfURL != "" {
			d.SelfProbe = s.probeSelf(ctx)
			if !d.SelfProbe.OK {
				d.Warnings = append(d.Warnings, "自己疎通確認に失敗しました: "+d.SelfProbe.Error)
			}
		}

		if len(d.Warnings) > 0 {
			d.Status = "degraded"
		}
		c.JSON(http.StatusOK, d)
	}
}

// probeSelf は SELF_URL の /health を呼び出す。
// 自分自身へのHTTP呼び出しのため、外部から見たアドレスと異なる場合や
// サーバーが応答できない状況では失敗として報告される。
func (s *Server) probeSelf(ctx context.Context) *probeResult {
	client := httpclient.New(s.cfg.SelfURL, httpclient.WithTimeout(selfProbeTimeout))
	res := &probeResult{URL: client.BaseURL() + "/health"}

	var body struct {
		Status string `json:"status"`
	}
	if err := client.GetJSON(ctx, "/health", nil, &body); err != nil {
		res.Error = err.Error()
		return res
	}
	res.OK = body.Status == "ok"
	if !res.OK {
		res.Error = "unexpected status: " + body.Status
	}
	return res
}
