package gateway

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/fleetgate/internal/syncer"
	"github.com/nao1215/fleetgate/pkg/ratelimit"
)

// syncReady は同期を開始できるかを確認し、できない場合は503を書き込む。
func (s *Server) syncReady(c *gin.Context) bool {
	if s.deps.Orchestrator == nil || s.deps.Finance == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "外部データ同期は構成されていません"})
		return false
	}
	if err := s.deps.Finance.Ready(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// writeReport は同期結果を返す。失敗したエンティティがある場合は207で応答する。
func writeReport(c *gin.Context, report syncer.Report) {
	status := http.StatusOK
	if !report.Success {
		status = http.StatusMultiStatus
	}
	c.JSON(status, report)
}

// handleSyncAll はすべての参照エンティティを同期するハンドラを返す。
func (s *Server) handleSyncAll() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.syncReady(c) {
			return
		}
		writeReport(c, s.deps.Orchestrator.RunAll(c.Request.Context()))
	}
}

// handleSyncEntity は指定したエンティティのみを同期するハンドラを返す。
func (s *Server) handleSyncEntity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.syncReady(c) {
			return
		}
		entities, err := s.deps.Orchestrator.Resolve(c.Param("entity"))
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		writeReport(c, s.deps.Orchestrator.RunAll(c.Request.Context(), entities...))
	}
}

// handleSyncStatus は全エンティティの同期状態を返すハンドラを返す。
// 一度も同期していないエンティティは idle として返す。
func (s *Server) handleSyncStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		statuses, err := s.syncStatuses(c)
		if err != nil {
			s.logger.Error("同期状態の取得に失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "同期状態の取得に失敗しました"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"entities": statuses})
	}
}

func (s *Server) syncStatuses(c *gin.Context) ([]syncer.SyncStatus, error) {
	if s.deps.Statuses == nil {
		return []syncer.SyncStatus{}, nil
	}
	var entities []syncer.Entity
	if s.deps.Orchestrator != nil {
		entities = s.deps.Orchestrator.Entities()
	}
	result := make([]syncer.SyncStatus, 0, len(entities))
	for _, ent := range entities {
		st, err := s.deps.Statuses.Get(c.Request.Context(), ent.Name)
		if err != nil {
			return nil, err
		}
		result = append(result, st)
	}
	return result, nil
}

// handleRateLimitReset はレート制限カウンタをすべて消去するハンドラを返す。
// 本番環境では403で拒否する。
func (s *Server) handleRateLimitReset() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := s.deps.Limiter.ResetAll(c.Request.Context())
		switch {
		case errors.Is(err, ratelimit.ErrResetForbidden):
			c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		case err != nil:
			s.logger.Error("レート制限のリセットに失敗しました", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "レート制限のリセットに失敗しました"})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "reset"})
		}
	}
}
