package document

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/yourusername/docforge/internal/jobs"
)

const streamInterval = 500 * time.Millisecond

// Stream は GET /api/jobs/:id/stream のハンドラーです。
// WebSocket でジョブ状態を送り続け、キュー待ちのない終了状態になった時点で閉じます。
func (h *Handler) Stream(c *gin.Context) {
	ctx := c.Request.Context()
	jobID := c.Param("id")

	// 存在しないジョブはアップグレード前に 404 を返す
	if _, err := h.svc.Status(ctx, jobID); err != nil {
		h.respondWithError(c, err)
		return
	}

	upgrader := websocket.Upgrader{CheckOrigin: h.checkOrigin}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		// クライアントからの close を検出する
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	for {
		job, err := h.svc.Status(ctx, jobID)
		if err != nil {
			_ = conn.WriteJSON(gin.H{"code": "NOT_FOUND", "message": "ジョブが見つかりません。"})
			return
		}
		if err := conn.WriteJSON(h.statusResponse(ctx, job)); err != nil {
			h.logger.Debug("websocket write failed", zap.String("job_id", jobID), zap.Error(err))
			return
		}
		if streamFinished(job) {
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func streamFinished(job *jobs.Job) bool {
	return job.Status.IsTerminal() && job.Queued == ""
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.opts.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	for _, allowed := range h.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(strings.TrimRight(allowed, "/"), u.Scheme+"://"+u.Host) {
			return true
		}
	}
	return false
}
