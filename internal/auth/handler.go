package auth

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/yourusername/docforge/internal/metrics"
)

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// RegisterRoutes は /auth 配下のルートを登録します。
func (m *Manager) RegisterRoutes(rg gin.IRouter) {
	group := rg.Group("/auth")
	// ログイン時はセッション未生成なので CSRF 検証は不要
	group.POST("/login", m.Login)
	group.POST("/logout", m.RequireLogin(), m.VerifyCSRF(), m.Logout)
	group.GET("/session", m.RequireLogin(), m.Session)
}

// Login は /auth/login のハンドラーです。
func (m *Manager) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    "INVALID_INPUT",
			"message": "username と password を JSON で送ってください",
		})
		return
	}

	ip := c.ClientIP()
	if retryAfter := m.limiter.lockedFor(ip); retryAfter > 0 {
		metrics.LoginAttempts.WithLabelValues("locked").Inc()
		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"code":    "TOO_MANY_ATTEMPTS",
			"message": "一定時間後に再度お試しください",
		})
		return
	}

	if !m.verify(req.Username, req.Password) {
		remaining := m.limiter.fail(ip)
		metrics.LoginAttempts.WithLabelValues("failure").Inc()
		m.logger.Warn("login failed", zap.String("client_ip", ip), zap.Int("remaining", remaining))
		c.JSON(http.StatusUnauthorized, gin.H{
			"code":              "INVALID_CREDENTIALS",
			"message":           "ユーザー名またはパスワードが正しくありません",
			"remainingAttempts": remaining,
		})
		return
	}
	m.limiter.reset(ip)

	token, err := generateToken()
	if err != nil {
		m.logger.Error("failed to generate csrf token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "TOKEN_GENERATION_FAILED",
			"message": "CSRF トークンの生成に失敗しました",
		})
		return
	}

	session := sessions.Default(c)
	now := m.now().Unix()
	session.Set(sessionKeyUser, m.creds.Username)
	session.Set(sessionKeyIssuedAt, now)
	session.Set(sessionKeyLastActive, now)
	session.Set(sessionKeyCSRF, token)
	if err := session.Save(); err != nil {
		m.logger.Error("failed to save session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの保存に失敗しました",
		})
		return
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	c.Header(CSRFHeader, token)
	c.Status(http.StatusNoContent)
}

// Logout は /auth/logout のハンドラーです。
func (m *Manager) Logout(c *gin.Context) {
	session := sessions.Default(c)
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "SESSION_SAVE_FAILED",
			"message": "セッションの削除に失敗しました",
		})
		return
	}
	c.Status(http.StatusNoContent)
}

// Session はログイン中のユーザーとCSRFトークンを返します。
// ページを再読み込みしたクライアントがトークンを取り直すために使います。
func (m *Manager) Session(c *gin.Context) {
	session := sessions.Default(c)
	token, _ := session.Get(sessionKeyCSRF).(string)
	c.Header(CSRFHeader, token)
	c.JSON(http.StatusOK, gin.H{
		"username": c.GetString(ContextUserKey),
	})
}
