package auth

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// RequireLogin はセッションを検証するミドルウェアを返します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)
		user, ok := session.Get(sessionKeyUser).(string)
		if !ok || user == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code":    "UNAUTHORIZED",
				"message": "ログインが必要です",
			})
			return
		}

		now := m.now()
		issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
		lastActive := readUnix(session.Get(sessionKeyLastActive))

		switch {
		case issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime:
			abortExpired(c, session, "SESSION_EXPIRED", "セッションの有効期限が切れました")
			return
		case lastActive.IsZero() || now.Sub(lastActive) > idleTimeout:
			abortExpired(c, session, "SESSION_IDLE_TIMEOUT", "しばらく操作がなかったため再ログインしてください")
			return
		}

		session.Set(sessionKeyLastActive, now.Unix())
		_ = session.Save()
		c.Set(ContextUserKey, user)
		c.Next()
	}
}

func abortExpired(c *gin.Context, session sessions.Session, code, message string) {
	session.Clear()
	_ = session.Save()
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    code,
		"message": message,
	})
}

// VerifyCSRF は X-CSRF-Token ヘッダーを検証するミドルウェアです。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_MISSING",
				"message": "CSRF トークンが設定されていません",
			})
			return
		}

		received := c.GetHeader(CSRFHeader)
		if subtle.ConstantTimeCompare([]byte(expected), []byte(received)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code":    "CSRF_INVALID",
				"message": "CSRF トークンが一致しません",
			})
			return
		}

		c.Next()
	}
}

func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return true
	default:
		return false
	}
}
