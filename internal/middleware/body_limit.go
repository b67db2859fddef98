package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// BodySizeLimit はリクエストボディを maxBytes までに制限します。
// Content-Length が上限を超えている場合は読み込まずに 413 を返します。
func BodySizeLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > maxBytes {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
				"code":    "LIMIT_EXCEEDED",
				"message": "リクエストのサイズが上限を超えています。",
			})
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
