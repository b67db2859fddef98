// Package middleware は gin の共通ミドルウェアを提供します。
package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	requestIDHeader = "X-Request-ID"
	// RequestIDKey は gin.Context にリクエストIDを保存するキーです。
	RequestIDKey = "request_id"
)

// RequestID はリクエストごとにIDを払い出し、レスポンスヘッダーにも返します。
// クライアントが X-Request-ID を送ってきた場合はそれを使います。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			id, err := uuid.NewV7()
			if err != nil {
				id = uuid.New()
			}
			requestID = id.String()
		}

		c.Set(RequestIDKey, requestID)
		c.Header(requestIDHeader, requestID)
		c.Next()
	}
}
