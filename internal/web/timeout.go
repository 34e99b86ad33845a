package web

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestTimeout bounds the request context so provider and store calls inherit a deadline.
func RequestTimeout(timeout time.Duration) gin.HandlerFunc {
	return func(contextGin *gin.Context) {
		if timeout <= 0 {
			contextGin.Next()
			return
		}
		ctx, cancel := context.WithTimeout(contextGin.Request.Context(), timeout)
		defer cancel()
		contextGin.Request = contextGin.Request.WithContext(ctx)
		contextGin.Next()
	}
}
