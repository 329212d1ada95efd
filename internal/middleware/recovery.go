package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/haierkeys/fast-backup-service/pkg/code"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// RecoveryWithLogger 创建带日志器的 Recovery 中间件
func RecoveryWithLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery
		defer func() {
			if r := recover(); r != nil {
				var errorMsg string
				switch v := r.(type) {
				case error:
					errorMsg = v.Error()
				default:
					errorMsg = fmt.Sprintf("%v", v)
				}
				logger.Error("Recovered from panic",
					zap.String("router", path),
					zap.String("method", c.Request.Method),
					zap.String("query", query),
					zap.String("ip", c.ClientIP()),
					zap.String("panic_value", errorMsg),
					zap.String("stack", string(debug.Stack())), // 错误堆栈
				)

				// 返回统一的错误响应
				e := code.ErrorServerInternal.WithDetails(errorMsg)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code":    e.Code(),
					"msg":     e.Msg(),
					"details": e.Details(),
				})
			}
		}()

		c.Next()
	}
}
