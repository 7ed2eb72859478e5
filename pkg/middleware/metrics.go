package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nao1215/enrichment-portal/pkg/metrics"
)

// Metrics はリクエスト数と処理時間を記録するGinミドルウェアを返す。
// ルートのラベルにはパスパラメータを含まないルート定義を使う。
func Metrics(recorder *metrics.Recorder) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		recorder.ObserveHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}
