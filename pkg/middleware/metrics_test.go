package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/nao1215/enrichment-portal/pkg/metrics"
)

// TestMetrics はMetricsミドルウェアを検証する。
func TestMetrics(t *testing.T) {
	t.Parallel()

	t.Run("ルート定義ごとにリクエスト数が記録されること", func(t *testing.T) {
		t.Parallel()

		recorder := metrics.NewRecorder(prometheus.NewRegistry())
		router := gin.New()
		router.Use(Metrics(recorder))
		router.GET("/api/enrichments/:id", func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		for _, id := range []string{"1", "2"} {
			router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/enrichments/"+id, nil))
		}
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

		if got := testutil.ToFloat64(recorder.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/api/enrichments/:id", "200")); got != 2 {
			t.Errorf("リクエスト数 = %v, want 2", got)
		}
		if got := testutil.ToFloat64(recorder.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "unmatched", "404")); got != 1 {
			t.Errorf("未定義ルートのリクエスト数 = %v, want 1", got)
		}
	})

	t.Run("Recorderがnilでもパニックしないこと", func(t *testing.T) {
		t.Parallel()

		router := gin.New()
		router.Use(Metrics(nil))
		router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	})
}
