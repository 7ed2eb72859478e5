package portal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/nao1215/enrichment-portal/pkg/httpclient"
	"github.com/nao1215/enrichment-portal/pkg/metrics"
	"github.com/nao1215/enrichment-portal/pkg/middleware"
)

// Gateway は上流APIへの呼び出しを実行する。*httpclient.Clientが実装する。
type Gateway interface {
	Execute(ctx context.Context, d httpclient.RequestDescriptor) (httpclient.Outcome, error)
}

// Server はポータルのHTTPサーバー。
type Server struct {
	// router はGinのHTTPルーター。
	router *gin.Engine
	cfg    Config
	api    Gateway
	store  *Store
	logger *zap.Logger
}

// Deps はNewServerに渡す依存関係。
type Deps struct {
	// API は上流APIのゲートウェイクライアント。
	API Gateway
	// Store は通知の保存先。
	Store *Store
	// Logger は構造化ロガー。
	Logger *zap.Logger
	// Registry は/metricsで公開するPrometheusレジストリ。nilの場合は/metricsを公開しない。
	Registry *prometheus.Registry
	// Metrics はHTTPメトリクスの記録先。
	Metrics *metrics.Recorder
}

// NewServer は新しいポータルサーバーを生成する。
func NewServer(cfg Config, deps Deps) (*Server, error) {
	if deps.API == nil {
		return nil, errors.New("ゲートウェイクライアントは必須です")
	}
	if deps.Store == nil {
		return nil, errors.New("ストアは必須です")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(
		middleware.RequestID(),
		middleware.Recovery(logger),
		middleware.Logger(logger),
		middleware.Metrics(deps.Metrics),
		middleware.CORS([]string{cfg.FrontendURL}),
	)

	s := &Server{
		router: router,
		cfg:    cfg,
		api:    deps.API,
		store:  deps.Store,
		logger: logger,
	}
	s.setupRoutes(deps.Registry)
	return s, nil
}

// Handler はHTTPハンドラーを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はHTTPサーバーを起動し、ctxが終了したらグレースフルに停止する。
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%s", s.cfg.Port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ポータルを起動します", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	s.logger.Info("ポータルを停止します")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("サーバーの停止に失敗: %w", err)
	}
	return nil
}

// setupRoutes はAPIルーティングを設定する。
func (s *Server) setupRoutes(registry *prometheus.Registry) {
	api := s.router.Group("/api")

	// 上流APIが処理完了時に呼び出す。エンドユーザーのJWTは持たない。
	api.POST("/webhook", s.handleWebhook())

	authed := api.Group("", middleware.JWTAuth(s.cfg.JWTSecret))
	{
		authed.GET("/me", s.handleGetCurrentUser())

		enrichments := authed.Group("/enrichments")
		{
			enrichments.GET("", s.handleListEnrichments())
			enrichments.POST("/url", s.handleCreateByURL())
			enrichments.POST("/upload", s.handleCreateByUpload())
			enrichments.GET("/get_ai_model_infrastructure_combinations", s.handleAIModelInfrastructureCombinations())
			enrichments.POST("/:id/new_ai_enrichment", s.handleCreateNewAIEnrichment())
			enrichments.DELETE("/:id", s.handleDeleteEnrichment())
		}

		enrichment := authed.Group("/enrichment/:id")
		{
			enrichment.GET("", s.handleGetEnrichment())
			enrichment.GET("/versions", s.handleListVersions())
			enrichment.POST("/versions", s.handleCreateVersion())
			enrichment.GET("/versions/latest", s.handleLatestVersion())
			enrichment.GET("/versions/:versionId", s.handleGetVersion())
			enrichment.POST("/versions/:versionId/evaluate", s.handleEvaluateVersion())
			enrichment.POST("/versions/:versionId/mcq/:mcqId", s.handleEvaluateMCQ())
			enrichment.POST("/versions/:versionId/mcq/:mcqId/choice/:choiceId", s.handleEvaluateChoice())
			enrichment.GET("/versions/:versionId/download_transcript", s.handleDownloadTranscript())
		}

		notifications := authed.Group("/notifications")
		{
			notifications.GET("", s.handleListNotifications())
			notifications.PUT("/:id/read", s.handleMarkNotificationRead())
		}
	}

	s.router.GET("/health", s.handleHealth())
	if registry != nil {
		s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})))
	}
}

// handleGetCurrentUser はJWTのクレームから現在のユーザーを返すハンドラ。
func (s *Server) handleGetCurrentUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"user_id":         middleware.GetUserID(c),
			"email":           middleware.GetEmail(c),
			"user_identifier": user,
		})
	}
}

// handleHealth はカーネルとデータベースの状態を返すハンドラ。
func (s *Server) handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		dbStatus := "OK"
		if err := s.store.Ping(ctx); err != nil {
			s.logger.Error("データベースのヘルスチェックに失敗", zap.Error(err))
			status = http.StatusServiceUnavailable
			dbStatus = "KO"
		}
		c.JSON(status, gin.H{
			"kernelStatus":       "OK",
			"dbConnectionStatus": dbStatus,
		})
	}
}
