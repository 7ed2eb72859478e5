// エンリッチメントポータルのエントリポイント。
// エンドユーザーのJWTを検証し、上流のエンリッチメントAPIへの呼び出しを
// 認証付きゲートウェイクライアント経由で中継する。
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/nao1215/enrichment-portal/internal/portal"
	"github.com/nao1215/enrichment-portal/pkg/httpclient"
	"github.com/nao1215/enrichment-portal/pkg/logging"
	"github.com/nao1215/enrichment-portal/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "ポータルの起動に失敗: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := portal.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewRecorder(registry)

	client, err := httpclient.New(httpclient.Config{
		BaseURL:      cfg.APIBaseURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Logger:       logging.WithComponent(logger, "httpclient"),
		Metrics:      recorder,
		TempDir:      cfg.TempDir,
	})
	if err != nil {
		return fmt.Errorf("ゲートウェイクライアントの初期化に失敗: %w", err)
	}

	store, err := portal.OpenStore(ctx, cfg.DatabasePath, logging.WithComponent(logger, "migration"))
	if err != nil {
		return fmt.Errorf("データベースの初期化に失敗: %w", err)
	}
	defer func() { _ = store.Close() }()

	server, err := portal.NewServer(cfg, portal.Deps{
		API:      client,
		Store:    store,
		Logger:   logging.WithComponent(logger, "portal"),
		Registry: registry,
		Metrics:  recorder,
	})
	if err != nil {
		return fmt.Errorf("サーバーの初期化に失敗: %w", err)
	}

	logger.Info("ポータルを初期化しました",
		zap.String("port", cfg.Port),
		zap.String("upstream", cfg.APIBaseURL),
		zap.Int("max_retries", cfg.MaxRetries),
	)
	return server.Run(ctx)
}
