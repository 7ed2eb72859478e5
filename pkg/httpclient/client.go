package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/enrichment-portal/pkg/metrics"
)

// Config はゲートウェイクライアントの設定。
type Config struct {
	// BaseURL は上流APIのベースURL（例: "https://aristote.example.com"）。
	BaseURL string
	// ClientID はclient_credentialsグラントのクライアントID。
	ClientID string
	// ClientSecret はclient_credentialsグラントのクライアントシークレット。
	ClientSecret string
	// HTTPClient は上流APIとトークンエンドポイントの両方に使うHTTPクライアント。
	// タイムアウトは試行ごとにcontextで設定するため、Timeoutは0のままでよい。
	HTTPClient *http.Client
	// Acquirer はトークンの取得方法。nilの場合はclient_credentialsを使う。
	Acquirer Acquirer
	// Logger は構造化ロガー。
	Logger *zap.Logger
	// Metrics はメトリクスの記録先。nilの場合は記録しない。
	Metrics *metrics.Recorder
	// Now は現在時刻を返す関数。テストで時刻を差し替えるために使う。
	Now func() time.Time
	// Sleep はリトライ前の待機を行う関数。テストで待機を省略するために使う。
	Sleep func(ctx context.Context, d time.Duration) error
	// TempDir はバイナリレスポンスを書き出すディレクトリ。空の場合はOSの既定値。
	TempDir string
}

// Client は上流APIへの認証付きゲートウェイクライアント。
// すべての呼び出しはExecuteを通り、トークンの取得と更新、リトライ、
// レスポンスの実体化を一括して扱う。
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *TokenStore
	logger     *zap.Logger
	metrics    *metrics.Recorder
	sleep      func(ctx context.Context, d time.Duration) error
	tempDir    string
}

// New は新しいゲートウェイクライアントを生成する。
func New(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, errors.New("BaseURLは必須です")
	}
	if cfg.Acquirer == nil && (cfg.ClientID == "" || cfg.ClientSecret == "") {
		return nil, errors.New("ClientIDとClientSecretは必須です")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	acquirer := cfg.Acquirer
	if acquirer == nil {
		acquirer = NewClientCredentialsAcquirer(baseURL, cfg.ClientID, cfg.ClientSecret, httpClient)
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     NewTokenStore(acquirer, cfg.Now, logger, cfg.Metrics),
		logger:     logger,
		metrics:    cfg.Metrics,
		sleep:      sleep,
		tempDir:    cfg.TempDir,
	}, nil
}

// attemptKind は1回の試行の結果の種類。
type attemptKind int

const (
	// attemptSucceeded はレスポンスを受信したことを表す。ステータスコードは問わない。
	attemptSucceeded attemptKind = iota
	// attemptTransportFailed はHTTP通信に失敗したことを表す。リトライ対象。
	attemptTransportFailed
	// attemptAuthFailed はトークンを取得できなかったことを表す。リトライ対象。
	attemptAuthFailed
	// attemptAborted はリトライしても回復しない失敗を表す。
	attemptAborted
)

// attemptResult は1回の試行の結果。
type attemptResult struct {
	kind   attemptKind
	resp   *http.Response
	cancel context.CancelFunc
	err    error
}

// Execute はdescriptorが表す呼び出しを実行し、レスポンスを実体化して返す。
//
// HTTP通信の失敗とトークン取得の失敗は、トークンを破棄してretryDelayだけ
// 待機したうえで最大maxRetries回までリトライする。上流が返した4xx/5xxは
// リトライせず、そのままOutcomeとして返す。
func (c *Client) Execute(ctx context.Context, d RequestDescriptor) (Outcome, error) {
	target, err := d.buildURL(c.baseURL)
	if err != nil {
		return nil, err
	}

	for attempt := 1; ; attempt++ {
		r := c.attempt(ctx, d, target)
		switch r.kind {
		case attemptSucceeded:
			c.metrics.UpstreamAttempt(d.method, metrics.ResultSuccess)
			defer r.cancel()
			defer r.resp.Body.Close()
			return c.finish(r.resp, d, target, attempt)

		case attemptAborted:
			return nil, r.err

		case attemptTransportFailed, attemptAuthFailed:
			result := metrics.ResultTransport
			if r.kind == attemptAuthFailed {
				result = metrics.ResultAuth
			}
			c.metrics.UpstreamAttempt(d.method, result)
			c.logger.Error("上流APIへのリクエストに失敗",
				zap.String("method", d.method),
				zap.String("url", target),
				zap.Int("attempt", attempt),
				zap.Error(r.err),
			)

			if attempt > d.maxRetries {
				return nil, c.classify(r, d, target, attempt)
			}

			c.tokens.Invalidate()
			c.metrics.TokenInvalidated()
			c.logger.Warn("トークンを破棄してリトライします",
				zap.String("method", d.method),
				zap.String("url", target),
				zap.Duration("delay", d.retryDelay),
			)
			if err := c.sleep(ctx, d.retryDelay); err != nil {
				return nil, &TransportError{Method: d.method, URL: target, Attempts: attempt, Cause: err}
			}
		}
	}
}

// attempt はトークンを用意してHTTPリクエストを1回送信する。
func (c *Client) attempt(ctx context.Context, d RequestDescriptor, target string) attemptResult {
	if err := ctx.Err(); err != nil {
		return attemptResult{kind: attemptAborted, err: &TransportError{Method: d.method, URL: target, Cause: err}}
	}

	token, err := c.tokens.EnsureValidToken(ctx)
	if err != nil {
		return attemptResult{kind: attemptAuthFailed, err: err}
	}

	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if d.timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, d.timeout)
	}

	req, err := d.newHTTPRequest(attemptCtx, target)
	if err != nil {
		cancel()
		return attemptResult{kind: attemptAborted, err: err}
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if id, ok := RequestIDFromContext(ctx); ok && req.Header.Get(requestIDHeader) == "" {
		req.Header.Set(requestIDHeader, id)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		cancel()
		if ctx.Err() != nil {
			return attemptResult{kind: attemptAborted, err: &TransportError{Method: d.method, URL: target, Cause: err}}
		}
		return attemptResult{kind: attemptTransportFailed, err: err}
	}
	return attemptResult{kind: attemptSucceeded, resp: resp, cancel: cancel}
}

// classify はリトライを使い切った失敗を呼び出し側に返すエラーに変換する。
func (c *Client) classify(r attemptResult, d RequestDescriptor, target string, attempts int) error {
	if r.kind == attemptAuthFailed {
		var authErr *AuthenticationError
		if errors.As(r.err, &authErr) {
			return authErr
		}
		return &AuthenticationError{Message: "トークンの取得に失敗", Cause: r.err}
	}
	return &TransportError{Method: d.method, URL: target, Attempts: attempts, Cause: r.err}
}

// finish はレスポンスを実体化し、メトリクスを記録する。
func (c *Client) finish(resp *http.Response, d RequestDescriptor, target string, attempts int) (Outcome, error) {
	outcome, err := c.materialize(resp, d)
	if err != nil {
		var transportErr *TransportError
		if errors.As(err, &transportErr) {
			transportErr.URL = target
			transportErr.Attempts = attempts
		}
		if IsUpstreamError(err) {
			c.metrics.UpstreamOutcome(metrics.OutcomeUpstream)
		}
		return nil, err
	}

	switch o := outcome.(type) {
	case *JSONResult:
		c.metrics.UpstreamOutcome(metrics.OutcomeJSON)
	case *BinaryArtifact:
		c.metrics.UpstreamOutcome(metrics.OutcomeBinary)
		c.logger.Debug("バイナリレスポンスを一時ファイルに書き出しました",
			zap.String("path", o.Path),
			zap.String("filename", o.Filename),
			zap.Int64("size", o.Size),
		)
	}
	return outcome, nil
}

// sleepContext はdだけ待機する。待機中にctxが終了した場合はctx.Err()を返す。
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("リトライ待機中に中断されました: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
