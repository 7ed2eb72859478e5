package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/nao1215/enrichment-portal/pkg/metrics"
)

const (
	// tokenPath はトークンエンドポイントのパス。
	tokenPath = "/api/token"
	// maxTokenResponseSize はトークンレスポンスとして読み込む最大バイト数。
	maxTokenResponseSize = 1 << 20
)

// Token はBearerトークンとその有効期限。
type Token struct {
	// Value はBearerトークン文字列。
	Value string
	// ExpiresAt はトークンの有効期限。
	ExpiresAt time.Time
}

// Grant はトークンエンドポイントから取得した結果。
type Grant struct {
	// AccessToken はaccess_tokenの値。
	AccessToken string
	// ExpiresIn はexpires_inから得た有効期間。
	ExpiresIn time.Duration
	// ExpiryErr はexpires_inを解釈できなかった場合のエラー。
	// トークン自体は使用可能なため致命的ではない。
	ExpiryErr error
}

// Acquirer はトークンを1回だけ取得する。
// 失敗時はAuthenticationErrorを返し、内部でリトライしない。
type Acquirer interface {
	Acquire(ctx context.Context) (Grant, error)
}

// ClientCredentialsAcquirer はclient_credentialsグラントでトークンを取得する。
type ClientCredentialsAcquirer struct {
	tokenURL     string
	clientID     string
	clientSecret string
	httpClient   *http.Client
	timeout      time.Duration
}

// tokenResponse はトークンエンドポイントのレスポンスボディ。
// expires_inは数値でも文字列でも受け付けるため、後から解釈する。
type tokenResponse struct {
	AccessToken string          `json:"access_token"`
	ExpiresIn   json.RawMessage `json:"expires_in"`
}

// NewClientCredentialsAcquirer はbaseURL配下の/api/tokenに対する
// client_credentials交換を行うAcquirerを生成する。
// クライアントIDとシークレットはエンコードせずにBasic認証ヘッダーで送信する。
func NewClientCredentialsAcquirer(baseURL, clientID, clientSecret string, httpClient *http.Client) *ClientCredentialsAcquirer {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &ClientCredentialsAcquirer{
		tokenURL:     strings.TrimRight(baseURL, "/") + tokenPath,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		timeout:      DefaultTimeout,
	}
}

// Acquire はトークンエンドポイントにPOSTしてトークンを取得する。
// ステータスが200以外、またはaccess_tokenがない場合はAuthenticationErrorを返す。
func (a *ClientCredentialsAcquirer) Acquire(ctx context.Context) (Grant, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Grant{}, &AuthenticationError{Message: "トークンリクエストの作成に失敗", Cause: err}
	}
	req.SetBasicAuth(a.clientID, a.clientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Grant{}, &AuthenticationError{Message: "トークンエンドポイントへのリクエストに失敗", Cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return Grant{}, &AuthenticationError{Message: "トークンレスポンスの読み込みに失敗", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return Grant{}, &AuthenticationError{
			Message: fmt.Sprintf("トークンエンドポイントがstatus=%dを返しました", resp.StatusCode),
		}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Grant{}, &AuthenticationError{Message: "トークンレスポンスを解釈できません", Cause: err}
	}
	if tr.AccessToken == "" {
		return Grant{}, &AuthenticationError{Message: "レスポンスにaccess_tokenが含まれていません"}
	}

	expiresIn, expiryErr := parseExpiresIn(tr.ExpiresIn)
	return Grant{
		AccessToken: tr.AccessToken,
		ExpiresIn:   expiresIn,
		ExpiryErr:   expiryErr,
	}, nil
}

// parseExpiresIn はexpires_inの値を有効期間に変換する。
// 整数の秒数、または整数を表す文字列のみ受け付ける。
func parseExpiresIn(raw json.RawMessage) (time.Duration, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, errors.New("expires_inが含まれていません")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return 0, fmt.Errorf("expires_inを解釈できません: %w", err)
	}

	var seconds int64
	switch v := v.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("expires_inを整数として解釈できません: %w", err)
		}
		seconds = n
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("expires_inを整数として解釈できません: %w", err)
		}
		seconds = n
	default:
		return 0, fmt.Errorf("expires_inの型が不正です: %s", raw)
	}
	if seconds <= 0 {
		return 0, fmt.Errorf("expires_inが正の値ではありません: %d", seconds)
	}
	return time.Duration(seconds) * time.Second, nil
}

// TokenStore は現在のBearerトークンと有効期限を保持する。
// トークンは初回利用時に取得され、期限切れまたは明示的な破棄の後に再取得される。
// 同時に発生した取得はsingleflightで1回にまとめる。
type TokenStore struct {
	acquirer Acquirer
	now      func() time.Time
	logger   *zap.Logger
	metrics  *metrics.Recorder

	mu        sync.Mutex
	token     string
	expiresAt time.Time

	group singleflight.Group
}

// NewTokenStore は空のTokenStoreを生成する。
// nowがnilの場合はtime.Nowを使用する。
func NewTokenStore(acquirer Acquirer, now func() time.Time, logger *zap.Logger, recorder *metrics.Recorder) *TokenStore {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenStore{
		acquirer: acquirer,
		now:      now,
		logger:   logger,
		metrics:  recorder,
	}
}

// EnsureValidToken は有効なトークンを返す。
// トークンが未取得、または有効期限が現在時刻以前の場合は同期的に取得する。
//
// 取得は呼び出し元のキャンセルから切り離して実行する。
// 待機中にctxが終了した場合は、その呼び出しだけがエラーを返す。
func (s *TokenStore) EnsureValidToken(ctx context.Context) (string, error) {
	if tok, ok := s.validToken(); ok {
		return tok, nil
	}

	ch := s.group.DoChan("token", func() (any, error) {
		// 直前に別の呼び出しが取得を終えていればそれを使う
		if tok, ok := s.validToken(); ok {
			return tok, nil
		}
		if stale, ok := s.snapshot(); ok {
			s.logger.Info("Bearerトークンの有効期限が切れたため再取得します", zap.Time("expires_at", stale.ExpiresAt))
		}
		return s.acquire(context.WithoutCancel(ctx))
	})

	select {
	case <-ctx.Done():
		return "", &AuthenticationError{Message: "トークンの取得を待つ間に中断されました", Cause: ctx.Err()}
	case r := <-ch:
		if r.Err != nil {
			return "", r.Err
		}
		return r.Val.(string), nil
	}
}

// acquire はAcquirerでトークンを取得し、ストアを上書きする。
func (s *TokenStore) acquire(ctx context.Context) (string, error) {
	grant, err := s.acquirer.Acquire(ctx)
	if err != nil {
		s.metrics.TokenAcquired(false)
		if !IsAuthenticationError(err) {
			err = &AuthenticationError{Message: "トークンの取得に失敗", Cause: err}
		}
		return "", err
	}
	if grant.AccessToken == "" {
		s.metrics.TokenAcquired(false)
		return "", &AuthenticationError{Message: "レスポンスにaccess_tokenが含まれていません"}
	}

	var expiresAt time.Time
	if grant.ExpiryErr != nil {
		s.logger.Warn("トークン有効期限の設定に失敗", zap.Error(grant.ExpiryErr))
	} else {
		expiresAt = s.now().Add(grant.ExpiresIn)
	}

	s.mu.Lock()
	s.token = grant.AccessToken
	s.expiresAt = expiresAt
	s.mu.Unlock()

	s.metrics.TokenAcquired(true)
	s.logger.Info("新しいBearerトークンを取得しました", zap.Time("expires_at", expiresAt))
	return grant.AccessToken, nil
}

// validToken は有効期限内のトークンを保持していればそれを返す。
func (s *TokenStore) validToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token != "" && s.now().Before(s.expiresAt) {
		return s.token, true
	}
	return "", false
}

// Invalidate は保持しているトークンと有効期限を破棄する。
// 次回のEnsureValidTokenで必ず再取得される。
func (s *TokenStore) Invalidate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	s.expiresAt = time.Time{}
}

// snapshot は現在保持しているトークンを有効期限の検証なしで返す。
func (s *TokenStore) snapshot() (Token, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return Token{}, false
	}
	return Token{Value: s.token, ExpiresAt: s.expiresAt}, true
}
