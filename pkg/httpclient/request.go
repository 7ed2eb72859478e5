package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"net/http"
	"net/url"
	"regexp"
	"slices"
	"strings"
	"time"
)

const (
	// DefaultMaxRetries は既定のリトライ回数。試行回数は最大でこの値+1となる。
	DefaultMaxRetries = 1
	// DefaultRetryDelay はリトライ前の既定の待機時間。
	DefaultRetryDelay = 250 * time.Millisecond
	// DefaultTimeout は1回のHTTP呼び出しの既定タイムアウト。
	DefaultTimeout = 30 * time.Second
	// defaultAPIVersionPrefix はバージョン指定のないパスに付与するプレフィックス。
	defaultAPIVersionPrefix = "/api/v1"
)

// versionedPathPattern はバージョン付きのパスにマッチする。
var versionedPathPattern = regexp.MustCompile(`^/api/v\d+(\.\d+)?(/|\?|$)`)

// BodyFunc はリクエストボディを開く関数。
// リトライのたびに呼び出され、毎回先頭から読めるボディを返す必要がある。
type BodyFunc func() (io.ReadCloser, error)

// RequestDescriptor は上流APIへの1回の論理的な呼び出しを表す。
// NewRequestで生成し、生成後は変更できない。
type RequestDescriptor struct {
	method           string
	path             string
	query            url.Values
	header           http.Header
	body             BodyFunc
	contentType      string
	maxRetries       int
	retryDelay       time.Duration
	timeout          time.Duration
	acceptable       []int
	fallbackFilename string
}

// RequestOption はRequestDescriptorの生成時オプション。
type RequestOption func(*RequestDescriptor)

// NewRequest は新しいRequestDescriptorを生成する。
// pathにバージョンが含まれない場合は/api/v1が付与される。
func NewRequest(method, path string, opts ...RequestOption) RequestDescriptor {
	d := RequestDescriptor{
		method:     strings.ToUpper(method),
		path:       versionedPath(path),
		query:      url.Values{},
		header:     http.Header{},
		maxRetries: DefaultMaxRetries,
		retryDelay: DefaultRetryDelay,
		timeout:    DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// WithQuery はクエリパラメータを追加する。
func WithQuery(query url.Values) RequestOption {
	return func(d *RequestDescriptor) {
		for k, v := range query {
			d.query[k] = slices.Clone(v)
		}
	}
}

// WithHeader はリクエストヘッダーを設定する。
// Authorizationヘッダーは常にクライアントが上書きする。
func WithHeader(key, value string) RequestOption {
	return func(d *RequestDescriptor) {
		d.header.Set(key, value)
	}
}

// WithJSONBody はvをJSONにシリアライズしてボディに設定する。
// シリアライズに失敗した場合、Execute時にエラーになる。
func WithJSONBody(v any) RequestOption {
	return func(d *RequestDescriptor) {
		payload, err := json.Marshal(v)
		d.contentType = "application/json"
		d.body = func() (io.ReadCloser, error) {
			if err != nil {
				return nil, fmt.Errorf("リクエストボディのシリアライズに失敗: %w", err)
			}
			return io.NopCloser(bytes.NewReader(payload)), nil
		}
	}
}

// WithBody は任意のボディとContent-Typeを設定する。
func WithBody(contentType string, body BodyFunc) RequestOption {
	return func(d *RequestDescriptor) {
		d.contentType = contentType
		d.body = body
	}
}

// WithMaxRetries はリトライ回数を設定する。負の値は0として扱う。
func WithMaxRetries(n int) RequestOption {
	return func(d *RequestDescriptor) {
		d.maxRetries = max(n, 0)
	}
}

// WithRetryDelay はリトライ前の待機時間を設定する。
func WithRetryDelay(delay time.Duration) RequestOption {
	return func(d *RequestDescriptor) {
		d.retryDelay = max(delay, 0)
	}
}

// WithTimeout は1回のHTTP呼び出しのタイムアウトを設定する。
// リトライを含むループ全体ではなく、各試行にのみ適用される。
// 0以下を指定するとタイムアウトなしになる。
func WithTimeout(timeout time.Duration) RequestOption {
	return func(d *RequestDescriptor) {
		d.timeout = timeout
	}
}

// WithAcceptableStatus は許容するステータスコードを設定する。
// 設定した場合、範囲外のレスポンスはUpstreamErrorになる。
// 未設定の場合はすべてのステータスコードをそのまま呼び出し側に返す。
func WithAcceptableStatus(codes ...int) RequestOption {
	return func(d *RequestDescriptor) {
		d.acceptable = append(d.acceptable, codes...)
	}
}

// WithFallbackFilename はContent-Dispositionからファイル名を得られない場合に
// 使用するファイル名を設定する。
func WithFallbackFilename(name string) RequestOption {
	return func(d *RequestDescriptor) {
		d.fallbackFilename = strings.TrimSpace(name)
	}
}

// accepts はstatusが許容範囲内かどうかを返す。
func (d RequestDescriptor) accepts(status int) bool {
	if len(d.acceptable) == 0 {
		return true
	}
	return slices.Contains(d.acceptable, status)
}

// versionedPath はpathにバージョンが含まれない場合に/api/v1を付与する。
func versionedPath(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if versionedPathPattern.MatchString(path) {
		return path
	}
	return defaultAPIVersionPrefix + path
}

// buildURL はベースURL、パス、クエリから最終的なURLを組み立てる。
// パスに含まれるクエリ文字列とdescriptorのクエリはマージされ、
// 同じキーはdescriptor側が優先される。
func (d RequestDescriptor) buildURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + d.path)
	if err != nil {
		return "", fmt.Errorf("URLの組み立てに失敗: %w", err)
	}
	if len(d.query) > 0 {
		q := u.Query()
		maps.Copy(q, d.query)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}

// newHTTPRequest は1回の試行分のhttp.Requestを生成する。
func (d RequestDescriptor) newHTTPRequest(ctx context.Context, target string) (*http.Request, error) {
	var body io.Reader
	if d.body != nil {
		rc, err := d.body()
		if err != nil {
			return nil, err
		}
		body = rc
	}
	req, err := http.NewRequestWithContext(ctx, d.method, target, body)
	if err != nil {
		if closer, ok := body.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	if d.contentType != "" {
		req.Header.Set("Content-Type", d.contentType)
	}
	for k, v := range d.header {
		req.Header[k] = slices.Clone(v)
	}
	return req, nil
}
