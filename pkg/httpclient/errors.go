package httpclient

import (
	"errors"
	"fmt"
)

// AuthenticationError はトークンを取得できなかったことを表す。
// トークンエンドポイントが失敗を返した場合や、レスポンスにaccess_tokenが
// 含まれない場合に返される。
type AuthenticationError struct {
	// Message は失敗の概要。
	Message string
	// Cause は元になったエラー。
	Cause error
}

func (e *AuthenticationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("認証トークンの取得に失敗: %s: %v", e.Message, e.Cause)
	}
	return fmt.Sprintf("認証トークンの取得に失敗: %s", e.Message)
}

// Unwrap は元になったエラーを返す。
func (e *AuthenticationError) Unwrap() error {
	return e.Cause
}

// TransportError はHTTP通信自体が失敗したことを表す。
// タイムアウト、接続リセット、名前解決失敗などが該当する。
type TransportError struct {
	// Method はHTTPメソッド。
	Method string
	// URL はリクエスト先のURL。
	URL string
	// Attempts は失敗までに行った試行回数。
	Attempts int
	// Cause は元になったエラー。
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("HTTP通信に失敗: %s %s (試行回数=%d): %v", e.Method, e.URL, e.Attempts, e.Cause)
}

// Unwrap は元になったエラーを返す。
func (e *TransportError) Unwrap() error {
	return e.Cause
}

// UpstreamError は上流からレスポンスを受け取ったが、呼び出し側が許容する
// ステータスコードの範囲外だったことを表す。
// ステータスコードとボディは加工せずにそのまま保持する。
type UpstreamError struct {
	// StatusCode は上流が返したステータスコード。
	StatusCode int
	// ContentType は上流が返したContent-Type。
	ContentType string
	// Body は上流が返したボディ。
	Body []byte
	// Cause はボディの解釈に失敗した場合のエラー。通常はnil。
	Cause error
}

func (e *UpstreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("上流APIのレスポンスを解釈できません: status=%d: %v", e.StatusCode, e.Cause)
	}
	return fmt.Sprintf("上流APIがエラーを返しました: status=%d, body=%s", e.StatusCode, string(e.Body))
}

// Unwrap は元になったエラーを返す。
func (e *UpstreamError) Unwrap() error {
	return e.Cause
}

// IsAuthenticationError はerrがAuthenticationErrorかどうかを返す。
func IsAuthenticationError(err error) bool {
	var authErr *AuthenticationError
	return errors.As(err, &authErr)
}

// IsTransportError はerrがTransportErrorかどうかを返す。
func IsTransportError(err error) bool {
	var transportErr *TransportError
	return errors.As(err, &transportErr)
}

// IsUpstreamError はerrがUpstreamErrorかどうかを返す。
func IsUpstreamError(err error) bool {
	var upstreamErr *UpstreamError
	return errors.As(err, &upstreamErr)
}
