package httpclient

import (
	"context"
	"strings"
)

// requestIDHeader は上流APIにリクエストIDを伝播するためのHTTPヘッダーキー。
const requestIDHeader = "X-Request-ID"

// contextKey はコンテキストキーの型。
type contextKey string

// contextKeyRequestID はコンテキストにリクエストIDを格納するためのキー。
const contextKeyRequestID contextKey = "request_id"

// WithRequestID はコンテキストにリクエストIDを設定する。
// Executeは設定されたIDをX-Request-IDヘッダーとして上流に送信する。
// 空文字列の場合はctxをそのまま返す。
func WithRequestID(ctx context.Context, id string) context.Context {
	id = strings.TrimSpace(id)
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, contextKeyRequestID, id)
}

// RequestIDFromContext はコンテキストからリクエストIDを取り出す。
func RequestIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(contextKeyRequestID).(string)
	return id, ok && id != ""
}
