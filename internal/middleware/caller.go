// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
)

const callerIDHeader = "X-Caller-Id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// callerIDContextKey はリクエストコンテキストに呼び出し元IDを格納するためのキー。
var callerIDContextKey = contextKey("caller_id")

// NewCallerIDMiddleware はX-Caller-Idヘッダーから呼び出し元IDを読み取り、
// リクエストコンテキストに注入するミドルウェアを返す。
// ヘッダーが無い場合は接続元アドレスのホスト部を呼び出し元IDとして扱う。
func NewCallerIDMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			callerID := r.Header.Get(callerIDHeader)
			if callerID == "" {
				host, _, err := net.SplitHostPort(r.RemoteAddr)
				if err != nil {
					host = r.RemoteAddr
				}
				callerID = host
			}

			ctx := context.WithValue(r.Context(), callerIDContextKey, callerID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ContextWithCallerID は呼び出し元IDを注入したコンテキストを返す。
// テストおよびワーカーからの内部呼び出し用。
func ContextWithCallerID(ctx context.Context, callerID string) context.Context {
	return context.WithValue(ctx, callerIDContextKey, callerID)
}

// CallerIDFromContext はリクエストコンテキストから呼び出し元IDを取得する。
// CallerIDMiddlewareより後段のハンドラーでのみ使用できる。
func CallerIDFromContext(ctx context.Context) (string, error) {
	callerID, ok := ctx.Value(callerIDContextKey).(string)
	if !ok || callerID == "" {
		return "", fmt.Errorf("caller ID not found in context")
	}
	return callerID, nil
}
