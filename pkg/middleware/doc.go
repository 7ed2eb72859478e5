// Package middleware はポータルのGinルーターで使用する共通ミドルウェアを提供する。
//
// セッションJWTの検証、リクエストIDの付与と上流への伝播、アクセスログ、
// パニックリカバリ、CORS、HTTPメトリクスを含む。
package middleware
