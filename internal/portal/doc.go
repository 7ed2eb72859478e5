// Package portal はエンリッチメントポータルのHTTP APIを提供する。
//
// 各ハンドラーはエンドユーザーのJWTを検証したうえで、ゲートウェイクライアントを
// 通じて上流のエンリッチメントAPIを1回呼び出し、その結果をそのまま返す。
// エンリッチメントの所有者確認、処理完了Webhookの通知記録、ヘルスチェック、
// メトリクスの公開もこのパッケージが担う。
package portal
