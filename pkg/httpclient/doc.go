// Package httpclient は上流のエンリッチメント処理APIに対する
// 認証付きゲートウェイクライアントを提供する。
//
// ポータルのすべてのハンドラはこのパッケージのExecuteを通して上流を呼び出す。
// client_credentialsグラントによるBearerトークンの取得と期限切れ時の再取得、
// 通信失敗時のトークン破棄を伴うリトライ、Content-Typeに応じた
// JSON結果とバイナリファイル（字幕・文字起こし）への振り分けを担当する。
//
// バイナリレスポンスは一時ファイルに書き出され、BinaryArtifactとして返される。
// 一時ファイルは呼び出し側が送信後に削除する。
package httpclient
