package httpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"strings"
)

// Outcome は上流レスポンスを実体化した結果。
// 実体は*JSONResultか*BinaryArtifactのどちらか一方であり、
// 呼び出し側は型switchで分岐する。
type Outcome interface {
	// StatusCode は上流が返したステータスコード。
	StatusCode() int
	outcome()
}

// JSONResult はJSONとして解釈したレスポンス。
// ステータスコードは2xx以外も含めて上流の値をそのまま保持する。
type JSONResult struct {
	// Status は上流が返したステータスコード。
	Status int
	// Body はデコード済みのJSON値。ボディが空の場合はnil。
	Body any
	// Raw は上流が返したボディそのもの。
	Raw json.RawMessage
}

// StatusCode は上流が返したステータスコードを返す。
func (r *JSONResult) StatusCode() int { return r.Status }

func (*JSONResult) outcome() {}

// Decode はRawをvにデコードする。
func (r *JSONResult) Decode(v any) error {
	if len(r.Raw) == 0 {
		return errors.New("レスポンスボディが空です")
	}
	if err := json.Unmarshal(r.Raw, v); err != nil {
		return fmt.Errorf("レスポンスボディのデシリアライズに失敗: %w", err)
	}
	return nil
}

// BinaryArtifact は一時ファイルに書き出したバイナリレスポンス。
// 一時ファイルの削除は呼び出し側の責任であり、送信の成否にかかわらず
// Removeを呼ぶ必要がある。
type BinaryArtifact struct {
	// Status は上流が返したステータスコード。
	Status int
	// Path は一時ファイルのパス。
	Path string
	// Filename はダウンロード時に提示するファイル名。空になることはない。
	Filename string
	// ContentType は上流が返したContent-Type。
	ContentType string
	// Size は書き出したバイト数。
	Size int64
}

// StatusCode は上流が返したステータスコードを返す。
func (a *BinaryArtifact) StatusCode() int { return a.Status }

func (*BinaryArtifact) outcome() {}

// Open は一時ファイルを読み込み用に開く。
func (a *BinaryArtifact) Open() (*os.File, error) {
	return os.Open(a.Path)
}

// Remove は一時ファイルを削除する。既に削除済みの場合はエラーにしない。
func (a *BinaryArtifact) Remove() error {
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("一時ファイルの削除に失敗: %w", err)
	}
	return nil
}

// isJSONContentType はContent-TypeのメディアタイプがJSONかどうかを返す。
// 大文字小文字とパラメータ（charsetなど）は無視する。
func isJSONContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.EqualFold(mediaType, "application/json")
}

// materialize はレスポンスをOutcomeに変換する。
// Content-Typeがapplication/jsonの場合のみJSONとして解釈し、
// それ以外（Content-Typeがない場合を含む）は一時ファイルに書き出す。
func (c *Client) materialize(resp *http.Response, d RequestDescriptor) (Outcome, error) {
	contentType := resp.Header.Get("Content-Type")

	if !d.accepts(resp.StatusCode) {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, &TransportError{Method: d.method, Attempts: 1, Cause: err}
		}
		return nil, &UpstreamError{StatusCode: resp.StatusCode, ContentType: contentType, Body: body}
	}

	if isJSONContentType(contentType) {
		return c.materializeJSON(resp, d, contentType)
	}
	return c.materializeBinary(resp, d, contentType)
}

// materializeJSON はJSONレスポンスをデコードする。
func (c *Client) materializeJSON(resp *http.Response, d RequestDescriptor, contentType string) (Outcome, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Method: d.method, Attempts: 1, Cause: err}
	}

	result := &JSONResult{Status: resp.StatusCode, Raw: raw}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &result.Body); err != nil {
			return nil, &UpstreamError{StatusCode: resp.StatusCode, ContentType: contentType, Body: raw, Cause: err}
		}
	}
	return result, nil
}

// materializeBinary はレスポンスボディを新しい一時ファイルに書き出す。
func (c *Client) materializeBinary(resp *http.Response, d RequestDescriptor, contentType string) (Outcome, error) {
	f, err := os.CreateTemp(c.tempDir, "file_*")
	if err != nil {
		return nil, fmt.Errorf("一時ファイルの作成に失敗: %w", err)
	}

	size, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(f.Name())
		if copyErr != nil {
			return nil, &TransportError{Method: d.method, Attempts: 1, Cause: copyErr}
		}
		return nil, fmt.Errorf("一時ファイルの書き込みに失敗: %w", closeErr)
	}

	filename, ok := ParseContentDispositionFilename(resp.Header.Get("Content-Disposition"))
	if !ok {
		filename = d.fallbackFilename
	}
	if filename == "" {
		filename = FallbackFilename(contentType)
	}

	return &BinaryArtifact{
		Status:      resp.StatusCode,
		Path:        f.Name(),
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
	}, nil
}
