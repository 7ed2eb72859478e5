package portal

import (
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/enrichment-portal/pkg/httpclient"
	"github.com/nao1215/enrichment-portal/pkg/middleware"
)

// エンドユーザーに返す汎用エラーメッセージ。上流の詳細は含めない。
const (
	messageAuthUnavailable = "上流APIの認証に失敗しました。しばらくしてから再度お試しください"
	messageUpstreamFailure = "上流APIとの通信に失敗しました。しばらくしてから再度お試しください"
	messageInternal        = "内部サーバーエラーが発生しました"
)

// render はExecuteの結果をレスポンスとして書き出す。
// BinaryArtifactの一時ファイルは書き出しの成否にかかわらず削除する。
func (s *Server) render(c *gin.Context, outcome httpclient.Outcome, err error) {
	if err != nil {
		s.renderError(c, err)
		return
	}

	switch o := outcome.(type) {
	case *httpclient.JSONResult:
		if len(o.Raw) == 0 {
			c.Status(o.Status)
			return
		}
		c.Data(o.Status, "application/json", o.Raw)

	case *httpclient.BinaryArtifact:
		defer func() {
			if err := o.Remove(); err != nil {
				s.logger.Warn("一時ファイルの削除に失敗", zap.String("path", o.Path), zap.Error(err))
			}
		}()
		s.sendArtifact(c, o)

	default:
		s.logger.Error("未知のレスポンス種別", zap.String("type", fmt.Sprintf("%T", outcome)))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "KO", "error": messageInternal})
	}
}

// sendArtifact は一時ファイルを添付ファイルとしてストリーミングする。
func (s *Server) sendArtifact(c *gin.Context, a *httpclient.BinaryArtifact) {
	f, err := a.Open()
	if err != nil {
		s.logger.Error("一時ファイルを開けません", zap.String("path", a.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"status": "KO", "error": messageInternal})
		return
	}
	defer func() { _ = f.Close() }()

	contentType := a.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.DataFromReader(a.Status, a.Size, contentType, f, map[string]string{
		"Content-Disposition": attachmentDisposition(a.Filename),
	})
}

// attachmentDisposition は添付ファイル用のContent-Dispositionを組み立てる。
// filenameが空、またはエンコードできない場合は既定のファイル名を使う。
func attachmentDisposition(filename string) string {
	if filename != "" {
		if v := mime.FormatMediaType("attachment", map[string]string{"filename": filename}); v != "" {
			return v
		}
	}
	return `attachment; filename="download"`
}

// renderError はゲートウェイクライアントのエラーをHTTPステータスに変換する。
// 認証失敗は503、通信失敗は502、許容外のステータスは上流の値をそのまま返す。
func (s *Server) renderError(c *gin.Context, err error) {
	fields := []zap.Field{
		zap.String("request_id", middleware.GetRequestID(c)),
		zap.Error(err),
	}

	var upstreamErr *httpclient.UpstreamError
	switch {
	case httpclient.IsAuthenticationError(err):
		s.logger.Error("上流APIの認証に失敗", fields...)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "KO", "error": messageAuthUnavailable})
	case httpclient.IsTransportError(err):
		s.logger.Error("上流APIとの通信に失敗", fields...)
		c.JSON(http.StatusBadGateway, gin.H{"status": "KO", "error": messageUpstreamFailure})
	case errors.As(err, &upstreamErr):
		s.logger.Warn("上流APIが想定外のレスポンスを返しました", append(fields, zap.Int("status", upstreamErr.StatusCode))...)
		contentType := upstreamErr.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		c.Data(upstreamErr.StatusCode, contentType, upstreamErr.Body)
	default:
		s.logger.Error("上流APIの呼び出しに失敗", fields...)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "KO", "error": messageInternal})
	}
}
