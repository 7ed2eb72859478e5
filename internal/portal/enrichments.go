package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/enrichment-portal/pkg/httpclient"
	"github.com/nao1215/enrichment-portal/pkg/middleware"
)

// enrichmentsPageSize はエンリッチメント一覧の1ページあたりの件数。
const enrichmentsPageSize = "10"

// enrichmentOwnership は所有者判定に必要なエンリッチメントのフィールド。
type enrichmentOwnership struct {
	EndUserIdentifier string   `json:"endUserIdentifier"`
	Contributors      []string `json:"contributors"`
}

// newRequest は設定の既定値を適用したRequestDescriptorを生成する。
// optsは既定値より後に適用される。
func (s *Server) newRequest(method, path string, opts ...httpclient.RequestOption) httpclient.RequestDescriptor {
	base := []httpclient.RequestOption{
		httpclient.WithMaxRetries(s.cfg.MaxRetries),
		httpclient.WithRetryDelay(s.cfg.RetryDelay),
		httpclient.WithTimeout(s.cfg.RequestTimeout),
	}
	return httpclient.NewRequest(method, path, append(base, opts...)...)
}

// forward はdescriptorを実行し、結果をそのままレスポンスとして返す。
func (s *Server) forward(c *gin.Context, d httpclient.RequestDescriptor) {
	outcome, err := s.api.Execute(c.Request.Context(), d)
	s.render(c, outcome, err)
}

// enrichmentPath は/enrichments/{id}に続くパスを組み立てる。
func enrichmentPath(id string, segments ...string) string {
	parts := []string{"/enrichments", url.PathEscape(id)}
	for _, seg := range segments {
		parts = append(parts, url.PathEscape(seg))
	}
	return strings.Join(parts, "/")
}

// currentUser は認証済みエンドユーザーの識別子を返す。
// 取得できない場合は401を書き込みfalseを返す。
func currentUser(c *gin.Context) (string, bool) {
	user := middleware.GetUserIdentifier(c)
	if user == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "KO", "error": "ユーザーを特定できません"})
		return "", false
	}
	return user, true
}

// authorize はエンリッチメントを取得し、現在のユーザーが所有者または共同編集者か確認する。
// 確認できた場合は取得結果を返す。そうでない場合はレスポンスを書き込みfalseを返す。
// 上流が200以外を返した場合はそのまま返す。
func (s *Server) authorize(c *gin.Context, enrichmentID string) (*httpclient.JSONResult, bool) {
	user, ok := currentUser(c)
	if !ok {
		return nil, false
	}

	outcome, err := s.api.Execute(c.Request.Context(), s.newRequest(http.MethodGet, enrichmentPath(enrichmentID)))
	if err != nil {
		s.render(c, nil, err)
		return nil, false
	}
	res, isJSON := outcome.(*httpclient.JSONResult)
	if !isJSON || res.Status != http.StatusOK {
		s.render(c, outcome, nil)
		return nil, false
	}

	var owner enrichmentOwnership
	if err := res.Decode(&owner); err != nil {
		s.logger.Error("エンリッチメントの所有者情報を解釈できません",
			zap.String("enrichment_id", enrichmentID),
			zap.Error(err),
		)
		c.JSON(http.StatusBadGateway, gin.H{"status": "KO", "error": messageUpstreamFailure})
		return nil, false
	}
	if owner.EndUserIdentifier != user && !slices.Contains(owner.Contributors, user) {
		c.JSON(http.StatusUnauthorized, gin.H{"status": "KO", "error": "このエンリッチメントへのアクセス権限がありません"})
		return nil, false
	}
	return res, true
}

// readJSONObject はリクエストボディをJSONオブジェクトとして読み込む。
// 失敗した場合は400を書き込みfalseを返す。
func readJSONObject(c *gin.Context) (map[string]any, bool) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil || body == nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "KO", "error": "リクエストボディはJSONオブジェクトである必要があります"})
		return nil, false
	}
	return body, true
}

// readJSONBody はリクエストボディを検証してそのまま返す。
// 不正なJSONの場合は400を書き込みfalseを返す。
func readJSONBody(c *gin.Context) (json.RawMessage, bool) {
	raw, err := c.GetRawData()
	if err != nil || !json.Valid(raw) {
		c.JSON(http.StatusBadRequest, gin.H{"status": "KO", "error": "リクエストボディが不正なJSONです"})
		return nil, false
	}
	return raw, true
}

// rawJSONBody は検証済みのJSONをそのまま送るボディオプションを返す。
func rawJSONBody(raw json.RawMessage) httpclient.RequestOption {
	return httpclient.WithBody("application/json", func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(raw)), nil
	})
}

// handleCreateByURL はURLを指定してエンリッチメントを作成するハンドラ。
func (s *Server) handleCreateByURL() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}
		body, ok := readJSONObject(c)
		if !ok {
			return
		}
		body["endUserIdentifier"] = user

		s.forward(c, s.newRequest(http.MethodPost, "/enrichments/url", httpclient.WithJSONBody(body)))
	}
}

// handleCreateByUpload はファイルをアップロードしてエンリッチメントを作成するハンドラ。
// ファイルはmultipartでストリーミングし、アップロード用のタイムアウトを使う。
func (s *Server) handleCreateByUpload() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}
		fh, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "KO", "error": "fileは必須です"})
			return
		}

		contentType, body := multipartBody(
			[]formField{
				{name: "originalFileName", value: fh.Filename},
				{name: "notificationWebhookUrl", value: c.PostForm("notificationWebhookUrl")},
				{name: "endUserIdentifier", value: user},
				{name: "enrichmentParameters", value: c.PostForm("enrichmentParameters")},
			},
			&formFile{
				field:    "file",
				filename: fh.Filename,
				open:     openFileHeader(fh),
			},
		)

		s.forward(c, s.newRequest(http.MethodPost, "/enrichments/upload",
			httpclient.WithBody(contentType, body),
			httpclient.WithTimeout(s.cfg.UploadTimeout),
		))
	}
}

// openFileHeader はアップロードされたファイルを開く関数を返す。
func openFileHeader(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return fh.Open()
	}
}

// handleCreateNewAIEnrichment は既存のエンリッチメントにAIによる新しいバージョンを作成するハンドラ。
func (s *Server) handleCreateNewAIEnrichment() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}
		body, ok := readJSONObject(c)
		if !ok {
			return
		}
		body["endUserIdentifier"] = user

		s.forward(c, s.newRequest(http.MethodPost, enrichmentPath(c.Param("id"), "new_ai_version"), httpclient.WithJSONBody(body)))
	}
}

// handleListEnrichments はユーザーのエンリッチメント一覧を返すハンドラ。
func (s *Server) handleListEnrichments() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}
		query := url.Values{
			"endUserIdentifier": {user},
			"withStatus":        {"true"},
			"page":              {c.DefaultQuery("page", "1")},
			"size":              {enrichmentsPageSize},
		}
		s.forward(c, s.newRequest(http.MethodGet, "/enrichments", httpclient.WithQuery(query)))
	}
}

// handleAIModelInfrastructureCombinations は利用可能なAIモデルとインフラの組み合わせを返すハンドラ。
func (s *Server) handleAIModelInfrastructureCombinations() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.forward(c, s.newRequest(http.MethodGet, "/enrichments/ai_model_infrastructure_combinations"))
	}
}

// handleDeleteEnrichment はエンリッチメントを削除するハンドラ。
func (s *Server) handleDeleteEnrichment() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, ok := s.authorize(c, id); !ok {
			return
		}
		s.forward(c, s.newRequest(http.MethodDelete, enrichmentPath(id)))
	}
}

// handleGetEnrichment はエンリッチメントを返すハンドラ。
func (s *Server) handleGetEnrichment() gin.HandlerFunc {
	return func(c *gin.Context) {
		res, ok := s.authorize(c, c.Param("id"))
		if !ok {
			return
		}
		s.render(c, res, nil)
	}
}

// handleListVersions はエンリッチメントのバージョン一覧を返すハンドラ。
func (s *Server) handleListVersions() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, ok := s.authorize(c, id); !ok {
			return
		}
		s.forward(c, s.newRequest(http.MethodGet, enrichmentPath(id, "versions")+"?withTranscript=false&order=ASC&size=50"))
	}
}

// handleCreateVersion は編集内容から新しいバージョンを作成するハンドラ。
func (s *Server) handleCreateVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, ok := s.authorize(c, id); !ok {
			return
		}

		translate := "false"
		if c.PostForm("translate") == "true" {
			translate = "true"
		}
		contentType, body := multipartBody([]formField{
			{name: "enrichmentVersionMetadata", value: c.PostForm("enrichmentVersionMetadata")},
			{name: "multipleChoiceQuestions", value: c.PostForm("multipleChoiceQuestions")},
			{name: "notes", value: c.PostForm("notes")},
			{name: "translatedNotes", value: c.PostForm("translatedNotes")},
			{name: "translate", value: translate},
		}, nil)

		s.forward(c, s.newRequest(http.MethodPost, enrichmentPath(id, "versions"), httpclient.WithBody(contentType, body)))
	}
}

// handleLatestVersion は最新のバージョンを返すハンドラ。
func (s *Server) handleLatestVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, ok := s.authorize(c, id); !ok {
			return
		}
		s.forward(c, s.newRequest(http.MethodGet, enrichmentPath(id, "versions", "latest")))
	}
}

// handleGetVersion は指定されたバージョンを返すハンドラ。
func (s *Server) handleGetVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, ok := s.authorize(c, id); !ok {
			return
		}
		s.forward(c, s.newRequest(http.MethodGet, enrichmentPath(id, "versions", c.Param("versionId"))))
	}
}

// forwardJSON は所有者を確認したうえで、リクエストボディのJSONを上流にPOSTする。
func (s *Server) forwardJSON(c *gin.Context, segments ...string) {
	id := c.Param("id")
	if _, ok := s.authorize(c, id); !ok {
		return
	}
	raw, ok := readJSONBody(c)
	if !ok {
		return
	}
	s.forward(c, s.newRequest(http.MethodPost, enrichmentPath(id, segments...), rawJSONBody(raw)))
}

// handleEvaluateVersion はバージョン全体の評価を送信するハンドラ。
func (s *Server) handleEvaluateVersion() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.forwardJSON(c, "versions", c.Param("versionId"), "evaluate")
	}
}

// handleEvaluateMCQ は多肢選択問題の評価を送信するハンドラ。
func (s *Server) handleEvaluateMCQ() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.forwardJSON(c, "versions", c.Param("versionId"), "mcq", c.Param("mcqId"))
	}
}

// handleEvaluateChoice は選択肢の評価を送信するハンドラ。
func (s *Server) handleEvaluateChoice() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.forwardJSON(c, "versions", c.Param("versionId"), "mcq", c.Param("mcqId"), "choice", c.Param("choiceId"))
	}
}

// handleDownloadTranscript は字幕ファイルをダウンロードさせるハンドラ。
// formatの既定値はsrt。
func (s *Server) handleDownloadTranscript() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if _, ok := s.authorize(c, id); !ok {
			return
		}

		format := c.DefaultQuery("format", "srt")
		query := url.Values{"format": {format}}
		if language := c.Query("language"); language != "" {
			query.Set("language", language)
		}

		s.forward(c, s.newRequest(http.MethodGet,
			enrichmentPath(id, "versions", c.Param("versionId"), "download_transcript"),
			httpclient.WithQuery(query),
			httpclient.WithHeader("Accept", "*/*"),
			httpclient.WithFallbackFilename(fmt.Sprintf("transcript.%s", format)),
		))
	}
}
