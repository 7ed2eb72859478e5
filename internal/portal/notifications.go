package portal

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/enrichment-portal/pkg/httpclient"
)

// webhookPayload は上流APIが処理完了時に送るWebhookのボディ。
type webhookPayload struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// webhookEnrichment は通知の作成に必要なエンリッチメントのフィールド。
type webhookEnrichment struct {
	EndUserIdentifier *string `json:"endUserIdentifier"`
	Media             struct {
		OriginalFileName string `json:"originalFileName"`
	} `json:"media"`
}

// statusSuccess は処理成功を表す上流のステータス。
const statusSuccess = "SUCCESS"

// handleWebhook はエンリッチメントの処理完了を受け取り、エンドユーザーへの通知を記録するハンドラ。
func (s *Server) handleWebhook() gin.HandlerFunc {
	return func(c *gin.Context) {
		var payload webhookPayload
		if err := c.ShouldBindJSON(&payload); err != nil || payload.ID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"status": "KO", "error": "idは必須です"})
			return
		}

		outcome, err := s.api.Execute(c.Request.Context(), s.newRequest(http.MethodGet, enrichmentPath(payload.ID)))
		if err != nil {
			s.render(c, nil, err)
			return
		}
		res, ok := outcome.(*httpclient.JSONResult)
		if !ok || res.Status != http.StatusOK {
			s.render(c, outcome, nil)
			return
		}

		var enrichment webhookEnrichment
		if err := res.Decode(&enrichment); err != nil {
			s.logger.Error("エンリッチメントを解釈できません", zap.String("enrichment_id", payload.ID), zap.Error(err))
			c.JSON(http.StatusBadGateway, gin.H{"status": "KO", "error": messageUpstreamFailure})
			return
		}
		if enrichment.EndUserIdentifier == nil || *enrichment.EndUserIdentifier == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"status": "KO",
				"error":  fmt.Sprintf("No endUserIdentifier found for the enrichment %s", payload.ID),
			})
			return
		}

		title, message := notificationText(enrichment.Media.OriginalFileName, payload.Status)
		n, err := s.store.CreateNotification(c.Request.Context(), Notification{
			UserIdentifier: *enrichment.EndUserIdentifier,
			EnrichmentID:   payload.ID,
			Status:         payload.Status,
			Title:          title,
			Message:        message,
		})
		if err != nil {
			s.logger.Error("通知の保存に失敗", zap.String("enrichment_id", payload.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"status": "KO", "error": messageInternal})
			return
		}

		s.logger.Info("エンリッチメントの完了通知を記録しました",
			zap.String("enrichment_id", payload.ID),
			zap.String("notification_id", n.ID),
			zap.String("status", payload.Status),
		)
		c.JSON(http.StatusOK, gin.H{"status": "OK"})
	}
}

// notificationText は通知のタイトルと本文を組み立てる。
func notificationText(originalFileName, status string) (string, string) {
	if originalFileName == "" {
		originalFileName = "メディア"
	}
	if status == statusSuccess {
		return fmt.Sprintf("%s のエンリッチメントが完了しました", originalFileName),
			"エンリッチメントの処理が正常に完了しました。ポータルから結果を確認できます。"
	}
	return fmt.Sprintf("%s のエンリッチメントに失敗しました", originalFileName),
		fmt.Sprintf("エンリッチメントの処理に失敗しました（status=%s）。", status)
}

// handleListNotifications はユーザーの通知一覧を返すハンドラ。
// unread=trueの場合は未読のみを返す。
func (s *Server) handleListNotifications() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}
		notifications, err := s.store.ListNotifications(c.Request.Context(), user, c.Query("unread") == "true")
		if err != nil {
			s.logger.Error("通知一覧の取得に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"status": "KO", "error": messageInternal})
			return
		}
		c.JSON(http.StatusOK, notifications)
	}
}

// handleMarkNotificationRead は通知を既読にするハンドラ。
func (s *Server) handleMarkNotificationRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := currentUser(c)
		if !ok {
			return
		}
		err := s.store.MarkNotificationRead(c.Request.Context(), c.Param("id"), user)
		switch {
		case errors.Is(err, ErrNotificationNotFound):
			c.JSON(http.StatusNotFound, gin.H{"status": "KO", "error": "通知が見つかりません"})
		case err != nil:
			s.logger.Error("通知の更新に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"status": "KO", "error": messageInternal})
		default:
			c.JSON(http.StatusOK, gin.H{"status": "OK"})
		}
	}
}
