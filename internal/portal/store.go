package portal

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/nao1215/enrichment-portal/pkg/migration"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotificationNotFound は通知が存在しないか、別のユーザーの通知であることを表す。
var ErrNotificationNotFound = errors.New("通知が見つかりません")

// Notification はエンドユーザーへの完了通知。
type Notification struct {
	// ID は通知の一意識別子。
	ID string `json:"id"`
	// UserIdentifier は通知先のエンドユーザー識別子。
	UserIdentifier string `json:"user_identifier"`
	// EnrichmentID は対象のエンリッチメントID。
	EnrichmentID string `json:"enrichment_id"`
	// Status は上流が通知したステータス。
	Status string `json:"status"`
	// Title は通知のタイトル。
	Title string `json:"title"`
	// Message は通知メッセージ。
	Message string `json:"message"`
	// IsRead は既読状態。
	IsRead bool `json:"is_read"`
	// CreatedAt は作成日時。
	CreatedAt time.Time `json:"created_at"`
}

// Store は通知をSQLiteに保存する。
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// OpenStore はSQLiteデータベースを開き、マイグレーションを適用する。
// pathが":memory:"の場合はインメモリデータベースになる。
func OpenStore(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("データベース接続に失敗: %w", err)
	}
	if path == ":memory:" {
		// 接続ごとに別のデータベースになるため1本に固定する
		db.SetMaxOpenConns(1)
	}

	if _, err := migration.Run(ctx, db, migrationsFS, "migrations", logger); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("マイグレーションに失敗: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// Close はデータベース接続を閉じる。
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping はデータベースに問い合わせできるかどうかを確認する。
func (s *Store) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRowContext(ctx, "SELECT 1").Scan(&one)
}

// CreateNotification は通知を保存する。IDと作成日時は保存時に設定される。
func (s *Store) CreateNotification(ctx context.Context, n Notification) (Notification, error) {
	n.ID = uuid.NewString()
	n.CreatedAt = s.now().UTC()
	n.IsRead = false

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, user_identifier, enrichment_id, status, title, message, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?)`,
		n.ID, n.UserIdentifier, n.EnrichmentID, n.Status, n.Title, n.Message, n.CreatedAt,
	)
	if err != nil {
		return Notification{}, fmt.Errorf("通知の保存に失敗: %w", err)
	}
	return n, nil
}

// ListNotifications はユーザーの通知を新しい順に返す。
// unreadOnlyがtrueの場合は未読のみを返す。
func (s *Store) ListNotifications(ctx context.Context, userIdentifier string, unreadOnly bool) ([]Notification, error) {
	query := `
		SELECT id, user_identifier, enrichment_id, status, title, message, is_read, created_at
		FROM notifications
		WHERE user_identifier = ?`
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := s.db.QueryContext(ctx, query, userIdentifier)
	if err != nil {
		return nil, fmt.Errorf("通知一覧の取得に失敗: %w", err)
	}
	defer func() { _ = rows.Close() }()

	notifications := make([]Notification, 0)
	for rows.Next() {
		var n Notification
		var isRead int
		if err := rows.Scan(&n.ID, &n.UserIdentifier, &n.EnrichmentID, &n.Status, &n.Title, &n.Message, &isRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("通知の読み取りに失敗: %w", err)
		}
		n.IsRead = isRead != 0
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkNotificationRead はユーザーの通知を既読にする。
// 該当する通知がない場合はErrNotificationNotFoundを返す。
func (s *Store) MarkNotificationRead(ctx context.Context, id, userIdentifier string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_identifier = ?`,
		id, userIdentifier,
	)
	if err != nil {
		return fmt.Errorf("通知の更新に失敗: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("通知の更新結果の取得に失敗: %w", err)
	}
	if n == 0 {
		return ErrNotificationNotFound
	}
	return nil
}
