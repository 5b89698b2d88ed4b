package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"medsched/internal/models"

	"go.uber.org/zap"
)

// NotificationLogRepository 通知投递日志仓库
// 每次投递尝试先落一条 pending 日志，结果回写 sent/failed
type NotificationLogRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewNotificationLogRepository 创建通知日志仓库
func NewNotificationLogRepository(db *sql.DB, logger *zap.Logger) *NotificationLogRepository {
	return &NotificationLogRepository{
		db:     db,
		logger: logger,
	}
}

// InsertLog 写入一条 pending 状态的投递日志
func (r *NotificationLogRepository) InsertLog(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}
	if n.NotificationID == "" {
		return fmt.Errorf("notification_id is required")
	}

	query := `
		INSERT INTO notification_logs (
			notification_id,
			recipient_id,
			channel,
			address,
			subject,
			message,
			notification_type,
			status,
			scheduled_at,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err := r.db.ExecContext(ctx, query,
		n.NotificationID,
		n.RecipientID,
		n.Channel,
		n.Address,
		n.Subject,
		n.Message,
		n.Type,
		models.NotifyStatusPending,
		n.ScheduledAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}

	return nil
}

// MarkSent 回写投递成功
func (r *NotificationLogRepository) MarkSent(ctx context.Context, notificationID string, sentAt time.Time) error {
	if notificationID == "" {
		return fmt.Errorf("notification_id is required")
	}

	query := `
		UPDATE notification_logs
		SET status = $1,
		    sent_at = $2
		WHERE notification_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, models.NotifyStatusSent, sentAt, notificationID)
	if err != nil {
		return fmt.Errorf("failed to mark notification sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification log not found: %s", notificationID)
	}

	return nil
}

// MarkFailed 回写投递失败及错误信息
func (r *NotificationLogRepository) MarkFailed(ctx context.Context, notificationID string, errorMessage string) error {
	if notificationID == "" {
		return fmt.Errorf("notification_id is required")
	}

	query := `
		UPDATE notification_logs
		SET status = $1,
		    error_message = $2
		WHERE notification_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, models.NotifyStatusFailed, errorMessage, notificationID)
	if err != nil {
		return fmt.Errorf("failed to mark notification failed: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("notification log not found: %s", notificationID)
	}

	return nil
}

// TemplateRepository 通知模板仓库
type TemplateRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewTemplateRepository 创建通知模板仓库
func NewTemplateRepository(db *sql.DB, logger *zap.Logger) *TemplateRepository {
	return &TemplateRepository{
		db:     db,
		logger: logger,
	}
}

// GetActiveTemplate 按类型获取激活的模板，没有时返回 (nil, nil)
// 调用方在 nil 时回退到内置默认文案
func (r *TemplateRepository) GetActiveTemplate(ctx context.Context, notificationType string) (*models.NotificationTemplate, error) {
	if notificationType == "" {
		return nil, fmt.Errorf("notification_type is required")
	}

	query := `
		SELECT
			template_id,
			name,
			notification_type,
			template,
			is_active,
			created_at
		FROM notification_templates
		WHERE notification_type = $1
		  AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1
	`

	var t models.NotificationTemplate
	err := r.db.QueryRowContext(ctx, query, notificationType).Scan(
		&t.TemplateID,
		&t.Name,
		&t.Type,
		&t.Template,
		&t.IsActive,
		&t.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get notification template: %w", err)
	}

	return &t, nil
}
