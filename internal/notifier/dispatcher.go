package notifier

import (
	"context"
	"fmt"
	"time"

	"medsched/internal/models"
	"medsched/internal/repository"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Dispatcher 通知投递接口
// 返回 nil 表示网关已接受投递；实际的 email/SMS 发送、模板化
// 渠道重试都在网关侧，本服务只关心成功与否
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.Notification) error
}

// WebhookDispatcher 通过 HTTP 网关投递通知
// 模拟模式在构造时显式声明：不调用网关，只记录日志并落投递日志，
// 用于没有网关的开发和演示环境
type WebhookDispatcher struct {
	httpClient *resty.Client
	logs       *repository.NotificationLogRepository
	simulate   bool
	logger     *zap.Logger
}

// NewWebhookDispatcher 创建通知投递器
func NewWebhookDispatcher(
	gatewayURL string,
	timeout time.Duration,
	retryCount int,
	simulate bool,
	logs *repository.NotificationLogRepository,
	logger *zap.Logger,
) *WebhookDispatcher {
	client := resty.New().
		SetBaseURL(gatewayURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(1 * time.Second).
		SetRetryMaxWaitTime(5 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")

	return &WebhookDispatcher{
		httpClient: client,
		logs:       logs,
		simulate:   simulate,
		logger:     logger,
	}
}

// Dispatch 投递一条通知
// 先落 pending 日志，按结果回写 sent/failed；失败返回错误，
// 由调用方决定重试语义（扫描器靠不置位标记自然重试）
func (d *WebhookDispatcher) Dispatch(ctx context.Context, n *models.Notification) error {
	if n == nil {
		return fmt.Errorf("notification is required")
	}
	if n.Address == "" {
		return fmt.Errorf("notification address is required")
	}

	if err := d.logs.InsertLog(ctx, n); err != nil {
		return fmt.Errorf("failed to log notification: %w", err)
	}

	if d.simulate {
		d.logger.Info("Simulated notification dispatch",
			zap.String("notification_id", n.NotificationID),
			zap.String("notification_type", n.Type),
			zap.String("channel", n.Channel),
			zap.String("address", n.Address),
		)
		return d.markSent(ctx, n)
	}

	resp, err := d.httpClient.R().
		SetContext(ctx).
		SetBody(n).
		Post("/notifications")

	if err != nil {
		d.markFailed(ctx, n, err.Error())
		return fmt.Errorf("notification gateway call failed: %w", err)
	}
	if resp.IsError() {
		reason := fmt.Sprintf("gateway returned status %d", resp.StatusCode())
		d.markFailed(ctx, n, reason)
		return fmt.Errorf("notification gateway rejected dispatch: %s", reason)
	}

	d.logger.Info("Notification dispatched",
		zap.String("notification_id", n.NotificationID),
		zap.String("notification_type", n.Type),
		zap.String("channel", n.Channel),
	)

	return d.markSent(ctx, n)
}

func (d *WebhookDispatcher) markSent(ctx context.Context, n *models.Notification) error {
	if err := d.logs.MarkSent(ctx, n.NotificationID, time.Now()); err != nil {
		// 日志回写失败不算投递失败，网关侧已经接受
		d.logger.Error("Failed to mark notification log sent",
			zap.String("notification_id", n.NotificationID),
			zap.Error(err),
		)
	}
	return nil
}

func (d *WebhookDispatcher) markFailed(ctx context.Context, n *models.Notification, reason string) {
	if err := d.logs.MarkFailed(ctx, n.NotificationID, reason); err != nil {
		d.logger.Error("Failed to mark notification log failed",
			zap.String("notification_id", n.NotificationID),
			zap.Error(err),
		)
	}
}

// ResolveRecipient 根据患者联系偏好选择投递渠道和地址
// 偏好 SMS 但没有手机号时回退到 email
func ResolveRecipient(contactPref, email string, phone *string) (channel, address string) {
	if contactPref == models.ChannelSMS && phone != nil && *phone != "" {
		return models.ChannelSMS, *phone
	}
	return models.ChannelEmail, email
}
