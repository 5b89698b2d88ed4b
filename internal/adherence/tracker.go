package adherence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"medsched/internal/cache"
	"medsched/internal/models"
	"medsched/internal/notifier"
	"medsched/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 患者可见的失败原因，不向外泄露内部错误细节
var (
	// ErrDoseSlotNotFound 槽位不存在
	ErrDoseSlotNotFound = errors.New("dose slot not found")

	// ErrNotSlotOwner 操作者不是槽位归属患者
	ErrNotSlotOwner = errors.New("dose slot belongs to another patient")
)

// Tracker 服药依从性跟踪器
// 负责服药确认、逾期判定和合规率统计
type Tracker struct {
	slotRepo      *repository.DoseSlotRepository
	scheduleCache *cache.ScheduleCache
	renderer      *notifier.Renderer
	dispatcher    notifier.Dispatcher
	logger        *zap.Logger
}

// NewTracker 创建依从性跟踪器
func NewTracker(
	slotRepo *repository.DoseSlotRepository,
	scheduleCache *cache.ScheduleCache,
	renderer *notifier.Renderer,
	dispatcher notifier.Dispatcher,
	logger *zap.Logger,
) *Tracker {
	return &Tracker{
		slotRepo:      slotRepo,
		scheduleCache: scheduleCache,
		renderer:      renderer,
		dispatcher:    dispatcher,
		logger:        logger,
	}
}

// Confirm 患者确认服药
// 只有槽位归属患者本人可以确认；重复确认重新盖时间戳，不报错
// 成功后失效当日日程缓存，并尽力发送确认通知（失败只记日志）
func (t *Tracker) Confirm(ctx context.Context, slotID, actorID, notes string) error {
	if slotID == "" {
		return ErrDoseSlotNotFound
	}

	detail, err := t.slotRepo.GetSlotDetail(ctx, slotID)
	if err != nil {
		return fmt.Errorf("failed to load dose slot: %w", err)
	}
	if detail == nil {
		return ErrDoseSlotNotFound
	}

	if detail.PatientID != actorID {
		t.logger.Warn("Rejected confirmation from non-owner",
			zap.String("slot_id", slotID),
			zap.String("actor_id", actorID),
			zap.String("owner_id", detail.PatientID),
		)
		return ErrNotSlotOwner
	}

	takenAt := time.Now()
	if err := t.slotRepo.MarkTaken(ctx, slotID, takenAt, notes); err != nil {
		return fmt.Errorf("failed to mark dose taken: %w", err)
	}

	t.logger.Info("Dose confirmed",
		zap.String("slot_id", slotID),
		zap.String("patient_id", actorID),
		zap.Bool("reconfirmed", detail.Slot.IsTaken),
	)

	// 失效当日日程缓存，下次读取回源
	if t.scheduleCache != nil {
		if err := t.scheduleCache.InvalidateDay(ctx, actorID, detail.Slot.SlotDate); err != nil {
			t.logger.Warn("Failed to invalidate schedule cache",
				zap.String("patient_id", actorID),
				zap.Error(err),
			)
		}
	}

	// 确认通知尽力而为，失败不影响确认结果
	t.sendConfirmation(ctx, detail, takenAt)

	return nil
}

// sendConfirmation 发送服药确认通知
func (t *Tracker) sendConfirmation(ctx context.Context, detail *repository.SlotDetail, takenAt time.Time) {
	if t.renderer == nil || t.dispatcher == nil {
		return
	}

	subject, body, err := t.renderer.Render(ctx, models.NotifyGeneral, notifier.Variables{
		PatientName:    detail.PatientName,
		MedicationName: detail.MedicationName,
		Dosage:         detail.Dosage,
		Time:           takenAt,
		Message: fmt.Sprintf("Your intake of %s (%s) was recorded at %s.",
			detail.MedicationName, detail.Dosage, takenAt.Format("03:04 PM")),
	})
	if err != nil {
		t.logger.Warn("Failed to render confirmation notification", zap.Error(err))
		return
	}

	channel, address := notifier.ResolveRecipient(detail.ContactPref, detail.PatientEmail, detail.PatientPhone)
	n := &models.Notification{
		NotificationID: uuid.New().String(),
		RecipientID:    detail.PatientID,
		Channel:        channel,
		Address:        address,
		Subject:        subject,
		Message:        body,
		Type:           models.NotifyGeneral,
		ScheduledAt:    takenAt,
	}

	if err := t.dispatcher.Dispatch(ctx, n); err != nil {
		t.logger.Warn("Failed to dispatch confirmation notification",
			zap.String("slot_id", detail.Slot.SlotID),
			zap.Error(err),
		)
	}
}

// IsOverdue 判断槽位是否逾期：未服用 且 now 已过计划时刻
func (t *Tracker) IsOverdue(slot *models.DoseSlot, now time.Time) bool {
	return slot.IsOverdue(now)
}

// ComplianceWindow 合规统计窗口
type ComplianceWindow struct {
	Start time.Time
	End   time.Time
}

// Compliance 单个患者的合规统计结果
type Compliance struct {
	PatientID string  `json:"patient_id"`
	Total     int     `json:"total"`
	Taken     int     `json:"taken"`
	Rate      float64 `json:"rate"` // 百分比，总数为 0 时为 0
}

// ComplianceRate 计算患者在窗口内的合规率（百分比）
// 覆盖患者的全部处方，含已停用；窗口内无槽位时为 0，不做除零
func (t *Tracker) ComplianceRate(ctx context.Context, patientID string, window ComplianceWindow) (Compliance, error) {
	c := Compliance{PatientID: patientID}

	total, taken, err := t.slotRepo.ComplianceCounts(ctx, patientID, window.Start, window.End)
	if err != nil {
		return c, fmt.Errorf("failed to compute compliance: %w", err)
	}

	c.Total = total
	c.Taken = taken
	if total > 0 {
		c.Rate = float64(taken) / float64(total) * 100
	}

	return c, nil
}

// ComplianceSummary 病区汇总：逐患者走与单患者完全相同的统计口径
// 单个患者的统计失败记录日志后跳过，不中断整批
func (t *Tracker) ComplianceSummary(ctx context.Context, patientIDs []string, window ComplianceWindow) ([]Compliance, error) {
	summary := make([]Compliance, 0, len(patientIDs))
	for _, patientID := range patientIDs {
		c, err := t.ComplianceRate(ctx, patientID, window)
		if err != nil {
			t.logger.Error("Failed to compute compliance for patient",
				zap.String("patient_id", patientID),
				zap.Error(err),
			)
			continue
		}
		summary = append(summary, c)
	}
	return summary, nil
}
