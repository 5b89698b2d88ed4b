package scheduler

import (
	"context"
	"time"

	"medsched/internal/config"
	"medsched/internal/models"
	"medsched/internal/notifier"
	"medsched/internal/repository"
	"medsched/internal/schedule"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Sweeper 提醒/告警扫描器
// 三个相互独立的周期任务：到点提醒、漏服告警、次日排班生成；
// 每轮扫描无状态、可重入，幂等性靠槽位上的唯一约束和已发送标记，
// 单条失败只记日志，不中断整轮
type Sweeper struct {
	config           *config.Config
	slotRepo         *repository.DoseSlotRepository
	prescriptionRepo *repository.PrescriptionRepository
	generator        *schedule.Generator
	renderer         *notifier.Renderer
	dispatcher       notifier.Dispatcher
	location         *time.Location
	logger           *zap.Logger
}

// NewSweeper 创建扫描器
func NewSweeper(
	cfg *config.Config,
	slotRepo *repository.DoseSlotRepository,
	prescriptionRepo *repository.PrescriptionRepository,
	generator *schedule.Generator,
	renderer *notifier.Renderer,
	dispatcher notifier.Dispatcher,
	location *time.Location,
	logger *zap.Logger,
) *Sweeper {
	return &Sweeper{
		config:           cfg,
		slotRepo:         slotRepo,
		prescriptionRepo: prescriptionRepo,
		generator:        generator,
		renderer:         renderer,
		dispatcher:       dispatcher,
		location:         location,
		logger:           logger,
	}
}

// SendDueReminders 扫描提醒窗口内的槽位并发送服药提醒
// 窗口：计划时刻落在 [now, now+lead]；仅网关投递成功后才置位
// reminder_sent，失败的槽位留给下一轮扫描自然重试
func (s *Sweeper) SendDueReminders(ctx context.Context, now time.Time) (int, error) {
	now = now.In(s.location)
	lead := time.Duration(s.config.Scheduler.ReminderLeadMinutes) * time.Minute

	candidates, err := s.slotRepo.ListReminderCandidates(ctx, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range candidates {
		d := &candidates[i]

		scheduledAt := d.Slot.SlotTime.At(models.DateOnly(now))
		until := scheduledAt.Sub(now)
		if until < 0 || until > lead {
			continue
		}

		if err := s.dispatchForSlot(ctx, d, models.NotifyMedicationReminder, scheduledAt); err != nil {
			s.logger.Error("Failed to send reminder",
				zap.String("slot_id", d.Slot.SlotID),
				zap.Error(err),
			)
			continue
		}

		if err := s.slotRepo.MarkReminderSent(ctx, d.Slot.SlotID, now); err != nil {
			// 标记失败会导致下一轮重复提醒，记录后继续
			s.logger.Error("Failed to mark reminder sent",
				zap.String("slot_id", d.Slot.SlotID),
				zap.Error(err),
			)
			continue
		}

		sent++
	}

	s.logger.Info("Reminder sweep finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("sent", sent),
	)

	return sent, nil
}

// SendOverdueAlerts 扫描逾期超过宽限期的槽位并发送漏服告警
// 候选集已由仓库过滤到 high/critical 优先级；告警与提醒一样
// 带独立的已发送标记，重复扫描不会重复告警
func (s *Sweeper) SendOverdueAlerts(ctx context.Context, now time.Time) (int, error) {
	now = now.In(s.location)
	grace := time.Duration(s.config.Scheduler.OverdueGraceMinutes) * time.Minute

	candidates, err := s.slotRepo.ListAlertCandidates(ctx, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range candidates {
		d := &candidates[i]

		scheduledAt := d.Slot.SlotTime.At(models.DateOnly(now))
		if now.Sub(scheduledAt) <= grace {
			continue
		}

		if err := s.dispatchForSlot(ctx, d, models.NotifyMissedMedication, scheduledAt); err != nil {
			s.logger.Error("Failed to send overdue alert",
				zap.String("slot_id", d.Slot.SlotID),
				zap.Error(err),
			)
			continue
		}

		if err := s.slotRepo.MarkAlertSent(ctx, d.Slot.SlotID, now); err != nil {
			s.logger.Error("Failed to mark alert sent",
				zap.String("slot_id", d.Slot.SlotID),
				zap.Error(err),
			)
			continue
		}

		sent++
	}

	s.logger.Info("Overdue alert sweep finished",
		zap.Int("candidates", len(candidates)),
		zap.Int("sent", sent),
	)

	return sent, nil
}

// GenerateDailySchedules 为次日生成全部生效处方的槽位
func (s *Sweeper) GenerateDailySchedules(ctx context.Context, now time.Time) (int, error) {
	tomorrow := models.DateOnly(now.In(s.location)).AddDate(0, 0, 1)
	return s.generator.GenerateForDate(ctx, tomorrow)
}

// SendCompletionNotices 为结束日期已过的激活处方发送疗程完成通知
// 通知发送成功后停用处方，停用即去重：下一轮扫描不再命中
func (s *Sweeper) SendCompletionNotices(ctx context.Context, now time.Time) (int, error) {
	now = now.In(s.location)

	courses, err := s.prescriptionRepo.ListCompletedCourses(ctx, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range courses {
		c := &courses[i]

		subject, body, err := s.renderer.Render(ctx, models.NotifyTreatmentComplete, notifier.Variables{
			PatientName:    c.PatientName,
			MedicationName: c.MedicationName,
			Dosage:         c.Dosage,
			Time:           now,
		})
		if err != nil {
			s.logger.Error("Failed to render completion notice",
				zap.String("prescription_id", c.PrescriptionID),
				zap.Error(err),
			)
			continue
		}

		channel, address := notifier.ResolveRecipient(c.ContactPref, c.PatientEmail, c.PatientPhone)
		n := &models.Notification{
			NotificationID: uuid.New().String(),
			RecipientID:    c.PatientID,
			Channel:        channel,
			Address:        address,
			Subject:        subject,
			Message:        body,
			Type:           models.NotifyTreatmentComplete,
			ScheduledAt:    now,
		}

		if err := s.dispatcher.Dispatch(ctx, n); err != nil {
			s.logger.Error("Failed to send completion notice",
				zap.String("prescription_id", c.PrescriptionID),
				zap.Error(err),
			)
			continue
		}

		if err := s.prescriptionRepo.Deactivate(ctx, c.PrescriptionID); err != nil {
			s.logger.Error("Failed to deactivate completed prescription",
				zap.String("prescription_id", c.PrescriptionID),
				zap.Error(err),
			)
			continue
		}

		sent++
	}

	s.logger.Info("Completion notice sweep finished",
		zap.Int("candidates", len(courses)),
		zap.Int("sent", sent),
	)

	return sent, nil
}

// dispatchForSlot 渲染并投递槽位相关通知
func (s *Sweeper) dispatchForSlot(ctx context.Context, d *repository.SlotDetail, notificationType string, scheduledAt time.Time) error {
	subject, body, err := s.renderer.Render(ctx, notificationType, notifier.Variables{
		PatientName:    d.PatientName,
		MedicationName: d.MedicationName,
		Dosage:         d.Dosage,
		Time:           scheduledAt,
	})
	if err != nil {
		return err
	}

	channel, address := notifier.ResolveRecipient(d.ContactPref, d.PatientEmail, d.PatientPhone)
	n := &models.Notification{
		NotificationID: uuid.New().String(),
		RecipientID:    d.PatientID,
		Channel:        channel,
		Address:        address,
		Subject:        subject,
		Message:        body,
		Type:           notificationType,
		ScheduledAt:    scheduledAt,
	}

	return s.dispatcher.Dispatch(ctx, n)
}

// Run 启动三个周期任务，阻塞直到上下文取消
// 提醒默认每 5 分钟，漏服检查每小时，次日排班每 24 小时；
// 启动时先跑一次排班生成，保证服务冷启动后当天有槽位可扫
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.Info("Sweeper started",
		zap.Int("reminder_interval", s.config.Scheduler.ReminderInterval),
		zap.Int("overdue_interval", s.config.Scheduler.OverdueInterval),
		zap.Int("generate_interval", s.config.Scheduler.GenerateInterval),
	)

	// 冷启动：先生成今天的排班
	if _, err := s.generator.GenerateForDate(ctx, time.Now().In(s.location)); err != nil {
		s.logger.Error("Failed to generate schedules on startup", zap.Error(err))
	}

	reminderTicker := time.NewTicker(time.Duration(s.config.Scheduler.ReminderInterval) * time.Second)
	defer reminderTicker.Stop()
	overdueTicker := time.NewTicker(time.Duration(s.config.Scheduler.OverdueInterval) * time.Second)
	defer overdueTicker.Stop()
	generateTicker := time.NewTicker(time.Duration(s.config.Scheduler.GenerateInterval) * time.Second)
	defer generateTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Sweeper stopped")
			return nil
		case <-reminderTicker.C:
			if _, err := s.SendDueReminders(ctx, time.Now()); err != nil {
				s.logger.Error("Reminder sweep failed", zap.Error(err))
			}
		case <-overdueTicker.C:
			if _, err := s.SendOverdueAlerts(ctx, time.Now()); err != nil {
				s.logger.Error("Overdue alert sweep failed", zap.Error(err))
			}
		case <-generateTicker.C:
			if _, err := s.GenerateDailySchedules(ctx, time.Now()); err != nil {
				s.logger.Error("Daily schedule generation failed", zap.Error(err))
			}
			if _, err := s.SendCompletionNotices(ctx, time.Now()); err != nil {
				s.logger.Error("Completion notice sweep failed", zap.Error(err))
			}
		}
	}
}
