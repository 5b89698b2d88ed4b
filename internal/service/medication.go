package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"medsched/internal/adherence"
	"medsched/internal/cache"
	"medsched/internal/config"
	"medsched/internal/database"
	"medsched/internal/models"
	"medsched/internal/notifier"
	"medsched/internal/report"
	"medsched/internal/repository"
	"medsched/internal/schedule"
	"medsched/internal/scheduler"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MedicationService 用药调度服务（整合各层）
// 所有依赖在构造时显式注入，不使用包级单例
type MedicationService struct {
	config      *config.Config
	db          *sql.DB
	redisClient *redis.Client
	logger      *zap.Logger
	location    *time.Location

	// 各层组件
	prescriptionRepo *repository.PrescriptionRepository
	slotRepo         *repository.DoseSlotRepository
	patientRepo      *repository.PatientRepository
	logRepo          *repository.NotificationLogRepository
	templateRepo     *repository.TemplateRepository
	scheduleCache    *cache.ScheduleCache
	generator        *schedule.Generator
	renderer         *notifier.Renderer
	dispatcher       notifier.Dispatcher
	tracker          *adherence.Tracker
	sweeper          *scheduler.Sweeper
}

// NewMedicationService 创建用药调度服务
func NewMedicationService(cfg *config.Config, logger *zap.Logger) (*MedicationService, error) {
	// 1. 连接数据库
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	// 2. 连接 Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	// 3. 解析排班时区
	location, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid scheduler timezone %q: %w", cfg.Scheduler.Timezone, err)
	}

	// 4. 创建 Repository 层
	prescriptionRepo := repository.NewPrescriptionRepository(db, logger)
	slotRepo := repository.NewDoseSlotRepository(db, logger)
	patientRepo := repository.NewPatientRepository(db, logger)
	logRepo := repository.NewNotificationLogRepository(db, logger)
	templateRepo := repository.NewTemplateRepository(db, logger)

	// 5. 创建缓存和通知组件
	scheduleCache := cache.NewScheduleCache(cfg, redisClient, logger)
	renderer := notifier.NewRenderer(templateRepo, logger)
	dispatcher := notifier.NewWebhookDispatcher(
		cfg.Notify.GatewayURL,
		time.Duration(cfg.Notify.TimeoutSec)*time.Second,
		cfg.Notify.RetryCount,
		cfg.Notify.Simulate,
		logRepo,
		logger,
	)

	// 6. 创建核心组件
	generator := schedule.NewGenerator(prescriptionRepo, slotRepo, cfg.Scheduler.HorizonDays, logger)
	tracker := adherence.NewTracker(slotRepo, scheduleCache, renderer, dispatcher, logger)
	sweeper := scheduler.NewSweeper(cfg, slotRepo, prescriptionRepo, generator, renderer, dispatcher, location, logger)

	return &MedicationService{
		config:           cfg,
		db:               db,
		redisClient:      redisClient,
		logger:           logger,
		location:         location,
		prescriptionRepo: prescriptionRepo,
		slotRepo:         slotRepo,
		patientRepo:      patientRepo,
		logRepo:          logRepo,
		templateRepo:     templateRepo,
		scheduleCache:    scheduleCache,
		generator:        generator,
		renderer:         renderer,
		dispatcher:       dispatcher,
		tracker:          tracker,
		sweeper:          sweeper,
	}, nil
}

// Start 启动周期扫描，阻塞直到上下文取消
func (s *MedicationService) Start(ctx context.Context) error {
	s.logger.Info("Starting medication service",
		zap.String("timezone", s.config.Scheduler.Timezone),
		zap.Bool("notify_simulate", s.config.Notify.Simulate),
	)
	return s.sweeper.Run(ctx)
}

// Stop 停止服务并关闭连接
func (s *MedicationService) Stop() error {
	s.logger.Info("Stopping medication service")

	if err := database.Close(s.db); err != nil {
		s.logger.Error("Failed to close database", zap.Error(err))
	}
	if err := s.redisClient.Close(); err != nil {
		s.logger.Error("Failed to close redis", zap.Error(err))
	}

	return nil
}

// ============================================
// 处方生命周期
// ============================================

// CreatePrescription 创建处方并预生成排班
// 无结束日期的处方按默认天数预生成，结果中带 HorizonCapped 标记
func (s *MedicationService) CreatePrescription(ctx context.Context, p *models.Prescription) (schedule.GenerateResult, error) {
	var result schedule.GenerateResult
	if p == nil {
		return result, fmt.Errorf("prescription is required")
	}

	// 患者必须存在且有效
	active, err := s.patientRepo.IsActivePatient(ctx, p.PatientID)
	if err != nil {
		return result, fmt.Errorf("failed to verify patient: %w", err)
	}
	if !active {
		return result, fmt.Errorf("patient not found or inactive: %s", p.PatientID)
	}

	if p.PrescriptionID == "" {
		p.PrescriptionID = uuid.New().String()
	}
	now := time.Now()
	p.CreatedAt = now
	p.UpdatedAt = now
	p.IsActive = true

	if err := s.prescriptionRepo.CreatePrescription(ctx, p); err != nil {
		return result, err
	}

	// 预生成排班：失败不回滚处方，日排班任务会补齐
	result, err = s.generator.GenerateForPrescription(ctx, p, p.StartDate, time.Time{})
	if err != nil {
		s.logger.Error("Failed to pre-generate schedule for new prescription",
			zap.String("prescription_id", p.PrescriptionID),
			zap.Error(err),
		)
		return result, nil
	}

	s.logger.Info("Prescription created",
		zap.String("prescription_id", p.PrescriptionID),
		zap.String("patient_id", p.PatientID),
		zap.String("frequency", p.Frequency),
		zap.Int("slots_created", result.Created),
		zap.Bool("horizon_capped", result.HorizonCapped),
	)

	return result, nil
}

// DiscontinuePrescription 停用处方（历史槽位保留）
func (s *MedicationService) DiscontinuePrescription(ctx context.Context, prescriptionID string) error {
	return s.prescriptionRepo.Deactivate(ctx, prescriptionID)
}

// ExtendPrescription 延长处方结束日期并补生成新增区间的排班
func (s *MedicationService) ExtendPrescription(ctx context.Context, prescriptionID string, newEndDate time.Time) (schedule.GenerateResult, error) {
	var result schedule.GenerateResult

	p, err := s.prescriptionRepo.GetPrescription(ctx, prescriptionID)
	if err != nil {
		return result, err
	}
	if p == nil {
		return result, fmt.Errorf("prescription not found: %s", prescriptionID)
	}

	if err := s.prescriptionRepo.ExtendEndDate(ctx, prescriptionID, newEndDate); err != nil {
		return result, err
	}

	end := models.DateOnly(newEndDate)
	p.EndDate = &end

	// 从原结束日期（或开始日期）起补生成；幂等插入，重叠区间无副作用
	from := p.StartDate
	return s.generator.GenerateForPrescription(ctx, p, from, end)
}

// ============================================
// 患者端操作
// ============================================

// ConfirmDose 患者确认服药
func (s *MedicationService) ConfirmDose(ctx context.Context, slotID, actorID, notes string) error {
	return s.tracker.Confirm(ctx, slotID, actorID, notes)
}

// PatientDaySchedule 获取患者某日日程（cache-aside）
func (s *MedicationService) PatientDaySchedule(ctx context.Context, patientID string, date time.Time) ([]repository.PatientSlot, error) {
	if cached, err := s.scheduleCache.GetDaySchedule(ctx, patientID, date); err != nil {
		s.logger.Warn("Schedule cache read failed, falling back to database",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	} else if cached != nil {
		return cached, nil
	}

	slots, err := s.slotRepo.ListPatientDay(ctx, patientID, date)
	if err != nil {
		return nil, err
	}

	if err := s.scheduleCache.SetDaySchedule(ctx, patientID, date, slots); err != nil {
		s.logger.Warn("Schedule cache write failed",
			zap.String("patient_id", patientID),
			zap.Error(err),
		)
	}

	return slots, nil
}

// UpcomingDoses 获取患者未来 hoursAhead 小时内未服用的槽位
func (s *MedicationService) UpcomingDoses(ctx context.Context, patientID string, hoursAhead int) ([]repository.PatientSlot, error) {
	now := time.Now().In(s.location)
	end := now.Add(time.Duration(hoursAhead) * time.Hour)

	slots, err := s.slotRepo.ListUpcoming(ctx, patientID, now, end)
	if err != nil {
		return nil, err
	}

	// 槽位按日期存储，过滤掉今天已过时刻的
	// 计划时刻必须在排班时区重建：驱动扫出的 slot_date 是 UTC 的，
	// 直接组合会让整个窗口偏移一个时区
	upcoming := make([]repository.PatientSlot, 0, len(slots))
	for _, slot := range slots {
		d := slot.SlotDate
		scheduledAt := time.Date(d.Year(), d.Month(), d.Day(),
			slot.SlotTime.Hour, slot.SlotTime.Minute, 0, 0, s.location)
		if scheduledAt.Before(now) || scheduledAt.After(end) {
			continue
		}
		upcoming = append(upcoming, slot)
	}

	return upcoming, nil
}

// ============================================
// 合规统计与报表
// ============================================

// PatientCompliance 单个患者的合规率
func (s *MedicationService) PatientCompliance(ctx context.Context, patientID string, window adherence.ComplianceWindow) (adherence.Compliance, error) {
	return s.tracker.ComplianceRate(ctx, patientID, window)
}

// WardCompliance 全部有效患者的合规汇总（与单患者口径一致）
func (s *MedicationService) WardCompliance(ctx context.Context, window adherence.ComplianceWindow) ([]adherence.Compliance, error) {
	patients, err := s.patientRepo.ListActivePatients(ctx)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(patients))
	for i, p := range patients {
		ids[i] = p.PatientID
	}

	return s.tracker.ComplianceSummary(ctx, ids, window)
}

// AdherenceReport 生成依从性报表（Excel，供外部报表系统消费）
func (s *MedicationService) AdherenceReport(ctx context.Context, window adherence.ComplianceWindow) ([]byte, error) {
	patients, err := s.patientRepo.ListActivePatients(ctx)
	if err != nil {
		return nil, err
	}

	rows := make([]report.AdherenceRow, 0, len(patients))
	for _, p := range patients {
		c, err := s.tracker.ComplianceRate(ctx, p.PatientID, window)
		if err != nil {
			s.logger.Error("Failed to compute compliance for report",
				zap.String("patient_id", p.PatientID),
				zap.Error(err),
			)
			continue
		}
		rows = append(rows, report.AdherenceRow{
			PatientName: p.DisplayName,
			Compliance:  c,
		})
	}

	return report.GenerateAdherenceExport(window, rows)
}
