package schedule

import (
	"context"
	"fmt"
	"time"

	"medsched/internal/models"
	"medsched/internal/repository"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Generator 排班生成器
// 把处方频率展开为具体日期的剂量槽位；幂等性由 dose_slots 的
// 唯一约束保证，重复调用不会产生重复槽位
type Generator struct {
	prescriptionRepo *repository.PrescriptionRepository
	slotRepo         *repository.DoseSlotRepository
	horizonDays      int
	logger           *zap.Logger
}

// NewGenerator 创建排班生成器
// horizonDays: 无结束日期处方的默认生成天数
func NewGenerator(
	prescriptionRepo *repository.PrescriptionRepository,
	slotRepo *repository.DoseSlotRepository,
	horizonDays int,
	logger *zap.Logger,
) *Generator {
	return &Generator{
		prescriptionRepo: prescriptionRepo,
		slotRepo:         slotRepo,
		horizonDays:      horizonDays,
		logger:           logger,
	}
}

// GenerateResult 范围生成结果
type GenerateResult struct {
	Created int // 实际新建的槽位数（已存在的不计入）

	// HorizonCapped 为 true 表示处方没有结束日期，生成范围被
	// 默认天数截断，调用方应知晓排班只覆盖了部分有效期
	HorizonCapped bool
}

// GenerateForDate 为指定日期生成全部生效处方的槽位，返回新建数
// 幂等：同一日期重复调用，第二次返回 0
// 单个处方的失败只记录日志，不中断整批
func (g *Generator) GenerateForDate(ctx context.Context, date time.Time) (int, error) {
	prescriptions, err := g.prescriptionRepo.ListActiveForDate(ctx, date)
	if err != nil {
		return 0, fmt.Errorf("failed to list active prescriptions: %w", err)
	}

	created := 0
	for i := range prescriptions {
		p := &prescriptions[i]
		n, err := g.generateDay(ctx, p, date)
		if err != nil {
			g.logger.Error("Failed to generate slots for prescription",
				zap.String("prescription_id", p.PrescriptionID),
				zap.Time("date", date),
				zap.Error(err),
			)
			continue
		}
		created += n
	}

	g.logger.Info("Generated dose slots for date",
		zap.Time("date", date),
		zap.Int("prescription_count", len(prescriptions)),
		zap.Int("created", created),
	)

	return created, nil
}

// GenerateForPrescription 为单个处方在 [from, to] 范围内逐日生成槽位
// to 为零值时取处方结束日期；处方也没有结束日期时取默认天数，
// 并在结果中标记 HorizonCapped
func (g *Generator) GenerateForPrescription(ctx context.Context, p *models.Prescription, from, to time.Time) (GenerateResult, error) {
	var result GenerateResult
	if p == nil {
		return result, fmt.Errorf("prescription is required")
	}

	start := models.DateOnly(from)
	if start.Before(models.DateOnly(p.StartDate)) {
		start = models.DateOnly(p.StartDate)
	}

	end := models.DateOnly(to)
	if to.IsZero() {
		if p.EndDate != nil {
			end = models.DateOnly(*p.EndDate)
		} else {
			end = start.AddDate(0, 0, g.horizonDays-1)
			result.HorizonCapped = true
			g.logger.Warn("Prescription has no end date, capping generation horizon",
				zap.String("prescription_id", p.PrescriptionID),
				zap.Int("horizon_days", g.horizonDays),
				zap.Time("horizon_end", end),
			)
		}
	}

	if end.Before(start) {
		return result, fmt.Errorf("invalid range: end %s before start %s",
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		n, err := g.generateDay(ctx, p, day)
		if err != nil {
			return result, err
		}
		result.Created += n
	}

	g.logger.Info("Generated dose slots for prescription",
		zap.String("prescription_id", p.PrescriptionID),
		zap.Time("from", start),
		zap.Time("to", end),
		zap.Int("created", result.Created),
		zap.Bool("horizon_capped", result.HorizonCapped),
	)

	return result, nil
}

// generateDay 为处方在单日展开频率并插入槽位
func (g *Generator) generateDay(ctx context.Context, p *models.Prescription, date time.Time) (int, error) {
	if !p.CoversDate(date) {
		return 0, nil
	}

	created := 0
	for _, slotTime := range ExpandFrequency(p.Frequency) {
		slot := &models.DoseSlot{
			SlotID:         uuid.New().String(),
			PrescriptionID: p.PrescriptionID,
			SlotDate:       models.DateOnly(date),
			SlotTime:       slotTime,
			CreatedAt:      time.Now(),
		}

		inserted, err := g.slotRepo.InsertDoseSlot(ctx, slot)
		if err != nil {
			return created, fmt.Errorf("failed to insert slot %s %s: %w",
				slot.SlotDate.Format("2006-01-02"), slot.SlotTime, err)
		}
		if inserted {
			created++
		}
	}

	return created, nil
}
