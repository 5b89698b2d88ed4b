package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"medsched/internal/models"

	"go.uber.org/zap"
)

// DoseSlotRepository 剂量槽位仓库
// dose_slots 上的唯一约束 (prescription_id, slot_date, slot_time)
// 在存储层关闭 check-then-insert 竞态，并发生成不会产生重复槽位
type DoseSlotRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewDoseSlotRepository 创建剂量槽位仓库
func NewDoseSlotRepository(db *sql.DB, logger *zap.Logger) *DoseSlotRepository {
	return &DoseSlotRepository{
		db:     db,
		logger: logger,
	}
}

// SlotDetail 槽位及其归属上下文（用于确认和通知）
type SlotDetail struct {
	Slot           models.DoseSlot
	PatientID      string
	PatientName    string
	PatientEmail   string
	PatientPhone   *string
	ContactPref    string
	MedicationName string
	Dosage         string
	Priority       string
}

// PatientSlot 患者日程视图中的一条记录
type PatientSlot struct {
	SlotID         string           `json:"slot_id"`
	PrescriptionID string           `json:"prescription_id"`
	MedicationName string           `json:"medication_name"`
	Dosage         string           `json:"dosage"`
	SlotDate       time.Time        `json:"slot_date"`
	SlotTime       models.TimeOfDay `json:"slot_time"`
	IsTaken        bool             `json:"is_taken"`
	TakenAt        *time.Time       `json:"taken_at,omitempty"`
}

// timeOfDay 将 TIME 列扫描出的 time.Time 转成 TimeOfDay
func timeOfDay(t time.Time) models.TimeOfDay {
	return models.TimeOfDay{Hour: t.Hour(), Minute: t.Minute()}
}

// slotTimeArg TIME 列的写入参数（"HH:MM:SS"）
func slotTimeArg(t models.TimeOfDay) string {
	return t.String() + ":00"
}

// InsertDoseSlot 插入槽位，返回是否真正插入
// ON CONFLICT DO NOTHING：同一 (prescription, date, time) 已存在时不报错、
// 不覆盖，返回 false —— 生成操作的幂等性契约
func (r *DoseSlotRepository) InsertDoseSlot(ctx context.Context, slot *models.DoseSlot) (bool, error) {
	if slot == nil {
		return false, fmt.Errorf("slot is required")
	}
	if slot.SlotID == "" {
		return false, fmt.Errorf("slot_id is required")
	}
	if slot.PrescriptionID == "" {
		return false, fmt.Errorf("prescription_id is required")
	}

	query := `
		INSERT INTO dose_slots (
			slot_id,
			prescription_id,
			slot_date,
			slot_time,
			is_taken,
			notes,
			reminder_sent,
			alert_sent,
			created_at
		) VALUES (
			$1, $2, $3, $4, false, '', false, false, $5
		)
		ON CONFLICT (prescription_id, slot_date, slot_time) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		slot.SlotID,
		slot.PrescriptionID,
		models.DateOnly(slot.SlotDate),
		slotTimeArg(slot.SlotTime),
		slot.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert dose slot: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected == 1, nil
}

// GetSlotDetail 获取槽位及归属信息，不存在时返回 (nil, nil)
func (r *DoseSlotRepository) GetSlotDetail(ctx context.Context, slotID string) (*SlotDetail, error) {
	if slotID == "" {
		return nil, fmt.Errorf("slot_id is required")
	}

	query := `
		SELECT ` + slotDetailColumns + `
		FROM dose_slots ds
		JOIN prescriptions p ON ds.prescription_id = p.prescription_id
		JOIN patients pt ON p.patient_id = pt.patient_id
		JOIN medications m ON p.medication_id = m.medication_id
		WHERE ds.slot_id = $1
	`

	detail, err := scanSlotDetail(r.db.QueryRowContext(ctx, query, slotID).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get dose slot: %w", err)
	}

	return detail, nil
}

func scanSlotDetail(scan func(dest ...interface{}) error) (*SlotDetail, error) {
	var d SlotDetail
	var slotTime time.Time
	var takenAt, reminderSentAt, alertSentAt sql.NullTime
	var phone sql.NullString

	err := scan(
		&d.Slot.SlotID,
		&d.Slot.PrescriptionID,
		&d.Slot.SlotDate,
		&slotTime,
		&d.Slot.IsTaken,
		&takenAt,
		&d.Slot.Notes,
		&d.Slot.ReminderSent,
		&reminderSentAt,
		&d.Slot.AlertSent,
		&alertSentAt,
		&d.Slot.CreatedAt,
		&d.PatientID,
		&d.PatientName,
		&d.PatientEmail,
		&phone,
		&d.ContactPref,
		&d.MedicationName,
		&d.Dosage,
		&d.Priority,
	)
	if err != nil {
		return nil, err
	}

	d.Slot.SlotTime = timeOfDay(slotTime)
	if takenAt.Valid {
		d.Slot.TakenAt = &takenAt.Time
	}
	if reminderSentAt.Valid {
		d.Slot.ReminderSentAt = &reminderSentAt.Time
	}
	if alertSentAt.Valid {
		d.Slot.AlertSentAt = &alertSentAt.Time
	}
	if phone.Valid {
		d.PatientPhone = &phone.String
	}

	return &d, nil
}

// MarkTaken 标记槽位已服用
// 重复确认会重新盖时间戳而不报错（与确认操作的幂等语义一致）
func (r *DoseSlotRepository) MarkTaken(ctx context.Context, slotID string, takenAt time.Time, notes string) error {
	if slotID == "" {
		return fmt.Errorf("slot_id is required")
	}

	query := `
		UPDATE dose_slots
		SET is_taken = true,
		    taken_at = $1,
		    notes = $2
		WHERE slot_id = $3
	`

	result, err := r.db.ExecContext(ctx, query, takenAt, notes, slotID)
	if err != nil {
		return fmt.Errorf("failed to mark dose slot taken: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("dose slot not found: %s", slotID)
	}

	return nil
}

// MarkReminderSent 置位提醒已发送标记
// 只在网关投递成功后调用；失败时保持未置位，由下一轮扫描自然重试
func (r *DoseSlotRepository) MarkReminderSent(ctx context.Context, slotID string, sentAt time.Time) error {
	if slotID == "" {
		return fmt.Errorf("slot_id is required")
	}

	query := `
		UPDATE dose_slots
		SET reminder_sent = true,
		    reminder_sent_at = $1
		WHERE slot_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, sentAt, slotID)
	if err != nil {
		return fmt.Errorf("failed to mark reminder sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("dose slot not found: %s", slotID)
	}

	return nil
}

// MarkAlertSent 置位漏服告警已发送标记（与提醒标记对称）
func (r *DoseSlotRepository) MarkAlertSent(ctx context.Context, slotID string, sentAt time.Time) error {
	if slotID == "" {
		return fmt.Errorf("slot_id is required")
	}

	query := `
		UPDATE dose_slots
		SET alert_sent = true,
		    alert_sent_at = $1
		WHERE slot_id = $2
	`

	result, err := r.db.ExecContext(ctx, query, sentAt, slotID)
	if err != nil {
		return fmt.Errorf("failed to mark alert sent: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("dose slot not found: %s", slotID)
	}

	return nil
}

const slotDetailColumns = `
	ds.slot_id,
	ds.prescription_id,
	ds.slot_date,
	ds.slot_time,
	ds.is_taken,
	ds.taken_at,
	ds.notes,
	ds.reminder_sent,
	ds.reminder_sent_at,
	ds.alert_sent,
	ds.alert_sent_at,
	ds.created_at,
	p.patient_id,
	pt.display_name,
	pt.email,
	pt.phone,
	pt.contact_pref,
	m.name,
	p.dosage,
	p.priority
`

// ListReminderCandidates 获取指定日期未服用且提醒未发送的槽位
// 具体的 [now, now+lead] 时间窗口判断在扫描器中完成
func (r *DoseSlotRepository) ListReminderCandidates(ctx context.Context, date time.Time) ([]SlotDetail, error) {
	query := `
		SELECT ` + slotDetailColumns + `
		FROM dose_slots ds
		JOIN prescriptions p ON ds.prescription_id = p.prescription_id
		JOIN patients pt ON p.patient_id = pt.patient_id
		JOIN medications m ON p.medication_id = m.medication_id
		WHERE ds.slot_date = $1
		  AND ds.is_taken = false
		  AND ds.reminder_sent = false
		  AND p.is_active = true
		ORDER BY ds.slot_time
	`

	return r.querySlotDetails(ctx, query, models.DateOnly(date))
}

// ListAlertCandidates 获取指定日期未服用、告警未发送、优先级为
// high/critical 的槽位；低、中优先级的漏服从不升级为告警
func (r *DoseSlotRepository) ListAlertCandidates(ctx context.Context, date time.Time) ([]SlotDetail, error) {
	query := `
		SELECT ` + slotDetailColumns + `
		FROM dose_slots ds
		JOIN prescriptions p ON ds.prescription_id = p.prescription_id
		JOIN patients pt ON p.patient_id = pt.patient_id
		JOIN medications m ON p.medication_id = m.medication_id
		WHERE ds.slot_date = $1
		  AND ds.is_taken = false
		  AND ds.alert_sent = false
		  AND p.is_active = true
		  AND p.priority IN ($2, $3)
		ORDER BY ds.slot_time
	`

	return r.querySlotDetails(ctx, query, models.DateOnly(date), models.PriorityHigh, models.PriorityCritical)
}

func (r *DoseSlotRepository) querySlotDetails(ctx context.Context, query string, args ...interface{}) ([]SlotDetail, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query dose slots: %w", err)
	}
	defer rows.Close()

	var details []SlotDetail
	for rows.Next() {
		d, err := scanSlotDetail(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dose slot: %w", err)
		}
		details = append(details, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate dose slots: %w", err)
	}

	return details, nil
}

// ComplianceCounts 统计患者在 [start, end] 窗口内的槽位总数和已服数
// 单患者详情和病区汇总共用这一条查询，口径不允许分叉
func (r *DoseSlotRepository) ComplianceCounts(ctx context.Context, patientID string, start, end time.Time) (total, taken int, err error) {
	if patientID == "" {
		return 0, 0, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE ds.is_taken)
		FROM dose_slots ds
		JOIN prescriptions p ON ds.prescription_id = p.prescription_id
		WHERE p.patient_id = $1
		  AND ds.slot_date >= $2
		  AND ds.slot_date <= $3
	`

	err = r.db.QueryRowContext(ctx, query, patientID, models.DateOnly(start), models.DateOnly(end)).
		Scan(&total, &taken)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count compliance: %w", err)
	}

	return total, taken, nil
}

// ListPatientDay 获取患者某日的日程（按时刻排序）
func (r *DoseSlotRepository) ListPatientDay(ctx context.Context, patientID string, date time.Time) ([]PatientSlot, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT
			ds.slot_id,
			ds.prescription_id,
			m.name,
			p.dosage,
			ds.slot_date,
			ds.slot_time,
			ds.is_taken,
			ds.taken_at
		FROM dose_slots ds
		JOIN prescriptions p ON ds.prescription_id = p.prescription_id
		JOIN medications m ON p.medication_id = m.medication_id
		WHERE p.patient_id = $1
		  AND ds.slot_date = $2
		ORDER BY ds.slot_time
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, models.DateOnly(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query patient day schedule: %w", err)
	}
	defer rows.Close()

	var slots []PatientSlot
	for rows.Next() {
		var s PatientSlot
		var slotTime time.Time
		var takenAt sql.NullTime

		err := rows.Scan(
			&s.SlotID,
			&s.PrescriptionID,
			&s.MedicationName,
			&s.Dosage,
			&s.SlotDate,
			&slotTime,
			&s.IsTaken,
			&takenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patient slot: %w", err)
		}

		s.SlotTime = timeOfDay(slotTime)
		if takenAt.Valid {
			s.TakenAt = &takenAt.Time
		}
		slots = append(slots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patient slots: %w", err)
	}

	return slots, nil
}

// ListUpcoming 获取患者在 [from, to] 日期范围内未服用的槽位
func (r *DoseSlotRepository) ListUpcoming(ctx context.Context, patientID string, from, to time.Time) ([]PatientSlot, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT
			ds.slot_id,
			ds.prescription_id,
			m.name,
			p.dosage,
			ds.slot_date,
			ds.slot_time,
			ds.is_taken,
			ds.taken_at
		FROM dose_slots ds
		JOIN prescriptions p ON ds.prescription_id = p.prescription_id
		JOIN medications m ON p.medication_id = m.medication_id
		WHERE p.patient_id = $1
		  AND ds.slot_date >= $2
		  AND ds.slot_date <= $3
		  AND ds.is_taken = false
		ORDER BY ds.slot_date, ds.slot_time
	`

	rows, err := r.db.QueryContext(ctx, query, patientID, models.DateOnly(from), models.DateOnly(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query upcoming slots: %w", err)
	}
	defer rows.Close()

	var slots []PatientSlot
	for rows.Next() {
		var s PatientSlot
		var slotTime time.Time
		var takenAt sql.NullTime

		err := rows.Scan(
			&s.SlotID,
			&s.PrescriptionID,
			&s.MedicationName,
			&s.Dosage,
			&s.SlotDate,
			&slotTime,
			&s.IsTaken,
			&takenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan upcoming slot: %w", err)
		}

		s.SlotTime = timeOfDay(slotTime)
		if takenAt.Valid {
			s.TakenAt = &takenAt.Time
		}
		slots = append(slots, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate upcoming slots: %w", err)
	}

	return slots, nil
}
