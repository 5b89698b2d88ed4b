package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"medsched/internal/models"

	"go.uber.org/zap"
)

// PrescriptionRepository 处方仓库
type PrescriptionRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPrescriptionRepository 创建处方仓库
func NewPrescriptionRepository(db *sql.DB, logger *zap.Logger) *PrescriptionRepository {
	return &PrescriptionRepository{
		db:     db,
		logger: logger,
	}
}

const prescriptionColumns = `
	prescription_id,
	patient_id,
	medication_id,
	prescribing_physician,
	dosage,
	frequency,
	start_date,
	end_date,
	special_instructions,
	priority,
	is_active,
	created_by,
	created_at,
	updated_at
`

func scanPrescription(scan func(dest ...interface{}) error) (*models.Prescription, error) {
	var p models.Prescription
	var endDate sql.NullTime

	err := scan(
		&p.PrescriptionID,
		&p.PatientID,
		&p.MedicationID,
		&p.PrescribingPhysician,
		&p.Dosage,
		&p.Frequency,
		&p.StartDate,
		&endDate,
		&p.SpecialInstructions,
		&p.Priority,
		&p.IsActive,
		&p.CreatedBy,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if endDate.Valid {
		p.EndDate = &endDate.Time
	}

	return &p, nil
}

// GetPrescription 根据 prescription_id 获取处方，不存在时返回 (nil, nil)
func (r *PrescriptionRepository) GetPrescription(ctx context.Context, prescriptionID string) (*models.Prescription, error) {
	if prescriptionID == "" {
		return nil, fmt.Errorf("prescription_id is required")
	}

	query := `
		SELECT ` + prescriptionColumns + `
		FROM prescriptions
		WHERE prescription_id = $1
	`

	p, err := scanPrescription(r.db.QueryRowContext(ctx, query, prescriptionID).Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get prescription: %w", err)
	}

	return p, nil
}

// ListActiveForDate 获取在指定日期生效的全部处方
// 条件：is_active 且 start_date <= date 且 (end_date IS NULL 或 end_date >= date)
func (r *PrescriptionRepository) ListActiveForDate(ctx context.Context, date time.Time) ([]models.Prescription, error) {
	query := `
		SELECT ` + prescriptionColumns + `
		FROM prescriptions
		WHERE is_active = true
		  AND start_date <= $1
		  AND (end_date IS NULL OR end_date >= $1)
		ORDER BY prescription_id
	`

	rows, err := r.db.QueryContext(ctx, query, models.DateOnly(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query active prescriptions: %w", err)
	}
	defer rows.Close()

	var prescriptions []models.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prescription: %w", err)
		}
		prescriptions = append(prescriptions, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prescriptions: %w", err)
	}

	return prescriptions, nil
}

// ListForPatient 获取患者的处方（含已停用，用于合规统计和历史视图）
func (r *PrescriptionRepository) ListForPatient(ctx context.Context, patientID string) ([]models.Prescription, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT ` + prescriptionColumns + `
		FROM prescriptions
		WHERE patient_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, patientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query patient prescriptions: %w", err)
	}
	defer rows.Close()

	var prescriptions []models.Prescription
	for rows.Next() {
		p, err := scanPrescription(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prescription: %w", err)
		}
		prescriptions = append(prescriptions, *p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate prescriptions: %w", err)
	}

	return prescriptions, nil
}

// CreatePrescription 创建处方
func (r *PrescriptionRepository) CreatePrescription(ctx context.Context, p *models.Prescription) error {
	if p == nil {
		return fmt.Errorf("prescription is required")
	}
	if p.PrescriptionID == "" {
		return fmt.Errorf("prescription_id is required")
	}
	if p.PatientID == "" {
		return fmt.Errorf("patient_id is required")
	}
	if p.MedicationID == "" {
		return fmt.Errorf("medication_id is required")
	}
	if p.StartDate.IsZero() {
		return fmt.Errorf("start_date is required")
	}
	if p.Priority == "" {
		p.Priority = models.PriorityMedium
	}

	query := `
		INSERT INTO prescriptions (
			prescription_id,
			patient_id,
			medication_id,
			prescribing_physician,
			dosage,
			frequency,
			start_date,
			end_date,
			special_instructions,
			priority,
			is_active,
			created_by,
			created_at,
			updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14
		)
	`

	var endDate interface{}
	if p.EndDate != nil {
		endDate = models.DateOnly(*p.EndDate)
	}

	_, err := r.db.ExecContext(ctx, query,
		p.PrescriptionID,
		p.PatientID,
		p.MedicationID,
		p.PrescribingPhysician,
		p.Dosage,
		p.Frequency,
		models.DateOnly(p.StartDate),
		endDate,
		p.SpecialInstructions,
		p.Priority,
		p.IsActive,
		p.CreatedBy,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create prescription: %w", err)
	}

	return nil
}

// CompletedCourse 疗程结束待通知的处方视图
type CompletedCourse struct {
	PrescriptionID string
	PatientID      string
	PatientName    string
	PatientEmail   string
	PatientPhone   *string
	ContactPref    string
	MedicationName string
	Dosage         string
}

// ListCompletedCourses 获取结束日期已过但仍为激活状态的处方
// 调用方发送疗程完成通知后停用处方，停用即去重标记
func (r *PrescriptionRepository) ListCompletedCourses(ctx context.Context, date time.Time) ([]CompletedCourse, error) {
	query := `
		SELECT
			p.prescription_id,
			p.patient_id,
			pt.display_name,
			pt.email,
			pt.phone,
			pt.contact_pref,
			m.name,
			p.dosage
		FROM prescriptions p
		JOIN patients pt ON p.patient_id = pt.patient_id
		JOIN medications m ON p.medication_id = m.medication_id
		WHERE p.is_active = true
		  AND p.end_date IS NOT NULL
		  AND p.end_date < $1
		ORDER BY p.prescription_id
	`

	rows, err := r.db.QueryContext(ctx, query, models.DateOnly(date))
	if err != nil {
		return nil, fmt.Errorf("failed to query completed courses: %w", err)
	}
	defer rows.Close()

	var courses []CompletedCourse
	for rows.Next() {
		var c CompletedCourse
		var phone sql.NullString
		err := rows.Scan(
			&c.PrescriptionID,
			&c.PatientID,
			&c.PatientName,
			&c.PatientEmail,
			&phone,
			&c.ContactPref,
			&c.MedicationName,
			&c.Dosage,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan completed course: %w", err)
		}
		if phone.Valid {
			c.PatientPhone = &phone.String
		}
		courses = append(courses, c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate completed courses: %w", err)
	}

	return courses, nil
}

// Deactivate 停用处方（停药走停用，不删除，槽位历史保留）
func (r *PrescriptionRepository) Deactivate(ctx context.Context, prescriptionID string) error {
	if prescriptionID == "" {
		return fmt.Errorf("prescription_id is required")
	}

	query := `
		UPDATE prescriptions
		SET is_active = false,
		    updated_at = CURRENT_TIMESTAMP
		WHERE prescription_id = $1
		  AND is_active = true
	`

	result, err := r.db.ExecContext(ctx, query, prescriptionID)
	if err != nil {
		return fmt.Errorf("failed to deactivate prescription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("prescription not found or already inactive: %s", prescriptionID)
	}

	return nil
}

// ExtendEndDate 延长处方结束日期
// 处方一旦生成过槽位即不可变，延长结束日期是唯一允许的日期修改
func (r *PrescriptionRepository) ExtendEndDate(ctx context.Context, prescriptionID string, newEndDate time.Time) error {
	if prescriptionID == "" {
		return fmt.Errorf("prescription_id is required")
	}

	query := `
		UPDATE prescriptions
		SET end_date = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE prescription_id = $2
		  AND (end_date IS NULL OR end_date < $1)
	`

	result, err := r.db.ExecContext(ctx, query, models.DateOnly(newEndDate), prescriptionID)
	if err != nil {
		return fmt.Errorf("failed to extend prescription end date: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("prescription not found or end date not extended: %s", prescriptionID)
	}

	return nil
}
