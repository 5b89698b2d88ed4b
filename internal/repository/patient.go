package repository

import (
	"context"
	"database/sql"
	"fmt"

	"medsched/internal/models"

	"go.uber.org/zap"
)

// PatientRepository 患者仓库（身份服务投影，只读）
// 患者账号的创建和维护属于外部身份服务，本库只消费
type PatientRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPatientRepository 创建患者仓库
func NewPatientRepository(db *sql.DB, logger *zap.Logger) *PatientRepository {
	return &PatientRepository{
		db:     db,
		logger: logger,
	}
}

// GetPatient 根据 patient_id 获取患者，不存在时返回 (nil, nil)
func (r *PatientRepository) GetPatient(ctx context.Context, patientID string) (*models.Patient, error) {
	if patientID == "" {
		return nil, fmt.Errorf("patient_id is required")
	}

	query := `
		SELECT
			patient_id,
			display_name,
			email,
			phone,
			contact_pref,
			is_active
		FROM patients
		WHERE patient_id = $1
	`

	var p models.Patient
	var phone sql.NullString

	err := r.db.QueryRowContext(ctx, query, patientID).Scan(
		&p.PatientID,
		&p.DisplayName,
		&p.Email,
		&phone,
		&p.ContactPref,
		&p.IsActive,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get patient: %w", err)
	}

	if phone.Valid {
		p.Phone = &phone.String
	}

	return &p, nil
}

// IsActivePatient 判断是否为有效患者
func (r *PatientRepository) IsActivePatient(ctx context.Context, patientID string) (bool, error) {
	p, err := r.GetPatient(ctx, patientID)
	if err != nil {
		return false, err
	}
	return p != nil && p.IsActive, nil
}

// ListActivePatients 获取全部有效患者（用于病区合规汇总）
func (r *PatientRepository) ListActivePatients(ctx context.Context) ([]models.Patient, error) {
	query := `
		SELECT
			patient_id,
			display_name,
			email,
			phone,
			contact_pref,
			is_active
		FROM patients
		WHERE is_active = true
		ORDER BY display_name
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query patients: %w", err)
	}
	defer rows.Close()

	var patients []models.Patient
	for rows.Next() {
		var p models.Patient
		var phone sql.NullString

		err := rows.Scan(
			&p.PatientID,
			&p.DisplayName,
			&p.Email,
			&phone,
			&p.ContactPref,
			&p.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan patient: %w", err)
		}

		if phone.Valid {
			p.Phone = &phone.String
		}
		patients = append(patients, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate patients: %w", err)
	}

	return patients, nil
}
