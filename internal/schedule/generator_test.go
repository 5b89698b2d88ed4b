package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"medsched/internal/models"
	"medsched/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupGenerator(t *testing.T, horizonDays int) (*sql.DB, sqlmock.Sqlmock, *Generator) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	prescriptionRepo := repository.NewPrescriptionRepository(db, logger)
	slotRepo := repository.NewDoseSlotRepository(db, logger)
	gen := NewGenerator(prescriptionRepo, slotRepo, horizonDays, logger)

	return db, mock, gen
}

func testPrescription(frequency string, start time.Time, end *time.Time) *models.Prescription {
	return &models.Prescription{
		PrescriptionID: "rx-1",
		PatientID:      "patient-1",
		MedicationID:   "med-1",
		Dosage:         "500mg",
		Frequency:      frequency,
		StartDate:      start,
		EndDate:        end,
		Priority:       models.PriorityMedium,
		IsActive:       true,
	}
}

func TestGenerateForPrescription_BoundedRange(t *testing.T) {
	db, mock, gen := setupGenerator(t, 30)
	defer db.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	p := testPrescription(models.FreqTwiceDaily, start, &end)

	// 7 天 × 每日 2 次 = 14 次插入，全部新建
	for i := 0; i < 14; i++ {
		mock.ExpectExec(`INSERT INTO dose_slots`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	result, err := gen.GenerateForPrescription(context.Background(), p, start, time.Time{})

	require.NoError(t, err)
	assert.Equal(t, 14, result.Created)
	assert.False(t, result.HorizonCapped)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateForPrescription_Idempotent(t *testing.T) {
	db, mock, gen := setupGenerator(t, 30)
	defer db.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)
	p := testPrescription(models.FreqOnceDaily, start, &end)

	// 第一次：3 个槽位全部新建
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`INSERT INTO dose_slots`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	// 第二次：唯一约束冲突，影响 0 行
	for i := 0; i < 3; i++ {
		mock.ExpectExec(`INSERT INTO dose_slots`).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}

	first, err := gen.GenerateForPrescription(context.Background(), p, start, end)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Created)

	second, err := gen.GenerateForPrescription(context.Background(), p, start, end)
	require.NoError(t, err)
	assert.Equal(t, 0, second.Created)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateForPrescription_OpenEndedCapped(t *testing.T) {
	db, mock, gen := setupGenerator(t, 30)
	defer db.Close()

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	p := testPrescription(models.FreqTwiceDaily, start, nil)

	// 无结束日期：按 30 天截断，每日 2 次共 60 个槽位
	for i := 0; i < 60; i++ {
		mock.ExpectExec(`INSERT INTO dose_slots`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	result, err := gen.GenerateForPrescription(context.Background(), p, start, time.Time{})

	require.NoError(t, err)
	assert.Equal(t, 60, result.Created)
	assert.True(t, result.HorizonCapped)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateForPrescription_SkipsDaysOutsideCoverage(t *testing.T) {
	db, mock, gen := setupGenerator(t, 30)
	defer db.Close()

	start := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	p := testPrescription(models.FreqOnceDaily, start, &end)

	// 请求范围从 1/1 开始，但生成范围被钳到处方开始日期
	for i := 0; i < 2; i++ {
		mock.ExpectExec(`INSERT INTO dose_slots`).
			WillReturnResult(sqlmock.NewResult(0, 1))
	}

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	result, err := gen.GenerateForPrescription(context.Background(), p, from, end)

	require.NoError(t, err)
	assert.Equal(t, 2, result.Created)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerateForPrescription_InvalidRange(t *testing.T) {
	db, _, gen := setupGenerator(t, 30)
	defer db.Close()

	start := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 1, 12, 0, 0, 0, 0, time.UTC)
	p := testPrescription(models.FreqOnceDaily, start, &end)

	before := time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)
	_, err := gen.GenerateForPrescription(context.Background(), p, start, before)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid range")
}

func TestGenerateForDate_PrescriptionErrorIsolated(t *testing.T) {
	db, mock, gen := setupGenerator(t, 30)
	defer db.Close()

	date := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"prescription_id", "patient_id", "medication_id", "prescribing_physician",
		"dosage", "frequency", "start_date", "end_date",
		"special_instructions", "priority", "is_active", "created_by",
		"created_at", "updated_at",
	}).AddRow(
		"rx-1", "patient-1", "med-1", "Dr. Lee",
		"500mg", models.FreqOnceDaily, start, nil,
		"", models.PriorityMedium, true, "admin-1",
		time.Now(), time.Now(),
	).AddRow(
		"rx-2", "patient-2", "med-2", "Dr. Lee",
		"10mg", models.FreqOnceDaily, start, nil,
		"", models.PriorityHigh, true, "admin-1",
		time.Now(), time.Now(),
	)

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(rows)

	// 第一个处方插入失败，第二个仍然正常生成
	mock.ExpectExec(`INSERT INTO dose_slots`).
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectExec(`INSERT INTO dose_slots`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	created, err := gen.GenerateForDate(context.Background(), date)

	require.NoError(t, err)
	assert.Equal(t, 1, created)

	require.NoError(t, mock.ExpectationsWereMet())
}
