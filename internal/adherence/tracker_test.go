package adherence

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"medsched/internal/models"
	"medsched/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTracker(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *Tracker) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	slotRepo := repository.NewDoseSlotRepository(db, logger)
	tracker := NewTracker(slotRepo, nil, nil, nil, logger)

	return db, mock, tracker
}

func slotDetailRows(slotID, patientID string, isTaken bool) *sqlmock.Rows {
	slotDate := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	slotTime := time.Date(0, 1, 1, 9, 0, 0, 0, time.UTC)

	return sqlmock.NewRows([]string{
		"slot_id", "prescription_id", "slot_date", "slot_time",
		"is_taken", "taken_at", "notes",
		"reminder_sent", "reminder_sent_at", "alert_sent", "alert_sent_at",
		"created_at",
		"patient_id", "display_name", "email", "phone", "contact_pref",
		"name", "dosage", "priority",
	}).AddRow(
		slotID, "rx-1", slotDate, slotTime,
		isTaken, nil, "",
		false, nil, false, nil,
		time.Now(),
		patientID, "Alice Smith", "alice@example.com", nil, "email",
		"Metformin", "500mg", models.PriorityMedium,
	)
}

func TestConfirm_Success(t *testing.T) {
	db, mock, tracker := setupTracker(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("slot-1").
		WillReturnRows(slotDetailRows("slot-1", "patient-1", false))
	mock.ExpectExec(`UPDATE dose_slots`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := tracker.Confirm(context.Background(), "slot-1", "patient-1", "with food")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_NotOwner(t *testing.T) {
	db, mock, tracker := setupTracker(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("slot-1").
		WillReturnRows(slotDetailRows("slot-1", "patient-1", false))

	err := tracker.Confirm(context.Background(), "slot-1", "patient-2", "")

	assert.ErrorIs(t, err, ErrNotSlotOwner)
	// 归属校验失败时不允许有任何写入
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_NotFound(t *testing.T) {
	db, mock, tracker := setupTracker(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	err := tracker.Confirm(context.Background(), "missing", "patient-1", "")

	assert.ErrorIs(t, err, ErrDoseSlotNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestConfirm_EmptySlotID(t *testing.T) {
	db, _, tracker := setupTracker(t)
	defer db.Close()

	err := tracker.Confirm(context.Background(), "", "patient-1", "")

	assert.ErrorIs(t, err, ErrDoseSlotNotFound)
}

func TestConfirm_Reconfirm(t *testing.T) {
	db, mock, tracker := setupTracker(t)
	defer db.Close()

	// 已服用的槽位重复确认：重新盖时间戳，不报错
	mock.ExpectQuery(`SELECT`).
		WithArgs("slot-1").
		WillReturnRows(slotDetailRows("slot-1", "patient-1", true))
	mock.ExpectExec(`UPDATE dose_slots`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := tracker.Confirm(context.Background(), "slot-1", "patient-1", "")

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsOverdue(t *testing.T) {
	tracker := &Tracker{}

	slot := &models.DoseSlot{
		SlotDate: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
		SlotTime: models.TimeOfDay{Hour: 9, Minute: 0},
	}

	before := time.Date(2024, 1, 15, 8, 59, 0, 0, time.UTC)
	after := time.Date(2024, 1, 15, 9, 1, 0, 0, time.UTC)

	assert.False(t, tracker.IsOverdue(slot, before))
	assert.True(t, tracker.IsOverdue(slot, after))

	slot.IsTaken = true
	assert.False(t, tracker.IsOverdue(slot, after))
}

func TestComplianceRate_Normal(t *testing.T) {
	db, mock, tracker := setupTracker(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count"}).AddRow(10, 7))

	window := ComplianceWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}

	c, err := tracker.ComplianceRate(context.Background(), "patient-1", window)

	require.NoError(t, err)
	assert.Equal(t, "patient-1", c.PatientID)
	assert.Equal(t, 10, c.Total)
	assert.Equal(t, 7, c.Taken)
	assert.InDelta(t, 70.0, c.Rate, 0.001)
}

func TestComplianceRate_NoSlots(t *testing.T) {
	db, mock, tracker := setupTracker(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count"}).AddRow(0, 0))

	window := ComplianceWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}

	c, err := tracker.ComplianceRate(context.Background(), "patient-1", window)

	require.NoError(t, err)
	assert.Equal(t, 0, c.Total)
	assert.Equal(t, 0.0, c.Rate)
}

func TestComplianceSummary_SkipsFailedPatient(t *testing.T) {
	db, mock, tracker := setupTracker(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count"}).AddRow(4, 4))
	mock.ExpectQuery(`SELECT`).
		WillReturnError(sql.ErrConnDone)
	mock.ExpectQuery(`SELECT`).
		WillReturnRows(sqlmock.NewRows([]string{"count", "count"}).AddRow(5, 1))

	window := ComplianceWindow{
		Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
	}

	summary, err := tracker.ComplianceSummary(context.Background(),
		[]string{"patient-1", "patient-2", "patient-3"}, window)

	require.NoError(t, err)
	require.Len(t, summary, 2)
	assert.Equal(t, "patient-1", summary[0].PatientID)
	assert.InDelta(t, 100.0, summary[0].Rate, 0.001)
	assert.Equal(t, "patient-3", summary[1].PatientID)
	assert.InDelta(t, 20.0, summary[1].Rate, 0.001)

	require.NoError(t, mock.ExpectationsWereMet())
}
