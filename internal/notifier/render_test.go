package notifier

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

func testVars() Variables {
	return Variables{
		PatientName:    "Alice Smith",
		MedicationName: "Metformin",
		Dosage:         "500mg",
		Time:           time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}
}

func TestRender_DefaultReminder(t *testing.T) {
	r := NewRenderer(nil, zap.NewNop())

	subject, body, err := r.Render(context.Background(), models.NotifyMedicationReminder, testVars())

	require.NoError(t, err)
	assert.Equal(t, "Medication Reminder - Metformin", subject)
	assert.Equal(t, "Hi Alice Smith, time to take your Metformin (500mg). Scheduled for 09:00 AM.", body)
}

func TestRender_DefaultMissed(t *testing.T) {
	r := NewRenderer(nil, zap.NewNop())

	subject, body, err := r.Render(context.Background(), models.NotifyMissedMedication, testVars())

	require.NoError(t, err)
	assert.Equal(t, "Missed Medication Alert - Metformin", subject)
	assert.Contains(t, body, "missed your Metformin")
	assert.Contains(t, body, "09:00 AM")
}

func TestRender_GeneralWithMessage(t *testing.T) {
	r := NewRenderer(nil, zap.NewNop())

	vars := testVars()
	vars.Message = "Please schedule a follow-up visit."

	_, body, err := r.Render(context.Background(), models.NotifyGeneral, vars)

	require.NoError(t, err)
	assert.Equal(t, "Hello Alice Smith, this is a message from your healthcare provider: Please schedule a follow-up visit.", body)
}

func TestRender_UnknownType(t *testing.T) {
	r := NewRenderer(nil, zap.NewNop())

	_, _, err := r.Render(context.Background(), "carrier_pigeon", testVars())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown notification type")
}

func TestRender_DatabaseTemplatePreferred(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := zap.NewNop()
	templates := repository.NewTemplateRepository(db, logger)
	r := NewRenderer(templates, logger)

	rows := sqlmock.NewRows([]string{
		"template_id", "name", "notification_type", "template", "is_active", "created_at",
	}).AddRow(
		"tpl-1", "ward-reminder", models.NotifyMedicationReminder,
		"{patient_name}: {medication_name} {dosage} due at {time}",
		true, time.Now(),
	)

	mock.ExpectQuery(`SELECT`).
		WithArgs(models.NotifyMedicationReminder).
		WillReturnRows(rows)

	_, body, err := r.Render(context.Background(), models.NotifyMedicationReminder, testVars())

	require.NoError(t, err)
	assert.Equal(t, "Alice Smith: Metformin 500mg due at 09:00 AM", body)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRender_TemplateLookupFailureFallsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := zap.NewNop()
	templates := repository.NewTemplateRepository(db, logger)
	r := NewRenderer(templates, logger)

	mock.ExpectQuery(`SELECT`).
		WillReturnError(sql.ErrConnDone)

	_, body, err := r.Render(context.Background(), models.NotifyMedicationReminder, testVars())

	require.NoError(t, err)
	assert.Contains(t, body, "time to take your Metformin")
}

func TestRender_NoActiveTemplateFallsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	logger := zap.NewNop()
	templates := repository.NewTemplateRepository(db, logger)
	r := NewRenderer(templates, logger)

	mock.ExpectQuery(`SELECT`).
		WillReturnError(sql.ErrNoRows)

	_, body, err := r.Render(context.Background(), models.NotifyTreatmentComplete, testVars())

	require.NoError(t, err)
	assert.Equal(t, "Congratulations Alice Smith! You have completed your treatment course for Metformin.", body)
}

func TestResolveRecipient(t *testing.T) {
	phone := "+15550100"
	empty := ""

	channel, address := ResolveRecipient(models.ChannelSMS, "a@example.com", &phone)
	assert.Equal(t, models.ChannelSMS, channel)
	assert.Equal(t, phone, address)

	// 偏好 SMS 但没有手机号：回退 email
	channel, address = ResolveRecipient(models.ChannelSMS, "a@example.com", nil)
	assert.Equal(t, models.ChannelEmail, channel)
	assert.Equal(t, "a@example.com", address)

	channel, address = ResolveRecipient(models.ChannelSMS, "a@example.com", &empty)
	assert.Equal(t, models.ChannelEmail, channel)

	channel, address = ResolveRecipient(models.ChannelEmail, "a@example.com", &phone)
	assert.Equal(t, models.ChannelEmail, channel)
	assert.Equal(t, "a@example.com", address)
}
