package notifier

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"medsched/internal/models"
	"medsched/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupDispatcher(t *testing.T, gatewayURL string, simulate bool) (*sql.DB, sqlmock.Sqlmock, *WebhookDispatcher) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	logs := repository.NewNotificationLogRepository(db, logger)
	d := NewWebhookDispatcher(gatewayURL, 5*time.Second, 0, simulate, logs, logger)

	return db, mock, d
}

func testNotification() *models.Notification {
	return &models.Notification{
		NotificationID: "notif-1",
		RecipientID:    "patient-1",
		Channel:        models.ChannelEmail,
		Address:        "alice@example.com",
		Subject:        "Medication Reminder - Metformin",
		Message:        "Hi Alice, time to take your Metformin.",
		Type:           models.NotifyMedicationReminder,
		ScheduledAt:    time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC),
	}
}

func TestDispatch_GatewaySuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/notifications", r.URL.Path)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	db, mock, d := setupDispatcher(t, server.URL, false)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO notification_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notification_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.Dispatch(context.Background(), testNotification())

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_GatewayRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	db, mock, d := setupDispatcher(t, server.URL, false)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO notification_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notification_logs`).
		WithArgs(models.NotifyStatusFailed, "gateway returned status 502", "notif-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.Dispatch(context.Background(), testNotification())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "rejected dispatch")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_SimulationMode(t *testing.T) {
	// 未配置网关地址时的模拟投递：只落日志，不发 HTTP 请求
	db, mock, d := setupDispatcher(t, "", true)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO notification_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE notification_logs`).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := d.Dispatch(context.Background(), testNotification())

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDispatch_MissingAddress(t *testing.T) {
	db, _, d := setupDispatcher(t, "", true)
	defer db.Close()

	n := testNotification()
	n.Address = ""

	err := d.Dispatch(context.Background(), n)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "address is required")
}

func TestDispatch_LogWriteFailure(t *testing.T) {
	db, mock, d := setupDispatcher(t, "", true)
	defer db.Close()

	mock.ExpectExec(`INSERT INTO notification_logs`).
		WillReturnError(sql.ErrConnDone)

	err := d.Dispatch(context.Background(), testNotification())

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to log notification")

	require.NoError(t, mock.ExpectationsWereMet())
}
