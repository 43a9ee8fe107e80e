package workers

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentflow/api/internal/config"
	"github.com/incidentflow/api/services"
)

func testNotifyConfig() config.NotifyConfig {
	return config.NotifyConfig{
		PollIntervalSeconds: 10,
		BatchSize:           50,
		MaxAttempts:         5,
	}
}

func newTestNotificationWorker(t *testing.T) (*NotificationWorker, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	// No SMTP host and no Firebase credentials: both channels are no-ops,
	// which makes delivery deterministic in tests.
	email := services.NewEmailService(config.SMTPConfig{})
	fcm := services.NewFCMService("")
	worker := NewNotificationWorker(conn, email, fcm, services.NewUserService(conn, nil), testNotifyConfig())
	return worker, mock
}

func queueColumns() []string {
	return []string{"id", "kind", "recipient", "user_id", "incident_id", "incident_title", "severity", "attempts"}
}

func TestBackoffDelay(t *testing.T) {
	assert.Equal(t, 30*time.Second, backoffDelay(1))
	assert.Equal(t, time.Minute, backoffDelay(2))
	assert.Equal(t, 2*time.Minute, backoffDelay(3))
	assert.Equal(t, 30*time.Minute, backoffDelay(10))
}

func TestClaimBatch(t *testing.T) {
	t.Run("ClaimedRowsAreRescheduled", func(t *testing.T) {
		worker, mock := newTestNotificationWorker(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, kind, recipient").
			WithArgs(50).
			WillReturnRows(sqlmock.NewRows(queueColumns()).
				AddRow("n-1", "sla_breach", "owner@example.com", testOwnerID, "inc-1", "API latency", "SEV1", 0).
				AddRow("n-2", "created", "other@example.com", nil, "inc-2", "Disk full", "SEV3", 2))
		mock.ExpectExec("UPDATE notification_queue").
			WithArgs("30 seconds", "n-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("UPDATE notification_queue").
			WithArgs("120 seconds", "n-2").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		batch, err := worker.claimBatch()
		require.NoError(t, err)
		require.Len(t, batch, 2)
		assert.Equal(t, "n-1", batch[0].ID)
		assert.Equal(t, services.NotificationKindSLABreach, batch[0].Kind)
		assert.Equal(t, "", batch[1].UserID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EmptyQueue", func(t *testing.T) {
		worker, mock := newTestNotificationWorker(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id, kind, recipient").
			WithArgs(50).
			WillReturnRows(sqlmock.NewRows(queueColumns()))
		mock.ExpectCommit()

		batch, err := worker.claimBatch()
		require.NoError(t, err)
		assert.Empty(t, batch)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeliver_SuccessRemovesRowAndLogs(t *testing.T) {
	worker, mock := newTestNotificationWorker(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM notification_queue").
		WithArgs("n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notification_logs").
		WithArgs("n-1", "sla_breach", "owner@example.com", "inc-1", "delivered", 1, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	worker.deliver(queuedNotification{
		ID:       "n-1",
		Attempts: 0,
		Notification: services.Notification{
			Kind:          services.NotificationKindSLABreach,
			Recipient:     "owner@example.com",
			IncidentID:    "inc-1",
			IncidentTitle: "API latency",
			Severity:      "SEV1",
		},
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDrainOnce_DeliversClaimedBatch(t *testing.T) {
	worker, mock := newTestNotificationWorker(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, kind, recipient").
		WithArgs(50).
		WillReturnRows(sqlmock.NewRows(queueColumns()).
			AddRow("n-1", "created", "owner@example.com", nil, "inc-1", "API latency", "SEV2", 0))
	mock.ExpectExec("UPDATE notification_queue").
		WithArgs("30 seconds", "n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM notification_queue").
		WithArgs("n-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO notification_logs").
		WithArgs("n-1", "created", "owner@example.com", "inc-1", "delivered", 1, nil).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := worker.DrainOnce()
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
