package workers

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentflow/api/db"
	"github.com/incidentflow/api/internal/config"
	"github.com/incidentflow/api/services"
)

const (
	testOrgID   = "11111111-1111-1111-1111-111111111111"
	testOwnerID = "33333333-3333-3333-3333-333333333333"
	testAdminID = "55555555-5555-5555-5555-555555555555"
)

type recordingSender struct {
	sent []services.Notification
}

func (r *recordingSender) Send(n services.Notification) error {
	r.sent = append(r.sent, n)
	return nil
}

func testSLAConfig() config.SLAConfig {
	return config.SLAConfig{
		ScanIntervalSeconds: 60,
		Sev1Minutes:         60,
		Sev2Minutes:         120,
		Sev3Minutes:         240,
		Sev4Minutes:         1440,
	}
}

func newTestSLAWorker(t *testing.T) (*SLAWorker, sqlmock.Sqlmock, *recordingSender) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	sender := &recordingSender{}
	worker := NewSLAWorker(conn, nil, services.NewUserService(conn, nil), sender, testSLAConfig())
	return worker, mock, sender
}

func candidateColumns() []string {
	return []string{"id", "title", "severity", "owner_id", "organization_id", "created_at"}
}

func userColumns() []string {
	return []string{"id", "email", "full_name", "role", "phone_number", "fcm_token", "organization_id", "created_at"}
}

func TestSLAThresholds(t *testing.T) {
	cfg := testSLAConfig()
	assert.Equal(t, 60*time.Minute, cfg.Threshold(db.SeveritySev1))
	assert.Equal(t, 120*time.Minute, cfg.Threshold(db.SeveritySev2))
	assert.Equal(t, 4*time.Hour, cfg.Threshold(db.SeveritySev3))
	assert.Equal(t, 24*time.Hour, cfg.Threshold(db.SeveritySev4))
	// Unknown severities fall into the most lenient tier.
	assert.Equal(t, 24*time.Hour, cfg.Threshold("SEV9"))
}

func TestMarkBreaches(t *testing.T) {
	t.Run("ExpiredIncidentEscalatesWithAuditEvent", func(t *testing.T) {
		worker, mock, _ := newTestSLAWorker(t)
		now := time.Now().UTC()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT i.id, i.title, i.severity").
			WillReturnRows(sqlmock.NewRows(candidateColumns()).
				AddRow("inc-old", "API latency", "SEV1", testOwnerID, testOrgID, now.Add(-2*time.Hour)))
		// The status flip and the breach event commit together. The event
		// records the transition endpoints and names the threshold.
		mock.ExpectExec("UPDATE incidents SET status").
			WithArgs("ESCALATED", "inc-old", testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO incident_events").
			WithArgs(sqlmock.AnyArg(), "inc-old", "SLA_BREACH", "DETECTED", "ESCALATED",
				"Auto-escalated: no acknowledgement within 60 minutes (SEV1)", testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		breaches, err := worker.markBreaches()
		require.NoError(t, err)
		require.Len(t, breaches, 1)
		assert.Equal(t, "inc-old", breaches[0].ID)
		assert.Equal(t, db.SeveritySev1, breaches[0].Severity)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("OnlyExpiredIncidentsBreach", func(t *testing.T) {
		worker, mock, _ := newTestSLAWorker(t)
		now := time.Now().UTC()

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT i.id, i.title, i.severity").
			WillReturnRows(sqlmock.NewRows(candidateColumns()).
				AddRow("inc-old", "API latency", "SEV1", testOwnerID, testOrgID, now.Add(-90*time.Minute)).
				AddRow("inc-fresh", "Disk warning", "SEV4", testOwnerID, testOrgID, now.Add(-90*time.Minute)))
		// Only the SEV1 incident is past its 60 minute deadline; the SEV4
		// one has 24 hours and must be left alone.
		mock.ExpectExec("UPDATE incidents SET status").
			WithArgs("ESCALATED", "inc-old", testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO incident_events").
			WithArgs(sqlmock.AnyArg(), "inc-old", "SLA_BREACH", "DETECTED", "ESCALATED",
				sqlmock.AnyArg(), testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		breaches, err := worker.markBreaches()
		require.NoError(t, err)
		require.Len(t, breaches, 1)
		assert.Equal(t, "inc-old", breaches[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("NoCandidatesNoEvents", func(t *testing.T) {
		worker, mock, _ := newTestSLAWorker(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT i.id, i.title, i.severity").
			WillReturnRows(sqlmock.NewRows(candidateColumns()))
		mock.ExpectCommit()

		breaches, err := worker.markBreaches()
		require.NoError(t, err)
		assert.Empty(t, breaches)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestNotifyBreach(t *testing.T) {
	t.Run("OwnerAndAdminsDeduplicated", func(t *testing.T) {
		worker, mock, sender := newTestSLAWorker(t)
		now := time.Now()

		// Owner lookup.
		mock.ExpectQuery("SELECT id, email, full_name").
			WithArgs(testOwnerID, testOrgID).
			WillReturnRows(sqlmock.NewRows(userColumns()).
				AddRow(testOwnerID, "owner@example.com", "Owner", "ADMIN", nil, nil, testOrgID, now))
		// Admin listing includes the owner again plus one more admin.
		mock.ExpectQuery("SELECT id, email, full_name").
			WithArgs(testOrgID, "ADMIN").
			WillReturnRows(sqlmock.NewRows(userColumns()).
				AddRow(testAdminID, "admin@example.com", "Admin", "ADMIN", nil, nil, testOrgID, now).
				AddRow(testOwnerID, "owner@example.com", "Owner", "ADMIN", nil, nil, testOrgID, now))

		worker.notifyBreach(breachedIncident{
			ID:             "inc-1",
			Title:          "API latency",
			Severity:       db.SeveritySev1,
			OwnerID:        testOwnerID,
			OrganizationID: testOrgID,
		})

		require.Len(t, sender.sent, 2)
		recipients := map[string]bool{}
		for _, n := range sender.sent {
			assert.Equal(t, services.NotificationKindSLABreach, n.Kind)
			assert.Equal(t, "inc-1", n.IncidentID)
			recipients[n.Recipient] = true
		}
		assert.True(t, recipients["owner@example.com"])
		assert.True(t, recipients["admin@example.com"])
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UnownedIncidentStillNotifiesAdmins", func(t *testing.T) {
		worker, mock, sender := newTestSLAWorker(t)
		now := time.Now()

		mock.ExpectQuery("SELECT id, email, full_name").
			WithArgs(testOrgID, "ADMIN").
			WillReturnRows(sqlmock.NewRows(userColumns()).
				AddRow(testAdminID, "admin@example.com", "Admin", "ADMIN", nil, nil, testOrgID, now))

		worker.notifyBreach(breachedIncident{
			ID:             "inc-2",
			Title:          "Queue backlog",
			Severity:       db.SeveritySev2,
			OrganizationID: testOrgID,
		})

		require.Len(t, sender.sent, 1)
		assert.Equal(t, "admin@example.com", sender.sent[0].Recipient)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestScanOnce_SkipsWhenNothingBreached(t *testing.T) {
	worker, mock, sender := newTestSLAWorker(t)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT i.id, i.title, i.severity").
		WillReturnRows(sqlmock.NewRows(candidateColumns()))
	mock.ExpectCommit()

	err := worker.ScanOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, sender.sent)
	assert.NoError(t, mock.ExpectationsWereMet())
}
