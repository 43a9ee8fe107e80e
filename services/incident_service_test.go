package services

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/incidentflow/api/db"
)

const (
	testOrgID      = "11111111-1111-1111-1111-111111111111"
	testIncidentID = "22222222-2222-2222-2222-222222222222"
	testUserID     = "33333333-3333-3333-3333-333333333333"
	testOtherUser  = "44444444-4444-4444-4444-444444444444"
)

func newTestService(t *testing.T) (*IncidentService, sqlmock.Sqlmock) {
	t.Helper()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewIncidentService(conn), mock
}

func incidentColumns() []string {
	return []string{
		"id", "title", "description", "severity", "status", "owner_id",
		"organization_id", "created_at", "updated_at", "resolved_at",
		"owner_name", "owner_email",
	}
}

func expectGetIncident(mock sqlmock.Sqlmock, status db.IncidentStatus, resolvedAt interface{}) {
	rows := sqlmock.NewRows(incidentColumns()).AddRow(
		testIncidentID, "DB down", "primary is unreachable", "SEV1", string(status), testUserID,
		testOrgID, time.Now(), time.Now(), resolvedAt, "Alice", "alice@example.com")
	mock.ExpectQuery("SELECT i.id, i.title").WillReturnRows(rows)
}

func TestCreateIncident(t *testing.T) {
	t.Run("EngineerCannotAssignOthers", func(t *testing.T) {
		service, mock := newTestService(t)

		_, err := service.CreateIncident(db.CreateIncidentRequest{
			Title:    "DB down",
			Severity: "SEV1",
			OwnerID:  testOtherUser,
		}, db.UserActor(testUserID, db.RoleEngineer), testOrgID)

		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("UnknownSeverityRejected", func(t *testing.T) {
		service, mock := newTestService(t)

		_, err := service.CreateIncident(db.CreateIncidentRequest{
			Title:    "DB down",
			Severity: "SEV9",
		}, db.UserActor(testUserID, db.RoleEngineer), testOrgID)

		var validation *ValidationError
		assert.ErrorAs(t, err, &validation)
		assert.Equal(t, "severity", validation.Field)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("OwnerDefaultsToRequester", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO incidents").
			WithArgs(sqlmock.AnyArg(), "DB down", "primary is unreachable", "SEV1", "DETECTED", testUserID, testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT full_name FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"full_name"}).AddRow("Alice"))
		mock.ExpectExec("INSERT INTO incident_events").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testUserID, "CREATION", nil, "DETECTED",
				"Incident declared by Alice", testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectGetIncident(mock, db.IncidentStatusDetected, nil)

		incident, err := service.CreateIncident(db.CreateIncidentRequest{
			Title:       "DB down",
			Description: "primary is unreachable",
			Severity:    "SEV1",
		}, db.UserActor(testUserID, db.RoleEngineer), testOrgID)

		require.NoError(t, err)
		assert.Equal(t, db.IncidentStatusDetected, incident.Status)
		assert.Equal(t, testUserID, incident.OwnerID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ManagerAssignsAnotherOwner", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO incidents").
			WithArgs(sqlmock.AnyArg(), "DB down", "", "SEV2", "DETECTED", testOtherUser, testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery("SELECT full_name FROM users").
			WillReturnRows(sqlmock.NewRows([]string{"full_name"}).AddRow("Mallory"))
		mock.ExpectExec("INSERT INTO incident_events").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testUserID, "CREATION", nil, "DETECTED",
				"Incident declared by Mallory (Assigned to "+testOtherUser+")", testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectGetIncident(mock, db.IncidentStatusDetected, nil)

		_, err := service.CreateIncident(db.CreateIncidentRequest{
			Title:    "DB down",
			Severity: "SEV2",
			OwnerID:  testOtherUser,
		}, db.UserActor(testUserID, db.RoleManager), testOrgID)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestTransitionIncident(t *testing.T) {
	actor := db.UserActor(testUserID, db.RoleEngineer)

	t.Run("ValidTransitionWritesEventAtomically", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, resolved_at FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "resolved_at"}).AddRow("DETECTED", nil))
		mock.ExpectExec("UPDATE incidents SET status").
			WithArgs("INVESTIGATING", nil, testIncidentID, testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO incident_events").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testUserID, "STATUS_CHANGE", "DETECTED", "INVESTIGATING",
				"State changed from DETECTED to INVESTIGATING", testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectGetIncident(mock, db.IncidentStatusInvestigating, nil)

		incident, err := service.TransitionIncident(testIncidentID,
			db.TransitionIncidentRequest{NewState: "INVESTIGATING"}, actor, testOrgID)

		require.NoError(t, err)
		assert.Equal(t, db.IncidentStatusInvestigating, incident.Status)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("InvalidTransitionRollsBack", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, resolved_at FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "resolved_at"}).AddRow("DETECTED", nil))
		mock.ExpectRollback()

		_, err := service.TransitionIncident(testIncidentID,
			db.TransitionIncidentRequest{NewState: "RESOLVED"}, actor, testOrgID)

		var invalid *InvalidTransitionError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, db.IncidentStatusDetected, invalid.From)
		assert.Equal(t, db.IncidentStatusResolved, invalid.To)
		assert.Equal(t, "invalid transition from DETECTED to RESOLVED", invalid.Error())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CrossOrgLookupIsNotFound", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, resolved_at FROM incidents").
			WithArgs(testIncidentID, "other-org").
			WillReturnRows(sqlmock.NewRows([]string{"status", "resolved_at"}))
		mock.ExpectRollback()

		_, err := service.TransitionIncident(testIncidentID,
			db.TransitionIncidentRequest{NewState: "INVESTIGATING"}, actor, "other-org")

		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ResolvedAtSetOnceAndKeptOnClose", func(t *testing.T) {
		service, mock := newTestService(t)
		resolvedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

		// RESOLVED -> CLOSED with resolved_at already set must keep it.
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, resolved_at FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "resolved_at"}).AddRow("RESOLVED", resolvedAt))
		mock.ExpectExec("UPDATE incidents SET status").
			WithArgs("CLOSED", resolvedAt, testIncidentID, testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO incident_events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectGetIncident(mock, db.IncidentStatusClosed, resolvedAt)

		incident, err := service.TransitionIncident(testIncidentID,
			db.TransitionIncidentRequest{NewState: "CLOSED"}, actor, testOrgID)

		require.NoError(t, err)
		require.NotNil(t, incident.ResolvedAt)
		assert.Equal(t, resolvedAt, *incident.ResolvedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ResolvedAtKeptOnRegressionToMitigated", func(t *testing.T) {
		service, mock := newTestService(t)
		resolvedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, resolved_at FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "resolved_at"}).AddRow("RESOLVED", resolvedAt))
		mock.ExpectExec("UPDATE incidents SET status").
			WithArgs("MITIGATED", resolvedAt, testIncidentID, testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO incident_events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectGetIncident(mock, db.IncidentStatusMitigated, resolvedAt)

		_, err := service.TransitionIncident(testIncidentID,
			db.TransitionIncidentRequest{NewState: "MITIGATED"}, actor, testOrgID)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("ReopenToInvestigatingClearsResolvedAt", func(t *testing.T) {
		service, mock := newTestService(t)
		resolvedAt := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, resolved_at FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "resolved_at"}).AddRow("MITIGATED", resolvedAt))
		mock.ExpectExec("UPDATE incidents SET status").
			WithArgs("INVESTIGATING", nil, testIncidentID, testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO incident_events").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectGetIncident(mock, db.IncidentStatusInvestigating, nil)

		incident, err := service.TransitionIncident(testIncidentID,
			db.TransitionIncidentRequest{NewState: "INVESTIGATING"}, actor, testOrgID)

		require.NoError(t, err)
		assert.Nil(t, incident.ResolvedAt)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("CustomCommentOverridesDefault", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status, resolved_at FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"status", "resolved_at"}).AddRow("INVESTIGATING", nil))
		mock.ExpectExec("UPDATE incidents SET status").
			WithArgs("MITIGATED", nil, testIncidentID, testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO incident_events").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testUserID, "STATUS_CHANGE", "INVESTIGATING", "MITIGATED",
				"rolled out a hotfix", testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectGetIncident(mock, db.IncidentStatusMitigated, nil)

		_, err := service.TransitionIncident(testIncidentID,
			db.TransitionIncidentRequest{NewState: "MITIGATED", Comment: "rolled out a hotfix"}, actor, testOrgID)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestUpdateIncident(t *testing.T) {
	t.Run("NoOpProducesNoEvent", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT severity, owner_id FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"severity", "owner_id"}).AddRow("SEV1", testUserID))
		expectGetIncident(mock, db.IncidentStatusDetected, nil)
		mock.ExpectRollback()

		severity := "SEV1"
		_, err := service.UpdateIncident(testIncidentID,
			db.UpdateIncidentRequest{Severity: &severity},
			db.UserActor(testUserID, db.RoleEngineer), testOrgID)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("EngineerCannotReassign", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT severity, owner_id FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"severity", "owner_id"}).AddRow("SEV1", testUserID))
		mock.ExpectRollback()

		other := testOtherUser
		_, err := service.UpdateIncident(testIncidentID,
			db.UpdateIncidentRequest{OwnerID: &other},
			db.UserActor(testUserID, db.RoleEngineer), testOrgID)

		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("SeverityAndOwnerChangeEachGetAnEvent", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT severity, owner_id FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"severity", "owner_id"}).AddRow("SEV2", testUserID))
		mock.ExpectExec("UPDATE incidents SET severity").
			WithArgs("SEV1", testOtherUser, testIncidentID, testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO incident_events").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testUserID, "SEVERITY_CHANGE", "SEV2", "SEV1",
				sqlmock.AnyArg(), testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectExec("INSERT INTO incident_events").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testUserID, "OWNER_CHANGE", testUserID, testOtherUser,
				sqlmock.AnyArg(), testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
		expectGetIncident(mock, db.IncidentStatusDetected, nil)

		severity := "SEV1"
		owner := testOtherUser
		_, err := service.UpdateIncident(testIncidentID,
			db.UpdateIncidentRequest{Severity: &severity, OwnerID: &owner},
			db.UserActor(testUserID, db.RoleManager), testOrgID)

		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestDeleteIncident(t *testing.T) {
	t.Run("EngineerDenied", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testIncidentID))
		mock.ExpectRollback()

		err := service.DeleteIncident(testIncidentID, db.UserActor(testUserID, db.RoleEngineer), testOrgID)
		assert.ErrorIs(t, err, ErrPermissionDenied)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingIncidentReportedBeforePermission", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		// Even an engineer gets NotFound for a missing incident, not a
		// permission error.
		err := service.DeleteIncident(testIncidentID, db.UserActor(testUserID, db.RoleEngineer), testOrgID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("AdminDeletesCascade", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testIncidentID))
		mock.ExpectExec("DELETE FROM incident_events").
			WithArgs(testIncidentID).
			WillReturnResult(sqlmock.NewResult(0, 3))
		mock.ExpectExec("DELETE FROM incident_attachments").
			WithArgs(testIncidentID).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectExec("DELETE FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.DeleteIncident(testIncidentID, db.UserActor(testUserID, db.RoleAdmin), testOrgID)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestAddComment(t *testing.T) {
	t.Run("AppendsCommentEvent", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(testIncidentID))
		mock.ExpectExec("INSERT INTO incident_events").
			WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), testUserID, "COMMENT", nil, nil,
				"suspect the 14:00 deploy", testOrgID).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		err := service.AddComment(testIncidentID, "suspect the 14:00 deploy",
			db.UserActor(testUserID, db.RoleEngineer), testOrgID)
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("MissingIncident", func(t *testing.T) {
		service, mock := newTestService(t)

		mock.ExpectBegin()
		mock.ExpectQuery("SELECT id FROM incidents").
			WithArgs(testIncidentID, testOrgID).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))
		mock.ExpectRollback()

		err := service.AddComment(testIncidentID, "hello", db.UserActor(testUserID, db.RoleEngineer), testOrgID)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
