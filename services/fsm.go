package services

import "github.com/incidentflow/api/db"

// validTransitions is the fixed incident workflow graph. CLOSED is terminal.
// MITIGATED -> INVESTIGATING and RESOLVED -> MITIGATED allow regressions;
// ESCALATED -> INVESTIGATING is re-assignment after an escalation.
var validTransitions = map[db.IncidentStatus][]db.IncidentStatus{
	db.IncidentStatusDetected:      {db.IncidentStatusInvestigating, db.IncidentStatusClosed, db.IncidentStatusEscalated},
	db.IncidentStatusInvestigating: {db.IncidentStatusMitigated, db.IncidentStatusEscalated},
	db.IncidentStatusMitigated:     {db.IncidentStatusResolved, db.IncidentStatusInvestigating},
	db.IncidentStatusResolved:      {db.IncidentStatusPostmortem, db.IncidentStatusClosed, db.IncidentStatusMitigated},
	db.IncidentStatusPostmortem:    {db.IncidentStatusClosed},
	db.IncidentStatusClosed:        {},
	db.IncidentStatusEscalated:     {db.IncidentStatusInvestigating},
}

// CanTransition reports whether the workflow allows moving an incident from
// current to next. Pure function: no side effects, no I/O. Unknown source
// states and self-transitions are denied.
func CanTransition(current, next db.IncidentStatus) bool {
	for _, allowed := range validTransitions[current] {
		if allowed == next {
			return true
		}
	}
	return false
}
