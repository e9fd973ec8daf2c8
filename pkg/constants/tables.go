package constants

// Physical table names. Every repository references these constants so the
// schema bootstrap and the SQL stay in sync.
const (
	TableUser            = "users"
	TableCircuitTemplate = "circuit_templates"
	TableWorkflow        = "workflow_instances"
	TablePhase           = "phase_instances"
	TableStep            = "step_instances"
	TableWorkflowAction  = "workflow_actions"
	TableActionToken     = "action_tokens"
	TableAuditEntry      = "audit_entries"
	TableNotification    = "notifications"
	TableReminderJob     = "reminder_jobs"
)
