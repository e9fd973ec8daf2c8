package bootstrap

import (
	"fmt"
	"log"

	"github.com/docflow/backend/internal/infrastructure/database"
	"github.com/docflow/backend/pkg/constants"
)

// InitializeSchema creates the fixed set of tables the service owns.
// DDL is idempotent; startup always runs it.
func InitializeSchema(db *database.Connection) error {
	log.Println("🔧 Initializing schema...")

	for _, stmt := range tableDefinitions() {
		if _, err := db.DB().Exec(stmt); err != nil {
			return fmt.Errorf("failed to run schema DDL: %w", err)
		}
	}

	log.Printf("🧱 Schema ready (%d tables)", len(tableDefinitions()))
	return nil
}

func tableDefinitions() []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			email VARCHAR(255) NOT NULL UNIQUE,
			password_hash VARCHAR(255) NOT NULL,
			is_active TINYINT(1) NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`, constants.TableUser),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			description TEXT,
			structure JSON NOT NULL,
			owner_id VARCHAR(36) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`, constants.TableCircuitTemplate),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			title VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			current_phase_index INT NOT NULL DEFAULT 0,
			structure JSON NOT NULL,
			initiator_id VARCHAR(36) NOT NULL,
			document_ids JSON NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			INDEX idx_workflow_initiator (initiator_id),
			INDEX idx_workflow_status (status)
		)`, constants.TableWorkflow),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			phase_order INT NOT NULL,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE KEY uq_phase_order (workflow_id, phase_order)
		)`, constants.TablePhase),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			phase_id VARCHAR(36) NOT NULL,
			step_order INT NOT NULL,
			name VARCHAR(255) NOT NULL,
			status VARCHAR(20) NOT NULL,
			execution VARCHAR(20) NOT NULL,
			quorum_rule VARCHAR(20) NOT NULL,
			quorum_count INT NULL,
			validators JSON NOT NULL,
			decision_count INT NOT NULL DEFAULT 0,
			activation INT NOT NULL DEFAULT 1,
			deadline DATETIME NULL,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL,
			UNIQUE KEY uq_step_order (phase_id, step_order),
			INDEX idx_step_workflow (workflow_id)
		)`, constants.TableStep),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			step_id VARCHAR(36) NOT NULL,
			activation INT NOT NULL,
			actor_email VARCHAR(255) NOT NULL,
			actor_id VARCHAR(36) NULL,
			decision VARCHAR(10) NOT NULL,
			comment TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			UNIQUE KEY uq_action_actor (step_id, activation, actor_email)
		)`, constants.TableWorkflowAction),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			step_id VARCHAR(36) NOT NULL,
			activation INT NOT NULL,
			validator_email VARCHAR(255) NOT NULL,
			decision VARCHAR(10) NOT NULL,
			secret_hash CHAR(64) NOT NULL UNIQUE,
			expires_at DATETIME NOT NULL,
			used_at DATETIME NULL,
			created_at DATETIME NOT NULL,
			INDEX idx_token_step (step_id),
			INDEX idx_token_workflow (workflow_id)
		)`, constants.TableActionToken),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			step_id VARCHAR(36) NULL,
			action VARCHAR(30) NOT NULL,
			actor_id VARCHAR(36) NULL,
			actor_email VARCHAR(255) NULL,
			detail TEXT,
			created_at DATETIME NOT NULL,
			INDEX idx_audit_workflow (workflow_id)
		)`, constants.TableAuditEntry),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id VARCHAR(36) PRIMARY KEY,
			recipient_id VARCHAR(36) NOT NULL,
			title VARCHAR(255) NOT NULL,
			body TEXT,
			link VARCHAR(512),
			is_read TINYINT(1) NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL,
			INDEX idx_notification_recipient (recipient_id)
		)`, constants.TableNotification),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			step_id VARCHAR(36) PRIMARY KEY,
			workflow_id VARCHAR(36) NOT NULL,
			due_at DATETIME NOT NULL,
			fired_at DATETIME NULL,
			created_at DATETIME NOT NULL,
			INDEX idx_reminder_due (due_at)
		)`, constants.TableReminderJob),
	}
}
