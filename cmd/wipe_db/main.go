package main

import (
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/docflow/backend/internal/infrastructure/database"
	"github.com/docflow/backend/pkg/constants"
)

// Dev helper: drops every application table so the next server boot recreates
// a clean schema. Never point this at a shared environment.
func main() {
	paths := []string{"../.env", ".env", "../../.env"}
	for _, p := range paths {
		if err := godotenv.Load(p); err == nil {
			log.Printf("Loaded .env from %s", p)
			break
		}
	}

	conn, err := database.GetInstance()
	if err != nil {
		log.Fatalf("failed to connect to db: %v", err)
	}
	db := conn.DB()
	defer db.Close()

	log.Println("⚠️  Wiping database...")

	// Disable foreign key checks to allow dropping tables in any order
	if _, err := db.Exec("SET FOREIGN_KEY_CHECKS = 0"); err != nil {
		log.Fatalf("failed to disable foreign key checks: %v", err)
	}

	tables := []string{
		constants.TableReminderJob,
		constants.TableNotification,
		constants.TableAuditEntry,
		constants.TableActionToken,
		constants.TableWorkflowAction,
		constants.TableStep,
		constants.TablePhase,
		constants.TableWorkflow,
		constants.TableCircuitTemplate,
		constants.TableUser,
	}
	for _, table := range tables {
		if _, err := db.Exec(fmt.Sprintf("DROP TABLE IF EXISTS `%s`", table)); err != nil {
			log.Printf("Failed to drop table %s: %v", table, err)
		} else {
			log.Printf("Dropped table: %s", table)
		}
	}

	// Re-enable foreign key checks
	if _, err := db.Exec("SET FOREIGN_KEY_CHECKS = 1"); err != nil {
		log.Fatalf("failed to enable foreign key checks: %v", err)
	}

	log.Println("✅ Database wiped successfully.")
}
