package constants

import "time"

const (
	// ActionTokenTTL is how long a decision token stays valid after issuance.
	ActionTokenTTL = 48 * time.Hour

	// ReminderOffset is how long before a step deadline the reminder fires.
	ReminderOffset = 24 * time.Hour

	// ReminderPollInterval is the reminder worker polling cadence.
	ReminderPollInterval = 60 * time.Second

	// TokenPurgeSchedule is the cron expression for the nightly purge of
	// expired and consumed tokens. Overridable via TOKEN_PURGE_SCHEDULE.
	TokenPurgeSchedule = "0 3 * * *"

	// DefaultPort is the HTTP listen port when PORT is unset.
	DefaultPort = "3001"

	// SessionTTL is the JWT session lifetime.
	SessionTTL = 24 * time.Hour

	// TxMaxRetries bounds deadlock retries for decision transactions.
	TxMaxRetries = 3
)
