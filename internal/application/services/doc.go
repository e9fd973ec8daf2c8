// Package services provides the business logic layer for the approval backend.
//
// This package contains all service implementations that handle:
//   - Workflow launch, decision recording, and phase advancement (OrchestrationService)
//   - Single-use decision tokens for email links (TokenService)
//   - Circuit template CRUD and structure validation (TemplateService)
//   - Email and in-app notifications for activated steps (NotificationService)
//   - Deadline reminders and nightly token purging (ReminderService)
//   - User registration and JWT sessions (AuthService)
//
// All services follow clean architecture principles with dependency injection
// and are designed to be testable and maintainable.
package services
