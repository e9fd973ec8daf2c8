package persistence

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/pkg/constants"
)

// NotificationRepository persists in-app notification rows.
type NotificationRepository struct {
	db *sql.DB
}

// NewNotificationRepository creates a new NotificationRepository
func NewNotificationRepository(db *sql.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

// Insert stores one notification
func (r *NotificationRepository) Insert(ctx context.Context, n *models.Notification) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, recipient_id, title, body, link, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`, constants.TableNotification)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query,
		n.ID, n.RecipientID, n.Title, n.Body, n.Link, n.IsRead, n.CreatedAt)
	return err
}

// ListForRecipient returns the recipient's most recent notifications.
func (r *NotificationRepository) ListForRecipient(ctx context.Context, recipientID string, limit int) ([]*models.Notification, error) {
	if limit <= 0 {
		limit = 20
	}
	query := fmt.Sprintf(`SELECT id, recipient_id, title, body, link, is_read, created_at
		FROM %s WHERE recipient_id = ? ORDER BY created_at DESC LIMIT ?`, constants.TableNotification)
	rows, err := executorFor(ctx, r.db).QueryContext(ctx, query, recipientID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		if err := rows.Scan(&n.ID, &n.RecipientID, &n.Title, &n.Body, &n.Link, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, err
		}
		notifications = append(notifications, n)
	}
	return notifications, rows.Err()
}

// MarkRead flags a notification as read, scoped to its recipient.
func (r *NotificationRepository) MarkRead(ctx context.Context, id, recipientID string) error {
	query := fmt.Sprintf(`UPDATE %s SET is_read = true WHERE id = ? AND recipient_id = ?`, constants.TableNotification)
	_, err := executorFor(ctx, r.db).ExecContext(ctx, query, id, recipientID)
	return err
}
