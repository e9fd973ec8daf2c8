package rest

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/docflow/backend/internal/application/services"
)

// NotificationHandler handles in-app notification endpoints
type NotificationHandler struct {
	notifications *services.NotificationService
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(notifications *services.NotificationService) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List handles GET /api/notifications
func (h *NotificationHandler) List(c *gin.Context) {
	user := GetUserFromContext(c)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	HandleGetEnvelope(c, "notifications", func() (interface{}, error) {
		return h.notifications.ListForRecipient(c.Request.Context(), user.ID, limit)
	})
}

// MarkRead handles POST /api/notifications/:id/read
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	user := GetUserFromContext(c)
	HandleDeleteEnvelope(c, "Notification marked as read", func() error {
		return h.notifications.MarkRead(c.Request.Context(), c.Param("id"), user.ID)
	})
}
