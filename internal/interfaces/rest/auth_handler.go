package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docflow/backend/internal/application/services"
	"github.com/docflow/backend/pkg/constants"
)

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth *services.AuthService
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

// Register handles POST /api/auth/register
func (h *AuthHandler) Register(c *gin.Context) {
	var req services.RegisterInput
	if !BindJSON(c, &req) {
		return
	}

	user, err := h.auth.Register(c.Request.Context(), req)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"user": user})
}

// Login handles POST /api/auth/login
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if !BindJSON(c, &req) {
		return
	}

	user, token, err := h.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"user":  user,
		"token": token,
	})
}

// Me handles GET /api/auth/me
func (h *AuthHandler) Me(c *gin.Context) {
	user := GetUserFromContext(c)
	if user == nil {
		c.JSON(http.StatusUnauthorized, gin.H{constants.ResponseError: "Unauthorized"})
		return
	}

	HandleGetEnvelope(c, "user", func() (interface{}, error) {
		return h.auth.GetMe(c.Request.Context(), user.ID)
	})
}
