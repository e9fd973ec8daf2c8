package rest

import (
	stderrors "errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/docflow/backend/internal/domain"
	"github.com/docflow/backend/internal/domain/models"
	"github.com/docflow/backend/pkg/auth"
	"github.com/docflow/backend/pkg/constants"
	"github.com/docflow/backend/pkg/errors"
)

// GetUserFromContext extracts the authenticated user from gin.Context
func GetUserFromContext(c *gin.Context) *models.UserSession {
	userInterface, exists := c.Get(constants.ContextKeyUser)
	if !exists {
		return nil
	}

	authUser := userInterface.(auth.UserSession)
	return &models.UserSession{
		ID:    authUser.ID,
		Name:  authUser.Name,
		Email: authUser.Email,
	}
}

// RespondAppError sends a standardised JSON error response using pkg/errors
func RespondAppError(c *gin.Context, err error) {
	code := errors.GetHTTPStatus(err)
	errorCode := errors.GetErrorCode(err)
	message := err.Error()

	// An invalid transition means the engine itself is wrong; surface it as
	// a conflict but log it loudly.
	var transitionErr *domain.InvalidTransitionError
	if stderrors.As(err, &transitionErr) {
		code = http.StatusConflict
		errorCode = "CONFLICT"
		log.Printf("❌ INVARIANT [%s %s]: %s", c.Request.Method, c.Request.URL.Path, message)
	}

	if code >= 500 {
		log.Printf("❌ ERROR [%d] %s %s: %s", code, c.Request.Method, c.Request.URL.Path, message)
	}

	c.JSON(code, gin.H{
		constants.ResponseError: message,
		constants.FieldMessage:  message,
		"code":                  errorCode,
		"data":                  nil,
	})
}

// BindJSON binds JSON and returns true if successful. If failed, it sends bad request error.
func BindJSON(c *gin.Context, obj interface{}) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		RespondAppError(c, errors.NewValidationError("body", err.Error()))
		return false
	}
	return true
}

// HandleGetEnvelope executes a read action and returns the result wrapped in a JSON key
// Response: { [key]: result }
func HandleGetEnvelope(c *gin.Context, key string, action func() (interface{}, error)) {
	result, err := action()
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{key: result})
}

// HandleDeleteEnvelope executes a delete action and returns a success message
// Response: { constants.FieldMessage: successMsg }
func HandleDeleteEnvelope(c *gin.Context, successMsg string, action func() error) {
	if err := action(); err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{constants.FieldMessage: successMsg})
}
