package constants

// HTTP surface constants shared between middleware and handlers.
const (
	HeaderAuthorization = "Authorization"
	ContextKeyUser      = "user"

	ResponseError = "error"
	FieldMessage  = "message"
)
