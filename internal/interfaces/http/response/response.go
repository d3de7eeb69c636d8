package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
	domainerrors "pospay.backend/internal/domain/errors"
)

// Success sends a success response
func Success(c *gin.Context, status int, data interface{}) {
	c.JSON(status, data)
}

// Error sends an error response
func Error(c *gin.Context, err error) {
	appErr, ok := domainerrors.As(err)
	if !ok {
		// Default to Internal Server Error if not an AppError
		appErr = domainerrors.InternalError(err)
	}
	if appErr.Status == http.StatusServiceUnavailable {
		c.Header("Retry-After", "1")
	}

	c.JSON(appErr.Status, gin.H{
		"code":    appErr.Code,
		"message": appErr.Message,
		"error":   appErr.Message, // Backward compatibility
	})
}

// ErrorWithError sends an error response with a specific status and message
func ErrorWithError(c *gin.Context, status int, code string, message string) {
	c.JSON(status, gin.H{
		"code":    code,
		"message": message,
	})
}
