package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

func Success(c *gin.Context, statusCode int, data interface{}) {
	c.JSON(statusCode, gin.H{
		"success": true,
		"data":    data,
	})
}

func Error(c *gin.Context, statusCode int, code string, message string) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	})
}

func ErrorWithDetails(c *gin.Context, statusCode int, code string, message string, details any) {
	c.JSON(statusCode, gin.H{
		"success": false,
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

// CodedError is implemented by domain errors that know their client-facing
// status and code.
type CodedError interface {
	error
	HTTPStatus() int
	ErrorCode() string
	PublicMessage() string
}

// FromError renders a coded error as-is and anything else as a 500, which
// is also attached to the gin context for the request logger.
func FromError(c *gin.Context, err error) {
	var coded CodedError
	if errors.As(err, &coded) {
		Error(c, coded.HTTPStatus(), coded.ErrorCode(), coded.PublicMessage())
		return
	}
	_ = c.Error(err)
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
}
