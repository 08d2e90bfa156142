// Package response writes the JSON envelope every API endpoint answers with:
// {"success":true,"data":...} or {"success":false,"error":{"message","code",...}}.
package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

const (
	CodeValidation         = "VALIDATION_ERROR"
	CodeUnauthorized       = "UNAUTHORIZED"
	CodeForbidden          = "FORBIDDEN"
	CodeNotFound           = "NOT_FOUND"
	CodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	CodeInternal           = "INTERNAL_ERROR"
)

// RetryAfterSeconds is sent with SERVICE_UNAVAILABLE.
const RetryAfterSeconds = 5

func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, gin.H{"success": true, "data": data})
}

// Message answers with a bare message and no data.
func Message(c *gin.Context, msg string) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": msg})
}

// Error aborts the request with the failure envelope. meta fields are merged
// into the error object.
func Error(c *gin.Context, status int, code, message string, meta gin.H) {
	body := gin.H{"message": message, "code": code}
	for k, v := range meta {
		body[k] = v
	}
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": body})
}

func Unavailable(c *gin.Context) {
	c.Header("Retry-After", strconv.Itoa(RetryAfterSeconds))
	Error(c, http.StatusServiceUnavailable, CodeServiceUnavailable, "Service temporarily unavailable", nil)
}

func Internal(c *gin.Context) {
	Error(c, http.StatusInternalServerError, CodeInternal, "Internal server error", nil)
}
