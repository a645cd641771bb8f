// Package response defines the JSON envelope every API answer uses.
package response

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RequestIDKey is the gin context key carrying the request id.
const RequestIDKey = "request_id"

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	Meta      *Meta       `json:"meta,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	RequestID string      `json:"request_id,omitempty"`
}

// APIError represents an API error
type APIError struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// Meta represents response metadata
type Meta struct {
	Count *int64 `json:"count,omitempty"`
}

// WithCount returns a Meta carrying a result count.
func WithCount(n int) *Meta {
	count := int64(n)
	return &Meta{Count: &count}
}

// Success writes a 200 with data.
func Success(c *gin.Context, data interface{}, meta *Meta) {
	write(c, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta:    meta,
	})
}

// Created writes a 201 with data.
func Created(c *gin.Context, data interface{}) {
	write(c, http.StatusCreated, APIResponse{
		Success: true,
		Data:    data,
	})
}

// Error writes an error envelope with the given status.
func Error(c *gin.Context, statusCode int, code, message string) {
	write(c, statusCode, APIResponse{
		Success: false,
		Error: &APIError{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest writes a bad request error (400)
func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "BAD_REQUEST", message)
}

// Unauthorized writes an unauthorized error (401)
func Unauthorized(c *gin.Context, message string) {
	Error(c, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// NotFound writes a not found error (404)
func NotFound(c *gin.Context, message string) {
	Error(c, http.StatusNotFound, "NOT_FOUND", message)
}

// Conflict writes a conflict error (409)
func Conflict(c *gin.Context, message string) {
	Error(c, http.StatusConflict, "CONFLICT", message)
}

// InternalError writes an internal server error (500)
func InternalError(c *gin.Context, message string) {
	Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

func write(c *gin.Context, statusCode int, resp APIResponse) {
	resp.Timestamp = time.Now()
	resp.RequestID = c.GetString(RequestIDKey)
	c.JSON(statusCode, resp)
}
