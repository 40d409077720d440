package response

import (
	"log/slog"
	"net/http"

	"chat-relay/internal/apperror"

	"github.com/gin-gonic/gin"
)

// Body is the envelope for successful responses
type Body struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    any    `json:"data"`
	Meta    any    `json:"meta,omitempty"`
}

// ErrorBody is the envelope for failed responses
type ErrorBody struct {
	Success bool   `json:"success"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func Success(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Body{Success: true, Message: message, Data: data})
}

func SuccessWithMeta(c *gin.Context, status int, message string, data, meta any) {
	c.JSON(status, Body{Success: true, Message: message, Data: data, Meta: meta})
}

// Error writes err using the status and code of its kind and aborts the chain.
func Error(c *gin.Context, err error) {
	status := apperror.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		slog.Error("Request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(status, ErrorBody{
		Success: false,
		Code:    string(apperror.KindOf(err)),
		Message: apperror.MessageOf(err),
	})
}
