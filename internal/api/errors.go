package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"findash/internal/service/chat"
	"findash/internal/service/trading"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, trading.ErrInvalidTable),
		errors.Is(err, trading.ErrEmptyQuery),
		errors.Is(err, chat.ErrInvalidPath):
		return http.StatusBadRequest
	case errors.Is(err, trading.ErrCustomQueryDisabled):
		return http.StatusForbidden
	case errors.Is(err, chat.ErrSessionNotFound),
		errors.Is(err, chat.ErrFileNotFound):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrLockTimeout):
		return http.StatusConflict
	case errors.Is(err, chat.ErrUnsupportedMedia):
		return http.StatusUnsupportedMediaType
	case isBodyTooLarge(err):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes {"error": ...} and attaches err for the request log.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "request body too large")
}
