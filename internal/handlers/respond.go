package handlers

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"groupdrop/internal/membership"
	"groupdrop/pkg/i18n"
)

func errorJSON(c *gin.Context, status int, key string) {
	c.JSON(status, gin.H{"error": i18n.Translate(key)})
}

func messageJSON(c *gin.Context, status int, key string) {
	c.JSON(status, gin.H{"message": i18n.Translate(key)})
}

// serviceError maps membership error kinds onto HTTP statuses. Anything that
// is not a known kind is an internal failure and gets logged.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, membership.ErrInvalidInput):
		errorJSON(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, membership.ErrGroupNotFound),
		errors.Is(err, membership.ErrUserNotFound),
		errors.Is(err, membership.ErrMessageNotFound),
		errors.Is(err, membership.ErrFileNotFound):
		errorJSON(c, http.StatusNotFound, err.Error())
	case errors.Is(err, membership.ErrWrongPassword):
		errorJSON(c, http.StatusUnauthorized, err.Error())
	case errors.Is(err, membership.ErrNotAuthorized),
		errors.Is(err, membership.ErrNotMember):
		errorJSON(c, http.StatusForbidden, err.Error())
	case errors.Is(err, membership.ErrOwnerImmutable):
		errorJSON(c, http.StatusConflict, err.Error())
	default:
		log.Printf("Internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		errorJSON(c, http.StatusInternalServerError, "internal server error")
	}
}
