package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/internal/apperr"
)

// respondError maps a service error to its HTTP status. Internal errors are
// logged server-side and masked with a generic message.
func respondError(c *gin.Context, err error) {
	status := apperr.HTTPStatus(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		log.Printf("[http] %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
		message = "internal server error"
	}
	c.JSON(status, gin.H{"error": message})
}
