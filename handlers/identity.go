package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/services"
)

// IdentityHandler publishes the instance signing key so mobile clients can
// verify QR payloads offline.
type IdentityHandler struct {
	identity *services.IdentityService
}

func NewIdentityHandler(identity *services.IdentityService) *IdentityHandler {
	return &IdentityHandler{identity: identity}
}

// GetPublicKey handles GET /identity/public-key. Public endpoint.
func (h *IdentityHandler) GetPublicKey(c *gin.Context) {
	pem, err := h.identity.PublicKeyPEM()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"instance_id": h.identity.InstanceID(),
		"public_key":  pem,
		"algorithm":   "ECDSA-P256-SHA256",
	})
}
