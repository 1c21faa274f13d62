package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/services"
)

type APIKeyHandler struct {
	apiKeys *services.APIKeyService
}

func NewAPIKeyHandler(apiKeys *services.APIKeyService) *APIKeyHandler {
	return &APIKeyHandler{apiKeys: apiKeys}
}

// CreateAPIKey handles POST /api/api-keys. The plaintext key appears only in
// this response; afterwards only the hash is stored.
func (h *APIKeyHandler) CreateAPIKey(c *gin.Context) {
	var req db.CreateAPIKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}

	resp, err := h.apiKeys.CreateAPIKey(GetUserID(c), GetTenantFilter(c).OrgID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// ListAPIKeys handles GET /api/api-keys.
func (h *APIKeyHandler) ListAPIKeys(c *gin.Context) {
	keys, err := h.apiKeys.ListAPIKeys(GetUserID(c), GetTenantFilter(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": keys})
}

// DeleteAPIKey handles DELETE /api/api-keys/:id. Scoped to the caller's own
// keys.
func (h *APIKeyHandler) DeleteAPIKey(c *gin.Context) {
	if err := h.apiKeys.DeleteAPIKey(c.Param("id"), GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "API key deleted"})
}
