package handlers

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/resqhq/resq/internal/config"
	"github.com/resqhq/resq/services"
)

const (
	connectTokenTTL  = 5 * time.Minute
	mobileSessionTTL = 30 * 24 * time.Hour
)

// MobileHandler pairs the mobile app with this instance. Pairing starts with
// a signed QR payload carrying a one-time connect token; redeeming the token
// mints a long-lived mobile session.
type MobileHandler struct {
	PG       *sql.DB
	identity *services.IdentityService
	tokens   services.ConnectTokenStore
	fcm      *services.FCMService
}

func NewMobileHandler(pg *sql.DB, identity *services.IdentityService, tokens services.ConnectTokenStore, fcm *services.FCMService) *MobileHandler {
	return &MobileHandler{PG: pg, identity: identity, tokens: tokens, fcm: fcm}
}

// MobileConnectQR is the payload encoded into the QR code. The signature is
// computed over the canonical JSON of these fields.
type MobileConnectQR struct {
	Type         string `json:"type"`
	Version      int    `json:"version"`
	BackendURL   string `json:"backend_url"`
	GatewayURL   string `json:"gateway_url"`
	InstanceID   string `json:"instance_id"`
	UserID       string `json:"user_id"`
	ConnectToken string `json:"connect_token"`
	Nonce        string `json:"nonce"`
	ExpiresAt    int64  `json:"expires_at"`
}

type DeviceInfo struct {
	Platform   string `json:"platform"`
	DeviceID   string `json:"device_id"`
	DeviceName string `json:"device_name"`
	AppVersion string `json:"app_version"`
	OSVersion  string `json:"os_version"`
}

type VerifyConnectRequest struct {
	ConnectToken string     `json:"connect_token" binding:"required"`
	DeviceInfo   DeviceInfo `json:"device_info"`
}

// GenerateConnectQR handles POST /api/mobile/connect/generate.
func (h *MobileHandler) GenerateConnectQR(c *gin.Context) {
	userID := GetUserID(c)

	backendURL := config.App.PublicURL
	if backendURL == "" {
		backendURL = config.App.BackendURL
	}
	if backendURL == "" {
		scheme := "https"
		if c.Request.TLS == nil {
			scheme = "http"
		}
		backendURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}

	connectToken, err := generateConnectToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}
	nonce, err := generateNonce()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate nonce"})
		return
	}

	expiresAt := time.Now().Add(connectTokenTTL)
	err = h.tokens.Put(c.Request.Context(), connectToken, services.ConnectTokenData{
		UserID:         userID,
		OrganizationID: c.GetString("org_id"),
		Nonce:          nonce,
		ExpiresAt:      expiresAt,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store token"})
		return
	}

	payload := MobileConnectQR{
		Type:         "resq_mobile_connect",
		Version:      2,
		BackendURL:   backendURL,
		GatewayURL:   config.App.Gateway.URL,
		InstanceID:   config.App.InstanceID,
		UserID:       userID,
		ConnectToken: connectToken,
		Nonce:        nonce,
		ExpiresAt:    expiresAt.Unix(),
	}

	// SignMap canonicalizes key order so the app can re-verify the payload.
	payloadMap := map[string]interface{}{
		"type":          payload.Type,
		"version":       payload.Version,
		"backend_url":   payload.BackendURL,
		"gateway_url":   payload.GatewayURL,
		"instance_id":   payload.InstanceID,
		"user_id":       payload.UserID,
		"connect_token": payload.ConnectToken,
		"nonce":         payload.Nonce,
		"expires_at":    payload.ExpiresAt,
	}
	signature, err := h.identity.SignMap(payloadMap)
	if err != nil {
		log.Printf("[mobile] failed to sign QR payload: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to sign payload"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"signed_token": gin.H{
			"payload":   payload,
			"signature": signature,
		},
		// The anon key is public; the app needs it to talk to Supabase.
		"auth_config": gin.H{
			"supabase_url":      config.App.SupabaseURL,
			"supabase_anon_key": config.App.SupabaseAnonKey,
		},
	})
}

// GetAuthConfig handles GET /mobile/auth-config. Public: the app fetches
// this before it has any credentials. Everything here is safe to expose.
func (h *MobileHandler) GetAuthConfig(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"supabase_url":      config.App.SupabaseURL,
		"supabase_anon_key": config.App.SupabaseAnonKey,
		"instance_id":       config.App.InstanceID,
		"gateway_url":       config.App.Gateway.URL,
	})
}

// VerifyConnect handles POST /mobile/connect/verify. Public: the connect
// token is the credential.
func (h *MobileHandler) VerifyConnect(c *gin.Context) {
	var req VerifyConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
		return
	}

	tokenData, err := h.tokens.Take(c.Request.Context(), req.ConnectToken)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify token"})
		return
	}
	if tokenData == nil || time.Now().After(tokenData.ExpiresAt) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired connect token"})
		return
	}

	var userEmail, userName string
	err = h.PG.QueryRow(`SELECT email, name FROM users WHERE id = $1`, tokenData.UserID).
		Scan(&userEmail, &userName)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get user info"})
		return
	}

	accessToken, err := generateMobileSessionToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate session token"})
		return
	}
	refreshToken, err := generateMobileSessionToken()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate refresh token"})
		return
	}

	deviceID := req.DeviceInfo.DeviceID
	if deviceID == "" {
		deviceID = generateSessionID()
	}
	deviceInfo, _ := json.Marshal(req.DeviceInfo)
	sessionExpiresAt := time.Now().Add(mobileSessionTTL)

	_, err = h.PG.Exec(`
		INSERT INTO mobile_sessions (id, user_id, device_id, access_token_hash,
			refresh_token_hash, device_info, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (user_id, device_id) DO UPDATE SET
			access_token_hash = EXCLUDED.access_token_hash,
			refresh_token_hash = EXCLUDED.refresh_token_hash,
			device_info = EXCLUDED.device_info,
			expires_at = EXCLUDED.expires_at,
			updated_at = NOW()
	`, generateSessionID(), tokenData.UserID, deviceID,
		hashToken(accessToken), hashToken(refreshToken), string(deviceInfo), sessionExpiresAt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to store session"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"user": gin.H{
			"user_id":       tokenData.UserID,
			"user_email":    userEmail,
			"user_name":     userName,
			"instance_id":   config.App.InstanceID,
			"access_token":  accessToken,
			"refresh_token": refreshToken,
			"expires_at":    sessionExpiresAt.Unix(),
		},
		"gateway_url": config.App.Gateway.URL,
		"instance_id": config.App.InstanceID,
	})
}

// mobileUserFromToken resolves a mobile session token to its user.
func (h *MobileHandler) mobileUserFromToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Missing authorization token"})
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if !strings.HasPrefix(token, "resq_mob_") {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid mobile token format"})
		return "", false
	}

	var userID string
	err := h.PG.QueryRow(`
		SELECT user_id FROM mobile_sessions
		WHERE access_token_hash = $1 AND expires_at > NOW()
	`, hashToken(token)).Scan(&userID)
	if err != nil {
		if err == sql.ErrNoRows {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			return "", false
		}
		log.Printf("[mobile] failed to verify session token: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to verify token"})
		return "", false
	}
	return userID, true
}

// RegisterDevicePush handles POST /mobile/devices/register-push. Public
// endpoint authenticated by the mobile session token.
func (h *MobileHandler) RegisterDevicePush(c *gin.Context) {
	userID, ok := h.mobileUserFromToken(c)
	if !ok {
		return
	}

	var req struct {
		FCMToken   string `json:"fcm_token" binding:"required"`
		Platform   string `json:"platform"`
		AppVersion string `json:"app_version"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fcm_token is required"})
		return
	}

	if err := h.fcm.UpdateUserFCMToken(userID, req.FCMToken); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Device registered for push notifications",
	})
}

// ListDevices handles GET /api/mobile/devices.
func (h *MobileHandler) ListDevices(c *gin.Context) {
	rows, err := h.PG.Query(`
		SELECT id, device_id, device_info, created_at, expires_at
		FROM mobile_sessions
		WHERE user_id = $1 AND expires_at > NOW()
		ORDER BY created_at DESC
	`, GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	defer rows.Close()

	devices := []gin.H{}
	for rows.Next() {
		var id, deviceID, deviceInfo string
		var createdAt, expiresAt time.Time
		if err := rows.Scan(&id, &deviceID, &deviceInfo, &createdAt, &expiresAt); err != nil {
			continue
		}
		devices = append(devices, gin.H{
			"id":          id,
			"device_id":   deviceID,
			"device_info": deviceInfo,
			"created_at":  createdAt,
			"expires_at":  expiresAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": devices})
}

// DisconnectDevice handles DELETE /api/mobile/devices/:device_id.
func (h *MobileHandler) DisconnectDevice(c *gin.Context) {
	result, err := h.PG.Exec(`
		DELETE FROM mobile_sessions WHERE id = $1 AND user_id = $2
	`, c.Param("device_id"), GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Device not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

func generateConnectToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "resq_conn_" + hex.EncodeToString(b), nil
}

func generateMobileSessionToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "resq_mob_" + hex.EncodeToString(b), nil
}

func generateSessionID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return "sess_" + hex.EncodeToString(b)
}

func hashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

func generateNonce() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return fmt.Sprintf("%d_%s", time.Now().UnixNano(), hex.EncodeToString(b)), nil
}
