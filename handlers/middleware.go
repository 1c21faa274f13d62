package handlers

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/resqhq/resq/authz"
	"github.com/resqhq/resq/db"
	"github.com/resqhq/resq/internal/config"
	"github.com/resqhq/resq/services"
)

// AuthMiddleware authenticates requests. API keys are checked first because
// their token shape overlaps with JWTs from the parser's point of view; a
// miss falls through to Supabase JWT validation.
type AuthMiddleware struct {
	Auth    *services.SupabaseAuthService
	Users   *services.UserService
	APIKeys *services.APIKeyService
	Authz   authz.Authorizer
}

func NewAuthMiddleware(users *services.UserService, apiKeys *services.APIKeyService, authorizer authz.Authorizer) *AuthMiddleware {
	if config.App.SupabaseURL == "" {
		log.Fatal("[auth] SUPABASE_URL is required")
	}
	// The JWT secret is only needed for legacy HS256 tokens; ES256/RS256
	// verify against the project's JWKS.
	return &AuthMiddleware{
		Auth:    services.NewSupabaseAuthService(config.App.SupabaseURL, config.App.SupabaseJWTSecret),
		Users:   users,
		APIKeys: apiKeys,
		Authz:   authorizer,
	}
}

// RequireAuth rejects requests without a valid API key or Supabase JWT.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header is required"})
			c.Abort()
			return
		}

		token, err := m.Auth.ExtractTokenFromHeader(authHeader)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			c.Abort()
			return
		}

		if m.APIKeys != nil {
			if apiKey, err := m.APIKeys.ValidateAPIKey(token); err == nil {
				c.Set("user_id", apiKey.UserID)
				c.Set("user_role", "api_key")
				c.Set("is_api_key", true)
				c.Set("api_key_id", apiKey.ID)
				if apiKey.OrganizationID != "" {
					c.Set("org_id", apiKey.OrganizationID)
				}
				if apiKey.ProjectID != "" {
					c.Set("project_id", apiKey.ProjectID)
				}
				go func() { _ = m.APIKeys.UpdateLastUsed(apiKey.ID) }()
				c.Next()
				return
			}
		}

		claims, err := m.Auth.ValidateToken(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token: " + err.Error()})
			c.Abort()
			return
		}

		if err := m.ensureUserExists(claims); err != nil {
			// Auth still succeeds; the sync retries on the next request.
			log.Printf("[auth] failed to sync user %s: %v", claims.UserID, err)
		}

		c.Set("user_id", claims.UserID)
		c.Set("user_email", claims.Email)
		c.Set("user_role", claims.Role)
		c.Next()
	}
}

// RequireOrg binds the request to one organization. API keys carry their org;
// JWT users pick one with the X-Org-ID header, checked against membership.
// Must run after RequireAuth.
func (m *AuthMiddleware) RequireOrg() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := GetUserID(c)

		orgID := c.GetString("org_id")
		headerOrg := c.GetHeader("X-Org-ID")

		if c.GetBool("is_api_key") {
			// Key-bound org wins; a mismatching header is a client bug.
			if orgID == "" {
				c.JSON(http.StatusForbidden, gin.H{"error": "API key is not bound to an organization"})
				c.Abort()
				return
			}
			if headerOrg != "" && headerOrg != orgID {
				c.JSON(http.StatusForbidden, gin.H{"error": "X-Org-ID does not match API key organization"})
				c.Abort()
				return
			}
		} else {
			orgID = headerOrg
			if orgID == "" {
				c.JSON(http.StatusBadRequest, gin.H{"error": "X-Org-ID header is required"})
				c.Abort()
				return
			}
			if !m.Authz.CanAccessOrg(c.Request.Context(), userID, orgID) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this organization"})
				c.Abort()
				return
			}
			c.Set("org_id", orgID)
		}

		if projectID := c.GetHeader("X-Project-ID"); projectID != "" {
			if !c.GetBool("is_api_key") && !m.Authz.CanAccessProject(c.Request.Context(), userID, projectID) {
				c.JSON(http.StatusForbidden, gin.H{"error": "Not a member of this project"})
				c.Abort()
				return
			}
			c.Set("project_id", projectID)
		}

		c.Next()
	}
}

// RequireOrgRole enforces a minimum organization role on mutating routes.
// API keys act with member privileges. Must run after RequireOrg.
func (m *AuthMiddleware) RequireOrgRole(floor authz.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := authz.RoleMember
		if !c.GetBool("is_api_key") {
			role = m.Authz.GetOrgRole(c.Request.Context(), GetUserID(c), c.GetString("org_id"))
		}
		if !authz.RoleAtLeast(role, floor) {
			c.JSON(http.StatusForbidden, gin.H{"error": "Insufficient role"})
			c.Abort()
			return
		}
		c.Next()
	}
}

func (m *AuthMiddleware) ensureUserExists(claims *services.SupabaseClaims) error {
	if _, err := m.Users.GetUser(claims.UserID); err == nil {
		return nil
	}

	log.Printf("[auth] creating user record for %s (%s)", claims.Email, claims.UserID)
	return m.Users.CreateUserRecord(db.User{
		ID:         claims.UserID,
		Provider:   "supabase",
		ProviderID: claims.UserID,
		Email:      claims.Email,
		Name:       nameFromClaims(claims),
		Role:       "engineer",
		Team:       teamFromClaims(claims),
		IsActive:   true,
		CreatedAt:  time.Now(),
		UpdatedAt:  time.Now(),
	})
}

func nameFromClaims(claims *services.SupabaseClaims) string {
	for _, key := range []string{"full_name", "name", "user_name"} {
		if v, ok := claims.UserMeta[key].(string); ok && v != "" {
			return v
		}
	}
	if at := strings.Index(claims.Email, "@"); at > 0 {
		return claims.Email[:at]
	}
	return "User"
}

func teamFromClaims(claims *services.SupabaseClaims) string {
	for _, key := range []string{"company", "team"} {
		if v, ok := claims.UserMeta[key].(string); ok && v != "" {
			return v
		}
	}
	// Fall back to the email domain, skipping consumer providers.
	if at := strings.Index(claims.Email, "@"); at > 0 {
		domain := claims.Email[at+1:]
		switch domain {
		case "gmail.com", "yahoo.com", "hotmail.com", "outlook.com":
		default:
			return cases.Title(language.English).String(strings.Split(domain, ".")[0])
		}
	}
	return "Default Team"
}

// GetUserID returns the authenticated user's id set by RequireAuth.
func GetUserID(c *gin.Context) string {
	return c.GetString("user_id")
}

// GetTenantFilter builds the tenant scope set by RequireOrg.
func GetTenantFilter(c *gin.Context) db.TenantFilter {
	return db.NewTenantFilter(c.GetString("org_id"), c.GetString("project_id"))
}
