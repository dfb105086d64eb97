package middleware

import (
	"net/http"
	"strings"

	"github.com/tradeops/ledger/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Roles carried in the JWT "role" claim
const (
	RoleAdmin      = "admin"
	RoleAccountant = "accountant"
	RoleClerk      = "clerk"
)

const (
	ctxUserID   = "userID"
	ctxUserRole = "userRole"
)

// Auth validates HMAC-signed JWTs issued by the identity service
type Auth struct {
	secret []byte
}

func NewAuth(secret string) *Auth {
	return &Auth{secret: []byte(secret)}
}

// Secret exposes the signing key for the websocket upgrade check
func (a *Auth) Secret() []byte {
	return a.secret
}

// RequireRole validates the JWT and checks the user's role is one of allowedRoles
func (a *Auth) RequireRole(allowedRoles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
			return
		}

		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token"))
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Invalid token claims"))
			return
		}

		userRole, ok := claims["role"].(string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Role not found in token"))
			return
		}

		allowed := false
		for _, role := range allowedRoles {
			if userRole == role {
				allowed = true
				break
			}
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusForbidden, response.Error(http.StatusForbidden, "Access denied: insufficient permissions"))
			return
		}

		c.Set(ctxUserID, claims["sub"])
		c.Set(ctxUserRole, userRole)
		c.Next()
	}
}

// bearerToken reads the access_token cookie, falling back to the Authorization header
func bearerToken(c *gin.Context) (string, bool) {
	if token, err := c.Cookie("access_token"); err == nil && token != "" {
		return token, true
	}
	parts := strings.SplitN(c.GetHeader("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// UserID returns the authenticated user, or nil when the subject is absent or not a UUID
func UserID(c *gin.Context) *uuid.UUID {
	sub, ok := c.Get(ctxUserID)
	if !ok {
		return nil
	}
	s, ok := sub.(string)
	if !ok {
		return nil
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return nil
	}
	return &id
}

// UserRole returns the role set by RequireRole
func UserRole(c *gin.Context) string {
	return c.GetString(ctxUserRole)
}
