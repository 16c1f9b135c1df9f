package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"go-restaurant-orderhub/helpers"
)

const (
	roleKey    = "role"
	subjectKey = "subject"
)

// TokenValidator is implemented by *helpers.TokenIssuer.
type TokenValidator interface {
	ValidateToken(signedToken string) (*helpers.SignedDetails, error)
}

// ClientToken finds the caller's token in the "token" header, a bearer
// Authorization header or the "token" query parameter. Browsers cannot set
// headers on a websocket upgrade, hence the query fallback.
func ClientToken(c *gin.Context) string {
	if t := c.Request.Header.Get("token"); t != "" {
		return t
	}
	if auth := c.Request.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return c.Query("token")
}

// Authentication rejects requests without a valid token.
func Authentication(tv TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		clientToken := ClientToken(c)
		if clientToken == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token is required"})
			return
		}
		claims, err := tv.ValidateToken(clientToken)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set(roleKey, claims.Role)
		c.Set(subjectKey, claims.Subject)
		c.Next()
	}
}

// OptionalAuthentication records the role of a valid token and otherwise
// lets the request through as a customer.
func OptionalAuthentication(tv TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if clientToken := ClientToken(c); clientToken != "" {
			claims, err := tv.ValidateToken(clientToken)
			if err != nil {
				log.WithError(err).WithField("path", c.FullPath()).Debug("ignoring invalid token")
			} else {
				c.Set(roleKey, claims.Role)
				c.Set(subjectKey, claims.Subject)
			}
		}
		c.Next()
	}
}

// RequireAdmin must run after Authentication.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
			return
		}
		c.Next()
	}
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString(roleKey) == helpers.RoleAdmin
}
