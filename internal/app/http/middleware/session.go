package middleware

import (
	"net/http"
	"strings"

	authapi "paper-showcase/internal/api/auth"
	"paper-showcase/internal/domain/session"

	"github.com/gin-gonic/gin"
)

const (
	sessionKey       = "session"
	authenticatedKey = "authenticated"
	authFailureKey   = "authFailure"
)

type authFailure struct {
	status  int
	message string
}

// SessionMiddleware attaches a session.Session to every request. A request
// without a usable token (none, malformed, expired) is served as a visitor;
// the reason is kept for RequireAdmin to report.
func SessionMiddleware(secret []byte) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			visitor(c, nil)
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			visitor(c, &authFailure{http.StatusUnauthorized, "Bearer token malformed"})
			return
		}
		if len(secret) == 0 {
			visitor(c, &authFailure{http.StatusInternalServerError, "JWT secret not configured"})
			return
		}

		sess, err := authapi.ParseToken(secret, strings.TrimSpace(tokenString))
		if err != nil {
			visitor(c, &authFailure{http.StatusUnauthorized, "Invalid or expired token"})
			return
		}
		c.Set(sessionKey, sess)
		c.Set(authenticatedKey, true)
		c.Next()
	}
}

func visitor(c *gin.Context, failure *authFailure) {
	c.Set(sessionKey, session.New(false))
	if failure != nil {
		c.Set(authFailureKey, *failure)
	}
	c.Next()
}

// RequireAdmin lets only admin sessions through.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !c.GetBool(authenticatedKey) {
			if v, ok := c.Get(authFailureKey); ok {
				f := v.(authFailure)
				c.AbortWithStatusJSON(f.status, gin.H{"error": f.message})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authorization header missing"})
			return
		}
		if !CurrentSession(c).IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			return
		}
		c.Next()
	}
}

// CurrentSession returns the request's session, a visitor one if none was set.
func CurrentSession(c *gin.Context) session.Session {
	if v, ok := c.Get(sessionKey); ok {
		if s, ok := v.(session.Session); ok {
			return s
		}
	}
	return session.New(false)
}
