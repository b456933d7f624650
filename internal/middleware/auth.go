package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Context keys set by OptionalAuth.
const (
	ContextUserIDKey     = "userID"
	ContextSessionKeyKey = "sessionKey"
)

// SessionKeyHeader identifies anonymous clients for rate limiting.
const SessionKeyHeader = "X-Session-Key"

// OptionalAuth extracts a user id from a bearer token when one is presented
// and valid; otherwise the request proceeds anonymously with a session key.
// There is no login flow here, the token is minted elsewhere.
func OptionalAuth(jwtSecret string, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if sessionKey := c.GetHeader(SessionKeyHeader); sessionKey != "" {
			c.Set(ContextSessionKeyKey, sessionKey)
		}

		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			c.Next()
			return
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(jwtSecret), nil
		})
		if err != nil || !token.Valid {
			// Invalid token degrades to anonymous instead of failing the
			// request; generation is open to anonymous sessions anyway.
			log.Debug("Ignoring invalid bearer token", zap.Error(err))
			c.Next()
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.Next()
			return
		}
		subject, err := claims.GetSubject()
		if err != nil || subject == "" {
			c.Next()
			return
		}
		userID, err := uuid.Parse(subject)
		if err != nil {
			log.Debug("Bearer subject is not a uuid", zap.String("sub", subject))
			c.Next()
			return
		}
		c.Set(ContextUserIDKey, userID)
		c.Next()
	}
}

// UserID returns the authenticated user id from the gin context, if any.
func UserID(c *gin.Context) *uuid.UUID {
	value, exists := c.Get(ContextUserIDKey)
	if !exists {
		return nil
	}
	id, ok := value.(uuid.UUID)
	if !ok {
		return nil
	}
	return &id
}

// SessionKey returns the anonymous session key from the gin context. Falls
// back to the client IP so unidentified clients are still rate limited.
func SessionKey(c *gin.Context) string {
	value, exists := c.Get(ContextSessionKeyKey)
	if exists {
		if key, ok := value.(string); ok && key != "" {
			return key
		}
	}
	return c.ClientIP()
}
