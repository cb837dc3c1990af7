package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// Context key set by AuthMiddleware.
const userIDKey = "userId"

const (
	msgMissingAuth = "Authorization header required"
	msgBadScheme   = "Invalid authorization header format"
	msgBadToken    = "Invalid or expired token"
)

// Claims is the JWT body issued by the auth service. Only UserID is
// carried on to handlers.
type Claims struct {
	UserID string `json:"userId"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// AuthMiddleware admits requests carrying an unexpired HS256 bearer token
// signed with secret, and records the caller on the gin context.
func AuthMiddleware(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(c *gin.Context) {
		claims, rejection := bearerClaims(c.GetHeader("Authorization"), parser, keyFunc)
		if rejection != "" {
			RespondWithError(c, http.StatusUnauthorized, rejection)
			c.Abort()
			return
		}
		c.Set(userIDKey, claims.UserID)
		c.Next()
	}
}

// bearerClaims returns the token's claims, or the message to reject with.
func bearerClaims(header string, parser *jwt.Parser, keyFunc jwt.Keyfunc) (*Claims, string) {
	if header == "" {
		return nil, msgMissingAuth
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || scheme != "Bearer" || token == "" {
		return nil, msgBadScheme
	}

	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, keyFunc)
	if err != nil || !parsed.Valid || claims.UserID == "" {
		return nil, msgBadToken
	}
	return claims, ""
}

// GetUserID returns the caller set by AuthMiddleware.
func GetUserID(c *gin.Context) (string, bool) {
	return stringFromContext(c, userIDKey)
}

func stringFromContext(c *gin.Context, key string) (string, bool) {
	v, ok := c.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}
