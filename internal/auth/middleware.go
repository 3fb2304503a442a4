// Package auth validates HS256 bearer tokens and exposes the caller's user id.
package auth

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

const (
	claimsKey = "claims"
	// tokenQueryParam lets EventSource clients, which cannot set headers, authenticate.
	tokenQueryParam = "token"
)

var errSigningMethod = errors.New("invalid signing method")

// Claims are the token claims the service relies on. Sub is the user id.
type Claims struct {
	Sub string `json:"sub"`
	jwt.RegisteredClaims
}

// Middleware rejects requests without a valid token. When allowQuery is set a
// token may also arrive as the "token" query parameter.
func Middleware(secret string, allowQuery bool) gin.HandlerFunc {
	keyFunc := func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errSigningMethod
		}
		return []byte(secret), nil
	}

	return func(c *gin.Context) {
		tokenString, ok := bearerToken(c)
		if !ok && allowQuery {
			tokenString = c.Query(tokenQueryParam)
			ok = tokenString != ""
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or malformed authorization header"})
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, keyFunc)
		if err != nil || !token.Valid || claims.Sub == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Next()
	}
}

func bearerToken(c *gin.Context) (string, bool) {
	header := c.GetHeader("Authorization")
	scheme, token, found := strings.Cut(header, " ")
	if !found || scheme != "Bearer" || token == "" {
		return "", false
	}
	return token, true
}

// GetClaims returns the claims stored by Middleware.
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, exists := c.Get(claimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// UserID is the authenticated caller's id.
func UserID(c *gin.Context) (string, bool) {
	claims, ok := GetClaims(c)
	if !ok || claims.Sub == "" {
		return "", false
	}
	return claims.Sub, true
}
