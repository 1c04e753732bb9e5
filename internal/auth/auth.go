// Package auth issues and verifies HS256 session tokens (JWT's HS256 mode
// is HMAC-SHA256 under the hood, matching the "signed (HMAC)" session
// cookie the spec calls for) and gates the internal API behind a
// pre-shared key.
package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/opencrew/agent-mesh/internal/crypto"
)

// UserIDKey is the gin context key AuthRequired stores the caller's user
// id under.
const UserIDKey = "userID"

type sessionClaims struct {
	UserID string `json:"uid"`
	jwt.RegisteredClaims
}

// SignSession issues a session token for userID, valid for ttl.
func SignSession(userID, signingKey string, ttl time.Duration) (string, error) {
	claims := sessionClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tok.SignedString([]byte(signingKey))
}

// VerifySession parses and validates a session token, returning the
// carried user id.
func VerifySession(tokenStr, signingKey string) (string, error) {
	claims := &sessionClaims{}
	tok, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("auth: unexpected signing method")
		}
		return []byte(signingKey), nil
	})
	if err != nil || !tok.Valid {
		return "", errors.New("auth: invalid or expired session")
	}
	return claims.UserID, nil
}

const sessionCookieName = "session"

// SetSessionCookie writes the session token as an HTTP-only cookie.
func SetSessionCookie(c *gin.Context, token string, ttl time.Duration) {
	c.SetCookie(sessionCookieName, token, int(ttl.Seconds()), "/", "", false, true)
}

// ClearSessionCookie invalidates the session cookie on logout.
func ClearSessionCookie(c *gin.Context) {
	c.SetCookie(sessionCookieName, "", -1, "/", "", false, true)
}

// Required is gin middleware that rejects requests without a valid
// session cookie and stores the caller's user id in the context.
func Required(signingKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenStr, err := c.Cookie(sessionCookieName)
		if err != nil || tokenStr == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": 40101, "message": "unauthenticated", "data": nil,
			})
			return
		}
		userID, err := VerifySession(tokenStr, signingKey)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": 40101, "message": "unauthenticated", "data": nil,
			})
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// UserIDFromContext extracts the authenticated caller's user id, set by
// Required.
func UserIDFromContext(c *gin.Context) (string, bool) {
	v, ok := c.Get(UserIDKey)
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// InternalKeyRequired is gin middleware for the internal surface: it
// rejects any request that doesn't present the exact pre-shared key in
// the X-Brain-Api-Key header.
func InternalKeyRequired(presharedKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader("X-Brain-Api-Key")
		if got == "" || !crypto.ConstantTimeEqual(got, presharedKey) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"code": 40102, "message": "unauthorized", "data": nil,
			})
			return
		}
		c.Next()
	}
}
