// Package middleware holds gin middleware shared by the public and
// internal routers: panic recovery, request ids, and the two auth guards.
package middleware

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/opencrew/agent-mesh/internal/auth"
)

// UserIDKey re-exports auth.UserIDKey so handlers only need to import
// this package for both routing glue and identity lookup.
const UserIDKey = auth.UserIDKey

const requestIDHeader = "X-Request-ID"

// RequestID stamps every request with a ulid if the caller didn't supply
// one, and echoes it back on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = ulid.Make().String()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Recovery converts a panicking handler into a 500 response instead of
// crashing the process, logging the request id for correlation.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				id, _ := c.Get(requestIDHeader)
				log.Printf("panic recovered request_id=%v err=%v", id, r)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"code": 50000, "message": "internal error", "data": nil,
				})
			}
		}()
		c.Next()
	}
}

// AuthRequired gates the user-facing routes behind a valid session
// cookie.
func AuthRequired(signingKey string) gin.HandlerFunc {
	return auth.Required(signingKey)
}

// InternalKeyRequired gates the worker/watchdog-facing routes behind the
// pre-shared key header.
func InternalKeyRequired(presharedKey string) gin.HandlerFunc {
	return auth.InternalKeyRequired(presharedKey)
}
