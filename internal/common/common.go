// Package common holds small helpers shared across the HTTP layer: the
// uniform JSON envelope, id generation, and canonical request decoding.
package common

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"

	"github.com/opencrew/agent-mesh/internal/apperr"
)

// OK writes the {code:0, message:"ok", data} envelope used on every
// successful response.
func OK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{
		"code":    0,
		"message": "ok",
		"data":    data,
	})
}

// Fail writes the {code, message, data:nil} envelope on any failure path.
func Fail(c *gin.Context, httpStatus int, code int, msg string) {
	c.JSON(httpStatus, gin.H{
		"code":    code,
		"message": msg,
		"data":    nil,
	})
}

// FailErr writes the failure envelope for any error, using the status and
// stable code an *apperr.Error carries when err wraps one, or a generic
// 500 otherwise. Handlers should build every error path with apperr.New/
// Wrap so the fixed message dictionary in spec.md §7 stays centralized
// here instead of being re-decided ad hoc per handler.
func FailErr(c *gin.Context, err error) {
	if e, ok := apperr.As(err); ok {
		c.JSON(e.Status(), gin.H{"code": e.Code, "message": e.Message, "data": nil})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"code": string(apperr.KindInternal), "message": "internal error", "data": nil})
}

// NewULID returns a new lexically sortable identifier, used for messages,
// logs, and idempotency keys.
func NewULID() string {
	return ulid.Make().String()
}

// DecodeJSON unmarshals body into v, accepting both snake_case and
// camelCase keys for every field v declares under its "json" tag family.
// Unknown fields present in the request are ignored; required-field
// enforcement stays with gin's `binding:"required"` tags after decode.
//
// The wire format spec allows callers to send either style
// (e.g. "tokenId" or "token_id"); this canonicalizes to whichever key the
// destination struct's json tag names, so a single struct definition
// serves both spellings without duplicated field aliases.
func DecodeJSON(c *gin.Context, v any) error {
	raw := map[string]json.RawMessage{}
	if err := c.ShouldBindJSON(&raw); err != nil {
		return err
	}
	canonical := make(map[string]json.RawMessage, len(raw))
	for k, val := range raw {
		canonical[canonicalKey(k)] = val
	}
	normalized, err := json.Marshal(canonical)
	if err != nil {
		return err
	}
	return json.Unmarshal(normalized, v)
}

// canonicalKey folds camelCase into snake_case so both spellings collide
// on the same destination field.
func canonicalKey(k string) string {
	var b strings.Builder
	for i, r := range k {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
