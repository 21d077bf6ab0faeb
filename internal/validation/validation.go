// Package validation provides input checks and middleware for the attestation API.
package validation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// MaxRequestSize caps request bodies.
const MaxRequestSize = 1 << 20 // 1MB

// FieldError describes one rejected field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// Errors is every field problem found in one request, in check order.
type Errors []FieldError

// Error reports the first problem only.
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Error()
}

// Rule checks one field. A nil result means the field passed.
type Rule func() *FieldError

// Check runs rules in order and collects the failures.
func Check(rules ...Rule) Errors {
	var errs Errors
	for _, rule := range rules {
		if fe := rule(); fe != nil {
			errs = append(errs, *fe)
		}
	}
	return errs
}

// Required rejects an empty value.
func Required(field, value string) Rule {
	return func() *FieldError {
		if value == "" {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// Present rejects an optional-typed field that was not supplied.
func Present(field string, set bool) Rule {
	return func() *FieldError {
		if !set {
			return &FieldError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// NoNUL rejects text containing U+0000, which PostgreSQL TEXT and JSONB
// columns cannot hold.
func NoNUL(field string, values ...string) Rule {
	return func() *FieldError {
		for _, v := range values {
			if HasNUL(v) {
				return &FieldError{Field: field, Message: "must not contain NUL characters"}
			}
		}
		return nil
	}
}

// HasNUL reports whether s contains U+0000.
func HasNUL(s string) bool {
	return strings.IndexByte(s, 0) >= 0
}

// IsBodyTooLarge reports whether err came from a body cut off by RequestSizeMiddleware.
func IsBodyTooLarge(err error) bool {
	var mbe *http.MaxBytesError
	return errors.As(err, &mbe)
}

// RequestSizeMiddleware caps request bodies at maxSize bytes.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}
