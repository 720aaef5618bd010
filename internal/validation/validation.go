// Package validation provides input validation for the payments API.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/amplygigs/payments/internal/money"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20 // 1MB

var (
	// uuidRegex validates UUID-shaped identifiers (musician ids, withdrawal ids)
	uuidRegex = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{4}-[a-fA-F0-9]{12}$`)
	// prefixedIDRegex validates internal prefixed ids (e.g. "wd_a1b2...", "esc_...")
	prefixedIDRegex = regexp.MustCompile(`^[a-z]{2,8}_[a-f0-9]{24}$`)
	// bankCodeRegex validates NIBSS bank codes (3 digits) and CBN codes (6 digits)
	bankCodeRegex = regexp.MustCompile(`^\d{3}(\d{3})?$`)
	// accountNumberRegex validates NUBAN account numbers (10 digits)
	accountNumberRegex = regexp.MustCompile(`^\d{10}$`)
)

// RequestSizeMiddleware limits request body size
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// IsValidID checks if a string is a UUID or an internal prefixed id.
func IsValidID(s string) bool {
	return uuidRegex.MatchString(s) || prefixedIDRegex.MatchString(s)
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs the given validators and collects their errors.
func Validate(validators ...func() *ValidationError) ValidationErrors {
	var errors ValidationErrors
	for _, v := range validators {
		if err := v(); err != nil {
			errors = append(errors, *err)
		}
	}
	return errors
}

// Required checks if a field is non-empty
func Required(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if strings.TrimSpace(value) == "" {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidID checks if a field is a well-formed identifier.
func ValidID(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidID(value) {
			return &ValidationError{Field: field, Message: "must be a valid id"}
		}
		return nil
	}
}

// ValidAmount checks if a value is a positive decimal currency amount.
func ValidAmount(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if _, ok := money.Parse(value); !ok {
			return &ValidationError{Field: field, Message: "invalid amount format"}
		}
		if !money.IsPositive(value) {
			return &ValidationError{Field: field, Message: "amount must be greater than zero"}
		}
		return nil
	}
}

// ValidBankCode checks if a value is a well-formed bank code.
func ValidBankCode(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !bankCodeRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "must be a 3 or 6 digit bank code"}
		}
		return nil
	}
}

// ValidAccountNumber checks if a value is a well-formed NUBAN account number.
func ValidAccountNumber(field, value string) func() *ValidationError {
	return func() *ValidationError {
		if value == "" {
			return nil
		}
		if !accountNumberRegex.MatchString(value) {
			return &ValidationError{Field: field, Message: "must be a 10 digit account number"}
		}
		return nil
	}
}

// IDParamMiddleware validates the :id URL parameter on routes that use it.
// Apply to route groups that include :id params to reject malformed ids early.
func IDParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if id != "" && !IsValidID(id) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_id",
				"message": "id must be a UUID or prefixed identifier",
			})
			return
		}
		c.Next()
	}
}
