package utils

import (
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/turtacn/riskguard/pkg/errors"
)

// Validator holds the singleton instance of the validator.
var defaultValidator *validator.Validate

var operationTypePattern = regexp.MustCompile(`^[a-z0-9_.-]{1,64}$`)

func init() {
	defaultValidator = validator.New()
	// Register custom validation functions
	_ = defaultValidator.RegisterValidation("uuid", validateUUID)
	_ = defaultValidator.RegisterValidation("optype", validateOperationType)
	_ = defaultValidator.RegisterValidation("optip", validateOptionalIP)
}

// ValidateStruct validates a struct using the default validator.
// It returns an invalid_request RiskError carrying one metadata entry per failing field.
func ValidateStruct(s interface{}) errors.RiskError {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.ErrInvalidRequest(err.Error())
	}
	fields := make([]string, 0, len(validationErrors))
	riskErr := errors.ErrInvalidRequest("request validation failed")
	for _, fe := range validationErrors {
		name := toSnakeCase(fe.Field())
		fields = append(fields, name)
		riskErr.WithMetadata(name, formatValidationError(fe))
	}
	riskErr.WithMetadata("fields", strings.Join(fields, ","))
	return riskErr
}

// IsValidUUID reports whether s parses as a UUID.
func IsValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}

// IsValidOperationType reports whether s is an accepted operation type token.
func IsValidOperationType(s string) bool {
	return operationTypePattern.MatchString(s)
}

// validateUUID is a custom validation function for UUIDs.
func validateUUID(fl validator.FieldLevel) bool {
	return IsValidUUID(fl.Field().String())
}

func validateOperationType(fl validator.FieldLevel) bool {
	return IsValidOperationType(fl.Field().String())
}

// validateOptionalIP accepts an empty string or a parseable IP address.
func validateOptionalIP(fl validator.FieldLevel) bool {
	v := fl.Field().String()
	return v == "" || net.ParseIP(v) != nil
}

// formatValidationError creates a user-friendly error message for a validation error.
func formatValidationError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "uuid":
		return "must be a valid UUID"
	case "optype":
		return "must match [a-z0-9_.-]{1,64}"
	case "optip":
		return "must be a valid IP address"
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	default:
		return fmt.Sprintf("failed on the '%s' tag", fe.Tag())
	}
}

// toSnakeCase converts a CamelCase field name to snake_case.
func toSnakeCase(str string) string {
	isUpper := func(c byte) bool { return c >= 'A' && c <= 'Z' }
	var b strings.Builder
	for i := 0; i < len(str); i++ {
		c := str[i]
		if !isUpper(c) {
			b.WriteByte(c)
			continue
		}
		// Break before an upper-case letter that follows a lower-case one, and before the
		// last letter of an acronym that starts a new word (IPAddress -> ip_address).
		if i > 0 && (!isUpper(str[i-1]) || (i+1 < len(str) && !isUpper(str[i+1]))) && str[i-1] != '_' {
			b.WriteByte('_')
		}
		b.WriteByte(c + ('a' - 'A'))
	}
	return b.String()
}
