package gateway

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var fieldValidator = validator.New()

// ValidateConfig checks config against the fields an adapter declares
func ValidateConfig(gatewayName string, config map[string]string, fields []ConfigField) error {
	for _, field := range fields {
		value, exists := config[field.Key]
		if !field.Required && strings.TrimSpace(value) == "" {
			continue
		}
		if !exists {
			return fmt.Errorf("%s: required field '%s' is missing", gatewayName, field.Key)
		}
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s: required field '%s' cannot be empty", gatewayName, field.Key)
		}

		if err := validateFieldType(gatewayName, field, value); err != nil {
			return err
		}
		if err := validateFieldPattern(gatewayName, field, value); err != nil {
			return err
		}
		if field.MinLength > 0 && len(value) < field.MinLength {
			return fmt.Errorf("%s: field '%s' must be at least %d characters", gatewayName, field.Key, field.MinLength)
		}
	}
	return nil
}

func validateFieldType(gatewayName string, field ConfigField, value string) error {
	switch field.Type {
	case "url":
		if err := fieldValidator.Var(value, "url"); err != nil {
			return fmt.Errorf("%s: field '%s' must be a valid URL", gatewayName, field.Key)
		}
	case "boolean":
		if value != "true" && value != "false" {
			return fmt.Errorf("%s: field '%s' must be 'true' or 'false'", gatewayName, field.Key)
		}
	}
	return nil
}

func validateFieldPattern(gatewayName string, field ConfigField, value string) error {
	if field.Pattern == "" {
		return nil
	}
	matched, err := regexp.MatchString(field.Pattern, value)
	if err != nil {
		return fmt.Errorf("%s: invalid pattern for field '%s': %v", gatewayName, field.Key, err)
	}
	if !matched {
		return fmt.Errorf("%s: field '%s' does not match required pattern", gatewayName, field.Key)
	}
	return nil
}
