package validation

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mgauthier/tradescope/pkg/pagination"
)

var v *validator.Validate

// Validator returns a singleton validator with custom rules registered.
func Validator() *validator.Validate {
	if v == nil {
		v = validator.New()
		// Custom: dataset/reference file path must have a supported extension
		_ = v.RegisterValidation("datapath_ext", func(fl validator.FieldLevel) bool {
			s := strings.ToLower(strings.TrimSpace(fl.Field().String()))
			if s == "" {
				return false
			}
			return strings.HasSuffix(s, ".csv") || strings.HasSuffix(s, ".xlsx") || strings.HasSuffix(s, ".xlsm")
		})
		// Custom: cursor must be decodable via pagination.DecodeCursor
		_ = v.RegisterValidation("cursor", func(fl validator.FieldLevel) bool {
			s := strings.TrimSpace(fl.Field().String())
			if s == "" {
				return true // empty is allowed; use omitempty with this tag
			}
			if _, err := base64.RawURLEncoding.DecodeString(s); err != nil {
				return false
			}
			if _, err := pagination.DecodeCursor(s); err != nil {
				return false
			}
			return true
		})
	}
	return v
}

// ValidateStruct validates a struct and returns a user-friendly error string
// suitable for MCP tool errors. Returns empty string when valid.
func ValidateStruct(s any) string {
	if err := Validator().Struct(s); err != nil {
		if ve, ok := err.(validator.ValidationErrors); ok && len(ve) > 0 {
			fe := ve[0]
			field := strings.ToLower(fe.Field())
			switch fe.Tag() {
			case "required":
				return fmt.Sprintf("VALIDATION: %s is required", field)
			case "required_without":
				if field == "datasetid" {
					return "VALIDATION: dataset_id is required (or supply cursor)"
				}
				return fmt.Sprintf("VALIDATION: %s is required", field)
			case "datapath_ext":
				return "VALIDATION: path must be a data file (.csv, .xlsx, .xlsm)"
			case "cursor":
				return "CURSOR_INVALID: failed to decode cursor; restart pagination"
			case "oneof":
				return fmt.Sprintf("VALIDATION: %s must be one of: %s", field, fe.Param())
			case "min", "max", "gte", "lte":
				return fmt.Sprintf("VALIDATION: %s must satisfy %s=%s", field, fe.Tag(), fe.Param())
			}
			return fmt.Sprintf("VALIDATION: invalid %s", field)
		}
		return "VALIDATION: invalid inputs"
	}
	return ""
}
