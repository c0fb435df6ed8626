package validator

import (
	"errors"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/congo-pay/backoffice/internal/apperrors"
)

var validate *validator.Validate

func init() {
	validate = validator.New()

	// Use JSON tag names in error messages
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	registerCustomValidations()
}

func registerCustomValidations() {
	_ = validate.RegisterValidation("destination", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "bank", "mobile_money":
			return true
		}
		return false
	})

	_ = validate.RegisterValidation("limit_period", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "per_transaction", "daily", "weekly", "monthly":
			return true
		}
		return false
	})

	_ = validate.RegisterValidation("account_status", func(fl validator.FieldLevel) bool {
		switch fl.Field().String() {
		case "active", "suspended", "closed":
			return true
		}
		return false
	})
}

// FieldErrors lists failed fields keyed by their JSON name.
type FieldErrors struct {
	Fields map[string]string
}

func (e *FieldErrors) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation error: " + strings.Join(parts, "; ")
}

func (e *FieldErrors) Unwrap() error { return apperrors.ErrValidation }

// Validate checks struct tags and returns *FieldErrors when any field fails.
func Validate(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperrors.Validation("%v", err)
	}

	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		field := fe.Field()
		switch fe.Tag() {
		case "required":
			fields[field] = "is required"
		case "min":
			fields[field] = "is too short (min: " + fe.Param() + ")"
		case "max":
			fields[field] = "is too long (max: " + fe.Param() + ")"
		case "len":
			fields[field] = "must be " + fe.Param() + " characters"
		case "numeric":
			fields[field] = "must contain digits only"
		case "uuid", "uuid4":
			fields[field] = "must be a UUID"
		case "destination":
			fields[field] = "must be bank or mobile_money"
		case "limit_period":
			fields[field] = "must be per_transaction, daily, weekly or monthly"
		case "account_status":
			fields[field] = "must be active, suspended or closed"
		default:
			fields[field] = "is invalid"
		}
	}
	return &FieldErrors{Fields: fields}
}

// ValidateVar validates a single variable.
func ValidateVar(field any, tag string) error {
	return validate.Var(field, tag)
}
