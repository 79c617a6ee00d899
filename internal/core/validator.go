package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"adalerts/internal/types"
)

// ValidationError describes one field that failed validation.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ValidationResult collects every field failure for a struct.
type ValidationResult struct {
	Errors []ValidationError
}

// IsValid reports whether no field failed.
func (r ValidationResult) IsValid() bool {
	return len(r.Errors) == 0
}

// Validator wraps go-playground/validator with the domain tags used by the
// request DTOs: publisher_type and override_mode. Field names are reported
// by their JSON name.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator and registers the custom tags.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	// Registration only fails for empty tags or nil funcs.
	_ = v.RegisterValidation("publisher_type", func(fl validator.FieldLevel) bool {
		return types.PublisherType(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("override_mode", func(fl validator.FieldLevel) bool {
		return types.OverrideMode(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

// Check validates s and returns every failing field.
func (v *Validator) Check(s any) ValidationResult {
	err := v.validate.Struct(s)
	if err == nil {
		return ValidationResult{}
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		if v.logger != nil {
			v.logger.Error("validator misuse", "error", err)
		}
		return ValidationResult{Errors: []ValidationError{{Code: "invalid", Message: err.Error()}}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fieldPath(fe),
			Code:    fe.Tag(),
			Message: validationMessage(fe),
		})
	}
	return ValidationResult{Errors: out}
}

// ValidateStruct returns nil for a valid s, otherwise a validation_failed
// AppError whose details list the failing fields.
func (v *Validator) ValidateStruct(s any) error {
	res := v.Check(s)
	if res.IsValid() {
		return nil
	}
	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationFailed,
		"request validation failed",
		nil,
		map[string]any{"fields": res.Errors},
	)
}

// fieldPath strips the top-level struct name from the namespace so nested
// fields read as "filter.city_ids[0]".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "field is required"
	case "publisher_type":
		return fmt.Sprintf("unknown publisher type %q", fe.Value())
	case "override_mode":
		return "mode must be ALLOW or BLOCK"
	case "gt", "gte", "lt", "lte", "min", "max":
		return fmt.Sprintf("must satisfy %s=%s", fe.Tag(), fe.Param())
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
