package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"dfsportal/internal/types"
)

// maxStationLength bounds a station identifier in runes.
const maxStationLength = 64

// ValidationError describes one failed rule.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator and registers the portal's
// domain rules:
//
//	station  a station identifier usable as a URL path segment
//	isodate  a calendar date in YYYY-MM-DD form
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the custom tags registered. Field
// names in errors use the json tag when present.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	// Registration only fails for empty tags or nil functions.
	_ = v.RegisterValidation("station", validateStation)
	_ = v.RegisterValidation("isodate", validateISODate)

	return &Validator{validate: v, logger: logger}
}

func validateStation(fl validator.FieldLevel) bool {
	return IsValidStation(fl.Field().String())
}

func validateISODate(fl validator.FieldLevel) bool {
	return IsValidISODate(fl.Field().String())
}

// IsValidStation reports whether s can identify a station. Surrounding
// whitespace is rejected so two spellings never name the same station.
func IsValidStation(s string) bool {
	if s == "" || s != strings.TrimSpace(s) || utf8.RuneCountInString(s) > maxStationLength || !utf8.ValidString(s) {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) || r == '/' {
			return false
		}
	}
	return true
}

// IsValidISODate reports whether s is a real calendar date in YYYY-MM-DD form.
func IsValidISODate(s string) bool {
	if len(s) != len(time.DateOnly) {
		return false
	}
	_, err := time.Parse(time.DateOnly, s)
	return err == nil
}

// ValidateStruct validates s and returns a *types.AppError whose code is
// that of the first failure. Every failure is listed under
// details["validation_errors"].
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var invalid validator.ValidationErrors
	if !errors.As(err, &invalid) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	errs := make([]ValidationError, 0, len(invalid))
	for _, fe := range invalid {
		errs = append(errs, toValidationError(fe))
	}
	return types.NewAppErrorWithDetails(types.ErrorCode(errs[0].Code), errs[0].Message, err,
		map[string]any{"validation_errors": errs})
}

func toValidationError(fe validator.FieldError) ValidationError {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return ValidationError{Field: field, Code: string(types.ErrCodeValidationMissingField),
			Message: field + " is required"}
	case "station":
		return ValidationError{Field: field, Code: string(types.ErrCodeValidationInvalidStation),
			Message: fmt.Sprintf("%s must be a station identifier of at most %d characters without '/'", field, maxStationLength)}
	case "isodate":
		return ValidationError{Field: field, Code: string(types.ErrCodeValidationInvalidDate),
			Message: field + " must be a date in YYYY-MM-DD form"}
	default:
		return ValidationError{Field: field, Code: string(types.ErrCodeValidationInvalidField),
			Message: fmt.Sprintf("%s failed the %q rule", field, fe.Tag())}
	}
}
