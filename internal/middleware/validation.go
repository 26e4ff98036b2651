package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	apierrors "fontlens/internal/errors"
	"fontlens/internal/provider"
)

const maxBodySize = 64 << 10

var licenseKeyPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9-]{6,62}[A-Za-z0-9]$`)

// Validator decodes and validates JSON request bodies using struct tags.
type Validator struct {
	validate *validator.Validate
}

// NewValidator registers the custom tags used by request bodies:
// license_key and operation.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("license_key", isLicenseKey)
	_ = v.RegisterValidation("operation", isOperation)

	// Use JSON tag names in error messages
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return &Validator{validate: v}
}

// Decode reads a JSON body into dst and validates it. Errors are *APIError
// values ready for the error handler.
func (v *Validator) Decode(r *http.Request, dst any) error {
	if ct := r.Header.Get("Content-Type"); ct != "" && !strings.HasPrefix(ct, "application/json") {
		return apierrors.NewWithDetails(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE",
			"Unsupported content type", map[string]string{"content_type": ct})
	}

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apierrors.InvalidRequestWithError(errors.New("request body is empty"))
		}
		return apierrors.InvalidRequestWithError(err)
	}
	return v.Struct(dst)
}

// Struct validates s.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return apierrors.InvalidRequestWithError(err)
	}
	out := make([]apierrors.ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, apierrors.ValidationError{Field: fe.Field(), Message: formatFieldError(fe)})
	}
	return apierrors.NewValidationErrors(out)
}

func formatFieldError(fe validator.FieldError) string {
	field, param := fe.Field(), fe.Param()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, param)
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, param)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, strings.ReplaceAll(param, " ", ", "))
	case "license_key":
		return fmt.Sprintf("%s must be 8 to 64 letters, digits or dashes", field)
	case "operation":
		return fmt.Sprintf("%s must be a known analysis operation", field)
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

func isLicenseKey(fl validator.FieldLevel) bool {
	return licenseKeyPattern.MatchString(strings.TrimSpace(fl.Field().String()))
}

func isOperation(fl validator.FieldLevel) bool {
	op := provider.Operation(fl.Field().String())
	for _, known := range provider.Operations() {
		if op == known {
			return true
		}
	}
	return false
}
