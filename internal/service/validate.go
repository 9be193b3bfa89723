package service

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"poscore/backend/internal/store"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validateRequest runs the struct tags of req and flattens failures into a
// Validation error keyed by the json field path.
func validateRequest(req any) error {
	err := validate.Struct(req)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return store.Validation(store.CodeInvalidInput, err.Error(), nil)
	}
	return store.Validation(store.CodeInvalidInput, "request failed validation", processValidationErrors(fieldErrs))
}

func processValidationErrors(fieldErrs validator.ValidationErrors) map[string]any {
	fields := make(map[string]any, len(fieldErrs))
	for _, fe := range fieldErrs {
		path := fe.Namespace()
		if idx := strings.Index(path, "."); idx >= 0 {
			path = path[idx+1:]
		}
		fields[path] = fe.Tag()
	}
	return fields
}

func requirePositive(field string, value decimal.Decimal) error {
	if !value.IsPositive() {
		return store.Validation(store.CodeInvalidInput, field+" must be positive", map[string]any{field: value.String()})
	}
	return nil
}

func requireNonNegative(field string, value decimal.Decimal) error {
	if value.IsNegative() {
		return store.Validation(store.CodeInvalidInput, field+" must not be negative", map[string]any{field: value.String()})
	}
	return nil
}

func normalizeCurrency(currency string, fallback string) string {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if currency == "" {
		return fallback
	}
	return currency
}
