package config

import (
	"errors"
	"os"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"azflow/internal/apperrors"
)

// Lookup resolves a fallback value by name.
type Lookup func(key string) (string, bool)

// EnvLookup reads fallbacks from the process environment.
var EnvLookup Lookup = os.LookupEnv

// MapLookup reads fallbacks from a fixed map.
func MapLookup(values map[string]string) Lookup {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

// Value returns the fallback for key, or "" when lookup is nil or the key is unset.
func (l Lookup) Value(key string) string {
	if l == nil {
		return ""
	}
	v, _ := l(key)
	return v
}

// Required converts the result of validation.ValidateStruct into one
// configuration error. Missing values are reported together; if none are
// missing, the first invalid value is reported.
func Required(err error) error {
	if err == nil {
		return nil
	}

	var internal validation.InternalError
	if errors.As(err, &internal) {
		return apperrors.Internal("config.validate", internal.InternalError())
	}

	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return apperrors.InvalidConfiguration("config", err.Error())
	}

	missing, invalid := collect("", verrs)
	if len(missing) > 0 {
		return apperrors.Configuration(missing...)
	}
	if len(invalid) > 0 {
		sort.Slice(invalid, func(i, j int) bool { return invalid[i].field < invalid[j].field })
		return apperrors.InvalidConfiguration(invalid[0].field, invalid[0].msg)
	}
	return nil
}

type fieldError struct {
	field string
	msg   string
}

func collect(prefix string, verrs validation.Errors) ([]string, []fieldError) {
	var missing []string
	var invalid []fieldError
	for key, err := range verrs {
		if err == nil {
			continue
		}
		field := key
		if prefix != "" {
			field = prefix + "." + key
		}

		var nested validation.Errors
		if errors.As(err, &nested) {
			m, i := collect(field, nested)
			missing = append(missing, m...)
			invalid = append(invalid, i...)
			continue
		}

		var verr validation.Error
		if errors.As(err, &verr) && isRequired(verr.Code()) {
			missing = append(missing, field)
			continue
		}
		invalid = append(invalid, fieldError{field: field, msg: err.Error()})
	}
	return missing, invalid
}

func isRequired(code string) bool {
	return code == validation.ErrRequired.Code() || code == validation.ErrNilOrNotEmpty.Code()
}
