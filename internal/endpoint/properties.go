package endpoint

import (
	"errors"
	"fmt"
	"reflect"

	"golang-message-queue/internal/domain"
)

// Properties configures an endpoint. Recognised keys are defined by each
// transport (e.g. "durable", "exchange", "routing_key").
type Properties map[string]any

// ErrPropertyRequired is wrapped by every ConfigurationError.
var ErrPropertyRequired = errors.New("required property missing")

// ConfigurationError reports a mandatory property that is absent, of the
// wrong type, or set to its type's zero value.
type ConfigurationError struct {
	Property string
	Type     string
	Pattern  domain.Pattern
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("property named: %s of type: %s is required for: %s", e.Property, e.Type, e.Pattern)
}

func (e *ConfigurationError) Unwrap() error {
	return ErrPropertyRequired
}

// LookupProperty returns the value stored under name when its dynamic type is
// exactly T. No conversion is attempted: an int stored under "retries" is
// not an int64, and a concrete value never matches an interface T.
func LookupProperty[T any](props Properties, name string) (T, bool) {
	var zero T
	raw, ok := props[name]
	if !ok || raw == nil {
		return zero, false
	}
	if reflect.TypeOf(raw) != reflect.TypeFor[T]() {
		return zero, false
	}
	return raw.(T), true
}

// GetPropertyValue is LookupProperty without the presence flag. Callers cannot
// tell an absent property from one set to T's zero value.
func GetPropertyValue[T any](props Properties, name string) T {
	v, _ := LookupProperty[T](props, name)
	return v
}

// RequireProperty fails with a *ConfigurationError unless the endpoint's
// properties hold a non-zero value of exactly type T under name.
//
// A property explicitly set to the zero value (false, 0, "") is rejected the
// same way as a missing one. Use LookupProperty when zero is meaningful.
func RequireProperty[T comparable](e *Endpoint, name string) error {
	var zero T
	if GetPropertyValue[T](e.properties, name) == zero {
		return &ConfigurationError{
			Property: name,
			Type:     reflect.TypeFor[T]().String(),
			Pattern:  e.pattern,
		}
	}
	return nil
}
