package errors

import "log/slog"

// Attrs exposes the error's structured fields as slog attributes.
func (e *Error) Attrs() []slog.Attr {
	a := make([]slog.Attr, 0, 6)

	a = append(a, slog.String("kind", e.Kind.String()))

	if e.NestedError != nil {
		a = append(a, slog.Any("nested_error", e.NestedError))
	}

	if e.PropertyName != "" {
		a = append(a, slog.String("property_name", e.PropertyName))
	}
	if e.PropertyValue != nil {
		a = append(a, slog.Any("property_value", e.PropertyValue))
	}

	if e.RequestID != "" {
		a = append(a, slog.String("request_id", e.RequestID))
	}
	if e.Topic != "" {
		a = append(a, slog.String("topic", e.Topic))
	}

	return a
}
