package response

// Envelope is the standard API response format. Every endpoint, success or
// failure, returns this shape so clients can decode uniformly.
type Envelope struct {
	Success bool                `json:"success"`
	Message string              `json:"message,omitempty"`
	Data    interface{}         `json:"data,omitempty"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

// Success wraps data in a success envelope
func Success(message string, data interface{}) Envelope {
	return Envelope{
		Success: true,
		Message: message,
		Data:    data,
	}
}

// Error returns an error envelope with a human-readable message
func Error(message string) Envelope {
	return Envelope{
		Success: false,
		Message: message,
	}
}

// ValidationError returns an error envelope carrying per-field messages,
// keyed by the offending field name
func ValidationError(message string, errors map[string][]string) Envelope {
	return Envelope{
		Success: false,
		Message: message,
		Errors:  errors,
	}
}

// FieldError is shorthand for a single-field validation error
func FieldError(field, message string) Envelope {
	return ValidationError(message, map[string][]string{field: {message}})
}
