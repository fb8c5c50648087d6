package api

import (
	"fmt"

	"github.com/nicktill/tinywatch/pkg/rawlog"
)

// Request validation limits
const (
	MaxSamplesPerRequest = 1000    // Maximum samples in one request
	MaxFieldsPerSample   = 64      // Maximum fields per sample
	MaxFieldNameLength   = 256     // Maximum field name length
	MaxStringValueLength = 1024    // Maximum string value length
	MaxRequestBodyBytes  = 4 << 20 // Maximum request body size
)

var (
	// ErrTooManySamples is returned when a request carries too many samples
	ErrTooManySamples = fmt.Errorf("too many samples in request (max %d)", MaxSamplesPerRequest)

	// ErrTooManyFields is returned when a sample has too many fields
	ErrTooManyFields = fmt.Errorf("too many fields (max %d)", MaxFieldsPerSample)

	// ErrFieldNameTooLong is returned when a field name is too long
	ErrFieldNameTooLong = fmt.Errorf("field name too long (max %d chars)", MaxFieldNameLength)

	// ErrFieldNameEmpty is returned when a field name is empty
	ErrFieldNameEmpty = fmt.Errorf("field name cannot be empty")

	// ErrStringValueTooLong is returned when a string value is too long
	ErrStringValueTooLong = fmt.Errorf("string value too long (max %d chars)", MaxStringValueLength)

	// ErrNestedValue is returned for objects and arrays; raw samples are flat
	ErrNestedValue = fmt.Errorf("nested values are not allowed in samples")

	// ErrBadTimestamp is returned when the timestamp is not a number
	ErrBadTimestamp = fmt.Errorf("timestamp must be epoch seconds")
)

// ValidateSample validates one raw sample against the limits.
func ValidateSample(r rawlog.Record) error {
	if len(r) > MaxFieldsPerSample {
		return fmt.Errorf("%w: sample has %d fields", ErrTooManyFields, len(r))
	}

	for k, v := range r {
		if k == "" {
			return ErrFieldNameEmpty
		}
		if len(k) > MaxFieldNameLength {
			return fmt.Errorf("%w: %q has %d chars", ErrFieldNameTooLong, k, len(k))
		}
		switch x := v.(type) {
		case string:
			if len(x) > MaxStringValueLength {
				return fmt.Errorf("%w: field %q", ErrStringValueTooLong, k)
			}
		case map[string]any, []any:
			return fmt.Errorf("%w: field %q", ErrNestedValue, k)
		}
	}

	if _, present := r[rawlog.TimestampField]; present {
		if _, ok := r.Timestamp(); !ok {
			return ErrBadTimestamp
		}
	}
	return nil
}
