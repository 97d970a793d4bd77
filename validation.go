package conveyor

import (
	"errors"
	"fmt"
	"time"
)

// ErrValidation is matched by every ValidationError.
var ErrValidation = errors.New("conveyor: validation failed")

// ValidationError contains details about an entry that failed validation.
type ValidationError struct {
	Entry   Entry
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conveyor: validation failed: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("conveyor: validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Validator checks an entry before it is submitted.
// Return nil if valid, or an error describing the validation failure.
type Validator func(Entry) error

func validateEntry(e Entry, validators []Validator) error {
	for _, v := range validators {
		if err := v(e); err != nil {
			return err
		}
	}
	return nil
}

// Common validators

// NotEmpty rejects entries with an empty payload.
func NotEmpty() Validator {
	return func(e Entry) error {
		if len(e.Payload) == 0 {
			return &ValidationError{Entry: e, Message: "payload is required"}
		}
		return nil
	}
}

// RequireKey rejects entries without a distribution key. FIFO queues
// require one as the message group id.
func RequireKey() Validator {
	return func(e Entry) error {
		if e.Key == "" {
			return &ValidationError{Entry: e, Message: "key is required"}
		}
		return nil
	}
}

// RequireDedupID rejects entries without a deduplication id. FIFO queues
// without content-based deduplication require one.
func RequireDedupID() Validator {
	return func(e Entry) error {
		if e.DedupID == "" {
			return &ValidationError{Entry: e, Message: "dedup id is required"}
		}
		return nil
	}
}

// MaxKeyLen rejects entries whose key is longer than n bytes.
func MaxKeyLen(n int) Validator {
	return func(e Entry) error {
		if len(e.Key) > n {
			return &ValidationError{
				Entry:   e,
				Message: fmt.Sprintf("key length %d exceeds %d", len(e.Key), n),
			}
		}
		return nil
	}
}

// MaxDelay rejects entries whose delivery delay exceeds d.
func MaxDelay(d time.Duration) Validator {
	return func(e Entry) error {
		if e.Delay > d {
			return &ValidationError{
				Entry:   e,
				Message: fmt.Sprintf("delay %s exceeds %s", e.Delay, d),
			}
		}
		return nil
	}
}

// Matches creates a validator using a custom predicate.
func Matches(predicate func(Entry) bool, message string) Validator {
	return func(e Entry) error {
		if !predicate(e) {
			return &ValidationError{Entry: e, Message: message}
		}
		return nil
	}
}
