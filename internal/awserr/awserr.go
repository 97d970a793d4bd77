// Package awserr classifies AWS SDK errors for the conveyor retry loop.
package awserr

import (
	"errors"
	"fmt"

	"github.com/aws/smithy-go"

	"github.com/erfanmomeniii/conveyor"
)

// Codes are sets of AWS error codes.
type Codes map[string]bool

// NewCodes returns a set of the given codes.
func NewCodes(codes ...string) Codes {
	c := make(Codes, len(codes))
	for _, code := range codes {
		c[code] = true
	}
	return c
}

// Classifier marks whole-call errors as throttling or unavailability so
// the Submitter and Waiter retry them.
type Classifier struct {
	Throttled   Codes
	Unavailable Codes
}

// Classify wraps err with conveyor.ErrThrottled or conveyor.ErrUnavailable
// when its API error code is one of c's codes, or when it is a server
// fault. Other errors are wrapped with op only.
func (c Classifier) Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		switch {
		case c.Throttled[code]:
			return fmt.Errorf("%s: %w: %w", op, conveyor.ErrThrottled, err)
		case c.Unavailable[code], apiErr.ErrorFault() == smithy.FaultServer:
			return fmt.Errorf("%s: %w: %w", op, conveyor.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Common holds codes shared by most AWS services.
var Common = Classifier{
	Throttled: NewCodes(
		"ThrottlingException",
		"Throttling",
		"TooManyRequestsException",
		"RequestLimitExceeded",
		"LimitExceededException",
	),
	Unavailable: NewCodes(
		"InternalFailure",
		"InternalServerError",
		"InternalServerException",
		"ServiceUnavailable",
		"ServiceUnavailableException",
	),
}

// Merge returns a classifier with the codes of c and other.
func (c Classifier) Merge(other Classifier) Classifier {
	merged := Classifier{Throttled: Codes{}, Unavailable: Codes{}}
	for _, src := range []Classifier{c, other} {
		for code := range src.Throttled {
			merged.Throttled[code] = true
		}
		for code := range src.Unavailable {
			merged.Unavailable[code] = true
		}
	}
	return merged
}
