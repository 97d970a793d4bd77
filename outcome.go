package conveyor

import "fmt"

// Failure codes set by conveyor. Backend-specific codes are passed through
// unchanged.
const (
	CodeThrottled        = "Throttled"
	CodeUnavailable      = "BackendUnavailable"
	CodeValidation       = "ValidationError"
	CodeRetriesExhausted = "RetriesExhausted"
	CodeEntryTooLarge    = "EntryTooLarge"
	CodeAborted          = "Aborted"
)

// Failure describes why an entry was not delivered.
type Failure struct {
	Code      string
	Message   string
	Retryable bool
}

func (f *Failure) Error() string {
	if f.Message == "" {
		return "conveyor: " + f.Code
	}
	return fmt.Sprintf("conveyor: %s: %s", f.Code, f.Message)
}

// Outcome is the final result for one entry of a submitted batch.
// Exactly one of ID (on success) or Failure is meaningful.
type Outcome struct {
	// ID is the sequence number or message id assigned by the backend.
	ID string

	// Failure is nil on success.
	Failure *Failure

	// Attempts is the number of rounds in which the entry was submitted.
	Attempts int
}

// OK reports whether the entry was delivered.
func (o Outcome) OK() bool {
	return o.Failure == nil
}

// Err returns the failure as an error, or nil on success.
func (o Outcome) Err() error {
	if o.Failure == nil {
		return nil
	}
	return o.Failure
}

// CountOutcomes returns the number of delivered and failed outcomes.
func CountOutcomes(outcomes []Outcome) (delivered, failed int) {
	for _, o := range outcomes {
		if o.OK() {
			delivered++
		} else {
			failed++
		}
	}
	return delivered, failed
}
