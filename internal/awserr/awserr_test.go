package awserr

import (
	"errors"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/erfanmomeniii/conveyor"
)

func TestClassify(t *testing.T) {
	c := Common.Merge(Classifier{Throttled: NewCodes("ProvisionedThroughputExceededException")})

	tests := []struct {
		name      string
		err       error
		throttled bool
		retryable bool
	}{
		{"throttling", &smithy.GenericAPIError{Code: "ThrottlingException"}, true, true},
		{"merged code", &smithy.GenericAPIError{Code: "ProvisionedThroughputExceededException"}, true, true},
		{"internal", &smithy.GenericAPIError{Code: "InternalFailure"}, false, true},
		{"server fault", &smithy.GenericAPIError{Code: "Odd", Fault: smithy.FaultServer}, false, true},
		{"client fault", &smithy.GenericAPIError{Code: "ResourceNotFoundException", Fault: smithy.FaultClient}, false, false},
		{"not an api error", errors.New("dial tcp: refused"), false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Classify("put", tt.err)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.err)
			assert.Equal(t, tt.throttled, errors.Is(err, conveyor.ErrThrottled))
			assert.Equal(t, tt.retryable, conveyor.IsRetryable(err))
		})
	}

	assert.NoError(t, c.Classify("put", nil))
}
