package connector

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTimeout(t *testing.T) {
	assert.True(t, IsTimeout(ErrDeadline))
	assert.True(t, IsTimeout(fmt.Errorf("invoke: %w", ErrDeadline)))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(errors.New("connection refused")))
	assert.False(t, IsTimeout(nil))
}

func TestClassifyInvokeError(t *testing.T) {
	outcome := ClassifyInvokeError(errors.New("server error -32602: invalid arguments for operation"))
	assert.True(t, outcome.Secure)
	assert.True(t, outcome.BestEffort, "text sniffing must always be flagged best-effort")

	outcome = ClassifyInvokeError(errors.New("broken pipe"))
	assert.False(t, outcome.Secure)
	assert.True(t, outcome.BestEffort)

	assert.Equal(t, ValidationOutcome{}, ClassifyInvokeError(nil))
}
