package errors

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNotFoundMessage(t *testing.T) {
	err := NotFound("requirement")
	assert.Equal(t, "Requirement not found", err.Message)
	assert.True(t, IsCode(err, CodeNotFound))
}

func TestCodeOfUnwrapsWrappedErrors(t *testing.T) {
	inner := Invalid("bad %s", "input")
	outer := fmt.Errorf("handler: %w", inner)

	assert.Equal(t, CodeInvalid, CodeOf(outer))
	assert.Equal(t, CodeUnknown, CodeOf(fmt.Errorf("plain")))
	assert.False(t, IsCode(nil, CodeNotFound))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("connection reset")
	err := Wrap(cause, CodeInternal, "count requirements failed").WithMeta("project_id", "p1")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "p1", err.Meta["project_id"])
	assert.Contains(t, err.Error(), "count requirements failed")
}
