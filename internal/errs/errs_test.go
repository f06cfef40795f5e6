package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesSortedDetails(t *testing.T) {
	err := Precondition("state version mismatch").
		With("expected", "0").
		With("actual", "1")

	assert.Equal(t, "state version mismatch (actual=1, expected=0)", err.Error())
	assert.Equal(t, ExitCodeDomain, err.ExitCode())
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	base := Validation("bad field")
	derived := base.With("field", "x")

	assert.Empty(t, base.Details)
	assert.Equal(t, "x", derived.Details["field"])
}

func TestIsFollowsWrapping(t *testing.T) {
	inner := Concurrency("lock held")
	wrapped := fmt.Errorf("commit: %w", inner)

	assert.True(t, Is(wrapped, KindConcurrency))
	assert.False(t, Is(wrapped, KindPolicy))
	assert.True(t, IsDomain(wrapped))
	assert.False(t, IsDomain(errors.New("plain")))

	de, ok := As(wrapped)
	require.True(t, ok)
	assert.Same(t, inner, de)
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("unexpected end of JSON input")
	err := Wrap(KindValidation, cause, "parse %s", ".checkpoint.json")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "parse .checkpoint.json: unexpected end of JSON input", err.Error())
}
