package dErrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHasCode(t *testing.T) {
	err := New(CodeNotFound, "record missing")
	assert.True(t, HasCode(err, CodeNotFound))
	assert.False(t, HasCode(err, CodeConflict))
}

func TestWrapPreservesChain(t *testing.T) {
	root := errors.New("connection refused")
	wrapped := Wrap(root, CodeInternal, "backend unreachable")
	outer := Wrap(wrapped, CodeCredentialInvalid, "credential check failed")

	assert.True(t, HasCode(outer, CodeCredentialInvalid))
	assert.True(t, HasCode(outer, CodeInternal))
	assert.ErrorIs(t, outer, root)
}

func TestWrapNil(t *testing.T) {
	require.NoError(t, Wrap(nil, CodeInternal, "ignored"))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeDecryptionFailed, CodeOf(New(CodeDecryptionFailed, "bad tag")))
	assert.Equal(t, CodeInternal, CodeOf(errors.New("plain")))

	// Outermost code wins for wrapped chains.
	inner := New(CodeNotFound, "missing")
	outer := Wrap(inner, CodeInternal, "lookup failed")
	assert.Equal(t, CodeInternal, CodeOf(outer))
}

func TestErrorMessage(t *testing.T) {
	err := Wrap(fmt.Errorf("boom"), CodeRotationFailed, "could not mint credential")
	assert.Contains(t, err.Error(), "rotation_failed")
	assert.Contains(t, err.Error(), "boom")
}
