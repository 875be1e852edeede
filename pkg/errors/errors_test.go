package errors

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetadataForKnownCode(t *testing.T) {
	t.Parallel()

	meta := MetadataFor(CodeConcurrencyConflict)
	assert.Equal(t, http.StatusConflict, meta.HTTPStatus)
	assert.True(t, meta.Retryable)
}

func TestMetadataForUnknownCodeFallsBack(t *testing.T) {
	t.Parallel()

	meta := MetadataFor(Code("SOMETHING_ELSE"))
	assert.Equal(t, http.StatusInternalServerError, meta.HTTPStatus)
}

func TestWrapPreservesCause(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("row missing")
	err := Wrap(CodeNotFound, cause, "order not found")
	require.NotNil(t, err)
	assert.Equal(t, CodeNotFound, err.Code())
	assert.ErrorIs(t, err, cause)
}

func TestAsUnwrapsThroughFmt(t *testing.T) {
	t.Parallel()

	inner := New(CodeAmountMismatch, "amount off by one")
	wrapped := fmt.Errorf("payment: %w", inner)

	typed := As(wrapped)
	require.NotNil(t, typed)
	assert.Equal(t, CodeAmountMismatch, typed.Code())
	assert.True(t, HasCode(wrapped, CodeAmountMismatch))
	assert.False(t, HasCode(wrapped, CodeBalanceNotEnough))
}

func TestRetryable(t *testing.T) {
	t.Parallel()

	assert.True(t, Retryable(New(CodeConcurrencyConflict, "stock raced")))
	assert.False(t, Retryable(New(CodeDatabase, "write failed")))
	assert.False(t, Retryable(fmt.Errorf("plain error")))
}
