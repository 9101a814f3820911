package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreError_ErrorString(t *testing.T) {
	e := New(KindValidation, "dimension_mismatch", "expected 768, got 384")
	assert.Equal(t, "[VALIDATION:dimension_mismatch] expected 768, got 384", e.Error())

	withoutCode := New(KindConfig, "", "missing storage.backend")
	assert.Equal(t, "[CONFIG] missing storage.backend", withoutCode.Error())
}

func TestStoreError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	e := TransientBackend("vector_upsert", cause)

	assert.Same(t, cause, e.Unwrap())
	assert.ErrorIs(t, e, cause)
}

func TestStoreError_Is_MatchesByKindAndCode(t *testing.T) {
	a := Conflict("duplicate_link", "link already exists")
	b := Conflict("duplicate_link", "a different message")
	c := Conflict("duplicate_file_path", "different code")
	d := Validation("duplicate_link", "different kind")

	assert.True(t, a.Is(b))
	assert.False(t, a.Is(c))
	assert.False(t, a.Is(d))
}

func TestStoreError_Is_KindOnlyWhenCodeEmpty(t *testing.T) {
	a := New(KindNotFound, "", "missing")
	b := New(KindNotFound, "memory_id", "also missing")

	assert.True(t, a.Is(b))
}

func TestWithDetailAndSuggestion_Chain(t *testing.T) {
	e := Validation("bad_duration", "unrecognized duration string").
		WithDetail("input", "7x").
		WithSuggestion("use a form like 7d, 2w, 1m, or 1y")

	require.NotNil(t, e.Details)
	assert.Equal(t, "7x", e.Details["input"])
	assert.Equal(t, "use a form like 7d, 2w, 1m, or 1y", e.Suggestion)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(TransientBackend("timeout", errors.New("i/o timeout"))))
	assert.False(t, IsRetryable(Validation("bad_input", "nope")))
	assert.False(t, IsRetryable(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Config("bad_url", "storage.networked_sql.connection_string is invalid")))
	assert.False(t, IsFatal(NotFound("memory_id", "not found")))
}

func TestGetKind(t *testing.T) {
	assert.Equal(t, KindUnsupported, GetKind(Unsupported("old_schema", "single-vector collection")))
	assert.Equal(t, Kind(""), GetKind(errors.New("plain error")))
}

func TestWrap_NilErrorReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(KindTransientBackend, "code", nil))
}
