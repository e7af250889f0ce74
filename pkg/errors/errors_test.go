package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogCoversEveryCode(t *testing.T) {
	cases := []struct {
		code      Code
		status    int
		retryable bool
		details   bool
	}{
		{CodeValidation, http.StatusBadRequest, false, true},
		{CodeUnauthorized, http.StatusUnauthorized, false, false},
		{CodeForbidden, http.StatusForbidden, false, false},
		{CodeNotFound, http.StatusNotFound, false, false},
		{CodeConflict, http.StatusConflict, false, false},
		{CodeStateConflict, http.StatusUnprocessableEntity, false, true},
		{CodeIdempotency, http.StatusConflict, false, true},
		{CodeRateLimit, http.StatusTooManyRequests, true, false},
		{CodeInternal, http.StatusInternalServerError, true, false},
		{CodeDependency, http.StatusServiceUnavailable, true, true},
	}
	require.Len(t, catalog, len(cases))
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			m := MetadataFor(tc.code)
			assert.Equal(t, tc.status, m.HTTPStatus)
			assert.Equal(t, tc.retryable, m.Retryable)
			assert.Equal(t, tc.details, m.DetailsAllowed)
			assert.NotEmpty(t, m.PublicMessage)
		})
	}
}

func TestUnknownCodeRendersAsInternal(t *testing.T) {
	assert.Equal(t, MetadataFor(CodeInternal), MetadataFor("SOMETHING_UNKNOWN"))
}

func TestWrapKeepsCauseReachable(t *testing.T) {
	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "insert partnership")

	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, CodeConflict, wrapped.Code())
	assert.Equal(t, "CONFLICT: insert partnership", wrapped.Error())

	plain := Wrap(CodeNotFound, nil, "goal not found")
	assert.Nil(t, plain.Unwrap())
}

func TestWithDetailsChains(t *testing.T) {
	err := New(CodeValidation, "missing title").WithDetails(map[string]string{"field": "title"})
	assert.Equal(t, "missing title", err.Message())
	assert.Equal(t, map[string]string{"field": "title"}, err.Details())

	var nilErr *Error
	assert.Nil(t, nilErr.WithDetails("x"))
	assert.Equal(t, CodeInternal, nilErr.Code())
	assert.Empty(t, nilErr.Error())
}

func TestAsFindsTypedErrorThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("outer: %w", New(CodeStateConflict, "partnership already ended"))

	typed := As(wrapped)
	require.NotNil(t, typed)
	assert.Equal(t, "partnership already ended", typed.Message())
	assert.Equal(t, CodeStateConflict, CodeOf(wrapped))
	assert.True(t, IsCode(wrapped, CodeStateConflict))
	assert.False(t, IsCode(wrapped, CodeConflict))

	assert.Nil(t, As(nil))
	assert.Equal(t, CodeInternal, CodeOf(stdErrors.New("plain")))
	assert.False(t, IsCode(nil, CodeInternal))
}

func TestCodeForStatus(t *testing.T) {
	cases := map[int]Code{
		http.StatusBadRequest:          CodeValidation,
		http.StatusUnauthorized:        CodeUnauthorized,
		http.StatusNotFound:            CodeNotFound,
		http.StatusConflict:            CodeConflict,
		http.StatusUnprocessableEntity: CodeStateConflict,
		http.StatusTooManyRequests:     CodeRateLimit,
		http.StatusBadGateway:          CodeDependency,
		http.StatusGatewayTimeout:      CodeDependency,
		http.StatusTeapot:              CodeInternal,
	}
	for status, want := range cases {
		assert.Equal(t, want, CodeForStatus(status), "status %d", status)
	}
}

func TestNewfFormatsMessage(t *testing.T) {
	err := Newf(CodeValidation, "duration must be between %d and %d", 5, 240)
	assert.Equal(t, "duration must be between 5 and 240", err.Message())
}
