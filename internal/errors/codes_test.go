package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCode(t *testing.T) {
	tests := []struct {
		input string
		want  Code
	}{
		{"KEY_NOT_FOUND", CodeKeyNotFound},
		{"key_not_found", CodeKeyNotFound},
		{"key not found", CodeKeyNotFound},
		{"KEY-EXPIRED", CodeKeyExpired},
		{"license expired", CodeKeyExpired},
		{"KEY_INACTIVE", CodeKeyInactive},
		{"license revoked", CodeKeyInactive},
		{"MAX_DEVICES_REACHED", CodeMaxDevicesReached},
		{"device limit exceeded", CodeMaxDevicesReached},
		{"NOT_CONFIGURED", CodeNotConfigured},
		{"OFFLINE", CodeOffline},
		{"invalid_key", CodeKeyNotFound},
		{"subscription suspended", CodeKeyInactive},
		{"", CodeUnknown},
		{"database exploded", CodeUnknown},
		{"JWT expired", CodeUnknown},
		{"404 page not found", CodeUnknown},
		{"api key expired", CodeUnknown},
		{"Could not find the function public.validate_license in the schema cache", CodeUnknown},
		{"token revoked", CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseCode(tt.input))
		})
	}
}

func TestCodeMetadataCoversClosedSet(t *testing.T) {
	for _, code := range Codes {
		assert.True(t, code.Valid(), code)
		assert.NotEmpty(t, MessageFor(code), code)
		assert.NotEmpty(t, RemediationFor(code), code)
		assert.NotZero(t, StatusFor(code), code)
	}
	assert.False(t, Code("SOMETHING_ELSE").Valid())
	assert.Equal(t, MessageFor(CodeUnknown), MessageFor("SOMETHING_ELSE"))
}

func TestNewErrorCarriesRemediation(t *testing.T) {
	err := NewError(CodeMaxDevicesReached, nil)
	assert.Equal(t, MessageFor(CodeMaxDevicesReached), err.Message)
	assert.Equal(t, RemediationFor(CodeMaxDevicesReached), err.Remediation)

	api := FromError(fmt.Errorf("deactivate: %w", err))
	assert.Equal(t, string(CodeMaxDevicesReached), api.ErrorCode)
	assert.Equal(t, err.Remediation, api.Remediation)
}

func TestKeyVerdict(t *testing.T) {
	assert.True(t, CodeKeyNotFound.KeyVerdict())
	assert.True(t, CodeKeyInactive.KeyVerdict())
	assert.True(t, CodeKeyExpired.KeyVerdict())
	assert.True(t, CodeMaxDevicesReached.KeyVerdict())
	assert.False(t, CodeOffline.KeyVerdict())
	assert.False(t, CodeNotConfigured.KeyVerdict())
	assert.False(t, CodeUnknown.KeyVerdict())
}

func TestErrorWrapping(t *testing.T) {
	cause := stderrors.New("dial tcp: connection refused")
	err := fmt.Errorf("deactivate: %w", NewError(CodeOffline, cause))

	assert.True(t, Is(err, ErrOffline))
	assert.False(t, Is(err, ErrUnknown))
	assert.True(t, Is(err, cause))
	assert.Equal(t, CodeOffline, CodeOf(err))
	assert.Equal(t, CodeUnknown, CodeOf(stderrors.New("plain")))
	assert.Contains(t, err.Error(), "OFFLINE")
}

func TestFromError(t *testing.T) {
	apiErr := FromError(NewError(CodeMaxDevicesReached, nil))
	require.NotNil(t, apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "MAX_DEVICES_REACHED", apiErr.ErrorCode)
	assert.NotEmpty(t, apiErr.Remediation)

	unknown := FromError(stderrors.New("boom"))
	assert.Equal(t, "UNKNOWN_ERROR", unknown.ErrorCode)
	assert.Equal(t, http.StatusInternalServerError, unknown.StatusCode)

	passthrough := FromError(ErrRateLimitExceeded)
	assert.Same(t, ErrRateLimitExceeded, passthrough)

	assert.Nil(t, FromError(nil))
}
