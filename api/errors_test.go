package api_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-transport/api"
)

var errNative = errors.New("ECONNRESET (-104)")

func TestErrorMatchesSentinelByCode(t *testing.T) {
	reset := api.NewConnectionResetError(errNative)
	assert.ErrorIs(t, reset, api.ErrConnectionReset)
	assert.ErrorIs(t, reset, errNative)
	assert.True(t, api.IsConnectionReset(reset))
	assert.NotErrorIs(t, reset, api.ErrConnectionAborted)

	aborted := api.NewConnectionAbortedError("stopping")
	assert.ErrorIs(t, aborted, api.ErrConnectionAborted)
	assert.False(t, api.IsConnectionReset(aborted))

	assert.ErrorIs(t, api.NewError(api.ErrCodeInvalidArgument, "bad"), api.ErrInvalidArgument)
	assert.ErrorIs(t, api.NewError(api.ErrCodeNotSupported, "no"), api.ErrNotSupported)
}

func TestErrorMessage(t *testing.T) {
	err := api.NewIOError(errNative).WithContext("connection_id", "c1")
	assert.Contains(t, err.Error(), "i/o error: ECONNRESET (-104)")
	assert.Contains(t, err.Error(), "connection_id:c1")

	var apiErr *api.Error
	require.ErrorAs(t, error(err), &apiErr)
	assert.Equal(t, api.ErrCodeIO, apiErr.Code)
	assert.False(t, api.IsConnectionReset(err))
}

func TestListenTypeString(t *testing.T) {
	assert.Equal(t, "tcp", api.ListenTCP.String())
	assert.Equal(t, "pipe", api.ListenPipe.String())
	assert.Equal(t, "unknown", api.ListenType(9).String())
}
