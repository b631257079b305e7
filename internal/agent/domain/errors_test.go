package domain

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMapConnectorCode(t *testing.T) {
	t.Parallel()

	t.Run("known fatal codes", func(t *testing.T) {
		for connector, agent := range map[string]string{
			"4004": "AUTHCL_1004",
			"4021": "AUTHCL_1021",
			"4204": "AUTHCL_1204",
		} {
			mapped, ok := MapConnectorCode(connector)
			require.True(t, ok)
			require.Equal(t, agent, mapped)
		}
	})

	t.Run("card gone is not fatal", func(t *testing.T) {
		_, ok := MapConnectorCode(ConnectorCodeBadHandle)
		require.False(t, ok)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, ok := MapConnectorCode("9999")
		require.False(t, ok)
	})
}

func TestFlowErrorUnwrap(t *testing.T) {
	t.Parallel()

	cause := fmt.Errorf("read: %w", io.ErrUnexpectedEOF)
	fe := NewFlowError(KindNetwork, CodeConnectorRefused, "connector unreachable", cause)

	require.ErrorIs(t, fe, io.ErrUnexpectedEOF)
	require.Contains(t, fe.Error(), CodeConnectorRefused)
	require.Contains(t, fe.Error(), "network")
}

func TestCancelled(t *testing.T) {
	t.Parallel()

	require.True(t, Cancelled(NewFlowError(KindCancelled, CodeUserCancelled, "stopped", nil)))
	require.False(t, Cancelled(NewFlowError(KindIdp, CodeIdpError, "rejected", nil)))
	require.False(t, Cancelled(errors.New("plain")))

	wrapped := fmt.Errorf("flow: %w", NewFlowError(KindCancelled, CodeUserCancelled, "stopped", nil))
	require.True(t, Cancelled(wrapped))
}

func TestAsFlowError(t *testing.T) {
	t.Parallel()

	t.Run("passes flow errors through", func(t *testing.T) {
		fe := NewFlowError(KindConnector, CodePinStatus, "pin status failed", nil)
		require.Same(t, fe, AsFlowError(fmt.Errorf("wrap: %w", fe)))
	})

	t.Run("wraps foreign errors with a code", func(t *testing.T) {
		fe := AsFlowError(errors.New("boom"))
		require.Equal(t, KindValidation, fe.Kind)
		require.Equal(t, CodeLaunchParams, fe.Code)
		require.EqualError(t, fe.Cause, "boom")
	})
}
