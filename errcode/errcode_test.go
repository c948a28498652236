package errcode

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestOf(t *testing.T) {
	require.Equal(t, OK, Of(nil))
	require.Equal(t, GPSTimeout, Of(GPSTimeout))
	require.Equal(t, Error, Of(fmt.Errorf("plain")))
}

func TestOfUnwrapsChains(t *testing.T) {
	err := errors.Wrap(RingLockout, "hal: ring on")
	require.Equal(t, RingLockout, Of(err))
	require.Equal(t, BadChecksum, Of(fmt.Errorf("outer: %w", BadChecksum)))
}
