package security

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestReason(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{ErrProtocol, ReasonProtocol},
		{fmt.Errorf("%w: init twice", ErrProtocol), ReasonProtocol},
		{ErrReplay, ReasonReplay},
		{ErrSignatureMismatch, ReasonSignatureMismatch},
		{fmt.Errorf("%w: no pending key", ErrDecapsulation), ReasonDecapsulation},
		{ErrUnknownDevice, ReasonUnknownDevice},
		{errors.New("redis down"), ReasonInternal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, Reason(tc.err), tc.err.Error())
	}
}
