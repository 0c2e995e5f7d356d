package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRegister(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		msg  string
		want RegisterRequest
		err  error
	}{
		{
			name: "without password",
			msg:  "register 2_ws client-7",
			want: RegisterRequest{Version: 2, Tag: "ws", ClientID: "client-7"},
		},
		{
			name: "with password",
			msg:  "register 3_ws hunter2 client-7",
			want: RegisterRequest{Version: 3, Tag: "ws", Password: "hunter2", ClientID: "client-7"},
		},
		{
			name: "extra whitespace",
			msg:  "register   2_ws   client-7 ",
			want: RegisterRequest{Version: 2, Tag: "ws", ClientID: "client-7"},
		},
		{name: "missing client id", msg: "register 2_ws", err: ErrMalformedRegister},
		{name: "too many fields", msg: "register 2_ws a b c", err: ErrMalformedRegister},
		{name: "no version tag", msg: "register 2 client-7", err: ErrMissingVersionTag},
		{name: "empty tag", msg: "register 2_ client-7", err: ErrMissingVersionTag},
		{name: "non-numeric version", msg: "register x_ws client-7", err: ErrMalformedRegister},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseRegister(tt.msg)
			if tt.err != nil {
				require.ErrorIs(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}
}
