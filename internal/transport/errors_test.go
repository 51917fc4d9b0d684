package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want Class
	}{
		{nil, Benign},
		{ErrAlreadyConnected, Benign},
		{fmt.Errorf("dial: %w", ErrEndpointUnknown), PeerGone},
		{ErrRejected, Rejected},
		{context.DeadlineExceeded, Transient},
		{io.EOF, Transient},
		{fmt.Errorf("send: %w", ErrQueueFull), Transient},
		{errors.New("radio hiccup"), Transient},
	}
	for _, tc := range cases {
		if got := Classify(tc.err); got != tc.want {
			t.Errorf("Classify(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}
