package runner

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsChannelErrorRecognizesTransportFailures(t *testing.T) {
	assert.True(t, isChannelError(errors.New("ssh: unexpected packet in response to channel open")))
	assert.True(t, isChannelError(errors.New("read tcp: connection reset by peer")))
	assert.True(t, isChannelError(net.ErrClosed))
	assert.True(t, isChannelError(context.DeadlineExceeded))
}

func TestIsChannelErrorIgnoresAPILevelErrors(t *testing.T) {
	assert.False(t, isChannelError(errors.New("No such container: audiobook-xtts")))
	assert.False(t, isChannelError(errors.New("invalid reference format")))
}
