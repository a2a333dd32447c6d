package portregistry

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocateSkipsHeldAndBoundPorts(t *testing.T) {
	r := New()

	p1, err := r.Allocate("xtts:local", 20000, 20010)
	require.NoError(t, err)

	p2, err := r.Allocate("piper:local", 20000, 20010)
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	holder, ok := r.HolderOf(p1)
	assert.True(t, ok)
	assert.Equal(t, "xtts:local", holder)
}

func TestAllocateSkipsOSBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	boundPort := ln.Addr().(*net.TCPAddr).Port

	r := New()
	got, err := r.Allocate("xtts:local", boundPort, boundPort+5)
	require.NoError(t, err)
	assert.NotEqual(t, boundPort, got)
}

func TestReleaseFreesPortForReuse(t *testing.T) {
	r := New()
	p, err := r.Allocate("xtts:local", 20100, 20100)
	require.NoError(t, err)

	_, err = r.Allocate("piper:local", 20100, 20100)
	assert.Error(t, err, "range is exhausted while xtts:local holds the only port")

	r.Release(p)
	got, err := r.Allocate("piper:local", 20100, 20100)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestReleaseVariantReleasesByOwner(t *testing.T) {
	r := New()
	p, err := r.Allocate("xtts:local", 20200, 20200)
	require.NoError(t, err)

	r.ReleaseVariant("xtts:local")
	_, ok := r.HolderOf(p)
	assert.False(t, ok)
}
