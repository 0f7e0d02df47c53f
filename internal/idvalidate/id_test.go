package idvalidate

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CageForge/nexcage/internal/nexerr"
)

func TestContainerIDBoundaryLengths(t *testing.T) {
	require.NoError(t, ContainerID(strings.Repeat("a", 1)))
	require.NoError(t, ContainerID(strings.Repeat("a", 253)))

	err := ContainerID(strings.Repeat("a", 254))
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.SpecInvalid))

	err = ContainerID("")
	require.Error(t, err)
}

func TestContainerIDRejectsInvalidCharacters(t *testing.T) {
	for _, bad := range []string{"has space", "has/slash", "has:colon", "has@at"} {
		err := ContainerID(bad)
		require.Error(t, err, bad)
	}
}

func TestContainerIDAcceptsAllowedCharacters(t *testing.T) {
	require.NoError(t, ContainerID("abc-123_XYZ.test"))
}

func TestVMIDRange(t *testing.T) {
	require.NoError(t, VMID(100))
	require.NoError(t, VMID(999_999))
	require.Error(t, VMID(99))
	require.Error(t, VMID(1_000_000))
}

func TestSafeJoinRejectsEscape(t *testing.T) {
	_, err := SafeJoin("/bundle", "../../etc/passwd")
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.PathUnsafe))
}

func TestSafeJoinRejectsAbsolute(t *testing.T) {
	_, err := SafeJoin("/bundle", "/etc/passwd")
	require.Error(t, err)
}

func TestSafeJoinAllowsNestedPath(t *testing.T) {
	got, err := SafeJoin("/bundle", "rootfs/bin")
	require.NoError(t, err)
	require.Equal(t, "/bundle/rootfs/bin", got)
}

func TestNormalizedEscapes(t *testing.T) {
	require.True(t, NormalizedEscapes("../escape"))
	require.True(t, NormalizedEscapes("a/../../b"))
	require.False(t, NormalizedEscapes("a/b/../c"))
	require.False(t, NormalizedEscapes("a/b"))
}
