package lxc

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMountOptionsSuffixMapsReadonlyAliases(t *testing.T) {
	require.Equal(t, ",ro=1", mountOptionsSuffix([]string{"ro"}))
	require.Equal(t, ",ro=1", mountOptionsSuffix([]string{"readonly"}))
}

func TestMountOptionsSuffixPassesUnrecognizedOptionsThrough(t *testing.T) {
	require.Equal(t, ",backup=1", mountOptionsSuffix([]string{"backup=1"}))
	require.Equal(t, ",ro=1,acl=1", mountOptionsSuffix([]string{"ro", "acl=1"}))
}

func TestMountOptionsSuffixEmptyForNoOptions(t *testing.T) {
	require.Equal(t, "", mountOptionsSuffix(nil))
}
