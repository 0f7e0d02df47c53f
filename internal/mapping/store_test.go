package mapping

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CageForge/nexcage/internal/nexerr"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	return New(filepath.Join(dir, "mapping.json"))
}

func TestAllocateIsDeterministicAndIdempotent(t *testing.T) {
	s := newTestStore(t)

	v1, err := s.Allocate("c1", "/bundles/c1", nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, v1, 100)
	require.LessOrEqual(t, v1, 999_999)

	v2, err := s.Allocate("c1", "/bundles/c1", nil)
	require.NoError(t, err)
	require.Equal(t, v1, v2, "re-allocating the same id must return the same vmid")
}

func TestAllocateReleaseAllocateRoundTrips(t *testing.T) {
	s := newTestStore(t)

	v1, err := s.Allocate("roundtrip", "/bundles/roundtrip", nil)
	require.NoError(t, err)

	require.NoError(t, s.Release("roundtrip"))

	v2, err := s.Allocate("roundtrip", "/bundles/roundtrip", nil)
	require.NoError(t, err)
	require.Equal(t, v1, v2)
}

func TestAllocateCollisionProbesToNextFreeSlot(t *testing.T) {
	s := newTestStore(t)

	// Pre-seed a mapping entry ("foo") occupying the VMID that "bar"
	// would naturally hash to, forcing create("bar", ...) to probe past
	// it (spec §8 scenario 6).
	collidingVMID := candidateVMID("bar")
	entries := map[string]Entry{
		"foo": {ContainerID: "foo", VMID: collidingVMID, CreatedAt: 1, BundlePath: "/bundles/foo"},
	}
	require.NoError(t, s.save(entries))

	barVMID, err := s.Allocate("bar", "/bundles/bar", nil)
	require.NoError(t, err)
	require.NotEqual(t, collidingVMID, barVMID)

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)

	fooEntry, ok, err := s.LookupByVMID(collidingVMID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "foo", fooEntry.ContainerID)
}

func TestProbeFreeVMIDSkipsTakenAndWraps(t *testing.T) {
	taken := map[int]bool{100: true, 101: true}
	v, err := probeFreeVMID(100, taken)
	require.NoError(t, err)
	require.Equal(t, 102, v)

	taken2 := map[int]bool{999_999: true}
	v2, err := probeFreeVMID(999_999, taken2)
	require.NoError(t, err)
	require.Equal(t, 100, v2, "probing must wrap past the max vmid back to the min")
}

func TestProbeFreeVMIDExhaustsBudget(t *testing.T) {
	taken := make(map[int]bool, 900_000)
	for v := 100; v <= 999_999; v++ {
		taken[v] = true
	}
	_, err := probeFreeVMID(100, taken)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.VMIDExhausted))
}

func TestLookupByVMID(t *testing.T) {
	s := newTestStore(t)
	v, err := s.Allocate("c2", "/bundles/c2", nil)
	require.NoError(t, err)

	entry, ok, err := s.LookupByVMID(v)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c2", entry.ContainerID)

	_, ok, err = s.LookupByVMID(999_998)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReleaseIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Allocate("c3", "/bundles/c3", nil)
	require.NoError(t, err)

	require.NoError(t, s.Release("c3"))
	require.NoError(t, s.Release("c3"))

	_, ok, err := s.Lookup("c3")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestEmptyMappingFileIsEquivalentToNoMappings(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, os.WriteFile(s.path, nil, 0o644))
	_, ok, err := s.Lookup("missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReservedVMIDsAreExcludedFromAllocation(t *testing.T) {
	s := newTestStore(t)
	candidate := candidateVMID("reserved-case")
	reserved := map[int]bool{candidate: true}

	v, err := s.Allocate("reserved-case", "/bundles/reserved-case", reserved)
	require.NoError(t, err)
	require.NotEqual(t, candidate, v)
}

func TestReconcileFoldsLiveVMIDsIntoExclusionSet(t *testing.T) {
	s := newTestStore(t)
	candidate := candidateVMID("live-vmid-case")

	reserved := s.Reconcile([]int{candidate, 100200})
	v, err := s.Allocate("live-vmid-case", "/bundles/live-vmid-case", reserved)
	require.NoError(t, err)
	require.NotEqual(t, candidate, v)
	require.NotEqual(t, 100200, v)
}
