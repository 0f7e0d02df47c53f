package checkpoint

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/CageForge/nexcage/internal/nexerr"
)

type fakeRunner struct {
	calls       [][]string
	zfsListErr  bool
	snapshotOut string
	failCmd     string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if f.failCmd != "" && (name == f.failCmd || (len(args) > 0 && args[0] == f.failCmd)) {
		return "", "boom", errBoom
	}
	if name == "zfs" && len(args) > 0 {
		switch args[0] {
		case "list":
			if containsArg(args, "-t") {
				return f.snapshotOut, "", nil
			}
			if f.zfsListErr {
				return "", "no such dataset", errBoom
			}
			return "rpool/subvol-101-disk-0\n", "", nil
		}
	}
	return "", "", nil
}

func containsArg(args []string, target string) bool {
	for _, a := range args {
		if a == target {
			return true
		}
	}
	return false
}

var errBoom = errDatasetMissing{}

type errDatasetMissing struct{}

func (errDatasetMissing) Error() string { return "dataset missing" }

func newEngine(runner *fakeRunner) *Engine {
	e := New(runner)
	e.NowFunc = func() time.Time { return time.Unix(1700000000, 0) }
	return e
}

func TestCreateSnapshotsZFSDataset(t *testing.T) {
	runner := &fakeRunner{}
	e := newEngine(runner)

	name, err := e.Create(context.Background(), "rpool", 101)
	require.NoError(t, err)
	require.Equal(t, "checkpoint-1700000000", name)

	var sawSnapshot bool
	for _, call := range runner.calls {
		if call[0] == "zfs" && call[1] == "snapshot" {
			sawSnapshot = true
			require.Equal(t, "rpool/subvol-101-disk-0@checkpoint-1700000000", call[2])
		}
	}
	require.True(t, sawSnapshot)
}

func TestCreateFallsBackWhenNoZFS(t *testing.T) {
	runner := &fakeRunner{zfsListErr: true}
	e := newEngine(runner)
	e.FallbackTool = "criu"

	name, err := e.Create(context.Background(), "rpool", 101)
	require.NoError(t, err)
	require.Equal(t, "checkpoint-1700000000", name)

	var sawCriu bool
	for _, call := range runner.calls {
		if call[0] == "criu" {
			sawCriu = true
		}
	}
	require.True(t, sawCriu)
}

func TestCreateFallbackUnavailableWithoutTool(t *testing.T) {
	runner := &fakeRunner{zfsListErr: true}
	e := newEngine(runner)

	_, err := e.Create(context.Background(), "rpool", 101)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.CheckpointUnavailable))
}

func TestRestoreRejectsForeignSnapshotName(t *testing.T) {
	runner := &fakeRunner{}
	e := newEngine(runner)

	err := e.Restore(context.Background(), "rpool", 101, "manual-snap")
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.SpecInvalid))
}

func TestRestoreRollsBackDataset(t *testing.T) {
	runner := &fakeRunner{}
	e := newEngine(runner)

	err := e.Restore(context.Background(), "rpool", 101, "checkpoint-1700000000")
	require.NoError(t, err)

	var sawRollback bool
	for _, call := range runner.calls {
		if call[0] == "zfs" && call[1] == "rollback" {
			sawRollback = true
			require.Equal(t, "rpool/subvol-101-disk-0@checkpoint-1700000000", call[3])
		}
	}
	require.True(t, sawRollback)
}

func TestListFiltersToCheckpointSnapshotsSorted(t *testing.T) {
	runner := &fakeRunner{snapshotOut: strings.Join([]string{
		"rpool/subvol-101-disk-0@checkpoint-200",
		"rpool/subvol-101-disk-0@manual-snap",
		"rpool/subvol-101-disk-0@checkpoint-100",
	}, "\n")}
	e := newEngine(runner)

	names, err := e.List(context.Background(), "rpool", 101)
	require.NoError(t, err)
	require.Equal(t, []string{"checkpoint-100", "checkpoint-200"}, names)
}

func TestLatestReturnsNotFoundWhenNoCheckpoints(t *testing.T) {
	runner := &fakeRunner{snapshotOut: ""}
	e := newEngine(runner)

	_, err := e.Latest(context.Background(), "rpool", 101)
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.NotFound))
}

func TestLatestReturnsNewestCheckpoint(t *testing.T) {
	runner := &fakeRunner{snapshotOut: "rpool/subvol-101-disk-0@checkpoint-100\nrpool/subvol-101-disk-0@checkpoint-300\n"}
	e := newEngine(runner)

	name, err := e.Latest(context.Background(), "rpool", 101)
	require.NoError(t, err)
	require.Equal(t, "checkpoint-300", name)
}

func TestRestoreWithEmptySnapshotRollsBackToLatest(t *testing.T) {
	runner := &fakeRunner{snapshotOut: "rpool/subvol-101-disk-0@checkpoint-100\nrpool/subvol-101-disk-0@checkpoint-300\n"}
	e := newEngine(runner)

	err := e.Restore(context.Background(), "rpool", 101, "")
	require.NoError(t, err)

	var sawRollback bool
	for _, call := range runner.calls {
		if call[0] == "zfs" && call[1] == "rollback" {
			sawRollback = true
			require.Equal(t, "rpool/subvol-101-disk-0@checkpoint-300", call[3])
		}
	}
	require.True(t, sawRollback)
}

func TestRestoreWithEmptySnapshotFailsWhenNoZFSDataset(t *testing.T) {
	runner := &fakeRunner{zfsListErr: true}
	e := newEngine(runner)

	err := e.Restore(context.Background(), "rpool", 101, "")
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.CheckpointUnavailable))
}
