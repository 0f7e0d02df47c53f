package crun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/CageForge/nexcage/internal/backend"
	"github.com/CageForge/nexcage/internal/nexerr"
)

type fakeRunner struct {
	calls      [][]string
	stateJSON  string
	listOutput string
	failOn     string
	failMsg    string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args ...string) (string, string, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	if len(args) > 0 && args[0] == f.failOn {
		msg := f.failMsg
		if msg == "" {
			msg = "fake failure"
		}
		return "", "boom", errFake{msg}
	}
	if len(args) > 0 {
		switch args[0] {
		case "state":
			return f.stateJSON, "", nil
		case "list":
			return f.listOutput, "", nil
		}
	}
	return "", "", nil
}

type errFake struct{ msg string }

func (e errFake) Error() string { return e.msg }

func TestCreateInvokesRuntimeCreate(t *testing.T) {
	runner := &fakeRunner{}
	d := New("crun", runner)

	err := d.Create(context.Background(), backend.CreateRequest{ContainerID: "c1", BundleDir: "/bundles/c1"})
	require.NoError(t, err)
	require.Equal(t, []string{"crun", "create", "c1", "-b", "/bundles/c1"}, runner.calls[0])
}

func TestStopSendsTERM(t *testing.T) {
	runner := &fakeRunner{}
	d := New("crun", runner)

	require.NoError(t, d.Stop(context.Background(), "c1"))
	require.Equal(t, []string{"crun", "kill", "c1", "TERM"}, runner.calls[0])
}

func TestKillCustomSignal(t *testing.T) {
	runner := &fakeRunner{}
	d := New("runc", runner)

	require.NoError(t, d.Kill(context.Background(), "c1", "KILL"))
	require.Equal(t, []string{"runc", "kill", "c1", "KILL"}, runner.calls[0])
}

func TestDeleteIgnoresMissingContainer(t *testing.T) {
	runner := &fakeRunner{failOn: "delete", failMsg: "container c1 does not exist"}
	d := New("crun", runner)
	require.NoError(t, d.Delete(context.Background(), "c1"))
}

func TestDeletePropagatesOtherFailures(t *testing.T) {
	runner := &fakeRunner{failOn: "delete", failMsg: "permission denied"}
	d := New("crun", runner)
	err := d.Delete(context.Background(), "c1")
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.BackendDeleteFailed))
}

func TestInfoParsesRuntimeState(t *testing.T) {
	runner := &fakeRunner{stateJSON: `{"id":"c1","pid":4321,"status":"running"}`}
	d := New("crun", runner)

	info, err := d.Info(context.Background(), "c1")
	require.NoError(t, err)
	require.Equal(t, backend.StatusRunning, info.Status)
	require.Equal(t, "c1", info.ID)
}

func TestCheckpointUnsupported(t *testing.T) {
	runner := &fakeRunner{}
	d := New("crun", runner)

	_, err := d.Checkpoint(context.Background(), "c1")
	require.Error(t, err)
	require.True(t, nexerr.Is(err, nexerr.UnsupportedOperation))
}

func TestListFetchesStatePerContainer(t *testing.T) {
	runner := &fakeRunner{
		listOutput: "c1\nc2\n",
		stateJSON:  `{"id":"c1","status":"running"}`,
	}
	d := New("crun", runner)

	infos, err := d.List(context.Background())
	require.NoError(t, err)
	require.Len(t, infos, 2)
}

func TestExecPassesEnvAndTTY(t *testing.T) {
	runner := &fakeRunner{}
	d := New("crun", runner)

	code, err := d.Exec(context.Background(), "c1", []string{"/bin/echo", "hi"}, []string{"FOO=bar"}, true)
	require.NoError(t, err)
	require.Equal(t, 0, code)
	require.Equal(t, []string{"crun", "exec", "-t", "-e", "FOO=bar", "c1", "/bin/echo", "hi"}, runner.calls[0])
}
