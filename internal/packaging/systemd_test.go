package packaging

import (
	"context"
	"errors"
	"os"
	"reflect"
	"testing"
)

type recordingRunner struct {
	args [][]string
	err  error
}

func (r *recordingRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	r.args = append(r.args, append([]string{name}, args...))
	return nil, r.err
}

func TestSystemctl_Commands(t *testing.T) {
	runner := &recordingRunner{}
	s := &Systemctl{Runner: runner}
	ctx := context.Background()

	_ = s.DaemonReload(ctx)
	_ = s.EnableNow(ctx, "uplinkd")
	_ = s.Disable(ctx, "uplinkd")
	_ = s.Stop(ctx, "uplinkd")

	want := [][]string{
		{"systemctl", "daemon-reload"},
		{"systemctl", "enable", "--now", "uplinkd"},
		{"systemctl", "disable", "uplinkd"},
		{"systemctl", "stop", "uplinkd"},
	}
	if !reflect.DeepEqual(runner.args, want) {
		t.Errorf("commands = %v, want %v", runner.args, want)
	}
}

func TestSystemctl_Error(t *testing.T) {
	runErr := errors.New("exit status 5: Unit uplinkd.service not loaded")
	s := &Systemctl{Runner: &recordingRunner{err: runErr}}
	if err := s.Stop(context.Background(), "uplinkd"); !errors.Is(err, runErr) {
		t.Errorf("Stop() = %v, want %v", err, runErr)
	}
}

func TestInterfacesSatisfied(t *testing.T) {
	var _ SystemdController = NewSystemdController()
	var _ RootChecker = ProcessRoot{}
}

func TestProcessRoot_IsRoot(t *testing.T) {
	if got, want := (ProcessRoot{}).IsRoot(), os.Getuid() == 0; got != want {
		t.Errorf("IsRoot() = %v, want %v", got, want)
	}
}
