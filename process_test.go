package aqmbench

import (
	"context"
	"testing"
	"time"
)

func TestProcHandleGracefulStop(t *testing.T) {
	t.Run("a cooperating process exits on the graceful signal", func(t *testing.T) {
		env := newFakeEnv()
		host := &fakeHost{env: env, name: "h1"}
		handle, err := startProcOnHost(context.Background(), &NullLogger{}, host, "test", "sleep 1000")
		if err != nil {
			t.Fatal(err)
		}
		if err := handle.GracefulStop(time.Second); err != nil {
			t.Fatal(err)
		}
		if env.eventIndex("kill") >= 0 {
			t.Fatal("the process should not have been killed")
		}
	})

	t.Run("a straggler is killed after the grace period", func(t *testing.T) {
		env := newFakeEnv()
		proc := newFakeProc(env, "straggler")
		proc.ignoreInterrupt = true
		handle := &ProcHandle{logger: &NullLogger{}, name: "straggler", proc: proc}
		if err := handle.GracefulStop(10 * time.Millisecond); err != nil {
			t.Fatal(err)
		}
		if env.eventIndex("kill straggler") < 0 {
			t.Fatal("the straggler should have been killed")
		}
		killIdx := env.eventIndex("kill straggler")
		interruptIdx := env.eventIndex("interrupt straggler")
		if interruptIdx < 0 || interruptIdx > killIdx {
			t.Fatal("expected the graceful signal before the kill")
		}
	})
}

func TestProcHandleForceStop(t *testing.T) {
	env := newFakeEnv()
	proc := newFakeProc(env, "victim")
	handle := &ProcHandle{logger: &NullLogger{}, name: "victim", proc: proc}
	if err := handle.ForceStop(); err != nil {
		t.Fatal(err)
	}
	if env.eventIndex("kill victim") < 0 {
		t.Fatal("the process should have been killed")
	}
}
