package aqmbench

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// newRunnerForTesting creates a [Runner] driving a fake environment
// with a computed BDP for a 1 gbit/s, 20 ms link.
func newRunnerForTesting(t *testing.T, env *fakeEnv) *Runner {
	runner := NewRunner(&fakeBackend{env: env}, &NullLogger{}, t.TempDir(), 250)
	if err := runner.SetBDP(1, RateGbit, 20); err != nil {
		t.Fatal(err)
	}
	return runner
}

// runnerConfig returns a valid two-flow configuration.
func runnerConfig() *RunConfig {
	return &RunConfig{
		DelayMs:       20,
		Bandwidth:     1,
		BandwidthUnit: "gbit",
		Discipline:    "red",
		Flows:         2,
		TransferMode:  "time",
		TransferSec:   10,
	}
}

func TestRunnerRun(t *testing.T) {
	t.Run("a successful run appends exactly one summary line", func(t *testing.T) {
		env := newFakeEnv()
		env.clientOutput = clientTextFixture
		runner := newRunnerForTesting(t, env)

		record, err := runner.Run(context.Background(), runnerConfig())
		if err != nil {
			t.Fatal(err)
		}
		if record == nil || len(record.Flows) != 2 {
			t.Fatal("expected a record with 2 flow summaries")
		}
		for _, flow := range record.Flows {
			if flow.FCT != 3 || flow.ThroughputMbit != 940 {
				t.Fatal("unexpected flow summary", flow)
			}
		}

		data, err := os.ReadFile(filepath.Join(runner.baseDir, SummaryFile))
		if err != nil {
			t.Fatal(err)
		}
		if string(data) != "red 3 940 3 940\n" {
			t.Fatalf("unexpected summary content: %q", string(data))
		}

		if env.closeCount != 1 {
			t.Fatal("expected exactly one topology close, got", env.closeCount)
		}
	})

	t.Run("captures start before traffic and stop after it", func(t *testing.T) {
		env := newFakeEnv()
		env.clientOutput = clientTextFixture
		env.captureOutput = captureTextFixture
		runner := newRunnerForTesting(t, env)

		cfg := runnerConfig()
		cfg.Capture = true
		if _, err := runner.Run(context.Background(), cfg); err != nil {
			t.Fatal(err)
		}

		firstClient := env.eventIndex("client ")
		lastClient := env.lastEventIndex("client ")
		if firstClient < 0 {
			t.Fatal("no client ever ran")
		}
		for _, iface := range []string{"s1-eth1", "s2-eth2"} {
			start := env.eventIndex("capture-start " + iface)
			stop := env.eventIndex("interrupt capture " + iface)
			if start < 0 || start > firstClient {
				t.Fatalf("capture on %s did not start before traffic", iface)
			}
			if stop < lastClient {
				t.Fatalf("capture on %s stopped before traffic ended", iface)
			}
		}
	})

	t.Run("captures are stopped when traffic servers fail to start", func(t *testing.T) {
		env := newFakeEnv()
		env.captureOutput = captureTextFixture
		env.failServers = true
		runner := newRunnerForTesting(t, env)

		cfg := runnerConfig()
		cfg.Capture = true
		if _, err := runner.Run(context.Background(), cfg); !errors.Is(err, ErrCommandFailed) {
			t.Fatal("unexpected error", err)
		}

		closeIdx := env.eventIndex("topology close")
		for _, iface := range []string{"s1-eth1", "s2-eth2"} {
			stop := env.eventIndex("interrupt capture " + iface)
			if stop < 0 || stop > closeIdx {
				t.Fatalf("capture on %s outlived the run", iface)
			}
		}
	})

	t.Run("a failing client fails the run without a summary line", func(t *testing.T) {
		env := newFakeEnv()
		env.clientOutput = clientTextFixture
		env.failClients["h1"] = true
		runner := newRunnerForTesting(t, env)

		record, err := runner.Run(context.Background(), runnerConfig())
		if !errors.Is(err, ErrCommandFailed) {
			t.Fatal("unexpected error", err)
		}
		if record != nil {
			t.Fatal("expected a nil record")
		}

		if _, err := os.Stat(filepath.Join(runner.baseDir, SummaryFile)); err == nil {
			t.Fatal("the summary file should not exist")
		}

		// the sibling flow must still have run
		if env.eventIndex("client h2") < 0 {
			t.Fatal("the sibling flow never ran")
		}

		if env.closeCount != 1 {
			t.Fatal("expected exactly one topology close, got", env.closeCount)
		}
	})

	t.Run("a shaping failure aborts before any traffic", func(t *testing.T) {
		env := newFakeEnv()
		env.failShaping = true
		runner := newRunnerForTesting(t, env)

		if _, err := runner.Run(context.Background(), runnerConfig()); !errors.Is(err, ErrCommandFailed) {
			t.Fatal("unexpected error", err)
		}
		if env.eventIndex("client ") >= 0 {
			t.Fatal("no client should have run")
		}
		if env.closeCount != 1 {
			t.Fatal("expected exactly one topology close, got", env.closeCount)
		}
	})

	t.Run("running without a cached BDP fails", func(t *testing.T) {
		env := newFakeEnv()
		runner := NewRunner(&fakeBackend{env: env}, &NullLogger{}, t.TempDir(), 250)

		if _, err := runner.Run(context.Background(), runnerConfig()); !errors.Is(err, ErrBDPNotSet) {
			t.Fatal("unexpected error", err)
		}
		if env.eventIndex("backend start") >= 0 {
			t.Fatal("the network should not have come up")
		}
	})

	t.Run("an invalid configuration never starts the network", func(t *testing.T) {
		env := newFakeEnv()
		runner := newRunnerForTesting(t, env)

		cfg := runnerConfig()
		cfg.Flows = MaxFlows + 1
		if _, err := runner.Run(context.Background(), cfg); !errors.Is(err, ErrInvalidFlowCount) {
			t.Fatal("unexpected error", err)
		}
		if env.eventIndex("backend start") >= 0 {
			t.Fatal("the network should not have come up")
		}
	})

	t.Run("a backend start failure is returned as is", func(t *testing.T) {
		env := newFakeEnv()
		runner := NewRunner(&fakeBackend{env: env, failStart: true}, &NullLogger{}, t.TempDir(), 250)
		if err := runner.SetBDP(1, RateGbit, 20); err != nil {
			t.Fatal(err)
		}
		if _, err := runner.Run(context.Background(), runnerConfig()); !errors.Is(err, ErrCommandFailed) {
			t.Fatal("unexpected error", err)
		}
	})
}

func TestRunnerShapingCommands(t *testing.T) {
	env := newFakeEnv()
	env.clientOutput = clientTextFixture
	runner := newRunnerForTesting(t, env)

	if _, err := runner.Run(context.Background(), runnerConfig()); err != nil {
		t.Fatal(err)
	}

	// the delay qdisc goes on the delay interface
	if env.eventIndex("root: tc qdisc add dev s2-eth1 root netem delay 20ms") < 0 {
		t.Fatal("missing netem delay command")
	}

	// the baseline plan is the root qdisc at the bottleneck and the
	// requested discipline hangs under it
	rootQdisc := env.eventIndex("root: tc qdisc add dev s1-eth2 root handle 1: tbf ")
	childQdisc := env.eventIndex("root: tc qdisc add dev s1-eth2 parent 1: handle 2: red ")
	if rootQdisc < 0 || childQdisc < 0 || childQdisc < rootQdisc {
		t.Fatal("unexpected shaping command sequence", env.events)
	}

	// host buffers are sized from the BDP before traffic runs
	bufferMax := DefaultBufferMax(Must1(runner.BDP()))
	rmem := env.eventIndex(fmt.Sprintf(
		"host h1: sysctl -w net.ipv4.tcp_rmem='10240 87380 %d'", bufferMax))
	if rmem < 0 || rmem > env.eventIndex("client ") {
		t.Fatal("host buffers were not sized before traffic")
	}
}

func TestRunPhaseString(t *testing.T) {
	phases := map[RunPhase]string{
		PhaseIdle:           "idle",
		PhaseNetworkUp:      "network-up",
		PhaseShaped:         "shaped",
		PhaseCaptureRunning: "capture-running",
		PhaseTrafficRunning: "traffic-running",
		PhaseCaptureStopped: "capture-stopped",
		PhaseFormatted:      "formatted",
		PhaseSummarized:     "summarized",
		PhaseTornDown:       "torn-down",
		RunPhase(1000):      "unknown",
	}
	for phase, expect := range phases {
		if phase.String() != expect {
			t.Fatalf("expected %q got %q", expect, phase.String())
		}
	}
}
