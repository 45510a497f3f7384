package aqmbench

//
// Background process lifecycle
//

import (
	"context"
	"fmt"
	"time"
)

// ProcHandle wraps a background [Proc] spawned inside the emulated
// environment and provides the two-phase stop primitive used throughout
// the pipeline: graceful signal first, forceful kill as a fallback.
//
// Call exactly one of [ProcHandle.GracefulStop], [ProcHandle.ForceStop],
// or [ProcHandle.Join] per handle; they all reap the process.
type ProcHandle struct {
	// logger is the logger to use.
	logger Logger

	// name describes the process for log messages.
	name string

	// proc is the wrapped backend process.
	proc Proc
}

// startProcOnHost starts command on the given host in the background.
func startProcOnHost(ctx context.Context, logger Logger, host Host, name, command string) (*ProcHandle, error) {
	logger.Infof("aqmbench: %s: starting %q on %s", name, command, host.Name())
	proc, err := host.StartProc(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrCommandFailed, name, err.Error())
	}
	return &ProcHandle{logger: logger, name: name, proc: proc}, nil
}

// startProcOnTopology starts command in the root namespace in the background.
func startProcOnTopology(ctx context.Context, logger Logger, topo Topology, name, command string) (*ProcHandle, error) {
	logger.Infof("aqmbench: %s: starting %q", name, command)
	proc, err := topo.StartProc(ctx, command)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrCommandFailed, name, err.Error())
	}
	return &ProcHandle{logger: logger, name: name, proc: proc}, nil
}

// GracefulStop delivers the graceful termination signal and waits for
// the process to exit. If the process is still alive after the grace
// period, GracefulStop falls back to a forceful kill. The returned
// error reflects how the process exited; a graceful stop that required
// the fallback is not itself an error.
func (ph *ProcHandle) GracefulStop(grace time.Duration) error {
	if err := ph.proc.Interrupt(); err != nil {
		ph.logger.Warnf("aqmbench: %s: interrupt: %s", ph.name, err.Error())
		return ph.ForceStop()
	}

	done := make(chan error, 1)
	go func() {
		done <- ph.proc.Wait()
	}()

	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case err := <-done:
		return err
	case <-timer.C:
		ph.logger.Warnf("aqmbench: %s: still alive after %v, killing", ph.name, grace)
		_ = ph.proc.Kill()
		return <-done
	}
}

// ForceStop kills the process and reaps it.
func (ph *ProcHandle) ForceStop() error {
	_ = ph.proc.Kill()
	return ph.proc.Wait()
}

// Join waits for the process to exit on its own.
func (ph *ProcHandle) Join() error {
	return ph.proc.Wait()
}

// sweepStragglers force-kills every leftover process matching pattern
// inside the emulated environment. We run this after stopping traffic
// so no straggler keeps an artifact file open while we format it.
func sweepStragglers(ctx context.Context, logger Logger, topo Topology, pattern string) {
	logger.Infof("aqmbench: sweeping stragglers matching %q", pattern)
	// pkill exits non-zero when nothing matched, which is the common case
	if _, err := topo.Run(ctx, "pkill -9 -f "+pattern); err != nil {
		logger.Debugf("aqmbench: straggler sweep: %s", err.Error())
	}
}
