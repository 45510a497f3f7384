package aqmbench

//
// Traffic orchestration
//

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// TrafficPort is the TCP port the traffic-generator pair uses.
const TrafficPort = 5201

// RawResultFile is the name of the raw per-flow result artifact inside
// the source host's output directory.
const RawResultFile = "result"

// ServerLogFile is the name of the traffic server's log file inside the
// destination host's output directory.
const ServerLogFile = "server"

// TrafficConfig configures one window of synchronized traffic.
type TrafficConfig struct {
	// Logger is the MANDATORY logger.
	Logger Logger

	// Mode selects fixed-time or fixed-volume transfers.
	Mode TransferMode

	// Duration is the transfer duration for [TransferFixedTime].
	Duration time.Duration

	// VolumeBytes is the transfer size for [TransferFixedVolume].
	VolumeBytes int64

	// Structured selects structured (JSON) client output rather than
	// the default line-oriented output.
	Structured bool

	// OutputDir is the run's output directory, which clients and
	// servers reach through the environment's shared filesystem.
	OutputDir string
}

// FlowResult is the raw outcome of one traffic flow.
type FlowResult struct {
	// Flow is the zero-based flow index.
	Flow int

	// Source is the source host's name.
	Source string

	// Dest is the destination host's name.
	Dest string

	// RawPath is where the client wrote its raw result artifact.
	RawPath string

	// Structured records whether the artifact is structured output.
	Structured bool

	// Err is nil when the client exited successfully.
	Err error
}

// StartServers starts one traffic server per destination host in the
// background. Servers are started once, before any client runs, so that
// every client finds its peer listening. The caller owns the returned
// handles and must stop them after the traffic window closes.
func StartServers(ctx context.Context, cfg *TrafficConfig, dests []Host) ([]*ProcHandle, error) {
	var handles []*ProcHandle
	for _, dest := range dests {
		logPath := filepath.Join(cfg.OutputDir, dest.Name(), ServerLogFile)
		command := fmt.Sprintf("iperf3 -s -p %d -i 1 > %s 2>&1", TrafficPort, logPath)
		handle, err := startProcOnHost(ctx, cfg.Logger, dest, "traffic-server", command)
		if err != nil {
			stopServers(cfg.Logger, handles)
			return nil, err
		}
		handles = append(handles, handle)
	}
	return handles, nil
}

// ServerStopGrace is how long [stopServers] waits for a server process
// to exit gracefully before killing it.
const ServerStopGrace = time.Second

// stopServers stops the given server handles, graceful signal first
// with a forceful kill for stragglers.
func stopServers(logger Logger, handles []*ProcHandle) {
	for _, handle := range handles {
		if err := handle.GracefulStop(ServerStopGrace); err != nil {
			// iperf3 exits non-zero when interrupted between transfers
			logger.Debugf("aqmbench: stopping traffic server: %s", err.Error())
		}
	}
}

// RunFlows launches one traffic-generator client per flow pair and
// blocks until every client has exited. All clients launch concurrently,
// which bounds "simultaneous flow start" to within the process-launch
// scheduling jitter of the host environment; that approximation is
// accepted rather than guaranteed.
//
// A failing client does not abort its sibling flows: each [FlowResult]
// reports its own outcome and the caller decides whether the run as a
// whole is salvageable.
func RunFlows(ctx context.Context, cfg *TrafficConfig, sources, dests []Host) []*FlowResult {
	results := make([]*FlowResult, len(sources))
	wg := &sync.WaitGroup{}
	for idx := range sources {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			results[idx] = runFlow(ctx, cfg, idx, sources[idx], dests[idx])
		}(idx)
	}
	wg.Wait()
	return results
}

// runFlow runs a single client and blocks until it exits.
func runFlow(ctx context.Context, cfg *TrafficConfig, idx int, source, dest Host) *FlowResult {
	rawPath := filepath.Join(cfg.OutputDir, source.Name(), RawResultFile)
	command := clientCommand(cfg, dest.Addr(), rawPath)
	cfg.Logger.Infof("aqmbench: flow %d: %s -> %s: %q", idx, source.Name(), dest.Name(), command)
	_, err := source.Run(ctx, command)
	return &FlowResult{
		Flow:       idx,
		Source:     source.Name(),
		Dest:       dest.Name(),
		RawPath:    rawPath,
		Structured: cfg.Structured,
		Err:        err,
	}
}

// clientCommand renders the traffic client command line.
func clientCommand(cfg *TrafficConfig, destAddr, rawPath string) string {
	command := fmt.Sprintf("iperf3 -c %s -p %d -i 1", destAddr, TrafficPort)
	switch cfg.Mode {
	case TransferFixedVolume:
		command += fmt.Sprintf(" -n %d", cfg.VolumeBytes)
	default:
		command += fmt.Sprintf(" -t %d", int(cfg.Duration.Seconds()))
	}
	if cfg.Structured {
		command += " -J"
	}
	return command + " > " + rawPath
}
