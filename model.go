package aqmbench

//
// Data model
//

import (
	"context"
)

// Logger is the logger we're using.
type Logger interface {
	// Debugf formats and emits a debug message.
	Debugf(format string, v ...any)

	// Debug emits a debug message.
	Debug(message string)

	// Infof formats and emits an informational message.
	Infof(format string, v ...any)

	// Info emits an informational message.
	Info(message string)

	// Warnf formats and emits a warning message.
	Warnf(format string, v ...any)

	// Warn emits a warning message.
	Warn(message string)
}

// Host is a virtual host inside an emulated [Topology]. Hosts execute
// commands through whatever mechanism the emulation environment provides
// (typically a shell inside the host's network namespace).
type Host interface {
	// Name returns the host name (e.g., "h1").
	Name() string

	// Addr returns the host's IPv4 address.
	Addr() string

	// Run executes command on the host, blocks until it completes, and
	// returns the combined output. A non-zero exit status causes an
	// error wrapping [ErrCommandFailed].
	Run(ctx context.Context, command string) ([]byte, error)

	// StartProc starts command on the host in the background and
	// returns a handle on the spawned process.
	StartProc(ctx context.Context, command string) (Proc, error)
}

// Proc is a backend-provided handle on a background process. Use
// [ProcHandle] rather than driving a Proc directly: it implements the
// graceful-then-forceful stop used throughout the pipeline.
type Proc interface {
	// Interrupt delivers the graceful termination signal.
	Interrupt() error

	// Kill terminates the process forcefully.
	Kill() error

	// Wait blocks until the process has exited. A non-zero exit status
	// causes an error. Wait must be called exactly once.
	Wait() error
}

// Topology is a running emulated topology obtained from a [Backend].
//
// By convention, with flow count N the topology exposes 2N hosts: the
// first N are traffic sources and the last N are the paired destinations,
// source i talking to destination i across the emulated WAN link.
type Topology interface {
	// Hosts returns the topology's hosts in the order described above.
	Hosts() []Host

	// BottleneckInterface returns the name of the switch port where the
	// shaping plans are installed (e.g., "s1-eth2").
	BottleneckInterface() string

	// DelayInterface returns the name of the switch port where the WAN
	// delay is emulated (e.g., "s2-eth1").
	DelayInterface() string

	// CaptureInterfaces returns the names of the interfaces observed
	// by packet capture.
	CaptureInterfaces() []string

	// Run executes command in the root namespace, where the switch
	// ports live. Same semantics as [Host.Run].
	Run(ctx context.Context, command string) ([]byte, error)

	// StartProc starts command in the root namespace in the background.
	StartProc(ctx context.Context, command string) (Proc, error)

	// Close releases the topology. Close is idempotent: calling it
	// more than once is safe and only the first call does work.
	Close() error
}

// Backend builds emulated topologies. It is an external collaborator:
// this package only knows the boundary defined by this interface.
type Backend interface {
	// Start builds a fresh topology with flowCount source/destination
	// host pairs and validates its connectivity. Start fails if the
	// environment is unclean (e.g., leftovers of a previous run).
	Start(ctx context.Context, flowCount int) (Topology, error)
}

// RateUnit is a bandwidth rate unit. The closed set of valid units
// contains [RateGbit] and [RateMbit]; use [NormalizeRateUnit] to map
// free-form user input into this set.
type RateUnit string

// RateGbit is the gigabit-per-second rate unit.
const RateGbit = RateUnit("gbit")

// RateMbit is the megabit-per-second rate unit.
const RateMbit = RateUnit("mbit")

// BitsPerSecond returns the number of bits per second corresponding to
// the given bandwidth expressed in this unit.
func (u RateUnit) BitsPerSecond(bandwidth int) float64 {
	if u == RateGbit {
		return float64(bandwidth) * 1e9
	}
	return float64(bandwidth) * 1e6
}

// TransferMode selects how much traffic each flow generates.
type TransferMode int

const (
	// TransferFixedTime runs each flow for a fixed amount of time.
	TransferFixedTime = TransferMode(iota)

	// TransferFixedVolume transfers a fixed number of bytes per flow.
	TransferFixedVolume
)

// FlowSummary is the normalized outcome of one flow: the completion
// time in seconds and the achieved throughput in Mbit/s.
type FlowSummary struct {
	// FCT is the flow completion time in seconds.
	FCT float64

	// ThroughputMbit is the achieved throughput in Mbit/s.
	ThroughputMbit float64

	// RTT summarizes the flow's round-trip-time distribution. It is
	// only available when the client emitted structured output.
	RTT RTTStats
}

// RTTStats summarizes a flow's round-trip-time distribution
// in microseconds.
type RTTStats struct {
	// P50 is the median RTT.
	P50 int64

	// P90 is the 90th percentile RTT.
	P90 int64

	// P99 is the 99th percentile RTT.
	P99 int64

	// Max is the maximum RTT.
	Max int64
}

// OutputRecord is the normalized product of one completed run. Exactly
// one record per successful run is appended to the run group's summary
// file; a failed run produces none.
type OutputRecord struct {
	// ID uniquely identifies the run.
	ID string

	// Name is the caller-chosen run name used in the summary file.
	Name string

	// Flows contains one summary per flow, ordered by flow index.
	Flows []*FlowSummary
}
