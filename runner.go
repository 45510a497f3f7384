package aqmbench

//
// Run controller
//

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
)

// RunPhase is a lifecycle phase of an experiment run.
type RunPhase int

const (
	// PhaseIdle is the phase before the topology exists.
	PhaseIdle = RunPhase(iota)

	// PhaseNetworkUp means the emulated topology is running.
	PhaseNetworkUp

	// PhaseShaped means delay, host buffers, and shaping plans are
	// applied.
	PhaseShaped

	// PhaseCaptureRunning means the capture processes are running.
	PhaseCaptureRunning

	// PhaseTrafficRunning means the traffic window is open.
	PhaseTrafficRunning

	// PhaseCaptureStopped means traffic and capture processes have
	// been reaped.
	PhaseCaptureStopped

	// PhaseFormatted means every raw artifact has been normalized.
	PhaseFormatted

	// PhaseSummarized means the summary line has been appended.
	PhaseSummarized

	// PhaseTornDown is the terminal phase, reached on both the
	// success and the failure path.
	PhaseTornDown
)

// String implements fmt.Stringer
func (p RunPhase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseNetworkUp:
		return "network-up"
	case PhaseShaped:
		return "shaped"
	case PhaseCaptureRunning:
		return "capture-running"
	case PhaseTrafficRunning:
		return "traffic-running"
	case PhaseCaptureStopped:
		return "capture-stopped"
	case PhaseFormatted:
		return "formatted"
	case PhaseSummarized:
		return "summarized"
	case PhaseTornDown:
		return "torn-down"
	default:
		return "unknown"
	}
}

// RunState is the mutable state of one run. The [Runner] owns it
// exclusively for the run's duration and destroys it, together with the
// emulated topology, when the run completes on either path.
type RunState struct {
	// Phase is the current lifecycle phase.
	Phase RunPhase

	// ID uniquely identifies the run.
	ID string

	// OutputDir is where artifacts are written.
	OutputDir string

	// Topo is the emulated topology handle, nil before PhaseNetworkUp.
	Topo Topology

	// Servers are the background traffic-server handles.
	Servers []*ProcHandle

	// Captures are the running capture handles.
	Captures []*CaptureHandle

	// Flows are the raw per-flow results.
	Flows []*FlowResult
}

// Runner sequences experiment runs. The zero value is invalid; use
// [NewRunner] to construct. A Runner executes one run at a time: each
// run fully tears down its topology before the next may start.
type Runner struct {
	// backend builds emulated topologies.
	backend Backend

	// baseDir is the base output directory.
	baseDir string

	// bdp is the cached bandwidth-delay product in bytes.
	bdp int64

	// bdpSet records whether bdp has been computed.
	bdpSet bool

	// hz is the kernel timer frequency.
	hz int

	// logger is the logger to use.
	logger Logger
}

// NewRunner creates a [Runner].
//
// Arguments:
//
// - backend builds the emulated topologies;
//
// - logger is the logger to use;
//
// - baseDir is the base output directory (artifacts land in
// baseDir/<host>/ and the summary in baseDir/summary);
//
// - hz is the kernel timer frequency (see [TimerHz]).
func NewRunner(backend Backend, logger Logger, baseDir string, hz int) *Runner {
	return &Runner{
		backend: backend,
		baseDir: baseDir,
		hz:      hz,
		logger:  logger,
	}
}

// SetBDP computes the bandwidth-delay product for the given bandwidth
// and latency pair and caches it on the runner. It must be called
// before [Runner.Run]; running without a cached BDP fails with
// [ErrBDPNotSet].
func (r *Runner) SetBDP(bandwidth int, unit RateUnit, delayMs int) error {
	bdp, err := ComputeBDP(bandwidth, unit, delayMs)
	if err != nil {
		return err
	}
	r.logger.Infof("aqmbench: BDP is %d bytes", bdp)
	r.bdp = bdp
	r.bdpSet = true
	return nil
}

// BDP returns the cached bandwidth-delay product.
func (r *Runner) BDP() (int64, error) {
	if !r.bdpSet {
		return 0, ErrBDPNotSet
	}
	return r.bdp, nil
}

// Run executes one experiment run and returns its normalized output
// record. On failure the record is nil, no summary line is appended,
// and the topology has still been torn down: teardown runs as the last
// action on both paths.
func (r *Runner) Run(ctx context.Context, cfg *RunConfig) (*OutputRecord, error) {
	// validation happens before any side effect
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !r.bdpSet {
		return nil, ErrBDPNotSet
	}
	unit := RateUnit(cfg.BandwidthUnit)
	discipline := Must1(CanonicalDiscipline(cfg.Discipline))

	// translate the shaping plans up front: a plan that cannot be
	// translated must not bring the network up
	baseline, aqm, err := r.translatePlans(cfg, discipline, unit)
	if err != nil {
		return nil, err
	}

	state := &RunState{
		Phase:     PhaseIdle,
		ID:        uuid.NewString(),
		OutputDir: r.baseDir,
	}
	r.logger.Infof("aqmbench: run %s (%s) starting", state.ID, cfg.runName())

	topo, err := r.backend.Start(ctx, cfg.Flows)
	if err != nil {
		state.Phase = PhaseTornDown
		return nil, err
	}
	state.Topo = topo
	state.Phase = PhaseNetworkUp

	// teardown must run even on the failure path
	defer r.teardown(state)

	record, err := r.steps(ctx, cfg, state, baseline, aqm)
	if err != nil {
		r.logger.Warnf("aqmbench: run %s failed in phase %s: %s", state.ID, state.Phase, err.Error())
		return nil, err
	}
	return record, nil
}

// translatePlans produces the baseline plan and, when an AQM discipline
// was requested, the secondary plan for it. The baseline only honors
// the queue-limit override when it is the selected discipline, because
// the override's unit depends on the discipline it targets.
func (r *Runner) translatePlans(cfg *RunConfig, discipline Discipline, unit RateUnit) (ShapingPlan, ShapingPlan, error) {
	baselineOverrides := &Overrides{}
	if discipline == DisciplineTBF {
		baselineOverrides = cfg.overrides()
	}
	baseline, err := Translate(r.logger, DisciplineTBF, cfg.Bandwidth, unit, r.hz, r.bdp, baselineOverrides)
	if err != nil {
		return nil, nil, err
	}
	if discipline == DisciplineTBF {
		return baseline, nil, nil
	}
	aqm, err := Translate(r.logger, discipline, cfg.Bandwidth, unit, r.hz, r.bdp, cfg.overrides())
	if err != nil {
		return nil, nil, err
	}
	return baseline, aqm, nil
}

// steps walks the run through its phases once the network is up.
func (r *Runner) steps(
	ctx context.Context,
	cfg *RunConfig,
	state *RunState,
	baseline ShapingPlan,
	aqm ShapingPlan,
) (*OutputRecord, error) {
	// NetworkUp -> Shaped: any failure here is fatal and skips
	// traffic and capture entirely
	if err := r.shape(ctx, cfg, state, baseline, aqm); err != nil {
		return nil, err
	}
	state.Phase = PhaseShaped

	// Shaped -> CaptureRunning (skipped when capture is off): capture
	// starts strictly before traffic
	if cfg.Capture || cfg.FullCapture {
		captureConfig := &CaptureConfig{
			Logger:    r.logger,
			Full:      cfg.FullCapture,
			OutputDir: state.OutputDir,
		}
		captures, err := StartCapture(ctx, captureConfig, state.Topo, state.Topo.CaptureInterfaces())
		if err != nil {
			return nil, err
		}
		state.Captures = captures
		state.Phase = PhaseCaptureRunning
	}

	// CaptureRunning/Shaped -> TrafficRunning: servers first, once and
	// in the background, then all clients concurrently
	hosts := state.Topo.Hosts()
	sources, dests := hosts[:cfg.Flows], hosts[cfg.Flows:]
	trafficConfig := &TrafficConfig{
		Logger:      r.logger,
		Mode:        cfg.mode(),
		Duration:    cfg.duration(),
		VolumeBytes: cfg.TransferBytes,
		Structured:  cfg.Structured,
		OutputDir:   state.OutputDir,
	}
	servers, err := StartServers(ctx, trafficConfig, dests)
	if err != nil {
		// the captures are already running and must not outlive the run
		StopCapture(r.logger, state.Captures)
		state.Captures = nil
		return nil, err
	}
	state.Servers = servers
	state.Phase = PhaseTrafficRunning
	state.Flows = RunFlows(ctx, trafficConfig, sources, dests)

	// TrafficRunning -> CaptureStopped: reap traffic processes first,
	// then sweep stragglers, then stop the captures
	stopServers(r.logger, state.Servers)
	state.Servers = nil
	sweepStragglers(ctx, r.logger, state.Topo, "iperf3")
	StopCapture(r.logger, state.Captures)
	state.Phase = PhaseCaptureStopped

	// a failed sibling does not abort the other flows, but any failed
	// flow makes the whole run unsalvageable
	for _, flow := range state.Flows {
		if flow.Err != nil {
			return nil, fmt.Errorf("flow %d: %w", flow.Flow, flow.Err)
		}
	}

	// CaptureStopped -> Formatted
	summaries, err := r.format(state)
	if err != nil {
		return nil, err
	}
	state.Phase = PhaseFormatted

	// Formatted -> Summarized: exactly one append per run
	summaryPath := filepath.Join(state.OutputDir, SummaryFile)
	if err := AppendSummary(summaryPath, cfg.runName(), summaries); err != nil {
		return nil, err
	}
	state.Phase = PhaseSummarized

	return &OutputRecord{
		ID:    state.ID,
		Name:  cfg.runName(),
		Flows: summaries,
	}, nil
}

// shape applies host buffer sizing, the WAN delay, and the shaping
// plans. Every command here talks to the external environment, and any
// failure aborts the run before traffic starts.
func (r *Runner) shape(
	ctx context.Context,
	cfg *RunConfig,
	state *RunState,
	baseline ShapingPlan,
	aqm ShapingPlan,
) error {
	hosts := state.Topo.Hosts()
	if len(hosts) != 2*cfg.Flows {
		return fmt.Errorf("%w: topology has %d hosts, want %d",
			ErrInvalidFlowCount, len(hosts), 2*cfg.Flows)
	}
	if err := MakeOutputDirs(state.OutputDir, hosts); err != nil {
		return err
	}

	// emulate the high-latency WAN, checking connectivity around it
	if err := r.setDelay(ctx, cfg, state, hosts); err != nil {
		return err
	}

	// size the host socket buffers from the BDP
	bufferMax := DefaultBufferMax(r.bdp)
	for _, host := range hosts {
		rmem := fmt.Sprintf("sysctl -w net.ipv4.tcp_rmem='10240 87380 %d'", bufferMax)
		if _, err := host.Run(ctx, rmem); err != nil {
			return err
		}
		wmem := fmt.Sprintf("sysctl -w net.ipv4.tcp_wmem='10240 87380 %d'", bufferMax)
		if _, err := host.Run(ctx, wmem); err != nil {
			return err
		}
		if cfg.CCA != "" {
			cca := "sysctl -w net.ipv4.tcp_congestion_control=" + cfg.CCA
			if _, err := host.Run(ctx, cca); err != nil {
				return err
			}
		}
	}

	// install the baseline plan at the bottleneck, then the AQM plan
	// under it when one was requested
	iface := state.Topo.BottleneckInterface()
	r.logger.Infof("aqmbench: applying %s at %s", baseline.Discipline(), iface)
	root := fmt.Sprintf("tc qdisc add dev %s root handle 1: %s", iface, baseline.TCArgs())
	if _, err := state.Topo.Run(ctx, root); err != nil {
		return err
	}
	if aqm != nil {
		r.logger.Infof("aqmbench: applying %s at %s", aqm.Discipline(), iface)
		child := fmt.Sprintf("tc qdisc add dev %s parent 1: handle 2: %s", iface, aqm.TCArgs())
		if _, err := state.Topo.Run(ctx, child); err != nil {
			return err
		}
	}
	return nil
}

// setDelay emulates the WAN latency on the delay interface, pinging
// across the link before and after to validate connectivity.
func (r *Runner) setDelay(ctx context.Context, cfg *RunConfig, state *RunState, hosts []Host) error {
	ping := "ping -c4 " + hosts[cfg.Flows].Addr()
	if _, err := hosts[0].Run(ctx, ping); err != nil {
		return err
	}
	command := fmt.Sprintf("tc qdisc add dev %s root netem delay %dms",
		state.Topo.DelayInterface(), cfg.DelayMs)
	if _, err := state.Topo.Run(ctx, command); err != nil {
		return err
	}
	_, err := hosts[0].Run(ctx, ping)
	return err
}

// format normalizes every raw artifact of the run. Flow artifacts are
// authoritative: a flow that cannot be normalized fails the run, while
// an unreadable capture artifact only produces a warning.
func (r *Runner) format(state *RunState) ([]*FlowSummary, error) {
	var summaries []*FlowSummary
	for _, flow := range state.Flows {
		summary, err := FormatFlow(flow)
		if err != nil {
			return nil, err
		}
		r.logger.Infof(
			"aqmbench: flow %d: fct %v s, throughput %v Mbit/s, rtt p50/p90/p99 %d/%d/%d us",
			flow.Flow, summary.FCT, summary.ThroughputMbit,
			summary.RTT.P50, summary.RTT.P90, summary.RTT.P99,
		)
		summaries = append(summaries, summary)
	}
	for _, capture := range state.Captures {
		summary, err := FormatCapture(capture)
		if err != nil {
			r.logger.Warnf("aqmbench: capture %s: %s", capture.Interface, err.Error())
			continue
		}
		r.logger.Infof("aqmbench: capture %s: mean %v Mbit/s, peak %v Mbit/s",
			summary.Interface, summary.MeanMbit, summary.MaxMbit)
	}
	return summaries, nil
}

// teardown releases the emulated topology. It is the run's last action
// on both the success and the failure path.
func (r *Runner) teardown(state *RunState) {
	if state.Topo != nil {
		if err := state.Topo.Close(); err != nil {
			r.logger.Warnf("aqmbench: teardown: %s", err.Error())
		}
		state.Topo = nil
	}
	state.Phase = PhaseTornDown
	r.logger.Infof("aqmbench: run %s torn down", state.ID)
}
