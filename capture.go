package aqmbench

//
// Packet capture orchestration
//

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// CaptureWarmUp is the grace delay inserted after starting the capture
// processes. Captures start before traffic so that the first packets of
// every flow are observed: a capture started late systematically
// undercounts the flow's completion time.
const CaptureWarmUp = time.Second

// CaptureStopGrace is how long [StopCapture] waits for a capture
// process to exit gracefully before killing it.
const CaptureStopGrace = 2 * time.Second

// CaptureConfig configures per-interface packet capture.
type CaptureConfig struct {
	// Logger is the MANDATORY logger.
	Logger Logger

	// Full selects writing a structured capture file instead of a
	// live decoded summary.
	Full bool

	// OutputDir is the run's output directory.
	OutputDir string

	// WarmUp overrides [CaptureWarmUp] when positive.
	WarmUp time.Duration
}

// CaptureHandle pairs a running capture process with its artifact.
type CaptureHandle struct {
	// Interface is the monitored interface name.
	Interface string

	// Path is the capture artifact path.
	Path string

	// Full records whether Path is a structured capture file.
	Full bool

	// proc is the running capture process.
	proc *ProcHandle
}

// StartCapture starts one capture process per monitored interface, all
// concurrently, then sleeps the warm-up grace period. When this function
// returns without error every capture is running and has had time to
// attach to its interface.
func StartCapture(ctx context.Context, cfg *CaptureConfig, topo Topology, interfaces []string) ([]*CaptureHandle, error) {
	handles := make([]*CaptureHandle, len(interfaces))
	errs := make([]error, len(interfaces))
	wg := &sync.WaitGroup{}
	for idx, iface := range interfaces {
		wg.Add(1)
		go func(idx int, iface string) {
			defer wg.Done()
			handles[idx], errs[idx] = startSingleCapture(ctx, cfg, topo, iface)
		}(idx, iface)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			StopCapture(cfg.Logger, handles)
			return nil, err
		}
	}

	warmup := cfg.WarmUp
	if warmup <= 0 {
		warmup = CaptureWarmUp
	}
	time.Sleep(warmup)
	return handles, nil
}

// startSingleCapture starts the capture process for one interface.
func startSingleCapture(ctx context.Context, cfg *CaptureConfig, topo Topology, iface string) (*CaptureHandle, error) {
	var (
		path    string
		command string
	)
	if cfg.Full {
		path = filepath.Join(cfg.OutputDir, iface+".pcap")
		command = fmt.Sprintf("tcpdump -i %s -w %s tcp", iface, path)
	} else {
		path = filepath.Join(cfg.OutputDir, iface+".txt")
		command = fmt.Sprintf("tcpdump -i %s -l -n tcp > %s 2>/dev/null", iface, path)
	}
	proc, err := startProcOnTopology(ctx, cfg.Logger, topo, "capture "+iface, command)
	if err != nil {
		return nil, err
	}
	return &CaptureHandle{
		Interface: iface,
		Path:      path,
		Full:      cfg.Full,
		proc:      proc,
	}, nil
}

// StopCapture stops every capture process, graceful signal first and a
// forceful kill for stragglers, so that capture files are flushed and
// closed before formatting reads them. Nil handles (from a partially
// failed [StartCapture]) are skipped.
func StopCapture(logger Logger, handles []*CaptureHandle) {
	for _, handle := range handles {
		if handle == nil {
			continue
		}
		if err := handle.proc.GracefulStop(CaptureStopGrace); err != nil {
			// tcpdump exits non-zero on SIGINT with some versions
			logger.Debugf("aqmbench: capture %s: %s", handle.Interface, err.Error())
		}
	}
}
