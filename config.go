package aqmbench

//
// Run configuration
//

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig describes one experiment run. The zero value is not valid:
// fill in at least Bandwidth, BandwidthUnit, DelayMs, Discipline, and
// Flows, then call [RunConfig.Validate], which also rewrites the unit
// and discipline fields into their canonical spellings.
type RunConfig struct {
	// Name is the run name used in the summary artifact. When empty
	// the runner falls back to the discipline name.
	Name string `json:"name" yaml:"name"`

	// DelayMs is the emulated WAN round-trip latency in milliseconds.
	DelayMs int `json:"delay_ms" yaml:"delay_ms"`

	// Bandwidth is the link bandwidth magnitude.
	Bandwidth int `json:"bandwidth" yaml:"bandwidth"`

	// BandwidthUnit is the link bandwidth unit ("gbit" or "mbit").
	BandwidthUnit string `json:"bandwidth_unit" yaml:"bandwidth_unit"`

	// Discipline is the queueing discipline name.
	Discipline string `json:"discipline" yaml:"discipline"`

	// QueueLimit overrides the discipline's queue-size limit (bytes or
	// packets depending on the discipline; zero selects the default).
	QueueLimit int64 `json:"queue_limit" yaml:"queue_limit"`

	// DropLow is the low drop-probability threshold.
	DropLow int `json:"drop_low" yaml:"drop_low"`

	// DropHigh is the high drop-probability threshold.
	DropHigh int `json:"drop_high" yaml:"drop_high"`

	// TargetMs is the target delay knob in milliseconds.
	TargetMs int `json:"target_ms" yaml:"target_ms"`

	// UpdateMs is the update interval knob in milliseconds.
	UpdateMs int `json:"update_ms" yaml:"update_ms"`

	// AvgPacket is the packet-average size knob in bytes.
	AvgPacket int `json:"avg_packet" yaml:"avg_packet"`

	// PerturbSec is the perturbation interval knob in seconds.
	PerturbSec int `json:"perturb_sec" yaml:"perturb_sec"`

	// Flows is the number of flow pairs (1..5).
	Flows int `json:"flows" yaml:"flows"`

	// TransferMode is "time" or "volume".
	TransferMode string `json:"transfer_mode" yaml:"transfer_mode"`

	// TransferSec is the per-flow duration in seconds for "time".
	TransferSec int `json:"transfer_sec" yaml:"transfer_sec"`

	// TransferBytes is the per-flow volume in bytes for "volume".
	TransferBytes int64 `json:"transfer_bytes" yaml:"transfer_bytes"`

	// Structured selects structured client output.
	Structured bool `json:"structured" yaml:"structured"`

	// Capture enables per-link packet capture.
	Capture bool `json:"capture" yaml:"capture"`

	// FullCapture selects structured capture files rather than live
	// decoded summaries. It implies Capture.
	FullCapture bool `json:"full_capture" yaml:"full_capture"`

	// CCA optionally overrides the hosts' congestion control
	// algorithm (e.g., "bbr").
	CCA string `json:"cca" yaml:"cca"`
}

// ReadRunConfig reads a [RunConfig] from a YAML file.
func ReadRunConfig(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := &RunConfig{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// MaxFlows is the largest supported flow count per side.
const MaxFlows = 5

// Validate checks the configuration before any side effect happens,
// normalizing the unit and discipline fields in place. A configuration
// that fails here never starts a run.
func (cfg *RunConfig) Validate() error {
	unit, err := NormalizeRateUnit(cfg.BandwidthUnit)
	if err != nil {
		return err
	}
	cfg.BandwidthUnit = string(unit)

	discipline, err := CanonicalDiscipline(cfg.Discipline)
	if err != nil {
		return err
	}
	cfg.Discipline = discipline.String()

	if cfg.Bandwidth <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidBandwidth, cfg.Bandwidth)
	}
	if cfg.DelayMs <= 0 || cfg.DelayMs > MaxDelayMs {
		return fmt.Errorf("%w: %d", ErrInvalidDelay, cfg.DelayMs)
	}
	if cfg.Flows < 1 || cfg.Flows > MaxFlows {
		return fmt.Errorf("%w: %d", ErrInvalidFlowCount, cfg.Flows)
	}

	switch cfg.TransferMode {
	case "time":
		if cfg.TransferSec <= 0 {
			return fmt.Errorf("%w: non-positive duration", ErrInvalidTransferMode)
		}
	case "volume":
		if cfg.TransferBytes <= 0 {
			return fmt.Errorf("%w: non-positive volume", ErrInvalidTransferMode)
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidTransferMode, cfg.TransferMode)
	}
	return nil
}

// mode returns the validated configuration's transfer mode.
func (cfg *RunConfig) mode() TransferMode {
	if cfg.TransferMode == "volume" {
		return TransferFixedVolume
	}
	return TransferFixedTime
}

// duration returns the fixed-time transfer duration.
func (cfg *RunConfig) duration() time.Duration {
	return time.Duration(cfg.TransferSec) * time.Second
}

// overrides returns the discipline tuning knobs of the configuration.
func (cfg *RunConfig) overrides() *Overrides {
	return &Overrides{
		QueueLimit: cfg.QueueLimit,
		DropLow:    cfg.DropLow,
		DropHigh:   cfg.DropHigh,
		TargetMs:   cfg.TargetMs,
		UpdateMs:   cfg.UpdateMs,
		AvgPacket:  cfg.AvgPacket,
		PerturbSec: cfg.PerturbSec,
	}
}

// runName returns the summary-line name of the run.
func (cfg *RunConfig) runName() string {
	if cfg.Name != "" {
		return cfg.Name
	}
	return cfg.Discipline
}
