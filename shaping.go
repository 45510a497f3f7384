package aqmbench

//
// Shaping parameter translation
//

import (
	"fmt"
	"math"
)

// Discipline is a queueing discipline in the closed set supported by
// the experiment engine. The zero value is the baseline rate limiter.
type Discipline int

const (
	// DisciplineTBF is the token-bucket-filter rate-limiting baseline.
	DisciplineTBF = Discipline(iota)

	// DisciplineRED is the randomized-early-drop adaptive variant.
	DisciplineRED

	// DisciplineFQPIE is the delay-based fair variant.
	DisciplineFQPIE

	// DisciplineSFQ is the round-robin-fair variant.
	DisciplineSFQ

	// DisciplinePIE is the delay-bounded-target variant.
	DisciplinePIE
)

// String returns the tc name of the discipline.
func (d Discipline) String() string {
	switch d {
	case DisciplineTBF:
		return "tbf"
	case DisciplineRED:
		return "red"
	case DisciplineFQPIE:
		return "fq_pie"
	case DisciplineSFQ:
		return "sfq"
	case DisciplinePIE:
		return "pie"
	default:
		return "unknown"
	}
}

// Default knob values used when the corresponding override is zero.
const (
	// DefaultAvgPacket is the packet-average size in bytes assumed by
	// the drop-based variant.
	DefaultAvgPacket = 1000

	// DefaultTargetMs is the default target delay in milliseconds for
	// the delay-based variants.
	DefaultTargetMs = 15

	// DefaultUpdateMs is the default update interval in milliseconds
	// for the delay-based variants.
	DefaultUpdateMs = 15

	// DefaultPerturbSec is the default perturbation interval in
	// seconds for the round-robin-fair variant.
	DefaultPerturbSec = 10
)

// Overrides carries the discipline-specific tuning knobs of a run. The
// zero value of each field selects the corresponding default.
type Overrides struct {
	// QueueLimit overrides the queue-size limit. It is expressed in
	// bytes for the baseline and the drop-based variant and in packets
	// for the delay-based variants.
	QueueLimit int64

	// DropLow is the low drop-probability threshold.
	DropLow int

	// DropHigh is the high drop-probability threshold.
	DropHigh int

	// TargetMs is the target delay in milliseconds.
	TargetMs int

	// UpdateMs is the update interval in milliseconds.
	UpdateMs int

	// AvgPacket is the packet-average size in bytes.
	AvgPacket int

	// PerturbSec is the perturbation interval in seconds.
	PerturbSec int
}

// ShapingPlan is the concrete parameter set that realizes one discipline
// at one link. Obtain plans through [Translate], which also validates
// every numeric field against the shaping backend's accepted ranges.
type ShapingPlan interface {
	// Discipline returns the discipline the plan realizes.
	Discipline() Discipline

	// TCArgs renders the plan as the tc qdisc parameter string the
	// shaping backend accepts.
	TCArgs() string

	// validate checks field ranges before the plan is handed out.
	validate() error
}

// TBFPlan is the [ShapingPlan] of the rate-limiting baseline.
type TBFPlan struct {
	// Bandwidth is the link rate magnitude.
	Bandwidth int

	// Unit is the link rate unit.
	Unit RateUnit

	// Burst is the bucket size in bytes, derived from the bandwidth
	// and the kernel timer frequency.
	Burst int64

	// LimitBytes is the number of bytes that can be queued waiting
	// for tokens to become available.
	LimitBytes int64
}

var _ ShapingPlan = &TBFPlan{}

// Discipline implements ShapingPlan
func (p *TBFPlan) Discipline() Discipline {
	return DisciplineTBF
}

// TCArgs implements ShapingPlan
func (p *TBFPlan) TCArgs() string {
	return fmt.Sprintf("tbf rate %d%s burst %d limit %d",
		p.Bandwidth, p.Unit, p.Burst, p.LimitBytes)
}

func (p *TBFPlan) validate() error {
	if p.Bandwidth <= 0 || p.Burst < 1 || p.LimitBytes <= 0 {
		return fmt.Errorf("%w: %+v", ErrPlanOutOfRange, *p)
	}
	return nil
}

// REDPlan is the [ShapingPlan] of the drop-based adaptive variant.
type REDPlan struct {
	// LimitBytes is the hard queue limit in bytes.
	LimitBytes int64

	// MinBytes is the average-queue threshold where marking starts.
	MinBytes int64

	// MaxBytes is the average-queue threshold where marking
	// probability is maximal.
	MaxBytes int64

	// Burst is the number of average-sized packets allowed to burst.
	Burst int64

	// AvgPacket is the packet-average size in bytes.
	AvgPacket int
}

var _ ShapingPlan = &REDPlan{}

// Discipline implements ShapingPlan
func (p *REDPlan) Discipline() Discipline {
	return DisciplineRED
}

// TCArgs implements ShapingPlan
func (p *REDPlan) TCArgs() string {
	return fmt.Sprintf("red limit %d min %d max %d avpkt %d burst %d adaptive ecn",
		p.LimitBytes, p.MinBytes, p.MaxBytes, p.AvgPacket, p.Burst)
}

func (p *REDPlan) validate() error {
	good := p.LimitBytes > 0 && p.MinBytes > 0 && p.MaxBytes > p.MinBytes &&
		p.Burst >= 1 && p.AvgPacket > 0
	if !good {
		return fmt.Errorf("%w: %+v", ErrPlanOutOfRange, *p)
	}
	return nil
}

// PIEPlan is the [ShapingPlan] shared by the two delay-based variants:
// the delay-bounded-target variant and, with Fair set, the delay-based
// fair variant.
type PIEPlan struct {
	// Fair selects the flow-queuing fair variant.
	Fair bool

	// LimitPackets is the queue limit in packets.
	LimitPackets int64

	// TargetMs is the target queueing delay in milliseconds.
	TargetMs int

	// UpdateMs is the drop-probability update interval in milliseconds.
	UpdateMs int

	// Alpha is the low drop-probability threshold.
	Alpha int

	// Beta is the high drop-probability threshold.
	Beta int
}

var _ ShapingPlan = &PIEPlan{}

// Discipline implements ShapingPlan
func (p *PIEPlan) Discipline() Discipline {
	if p.Fair {
		return DisciplineFQPIE
	}
	return DisciplinePIE
}

// TCArgs implements ShapingPlan
func (p *PIEPlan) TCArgs() string {
	return fmt.Sprintf("%s limit %d target %dms tupdate %dms alpha %d beta %d ecn",
		p.Discipline(), p.LimitPackets, p.TargetMs, p.UpdateMs, p.Alpha, p.Beta)
}

func (p *PIEPlan) validate() error {
	good := p.LimitPackets > 0 && p.TargetMs > 0 && p.UpdateMs > 0 &&
		p.Alpha >= 0 && p.Alpha <= maxDropThreshold &&
		p.Beta >= 0 && p.Beta <= maxDropThreshold
	if !good {
		return fmt.Errorf("%w: %+v", ErrPlanOutOfRange, *p)
	}
	return nil
}

// SFQPlan is the [ShapingPlan] of the round-robin-fair variant. It has
// no BDP-derived defaults.
type SFQPlan struct {
	// PerturbSec is the hash perturbation interval in seconds.
	PerturbSec int
}

var _ ShapingPlan = &SFQPlan{}

// Discipline implements ShapingPlan
func (p *SFQPlan) Discipline() Discipline {
	return DisciplineSFQ
}

// TCArgs implements ShapingPlan
func (p *SFQPlan) TCArgs() string {
	return fmt.Sprintf("sfq perturb %d", p.PerturbSec)
}

func (p *SFQPlan) validate() error {
	if p.PerturbSec <= 0 {
		return fmt.Errorf("%w: %+v", ErrPlanOutOfRange, *p)
	}
	return nil
}

// Translate maps a discipline selection plus the derived defaults into
// the concrete parameter set required by that discipline.
//
// Arguments:
//
// - logger is where threshold-defaulting warnings go;
//
// - discipline selects the variant to translate for;
//
// - bandwidth and unit describe the link rate;
//
// - hz is the kernel timer frequency (see [TimerHz]);
//
// - bdp is the link's bandwidth-delay product in bytes;
//
// - overrides carries the run's tuning knobs.
//
// Translate fails with [ErrPlanOutOfRange] when the resulting plan
// contains a field outside the backend's accepted range and with
// [ErrInvalidDiscipline] when the discipline is not in the closed set.
func Translate(
	logger Logger,
	discipline Discipline,
	bandwidth int,
	unit RateUnit,
	hz int,
	bdp int64,
	overrides *Overrides,
) (ShapingPlan, error) {
	if overrides == nil {
		overrides = &Overrides{}
	}

	var plan ShapingPlan
	switch discipline {

	case DisciplineTBF:
		plan = &TBFPlan{
			Bandwidth:  bandwidth,
			Unit:       unit,
			Burst:      int64(unit.BitsPerSecond(bandwidth)) / int64(hz) / 8,
			LimitBytes: queueLimitBytes(bdp, overrides),
		}

	case DisciplineRED:
		limit := queueLimitBytes(bdp, overrides)
		avgPacket := overrides.AvgPacket
		if avgPacket <= 0 {
			avgPacket = DefaultAvgPacket
		}
		max := limit / 4
		min := max / 3
		burst := int64(math.Ceil(float64(2*min+max) / 3 / float64(avgPacket)))
		if burst < 1 {
			burst = 1
		}
		plan = &REDPlan{
			LimitBytes: limit,
			MinBytes:   min,
			MaxBytes:   max,
			Burst:      burst,
			AvgPacket:  avgPacket,
		}

	case DisciplineFQPIE, DisciplinePIE:
		limit := overrides.QueueLimit
		if limit <= 0 {
			limit = QueueLimitPackets(bdp)
		}
		target := overrides.TargetMs
		if target <= 0 {
			target = DefaultTargetMs
		}
		update := overrides.UpdateMs
		if update <= 0 {
			update = DefaultUpdateMs
		}
		alpha, beta, ok := ValidateDropThresholds(overrides.DropLow, overrides.DropHigh)
		if !ok {
			logger.Warnf(
				"aqmbench: drop thresholds (%d, %d) unusable, using defaults (%d, %d)",
				overrides.DropLow, overrides.DropHigh, alpha, beta,
			)
		}
		plan = &PIEPlan{
			Fair:         discipline == DisciplineFQPIE,
			LimitPackets: limit,
			TargetMs:     target,
			UpdateMs:     update,
			Alpha:        alpha,
			Beta:         beta,
		}

	case DisciplineSFQ:
		perturb := overrides.PerturbSec
		if perturb <= 0 {
			perturb = DefaultPerturbSec
		}
		plan = &SFQPlan{PerturbSec: perturb}

	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidDiscipline, discipline)
	}

	if err := plan.validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

// queueLimitBytes returns the byte-sized queue limit: the override when
// set, the BDP-derived default otherwise.
func queueLimitBytes(bdp int64, overrides *Overrides) int64 {
	if overrides.QueueLimit > 0 {
		return overrides.QueueLimit
	}
	return DefaultQueueLimit(bdp)
}
