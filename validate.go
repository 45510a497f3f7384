package aqmbench

//
// Unit and parameter validators
//

import (
	"fmt"
	"strings"
)

// NormalizeRateUnit maps free-form user input (extra spaces, mixed case)
// into the closed set of rate units. Returns an error wrapping
// [ErrInvalidUnit] when the input is not a supported unit.
func NormalizeRateUnit(unit string) (RateUnit, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(unit)); normalized {
	case "gbit":
		return RateGbit, nil
	case "mbit":
		return RateMbit, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidUnit, unit)
	}
}

// MaxDelayMs is the largest delay accepted by the shaping backend (the
// maximum time value of the Linux tc command).
const MaxDelayMs = 4294967

// Default drop-probability thresholds substituted by
// [ValidateDropThresholds] when the given pair is unusable.
const (
	DefaultDropLow  = 2
	DefaultDropHigh = 25
)

// maxDropThreshold is the largest threshold the shaping backend accepts.
const maxDropThreshold = 32

// ValidateDropThresholds validates the low/high drop-probability
// thresholds. When 0 <= low < high <= 32 it returns the pair unchanged
// and ok is true; otherwise it returns the documented defaults and ok is
// false, so that the caller can emit a warning. This validator never
// fails hard: the returned pair is always usable.
func ValidateDropThresholds(low, high int) (int, int, bool) {
	if low >= 0 && low < high && high <= maxDropThreshold {
		return low, high, true
	}
	return DefaultDropLow, DefaultDropHigh, false
}

// CanonicalDiscipline maps a free-form discipline name into the closed
// [Discipline] enumeration. Returns an error wrapping
// [ErrInvalidDiscipline] when the name is not supported.
func CanonicalDiscipline(name string) (Discipline, error) {
	switch normalized := strings.ToLower(strings.TrimSpace(name)); normalized {
	case "tbf":
		return DisciplineTBF, nil
	case "red":
		return DisciplineRED, nil
	case "fq_pie", "fqpie":
		return DisciplineFQPIE, nil
	case "sfq":
		return DisciplineSFQ, nil
	case "pie":
		return DisciplinePIE, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDiscipline, name)
	}
}
