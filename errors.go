package aqmbench

//
// Error taxonomy
//

import "errors"

// ErrInvalidUnit indicates that a bandwidth unit is not in the closed
// set of supported rate units.
var ErrInvalidUnit = errors.New("aqmbench: invalid bandwidth unit")

// ErrInvalidDiscipline indicates that a queueing discipline name is not
// in the closed set of supported disciplines.
var ErrInvalidDiscipline = errors.New("aqmbench: invalid queueing discipline")

// ErrInvalidDelay indicates a delay outside the 1..4294967 ms range
// accepted by the shaping backend.
var ErrInvalidDelay = errors.New("aqmbench: invalid delay value")

// ErrInvalidBandwidth indicates a non-positive bandwidth.
var ErrInvalidBandwidth = errors.New("aqmbench: invalid bandwidth value")

// ErrInvalidFlowCount indicates a flow count outside the 1..5 range.
var ErrInvalidFlowCount = errors.New("aqmbench: invalid flow count")

// ErrInvalidTransferMode indicates an unknown transfer mode or a
// transfer magnitude that does not match the selected mode.
var ErrInvalidTransferMode = errors.New("aqmbench: invalid transfer mode")

// ErrBDPNotSet indicates that a run was attempted before the
// bandwidth-delay product had been computed.
var ErrBDPNotSet = errors.New("aqmbench: BDP not set")

// ErrCommandFailed indicates that a command executed inside the emulated
// environment exited with a non-zero status.
var ErrCommandFailed = errors.New("aqmbench: command failed")

// ErrPlanOutOfRange indicates that a translated shaping plan contains a
// numeric field outside the range accepted by the shaping backend.
var ErrPlanOutOfRange = errors.New("aqmbench: shaping plan field out of range")

// ErrRawResultMissing indicates that a traffic client exited without
// leaving its raw result artifact behind.
var ErrRawResultMissing = errors.New("aqmbench: raw result artifact missing")
