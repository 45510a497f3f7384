// Package aqmbench drives controlled network-performance experiments
// over an emulated wide-area link.
//
// A single experiment run is sequenced by a [Runner]: it obtains a fresh
// emulated topology from a [Backend], derives the bandwidth-delay product
// with [ComputeBDP], installs the shaping plans produced by [Translate],
// brackets a window of synchronized traffic ([RunFlows]) with per-link
// packet capture ([StartCapture] and [StopCapture]), normalizes the raw
// artifacts into the canonical per-flow record shape, and appends exactly
// one line to the run group's summary file.
//
// The emulated environment itself is an external collaborator: the
// [Backend], [Topology], and [Host] interfaces describe the boundary, and
// [ShellBackend] adapts any environment that exposes its virtual hosts
// through command prefixes (for example "ip netns exec h1").
//
// The queue-management algorithms are likewise not implemented here; they
// are parameterized. [Translate] maps a [Discipline] plus the derived
// defaults into the concrete parameter set ([ShapingPlan]) handed to the
// shaping backend as a tc qdisc parameter string.
//
// Whatever happens during a run, the topology is torn down before the
// [Runner] returns. That is the one hard liveness guarantee this package
// makes.
package aqmbench
