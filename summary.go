package aqmbench

//
// Summary artifact
//

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SummaryFile is the name of the run group's summary artifact inside
// the base output directory.
const SummaryFile = "summary"

// MakeOutputDirs creates the per-host output directories under base.
// Calling it twice for the same run path is fine: directories that
// already exist are left alone.
func MakeOutputDirs(base string, hosts []Host) error {
	for _, host := range hosts {
		if err := os.MkdirAll(filepath.Join(base, host.Name()), 0755); err != nil {
			return err
		}
	}
	return nil
}

// AppendSummary appends one line for the named run to the summary
// artifact at path: the run name followed by one {completionTime}
// {throughput} pair per flow, space separated. The artifact has
// append-only semantics: lines are never rewritten.
func AppendSummary(path, name string, flows []*FlowSummary) error {
	builder := &strings.Builder{}
	builder.WriteString(name)
	for _, flow := range flows {
		fmt.Fprintf(builder, " %v %v", flow.FCT, flow.ThroughputMbit)
	}
	builder.WriteString("\n")

	filep, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := filep.WriteString(builder.String()); err != nil {
		filep.Close()
		return err
	}
	return filep.Close()
}
