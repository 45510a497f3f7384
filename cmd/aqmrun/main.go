// Command aqmrun executes one shaping experiment inside an emulated
// environment driven through shell command prefixes.
package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/apex/log"
	"github.com/bassosimone/aqmbench"
)

func main() {
	// parse command line flags
	config := flag.String("config", "config.yaml", "experiment configuration file")
	environment := flag.String("env", "env.yaml", "environment description file")
	hz := flag.Int("hz", 0, "kernel timer frequency (0 = read from the kernel config)")
	output := flag.String("output", "output", "base output directory")
	flag.Parse()

	log.SetLevel(log.DebugLevel)

	cfg, err := aqmbench.ReadRunConfig(*config)
	if err != nil {
		log.WithError(err).Fatal("aqmbench.ReadRunConfig")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("cfg.Validate")
	}
	envConfig, err := aqmbench.ReadShellBackendConfig(*environment)
	if err != nil {
		log.WithError(err).Fatal("aqmbench.ReadShellBackendConfig")
	}

	if *hz <= 0 {
		*hz, err = aqmbench.TimerHz()
		if err != nil {
			log.WithError(err).Fatal("aqmbench.TimerHz")
		}
	}

	backend := &aqmbench.ShellBackend{
		Config: envConfig,
		Logger: log.Log,
	}
	runner := aqmbench.NewRunner(backend, log.Log, *output, *hz)

	unit := aqmbench.RateUnit(cfg.BandwidthUnit)
	if err := runner.SetBDP(cfg.Bandwidth, unit, cfg.DelayMs); err != nil {
		log.WithError(err).Fatal("runner.SetBDP")
	}

	record, err := runner.Run(context.Background(), cfg)
	if err != nil {
		log.WithError(err).Fatal("runner.Run")
	}
	for _, flow := range record.Flows {
		fmt.Printf("%s: fct %v s, throughput %v Mbit/s\n", record.Name, flow.FCT, flow.ThroughputMbit)
	}
}
