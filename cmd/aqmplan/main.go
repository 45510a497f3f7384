// Command aqmplan validates an experiment configuration and prints the
// derived BDP and the tc command parameters without touching the network.
package main

import (
	"flag"
	"fmt"

	"github.com/apex/log"
	"github.com/bassosimone/aqmbench"
)

func main() {
	// parse command line flags
	config := flag.String("config", "config.yaml", "experiment configuration file")
	hz := flag.Int("hz", 0, "kernel timer frequency (0 = read from the kernel config)")
	verbose := flag.Bool("verbose", false, "enable verbose logging")
	flag.Parse()

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := aqmbench.ReadRunConfig(*config)
	if err != nil {
		log.WithError(err).Fatal("aqmbench.ReadRunConfig")
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("cfg.Validate")
	}

	if *hz <= 0 {
		*hz, err = aqmbench.TimerHz()
		if err != nil {
			log.WithError(err).Fatal("aqmbench.TimerHz")
		}
	}

	unit := aqmbench.RateUnit(cfg.BandwidthUnit)
	bdp := aqmbench.Must1(aqmbench.ComputeBDP(cfg.Bandwidth, unit, cfg.DelayMs))
	fmt.Printf("bdp: %d bytes\n", bdp)
	fmt.Printf("buffer max: %d bytes\n", aqmbench.DefaultBufferMax(bdp))
	fmt.Printf("queue limit: %d bytes (%d packets)\n",
		aqmbench.DefaultQueueLimit(bdp), aqmbench.QueueLimitPackets(bdp))

	discipline := aqmbench.Must1(aqmbench.CanonicalDiscipline(cfg.Discipline))
	overrides := &aqmbench.Overrides{
		QueueLimit: cfg.QueueLimit,
		DropLow:    cfg.DropLow,
		DropHigh:   cfg.DropHigh,
		TargetMs:   cfg.TargetMs,
		UpdateMs:   cfg.UpdateMs,
		AvgPacket:  cfg.AvgPacket,
		PerturbSec: cfg.PerturbSec,
	}

	baseline, err := aqmbench.Translate(
		log.Log, aqmbench.DisciplineTBF, cfg.Bandwidth, unit, *hz, bdp, overrides)
	if err != nil {
		log.WithError(err).Fatal("aqmbench.Translate")
	}
	fmt.Printf("root qdisc: %s\n", baseline.TCArgs())

	if discipline != aqmbench.DisciplineTBF {
		aqm, err := aqmbench.Translate(
			log.Log, discipline, cfg.Bandwidth, unit, *hz, bdp, overrides)
		if err != nil {
			log.WithError(err).Fatal("aqmbench.Translate")
		}
		fmt.Printf("child qdisc: %s\n", aqm.TCArgs())
	}
}
