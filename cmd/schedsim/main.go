// Package main provides the schedsim CLI, a driver for the per-CPU
// scheduler that runs canned scenarios or a one-shot workload whose
// per-CPU stats it prints, over a simulated clock instead of a real kernel.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/LimitlessOS-official/Limitless-sub009/internal/runtime/kernel/sched"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	sub := os.Args[1]
	args := os.Args[2:]

	switch sub {
	case "help", "-h", "--help":
		usage()
	case "version", "-v", "--version":
		jsonOutput := false
		for _, a := range args {
			if a == "--json" || a == "-j" {
				jsonOutput = true
			}
		}
		printVersion(jsonOutput)
	case "run":
		must(runSimulation(args))
	case "scenario":
		must(runScenario(args))
	case "stats":
		must(runStats(args))
	default:
		fmt.Fprintf(os.Stderr, "schedsim: unknown subcommand %q\n\n", sub)
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Println(`schedsim - per-CPU scheduler simulator

Usage:
  schedsim <command> [arguments]

Commands:
  run        run a synthetic workload for a fixed number of ticks
  scenario   run one of the named built-in scenarios
  stats      run a workload and print final per-CPU stats as JSON
  version    print version information
  help       show this message`)
}

func printVersion(jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(map[string]string{
			"name":          "schedsim",
			"configVersion": sched.ConfigVersion,
		}, "", "  ")
		fmt.Println(string(data))
		return
	}
	fmt.Printf("schedsim (scheduler config schema %s)\n", sched.ConfigVersion)
}

func must(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "schedsim:", err)
		os.Exit(1)
	}
}

func runSimulation(args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	ncpu := fs.Int("cpus", 4, "number of simulated CPUs")
	tasks := fs.Int("tasks", 8, "number of fair-class tasks to create")
	ticks := fs.Int("ticks", 10_000, "number of 1ms ticks to simulate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	h := newHarness(*ncpu)
	for i := 0; i < *tasks; i++ {
		if _, err := h.sched.ActivateTask(uint64(100+i), sched.FairPolicy(0), nil); err != nil {
			return err
		}
	}

	h.advance(*ticks)
	printStats(h.sched.SnapshotStats())
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	ncpu := fs.Int("cpus", 4, "number of simulated CPUs")
	ticks := fs.Int("ticks", 10_000, "number of 1ms ticks to simulate")
	if err := fs.Parse(args); err != nil {
		return err
	}

	h := newHarness(*ncpu)
	for i := 0; i < 4; i++ {
		if _, err := h.sched.ActivateTask(uint64(200+i), sched.FairPolicy(int8(i*5)), nil); err != nil {
			return err
		}
	}
	h.advance(*ticks)

	data, err := json.MarshalIndent(h.sched.SnapshotStats(), "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func runScenario(args []string) error {
	fs := flag.NewFlagSet("scenario", flag.ExitOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	if len(rest) == 0 {
		return fmt.Errorf("usage: schedsim scenario <name>")
	}

	switch rest[0] {
	case "rt-preempts-fair":
		return scenarioRTPreemptsFair()
	case "deadline-admission":
		return scenarioDeadlineAdmission()
	case "wakeup-affinity":
		return scenarioWakeupAffinity()
	default:
		return fmt.Errorf("unknown scenario %q (try rt-preempts-fair, deadline-admission, wakeup-affinity)", rest[0])
	}
}

func printStats(stats []sched.CPUStats) {
	for cpu, s := range stats {
		fmt.Printf("cpu%-3d switches=%-8d migrations=%-6d fair_enq=%-8d rt_preempt=%-6d dl_miss=%-4d balance=%d\n",
			cpu, s.ContextSwitches, s.Migrations, s.FairEnqueues, s.RTPreemptions, s.DeadlineMisses, s.BalancerRuns)
	}
}
