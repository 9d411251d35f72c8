// Package main is the bench tool for a plant scanning cell.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	"go.viam.com/rdk/logging"
	"go.viam.com/utils"

	plantscan "plant_scan"
	"plant_scan/dobot"
)

func main() {
	err := realMain()
	if err != nil {
		panic(err)
	}
}

func realMain() error {
	ctx := context.Background()
	logger := logging.NewLogger("plantscan-cli")

	configPath := ""
	envFile := ".env"
	simulate := false
	debug := false
	index := 0
	name := ""
	frames := 0

	flag.StringVar(&configPath, "config", configPath, "config file (.json, .yaml or .yml)")
	flag.StringVar(&envFile, "env", envFile, "dotenv file with PLANTSCAN_* overrides")
	flag.BoolVar(&simulate, "sim", simulate, "run against the in-process arm simulator and simulated bed")
	flag.BoolVar(&debug, "debug", debug, "debug")
	flag.IntVar(&index, "plant", index, "plant index for scan")
	flag.StringVar(&name, "name", name, "recording name for scan, default plant_<index+1>")
	flag.IntVar(&frames, "frames", frames, "frames to record, default from config")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] [start] [find] [scan] [wait] [status]\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if debug {
		logger.SetLevel(logging.DEBUG)
	}
	if err := plantscan.LoadEnv(envFile); err != nil {
		return err
	}
	cfg, err := plantscan.LoadConfig(configPath)
	if err != nil {
		return err
	}

	if simulate || cfg.Simulate {
		sim := dobot.NewSimulator(logger.Sublogger("sim"))
		simCfg, err := sim.Start("127.0.0.1")
		if err != nil {
			return err
		}
		defer utils.UncheckedErrorFunc(sim.Close)
		cfg.Arm.Host = simCfg.Host
		cfg.Arm.DashboardPort = simCfg.DashboardPort
		cfg.Arm.MotionPort = simCfg.MotionPort
		cfg.Arm.FeedbackPort = simCfg.FeedbackPort
	}
	if cfg.Camera != "" {
		logger.Warnf("camera %q is only available inside viam-server, using the simulated bed", cfg.Camera)
	}

	scanner, err := plantscan.NewScanner(*cfg, plantscan.SimulatedBed(), dobot.DefaultRegistry, logger)
	if err != nil {
		return err
	}
	defer utils.UncheckedErrorFunc(func() error {
		return scanner.Close(ctx)
	})

	interrupts := make(chan os.Signal, 2)
	signal.Notify(interrupts, os.Interrupt)
	defer signal.Stop(interrupts)
	utils.PanicCapturingGo(func() {
		handleInterrupts(interrupts, scanner, logger, os.Exit)
	})

	actions := flag.Args()
	if len(actions) == 0 {
		actions = []string{"start", "find", "scan", "wait"}
	}
	for _, action := range actions {
		if err := run(ctx, logger, scanner, action, index, name, frames); err != nil {
			return err
		}
	}
	return nil
}

// stopper is the part of the scanner an interrupt needs.
type stopper interface {
	Abort() bool
	Disable(ctx context.Context) error
}

// handleInterrupts aborts a running orbit on interrupt. When there is nothing to
// abort it disables the arm and exits.
func handleInterrupts(interrupts <-chan os.Signal, s stopper, logger logging.Logger, exit func(int)) {
	for range interrupts {
		if s.Abort() {
			logger.Warn("interrupt: aborting orbit, interrupt again to exit")
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), disableTimeout)
		if err := s.Disable(ctx); err != nil {
			logger.Errorf("disable before exit: %v", err)
		}
		cancel()
		exit(1)
		return
	}
}

const disableTimeout = 2 * time.Second

func run(ctx context.Context, logger logging.Logger, s *plantscan.Scanner, action string, index int, name string, frames int) error {
	switch action {
	case "start":
		return s.Start(ctx)
	case "find":
		plants, err := s.FindPlants(ctx)
		if err != nil {
			return err
		}
		for _, p := range plants {
			logger.Infof("plant_%d (%s): %v", p.Index+1, p.Format, p.Packed)
		}
		return nil
	case "scan":
		out, err := s.ScanPlant(ctx, index, name, frames)
		logger.Infof("scan %s: %s", out.RecordingName, out.Code)
		for _, step := range out.Steps {
			logger.Infof("  %-6s %s %s", step.Label, step.Target, step.Result)
		}
		return err
	case "wait":
		if err := s.WaitRecording(ctx); err != nil {
			return err
		}
		rec := s.Status().Recording
		if rec.Path != "" {
			logger.Infof("recording %s saved to %s", rec.Name, rec.Path)
		}
		return nil
	case "status":
		st := s.Status()
		logger.Infof("state %s, %d plant(s), recording %q active=%t", st.State, len(st.Plants), st.Recording.Name, st.Recording.Active)
		if st.Telemetry != nil {
			fmt.Print(st.Telemetry.String())
		}
		for _, a := range st.Alarms {
			logger.Warn(a.String())
		}
		return nil
	}
	return fmt.Errorf("unknown action %q", action)
}
