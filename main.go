// Command covm boots a component machine from an environment
// directory and renders its screen as a cell grid on the terminal.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/pprof"
	"time"

	"github.com/fatih/color"
	"golang.org/x/term"

	"covm/emu"
	"covm/frame"
	"covm/logs"
)

func main() {
	log.SetPrefix("covm: ")
	log.SetFlags(0)

	var (
		devFlag     = flag.Bool("dev", false, "enable developer mode (watch the machine script and bios, reboot on change)")
		monitorFlag = flag.Bool("monitor", false, "inspect the machine in a monitor UI instead of rendering its screen")
		machineFlag = flag.String("machine", "", "machine script `file` overriding the embedded driver")
		verboseFlag = flag.Bool("v", false, "log debug detail")

		cpuProfileFlag = flag.String("cpu_profile", "", "write CPU profile to `file`")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-dev] [-monitor] [-machine script] <env>\n", os.Args[0])
		flag.PrintDefaults()
		os.Exit(2)
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
	}

	if *verboseFlag {
		logs.SetLevel(slog.LevelDebug)
	}

	var cpuProfile io.Closer
	if prof := *cpuProfileFlag; prof != "" {
		f, err := os.Create(prof)
		if err != nil {
			log.Fatalf("creating CPU profile file: %v", err)
		}
		pprof.StartCPUProfile(f)
		cpuProfile = f
	}

	code, err := run(flag.Arg(0), *machineFlag, *devFlag, *monitorFlag)

	if f := cpuProfile; f != nil {
		pprof.StopCPUProfile()
		f.Close()
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("error:"), err)
		os.Exit(code)
	}
	os.Exit(code)
}

func run(envPath, machinePath string, dev, monitor bool) (int, error) {
	var (
		framer frame.Framer
		mon    *monitorView
	)
	if monitor {
		mon = newMonitorView()
		framer = mon.framer
	} else {
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return 1, errors.New("standard output is not a terminal (use -monitor output redirection is not supported)")
		}
		framer = frame.NewAnsiTerm()
	}

	// Diagnostics go to a file and to a scrolling frame; dev mode
	// overlays the frame on the screen and the monitor shows it in its
	// log pane.
	if err := os.MkdirAll(envPath, 0o755); err != nil {
		return 1, err
	}
	logFile, err := os.Create(filepath.Join(envPath, "covm.log"))
	if err != nil {
		return 1, err
	}
	defer logFile.Close()
	logFrame := frame.New(100, 12)
	logFrame.SetScrolling(true)
	logger := logs.New(logFile, logFrame)

	host := emu.NewHost(framer)
	host.SetMachinePath(machinePath)
	client := emu.New(host, envPath, logger)
	defer client.Close()

	if !client.Load() {
		return 1, errors.New("client failed to load, see " + filepath.Join(envPath, "covm.log"))
	}

	if err := framer.Open(); err != nil {
		return 1, err
	}
	defer framer.Close()

	if dev {
		// keep the diagnostics overlay on-screen while iterating
		framer.Add(logFrame, -1)
	}

	var rebootCh <-chan string
	if dev {
		ch, stop, err := watchMachine(envPath, machinePath)
		if err != nil {
			return 1, err
		}
		defer stop()
		rebootCh = ch
	}
	if mon != nil {
		mon.attach(client, logFrame)
		go mon.Run()
		defer mon.Stop()
	}

	for {
		switch state := client.Run(); state {
		case emu.Continue:
			select {
			case name := <-rebootCh:
				logger.Info("dev: change detected, rebooting", "file", name)
				client.Computer().Restart()
			default:
			}
			time.Sleep(5 * time.Millisecond)
		case emu.Reboot:
			logger.Info("machine rebooting")
		case emu.Halt:
			cmp := client.Computer()
			switch {
			case cmp != nil && cmp.Crashed():
				return 2, errors.New("machine crashed, see " + filepath.Join(envPath, "covm.log"))
			case cmp != nil && cmp.InitFailed():
				return 1, errors.New("machine failed to boot, see " + filepath.Join(envPath, "covm.log"))
			}
			return 0, nil
		}
	}
}
