// Command activate-rs is the target-side agent: the three subcommands
// activate/wait/revoke from spec.md §6, dispatched the way the teacher
// dispatches its own subcommands (flag.NewFlagSet per verb, Usage wired
// to a help-menu printer, positional args after Parse).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"rollout/m/v2/internal/agent"
	"rollout/m/v2/internal/errtax"
	"rollout/m/v2/internal/rlog"
)

const usage = `
activate-rs - magic-rollback activation agent

Usage:
    activate-rs activate <closure> <profile-path> [OPTIONS]
    activate-rs wait <closure> [OPTIONS]
    activate-rs revoke <profile-path>

  activate options:
        --temp-path <path>        Remote scratch directory [default: /tmp]
        --confirm-timeout <secs>  Seconds to await confirmation [default: 30]
        --magic-rollback          Arm the self-destruct confirmation watchdog
        --auto-rollback           Roll back automatically on activation failure
        --dry-activate            Render the activation without committing it
        --boot                    Activate at next boot instead of immediately
        --test                    Activate without making it the default profile

  wait options:
        --temp-path <path>        Remote scratch directory [default: /tmp]
        --activation-timeout <secs>  Seconds to await the sentinel [default: 240]

  Common:
        --debug-logs              Debug-level logging
        --log-dir <path>           Mirror logs to a file in this directory
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) < 1 {
		fmt.Fprint(os.Stderr, usage)
		return 2
	}

	agent.IgnoreSIGHUP(rlog.New(rlog.Activate, rlog.VerbosityStandard, true))

	switch args[0] {
	case "activate":
		return runActivate(args[1:])
	case "wait":
		return runWait(args[1:])
	case "revoke":
		return runRevoke(args[1:])
	case "-h", "--help":
		fmt.Fprint(os.Stderr, usage)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", args[0])
		fmt.Fprint(os.Stderr, usage)
		return 2
	}
}

func runActivate(args []string) int {
	fs := flag.NewFlagSet("activate", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	var tempPath string
	var confirmTimeout int
	var magicRollback, autoRollback, dryActivate, boot, test, debugLogs bool
	var logDir string

	fs.StringVar(&tempPath, "temp-path", "/tmp", "")
	fs.IntVar(&confirmTimeout, "confirm-timeout", 30, "")
	fs.BoolVar(&magicRollback, "magic-rollback", false, "")
	fs.BoolVar(&autoRollback, "auto-rollback", false, "")
	fs.BoolVar(&dryActivate, "dry-activate", false, "")
	fs.BoolVar(&boot, "boot", false, "")
	fs.BoolVar(&test, "test", false, "")
	fs.BoolVar(&debugLogs, "debug-logs", false, "")
	fs.StringVar(&logDir, "log-dir", "", "")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 2 {
		fs.Usage()
		return 2
	}

	log := rlog.New(rlog.Activate, verbosityFor(debugLogs), true)
	if logDir != "" {
		if err := log.MirrorToFile(logDir); err != nil {
			log.Error("mirror logs to %s: %v", logDir, err)
		}
	}
	a := &agent.Agent{Tool: agent.NixEnv{}, Log: log}

	err := a.Activate(context.Background(), agent.ActivateParams{
		Closure:        fs.Arg(0),
		ProfilePath:    fs.Arg(1),
		AutoRollback:   autoRollback,
		TempPath:       tempPath,
		ConfirmTimeout: confirmTimeout,
		MagicRollback:  magicRollback,
		DryActivate:    dryActivate,
		Boot:           boot,
		Test:           test,
	})
	return exitCodeFor(err)
}

func runWait(args []string) int {
	fs := flag.NewFlagSet("wait", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	var tempPath string
	var activationTimeout int
	var debugLogs bool
	var logDir string

	fs.StringVar(&tempPath, "temp-path", "/tmp", "")
	fs.IntVar(&activationTimeout, "activation-timeout", 240, "")
	fs.BoolVar(&debugLogs, "debug-logs", false, "")
	fs.StringVar(&logDir, "log-dir", "", "")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	log := rlog.New(rlog.Wait, verbosityFor(debugLogs), true)
	if logDir != "" {
		if err := log.MirrorToFile(logDir); err != nil {
			log.Error("mirror logs to %s: %v", logDir, err)
		}
	}
	a := &agent.Agent{Tool: agent.NixEnv{}, Log: log}

	err := a.Wait(context.Background(), agent.WaitParams{
		Closure:           fs.Arg(0),
		TempPath:          tempPath,
		ActivationTimeout: activationTimeout,
	})
	return exitCodeFor(err)
}

func runRevoke(args []string) int {
	fs := flag.NewFlagSet("revoke", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	var debugLogs bool
	var logDir string
	fs.BoolVar(&debugLogs, "debug-logs", false, "")
	fs.StringVar(&logDir, "log-dir", "", "")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return 2
	}

	log := rlog.New(rlog.Revoke, verbosityFor(debugLogs), true)
	if logDir != "" {
		if err := log.MirrorToFile(logDir); err != nil {
			log.Error("mirror logs to %s: %v", logDir, err)
		}
	}
	a := &agent.Agent{Tool: agent.NixEnv{}, Log: log}

	err := a.Revoke(context.Background(), fs.Arg(0))
	return exitCodeFor(err)
}

func verbosityFor(debug bool) rlog.Verbosity {
	if debug {
		return rlog.VerbosityDebug
	}
	return rlog.VerbosityStandard
}

func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var taxErr *errtax.Error
	if errors.As(err, &taxErr) && taxErr.ExitCode != nil {
		return *taxErr.ExitCode
	}
	return 1
}
