// Command deploy is the controller binary: it resolves targets, pushes
// each unit's closure and agent, races activation against the magic
// rollback watchdog, and revokes on failure. Grounded on the teacher's
// main.go (top-level flag.FlagSet, a single const usage string, argument
// variables bound with both short and long names).
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"rollout/m/v2/internal/coordinator"
	"rollout/m/v2/internal/errtax"
	"rollout/m/v2/internal/evaluator"
	"rollout/m/v2/internal/push"
	"rollout/m/v2/internal/rlog"
	"rollout/m/v2/internal/settings"
	"rollout/m/v2/internal/sshcmd"
	"rollout/m/v2/internal/target"
)

const progVersion = "v0.1.0"

const usage = `
deploy - remote deployment controller implementing the magic-rollback
activation protocol

Usage:
    deploy [OPTIONS] <target> [<target> ...]

  A target has the shape repo[#node[.profile]][@host]; omitting node deploys
  every profile of every node in profiles-order, omitting both deploys
  everything. @host overrides the node's declared hostname and is only
  valid when a node is named.

  Options:
    -i, --interactive              Preview units and prompt for confirmation
        --check-sigs               Hash-check a closure already on the target
                                    before skipping its copy
        --dry-activate             Render the activation without committing it
        --rollback-succeeded       Revoke earlier-succeeded units on failure
                                    [default: true]
        --skip-checks              Skip the repo's pre-deploy checks program
        --hostname <host>          Override every unit's resolved hostname
        --ssh-user <user>          Override the SSH login user
        --profile-user <user>      Override the profile's owning user
        --ssh-opts <opt>           Extra SSH option, repeatable
        --no-auto-rollback         Disable this run's auto-rollback default
        --confirm-timeout <secs>   Override the confirm-timeout
        --temp-path <path>         Override the remote scratch directory
        --no-magic-rollback        Disable the magic-rollback protocol
        --boot                    Activate at next boot instead of immediately
        --test                    Activate without making it the default profile
        --identity-file <path>     SSH private key to authenticate with
        --known-hosts <path>       known_hosts file [default: ~/.ssh/known_hosts]
        --port <n>                 SSH port [default: 22]
        --agent-binary <path>      Path to the activate-rs binary to push
                                    [default: activate-rs next to this binary]
        --log-dir <path>           Remote agent log directory
    -v, --verbose                  Debug-level logging
    -h, --help                     Show this help menu
    -V, --version                  Show version
`

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	fs := flag.NewFlagSet("deploy", flag.ContinueOnError)
	fs.Usage = func() { fmt.Fprint(os.Stderr, usage) }

	var interactive, checkSigs, dryActivate, skipChecks, noAutoRollback, noMagicRollback bool
	var boot, test, verbose, showVersion bool
	rollbackSucceeded := true
	var hostname, sshUser, profileUser, tempPath, identityFile, knownHosts, logDir, agentBinary string
	var confirmTimeout, port int
	var sshOpts multiFlag

	fs.BoolVar(&interactive, "i", false, "")
	fs.BoolVar(&interactive, "interactive", false, "")
	fs.BoolVar(&checkSigs, "check-sigs", false, "")
	fs.BoolVar(&dryActivate, "dry-activate", false, "")
	fs.BoolVar(&rollbackSucceeded, "rollback-succeeded", true, "")
	fs.BoolVar(&skipChecks, "skip-checks", false, "")
	fs.StringVar(&hostname, "hostname", "", "")
	fs.StringVar(&sshUser, "ssh-user", "", "")
	fs.StringVar(&profileUser, "profile-user", "", "")
	fs.Var(&sshOpts, "ssh-opts", "")
	fs.BoolVar(&noAutoRollback, "no-auto-rollback", false, "")
	fs.IntVar(&confirmTimeout, "confirm-timeout", 0, "")
	fs.StringVar(&tempPath, "temp-path", "", "")
	fs.BoolVar(&noMagicRollback, "no-magic-rollback", false, "")
	fs.BoolVar(&boot, "boot", false, "")
	fs.BoolVar(&test, "test", false, "")
	fs.StringVar(&identityFile, "identity-file", "", "")
	fs.StringVar(&knownHosts, "known-hosts", "", "")
	fs.IntVar(&port, "port", 22, "")
	fs.StringVar(&agentBinary, "agent-binary", "", "")
	fs.StringVar(&logDir, "log-dir", "", "")
	fs.BoolVar(&verbose, "v", false, "")
	fs.BoolVar(&verbose, "verbose", false, "")
	fs.BoolVar(&showVersion, "V", false, "")
	fs.BoolVar(&showVersion, "version", false, "")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if showVersion {
		fmt.Println("deploy " + progVersion)
		return 0
	}
	targetArgs := fs.Args()
	if len(targetArgs) == 0 {
		fs.Usage()
		return 2
	}

	verbosity := rlog.VerbosityStandard
	if verbose {
		verbosity = rlog.VerbosityDebug
	}
	log := rlog.New(rlog.Deploy, verbosity, false)
	if logDir != "" {
		if err := log.MirrorToFile(logDir); err != nil {
			log.Error("mirror logs to %s: %v", logDir, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		log.Warn("interrupted, cancelling in-flight operations")
		cancel()
	}()

	cmdSettings := settings.GenericSettings{SSHOpts: sshOpts}
	if sshUser != "" {
		cmdSettings.SSHUser = &sshUser
	}
	if profileUser != "" {
		cmdSettings.User = &profileUser
	}
	if noAutoRollback {
		f := false
		cmdSettings.AutoRollback = &f
	}
	if confirmTimeout != 0 {
		cmdSettings.ConfirmTimeout = &confirmTimeout
	}
	if tempPath != "" {
		cmdSettings.TempPath = &tempPath
	}
	if noMagicRollback {
		f := false
		cmdSettings.MagicRollback = &f
	}

	if agentBinary == "" {
		self, err := os.Executable()
		if err != nil {
			log.Error("locate own binary: %v", err)
			return 1
		}
		agentBinary = filepath.Join(filepath.Dir(self), "activate-rs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		log.Error("determine home directory: %v", err)
		return 1
	}
	local, err := settings.LoadLocalConfig(home + "/.ssh_deployrc")
	if err != nil {
		log.Error("load local config: %v", err)
		return 1
	}

	var units []target.Unit
	rootCache := map[string]settings.Root{}
	closures := map[string]string{}

	for _, raw := range targetArgs {
		t, err := target.Parse(raw)
		if err != nil {
			log.Error("parse target %q: %v", raw, err)
			return exitCodeFor(err)
		}

		root, ok := rootCache[t.Repo]
		if !ok {
			if !skipChecks {
				if err := evaluator.CheckDeployment(ctx, t.Repo); err != nil {
					log.Error("pre-deploy checks failed for %s: %v", t.Repo, err)
					return exitCodeFor(err)
				}
			}
			root, err = evaluator.Evaluate(ctx, t.Repo)
			if err != nil {
				log.Error("evaluate %s: %v", t.Repo, err)
				return exitCodeFor(err)
			}
			if rev, err := evaluator.HeadRevision(t.Repo); err == nil && rev != "" {
				log.Info("deploying %s at revision %s", t.Repo, rev)
			}
			rootCache[t.Repo] = root
		}

		nodeOrder := sortedNodeNames(root)
		resolved, err := target.Expand(t, root, nodeOrder, local, cmdSettings, hostname)
		if err != nil {
			log.Error("resolve target %q: %v", raw, err)
			return exitCodeFor(err)
		}
		units = append(units, resolved...)

		for _, u := range resolved {
			closures[u.NodeName+"/"+u.ProfileName] = root.Nodes[u.NodeName].Profiles[u.ProfileName].Path
		}
	}

	dial := func(u target.Unit) (*sshcmd.Carrier, error) {
		client, err := sshcmd.Dial(sshcmd.DialOptions{
			User:           u.SSHUser,
			Hostname:       u.Hostname,
			Port:           port,
			SSHOpts:        u.Settings.SSHOpts,
			IdentityFile:   identityFile,
			KnownHostsFile: knownHosts,
		})
		if err != nil {
			return nil, err
		}
		return sshcmd.NewCarrier(client), nil
	}

	pusher := &push.Client{
		Log:             log,
		Dial:            dial,
		AgentBinaryPath: agentBinary,
		SSHOpts:         sshOpts,
		CheckSigs:       checkSigs,
	}

	flags := coordinator.Flags{
		Interactive:       interactive,
		RollbackSucceeded: rollbackSucceeded,
		DryActivate:       dryActivate,
		Boot:              boot,
		Test:              test,
		DebugLogs:         verbose,
		LogDir:            logDir,
	}

	report, err := coordinator.Coordinate(ctx, log, units, closures, flags, pusher, dial, os.Stdin, os.Stdout)
	if report != nil {
		fmt.Println(report.Summary())
		if verbose {
			if j, jerr := report.JSON(); jerr == nil {
				fmt.Println(j)
			}
		}
	}
	if err != nil {
		log.Error("%v", err)
		return exitCodeFor(err)
	}
	if report != nil && report.Failed() {
		return 1
	}
	return 0
}

func sortedNodeNames(root settings.Root) []string {
	names := make([]string, 0, len(root.Nodes))
	for name := range root.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func exitCodeFor(err error) int {
	var taxErr *errtax.Error
	if errors.As(err, &taxErr) && taxErr.ExitCode != nil {
		return *taxErr.ExitCode
	}
	return 1
}

// multiFlag implements flag.Value for a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string {
	if m == nil {
		return ""
	}
	return fmt.Sprint([]string(*m))
}

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
