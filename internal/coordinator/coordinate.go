package coordinator

import (
	"context"
	"fmt"
	"io"

	"rollout/m/v2/internal/rlog"
	"rollout/m/v2/internal/sentinel"
	"rollout/m/v2/internal/sshcmd"
	"rollout/m/v2/internal/target"
)

// Pusher is the external collaborator that ensures a unit's closure and
// agent binary exist on the target (internal/push), per spec.md §4.4
// step 1: "Build and push... on error, report and stop; no prior units
// are revoked, because push touches only the remote store."
type Pusher interface {
	Push(ctx context.Context, u target.Unit, closure string) error
}

// Dialer opens the SSH connections a unit's deployment needs. Coordinate
// calls it once per role (activate/wait/confirm/revoke) so each runs over
// its own connection, per spec.md §4.4.
type Dialer func(u target.Unit) (*sshcmd.Carrier, error)

// Flags holds the command-line verbs from spec.md §4.1's Flags value
// that affect the coordinator's behaviour (as opposed to per-unit
// settings, which live on target.Unit.Settings).
type Flags struct {
	Interactive       bool
	RollbackSucceeded bool // default true
	DryActivate       bool
	Boot              bool
	Test              bool
	DebugLogs         bool
	LogDir            string
}

// Coordinate runs spec.md §4.4's deployment loop over units in order,
// stopping at the first unit failure and revoking earlier successes per
// §4.5 — it never proceeds to remaining units after a failure (see
// spec.md §8 scenario S4).
func Coordinate(ctx context.Context, log *rlog.Logger, units []target.Unit, closures map[string]string, flags Flags, pusher Pusher, dial Dialer, stdin io.Reader, stdout io.Writer) (*Report, error) {
	report := &Report{}

	if flags.Interactive && len(units) > 0 {
		fmt.Fprint(stdout, PreviewTable(units))
		ok, err := Confirm(stdin, stdout)
		if err != nil {
			return report, fmt.Errorf("confirmation prompt: %w", err)
		}
		if !ok {
			log.Info("deployment aborted by operator")
			return report, nil
		}
	}

	var succeeded []RevokeTarget

	for _, u := range units {
		label := fmt.Sprintf("%s/%s", u.NodeName, u.ProfileName)
		closure := closures[label]

		if err := pusher.Push(ctx, u, closure); err != nil {
			report.Record(label, OutcomeFailed, fmt.Sprintf("push: %v", err))
			return report, fmt.Errorf("push %s: %w", label, err)
		}

		if err := runUnit(ctx, log, u, closure, flags, dial); err != nil {
			report.Record(label, OutcomeFailed, err.Error())

			revokeErr := Revoke(ctx, log, flags.RollbackSucceeded, flags.DryActivate, succeeded)
			if flags.RollbackSucceeded && !flags.DryActivate {
				for _, rt := range succeeded {
					if !rt.AutoRollback {
						continue
					}
					for i := range report.Results {
						if report.Results[i].Label == rt.Label && report.Results[i].Outcome == OutcomeSuccess {
							report.Results[i].Outcome = OutcomeRevoked
						}
					}
				}
			}
			if revokeErr != nil {
				return report, fmt.Errorf("unit %s failed (%w); revocation also failed: %v", label, err, revokeErr)
			}
			return report, fmt.Errorf("unit %s failed: %w", label, err)
		}

		report.Record(label, OutcomeSuccess, "")

		revokeCarrier, derr := dial(u)
		if derr != nil {
			return report, fmt.Errorf("dial for later revocation of %s: %w", label, derr)
		}
		succeeded = append(succeeded, RevokeTarget{
			Label:        label,
			AutoRollback: u.Settings.AutoRollbackOrDefault(),
			Carrier:      revokeCarrier,
			RevokeCmd: sshcmd.BuildRevoke(sshcmd.Params{
				Closure:     closure,
				ProfilePath: u.ProfilePath,
				SudoPrefix:  u.SudoPrefix,
				DebugLogs:   flags.DebugLogs,
				LogDir:      flags.LogDir,
			}),
		})
	}

	return report, nil
}

func runUnit(ctx context.Context, log *rlog.Logger, u target.Unit, closure string, flags Flags, dial Dialer) error {
	params := sshcmd.Params{
		Closure:        closure,
		ProfilePath:    u.ProfilePath,
		SudoPrefix:     u.SudoPrefix,
		TempPath:       u.Settings.TempPathOrDefault(),
		ConfirmTimeout: u.Settings.ConfirmTimeoutOrDefault(),
		MagicRollback:  u.Settings.MagicRollbackOrDefault(),
		AutoRollback:   u.Settings.AutoRollbackOrDefault(),
		DryActivate:    flags.DryActivate,
		Boot:           flags.Boot,
		Test:           flags.Test,
		DebugLogs:      flags.DebugLogs,
		LogDir:         flags.LogDir,
	}

	activateCarrier, err := dial(u)
	if err != nil {
		return fmt.Errorf("dial for activate: %w", err)
	}
	defer activateCarrier.Close()

	shouldWait := params.MagicRollback && !flags.Boot

	race := RaceParams{
		ActivateCarrier: activateCarrier,
		ActivateCmd:     sshcmd.BuildActivate(params),
		ShouldWait:      shouldWait,
	}

	if shouldWait {
		waitCarrier, err := dial(u)
		if err != nil {
			return fmt.Errorf("dial for wait: %w", err)
		}
		defer waitCarrier.Close()

		confirmCarrier, err := dial(u)
		if err != nil {
			return fmt.Errorf("dial for confirm: %w", err)
		}
		defer confirmCarrier.Close()

		race.WaitCarrier = waitCarrier
		race.WaitCmd = sshcmd.BuildWait(params)
		race.ConfirmCarrier = confirmCarrier
		race.ConfirmCmd = sshcmd.BuildConfirm(u.SudoPrefix, sentinel.Path(params.TempPath, closure))
	}

	return Race(ctx, log, race)
}
