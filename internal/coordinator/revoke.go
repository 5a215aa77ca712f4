package coordinator

import (
	"context"
	"fmt"

	"github.com/hashicorp/go-multierror"

	"rollout/m/v2/internal/errtax"
	"rollout/m/v2/internal/rlog"
	"rollout/m/v2/internal/sshcmd"
)

// RevokeTarget is one previously-succeeded unit, with what the
// revocation policy needs to decide and act: whether it opted in
// (AutoRollback), and a ready carrier plus command string to run the
// actual `revoke` invocation over SSH.
type RevokeTarget struct {
	Label        string // node/profile, for logging
	AutoRollback bool
	Carrier      *sshcmd.Carrier
	RevokeCmd    string
}

// Revoke implements spec.md §4.5: walk succeeded in order, revoking each
// unit whose AutoRollback opted in, never stopping at the first failure.
// A failure to revoke is logged and aggregated (not swallowed) via
// hashicorp/go-multierror, matching "logged and returned but does not
// stop later revocations."
func Revoke(ctx context.Context, log *rlog.Logger, rollbackSucceeded, dryActivate bool, succeeded []RevokeTarget) error {
	if dryActivate {
		log.Info("dry run, not rolling back")
		return nil
	}
	if !rollbackSucceeded {
		return nil
	}

	var result *multierror.Error
	for _, u := range succeeded {
		if !u.AutoRollback {
			continue
		}

		log.Warn("revoking %s", u.Label)
		res, err := u.Carrier.Run(ctx, u.RevokeCmd)
		if err != nil {
			log.Error("failed to revoke %s: %v", u.Label, err)
			result = multierror.Append(result, errtax.New(errtax.SSH, errtax.KindSSHRevoke, fmt.Errorf("%s: %w", u.Label, err)))
			continue
		}
		if res.ExitCode != 0 {
			log.Error("revoke of %s exited %d", u.Label, res.ExitCode)
			result = multierror.Append(result, errtax.NewExit(errtax.SSH, errtax.KindSSHRevokeExit, res.ExitCode))
			continue
		}
	}

	if result != nil {
		return result.ErrorOrNil()
	}
	return nil
}
