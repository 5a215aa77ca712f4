// Package coordinator implements the controller-side half of the
// magic-rollback protocol: the per-unit activate/wait race, the
// confirmation command, and the revocation policy. Grounded on
// original_source/src/deploy.rs's deploy_profile (the tokio::select!
// race) and revoke(), reworked onto golang.org/x/sync/errgroup per
// spec.md §5's "two cooperating tasks with shared cancellation."
package coordinator

import (
	"context"

	"golang.org/x/sync/errgroup"

	"rollout/m/v2/internal/errtax"
	"rollout/m/v2/internal/rlog"
	"rollout/m/v2/internal/sshcmd"
)

// RaceParams bundles what the race needs about one unit: the two
// carriers (separate SSH connections, per spec.md §4.4) and the three
// remote command strings.
type RaceParams struct {
	ActivateCarrier *sshcmd.Carrier
	WaitCarrier     *sshcmd.Carrier // nil when ShouldWait is false
	ConfirmCarrier  *sshcmd.Carrier // used only if wait wins

	ActivateCmd string
	WaitCmd     string
	ConfirmCmd  string

	// ShouldWait is false for boot-only deploys and for units with
	// magic-rollback disabled, per spec.md §4.4 "Boot-only mode".
	ShouldWait bool
}

// Race runs the activate/wait race for one unit and reports whether the
// unit succeeded, per spec.md §4.4 step 4. It never returns until both
// SSH sessions it started have been awaited to completion or explicitly
// cancelled — no orphaned SSH processes survive a call to Race.
func Race(ctx context.Context, log *rlog.Logger, p RaceParams) error {
	if !p.ShouldWait {
		res, err := p.ActivateCarrier.Run(ctx, p.ActivateCmd)
		if err != nil {
			return errtax.New(errtax.SSH, errtax.KindSSHActivate, err)
		}
		if res.ExitCode != 0 {
			return errtax.NewExit(errtax.SSH, errtax.KindSSHActivateExit, res.ExitCode)
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	waitCtx, cancelWait := context.WithCancel(gctx)
	defer cancelWait()

	var activateRes, waitRes sshcmd.Result
	var activateErr, waitErr error
	activateDone := make(chan struct{})
	waitDone := make(chan struct{})

	g.Go(func() error {
		defer close(activateDone)
		activateRes, activateErr = p.ActivateCarrier.Run(gctx, p.ActivateCmd)
		return nil
	})
	g.Go(func() error {
		defer close(waitDone)
		waitRes, waitErr = p.WaitCarrier.Run(waitCtx, p.WaitCmd)
		return nil
	})

	select {
	case <-waitDone:
		if waitErr != nil {
			cancelWait()
			<-activateDone
			return errtax.New(errtax.SSH, errtax.KindSSHWait, waitErr)
		}
		if waitRes.ExitCode != 0 {
			cancelWait()
			<-activateDone
			return errtax.NewExit(errtax.SSH, errtax.KindSSHWaitExit, waitRes.ExitCode)
		}

		log.Info("wait observed the sentinel, confirming activation")
		confirmRes, err := p.ConfirmCarrier.Run(ctx, p.ConfirmCmd)
		if err != nil {
			<-activateDone
			return errtax.New(errtax.SSH, errtax.KindSSHConfirm, err)
		}
		if confirmRes.ExitCode != 0 {
			<-activateDone
			return errtax.NewExit(errtax.SSH, errtax.KindSSHConfirmExit, confirmRes.ExitCode)
		}

		<-activateDone
		if activateErr != nil {
			return errtax.New(errtax.SSH, errtax.KindSSHActivate, activateErr)
		}
		if activateRes.ExitCode != 0 {
			return errtax.NewExit(errtax.SSH, errtax.KindSSHActivateExit, activateRes.ExitCode)
		}
		log.Info("deployment confirmed")
		return nil

	case <-activateDone:
		if activateErr != nil {
			cancelWait()
			<-waitDone
			return errtax.New(errtax.SSH, errtax.KindSSHActivate, activateErr)
		}
		if activateRes.ExitCode != 0 {
			cancelWait()
			<-waitDone
			return errtax.NewExit(errtax.SSH, errtax.KindSSHActivateExit, activateRes.ExitCode)
		}
		// activate exited zero while wait is still running: the agent
		// returns before arming the watchdog in dry-activate mode, and
		// otherwise only after it has observed the sentinel's removal.
		// Either way wait's outcome no longer changes the verdict; cancel
		// it and await it for cleanliness.
		cancelWait()
		<-waitDone
		_ = g.Wait()
		return nil
	}
}
