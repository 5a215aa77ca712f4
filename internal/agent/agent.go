// Package agent implements the target-side half of the magic-rollback
// protocol: activate/wait/revoke, the rollback sequence they all share,
// and the activation script contract. Ported from
// original_source/src/bin/activate.rs's activate/deactivate/wait/revoke.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"rollout/m/v2/internal/errtax"
	"rollout/m/v2/internal/rlog"
	"rollout/m/v2/internal/sentinel"
)

// Agent runs the agent's three subcommands against a GenerationTool and a
// logger. Exported for cmd/activate-rs to construct with the real
// NixEnv tool, and for tests to construct with a fake.
type Agent struct {
	Tool GenerationTool
	Log  *rlog.Logger
}

// ActivateParams is everything the `activate` subcommand needs, mirroring
// original_source/src/bin/activate.rs's activate() parameter list.
type ActivateParams struct {
	Closure        string
	ProfilePath    string
	AutoRollback   bool
	TempPath       string
	ConfirmTimeout int
	MagicRollback  bool
	DryActivate    bool
	Boot           bool
	Test           bool
}

// Rollback runs the four-step rollback sequence from spec.md §4.3,
// shared by auto-rollback, magic-rollback timeout, and explicit revoke.
func (a *Agent) Rollback(ctx context.Context, profilePath string) error {
	a.Log.Warn("de-activating due to error")

	if err := a.Tool.Rollback(ctx, profilePath); err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return errtax.NewExit(errtax.Agent, errtax.KindRollbackExit, ee.ExitCode())
		}
		return errtax.New(errtax.Agent, errtax.KindRollbackError, err)
	}

	a.Log.Debug("listing generations")
	listing, err := a.Tool.ListGenerations(ctx, profilePath)
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return errtax.NewExit(errtax.Agent, errtax.KindListGenExit, ee.ExitCode())
		}
		return errtax.New(errtax.Agent, errtax.KindListGenError, err)
	}

	generationID, err := LastGenerationID(listing)
	if err != nil {
		return errtax.New(errtax.Agent, errtax.KindDecodeListGenUTF8, err)
	}

	a.Log.Warn("removing generation by id %s", generationID)
	if err := a.Tool.DeleteGeneration(ctx, profilePath, generationID); err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return errtax.NewExit(errtax.Agent, errtax.KindDeleteGenExit, ee.ExitCode())
		}
		return errtax.New(errtax.Agent, errtax.KindDeleteGenError, err)
	}

	a.Log.Info("re-activating the last generation")
	if err := runActivationScript(ctx, profilePath, profilePath, false, false, false); err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			return errtax.NewExit(errtax.Agent, errtax.KindReactivateExit, ee.ExitCode())
		}
		return errtax.New(errtax.Agent, errtax.KindReactivateError, err)
	}

	return nil
}

// runActivationScript execs `{dir}/deploy-rs-activate` with the env
// contract from spec.md §6, working directory set to dir.
func runActivationScript(ctx context.Context, dir, profile string, dryActivate, boot, test bool) error {
	cmd := exec.CommandContext(ctx, filepath.Join(dir, "deploy-rs-activate"))
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"PROFILE="+profile,
		"DRY_ACTIVATE="+boolEnv(dryActivate),
		"BOOT="+boolEnv(boot),
		"TEST="+boolEnv(test),
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

func boolEnv(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Activate runs the `activate` subcommand, per spec.md §4.3.
func (a *Agent) Activate(ctx context.Context, p ActivateParams) error {
	if !p.DryActivate {
		a.Log.Info("activating profile")
		if err := a.Tool.SetProfile(ctx, p.ProfilePath, p.Closure); err != nil {
			if ee, ok := err.(*exec.ExitError); ok {
				if p.AutoRollback {
					if rbErr := a.Rollback(ctx, p.ProfilePath); rbErr != nil {
						return rbErr
					}
				}
				return errtax.NewExit(errtax.Agent, errtax.KindSetProfileExit, ee.ExitCode())
			}
			return errtax.New(errtax.Agent, errtax.KindSetProfileError, err)
		}
	}

	a.Log.Debug("running activation script")

	activationLocation := p.ProfilePath
	if p.DryActivate {
		activationLocation = p.Closure
	}

	if err := runActivationScript(ctx, activationLocation, activationLocation, p.DryActivate, p.Boot, p.Test); err != nil {
		if !p.DryActivate && p.AutoRollback {
			if rbErr := a.Rollback(ctx, p.ProfilePath); rbErr != nil {
				return rbErr
			}
		}
		if ee, ok := err.(*exec.ExitError); ok {
			return errtax.NewExit(errtax.Agent, errtax.KindRunActivateExit, ee.ExitCode())
		}
		return errtax.New(errtax.Agent, errtax.KindRunActivateError, err)
	}

	if p.DryActivate {
		return nil
	}

	a.Log.Info("activation succeeded")

	if !p.MagicRollback || p.Boot {
		return nil
	}

	a.Log.Info("magic rollback is enabled, setting up confirmation hook")
	if err := a.confirmActivation(ctx, p); err != nil {
		if rbErr := a.Rollback(ctx, p.ProfilePath); rbErr != nil {
			return rbErr
		}
		return err
	}

	return nil
}

// confirmActivation implements spec.md §4.3 step 4: create the sentinel,
// arm the watcher, await removal within confirm-timeout.
func (a *Agent) confirmActivation(ctx context.Context, p ActivateParams) error {
	lockPath := sentinel.Path(p.TempPath, p.Closure)

	if err := sentinel.Create(lockPath); err != nil {
		return errtax.New(errtax.Agent, errtax.KindCreateConfirmFile, err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, secondsToDuration(p.ConfirmTimeout))
	defer cancel()

	err := sentinel.AwaitRemoval(timeoutCtx, lockPath)
	switch {
	case err == nil:
		return nil
	case timeoutCtx.Err() != nil && ctx.Err() == nil:
		return errtax.New(errtax.Agent, errtax.KindTimesUp, err)
	case errors.Is(err, sentinel.ErrNoConfirmation):
		return errtax.New(errtax.Agent, errtax.KindNoConfirmation, err)
	default:
		return errtax.New(errtax.Agent, errtax.KindWatch, err)
	}
}

// WaitParams is everything the `wait` subcommand needs.
type WaitParams struct {
	Closure           string
	TempPath          string
	ActivationTimeout int // seconds, 0 means spec.md's default of 240
}

// Wait runs the `wait` subcommand, per spec.md §4.3: block until the
// sentinel the activate side creates appears, or the timeout elapses.
func (a *Agent) Wait(ctx context.Context, p WaitParams) error {
	lockPath := sentinel.Path(p.TempPath, p.Closure)

	timeout := p.ActivationTimeout
	if timeout == 0 {
		timeout = 240
	}
	timeoutCtx, cancel := context.WithTimeout(ctx, secondsToDuration(timeout))
	defer cancel()

	err := sentinel.AwaitCreation(timeoutCtx, p.TempPath, lockPath)
	switch {
	case err == nil:
		a.Log.Info("found canary file, done waiting")
		return nil
	case timeoutCtx.Err() != nil && ctx.Err() == nil:
		return errtax.New(errtax.Agent, errtax.KindTimesUp, err)
	case errors.Is(err, sentinel.ErrNoConfirmation):
		return errtax.New(errtax.Agent, errtax.KindNoConfirmation, err)
	default:
		return errtax.New(errtax.Agent, errtax.KindWatch, err)
	}
}

// Revoke runs the `revoke` subcommand: just the rollback sequence.
func (a *Agent) Revoke(ctx context.Context, profilePath string) error {
	return a.Rollback(ctx, profilePath)
}

func secondsToDuration(s int) (d time.Duration) {
	return time.Duration(s) * time.Second
}
