// Package evaluator invokes the external evaluator program named in
// spec.md §6 "Controller → evaluator" and decodes its JSON response into
// internal/settings.Root, plus the supplemented pre-deploy checks hook
// and git-provenance lookup. Grounded on the teacher's pattern of
// shelling out to an external program and decoding its stdout
// (exception_handling.go's command-exec error wrapping) and on git.go
// for the go-git usage.
package evaluator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/go-git/go-git/v5"

	"rollout/m/v2/internal/errtax"
	"rollout/m/v2/internal/settings"
)

// Evaluate runs `{repo} eval` (the evaluator program the operator points
// this tool at) and decodes its stdout as a settings.Root, matching
// spec.md §6's "repo's build system ... returns a Root settings JSON
// document". Non-zero exit or invalid JSON are both Resolution-category
// failures, since an unevaluable repo can never produce deployable units.
func Evaluate(ctx context.Context, repo string) (settings.Root, error) {
	cmd := exec.CommandContext(ctx, repo, "eval")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return settings.Root{}, errtax.NewExit(errtax.Resolution, errtax.KindEvaluatorExit, exitErr.ExitCode())
		}
		return settings.Root{}, errtax.New(errtax.Resolution, errtax.KindEvaluatorExit, fmt.Errorf("run evaluator %s: %w (stderr: %s)", repo, err, stderr.String()))
	}

	var root settings.Root
	if err := json.Unmarshal(stdout.Bytes(), &root); err != nil {
		return settings.Root{}, errtax.New(errtax.Resolution, errtax.KindEvaluatorJSON, fmt.Errorf("decode evaluator output for %s: %w", repo, err))
	}
	return root, nil
}

// CheckDeployment runs `{repo}/checks` if present, per SPEC_FULL.md
// supplemented feature 4. A missing checks program is not an error; a
// non-zero exit from one that exists is. Skippable entirely by the
// caller honoring `--skip-checks` (that flag is read in cmd/deploy, not
// here — this function always runs when called).
func CheckDeployment(ctx context.Context, repo string) error {
	checksPath := repo + "/checks"
	cmd := exec.CommandContext(ctx, checksPath)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err == nil {
		return nil
	}
	if execErr, ok := err.(*exec.Error); ok || os.IsNotExist(err) {
		_ = execErr
		return nil // checks program does not exist: best-effort, not an error
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return errtax.NewExit(errtax.Resolution, errtax.KindChecksExit, exitErr.ExitCode())
	}
	return errtax.New(errtax.Resolution, errtax.KindChecksExit, fmt.Errorf("run checks for %s: %w (stderr: %s)", repo, err, stderr.String()))
}

// HeadRevision opens repo as a git working tree, if it is one, and
// returns its current HEAD commit hash for provenance logging only
// ("Deploying profile ... at revision ..."). A repo path that is not a
// git working tree is not an error: the empty string and a nil error are
// returned, since provenance logging is best-effort.
func HeadRevision(repo string) (string, error) {
	r, err := git.PlainOpen(repo)
	if err != nil {
		return "", nil
	}
	ref, err := r.Head()
	if err != nil {
		return "", nil
	}
	return ref.Hash().String(), nil
}
