package agent

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// GenerationTool is the "host generation tool" contract from spec.md §6:
// set generation to closure, rollback, list generations, delete
// generations by identifier. Abstracted behind an interface so the
// profile manager is pluggable — the default implementation below shells
// out to `nix-env`, matching original_source/src/bin/activate.rs, but a
// test double can swap in a fake for the rollback-sequence tests.
type GenerationTool interface {
	SetProfile(ctx context.Context, profilePath, closure string) error
	Rollback(ctx context.Context, profilePath string) error
	ListGenerations(ctx context.Context, profilePath string) (string, error)
	DeleteGeneration(ctx context.Context, profilePath, generationID string) error
}

// NixEnv is the default GenerationTool, invoking `nix-env -p <profile> ...`
// exactly as original_source/src/bin/activate.rs's deactivate/activate do.
type NixEnv struct{}

func (NixEnv) SetProfile(ctx context.Context, profilePath, closure string) error {
	cmd := exec.CommandContext(ctx, "nix-env", "-p", profilePath, "--set", closure)
	if err := cmd.Run(); err != nil {
		return err
	}
	return nil
}

func (NixEnv) Rollback(ctx context.Context, profilePath string) error {
	cmd := exec.CommandContext(ctx, "nix-env", "-p", profilePath, "--rollback")
	return cmd.Run()
}

func (NixEnv) ListGenerations(ctx context.Context, profilePath string) (string, error) {
	cmd := exec.CommandContext(ctx, "nix-env", "-p", profilePath, "--list-generations")
	out, err := cmd.Output()
	if err != nil {
		return "", err
	}
	return string(out), nil
}

func (NixEnv) DeleteGeneration(ctx context.Context, profilePath, generationID string) error {
	cmd := exec.CommandContext(ctx, "nix-env", "-p", profilePath, "--delete-generations", generationID)
	return cmd.Run()
}

// LastGenerationID parses the `--list-generations` output as
// spec.md §4.3 step 2 prescribes: the last line's leading
// whitespace-separated token.
func LastGenerationID(listing string) (string, error) {
	scanner := bufio.NewScanner(strings.NewReader(listing))
	var lastLine string
	for scanner.Scan() {
		if line := scanner.Text(); strings.TrimSpace(line) != "" {
			lastLine = line
		}
	}
	if lastLine == "" {
		return "", fmt.Errorf("no generation found in listing")
	}
	fields := strings.Fields(lastLine)
	if len(fields) == 0 {
		return "", fmt.Errorf("could not parse generation id from line %q", lastLine)
	}
	return fields[0], nil
}
