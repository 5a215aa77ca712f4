package evaluator

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"rollout/m/v2/internal/errtax"
)

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write script: %v", err)
	}
	return path
}

func requireSh(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("/bin/sh"); err != nil {
		t.Skip("/bin/sh not available")
	}
}

func TestEvaluateDecodesRootJSON(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "evaluator", `cat <<'EOF'
{"nodes":{"web1":{"hostname":"web1.example.com","profiles":{"system":{}}}}}
EOF
`)

	root, err := Evaluate(context.Background(), script)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node, ok := root.Nodes["web1"]
	if !ok {
		t.Fatalf("expected node web1 in decoded root")
	}
	if node.Hostname == nil || *node.Hostname != "web1.example.com" {
		t.Fatalf("expected hostname to decode, got %+v", node.Hostname)
	}
}

func TestEvaluateNonZeroExit(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "evaluator", "exit 3\n")

	_, err := Evaluate(context.Background(), script)
	if err == nil {
		t.Fatalf("expected error")
	}
	var taxErr *errtax.Error
	if !errors.As(err, &taxErr) {
		t.Fatalf("expected errtax.Error, got %T", err)
	}
	if taxErr.Kind != errtax.KindEvaluatorExit {
		t.Fatalf("expected KindEvaluatorExit, got %s", taxErr.Kind)
	}
}

func TestEvaluateInvalidJSON(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	script := writeScript(t, dir, "evaluator", "echo 'not json'\n")

	_, err := Evaluate(context.Background(), script)
	if err == nil {
		t.Fatalf("expected error")
	}
	var taxErr *errtax.Error
	if !errors.As(err, &taxErr) || taxErr.Kind != errtax.KindEvaluatorJSON {
		t.Fatalf("expected KindEvaluatorJson, got %v", err)
	}
}

func TestCheckDeploymentMissingIsNotError(t *testing.T) {
	dir := t.TempDir() // no "checks" file in dir
	if err := CheckDeployment(context.Background(), dir); err != nil {
		t.Fatalf("missing checks program should not be an error, got %v", err)
	}
}

func TestCheckDeploymentNonZeroExit(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	writeScript(t, dir, "checks", "exit 1\n")

	err := CheckDeployment(context.Background(), dir)
	var taxErr *errtax.Error
	if !errors.As(err, &taxErr) || taxErr.Kind != errtax.KindChecksExit {
		t.Fatalf("expected KindChecksExit, got %v", err)
	}
}

func TestCheckDeploymentSuccess(t *testing.T) {
	requireSh(t)
	dir := t.TempDir()
	writeScript(t, dir, "checks", "exit 0\n")

	if err := CheckDeployment(context.Background(), dir); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestHeadRevisionNonGitPathIsNotError(t *testing.T) {
	dir := t.TempDir()
	hash, err := HeadRevision(dir)
	if err != nil {
		t.Fatalf("expected no error for non-git path, got %v", err)
	}
	if hash != "" {
		t.Fatalf("expected empty hash for non-git path, got %q", hash)
	}
}
