package sentinel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestPathStripsStorePrefixAndTakesHashOnly(t *testing.T) {
	got := Path("/tmp", "/nix/store/abc123xyz-my-closure")
	want := "/tmp/deploy-rs-canary-abc123xyz"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestPathWithoutDashUsesWholeHash(t *testing.T) {
	got := Path("/tmp", "/nix/store/abc123xyz")
	want := "/tmp/deploy-rs-canary-abc123xyz"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestCreateMakesParentDirs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deploy-rs-canary-x")
	if err := Create(path); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected canary file to exist: %v", err)
	}
}

func TestAwaitRemovalReturnsOnDelete(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy-rs-canary-x")
	if err := Create(path); err != nil {
		t.Fatalf("create: %v", err)
	}

	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() { done <- AwaitRemoval(ctx, path) }()

	time.Sleep(100 * time.Millisecond)
	if err := os.Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestAwaitRemovalTimesOutViaContext(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy-rs-canary-x")
	if err := Create(path); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	err := AwaitRemoval(ctx, path)
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestAwaitCreationRaceSafeWhenAlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy-rs-canary-x")
	if err := Create(path); err != nil {
		t.Fatalf("create: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := AwaitCreation(ctx, dir, path); err != nil {
		t.Fatalf("expected immediate success, got %v", err)
	}
}

func TestAwaitCreationReturnsOnMatchingCreate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy-rs-canary-x")

	done := make(chan error, 1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	go func() { done <- AwaitCreation(ctx, dir, path) }()

	time.Sleep(100 * time.Millisecond)
	if err := Create(path); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestAwaitCreationIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "deploy-rs-canary-x")

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- AwaitCreation(ctx, dir, path) }()

	time.Sleep(50 * time.Millisecond)
	if err := Create(filepath.Join(dir, "unrelated")); err != nil {
		t.Fatalf("create unrelated: %v", err)
	}

	err := <-done
	if err != context.DeadlineExceeded {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}
